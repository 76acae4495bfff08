package objectstore

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/pkg/errors"

	"example.com/backstage/services/provenance/config"
)

// PinataStore pins objects to IPFS through the Pinata v3 upload API
type PinataStore struct {
	httpClient *http.Client
	uploadURL  string
	gatewayURL string
	jwt        string
}

// NewPinataStore creates a Pinata store
func NewPinataStore(cfg config.StorageConfig) (*PinataStore, error) {
	if cfg.PinataJWT == "" {
		return nil, errors.New("storage.pinata_jwt is required for pinata mode")
	}

	return &PinataStore{
		httpClient: &http.Client{Timeout: 2 * time.Minute},
		uploadURL:  cfg.PinataURL,
		gatewayURL: strings.TrimRight(cfg.GatewayURL, "/"),
		jwt:        cfg.PinataJWT,
	}, nil
}

// Close releases idle upload connections
func (s *PinataStore) Close() error {
	s.httpClient.CloseIdleConnections()
	return nil
}

type pinataResponse struct {
	Data struct {
		ID  string `json:"id"`
		CID string `json:"cid"`
	} `json:"data"`
}

// Put uploads data as a public file and returns its gateway URL
func (s *PinataStore) Put(ctx context.Context, name, contentType string, data []byte) (string, error) {
	body, formType, err := pinataForm(name, contentType, data)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.uploadURL, body)
	if err != nil {
		return "", errors.Wrap(err, "failed to build Pinata request")
	}
	req.Header.Set("Authorization", "Bearer "+s.jwt)
	req.Header.Set("Content-Type", formType)

	res, err := s.httpClient.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "failed to upload to Pinata")
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 1024))
		return "", errors.Errorf("Pinata upload failed: %d %s", res.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out pinataResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return "", errors.Wrap(err, "failed to parse Pinata response")
	}
	if out.Data.CID == "" {
		return "", errors.New("no CID returned from Pinata")
	}

	return s.gatewayURL + "/" + out.Data.CID, nil
}

func pinataForm(name, contentType string, data []byte) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="file"; filename="`+name+`"`)
	header.Set("Content-Type", contentType)
	part, err := w.CreatePart(header)
	if err != nil {
		return nil, "", errors.Wrap(err, "failed to create form file")
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", errors.Wrap(err, "failed to write form file")
	}
	if err := w.WriteField("network", "public"); err != nil {
		return nil, "", errors.Wrap(err, "failed to write form field")
	}
	if err := w.WriteField("name", name); err != nil {
		return nil, "", errors.Wrap(err, "failed to write form field")
	}
	if err := w.Close(); err != nil {
		return nil, "", errors.Wrap(err, "failed to close form")
	}
	return &buf, w.FormDataContentType(), nil
}
