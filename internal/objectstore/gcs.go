package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	pkgerrors "github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/googleapi"

	"example.com/backstage/services/provenance/config"
)

// GCSStore writes objects to a Google Cloud Storage bucket
type GCSStore struct {
	client        *storage.Client
	bucket        string
	publicBaseURL string
}

// NewGCSStore creates a GCS client using application default credentials
func NewGCSStore(ctx context.Context, cfg config.StorageConfig) (*GCSStore, error) {
	if cfg.Bucket == "" {
		return nil, pkgerrors.New("storage.bucket is required for gcs mode")
	}

	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to create storage client")
	}

	return &GCSStore{
		client:        client,
		bucket:        cfg.Bucket,
		publicBaseURL: strings.TrimRight(cfg.PublicBaseURL, "/"),
	}, nil
}

// Put uploads data unless an object of that name already exists. Names
// are content hashes, so an existing object already holds the same bytes.
func (s *GCSStore) Put(ctx context.Context, name, contentType string, data []byte) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	obj := s.client.Bucket(s.bucket).Object(name).If(storage.Conditions{DoesNotExist: true})
	w := obj.NewWriter(ctx)
	w.ContentType = contentType

	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("failed to write data to GCS: %w", err)
	}
	if err := w.Close(); err != nil {
		if !isPreconditionFailed(err) {
			return "", fmt.Errorf("failed to close GCS writer: %w", err)
		}
		log.Debug().Str("object", name).Msg("Object already stored")
	}

	return s.URL(name), nil
}

// URL is the public address of an object
func (s *GCSStore) URL(name string) string {
	return fmt.Sprintf("%s/%s/%s", s.publicBaseURL, s.bucket, name)
}

// Close closes the storage client
func (s *GCSStore) Close() error {
	return s.client.Close()
}

func isPreconditionFailed(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusPreconditionFailed
}
