// Package analyzer is the client of the external image integrity service.
// The service compares a baseline image with a current one and returns the
// differences it found plus an aggregate trust score (TIS) from 0 to 100.
package analyzer

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"

	"example.com/backstage/services/provenance/config"
	"example.com/backstage/services/provenance/internal/metrics"
)

// DefaultScore is assumed when the service omits aggregate_tis
const DefaultScore = 100.0

// MaxImageBytes bounds an image fetched for analysis
const MaxImageBytes = 10 << 20

var (
	// ErrNotConfigured is returned when no analyzer URL is set
	ErrNotConfigured = errors.New("analyzer not configured")

	// ErrUnresolvableImage is returned for image references that cannot be fetched
	ErrUnresolvableImage = errors.New("image cannot be resolved")
)

// Risk is the classification of a trust score
type Risk string

const (
	RiskSafe     Risk = "SAFE"
	RiskModerate Risk = "MODERATE"
	RiskHigh     Risk = "HIGH_RISK"
)

// Score thresholds
const (
	SafeScore     = 80.0
	ModerateScore = 40.0
)

// Classify maps a trust score to a risk level
func Classify(score float64) Risk {
	switch {
	case score >= SafeScore:
		return RiskSafe
	case score >= ModerateScore:
		return RiskModerate
	default:
		return RiskHigh
	}
}

// Difference is one region the service flagged
type Difference struct {
	Region          string  `json:"region,omitempty"`
	Type            string  `json:"type,omitempty"`
	Description     string  `json:"description,omitempty"`
	Severity        string  `json:"severity,omitempty"`
	Confidence      float64 `json:"confidence,omitempty"`
	SuggestedAction string  `json:"suggested_action,omitempty"`
	TISDelta        float64 `json:"tis_delta,omitempty"`
}

// Analysis is the service verdict for one image pair
type Analysis struct {
	Differences       []Difference `json:"differences"`
	AggregateTIS      float64      `json:"aggregate_tis"`
	OverallAssessment string       `json:"overall_assessment,omitempty"`
	ConfidenceOverall float64      `json:"confidence_overall,omitempty"`
	Notes             string       `json:"notes,omitempty"`
	Risk              Risk         `json:"risk"`
}

type analyzeRequest struct {
	Baseline string `json:"baseline_b64"`
	Current  string `json:"current_b64"`
}

type analyzeResponse struct {
	Differences       []Difference `json:"differences"`
	AggregateTIS      *float64     `json:"aggregate_tis"`
	OverallAssessment string       `json:"overall_assessment"`
	ConfidenceOverall float64      `json:"confidence_overall"`
	Notes             string       `json:"notes"`
}

// Client calls the analyzer over HTTP
type Client struct {
	httpClient *http.Client
	url        string
	gatewayURL string
}

// NewClient creates a new analyzer client
func NewClient(cfg config.AnalyzerConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		url:        strings.TrimRight(cfg.URL, "/"),
		gatewayURL: strings.TrimRight(cfg.GatewayURL, "/"),
	}
}

// Analyze compares current against baseline. Each is an http(s) or ipfs
// URI, fetched and sent as a base64 data URL, or a data URL sent as is.
func (c *Client) Analyze(ctx context.Context, baseline, current string) (Analysis, error) {
	if c.url == "" {
		return Analysis{}, ErrNotConfigured
	}

	start := time.Now()
	analysis, err := c.analyze(ctx, baseline, current)
	metrics.GetCollector().RecordOperation(metrics.OperationAnalyze, err == nil, time.Since(start))
	return analysis, err
}

func (c *Client) analyze(ctx context.Context, baseline, current string) (Analysis, error) {
	baselineData, err := c.dataURL(ctx, baseline)
	if err != nil {
		return Analysis{}, errors.Wrap(err, "baseline")
	}
	currentData, err := c.dataURL(ctx, current)
	if err != nil {
		return Analysis{}, errors.Wrap(err, "current")
	}

	body, err := json.Marshal(analyzeRequest{Baseline: baselineData, Current: currentData})
	if err != nil {
		return Analysis{}, errors.Wrap(err, "failed to marshal analyze request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return Analysis{}, errors.Wrap(err, "failed to build analyze request")
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return Analysis{}, errors.Wrap(err, "failed to call analyzer")
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 1024))
		return Analysis{}, errors.Errorf("analyzer returned %d: %s", res.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out analyzeResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return Analysis{}, errors.Wrap(err, "failed to parse analyzer response")
	}

	score := DefaultScore
	if out.AggregateTIS != nil {
		score = *out.AggregateTIS
	}
	if out.Differences == nil {
		out.Differences = []Difference{}
	}

	return Analysis{
		Differences:       out.Differences,
		AggregateTIS:      score,
		OverallAssessment: out.OverallAssessment,
		ConfidenceOverall: out.ConfidenceOverall,
		Notes:             out.Notes,
		Risk:              Classify(score),
	}, nil
}

// dataURL returns the image behind ref as a base64 data URL
func (c *Client) dataURL(ctx context.Context, ref string) (string, error) {
	switch {
	case strings.HasPrefix(ref, "data:"):
		return ref, nil
	case strings.HasPrefix(ref, "ipfs://"):
		if c.gatewayURL == "" {
			return "", errors.Wrapf(ErrUnresolvableImage, "%s: no ipfs gateway configured", ref)
		}
		ref = c.gatewayURL + "/" + strings.TrimPrefix(ref, "ipfs://")
	case strings.HasPrefix(ref, "http://"), strings.HasPrefix(ref, "https://"):
	default:
		return "", errors.Wrapf(ErrUnresolvableImage, "%q", ref)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return "", errors.Wrapf(ErrUnresolvableImage, "%s: %v", ref, err)
	}
	res, err := c.httpClient.Do(req)
	if err != nil {
		return "", errors.Wrapf(err, "failed to fetch %s", ref)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return "", errors.Errorf("fetching %s returned %d", ref, res.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(res.Body, MaxImageBytes+1))
	if err != nil {
		return "", errors.Wrapf(err, "failed to read %s", ref)
	}
	if len(data) > MaxImageBytes {
		return "", errors.Errorf("%s exceeds %d bytes", ref, MaxImageBytes)
	}

	contentType, _, _ := strings.Cut(res.Header.Get("Content-Type"), ";")
	contentType = strings.TrimSpace(contentType)
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(data)
	}
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}
