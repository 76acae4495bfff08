package analyzer

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"example.com/backstage/services/provenance/config"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		score float64
		want  Risk
	}{
		{100, RiskSafe},
		{80, RiskSafe},
		{79.9, RiskModerate},
		{40, RiskModerate},
		{39.9, RiskHigh},
		{0, RiskHigh},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, Classify(tt.score), "score %v", tt.score)
	}
}

var pngHeader = []byte("\x89PNG\r\n\x1a\n")

func imageDataURL(name string) string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(append(append([]byte{}, pngHeader...), name...))
}

type analyzerServer struct {
	*httptest.Server
	mu       sync.Mutex
	requests []analyzeRequest
}

func (s *analyzerServer) received() []analyzeRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]analyzeRequest(nil), s.requests...)
}

// newAnalyzerServer serves images under /images/ and the analyzer at /analyze
func newAnalyzerServer(t *testing.T, response string) *analyzerServer {
	t.Helper()
	s := &analyzerServer{}

	mux := http.NewServeMux()
	mux.HandleFunc("/images/", func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimPrefix(r.URL.Path, "/images/")
		if name == "missing" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(append(append([]byte{}, pngHeader...), name...))
	})
	mux.HandleFunc("/analyze", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)

		var req analyzeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		s.mu.Lock()
		s.requests = append(s.requests, req)
		s.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(response))
	})

	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

func (s *analyzerServer) client() *Client {
	return NewClient(config.AnalyzerConfig{URL: s.URL + "/analyze", GatewayURL: s.URL + "/images"})
}

func TestAnalyze(t *testing.T) {
	srv := newAnalyzerServer(t, `{
		"differences": [{"region": "seal", "severity": "HIGH", "description": "tape re-applied", "tis_delta": -40}],
		"aggregate_tis": 35,
		"overall_assessment": "HIGH_RISK",
		"confidence_overall": 0.9
	}`)

	a, err := srv.client().Analyze(context.Background(), srv.URL+"/images/baseline", srv.URL+"/images/current")
	require.NoError(t, err)
	require.Equal(t, 35.0, a.AggregateTIS)
	require.Equal(t, RiskHigh, a.Risk)
	require.Len(t, a.Differences, 1)
	require.Equal(t, "seal", a.Differences[0].Region)

	requests := srv.received()
	require.Len(t, requests, 1)
	require.Equal(t, imageDataURL("baseline"), requests[0].Baseline)
	require.Equal(t, imageDataURL("current"), requests[0].Current)
}

func TestAnalyzeResolvesImageReferences(t *testing.T) {
	srv := newAnalyzerServer(t, `{"aggregate_tis": 90}`)

	_, err := srv.client().Analyze(context.Background(), "ipfs://baseline", imageDataURL("inline"))
	require.NoError(t, err)

	requests := srv.received()
	require.Len(t, requests, 1)
	require.Equal(t, imageDataURL("baseline"), requests[0].Baseline)
	require.Equal(t, imageDataURL("inline"), requests[0].Current)
}

func TestAnalyzeUnresolvableImages(t *testing.T) {
	srv := newAnalyzerServer(t, `{}`)
	ctx := context.Background()

	_, err := srv.client().Analyze(ctx, "mem://abc.png", imageDataURL("current"))
	require.True(t, errors.Is(err, ErrUnresolvableImage))

	noGateway := NewClient(config.AnalyzerConfig{URL: srv.URL + "/analyze"})
	_, err = noGateway.Analyze(ctx, "ipfs://baseline", imageDataURL("current"))
	require.True(t, errors.Is(err, ErrUnresolvableImage))

	_, err = srv.client().Analyze(ctx, srv.URL+"/images/missing", imageDataURL("current"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "404")

	require.Empty(t, srv.received())
}

func TestAnalyzeScoreDefaults(t *testing.T) {
	srv := newAnalyzerServer(t, `{}`)
	a, err := srv.client().Analyze(context.Background(), imageDataURL("baseline"), imageDataURL("current"))
	require.NoError(t, err)
	require.Equal(t, DefaultScore, a.AggregateTIS)
	require.Equal(t, RiskSafe, a.Risk)
	require.NotNil(t, a.Differences)

	zero := newAnalyzerServer(t, `{"aggregate_tis": 0}`)
	a, err = zero.client().Analyze(context.Background(), imageDataURL("baseline"), imageDataURL("current"))
	require.NoError(t, err)
	require.Equal(t, 0.0, a.AggregateTIS)
	require.Equal(t, RiskHigh, a.Risk)
}

func TestAnalyzeErrors(t *testing.T) {
	_, err := NewClient(config.AnalyzerConfig{}).Analyze(context.Background(), "a", "b")
	require.True(t, errors.Is(err, ErrNotConfigured))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err = NewClient(config.AnalyzerConfig{URL: srv.URL}).Analyze(context.Background(), "data:a", "data:b")
	require.Error(t, err)
	require.Contains(t, err.Error(), "503")
}
