package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"example.com/backstage/services/provenance/config"
	"example.com/backstage/services/provenance/contenthash"
	"example.com/backstage/services/provenance/domain"
	"example.com/backstage/services/provenance/eventstore"
	"example.com/backstage/services/provenance/handlers"
	"example.com/backstage/services/provenance/internal/analyzer"
	"example.com/backstage/services/provenance/internal/auth"
	"example.com/backstage/services/provenance/internal/objectstore"
	"example.com/backstage/services/provenance/verifier"
)

const testSecret = "test-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

// MockSearcher for testing
type MockSearcher struct {
	mock.Mock
}

func (m *MockSearcher) SearchEvents(ctx context.Context, text string, size int) ([]domain.CustodyEvent, error) {
	args := m.Called(ctx, text, size)
	return args.Get(0).([]domain.CustodyEvent), args.Error(1)
}

// tamperingStore rewrites the note of one stored event on read
type tamperingStore struct {
	eventstore.Store
	eventID int64
}

func (s *tamperingStore) GetEvents(ctx context.Context, batchID string) ([]domain.CustodyEvent, error) {
	events, err := s.Store.GetEvents(ctx, batchID)
	for i := range events {
		if events[i].ID == s.eventID {
			events[i].Note = "rewritten"
		}
	}
	return events, err
}

// unavailableStore fails every read as if the database were down
type unavailableStore struct {
	eventstore.Store
}

func (s *unavailableStore) GetBatch(ctx context.Context, batchID string) (domain.Batch, error) {
	return domain.Batch{}, domain.ErrStorageUnavailable
}

type testEnv struct {
	cfg      config.Config
	store    eventstore.Store
	objects  *objectstore.MemoryStore
	searcher EventSearcher
	analyzer *httptest.Server
}

type option func(*testEnv)

func withAuth() option {
	return func(e *testEnv) {
		e.cfg.Auth.Enabled = true
		e.cfg.Auth.HMACSecret = testSecret
	}
}

func withStore(store eventstore.Store) option {
	return func(e *testEnv) { e.store = store }
}

func withSearcher(s EventSearcher) option {
	return func(e *testEnv) { e.searcher = s }
}

// withAnalyzer serves images under /images/ and answers /analyze with a low
// score for current images whose bytes mention "damaged"
func withAnalyzer(t *testing.T) option {
	return func(e *testEnv) {
		mux := http.NewServeMux()
		mux.HandleFunc("/images/", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write(append(append([]byte{}, pngBytes...), r.URL.Path...))
		})
		mux.HandleFunc("/analyze", func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				Current string `json:"current_b64"`
			}
			_ = json.NewDecoder(r.Body).Decode(&req)

			score := 92.0
			_, encoded, _ := strings.Cut(req.Current, ";base64,")
			if current, err := base64.StdEncoding.DecodeString(encoded); err == nil && bytes.Contains(current, []byte("damaged")) {
				score = 31
			}
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"differences":   []interface{}{},
				"aggregate_tis": score,
			})
		})

		e.analyzer = httptest.NewServer(mux)
		t.Cleanup(e.analyzer.Close)
		e.cfg.Analyzer.URL = e.analyzer.URL + "/analyze"
	}
}

func newTestServer(t *testing.T, opts ...option) (http.Handler, *testEnv) {
	t.Helper()

	env := &testEnv{
		cfg: config.Config{
			Environment: "test",
			Server:      config.ServerConfig{MaxUpload: 1 << 20},
			Auth: config.AuthConfig{
				RoleClaim:    "role",
				CreatorRoles: []string{"MANUFACTURER"},
			},
			Ledger: config.LedgerConfig{BatchIDPrefix: "CHT"},
		},
		store:   eventstore.NewMemoryStore(),
		objects: objectstore.NewMemoryStore(),
	}
	for _, opt := range opts {
		opt(env)
	}

	batchHandler := handlers.NewBatchHandler(env.store, env.cfg.Ledger.BatchIDPrefix, nil)
	eventHandler := handlers.NewEventHandler(env.store, nil)
	server := NewServer(env.cfg, Services{
		Batches:   batchHandler,
		Events:    eventHandler,
		Scans:     handlers.NewScanHandler(env.store, eventHandler),
		Integrity: handlers.NewIntegrityHandler(env.store, analyzer.NewClient(env.cfg.Analyzer)),
		Verifier:  verifier.New(env.store, nil),
		Uploader:  objectstore.NewUploader(env.objects, 1024),
		Auth:      auth.NewAuthenticator(env.cfg.Auth),
		Searcher:  env.searcher,
	})
	return server.Handler(), env
}

func manufacturer() map[string]string {
	return map[string]string{principalIDHeader: "auth0|alice", principalRoleHeader: "MANUFACTURER"}
}

func distributor() map[string]string {
	return map[string]string{principalIDHeader: "auth0|dan", principalRoleHeader: "DISTRIBUTOR"}
}

func doJSON(t *testing.T, h http.Handler, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

func batchBody(id, product string) map[string]interface{} {
	return map[string]interface{}{
		"id":                 id,
		"productName":        product,
		"sku":                "SKU-1",
		"origin":             "Kiambu",
		"baselineFirstView":  "https://ipfs.io/ipfs/base-1",
		"baselineSecondView": "https://ipfs.io/ipfs/base-2",
	}
}

func eventBody(actor, role string) map[string]interface{} {
	return map[string]interface{}{
		"actor":           actor,
		"role":            role,
		"note":            "received",
		"firstViewImage":  "https://ipfs.io/ipfs/cur-1",
		"secondViewImage": "https://ipfs.io/ipfs/cur-2",
	}
}

func createBatch(t *testing.T, h http.Handler, id, product string, headers map[string]string) domain.Batch {
	t.Helper()
	w := doJSON(t, h, http.MethodPost, "/api/v1/batches", batchBody(id, product), headers)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var batch domain.Batch
	decode(t, w, &batch)
	return batch
}

func TestPingHealthAndInfo(t *testing.T) {
	h, _ := newTestServer(t)

	w := doJSON(t, h, http.MethodGet, "/ping", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "pong", w.Body.String())

	w = doJSON(t, h, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	createBatch(t, h, "CHT-001-ABC", "Organic Coffee", manufacturer())
	w = doJSON(t, h, http.MethodPost, "/api/v1/batches/CHT-001-ABC/events", eventBody("Warehouse 7", "Distributor"), distributor())
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = doJSON(t, h, http.MethodGet, "/api/v1/info", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var info InfoResponse
	decode(t, w, &info)
	assert.Equal(t, "provenance-ledger", info.Name)
	assert.Equal(t, int64(1), info.TotalBatches)
	assert.Equal(t, int64(1), info.TotalEvents)

	w = doJSON(t, h, http.MethodGet, "/metrics", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "runtime")
}

func TestCreateBatch(t *testing.T) {
	h, _ := newTestServer(t)

	batch := createBatch(t, h, "CHT-001-ABC", "Organic Coffee", manufacturer())
	assert.Equal(t, "CHT-001-ABC", batch.ID)
	assert.Equal(t, "auth0|alice", batch.Creator)
	assert.False(t, batch.CreatedAt.IsZero())

	w := doJSON(t, h, http.MethodGet, "/api/v1/batches/CHT-001-ABC", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got domain.Batch
	decode(t, w, &got)
	assert.Equal(t, batch, got)

	w = doJSON(t, h, http.MethodPost, "/api/v1/batches", batchBody("CHT-001-ABC", "Other"), manufacturer())
	require.Equal(t, http.StatusConflict, w.Code)
	var errResp ErrorResponse
	decode(t, w, &errResp)
	assert.Equal(t, "BATCH_EXISTS", errResp.Code)

	// the original record is untouched
	w = doJSON(t, h, http.MethodGet, "/api/v1/batches/CHT-001-ABC", nil, nil)
	decode(t, w, &got)
	assert.Equal(t, "Organic Coffee", got.ProductName)
}

func TestCreateBatchGeneratesID(t *testing.T) {
	h, _ := newTestServer(t)

	batch := createBatch(t, h, "", "Organic Coffee", manufacturer())
	assert.Regexp(t, regexp.MustCompile(`^CHT-\d{3}-[0-9A-Z]{3}$`), batch.ID)
}

func TestCreateBatchRejections(t *testing.T) {
	h, _ := newTestServer(t)

	tests := []struct {
		name    string
		body    interface{}
		headers map[string]string
		status  int
		code    string
	}{
		{"no principal", batchBody("CHT-001-ABC", "Coffee"), nil, http.StatusUnauthorized, "UNAUTHORIZED"},
		{"wrong role", batchBody("CHT-001-ABC", "Coffee"), distributor(), http.StatusForbidden, "FORBIDDEN"},
		{"missing product", batchBody("CHT-001-ABC", ""), manufacturer(), http.StatusBadRequest, "VALIDATION_ERROR"},
		{"bad id", batchBody("CHT 001/ABC", "Coffee"), manufacturer(), http.StatusBadRequest, "VALIDATION_ERROR"},
		{"not json", "not an object", manufacturer(), http.StatusBadRequest, "VALIDATION_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(t, h, http.MethodPost, "/api/v1/batches", tt.body, tt.headers)
			require.Equal(t, tt.status, w.Code, w.Body.String())

			var resp ErrorResponse
			decode(t, w, &resp)
			assert.Equal(t, tt.code, resp.Code)
		})
	}
}

func TestGetUnknownBatch(t *testing.T) {
	h, _ := newTestServer(t)

	w := doJSON(t, h, http.MethodGet, "/api/v1/batches/CHT-404-XYZ", nil, nil)
	require.Equal(t, http.StatusNotFound, w.Code)

	var resp ErrorResponse
	decode(t, w, &resp)
	assert.Equal(t, "BATCH_NOT_FOUND", resp.Code)
}

func TestListBatches(t *testing.T) {
	h, _ := newTestServer(t)

	bob := map[string]string{principalIDHeader: "auth0|bob", principalRoleHeader: "MANUFACTURER"}
	createBatch(t, h, "CHT-001-AAA", "Organic Coffee", manufacturer())
	createBatch(t, h, "CHT-002-BBB", "Green Tea", manufacturer())
	createBatch(t, h, "CHT-003-CCC", "Coffee Beans", bob)

	tests := []struct {
		query string
		want  []string
	}{
		{"", []string{"CHT-001-AAA", "CHT-002-BBB", "CHT-003-CCC"}},
		{"?creator=auth0|alice", []string{"CHT-001-AAA", "CHT-002-BBB"}},
		{"?q=coffee", []string{"CHT-001-AAA", "CHT-003-CCC"}},
		{"?creator=auth0|alice&q=coffee", []string{"CHT-001-AAA"}},
		{"?creator=nobody", []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			w := doJSON(t, h, http.MethodGet, "/api/v1/batches"+tt.query, nil, nil)
			require.Equal(t, http.StatusOK, w.Code)

			var resp BatchIDsResponse
			decode(t, w, &resp)
			assert.ElementsMatch(t, tt.want, resp.BatchIDs)
			assert.Equal(t, len(tt.want), resp.Count)
		})
	}
}

func TestLogEventAndVerify(t *testing.T) {
	h, _ := newTestServer(t)
	createBatch(t, h, "CHT-001-ABC", "Organic Coffee", manufacturer())

	w := doJSON(t, h, http.MethodPost, "/api/v1/batches/CHT-001-ABC/events", eventBody("Warehouse 7", "Distributor"), distributor())
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var first domain.CustodyEvent
	decode(t, w, &first)
	assert.Equal(t, int64(1), first.ID)
	assert.Equal(t, "auth0|dan", first.LoggedBy)
	assert.True(t, contenthash.Valid(first.EventHash))
	assert.NoError(t, first.VerifyHash())

	w = doJSON(t, h, http.MethodPost, "/api/v1/batches/CHT-001-ABC/events", eventBody("Shop 3", "Retailer"), distributor())
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, h, http.MethodGet, "/api/v1/batches/CHT-001-ABC/events/count", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"batch_id":"CHT-001-ABC","count":2}`, w.Body.String())

	w = doJSON(t, h, http.MethodGet, "/api/v1/batches/CHT-001-ABC/events", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var events EventsResponse
	decode(t, w, &events)
	require.Len(t, events.Events, 2)
	assert.Equal(t, first, events.Events[0])

	w = doJSON(t, h, http.MethodGet, "/api/v1/verify/CHT-001-ABC", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var result verifier.Verification
	decode(t, w, &result)
	assert.Equal(t, "CHT-001-ABC", result.Batch.ID)
	require.Len(t, result.Events, 2)
	assert.Equal(t, int64(1), result.Events[0].ID)
	assert.Equal(t, int64(2), result.Events[1].ID)
	assert.Equal(t, "Shop 3", result.Events[1].Actor)
	assert.Nil(t, result.Integrity)

	w = doJSON(t, h, http.MethodGet, "/api/v1/verify/CHT-001-ABC?audit=true", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &result)
	require.NotNil(t, result.Integrity)
	assert.True(t, result.Integrity.OK)
	assert.Equal(t, 2, result.Integrity.EventsChecked)
}

func TestLogEventRejections(t *testing.T) {
	h, _ := newTestServer(t)
	createBatch(t, h, "CHT-001-ABC", "Organic Coffee", manufacturer())

	w := doJSON(t, h, http.MethodPost, "/api/v1/batches/CHT-404-XYZ/events", eventBody("Warehouse 7", "Distributor"), distributor())
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(t, h, http.MethodPost, "/api/v1/batches/CHT-001-ABC/events", eventBody("", "Distributor"), distributor())
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, h, http.MethodPost, "/api/v1/batches/CHT-001-ABC/events", eventBody("Warehouse 7", "Distributor"), nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// nothing was appended
	w = doJSON(t, h, http.MethodGet, "/api/v1/batches/CHT-001-ABC/events/count", nil, nil)
	assert.JSONEq(t, `{"batch_id":"CHT-001-ABC","count":0}`, w.Body.String())

	w = doJSON(t, h, http.MethodGet, "/api/v1/batches/CHT-404-XYZ/events", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestVerifyUnknownBatch(t *testing.T) {
	h, _ := newTestServer(t)

	w := doJSON(t, h, http.MethodGet, "/api/v1/verify/CHT-404-XYZ", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestVerifyAuditDetectsTampering(t *testing.T) {
	mem := eventstore.NewMemoryStore()
	h, _ := newTestServer(t, withStore(&tamperingStore{Store: mem, eventID: 2}))

	createBatch(t, h, "CHT-001-ABC", "Organic Coffee", manufacturer())
	for _, actor := range []string{"Warehouse 7", "Truck 12", "Shop 3"} {
		w := doJSON(t, h, http.MethodPost, "/api/v1/batches/CHT-001-ABC/events", eventBody(actor, "Distributor"), distributor())
		require.Equal(t, http.StatusCreated, w.Code)
	}

	// a plain verify serves the stored records as they are
	w := doJSON(t, h, http.MethodGet, "/api/v1/verify/CHT-001-ABC", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, h, http.MethodGet, "/api/v1/verify/CHT-001-ABC?audit=true", nil, nil)
	require.Equal(t, http.StatusConflict, w.Code)

	var resp struct {
		Code         string                   `json:"code"`
		Details      domain.HashMismatchError `json:"details"`
		Verification verifier.Verification    `json:"verification"`
	}
	decode(t, w, &resp)
	assert.Equal(t, "HASH_MISMATCH", resp.Code)
	assert.Equal(t, int64(2), resp.Details.EventID)
	assert.NotEqual(t, resp.Details.Stored, resp.Details.Computed)
	require.NotNil(t, resp.Verification.Integrity)
	assert.False(t, resp.Verification.Integrity.OK)
	assert.Len(t, resp.Verification.Events, 3)
}

func TestStorageUnavailable(t *testing.T) {
	h, _ := newTestServer(t, withStore(&unavailableStore{Store: eventstore.NewMemoryStore()}))

	w := doJSON(t, h, http.MethodGet, "/api/v1/batches/CHT-001-ABC", nil, nil)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	var resp ErrorResponse
	decode(t, w, &resp)
	assert.Equal(t, "SERVICE_UNAVAILABLE", resp.Code)
	assert.Contains(t, resp.Message, "try again")
}

func TestScan(t *testing.T) {
	h, _ := newTestServer(t)
	createBatch(t, h, "CHT-001-ABC", "Organic Coffee", manufacturer())

	t.Run("draft from payload", func(t *testing.T) {
		body := map[string]interface{}{"payload": `{"batchId":"CHT-001-ABC","actor":"Warehouse 7","role":"Distributor"}`}
		w := doJSON(t, h, http.MethodPost, "/api/v1/scan", body, nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		var result handlers.ScanResult
		decode(t, w, &result)
		assert.Equal(t, "CHT-001-ABC", result.Batch.ID)
		assert.Equal(t, "Warehouse 7", result.Draft.Actor)
		assert.Equal(t, "Distributor", result.Draft.Role)
		assert.Nil(t, result.Event)
	})

	t.Run("no batch id", func(t *testing.T) {
		w := doJSON(t, h, http.MethodPost, "/api/v1/scan", map[string]interface{}{"payload": "{not json"}, nil)
		require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})

	t.Run("unknown batch", func(t *testing.T) {
		w := doJSON(t, h, http.MethodPost, "/api/v1/scan", map[string]interface{}{"payload": "CHT-404-XYZ"}, nil)
		require.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("logging needs a principal", func(t *testing.T) {
		body := map[string]interface{}{"payload": "batch=CHT-001-ABC;actor=Shop 3;role=Retailer", "log": true}
		w := doJSON(t, h, http.MethodPost, "/api/v1/scan", body, nil)
		require.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("scan and log", func(t *testing.T) {
		body := map[string]interface{}{"payload": "batch=CHT-001-ABC;actor=Shop 3;role=Retailer", "log": true}
		w := doJSON(t, h, http.MethodPost, "/api/v1/scan", body, distributor())
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

		var result handlers.ScanResult
		decode(t, w, &result)
		require.NotNil(t, result.Event)
		assert.Equal(t, int64(1), result.Event.ID)
		assert.Equal(t, "auth0|dan", result.Event.LoggedBy)
		assert.Equal(t, "Shop 3", result.Event.Actor)
	})
}

func multipartRequest(t *testing.T, path string, files map[string][]byte, headers map[string]string) *http.Request {
	t.Helper()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for field, data := range files {
		part, err := mw.CreateFormFile(field, field+".bin")
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return req
}

var pngBytes = append([]byte("\x89PNG\r\n\x1a\n"), []byte("first view pixels")...)

func TestUpload(t *testing.T) {
	h, env := newTestServer(t)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, multipartRequest(t, "/api/v1/uploads", map[string][]byte{"file": pngBytes}, distributor()))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var obj objectstore.Object
	decode(t, w, &obj)
	hash := contenthash.Sum(pngBytes)
	assert.Equal(t, hash, obj.ContentHash)
	assert.Equal(t, "mem://"+hash+".png", obj.URI)
	assert.Equal(t, int64(len(pngBytes)), obj.Size)

	stored, err := env.objects.Get(context.Background(), hash+".png")
	require.NoError(t, err)
	assert.Equal(t, pngBytes, stored)
}

func TestUploadRejections(t *testing.T) {
	h, _ := newTestServer(t)

	tests := []struct {
		name    string
		files   map[string][]byte
		headers map[string]string
		status  int
	}{
		{"no principal", map[string][]byte{"file": pngBytes}, nil, http.StatusUnauthorized},
		{"no file", map[string][]byte{"other": pngBytes}, distributor(), http.StatusBadRequest},
		{"empty file", map[string][]byte{"file": {}}, distributor(), http.StatusBadRequest},
		{"too large", map[string][]byte{"file": bytes.Repeat([]byte("x"), 2048)}, distributor(), http.StatusRequestEntityTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			h.ServeHTTP(w, multipartRequest(t, "/api/v1/uploads", tt.files, tt.headers))
			assert.Equal(t, tt.status, w.Code, w.Body.String())
		})
	}
}

func TestUploadViews(t *testing.T) {
	h, _ := newTestServer(t)

	second := []byte("second view")
	files := map[string][]byte{"first_view": pngBytes, "second_view": second}

	w := httptest.NewRecorder()
	h.ServeHTTP(w, multipartRequest(t, "/api/v1/uploads/views", files, distributor()))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var views objectstore.Views
	decode(t, w, &views)
	assert.Equal(t, contenthash.Sum(pngBytes), views.FirstView.ContentHash)
	assert.Equal(t, contenthash.Sum(second), views.SecondView.ContentHash)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, multipartRequest(t, "/api/v1/uploads/views", map[string][]byte{"first_view": pngBytes}, distributor()))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestIntegrityCheck(t *testing.T) {
	h, env := newTestServer(t, withAnalyzer(t))
	images := env.analyzer.URL + "/images/"

	body := batchBody("CHT-001-ABC", "Organic Coffee")
	body["baselineFirstView"] = images + "base-1"
	body["baselineSecondView"] = images + "base-2"
	w := doJSON(t, h, http.MethodPost, "/api/v1/batches", body, manufacturer())
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	check := map[string]interface{}{
		"firstViewImage":  images + "cur-1",
		"secondViewImage": images + "damaged-2",
	}
	w = doJSON(t, h, http.MethodPost, "/api/v1/batches/CHT-001-ABC/integrity", check, distributor())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var result handlers.IntegrityResult
	decode(t, w, &result)
	assert.Equal(t, "CHT-001-ABC", result.BatchID)
	assert.Equal(t, 31.0, result.Score)
	assert.Equal(t, analyzer.RiskHigh, result.Risk)
	assert.False(t, result.Passed)
	require.NotNil(t, result.FirstView)
	assert.Equal(t, analyzer.RiskSafe, result.FirstView.Risk)

	w = doJSON(t, h, http.MethodPost, "/api/v1/batches/CHT-404-XYZ/integrity", check, distributor())
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(t, h, http.MethodPost, "/api/v1/batches/CHT-001-ABC/integrity", map[string]interface{}{}, distributor())
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// in-memory object URIs cannot be fetched by the analyzer client
	w = doJSON(t, h, http.MethodPost, "/api/v1/batches/CHT-001-ABC/integrity", map[string]interface{}{"firstViewImage": "mem://abc.png"}, distributor())
	assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
}

func TestIntegrityCheckWithoutAnalyzer(t *testing.T) {
	h, _ := newTestServer(t)
	createBatch(t, h, "CHT-001-ABC", "Organic Coffee", manufacturer())

	body := map[string]interface{}{"firstViewImage": "https://ipfs.io/ipfs/cur-1"}
	w := doJSON(t, h, http.MethodPost, "/api/v1/batches/CHT-001-ABC/integrity", body, distributor())
	require.Equal(t, http.StatusNotImplemented, w.Code)
}

func TestBearerAuthentication(t *testing.T) {
	h, env := newTestServer(t, withAuth())
	authenticator := auth.NewAuthenticator(env.cfg.Auth)

	token, err := authenticator.GenerateToken(auth.Principal{ID: "auth0|alice", Role: "MANUFACTURER"}, time.Minute)
	require.NoError(t, err)

	batch := createBatch(t, h, "CHT-001-ABC", "Organic Coffee", map[string]string{"Authorization": "Bearer " + token})
	assert.Equal(t, "auth0|alice", batch.Creator)

	// identity headers are ignored once tokens are required
	w := doJSON(t, h, http.MethodPost, "/api/v1/batches", batchBody("CHT-002-ABC", "Tea"), manufacturer())
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doJSON(t, h, http.MethodPost, "/api/v1/batches", batchBody("CHT-002-ABC", "Tea"), map[string]string{"Authorization": "Bearer garbage"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	other := auth.NewAuthenticator(config.AuthConfig{HMACSecret: "other-secret", RoleClaim: "role"})
	forged, err := other.GenerateToken(auth.Principal{ID: "auth0|mallory", Role: "MANUFACTURER"}, time.Minute)
	require.NoError(t, err)
	w = doJSON(t, h, http.MethodPost, "/api/v1/batches", batchBody("CHT-002-ABC", "Tea"), map[string]string{"Authorization": "Bearer " + forged})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSearchEvents(t *testing.T) {
	h, _ := newTestServer(t)
	w := doJSON(t, h, http.MethodGet, "/api/v1/events/search?q=warehouse", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	searcher := new(MockSearcher)
	searcher.On("SearchEvents", mock.Anything, "warehouse", 10).
		Return([]domain.CustodyEvent{{ID: 1, BatchID: "CHT-001-ABC", Actor: "Warehouse 7"}}, nil)

	h, _ = newTestServer(t, withSearcher(searcher))
	w = doJSON(t, h, http.MethodGet, "/api/v1/events/search?q=warehouse&size=10", nil, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"count":1`)
	searcher.AssertExpectations(t)

	w = doJSON(t, h, http.MethodGet, "/api/v1/events/search", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCORSAndRequestID(t *testing.T) {
	h, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/batches", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	w = doJSON(t, h, http.MethodGet, "/ping", nil, map[string]string{requestIDKey: "req-1"})
	assert.Equal(t, "req-1", w.Header().Get(requestIDKey))
}
