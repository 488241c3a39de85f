package server

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/recoeval/reco-eval/internal/bus"
	"github.com/recoeval/reco-eval/internal/config"
	"github.com/recoeval/reco-eval/internal/metrics"
	appctx "github.com/recoeval/reco-eval/internal/pkg/context"
	"github.com/recoeval/reco-eval/internal/pkg/logger"
	"github.com/recoeval/reco-eval/internal/results"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Host != "0.0.0.0" {
		t.Errorf("Host = %q, want %q", cfg.Host, "0.0.0.0")
	}
	if cfg.Port != 8090 {
		t.Errorf("Port = %d, want %d", cfg.Port, 8090)
	}
	if cfg.Version != "dev" {
		t.Errorf("Version = %q, want %q", cfg.Version, "dev")
	}
	if cfg.RateLimit != 0 {
		t.Errorf("RateLimit = %d, want 0", cfg.RateLimit)
	}
	if cfg.ReadTimeout == 0 || cfg.WriteTimeout == 0 || cfg.ShutdownTimeout == 0 {
		t.Error("timeouts should not be zero")
	}
}

func TestConfigFrom(t *testing.T) {
	appCfg := config.Default()
	appCfg.Server.Host = "127.0.0.1"
	appCfg.Server.Port = 9999
	appCfg.Server.RateLimit = 5

	cfg := ConfigFrom(appCfg, "1.2.3")
	if cfg.Host != "127.0.0.1" || cfg.Port != 9999 || cfg.RateLimit != 5 || cfg.Version != "1.2.3" {
		t.Errorf("ConfigFrom() = %+v", cfg)
	}
}

func TestStatusRecorder(t *testing.T) {
	rec := httptest.NewRecorder()
	w := &statusRecorder{ResponseWriter: rec, status: http.StatusOK}

	w.WriteHeader(http.StatusNotFound)
	if w.status != http.StatusNotFound {
		t.Errorf("status after WriteHeader = %d, want %d", w.status, http.StatusNotFound)
	}
	if rec.Code != http.StatusNotFound {
		t.Errorf("underlying status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

type testServer struct {
	*httptest.Server
	srv     *Server
	store   results.Store
	bus     *bus.MemoryBus
	metrics *metrics.Metrics
}

func newTestServer(t *testing.T, cfg Config, store results.Store) *testServer {
	t.Helper()
	b := bus.NewMemoryBus(logger.Discard())
	m := metrics.New()

	s, err := NewWithDeps(cfg, Deps{Store: store, Bus: b, Metrics: m}, logger.Discard())
	if err != nil {
		t.Fatalf("NewWithDeps() error = %v", err)
	}
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ts.Close()
		s.closeServices()
	})
	return &testServer{Server: ts, srv: s, store: store, bus: b, metrics: m}
}

func (ts *testServer) do(t *testing.T, method, path, body string, header map[string]string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, ts.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestServerRoutes(t *testing.T) {
	ts := newTestServer(t, DefaultConfig(), results.NewMemoryStore())

	body := `{"scores":[[0.9,0.1]],"query_labels":[0],"gallery_labels":[0,1]}`
	resp := ts.do(t, http.MethodPost, "/v1/evaluation/score", body, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("score status = %d", resp.StatusCode)
	}

	resp = ts.do(t, http.MethodGet, "/v1/evaluation/reports", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("reports status = %d", resp.StatusCode)
	}

	resp = ts.do(t, http.MethodGet, "/v1/version", "", nil)
	var version map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&version); err != nil {
		t.Fatal(err)
	}
	if version["version"] != "dev" {
		t.Errorf("version = %v, want dev", version)
	}

	resp = ts.do(t, http.MethodGet, "/metrics", "", nil)
	text, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(text), "reco_http_requests_total") {
		t.Errorf("metrics output missing HTTP counter:\n%s", text)
	}

	resp = ts.do(t, http.MethodGet, "/v1/unknown", "", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown route status = %d, want 404", resp.StatusCode)
	}
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, DefaultConfig(), results.NewMemoryStore())

	resp := ts.do(t, http.MethodGet, "/healthz", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var health HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatal(err)
	}
	if health.Status != "ok" || health.Checks["results"] != "ok" {
		t.Errorf("health = %+v", health)
	}
	if _, ok := health.Checks["qdrant"]; ok {
		t.Error("qdrant checked without a qdrant backend")
	}
}

type downStore struct {
	*results.MemoryStore
}

func (downStore) Ping(ctx context.Context) error {
	return stderrors.New("connection refused")
}

func TestHealthDegraded(t *testing.T) {
	ts := newTestServer(t, DefaultConfig(), downStore{results.NewMemoryStore()})

	resp := ts.do(t, http.MethodGet, "/healthz", "", nil)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", resp.StatusCode)
	}

	var health HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatal(err)
	}
	if health.Status != "degraded" || health.Checks["results"] != "connection refused" {
		t.Errorf("health = %+v", health)
	}
}

func TestRequestID(t *testing.T) {
	ts := newTestServer(t, DefaultConfig(), nil)

	resp := ts.do(t, http.MethodGet, "/v1/version", "", map[string]string{RequestIDHeader: "client-42"})
	if got := resp.Header.Get(RequestIDHeader); got != "client-42" {
		t.Errorf("request ID = %q, want client-42", got)
	}

	resp = ts.do(t, http.MethodGet, "/v1/version", "", map[string]string{RequestIDHeader: "bad id with spaces"})
	if got := resp.Header.Get(RequestIDHeader); len(got) != 36 {
		t.Errorf("request ID = %q, want a generated UUID", got)
	}
}

func TestRateLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RateLimit = 1 // burst of 2
	ts := newTestServer(t, cfg, nil)

	codes := make([]int, 3)
	for i := range codes {
		codes[i] = ts.do(t, http.MethodGet, "/v1/version", "", nil).StatusCode
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Errorf("status codes = %v, want [200 200 429]", codes)
	}

	if code := ts.do(t, http.MethodGet, "/healthz", "", nil).StatusCode; code != http.StatusOK {
		t.Errorf("healthz status = %d, want 200 while limited", code)
	}
}

func TestFoldEventsReachMetrics(t *testing.T) {
	ts := newTestServer(t, DefaultConfig(), nil)

	payload := bus.FoldPayload{RunID: "r1", Fold: 0, NumFolds: 2, TopK: map[string]float64{"1": 0.5}, DurationMs: 12}
	if err := ts.bus.Publish(context.Background(), bus.TopicFoldCompleted,
		bus.NewEvent(bus.TopicFoldCompleted, "test", "r1", payload)); err != nil {
		t.Fatal(err)
	}
	if err := ts.bus.Close(); err != nil {
		t.Fatal(err)
	}

	if got := ts.metrics.FoldsTotal.WithLabels("succeeded").Value(); got != 1 {
		t.Errorf("folds succeeded = %d, want 1", got)
	}
}

func TestStopWithoutStart(t *testing.T) {
	s, err := NewWithDeps(Config{}, Deps{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
	if s.Health() {
		t.Error("Health() = true before Start")
	}
	if s.cfg.Port != 8090 {
		t.Errorf("zero config not defaulted: %+v", s.cfg)
	}
}

func TestRequestIDInContext(t *testing.T) {
	var seen string
	h := requestIDMiddleware(logger.Discard(), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = appctx.GetRequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "abc.123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if seen != "abc.123" {
		t.Errorf("request ID in context = %q, want abc.123", seen)
	}
}
