package front

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/inferd/inferd/lib/application"
	"github.com/inferd/inferd/lib/dispatcher"
	"github.com/inferd/inferd/lib/router"
)

// -----------------------------------------------------------
// Fakes
// -----------------------------------------------------------

// fakeDispatcher answers every request with a canned result
type fakeDispatcher struct {
	cfg      *application.Config
	queueErr error
	result   map[string]any
	nextID   uint64

	lastParams map[string]any
	lastMeta   map[string]any
}

func (d *fakeDispatcher) QueueRequest(params, meta map[string]any) (uint64, error) {
	if d.queueErr != nil {
		return 0, d.queueErr
	}
	d.lastParams = params
	d.lastMeta = meta
	d.nextID++
	return d.nextID, nil
}

func (d *fakeDispatcher) GetResult(ctx context.Context, id uint64) (map[string]any, error) {
	if d.result == nil {
		return nil, application.NewError(application.ResultApplicationError, "request abandoned")
	}
	// Copy, the handler mutates the result to pop the latency key
	result := make(map[string]any, len(d.result))
	for k, v := range d.result {
		result[k] = v
	}
	return result, nil
}

func (d *fakeDispatcher) AppConfig() *application.Config { return d.cfg }

// fakeRuntime exposes a single fake dispatcher and scriptable health state
type fakeRuntime struct {
	dispatchers map[string]*fakeDispatcher
	startup     bool
	ready       bool
	alive       bool
}

func (r *fakeRuntime) Dispatcher(appID string) (IDispatcher, bool) {
	d, ok := r.dispatchers[appID]
	if !ok {
		return nil, false
	}
	return d, true
}

func (r *fakeRuntime) StartupComplete() bool { return r.startup }
func (r *fakeRuntime) IsReady() bool         { return r.ready }
func (r *fakeRuntime) IsAlive() bool         { return r.alive }

func testServer(rt *fakeRuntime) *Server {
	return NewServer("localhost:0", rt)
}

func defaultRuntime() (*fakeRuntime, *fakeDispatcher) {
	d := &fakeDispatcher{
		cfg:    &application.Config{ID: "echo", Version: "1.0"},
		result: map[string]any{"answer": float64(42), router.DispatchLatencyKey: 0.012},
	}
	rt := &fakeRuntime{
		dispatchers: map[string]*fakeDispatcher{"echo": d},
		startup:     true,
		ready:       true,
		alive:       true,
	}
	return rt, d
}

// -----------------------------------------------------------
// Tests
// -----------------------------------------------------------

func TestRequestEndpoint(t *testing.T) {
	rt, d := defaultRuntime()
	srv := testServer(rt)

	req := httptest.NewRequest(http.MethodPost, "/v1/echo", strings.NewReader(`{"text":"hello"}`))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}

	var result map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if result["answer"] != float64(42) {
		t.Errorf("Unexpected result: %v", result)
	}

	// The latency key is popped into a header
	if _, ok := result[router.DispatchLatencyKey]; ok {
		t.Error("Expected the dispatch latency to be removed from the payload")
	}
	if rec.Header().Get(DispatchLatencyHeader) == "" {
		t.Errorf("Expected the %s header to be set", DispatchLatencyHeader)
	}

	// The runtime meta identifies the application
	if d.lastMeta["application"] != "echo" || d.lastMeta["version"] != "1.0" {
		t.Errorf("Unexpected request meta: %v", d.lastMeta)
	}
	if d.lastParams["text"] != "hello" {
		t.Errorf("Unexpected request params: %v", d.lastParams)
	}
}

func TestUnknownApplication(t *testing.T) {
	rt, _ := defaultRuntime()
	srv := testServer(rt)

	req := httptest.NewRequest(http.MethodPost, "/v1/unknown", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", rec.Code)
	}
}

func TestMalformedBody(t *testing.T) {
	rt, _ := defaultRuntime()
	srv := testServer(rt)

	req := httptest.NewRequest(http.MethodPost, "/v1/echo", strings.NewReader(`not json`))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", rec.Code)
	}
}

func TestQueueFullAnswers503(t *testing.T) {
	rt, d := defaultRuntime()
	d.queueErr = dispatcher.ErrQueueFull
	srv := testServer(rt)

	req := httptest.NewRequest(http.MethodPost, "/v1/echo", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503, got %d", rec.Code)
	}
}

func TestAbandonedRequestAnswers500(t *testing.T) {
	rt, d := defaultRuntime()
	d.result = nil
	srv := testServer(rt)

	req := httptest.NewRequest(http.MethodPost, "/v1/echo", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("Expected 500, got %d", rec.Code)
	}
}

func TestHealthProbes(t *testing.T) {
	rt, _ := defaultRuntime()
	rt.ready = false
	srv := testServer(rt)

	cases := map[string]int{
		"/health/startup/": http.StatusOK,
		"/health/ready/":   http.StatusServiceUnavailable,
		"/health/live/":    http.StatusOK,
	}

	for path, want := range cases {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)

		if rec.Code != want {
			t.Errorf("Probe %s: expected %d, got %d", path, want, rec.Code)
		}
	}
}

func TestMetricsEndpoint(t *testing.T) {
	rt, _ := defaultRuntime()
	srv := testServer(rt)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", rec.Code)
	}
}
