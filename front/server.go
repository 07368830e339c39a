package front

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/inferd/inferd/lib/application"
	"github.com/inferd/inferd/lib/dispatcher"
	"github.com/inferd/inferd/lib/router"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("front")

// DispatchLatencyHeader reports the application dispatch duration of a
// request in seconds
const DispatchLatencyHeader = "X-Dispatch-Latency-Seconds"

// -----------------------------------------------------------
// Interface Definitions for dependency injection
// -----------------------------------------------------------

// IDispatcher is the per-application surface the front server dispatches
// requests on. *dispatcher.Dispatcher implements it.
type IDispatcher interface {
	QueueRequest(params, meta map[string]any) (uint64, error)
	GetResult(ctx context.Context, id uint64) (map[string]any, error)
	AppConfig() *application.Config
}

// IRuntime is the front server's view of the serving runtime
type IRuntime interface {
	// Dispatcher returns the dispatcher serving the given application id
	Dispatcher(appID string) (IDispatcher, bool)

	// StartupComplete reports whether all replica pools finished starting
	StartupComplete() bool

	// IsReady reports whether every application has at least one live,
	// ready replica
	IsReady() bool

	// IsAlive reports whether no application's replica pool has given up
	IsAlive() bool
}

// appsRuntime adapts *dispatcher.Applications to IRuntime
type appsRuntime struct {
	apps *dispatcher.Applications
}

func (r appsRuntime) Dispatcher(appID string) (IDispatcher, bool) {
	d, ok := r.apps.Get(appID)
	if !ok {
		return nil, false
	}
	return d, true
}

func (r appsRuntime) StartupComplete() bool { return r.apps.StartupComplete() }
func (r appsRuntime) IsReady() bool         { return r.apps.IsReady() }
func (r appsRuntime) IsAlive() bool         { return r.apps.IsAlive() }

// Runtime wraps an Applications facade for use with NewServer
func Runtime(apps *dispatcher.Applications) IRuntime {
	return appsRuntime{apps: apps}
}

// -----------------------------------------------------------
// Server
// -----------------------------------------------------------

// Server is the outward-facing HTTP server
type Server struct {
	runtime IRuntime
	httpSrv *http.Server
}

// NewServer creates a front server listening on the given endpoint
func NewServer(endpoint string, runtime IRuntime) *Server {
	s := &Server{runtime: runtime}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/{application}", s.handleRequest)
	mux.HandleFunc("GET /health/startup/", s.probe(runtime.StartupComplete))
	mux.HandleFunc("GET /health/ready/", s.probe(runtime.IsReady))
	mux.HandleFunc("GET /health/live/", s.probe(runtime.IsAlive))
	mux.HandleFunc("GET /metrics", func(w http.ResponseWriter, r *http.Request) {
		metrics.WritePrometheus(w, true)
	})

	s.httpSrv = &http.Server{
		Addr:    endpoint,
		Handler: logRequests(mux),
	}
	return s
}

// Serve blocks serving requests until Shutdown is called
func (s *Server) Serve() error {
	Logger.Infof("Front server listening on %s", s.httpSrv.Addr)
	err := s.httpSrv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops the server gracefully
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

// Handler returns the server's HTTP handler, used by tests
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

// -----------------------------------------------------------
// Handlers
// -----------------------------------------------------------

// handleRequest dispatches one inference request
func (s *Server) handleRequest(w http.ResponseWriter, r *http.Request) {
	appID := r.PathValue("application")

	d, ok := s.runtime.Dispatcher(appID)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown application %q", appID))
		return
	}

	var params map[string]any
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("malformed request body: %v", err))
		return
	}

	cfg := d.AppConfig()
	meta := map[string]any{
		"application": cfg.ID,
		"version":     cfg.Version,
	}

	id, err := d.QueueRequest(params, meta)
	if err != nil {
		if errors.Is(err, dispatcher.ErrQueueFull) {
			writeError(w, http.StatusServiceUnavailable, "request queue full")
			return
		}
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	result, err := d.GetResult(r.Context(), id)
	if err != nil {
		if r.Context().Err() != nil {
			// Client went away, nobody is listening for the answer
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	// The dispatch latency is reported as a header, not as payload
	if latency, ok := result[router.DispatchLatencyKey]; ok {
		delete(result, router.DispatchLatencyKey)
		w.Header().Set(DispatchLatencyHeader, fmt.Sprintf("%v", latency))
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(result); err != nil {
		Logger.Errorf("Failed to encode response for application %s: %v", appID, err)
	}
}

// probe returns a handler answering a health probe from a state function
func (s *Server) probe(check func() bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !check() {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	}
}

// -----------------------------------------------------------
// Middleware
// -----------------------------------------------------------

// statusRecorder captures the response status for logging
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// logRequests logs every request with its status and duration
func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(recorder, r)

		Logger.Debugf("%s %s -> %d (%s)", r.Method, r.URL.Path, recorder.status, time.Since(start))
	})
}

// writeError sends a JSON error response
func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
