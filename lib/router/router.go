package router

import (
	"time"

	"github.com/inferd/inferd/lib/application"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/rcrowley/go-metrics"
)

var Logger = logger.GetLogger("router")

// DispatchLatencyKey is the result key under which the router reports the
// application dispatch duration (in seconds) for each request
const DispatchLatencyKey = "metrics-dispatch-latency"

// dequeuePollTimeout caps a single dequeue long-poll so the router notices
// a terminate flag within this period even when no requests arrive
const dequeuePollTimeout = 1 * time.Second

// -----------------------------------------------------------
// Interface Definitions for dependency injection
// -----------------------------------------------------------

// BrokeredRequest is one request handed to a replica by the coordinator
type BrokeredRequest struct {
	// ID correlates the request with its result
	ID uint64

	// Params holds the caller-supplied inputs
	Params map[string]any

	// Meta holds per-request metadata added by the runtime
	Meta map[string]any
}

// IBroker is the replica's view of the coordinator. The ipc/client package
// provides the production implementation; tests substitute fakes.
type IBroker interface {
	// Dequeue long-polls for the next request, waiting at most timeout.
	// It returns (nil, false, nil) when no request arrived in time and
	// (nil, true, nil) when the coordinator asks the replica to terminate.
	Dequeue(timeout time.Duration) (req *BrokeredRequest, terminate bool, err error)

	// PushResult sends the result for a request back to the coordinator.
	// A nil result signals that the request failed.
	PushResult(id uint64, result map[string]any) error

	// SetReady reports the replica's readiness to the coordinator
	SetReady(ready bool) error

	// ReportFailure increments the replica's consecutive failure count and
	// returns the new count
	ReportFailure() (int, error)

	// ClearFailure resets the replica's consecutive failure count
	ClearFailure() error

	// Close releases the broker's connection
	Close() error
}

// -----------------------------------------------------------
// Helper Types
// -----------------------------------------------------------

type routerState int

const (
	stateStarting routerState = iota
	stateIdle
	stateBatching
	stateDispatching
	stateTerminating
)

// Router drives one application instance inside a worker replica
type Router struct {
	app          application.IApplication
	broker       IBroker
	maxBatchSize int

	batchingTimeout     time.Duration
	readyPeriod         time.Duration
	durationThreshold   time.Duration
	durationSampleCount int

	// rolling window of recent dispatch durations (per request)
	durations    []time.Duration
	durationIdx  int
	durationFull bool

	// dispatch latency distribution, exposed via the metrics registry
	timer metrics.Timer

	batch         []*BrokeredRequest
	batchDeadline time.Time
	lastWatchdog  time.Time

	state    routerState
	exitCode application.ResultCode
}

// Options configures a Router
type Options struct {
	// MaxBatchSize is the largest batch handed to the application (1
	// disables batching)
	MaxBatchSize int

	// BatchingTimeout is how long to wait for further requests before
	// dispatching a partial batch
	BatchingTimeout time.Duration

	// WatchdogReadyPeriod is how often the application's Watchdog check
	// runs while the replica is idle (0 disables it)
	WatchdogReadyPeriod time.Duration

	// WatchdogRequestThreshold makes the replica retire itself when the
	// mean dispatch duration over WatchdogRequestAverage recent requests
	// exceeds it (0 disables it)
	WatchdogRequestThreshold time.Duration

	// WatchdogRequestAverage is the window size for the duration watchdog
	WatchdogRequestAverage int
}

// New creates a router for the given application and broker
func New(app application.IApplication, broker IBroker, opts Options) *Router {
	maxBatchSize := opts.MaxBatchSize
	if maxBatchSize < 1 {
		maxBatchSize = 1
	}
	sampleCount := opts.WatchdogRequestAverage
	if sampleCount < 1 {
		sampleCount = 1
	}

	return &Router{
		app:                 app,
		broker:              broker,
		maxBatchSize:        maxBatchSize,
		batchingTimeout:     opts.BatchingTimeout,
		readyPeriod:         opts.WatchdogReadyPeriod,
		durationThreshold:   opts.WatchdogRequestThreshold,
		durationSampleCount: sampleCount,
		durations:           make([]time.Duration, sampleCount),
		timer:               metrics.GetOrRegisterTimer("router.dispatch.latency", nil),
		batch:               make([]*BrokeredRequest, 0, maxBatchSize),
		state:               stateStarting,
	}
}

// -----------------------------------------------------------
// Run Loop
// -----------------------------------------------------------

// Run drives the state machine until the replica terminates and returns the
// process exit code. It never panics back to the caller; every failure path
// reports to the coordinator and shuts the application down first.
func (r *Router) Run() int {
	for {
		switch r.state {
		case stateStarting:
			r.runStarting()
		case stateIdle:
			r.runIdle()
		case stateBatching:
			r.runBatching()
		case stateDispatching:
			r.runDispatching()
		case stateTerminating:
			return r.runTerminating()
		}
	}
}

// runStarting brings the application up and reports readiness
func (r *Router) runStarting() {
	// Batching requires the batched interface
	if r.maxBatchSize > 1 {
		if _, ok := r.app.(application.IBatchedApplication); !ok {
			Logger.Errorf("Application does not support batching but max batch size is %d", r.maxBatchSize)
			r.fail(application.NewError(application.ResultApplicationConfigError, "application does not support batching"))
			return
		}
	}

	Logger.Infof("Starting application")
	if err := r.app.Startup(); err != nil {
		Logger.Errorf("Application startup failed: %v", err)
		r.fail(err)
		return
	}

	if err := r.broker.SetReady(true); err != nil {
		Logger.Errorf("Failed to report readiness: %v", err)
		r.fail(application.Errorf(application.ResultNetworkError, "failed to report readiness: %v", err))
		return
	}

	Logger.Infof("Application ready")
	r.lastWatchdog = time.Now()
	r.state = stateIdle
}

// runIdle waits for the first request of a batch
func (r *Router) runIdle() {
	req, terminate, err := r.broker.Dequeue(r.pollTimeout())
	if err != nil {
		Logger.Errorf("Dequeue failed: %v", err)
		r.fail(application.Errorf(application.ResultNetworkError, "dequeue failed: %v", err))
		return
	}

	if terminate {
		r.state = stateTerminating
		return
	}

	if req == nil {
		// Idle period, give the application its watchdog slot
		if !r.runReadyWatchdog() {
			return
		}
		return
	}

	r.batch = append(r.batch, req)
	if r.maxBatchSize == 1 {
		r.state = stateDispatching
		return
	}

	r.batchDeadline = time.Now().Add(r.batchingTimeout)
	r.state = stateBatching
}

// runBatching collects further requests until the batch is full or the
// batching timeout expires
func (r *Router) runBatching() {
	remaining := time.Until(r.batchDeadline)
	if remaining <= 0 || len(r.batch) >= r.maxBatchSize {
		r.state = stateDispatching
		return
	}
	if remaining > dequeuePollTimeout {
		remaining = dequeuePollTimeout
	}

	req, terminate, err := r.broker.Dequeue(remaining)
	if err != nil {
		Logger.Errorf("Dequeue failed: %v", err)
		r.fail(application.Errorf(application.ResultNetworkError, "dequeue failed: %v", err))
		return
	}

	if terminate {
		// Drain what we have before exiting
		r.state = stateTerminating
		return
	}

	if req != nil {
		r.batch = append(r.batch, req)
		return
	}

	// Empty poll while accumulating, the watchdog gets its slot here too
	r.runReadyWatchdog()
}

// runDispatching hands the collected batch to the application
func (r *Router) runDispatching() {
	batch := r.batch
	r.batch = r.batch[:0]

	start := time.Now()
	results, err := r.dispatch(batch)
	elapsed := time.Since(start)
	r.timer.Update(elapsed)

	if err != nil {
		Logger.Errorf("Dispatch of %d request(s) failed: %v", len(batch), err)

		// The caller gets nil results, the coordinator counts the failure
		for _, req := range batch {
			if pushErr := r.broker.PushResult(req.ID, nil); pushErr != nil {
				Logger.Errorf("Failed to push failure result for request %d: %v", req.ID, pushErr)
			}
		}
		r.fail(err)
		return
	}

	// Per-request latency, also reported to the caller
	perRequest := elapsed / time.Duration(len(batch))
	for i, req := range batch {
		result := results[i]
		if result != nil {
			result[DispatchLatencyKey] = perRequest.Seconds()
		}
		if pushErr := r.broker.PushResult(req.ID, result); pushErr != nil {
			Logger.Errorf("Failed to push result for request %d: %v", req.ID, pushErr)
			r.fail(application.Errorf(application.ResultNetworkError, "failed to push result: %v", pushErr))
			return
		}
	}

	if err := r.broker.ClearFailure(); err != nil {
		Logger.Warningf("Failed to clear failure count: %v", err)
	}

	// Duration watchdog: a consistently slow replica retires gracefully so
	// the coordinator replaces it with a fresh one
	if r.recordDuration(perRequest) {
		Logger.Warningf("Mean dispatch duration over last %d request(s) exceeds %v, retiring replica",
			r.durationSampleCount, r.durationThreshold)
		r.exitCode = application.ResultOK
		r.state = stateTerminating
		return
	}

	r.lastWatchdog = time.Now()
	r.state = stateIdle
}

// runTerminating drains the current batch and shuts the application down
func (r *Router) runTerminating() int {
	if len(r.batch) > 0 {
		if r.exitCode == application.ResultOK {
			Logger.Infof("Dispatching %d pending request(s) before terminating", len(r.batch))
			r.state = stateDispatching
			r.runDispatching()
			if r.state != stateTerminating {
				// Dispatch succeeded, continue terminating anyway
				r.state = stateTerminating
			}
		} else {
			// The application already failed, answer the pending batch with
			// abandoned results instead of dispatching into it
			Logger.Warningf("Abandoning %d pending request(s)", len(r.batch))
			for _, req := range r.batch {
				if err := r.broker.PushResult(req.ID, nil); err != nil {
					Logger.Errorf("Failed to push abandoned result for request %d: %v", req.ID, err)
				}
			}
			r.batch = r.batch[:0]
		}
	}

	if err := r.broker.SetReady(false); err != nil {
		Logger.Warningf("Failed to clear readiness: %v", err)
	}

	Logger.Infof("Shutting down application")
	if err := r.app.Shutdown(); err != nil {
		Logger.Errorf("Application shutdown failed: %v", err)
		if r.exitCode == application.ResultOK {
			r.exitCode = application.CodeOf(err)
		}
	}

	if err := r.broker.Close(); err != nil {
		Logger.Warningf("Failed to close broker: %v", err)
	}

	Logger.Infof("Replica exiting with code %d", int(r.exitCode))
	return int(r.exitCode)
}

// -----------------------------------------------------------
// Helper Methods
// -----------------------------------------------------------

// dispatch calls the application with the batch, validating the result shape
func (r *Router) dispatch(batch []*BrokeredRequest) ([]map[string]any, error) {
	if len(batch) == 1 {
		result, err := r.app.Request(batch[0].Params, batch[0].Meta)
		if err != nil {
			return nil, err
		}
		return []map[string]any{result}, nil
	}

	batched := r.app.(application.IBatchedApplication)

	params := make([]map[string]any, len(batch))
	meta := make([]map[string]any, len(batch))
	for i, req := range batch {
		params[i] = req.Params
		meta[i] = req.Meta
	}

	results, err := batched.RequestBatch(params, meta)
	if err != nil {
		return nil, err
	}

	if len(results) > len(batch) {
		return nil, application.Errorf(application.ResultApplicationError,
			"application returned %d results for %d requests", len(results), len(batch))
	}

	// Pad short result slices with empty results so every caller in the
	// batch still receives a reply
	for len(results) < len(batch) {
		results = append(results, map[string]any{})
	}
	return results, nil
}

// runReadyWatchdog runs the application's self-check if the ready period has
// elapsed. Returns false if the check failed and the router entered its
// failure path.
func (r *Router) runReadyWatchdog() bool {
	if r.readyPeriod <= 0 || time.Since(r.lastWatchdog) < r.readyPeriod {
		return true
	}
	r.lastWatchdog = time.Now()

	if err := r.app.Watchdog(); err != nil {
		Logger.Errorf("Application watchdog check failed: %v", err)
		r.fail(application.Errorf(application.ResultApplicationTestError, "watchdog check failed: %v", err))
		return false
	}
	return true
}

// recordDuration adds a per-request duration to the rolling window and
// reports whether the duration watchdog tripped
func (r *Router) recordDuration(d time.Duration) bool {
	if r.durationThreshold <= 0 {
		return false
	}

	r.durations[r.durationIdx] = d
	r.durationIdx = (r.durationIdx + 1) % r.durationSampleCount
	if r.durationIdx == 0 {
		r.durationFull = true
	}

	// Only judge once the window is full
	if !r.durationFull {
		return false
	}

	var sum time.Duration
	for _, v := range r.durations {
		sum += v
	}
	mean := sum / time.Duration(r.durationSampleCount)
	return mean > r.durationThreshold
}

// pollTimeout bounds a single idle dequeue poll so terminate flags and
// watchdog slots are honored promptly
func (r *Router) pollTimeout() time.Duration {
	timeout := dequeuePollTimeout
	if r.readyPeriod > 0 && r.readyPeriod < timeout {
		timeout = r.readyPeriod
	}
	return timeout
}

// fail reports a failure to the coordinator and enters the terminating state
// with the failure's result code
func (r *Router) fail(err error) {
	if _, reportErr := r.broker.ReportFailure(); reportErr != nil {
		Logger.Warningf("Failed to report failure: %v", reportErr)
	}
	r.exitCode = application.CodeOf(err)
	r.state = stateTerminating
}
