package router

import (
	"sync"
	"testing"
	"time"

	"github.com/inferd/inferd/lib/application"
)

// -----------------------------------------------------------
// Fakes
// -----------------------------------------------------------

// fakeBroker scripts the coordinator side of the router loop. Dequeue pops
// scripted requests; once the script is exhausted it returns empty polls,
// or a terminate once terminateWhenEmpty is set.
type fakeBroker struct {
	mu                 sync.Mutex
	queue              []*BrokeredRequest
	terminateWhenEmpty bool
	terminateAfterPush bool

	results  map[uint64]map[string]any
	readyLog []bool
	failures int
	clears   int
	closed   bool
}

func newFakeBroker(reqs ...*BrokeredRequest) *fakeBroker {
	return &fakeBroker{
		queue:   reqs,
		results: map[uint64]map[string]any{},
	}
}

func (b *fakeBroker) Dequeue(timeout time.Duration) (*BrokeredRequest, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.queue) > 0 {
		req := b.queue[0]
		b.queue = b.queue[1:]
		return req, false, nil
	}
	if b.terminateWhenEmpty {
		return nil, true, nil
	}

	// Empty poll; back off briefly so the loop doesn't spin
	b.mu.Unlock()
	time.Sleep(time.Millisecond)
	b.mu.Lock()
	return nil, false, nil
}

func (b *fakeBroker) PushResult(id uint64, result map[string]any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.results[id] = result
	if b.terminateAfterPush {
		b.terminateWhenEmpty = true
	}
	return nil
}

func (b *fakeBroker) SetReady(ready bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.readyLog = append(b.readyLog, ready)
	return nil
}

func (b *fakeBroker) ReportFailure() (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	return b.failures, nil
}

func (b *fakeBroker) ClearFailure() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clears++
	return nil
}

func (b *fakeBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// fakeApp is a scriptable application
type fakeApp struct {
	application.BaseApplication

	startupErr  error
	watchdogErr error
	requestFn   func(params, meta map[string]any) (map[string]any, error)

	mu        sync.Mutex
	shutdowns int
}

func (a *fakeApp) Startup() error { return a.startupErr }

func (a *fakeApp) Watchdog() error { return a.watchdogErr }

func (a *fakeApp) Shutdown() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.shutdowns++
	return nil
}

func (a *fakeApp) Request(params, meta map[string]any) (map[string]any, error) {
	if a.requestFn != nil {
		return a.requestFn(params, meta)
	}
	return map[string]any{"echo": params["value"]}, nil
}

// fakeBatchApp additionally supports batched dispatch and records batch sizes
type fakeBatchApp struct {
	fakeApp
	batchFn    func(params, meta []map[string]any) ([]map[string]any, error)
	batchSizes []int
}

func (a *fakeBatchApp) RequestBatch(params, meta []map[string]any) ([]map[string]any, error) {
	a.mu.Lock()
	a.batchSizes = append(a.batchSizes, len(params))
	a.mu.Unlock()

	if a.batchFn != nil {
		return a.batchFn(params, meta)
	}
	results := make([]map[string]any, len(params))
	for i := range params {
		results[i] = map[string]any{"index": i}
	}
	return results, nil
}

func req(id uint64) *BrokeredRequest {
	return &BrokeredRequest{ID: id, Params: map[string]any{"value": id}, Meta: map[string]any{}}
}

// -----------------------------------------------------------
// Tests
// -----------------------------------------------------------

func TestStartupFailure(t *testing.T) {
	app := &fakeApp{startupErr: application.NewError(application.ResultUnmetRequirement, "no device")}
	broker := newFakeBroker()

	code := New(app, broker, Options{MaxBatchSize: 1}).Run()

	if code != int(application.ResultUnmetRequirement) {
		t.Errorf("Expected exit code %d, got %d", application.ResultUnmetRequirement, code)
	}
	if broker.failures != 1 {
		t.Errorf("Expected 1 reported failure, got %d", broker.failures)
	}
	for _, ready := range broker.readyLog {
		if ready {
			t.Error("Replica must not report ready after failed startup")
		}
	}
	if app.shutdowns != 1 {
		t.Errorf("Expected shutdown to run once, got %d", app.shutdowns)
	}
	if !broker.closed {
		t.Error("Expected broker to be closed")
	}
}

func TestSingleRequestRoundTrip(t *testing.T) {
	app := &fakeApp{}
	broker := newFakeBroker(req(1))
	broker.terminateAfterPush = true

	code := New(app, broker, Options{MaxBatchSize: 1}).Run()

	if code != 0 {
		t.Fatalf("Expected exit code 0, got %d", code)
	}

	result, ok := broker.results[1]
	if !ok || result == nil {
		t.Fatalf("Expected a result for request 1, got %v", broker.results)
	}
	if _, ok := result[DispatchLatencyKey]; !ok {
		t.Errorf("Expected result to carry %s, got %v", DispatchLatencyKey, result)
	}
	if broker.clears != 1 {
		t.Errorf("Expected failure count to be cleared once, got %d", broker.clears)
	}
	if len(broker.readyLog) != 2 || !broker.readyLog[0] || broker.readyLog[1] {
		t.Errorf("Expected ready log [true false], got %v", broker.readyLog)
	}
}

func TestFullBatchDispatch(t *testing.T) {
	app := &fakeBatchApp{}
	broker := newFakeBroker(req(1), req(2), req(3))
	broker.terminateAfterPush = true

	code := New(app, broker, Options{
		MaxBatchSize:    3,
		BatchingTimeout: time.Second,
	}).Run()

	if code != 0 {
		t.Fatalf("Expected exit code 0, got %d", code)
	}
	if len(app.batchSizes) != 1 || app.batchSizes[0] != 3 {
		t.Errorf("Expected one dispatch with batch size 3, got %v", app.batchSizes)
	}
	if len(broker.results) != 3 {
		t.Errorf("Expected 3 results, got %d", len(broker.results))
	}
}

func TestPartialBatchAfterTimeout(t *testing.T) {
	app := &fakeBatchApp{}
	broker := newFakeBroker(req(1), req(2))
	broker.terminateAfterPush = true

	code := New(app, broker, Options{
		MaxBatchSize:    4,
		BatchingTimeout: 50 * time.Millisecond,
	}).Run()

	if code != 0 {
		t.Fatalf("Expected exit code 0, got %d", code)
	}
	if len(app.batchSizes) != 1 || app.batchSizes[0] != 2 {
		t.Errorf("Expected one dispatch with partial batch size 2, got %v", app.batchSizes)
	}
}

func TestTerminateDrainsPendingBatch(t *testing.T) {
	app := &fakeBatchApp{}
	broker := newFakeBroker(req(1), req(2))
	broker.terminateWhenEmpty = true

	code := New(app, broker, Options{
		MaxBatchSize:    8,
		BatchingTimeout: time.Minute, // never expires, terminate must drain
	}).Run()

	if code != 0 {
		t.Fatalf("Expected exit code 0, got %d", code)
	}
	if len(app.batchSizes) != 1 || app.batchSizes[0] != 2 {
		t.Errorf("Expected the pending batch of 2 to be dispatched on terminate, got %v", app.batchSizes)
	}
	if len(broker.results) != 2 {
		t.Errorf("Expected 2 results, got %d", len(broker.results))
	}
}

func TestDispatchFailurePushesNilResults(t *testing.T) {
	app := &fakeApp{
		requestFn: func(params, meta map[string]any) (map[string]any, error) {
			return nil, application.NewError(application.ResultApplicationError, "model broke")
		},
	}
	broker := newFakeBroker(req(7))

	code := New(app, broker, Options{MaxBatchSize: 1}).Run()

	if code != int(application.ResultApplicationError) {
		t.Errorf("Expected exit code %d, got %d", application.ResultApplicationError, code)
	}
	result, ok := broker.results[7]
	if !ok {
		t.Fatal("Expected an (abandoned) result for request 7")
	}
	if result != nil {
		t.Errorf("Expected nil result for failed request, got %v", result)
	}
	if broker.failures != 1 {
		t.Errorf("Expected 1 reported failure, got %d", broker.failures)
	}
}

func TestBatchResultShapeMismatch(t *testing.T) {
	app := &fakeBatchApp{
		batchFn: func(params, meta []map[string]any) ([]map[string]any, error) {
			// One result too many
			return make([]map[string]any, len(params)+1), nil
		},
	}
	broker := newFakeBroker(req(1), req(2))

	code := New(app, broker, Options{
		MaxBatchSize:    2,
		BatchingTimeout: time.Second,
	}).Run()

	if code != int(application.ResultApplicationError) {
		t.Errorf("Expected exit code %d, got %d", application.ResultApplicationError, code)
	}
}

func TestShortBatchResultIsPadded(t *testing.T) {
	app := &fakeBatchApp{
		batchFn: func(params, meta []map[string]any) ([]map[string]any, error) {
			// Only answer the first request
			return []map[string]any{{"answered": true}}, nil
		},
	}
	broker := newFakeBroker(req(1), req(2))
	broker.terminateAfterPush = true

	code := New(app, broker, Options{
		MaxBatchSize:    2,
		BatchingTimeout: time.Second,
	}).Run()

	if code != 0 {
		t.Fatalf("Expected exit code 0, got %d", code)
	}
	if result := broker.results[1]; result == nil || result["answered"] != true {
		t.Errorf("Expected the answered result for request 1, got %v", result)
	}

	// The unanswered request gets an empty result, not an abandoned one
	result, ok := broker.results[2]
	if !ok || result == nil {
		t.Fatalf("Expected a padded result for request 2, got %v (present=%v)", result, ok)
	}
	if _, ok := result["answered"]; ok {
		t.Errorf("Expected the padded result to be empty, got %v", result)
	}
}

func TestBatchingRequiresBatchedApplication(t *testing.T) {
	app := &fakeApp{}
	broker := newFakeBroker()

	code := New(app, broker, Options{MaxBatchSize: 4}).Run()

	if code != int(application.ResultApplicationConfigError) {
		t.Errorf("Expected exit code %d, got %d", application.ResultApplicationConfigError, code)
	}
	if broker.failures != 1 {
		t.Errorf("Expected 1 reported failure, got %d", broker.failures)
	}
}

func TestReadyWatchdogFailure(t *testing.T) {
	app := &fakeApp{watchdogErr: application.NewError(application.ResultFail, "self check failed")}
	broker := newFakeBroker()

	code := New(app, broker, Options{
		MaxBatchSize:        1,
		WatchdogReadyPeriod: time.Millisecond,
	}).Run()

	if code != int(application.ResultApplicationTestError) {
		t.Errorf("Expected exit code %d, got %d", application.ResultApplicationTestError, code)
	}
	if broker.failures != 1 {
		t.Errorf("Expected 1 reported failure, got %d", broker.failures)
	}
}

func TestReadyWatchdogRunsWhileBatching(t *testing.T) {
	app := &fakeBatchApp{
		fakeApp: fakeApp{watchdogErr: application.NewError(application.ResultFail, "self check failed")},
	}
	broker := newFakeBroker(req(1))

	code := New(app, broker, Options{
		MaxBatchSize:        4,
		BatchingTimeout:     time.Minute, // the watchdog must fire long before this
		WatchdogReadyPeriod: time.Millisecond,
	}).Run()

	if code != int(application.ResultApplicationTestError) {
		t.Errorf("Expected exit code %d, got %d", application.ResultApplicationTestError, code)
	}

	// The request caught in the dead batch is answered, not dispatched
	if result, ok := broker.results[1]; !ok || result != nil {
		t.Errorf("Expected an abandoned result for request 1, got %v (present=%v)", result, ok)
	}
	if len(app.batchSizes) != 0 {
		t.Errorf("Expected no dispatch into the failing application, got %v", app.batchSizes)
	}
}

func TestDurationWatchdogRetiresGracefully(t *testing.T) {
	app := &fakeApp{
		requestFn: func(params, meta map[string]any) (map[string]any, error) {
			time.Sleep(5 * time.Millisecond)
			return map[string]any{}, nil
		},
	}
	broker := newFakeBroker(req(1))

	code := New(app, broker, Options{
		MaxBatchSize:             1,
		WatchdogRequestThreshold: time.Millisecond,
		WatchdogRequestAverage:   1,
	}).Run()

	// A slow replica retires itself with a clean exit, no failure counted
	if code != 0 {
		t.Errorf("Expected exit code 0, got %d", code)
	}
	if broker.failures != 0 {
		t.Errorf("Expected no reported failures, got %d", broker.failures)
	}
	if broker.results[1] == nil {
		t.Error("Expected the slow request to still get its result")
	}
	if app.shutdowns != 1 {
		t.Errorf("Expected shutdown to run once, got %d", app.shutdowns)
	}
}
