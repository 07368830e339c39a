package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/inferd/inferd/ipc/common"
	"github.com/inferd/inferd/ipc/serializer"
	"github.com/inferd/inferd/ipc/server"
	"github.com/inferd/inferd/lib/application"
	"github.com/inferd/inferd/lib/runtime"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("dispatcher")

// resultPollInterval is how often GetResult re-checks the stash of results
// drained by other callers
const resultPollInterval = 10 * time.Millisecond

// pushResultTimeout bounds how long a replica's result push may block when
// the output queue is full
const pushResultTimeout = 5 * time.Second

// ErrQueueFull is returned by QueueRequest when the input queue is at
// capacity
var ErrQueueFull = application.NewError(application.ResultServerError, "request queue full")

// -----------------------------------------------------------
// Helper Types
// -----------------------------------------------------------

// queuedRequest travels through the input queue to a replica
type queuedRequest struct {
	id     uint64
	params map[string]any
	meta   map[string]any
}

// queuedResult travels through the output queue back to the caller.
// A nil data map marks the request as abandoned.
type queuedResult struct {
	id   uint64
	data map[string]any
}

// ExitRecord documents one replica exit
type ExitRecord struct {
	PID  int
	Code int
}

// -----------------------------------------------------------
// Dispatcher
// -----------------------------------------------------------

// Dispatcher owns the replica pool of one application
type Dispatcher struct {
	appCfg   *application.Config
	settings runtime.Settings
	spawn    SpawnFunc

	input    chan *queuedRequest
	output   chan *queuedResult
	stash    *xsync.MapOf[uint64, *queuedResult]
	inflight *xsync.MapOf[uint64, int] // request id -> replica that dequeued it
	nextID   atomic.Uint64
	ipcSrv   *server.Server
	started  atomic.Bool
	stopped  atomic.Bool

	// replica slot state
	mu          sync.Mutex // guards replicas, spawned and exitRecords
	replicas    []IWorkerHandle
	spawned     []bool // slot has been filled at least once
	exitRecords []ExitRecord
	ready       []atomic.Bool
	failures    []atomic.Int64

	terminate       atomic.Bool
	terminateCh     chan struct{}
	restartLimitHit atomic.Bool

	restartsTotal *metrics.Counter
	queuedTotal   *metrics.Counter
}

// NewDispatcher creates a dispatcher for the given application. A nil spawn
// function selects the default subprocess spawner.
func NewDispatcher(appCfg *application.Config, settings runtime.Settings, spawn SpawnFunc) *Dispatcher {
	if spawn == nil {
		spawn = ProcessSpawner(appCfg, settings)
	}

	n := settings.ReplicateApplication

	d := &Dispatcher{
		appCfg:      appCfg,
		settings:    settings,
		spawn:       spawn,
		input:       make(chan *queuedRequest, settings.QueueSize),
		output:      make(chan *queuedResult, settings.QueueSize),
		stash:       xsync.NewMapOf[uint64, *queuedResult](),
		inflight:    xsync.NewMapOf[uint64, int](),
		replicas:    make([]IWorkerHandle, n),
		spawned:     make([]bool, n),
		ready:       make([]atomic.Bool, n),
		failures:    make([]atomic.Int64, n),
		terminateCh: make(chan struct{}),

		restartsTotal: metrics.GetOrCreateCounter(
			fmt.Sprintf(`inferd_replica_restarts_total{application=%q}`, appCfg.ID)),
		queuedTotal: metrics.GetOrCreateCounter(
			fmt.Sprintf(`inferd_requests_queued_total{application=%q}`, appCfg.ID)),
	}

	metrics.GetOrCreateGauge(
		fmt.Sprintf(`inferd_request_queue_size{application=%q}`, appCfg.ID),
		func() float64 { return float64(len(d.input)) })

	return d
}

// -----------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------

// Start brings the replica pool up. On the first call it also starts the
// IPC server. Subsequent calls refill empty replica slots, so the watchdog
// can use Start to replace reaped replicas. Start is a no-op for slots whose
// restart budget is exhausted.
func (d *Dispatcher) Start() error {
	if d.stopped.Load() || d.terminate.Load() {
		return application.NewError(application.ResultServerError, "dispatcher is stopped")
	}

	if d.started.CompareAndSwap(false, true) {
		if err := d.startIPCServer(); err != nil {
			d.started.Store(false)
			return err
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	for i := range d.replicas {
		if d.replicas[i] != nil {
			continue
		}

		// Restart budget: consecutive failures without a successful
		// dispatch in between
		if int(d.failures[i].Load()) >= d.settings.MaxAllowedRestarts {
			if d.restartLimitHit.CompareAndSwap(false, true) {
				Logger.Errorf("Application %s: replica %d reached the restart limit (%d), pool disabled",
					d.appCfg.ID, i, d.settings.MaxAllowedRestarts)
			}
			continue
		}

		handle, err := d.spawn(i)
		if err != nil {
			return application.Errorf(application.ResultServerError,
				"failed to spawn replica %d of application %s: %v", i, d.appCfg.ID, err)
		}

		if d.spawned[i] {
			d.restartsTotal.Inc()
			Logger.Infof("Application %s: restarted replica %d (pid %d)", d.appCfg.ID, i, handle.PID())
		} else {
			d.spawned[i] = true
			Logger.Infof("Application %s: started replica %d (pid %d)", d.appCfg.ID, i, handle.PID())
		}
		d.replicas[i] = handle
	}

	return nil
}

// Clean reaps replicas that have exited, records their exit codes and frees
// their slots. It returns the newly reaped exits.
func (d *Dispatcher) Clean() []ExitRecord {
	d.mu.Lock()
	defer d.mu.Unlock()

	var reaped []ExitRecord
	for i, handle := range d.replicas {
		if handle == nil || handle.Alive() {
			continue
		}

		code, _ := handle.ExitCode()
		record := ExitRecord{PID: handle.PID(), Code: code}
		Logger.Infof("Application %s: replica %d (pid %d) exited with code %d",
			d.appCfg.ID, i, record.PID, record.Code)

		d.ready[i].Store(false)
		d.replicas[i] = nil
		d.exitRecords = append(d.exitRecords, record)
		reaped = append(reaped, record)
		d.abandonInflight(i)
	}
	return reaped
}

// abandonInflight resolves every request the given replica had dequeued but
// never answered, so their callers are not left waiting on a reply the dead
// process can no longer send
func (d *Dispatcher) abandonInflight(replica int) {
	d.inflight.Range(func(id uint64, r int) bool {
		if r != replica {
			return true
		}
		d.inflight.Delete(id)
		d.stash.Store(id, &queuedResult{id: id})
		Logger.Warningf("Application %s: abandoning request %d, replica %d died before answering",
			d.appCfg.ID, id, replica)
		return true
	})
}

// Stop terminates the replica pool: it raises the termination flag, waits
// for replicas to drain and exit, kills stragglers and shuts the IPC server
// down. Stop is idempotent and returns all recorded exits.
func (d *Dispatcher) Stop() []ExitRecord {
	if !d.started.Load() || !d.stopped.CompareAndSwap(false, true) {
		return d.ExitRecords()
	}

	Logger.Infof("Application %s: stopping replica pool", d.appCfg.ID)
	d.terminate.Store(true)
	close(d.terminateCh)

	d.mu.Lock()
	handles := make([]IWorkerHandle, 0, len(d.replicas))
	for _, h := range d.replicas {
		if h != nil {
			handles = append(handles, h)
		}
	}
	d.mu.Unlock()

	deadline := time.Now().Add(d.settings.StopTimeout)
	for _, h := range handles {
		remaining := time.Until(deadline)
		if remaining < 0 {
			remaining = 0
		}
		if !h.Join(remaining) {
			Logger.Warningf("Application %s: replica pid %d did not exit within %v, killing it",
				d.appCfg.ID, h.PID(), d.settings.StopTimeout)
			if err := h.Kill(); err != nil {
				Logger.Errorf("Failed to kill replica pid %d: %v", h.PID(), err)
			}
			h.Join(time.Second)
		}
	}

	d.Clean()

	if d.ipcSrv != nil {
		if err := d.ipcSrv.Close(); err != nil {
			Logger.Warningf("Failed to close IPC server: %v", err)
		}
	}

	return d.ExitRecords()
}

// startIPCServer wires the transport and serializer from the settings and
// listens in the background
func (d *Dispatcher) startIPCServer() error {
	t, err := server.NewServerTransport(d.settings.IPCTransport)
	if err != nil {
		return err
	}
	s, err := serializer.New(d.settings.Serializer)
	if err != nil {
		return err
	}

	d.ipcSrv = server.New(d, t, s)

	config := common.ServerConfig{
		Endpoint: d.settings.IPCEndpointFor(d.appCfg.ID),
		LogLevel: d.settings.LogLevel,
	}

	go func() {
		if err := d.ipcSrv.Listen(config); err != nil {
			Logger.Errorf("IPC server for application %s failed: %v", d.appCfg.ID, err)
		}
	}()

	return nil
}

// -----------------------------------------------------------
// Request Queue
// -----------------------------------------------------------

// QueueRequest enqueues a request for dispatch and returns its correlation
// id. It fails fast when the pool is stopped, disabled or the queue is full.
func (d *Dispatcher) QueueRequest(params, meta map[string]any) (uint64, error) {
	if !d.started.Load() || d.terminate.Load() {
		return 0, application.NewError(application.ResultServerError, "dispatcher is not running")
	}
	if d.restartLimitHit.Load() {
		return 0, application.Errorf(application.ResultServerError,
			"application %s is disabled, replica restart limit reached", d.appCfg.ID)
	}

	req := &queuedRequest{
		id:     d.nextID.Add(1),
		params: params,
		meta:   meta,
	}

	select {
	case d.input <- req:
		d.queuedTotal.Inc()
		return req.id, nil
	default:
		return 0, ErrQueueFull
	}
}

// GetResult blocks until the result for the given correlation id arrives or
// the context is done. Results drained for other callers are stashed, so
// concurrent GetResult calls do not lose each other's results.
func (d *Dispatcher) GetResult(ctx context.Context, id uint64) (map[string]any, error) {
	finish := func(r *queuedResult) (map[string]any, error) {
		if r.data == nil {
			return nil, application.Errorf(application.ResultApplicationError,
				"request %d was abandoned by its replica", id)
		}
		return r.data, nil
	}

	ticker := time.NewTicker(resultPollInterval)
	defer ticker.Stop()

	for {
		if r, ok := d.stash.LoadAndDelete(id); ok {
			return finish(r)
		}

		select {
		case r := <-d.output:
			if r.id == id {
				return finish(r)
			}
			d.stash.Store(r.id, r)
		case <-ticker.C:
			// Re-check the stash
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// QueueSize returns the number of requests waiting for a replica
func (d *Dispatcher) QueueSize() int {
	return len(d.input)
}

// -----------------------------------------------------------
// Replica State
// -----------------------------------------------------------

// IsReady reports whether the pool can serve requests: at least one replica
// is running and has reported readiness
func (d *Dispatcher) IsReady() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	for i, h := range d.replicas {
		if h != nil && h.Alive() && d.ready[i].Load() {
			return true
		}
	}
	return false
}

// AllReady reports whether every replica is running and has reported
// readiness
func (d *Dispatcher) AllReady() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	for i, h := range d.replicas {
		if h == nil || !h.Alive() || !d.ready[i].Load() {
			return false
		}
	}
	return true
}

// IsAlive reports whether the pool has never given up on a replica. A
// transiently dead replica does not make the pool dead, the watchdog will
// restart it.
func (d *Dispatcher) IsAlive() bool {
	return !d.restartLimitHit.Load()
}

// ReplicaAlive reports whether the given replica's process is running
func (d *Dispatcher) ReplicaAlive(replica int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if replica < 0 || replica >= len(d.replicas) {
		return false
	}
	h := d.replicas[replica]
	return h != nil && h.Alive()
}

// AllAlive reports whether every replica's process is running
func (d *Dispatcher) AllAlive() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, h := range d.replicas {
		if h == nil || !h.Alive() {
			return false
		}
	}
	return true
}

// RestartLimitReached reports whether any replica slot exhausted its restart
// budget. The condition is sticky.
func (d *Dispatcher) RestartLimitReached() bool {
	return d.restartLimitHit.Load()
}

// ExitRecords returns a copy of all recorded replica exits
func (d *Dispatcher) ExitRecords() []ExitRecord {
	d.mu.Lock()
	defer d.mu.Unlock()

	records := make([]ExitRecord, len(d.exitRecords))
	copy(records, d.exitRecords)
	return records
}

// AppConfig returns the descriptor of the hosted application
func (d *Dispatcher) AppConfig() *application.Config {
	return d.appCfg
}

// -----------------------------------------------------------
// IPC Backend (docu see server.Backend)
// -----------------------------------------------------------

func (d *Dispatcher) Dequeue(replica int, timeout time.Duration) (uint64, map[string]any, map[string]any, bool, bool, error) {
	if err := d.checkReplica(replica); err != nil {
		return 0, nil, nil, false, false, err
	}

	if d.terminate.Load() {
		return 0, nil, nil, false, true, nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case req := <-d.input:
		if req.meta == nil {
			req.meta = map[string]any{}
		}
		req.meta["replica"] = replica
		d.inflight.Store(req.id, replica)
		return req.id, req.params, req.meta, true, false, nil
	case <-timer.C:
		return 0, nil, nil, false, false, nil
	case <-d.terminateCh:
		return 0, nil, nil, false, true, nil
	}
}

func (d *Dispatcher) PushResult(replica int, id uint64, result map[string]any) error {
	if err := d.checkReplica(replica); err != nil {
		return err
	}

	d.inflight.Delete(id)

	select {
	case d.output <- &queuedResult{id: id, data: result}:
		return nil
	case <-time.After(pushResultTimeout):
		return fmt.Errorf("output queue of application %s is full", d.appCfg.ID)
	}
}

func (d *Dispatcher) SetReady(replica int, ready bool) error {
	if err := d.checkReplica(replica); err != nil {
		return err
	}

	d.ready[replica].Store(ready)
	Logger.Infof("Application %s: replica %d reported ready=%v", d.appCfg.ID, replica, ready)
	return nil
}

func (d *Dispatcher) ReportFailure(replica int) (int, error) {
	if err := d.checkReplica(replica); err != nil {
		return 0, err
	}

	count := int(d.failures[replica].Add(1))
	Logger.Warningf("Application %s: replica %d reported failure %d/%d",
		d.appCfg.ID, replica, count, d.settings.MaxAllowedRestarts)
	return count, nil
}

func (d *Dispatcher) ClearFailure(replica int) error {
	if err := d.checkReplica(replica); err != nil {
		return err
	}

	d.failures[replica].Store(0)
	return nil
}

// checkReplica validates a replica index received over IPC
func (d *Dispatcher) checkReplica(replica int) error {
	if replica < 0 || replica >= len(d.ready) {
		return fmt.Errorf("invalid replica index %d (pool size %d)", replica, len(d.ready))
	}
	return nil
}
