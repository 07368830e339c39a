package dispatcher

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/inferd/inferd/lib/application"
	"github.com/inferd/inferd/lib/runtime"
	"github.com/puzpuzpuz/xsync/v3"
)

// startupPollInterval is how often Start re-checks replica readiness while
// waiting for the pools to come up
const startupPollInterval = 1 * time.Second

// NotifyErrorFunc is called when an application's replica pool fails
// permanently (restart limit reached). The serve command uses it to append
// to the result file and, with stop-on-error, to shut the runtime down.
type NotifyErrorFunc func(appID string, err error)

// -----------------------------------------------------------
// Applications Facade
// -----------------------------------------------------------

// Applications bundles the dispatchers of all hosted applications and runs
// the coordinator-side watchdog that reaps and respawns dead replicas
type Applications struct {
	settings runtime.Settings
	notify   NotifyErrorFunc

	dispatchers *xsync.MapOf[string, *Dispatcher]
	order       []string // insertion order, for deterministic iteration

	watchdogStop chan struct{}
	watchdogDone chan struct{}

	started     atomic.Bool
	startupDone atomic.Bool
	stopped     atomic.Bool

	// per-application count of exits already written to the result file
	writtenMu    sync.Mutex
	writtenExits map[string]int

	// applications already reported through notify
	notifiedMu sync.Mutex
	notified   map[string]bool
}

// NewApplications creates an empty facade. notify may be nil.
func NewApplications(settings runtime.Settings, notify NotifyErrorFunc) *Applications {
	return &Applications{
		settings:     settings,
		notify:       notify,
		dispatchers:  xsync.NewMapOf[string, *Dispatcher](),
		watchdogStop: make(chan struct{}),
		watchdogDone: make(chan struct{}),
		writtenExits: map[string]int{},
		notified:     map[string]bool{},
	}
}

// Add registers an application before Start. A nil spawn function selects
// the default subprocess spawner.
func (a *Applications) Add(appCfg *application.Config, spawn SpawnFunc) error {
	if a.started.Load() {
		return fmt.Errorf("cannot add application %s after start", appCfg.ID)
	}
	if _, exists := a.dispatchers.Load(appCfg.ID); exists {
		return fmt.Errorf("application %s is already registered", appCfg.ID)
	}

	a.dispatchers.Store(appCfg.ID, NewDispatcher(appCfg, a.settings, spawn))
	a.order = append(a.order, appCfg.ID)
	return nil
}

// -----------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------

// Start brings every application's replica pool up and blocks until all
// replicas report readiness. A replica exiting during startup fails the
// whole start; the error carries the aggregated exit code. Stop cancels a
// start still waiting for readiness, so callers may run Start on its own
// goroutine alongside the front server.
func (a *Applications) Start() error {
	if len(a.order) == 0 {
		return fmt.Errorf("no applications registered")
	}
	if !a.started.CompareAndSwap(false, true) {
		return fmt.Errorf("applications already started")
	}

	for _, id := range a.order {
		d, _ := a.dispatchers.Load(id)
		if err := d.Start(); err != nil {
			a.Stop()
			return err
		}
	}

	// Wait for readiness, watching for replicas dying on the way up
	for {
		allReady := true
		for _, id := range a.order {
			d, _ := a.dispatchers.Load(id)

			reaped := d.Clean()
			a.syncResultFile(id, d)

			if len(reaped) > 0 || d.RestartLimitReached() {
				codes := exitCodes(d.ExitRecords())
				a.Stop()
				return application.Errorf(aggregateExitCode(codes),
					"application %s failed to start, replica exit codes %v", id, codes)
			}

			if !d.AllReady() {
				allReady = false
			}
		}

		if allReady {
			break
		}

		select {
		case <-a.watchdogStop:
			return application.NewError(application.ResultServerError, "startup cancelled")
		case <-time.After(startupPollInterval):
		}
	}

	a.startupDone.Store(true)
	Logger.Infof("All applications ready")

	go a.watchdogLoop()
	return nil
}

// Stop shuts every replica pool down. Idempotent.
func (a *Applications) Stop() {
	if !a.stopped.CompareAndSwap(false, true) {
		return
	}

	close(a.watchdogStop)
	if a.startupDone.Load() {
		<-a.watchdogDone
	}

	for _, id := range a.order {
		d, _ := a.dispatchers.Load(id)
		d.Stop()
		a.syncResultFile(id, d)
	}
}

// watchdogLoop periodically reaps dead replicas and starts replacements
func (a *Applications) watchdogLoop() {
	defer close(a.watchdogDone)

	period := a.settings.WatchdogPeriod
	if period <= 0 {
		period = 10 * time.Second
	}

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-a.watchdogStop:
			return
		case <-ticker.C:
		}

		for _, id := range a.order {
			d, _ := a.dispatchers.Load(id)

			reaped := d.Clean()
			a.syncResultFile(id, d)
			if len(reaped) > 0 {
				Logger.Warningf("Watchdog reaped %d replica(s) of application %s", len(reaped), id)
			}

			if err := d.Start(); err != nil {
				Logger.Errorf("Watchdog failed to restart replicas of application %s: %v", id, err)
			}

			if d.RestartLimitReached() {
				a.notifyOnce(id, application.Errorf(aggregateExitCode(exitCodes(d.ExitRecords())),
					"application %s reached the replica restart limit", id))
			}
		}
	}
}

// -----------------------------------------------------------
// State Queries
// -----------------------------------------------------------

// Get returns the dispatcher of an application
func (a *Applications) Get(appID string) (*Dispatcher, bool) {
	return a.dispatchers.Load(appID)
}

// IDs returns the registered application ids in insertion order
func (a *Applications) IDs() []string {
	ids := make([]string, len(a.order))
	copy(ids, a.order)
	return ids
}

// StartupComplete reports whether Start has finished successfully
func (a *Applications) StartupComplete() bool {
	return a.startupDone.Load()
}

// IsReady reports whether every application has at least one live, ready
// replica. Always false before startup completes.
func (a *Applications) IsReady() bool {
	if !a.startupDone.Load() {
		return false
	}
	for _, id := range a.order {
		d, _ := a.dispatchers.Load(id)
		if !d.IsReady() {
			return false
		}
	}
	return true
}

// IsAlive reports whether no application's replica pool has given up.
// Always false before startup completes.
func (a *Applications) IsAlive() bool {
	if !a.startupDone.Load() {
		return false
	}
	for _, id := range a.order {
		d, _ := a.dispatchers.Load(id)
		if !d.IsAlive() {
			return false
		}
	}
	return true
}

// AllReady reports whether every replica of every application is live and
// ready
func (a *Applications) AllReady() bool {
	if !a.startupDone.Load() {
		return false
	}
	for _, id := range a.order {
		d, _ := a.dispatchers.Load(id)
		if !d.AllReady() {
			return false
		}
	}
	return true
}

// AllAlive reports whether every replica of every application is running
func (a *Applications) AllAlive() bool {
	if !a.startupDone.Load() {
		return false
	}
	for _, id := range a.order {
		d, _ := a.dispatchers.Load(id)
		if !d.AllAlive() {
			return false
		}
	}
	return true
}

// -----------------------------------------------------------
// Helper Methods
// -----------------------------------------------------------

// notifyOnce reports a permanent application failure exactly once
func (a *Applications) notifyOnce(appID string, err error) {
	a.notifiedMu.Lock()
	already := a.notified[appID]
	a.notified[appID] = true
	a.notifiedMu.Unlock()

	if already || a.notify == nil {
		return
	}
	a.notify(appID, err)
}

// syncResultFile appends exits not yet written to the result file, one
// "<pid>:<code>" line per exit
func (a *Applications) syncResultFile(appID string, d *Dispatcher) {
	if a.settings.ResultFile == "" {
		return
	}

	records := d.ExitRecords()

	a.writtenMu.Lock()
	defer a.writtenMu.Unlock()

	written := a.writtenExits[appID]
	if written >= len(records) {
		return
	}

	f, err := os.OpenFile(a.settings.ResultFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		Logger.Errorf("Failed to open result file %s: %v", a.settings.ResultFile, err)
		return
	}
	defer f.Close()

	for _, record := range records[written:] {
		if _, err := fmt.Fprintf(f, "%d:%d\n", record.PID, record.Code); err != nil {
			Logger.Errorf("Failed to write result file %s: %v", a.settings.ResultFile, err)
			return
		}
		a.writtenExits[appID]++
	}
}

// exitCodes extracts the exit codes from a slice of exit records
func exitCodes(records []ExitRecord) []int {
	codes := make([]int, len(records))
	for i, r := range records {
		codes[i] = r.Code
	}
	return codes
}

// aggregateExitCode folds replica exit codes into one result code. An unmet
// requirement is only reported if it is the sole failure reason; mixed
// failures are reported as a generic application error.
func aggregateExitCode(codes []int) application.ResultCode {
	distinct := map[int]bool{}
	for _, c := range codes {
		if c != 0 {
			distinct[c] = true
		}
	}

	switch {
	case len(distinct) == 0:
		return application.ResultApplicationError
	case len(distinct) == 1 && distinct[int(application.ResultUnmetRequirement)]:
		return application.ResultUnmetRequirement
	case len(distinct) == 1:
		for c := range distinct {
			return application.ResultCode(c)
		}
	}
	return application.ResultApplicationError
}
