package dispatcher

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/inferd/inferd/lib/application"
	"github.com/inferd/inferd/lib/runtime"
)

// testApps creates a facade with one fake-spawned application and returns
// the facade, the app id and the spawner
func testApps(t *testing.T, settings runtime.Settings, notify NotifyErrorFunc) (*Applications, string, *fakeSpawner) {
	t.Helper()

	testAppCounter++
	appCfg := &application.Config{
		ID:           fmt.Sprintf("facade-app-%d", testAppCounter),
		Name:         "facade app",
		Factory:      "echo",
		MaxBatchSize: 1,
	}

	apps := NewApplications(settings, notify)
	spawner := newFakeSpawner()
	if err := apps.Add(appCfg, spawner.spawn); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	t.Cleanup(apps.Stop)
	return apps, appCfg.ID, spawner
}

// startAndReady runs Start in the background and marks replicas ready as
// they come up, mimicking what real replicas do over IPC
func startAndReady(t *testing.T, apps *Applications, appID string, spawner *fakeSpawner, replicas int) {
	t.Helper()

	errCh := make(chan error, 1)
	go func() { errCh <- apps.Start() }()

	d, _ := apps.Get(appID)
	deadline := time.Now().Add(5 * time.Second)
	for i := 0; i < replicas; i++ {
		for spawner.handle(i) == nil {
			if time.Now().After(deadline) {
				t.Fatal("Replicas were not spawned in time")
			}
			time.Sleep(time.Millisecond)
		}
		if err := d.SetReady(i, true); err != nil {
			t.Fatalf("SetReady failed: %v", err)
		}
	}

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Start failed: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after all replicas reported ready")
	}
}

func TestStartWaitsForReadiness(t *testing.T) {
	settings := testSettings(t, 2)
	apps, appID, spawner := testApps(t, settings, nil)

	startAndReady(t, apps, appID, spawner, 2)

	if !apps.StartupComplete() {
		t.Error("Expected startup to be complete")
	}
	if !apps.AllReady() {
		t.Error("Expected all replicas ready")
	}
	if !apps.AllAlive() {
		t.Error("Expected all replicas alive")
	}
}

func TestStartFailsWhenReplicaDiesOnStartup(t *testing.T) {
	settings := testSettings(t, 1)
	apps, appID, spawner := testApps(t, settings, nil)

	errCh := make(chan error, 1)
	go func() { errCh <- apps.Start() }()

	// The replica exits with an unmet requirement instead of reporting ready
	deadline := time.Now().Add(5 * time.Second)
	for spawner.handle(0) == nil {
		if time.Now().After(deadline) {
			t.Fatal("Replica was not spawned in time")
		}
		time.Sleep(time.Millisecond)
	}
	spawner.handle(0).exit(int(application.ResultUnmetRequirement))

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("Expected start to fail")
		}
		if code := application.CodeOf(err); code != application.ResultUnmetRequirement {
			t.Errorf("Expected result code %d, got %d (%v)", application.ResultUnmetRequirement, code, err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after the replica died")
	}

	if apps.StartupComplete() {
		t.Error("Startup must not be marked complete after a failure")
	}
	_ = appID
}

func TestStopCancelsStartup(t *testing.T) {
	settings := testSettings(t, 1)
	apps, _, _ := testApps(t, settings, nil)

	errCh := make(chan error, 1)
	go func() { errCh <- apps.Start() }()

	// The replica never reports ready; Stop must abort the readiness wait
	time.Sleep(10 * time.Millisecond)
	apps.Stop()

	select {
	case err := <-errCh:
		if err == nil {
			t.Error("Expected a cancelled start to report an error")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not cancel the startup wait")
	}

	if apps.StartupComplete() {
		t.Error("Startup must not be marked complete after cancellation")
	}
}

func TestFacadeProbePredicates(t *testing.T) {
	settings := testSettings(t, 2)
	apps, appID, spawner := testApps(t, settings, nil)

	if apps.IsReady() || apps.IsAlive() {
		t.Error("Probes must report false before startup completes")
	}

	startAndReady(t, apps, appID, spawner, 2)

	if !apps.IsReady() || !apps.IsAlive() {
		t.Error("Expected a started facade to report ready and alive")
	}

	// One dead replica: still ready through the survivor, still alive
	d, _ := apps.Get(appID)
	spawner.handle(1).exit(int(application.ResultApplicationError))
	d.Clean()

	if !apps.IsReady() {
		t.Error("Expected ready with one live, ready replica")
	}
	if apps.AllReady() {
		t.Error("Expected AllReady to drop with a dead replica")
	}
	if !apps.IsAlive() {
		t.Error("A recoverable dead replica must not make the runtime dead")
	}
}

func TestWatchdogRestartsDeadReplica(t *testing.T) {
	settings := testSettings(t, 1)
	settings.WatchdogPeriod = 10 * time.Millisecond
	apps, appID, spawner := testApps(t, settings, nil)

	startAndReady(t, apps, appID, spawner, 1)

	// Retire the replica gracefully, the watchdog must bring up a new one
	first := spawner.handle(0)
	first.exit(0)

	deadline := time.Now().Add(5 * time.Second)
	for spawner.spawnCount() < 2 {
		if time.Now().After(deadline) {
			t.Fatal("Watchdog did not respawn the replica in time")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if spawner.handle(0) == first {
		t.Error("Expected a fresh handle for the respawned replica")
	}
}

func TestWatchdogNotifiesOnRestartLimit(t *testing.T) {
	settings := testSettings(t, 1)
	settings.WatchdogPeriod = 10 * time.Millisecond
	settings.MaxAllowedRestarts = 1

	notifyCh := make(chan error, 4)
	apps, appID, spawner := testApps(t, settings, func(id string, err error) {
		notifyCh <- err
	})

	startAndReady(t, apps, appID, spawner, 1)

	// The replica fails and exits; with a budget of one failure the pool
	// is disabled instead of restarted
	d, _ := apps.Get(appID)
	if _, err := d.ReportFailure(0); err != nil {
		t.Fatalf("ReportFailure failed: %v", err)
	}
	spawner.handle(0).exit(int(application.ResultApplicationError))

	select {
	case err := <-notifyCh:
		if code := application.CodeOf(err); code != application.ResultApplicationError {
			t.Errorf("Expected result code %d, got %v", application.ResultApplicationError, err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Expected the watchdog to report the disabled pool")
	}

	if !d.RestartLimitReached() {
		t.Error("Expected the restart limit to be reached")
	}

	// The notification fires only once
	select {
	case err := <-notifyCh:
		t.Errorf("Expected a single notification, got another: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestResultFileRecordsExits(t *testing.T) {
	settings := testSettings(t, 1)
	settings.ResultFile = filepath.Join(t.TempDir(), "results.txt")
	apps, appID, spawner := testApps(t, settings, nil)

	startAndReady(t, apps, appID, spawner, 1)

	h := spawner.handle(0)
	h.exit(3)
	apps.Stop()

	data, err := os.ReadFile(settings.ResultFile)
	if err != nil {
		t.Fatalf("Failed to read result file: %v", err)
	}

	want := fmt.Sprintf("%d:3", h.PID())
	if !strings.Contains(string(data), want) {
		t.Errorf("Expected result file to contain %q, got %q", want, string(data))
	}
}

func TestAggregateExitCode(t *testing.T) {
	unmet := int(application.ResultUnmetRequirement)
	config := int(application.ResultApplicationConfigError)

	cases := map[string]struct {
		codes []int
		want  application.ResultCode
	}{
		"only unmet requirement": {[]int{unmet, unmet}, application.ResultUnmetRequirement},
		"single specific code":   {[]int{config}, application.ResultApplicationConfigError},
		"mixed codes":            {[]int{unmet, config}, application.ResultApplicationError},
		"only clean exits":       {[]int{0, 0}, application.ResultApplicationError},
		"clean and unmet":        {[]int{0, unmet}, application.ResultUnmetRequirement},
	}

	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			if got := aggregateExitCode(c.codes); got != c.want {
				t.Errorf("aggregateExitCode(%v) = %d, want %d", c.codes, got, c.want)
			}
		})
	}
}
