package dispatcher

import (
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/inferd/inferd/lib/application"
	"github.com/inferd/inferd/lib/runtime"
)

// -----------------------------------------------------------
// Interface Definitions for dependency injection
// -----------------------------------------------------------

// IWorkerHandle is the dispatcher's view of a running worker process.
// The production implementation wraps os/exec; tests substitute fakes.
type IWorkerHandle interface {
	// PID returns the operating system process id
	PID() int

	// Alive reports whether the process is still running
	Alive() bool

	// ExitCode returns the process exit code. ok is false while the
	// process is still running.
	ExitCode() (code int, ok bool)

	// Join waits for the process to exit, at most timeout. It reports
	// whether the process exited within the timeout.
	Join(timeout time.Duration) bool

	// Kill terminates the process forcefully
	Kill() error
}

// SpawnFunc starts a worker process for the given replica slot
type SpawnFunc func(replica int) (IWorkerHandle, error)

// -----------------------------------------------------------
// Worker Process Handle
// -----------------------------------------------------------

// workerProcess wraps a replica subprocess started via os/exec
type workerProcess struct {
	cmd  *exec.Cmd
	done chan struct{}

	mu       sync.Mutex
	exitCode int
	exited   bool
}

// startWorkerProcess launches the given command and reaps it in the
// background
func startWorkerProcess(cmd *exec.Cmd) (IWorkerHandle, error) {
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start worker process: %v", err)
	}

	w := &workerProcess{
		cmd:  cmd,
		done: make(chan struct{}),
	}

	// Reaper: Wait must be called exactly once per process
	go func() {
		err := cmd.Wait()

		code := 0
		if err != nil {
			if exitErr, ok := err.(*exec.ExitError); ok {
				code = exitErr.ExitCode()
			} else {
				code = int(application.ResultInternalError)
			}
		}

		w.mu.Lock()
		w.exitCode = code
		w.exited = true
		w.mu.Unlock()
		close(w.done)
	}()

	return w, nil
}

// --------------------------------------------------------------------------
// Interface Methods (docu see IWorkerHandle)
// --------------------------------------------------------------------------

func (w *workerProcess) PID() int {
	return w.cmd.Process.Pid
}

func (w *workerProcess) Alive() bool {
	select {
	case <-w.done:
		return false
	default:
		return true
	}
}

func (w *workerProcess) ExitCode() (int, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.exitCode, w.exited
}

func (w *workerProcess) Join(timeout time.Duration) bool {
	select {
	case <-w.done:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (w *workerProcess) Kill() error {
	return w.cmd.Process.Kill()
}

// -----------------------------------------------------------
// Default Spawner
// -----------------------------------------------------------

// ProcessSpawner returns a SpawnFunc that re-executes the current binary
// with the hidden worker subcommand for the given application
func ProcessSpawner(appCfg *application.Config, settings runtime.Settings) SpawnFunc {
	return func(replica int) (IWorkerHandle, error) {
		executable, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve own executable: %v", err)
		}

		args := []string{
			"worker",
			"--config", appCfg.File,
			"--index", fmt.Sprintf("%d", replica),
			"--ipc-endpoint", settings.IPCEndpointFor(appCfg.ID),
			"--ipc-transport", settings.IPCTransport,
			"--serializer", settings.Serializer,
			"--log-level", settings.LogLevel,
			"--batching-timeout", settings.BatchingTimeout.String(),
			"--watchdog-ready-period", settings.WatchdogReadyPeriod.String(),
			"--watchdog-request-threshold", settings.WatchdogRequestThreshold.String(),
			"--watchdog-request-average", fmt.Sprintf("%d", settings.WatchdogRequestAverage),
		}

		cmd := exec.Command(executable, args...)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr

		return startWorkerProcess(cmd)
	}
}
