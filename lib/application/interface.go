package application

// ----------------------------------------------
// Application Interfaces
// ----------------------------------------------

// IApplication is the interface every hosted application implements. One
// instance lives in each worker replica; all methods are called from a single
// goroutine, so implementations do not need to be thread-safe.
type IApplication interface {
	// Build prepares artifacts the application needs before any replica is
	// started (model download, compilation, cache warming). It runs once,
	// outside the replica pool, and may be a no-op.
	Build() error

	// Startup loads the application's resources into the replica process.
	// The replica is only reported ready once Startup returns nil.
	Startup() error

	// Request processes a single request. params holds the caller-supplied
	// inputs, meta holds per-request metadata added by the runtime. The
	// returned map is the result sent back to the caller.
	Request(params map[string]any, meta map[string]any) (map[string]any, error)

	// Shutdown releases the application's resources. It is called once
	// before the replica exits, also after a failed Startup.
	Shutdown() error

	// Watchdog is called periodically while the replica is idle. Returning
	// an error marks the replica unhealthy and triggers a restart.
	Watchdog() error
}

// IBatchedApplication is implemented by applications that can process
// multiple requests in one call. If the configured max batch size is greater
// than one the replica collects requests into a batch and calls RequestBatch;
// the returned slice must have one result per input (indexes aligned).
type IBatchedApplication interface {
	IApplication

	// RequestBatch processes a batch of requests in one call
	RequestBatch(params []map[string]any, meta []map[string]any) ([]map[string]any, error)
}

// ----------------------------------------------
// Base Implementation
// ----------------------------------------------

// BaseApplication provides no-op defaults for the optional lifecycle hooks.
// Embed it so an application only has to implement Request.
type BaseApplication struct{}

func (a *BaseApplication) Build() error    { return nil }
func (a *BaseApplication) Startup() error  { return nil }
func (a *BaseApplication) Shutdown() error { return nil }
func (a *BaseApplication) Watchdog() error { return nil }
