package runtime

import (
	"fmt"
	"strings"
	"time"
)

// ----------------------------------------------
// Runtime Settings
// ----------------------------------------------

// Settings configures the serving runtime. Zero values are not usable,
// always start from DefaultSettings.
type Settings struct {
	// ReplicateApplication is the number of worker replicas per application
	ReplicateApplication int

	// BatchingTimeout is how long a replica waits for further requests to
	// fill a batch before dispatching a partial one
	BatchingTimeout time.Duration

	// WatchdogRequestThreshold is the per-request duration above which the
	// rolling average (over WatchdogRequestAverage requests) makes the
	// replica restart itself. 0 disables the duration watchdog.
	WatchdogRequestThreshold time.Duration

	// WatchdogRequestAverage is the number of recent requests the duration
	// watchdog averages over
	WatchdogRequestAverage int

	// WatchdogReadyPeriod is how often an idle replica runs the
	// application's Watchdog check. 0 disables the ready watchdog.
	WatchdogReadyPeriod time.Duration

	// WatchdogPeriod is how often the coordinator-side watchdog verifies
	// that all replicas are alive and restarts dead ones
	WatchdogPeriod time.Duration

	// StopTimeout is how long Stop waits for replicas to exit gracefully
	// before killing them
	StopTimeout time.Duration

	// MaxAllowedRestarts bounds consecutive replica failures. Once a
	// replica fails this many times without an intervening success the
	// pool stops restarting it.
	MaxAllowedRestarts int

	// StopOnError shuts the whole runtime down when any replica pool
	// reaches its restart limit
	StopOnError bool

	// QueueSize is the capacity of the per-application request and result
	// queues
	QueueSize int

	// Endpoint is the address of the front-facing HTTP server
	Endpoint string

	// IPCEndpoint is the endpoint pattern for coordinator/worker IPC. It
	// must contain %s, which is replaced with the application id. For the
	// unix transport this is a socket path, for tcp a host:port.
	IPCEndpoint string

	// IPCTransport selects the IPC transport type ("unix" or "tcp")
	IPCTransport string

	// Serializer selects the IPC wire encoding ("json", "gob" or "binary")
	Serializer string

	// LogLevel sets the log level for all loggers
	// ("debug", "info", "warn", "error")
	LogLevel string

	// ResultFile, if set, receives one "<pid>:<exit code>" line per replica
	// exit, for test harnesses that assert on replica outcomes
	ResultFile string
}

// DefaultSettings returns the settings the serve command starts from
func DefaultSettings() Settings {
	return Settings{
		ReplicateApplication:     1,
		BatchingTimeout:          1 * time.Second,
		WatchdogRequestThreshold: 0,
		WatchdogRequestAverage:   3,
		WatchdogReadyPeriod:      5 * time.Second,
		WatchdogPeriod:           10 * time.Second,
		StopTimeout:              10 * time.Second,
		MaxAllowedRestarts:       3,
		StopOnError:              false,
		QueueSize:                512,
		Endpoint:                 "localhost:8100",
		IPCEndpoint:              "/tmp/inferd-%s.sock",
		IPCTransport:             "unix",
		Serializer:               "binary",
		LogLevel:                 "info",
		ResultFile:               "",
	}
}

// String returns a human-readable representation of the settings
func (s Settings) String() string {
	var sb strings.Builder

	addSection := func(name string) {
		sb.WriteString(fmt.Sprintf("\n[%s]\n", name))
	}
	addField := func(name string, value interface{}) {
		sb.WriteString(fmt.Sprintf("  %-26s = %v\n", name, value))
	}

	addSection("Replicas")
	addField("ReplicateApplication", s.ReplicateApplication)
	addField("MaxAllowedRestarts", s.MaxAllowedRestarts)
	addField("StopOnError", s.StopOnError)
	addField("StopTimeout", s.StopTimeout)
	addField("QueueSize", s.QueueSize)

	addSection("Batching")
	addField("BatchingTimeout", s.BatchingTimeout)

	addSection("Watchdog")
	addField("WatchdogPeriod", s.WatchdogPeriod)
	addField("WatchdogReadyPeriod", s.WatchdogReadyPeriod)
	addField("WatchdogRequestThreshold", s.WatchdogRequestThreshold)
	addField("WatchdogRequestAverage", s.WatchdogRequestAverage)

	addSection("Network")
	addField("Endpoint", s.Endpoint)
	addField("IPCEndpoint", s.IPCEndpoint)
	addField("IPCTransport", s.IPCTransport)
	addField("Serializer", s.Serializer)

	addSection("Misc")
	addField("LogLevel", s.LogLevel)
	addField("ResultFile", s.ResultFile)

	return sb.String()
}

// Validate checks the settings for values the runtime cannot work with
func (s Settings) Validate() error {
	if s.ReplicateApplication < 1 {
		return fmt.Errorf("replicate-application must be at least 1")
	}
	if s.MaxAllowedRestarts < 0 {
		return fmt.Errorf("max-allowed-restarts must not be negative")
	}
	if s.QueueSize < 1 {
		return fmt.Errorf("queue-size must be at least 1")
	}
	if s.WatchdogRequestThreshold > 0 && s.WatchdogRequestAverage < 1 {
		return fmt.Errorf("watchdog-request-average must be at least 1")
	}
	if !strings.Contains(s.IPCEndpoint, "%s") {
		return fmt.Errorf("ipc-endpoint must contain %%s as application id placeholder")
	}
	switch s.IPCTransport {
	case "unix", "tcp":
	default:
		return fmt.Errorf("unknown ipc-transport %q (supported: unix, tcp)", s.IPCTransport)
	}
	switch s.Serializer {
	case "json", "gob", "binary":
	default:
		return fmt.Errorf("unknown serializer %q (supported: json, gob, binary)", s.Serializer)
	}
	return nil
}

// IPCEndpointFor resolves the IPC endpoint for an application id
func (s Settings) IPCEndpointFor(appID string) string {
	return fmt.Sprintf(s.IPCEndpoint, appID)
}
