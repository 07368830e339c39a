package worker

import (
	"fmt"
	"os"
	"time"

	"github.com/inferd/inferd/ipc/client"
	"github.com/inferd/inferd/ipc/common"
	"github.com/inferd/inferd/ipc/serializer"
	"github.com/inferd/inferd/lib/application"
	"github.com/inferd/inferd/lib/router"
	"github.com/spf13/cobra"
)

// clientTimeoutSecond bounds a single IPC round trip from the replica to
// the coordinator
const clientTimeoutSecond = 30

var (
	flagConfig           string
	flagIndex            int
	flagIPCEndpoint      string
	flagIPCTransport     string
	flagSerializer       string
	flagLogLevel         string
	flagBatchingTimeout  time.Duration
	flagReadyPeriod      time.Duration
	flagRequestThreshold time.Duration
	flagRequestAverage   int

	// WorkerCmd is the replica entry point. It is spawned by the
	// coordinator and hidden from help output.
	WorkerCmd = &cobra.Command{
		Use:    "worker",
		Short:  "Run one worker replica (spawned by the coordinator)",
		Hidden: true,
		RunE:   run,
	}
)

func init() {
	WorkerCmd.Flags().StringVar(&flagConfig, "config", "", "application config file")
	WorkerCmd.Flags().IntVar(&flagIndex, "index", 0, "replica index within the pool")
	WorkerCmd.Flags().StringVar(&flagIPCEndpoint, "ipc-endpoint", "", "coordinator IPC endpoint")
	WorkerCmd.Flags().StringVar(&flagIPCTransport, "ipc-transport", "unix", "IPC transport (unix, tcp)")
	WorkerCmd.Flags().StringVar(&flagSerializer, "serializer", "binary", "IPC serializer (json, gob, binary)")
	WorkerCmd.Flags().StringVar(&flagLogLevel, "log-level", "info", "log level")
	WorkerCmd.Flags().DurationVar(&flagBatchingTimeout, "batching-timeout", time.Second, "batching timeout")
	WorkerCmd.Flags().DurationVar(&flagReadyPeriod, "watchdog-ready-period", 5*time.Second, "idle self-check period")
	WorkerCmd.Flags().DurationVar(&flagRequestThreshold, "watchdog-request-threshold", 0, "duration watchdog threshold")
	WorkerCmd.Flags().IntVar(&flagRequestAverage, "watchdog-request-average", 3, "duration watchdog window size")

	_ = WorkerCmd.MarkFlagRequired("config")
	_ = WorkerCmd.MarkFlagRequired("ipc-endpoint")
}

// run connects to the coordinator, instantiates the application and hands
// control to the router. The process exit code is the router's result code.
func run(_ *cobra.Command, _ []string) error {
	common.InitLoggers(flagLogLevel)

	cfg, err := application.LoadConfig(flagConfig)
	if err != nil {
		return exitWithCode(err)
	}

	s, err := serializer.New(flagSerializer)
	if err != nil {
		return exitWithCode(application.Errorf(application.ResultArgumentError, "%v", err))
	}
	t, err := client.NewClientTransport(flagIPCTransport)
	if err != nil {
		return exitWithCode(application.Errorf(application.ResultArgumentError, "%v", err))
	}

	// Connect before creating the application, so instantiation failures
	// can still be reported to the coordinator
	broker, err := client.NewBroker(flagIndex, t, s, common.ClientConfig{
		Endpoint:      flagIPCEndpoint,
		TimeoutSecond: clientTimeoutSecond,
		RetryCount:    3,
	})
	if err != nil {
		return exitWithCode(application.Errorf(application.ResultNetworkError, "%v", err))
	}

	app, err := application.New(cfg)
	if err != nil {
		_, _ = broker.ReportFailure()
		_ = broker.Close()
		return exitWithCode(err)
	}

	code := router.New(app, broker, router.Options{
		MaxBatchSize:             cfg.MaxBatchSize,
		BatchingTimeout:          flagBatchingTimeout,
		WatchdogReadyPeriod:      flagReadyPeriod,
		WatchdogRequestThreshold: flagRequestThreshold,
		WatchdogRequestAverage:   flagRequestAverage,
	}).Run()

	os.Exit(code)
	return nil
}

// exitWithCode terminates the replica with the error's result code
func exitWithCode(err error) error {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(int(application.CodeOf(err)))
	return nil
}
