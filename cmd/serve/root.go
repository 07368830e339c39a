package serve

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	cmdUtil "github.com/inferd/inferd/cmd/util"
	"github.com/inferd/inferd/front"
	"github.com/inferd/inferd/ipc/common"
	"github.com/inferd/inferd/lib/application"
	"github.com/inferd/inferd/lib/dispatcher"
	"github.com/inferd/inferd/lib/runtime"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	serveCmdSettings = runtime.DefaultSettings()
	serveCmdConfigs  []string

	ServeCmd = &cobra.Command{
		Use:     "serve",
		Short:   "Start the inferd serving runtime",
		Long:    `Start the inferd serving runtime with the specified configuration. The configuration can be set via command line flags or environment variables. The format of the environment variables is INFERD_<flag> (e.g. INFERD_REPLICATE_APPLICATION=4)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	// initialize viper
	cobra.OnInitialize(cmdUtil.InitEnvConfig)

	defaults := runtime.DefaultSettings()

	// add flags
	key := "config"
	ServeCmd.PersistentFlags().StringSlice(key, nil, cmdUtil.WrapString("Application config file(s) to serve. Each file describes one application (yaml, application section)"))

	key = "replicate-application"
	ServeCmd.PersistentFlags().Int(key, defaults.ReplicateApplication, cmdUtil.WrapString("Number of worker replicas per application"))

	key = "batching-timeout"
	ServeCmd.PersistentFlags().Duration(key, defaults.BatchingTimeout, cmdUtil.WrapString("How long a replica waits for further requests to fill a batch before dispatching a partial one"))

	key = "watchdog-request-threshold"
	ServeCmd.PersistentFlags().Duration(key, defaults.WatchdogRequestThreshold, cmdUtil.WrapString("Per-request duration threshold of the replica duration watchdog. A replica whose mean dispatch duration over the recent window exceeds it retires itself. 0 disables the watchdog"))

	key = "watchdog-request-average"
	ServeCmd.PersistentFlags().Int(key, defaults.WatchdogRequestAverage, cmdUtil.WrapString("Window size (number of requests) of the replica duration watchdog"))

	key = "watchdog-ready-period"
	ServeCmd.PersistentFlags().Duration(key, defaults.WatchdogReadyPeriod, cmdUtil.WrapString("How often an idle replica runs the application's self-check. 0 disables it"))

	key = "watchdog-period"
	ServeCmd.PersistentFlags().Duration(key, defaults.WatchdogPeriod, cmdUtil.WrapString("How often the coordinator watchdog reaps dead replicas and starts replacements"))

	key = "stop-timeout"
	ServeCmd.PersistentFlags().Duration(key, defaults.StopTimeout, cmdUtil.WrapString("How long to wait for replicas to exit gracefully before killing them"))

	key = "max-allowed-restarts"
	ServeCmd.PersistentFlags().Int(key, defaults.MaxAllowedRestarts, cmdUtil.WrapString("Consecutive replica failures after which the replica pool is disabled"))

	key = "stop-on-error"
	ServeCmd.PersistentFlags().Bool(key, defaults.StopOnError, cmdUtil.WrapString("Shut the whole runtime down when any replica pool is disabled"))

	key = "queue-size"
	ServeCmd.PersistentFlags().Int(key, defaults.QueueSize, cmdUtil.WrapString("Capacity of the per-application request and result queues"))

	key = "endpoint"
	ServeCmd.PersistentFlags().String(key, defaults.Endpoint, cmdUtil.WrapString("The address on which the HTTP API will listen (e.g. localhost:8100)"))

	key = "ipc-endpoint"
	ServeCmd.PersistentFlags().String(key, defaults.IPCEndpoint, cmdUtil.WrapString("Endpoint pattern for coordinator/worker IPC, %s is replaced with the application id (e.g. /tmp/inferd-%s.sock)"))

	key = "ipc-transport"
	ServeCmd.PersistentFlags().String(key, defaults.IPCTransport, cmdUtil.WrapString("IPC transport to use (unix, tcp)"))

	key = "serializer"
	ServeCmd.PersistentFlags().String(key, defaults.Serializer, cmdUtil.WrapString("IPC serializer to use (json, gob, binary)"))

	key = "log-level"
	ServeCmd.PersistentFlags().String(key, defaults.LogLevel, cmdUtil.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))

	key = "result-file"
	ServeCmd.PersistentFlags().String(key, defaults.ResultFile, cmdUtil.WrapString("File receiving one <pid>:<exit code> line per replica exit, for test harnesses"))
}

// processConfig reads the configuration from the command line flags and
// environment variables and converts them to the runtime settings
func processConfig(cmd *cobra.Command, _ []string) error {
	// bind the flags to viper
	if err := cmdUtil.BindCommandFlags(cmd); err != nil {
		return err
	}

	serveCmdSettings.ReplicateApplication = viper.GetInt("replicate-application")
	serveCmdSettings.BatchingTimeout = viper.GetDuration("batching-timeout")
	serveCmdSettings.WatchdogRequestThreshold = viper.GetDuration("watchdog-request-threshold")
	serveCmdSettings.WatchdogRequestAverage = viper.GetInt("watchdog-request-average")
	serveCmdSettings.WatchdogReadyPeriod = viper.GetDuration("watchdog-ready-period")
	serveCmdSettings.WatchdogPeriod = viper.GetDuration("watchdog-period")
	serveCmdSettings.StopTimeout = viper.GetDuration("stop-timeout")
	serveCmdSettings.MaxAllowedRestarts = viper.GetInt("max-allowed-restarts")
	serveCmdSettings.StopOnError = viper.GetBool("stop-on-error")
	serveCmdSettings.QueueSize = viper.GetInt("queue-size")
	serveCmdSettings.Endpoint = viper.GetString("endpoint")
	serveCmdSettings.IPCEndpoint = viper.GetString("ipc-endpoint")
	serveCmdSettings.IPCTransport = viper.GetString("ipc-transport")
	serveCmdSettings.Serializer = viper.GetString("serializer")
	serveCmdSettings.LogLevel = viper.GetString("log-level")
	serveCmdSettings.ResultFile = viper.GetString("result-file")

	serveCmdConfigs = viper.GetStringSlice("config")
	if len(serveCmdConfigs) == 0 {
		return fmt.Errorf("at least one --config file is required")
	}

	return serveCmdSettings.Validate()
}

// run starts the serving runtime and blocks until shutdown
func run(_ *cobra.Command, _ []string) error {
	common.InitLoggers(serveCmdSettings.LogLevel)

	fmt.Printf("inferd serving runtime%s\n", serveCmdSettings)

	// stopCh is closed (at most once) to request a shutdown
	stopCh := make(chan struct{})
	var stopErr error
	requestStop := func(err error) {
		select {
		case <-stopCh:
		default:
			stopErr = err
			close(stopCh)
		}
	}

	apps := dispatcher.NewApplications(serveCmdSettings, func(appID string, err error) {
		if serveCmdSettings.StopOnError {
			requestStop(err)
		}
	})

	// Load the application descriptors and run their build steps before any
	// replica is spawned
	for _, file := range serveCmdConfigs {
		cfg, err := application.LoadConfig(file)
		if err != nil {
			return exitWithCode(err)
		}
		fmt.Print(cfg)

		app, err := application.New(cfg)
		if err != nil {
			return exitWithCode(err)
		}
		if err := app.Build(); err != nil {
			return exitWithCode(err)
		}

		if err := apps.Add(cfg, nil); err != nil {
			return err
		}
	}

	// The front server comes up before the replica pools so startup probes
	// are answerable while the applications load
	srv := front.NewServer(serveCmdSettings.Endpoint, front.Runtime(apps))
	serveErrCh := make(chan error, 1)
	go func() {
		serveErrCh <- srv.Serve()
	}()

	// Bring the replica pools up in the background; apps.Stop cancels a
	// start still waiting for readiness
	startErrCh := make(chan error, 1)
	go func() {
		startErrCh <- apps.Start()
	}()
	defer apps.Stop()

	// Wait for a shutdown trigger
	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)

	running := true
	for running {
		select {
		case sig := <-signalCh:
			fmt.Printf("\nReceived %s, shutting down\n", sig)
			running = false
		case err := <-serveErrCh:
			requestStop(err)
			running = false
		case err := <-startErrCh:
			if err != nil {
				requestStop(err)
				running = false
			}
			startErrCh = nil
		case <-stopCh:
			running = false
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), serveCmdSettings.StopTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		fmt.Printf("Front server shutdown failed: %v\n", err)
	}

	apps.Stop()

	if stopErr != nil {
		return exitWithCode(stopErr)
	}
	return nil
}

// exitWithCode terminates the process with the error's result code, so test
// harnesses can assert on startup failure reasons
func exitWithCode(err error) error {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(int(application.CodeOf(err)))
	return nil
}
