package cmd

import (
	"fmt"
	"os"

	"github.com/inferd/inferd/cmd/request"
	"github.com/inferd/inferd/cmd/serve"
	"github.com/inferd/inferd/cmd/worker"
	"github.com/spf13/cobra"
)

const (
	Version = "0.3.1"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "inferd",
		Short: "multi-process model serving runtime",
		Long: fmt.Sprintf(`inferd (v%s)

A serving runtime that hosts models in pools of worker processes,
with request batching, health probes and bounded replica restarts.`, Version),
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of inferd",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("inferd v%s\n", Version)
		},
	}
)

func init() {
	// Add Commands
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(worker.WorkerCmd)
	RootCmd.AddCommand(request.RequestCmd)
	RootCmd.AddCommand(versionCmd)
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
