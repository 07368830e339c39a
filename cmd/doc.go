// Package cmd implements the command-line interface for the inferd serving
// runtime. It provides a hierarchical command structure for running the
// runtime and interacting with it as a client.
//
// The package is organized into several subpackages:
//
//   - serve: Start the serving runtime (coordinator, replica pools, HTTP front)
//   - worker: Replica entry point, spawned by the coordinator (internal use)
//   - request: Send an inference request to a running runtime
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// See inferd -help for a list of all commands.
package cmd
