// Package common contains the core data structures shared across the worker
// IPC system: the Message protocol spoken between worker replicas and the
// coordinator, the server and client configuration structs, and the logging
// setup used by all packages.
package common
