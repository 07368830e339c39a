// Package application defines the contract between the serving runtime and
// the model code it hosts. An application wraps a model (or any other
// request-processing resource) and is instantiated once per worker replica.
//
// The runtime drives an application through a fixed lifecycle:
//
//	Build    - one-off artifact preparation, runs outside the replica pool
//	Startup  - load the model into the replica process
//	Request  - process a request (or a batch, see IBatchedApplication)
//	Watchdog - periodic self-check while the replica is idle
//	Shutdown - release resources before the replica exits
//
// Errors returned from these methods carry a ResultCode which the runtime
// propagates into replica exit codes and HTTP responses. Applications are
// registered under a factory name via Register and created with New.
package application
