// Package router implements the request loop running inside each worker
// replica. The router pulls requests from the coordinator through an IBroker,
// groups them into batches, dispatches them to the hosted application and
// pushes the results back.
//
// The loop is a small state machine:
//
//	starting    - run the application's Startup, report readiness
//	idle        - long-poll for work, run the application watchdog
//	batching    - collect further requests until the batch is full or the
//	              batching timeout expires
//	dispatching - hand the batch to the application, push results
//	terminating - drain the current batch, run Shutdown, exit
//
// The router never restarts the application itself. On any fatal condition
// it reports the failure to the coordinator, shuts the application down and
// exits with the failure's result code; the coordinator decides whether a
// fresh replica is started.
package router
