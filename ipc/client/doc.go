// Package client implements the worker-side IPC client. It connects a
// replica to its coordinator and exposes the coordinator's queues and state
// flags through the router.IBroker interface: request dequeue, result push,
// readiness and failure counting all travel as typed messages over a framed
// transport connection.
//
// The broker is deliberately thin. All policy (batching, watchdogs, restart
// decisions) lives in the router and the coordinator; the broker only moves
// messages.
package client
