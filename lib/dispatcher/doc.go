// Package dispatcher implements the coordinator side of the serving runtime.
//
// A Dispatcher owns the replica pool of one application: it spawns worker
// processes, queues incoming requests, hands them to replicas over the IPC
// server and correlates the pushed results. Replica state (readiness,
// consecutive failure counts, the termination flag) lives here; replicas
// only see it through typed IPC messages.
//
// Restart policy: a replica that exits is reaped by Clean and respawned by
// Start, as long as its consecutive failure count stays below the configured
// limit. Successful dispatches reset the count, so the limit only trips on
// replicas that fail over and over without ever serving a request in
// between. Once tripped the condition is sticky and the pool stops accepting
// requests.
//
// The Applications type bundles the dispatchers of all hosted applications
// behind one facade, runs the periodic watchdog that reaps and respawns dead
// replicas, and aggregates replica exit codes on startup failure.
package dispatcher
