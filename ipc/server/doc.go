// Package server implements the coordinator-side IPC server. It listens on
// the per-application IPC endpoint, decodes the typed messages sent by worker
// replicas and forwards them to a Backend (the dispatcher): dequeue polls,
// result pushes, readiness updates and failure counting.
//
// Dequeue handlers block for the poll timeout; the transport layer runs
// handlers on per-connection worker pools so a blocked poll never stalls
// other messages from the same replica.
package server
