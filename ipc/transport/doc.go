// Package transport provides the network communication layer between worker
// replicas and the coordinator. It defines the server and client transport
// interfaces and a shared framed-connection engine (subpackage base) with
// pluggable connectors for unix sockets and tcp.
//
// Every frame carries the replica index and a per-connection request id, so
// a single worker connection can have multiple requests in flight.
package transport
