// Package base provides the protocol-agnostic core of the coordinator/worker
// IPC transport, implementing framing, request correlation and connection
// management independent of the specific socket type (unix, tcp). It is
// extended with protocol-specific connectors by the unix and tcp packages.
//
// The package focuses on:
//   - Protocol-agnostic client and server transport implementations
//   - Frame-based message protocol with replica index and requestID tracking
//   - Automatic response correlation on the client side
//   - Robust error handling with retries and reconnection logic
//
// Key Components:
//
//   - IClientConnector/IServerConnector: Interfaces for protocol-specific
//     operations that allow extending the base transport with different
//     socket types.
//
//   - clientTransport: Core client implementation used by worker replicas.
//     Requests and responses are correlated asynchronously via unique request
//     IDs, so a worker can have a dequeue long-poll and a result push in
//     flight on the same connection.
//
//   - serverTransport: Core server implementation used by the coordinator.
//     Each connection gets a bounded worker pool, so a handler blocked in a
//     long-poll never stalls other requests on the same connection.
//
// Performance Optimizations:
//
//   - Buffer Pooling: The server uses a sync.Pool to reuse read buffers,
//     reducing GC pressure and memory allocations.
//
//   - Frame Batching: The transport uses net.Buffers to reduce syscalls when
//     writing frames, combining header and payload into a single write
//     operation.
//
// Thread Safety:
//
//	All public methods are thread-safe. The client transport uses atomic
//	operations and mutexes to ensure concurrent access safety, while the
//	server creates a dedicated goroutine for each connection.
package base
