// Package tcp implements the coordinator/worker IPC transport over TCP
// sockets. It exists for setups where the unix socket path is not usable,
// for example when coordinator and workers run in separate containers with
// no shared filesystem.
//
// This package builds on the base package's transport functionality,
// inheriting request correlation, worker pooling and reconnection handling.
// See the base package documentation for details on the underlying transport
// mechanisms.
//
// Key Components:
//
//   - clientConnector: TCP-specific implementation of base.IClientConnector
//
//   - serverConnector: TCP-specific implementation of base.IServerConnector
//
// The default server buffer size is 512 KB, leaving headroom for large
// request parameter payloads crossing machine boundaries.
package tcp
