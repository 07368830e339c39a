// Package unix implements the coordinator/worker IPC transport over Unix
// domain sockets. Since worker replicas always run on the same machine as the
// coordinator this is the default transport.
//
// This package extends the base transport layer with Unix socket-specific
// connectors while inheriting all core functionality like request correlation,
// worker pooling and reconnection handling from the base package.
//
// Key Components:
//
//   - clientConnector: Establishes connections using Unix domain sockets
//
//   - serverConnector: Creates Unix socket listeners, removing stale socket
//     files left behind by a previous run
//
// The default buffer size is 64 KB, which comfortably fits the framed
// messages exchanged between coordinator and workers.
package unix
