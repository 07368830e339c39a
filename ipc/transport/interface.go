package transport

import (
	"github.com/inferd/inferd/ipc/common"
)

// --------------------------------------------------------------------------
// Server Transport
// --------------------------------------------------------------------------

// ServerHandleFunc is a function type that handles incoming requests.
// This function is called by a server transport layer when a request is
// received. It takes the replica index of the sending worker and a request
// as parameters and returns a response.
//
// Handlers may block (the dequeue long-poll does); the transport runs them
// on per-connection workers so a blocked handler never stalls the accept
// loop or other replicas.
type ServerHandleFunc func(replica uint64, req []byte) (resp []byte)

// IServerTransport is the interface for the coordinator side of the IPC
// transport layer
type IServerTransport interface {
	// RegisterHandler registers a handler for the transport layer
	// This handler should be called when a request is received
	RegisterHandler(handler ServerHandleFunc)
	// Listen starts the transport layer and listens for incoming requests.
	// It blocks until Close is called or an unrecoverable error occurs.
	Listen(config common.ServerConfig) error
	// Close shuts the listener down; Listen returns nil afterwards
	Close() error
}

// --------------------------------------------------------------------------
// Client Transport
// --------------------------------------------------------------------------

// IClientTransport is the interface for the worker side of the IPC transport
type IClientTransport interface {
	// Connect initializes the transport with the given configuration
	Connect(config common.ClientConfig) error
	// Send sends a request to the coordinator and returns the response
	Send(replica uint64, req []byte) (resp []byte, err error)
	// Close closes the transport connection
	Close() error
}
