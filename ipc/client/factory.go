package client

import (
	"fmt"

	"github.com/inferd/inferd/ipc/transport"
	"github.com/inferd/inferd/ipc/transport/tcp"
	"github.com/inferd/inferd/ipc/transport/unix"
)

// NewClientTransport returns a client transport for the given type
// ("unix" or "tcp")
func NewClientTransport(kind string) (transport.IClientTransport, error) {
	switch kind {
	case "unix":
		return unix.NewUnixClientTransport(), nil
	case "tcp":
		return tcp.NewTCPClientTransport(), nil
	default:
		return nil, fmt.Errorf("unknown transport %q (supported: unix, tcp)", kind)
	}
}
