package server

import (
	"fmt"

	"github.com/inferd/inferd/ipc/transport"
	"github.com/inferd/inferd/ipc/transport/tcp"
	"github.com/inferd/inferd/ipc/transport/unix"
)

// NewServerTransport returns a server transport for the given type
// ("unix" or "tcp")
func NewServerTransport(kind string) (transport.IServerTransport, error) {
	switch kind {
	case "unix":
		return unix.NewUnixDefaultServerTransport(), nil
	case "tcp":
		return tcp.NewTCPDefaultServerTransport(), nil
	default:
		return nil, fmt.Errorf("unknown transport %q (supported: unix, tcp)", kind)
	}
}
