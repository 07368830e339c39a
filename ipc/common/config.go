package common

import (
	"fmt"
	"strconv"
	"strings"
)

// --------------------------------------------------------------------------
// IPC server configuration struct
// --------------------------------------------------------------------------

// ServerConfig holds the configuration of the coordinator side of the
// worker IPC channel. One IPC server exists per dispatcher; the endpoint is
// either a unix socket path or a tcp address depending on the transport.
type ServerConfig struct {
	// Endpoint the server listens on (e.g. /tmp/inferd-1234-echo.sock, 127.0.0.1:7033)
	Endpoint string

	// Read/write deadline for a single frame. Zero disables deadlines.
	// Must exceed the worker's dequeue long-poll (1s).
	TimeoutSecond int64

	// Logging configuration
	LogLevel string
}

// String returns a formatted string representation of the configuration
func (c *ServerConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("IPC Server")
	addField("Endpoint", c.Endpoint)
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))

	addSection("Logging")
	addField("Log Level", c.LogLevel)

	return sb.String()
}

// --------------------------------------------------------------------------
// IPC client configuration struct
// --------------------------------------------------------------------------

// ClientConfig holds the configuration of the worker side of the IPC channel.
type ClientConfig struct {
	// Endpoint of the coordinator IPC server
	Endpoint string

	// Per-request timeout. Must exceed the dequeue long-poll (1s).
	TimeoutSecond int

	// How many times a failed request is retried before giving up
	RetryCount int
}

// String returns a formatted string representation of the client configuration
func (c *ClientConfig) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("IPC Client")
	addField("Endpoint", c.Endpoint)
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	addField("Retry Count", strconv.Itoa(c.RetryCount))

	return sb.String()
}
