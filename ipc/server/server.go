package server

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/inferd/inferd/ipc/common"
	"github.com/inferd/inferd/ipc/serializer"
	"github.com/inferd/inferd/ipc/transport"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("ipc")

// maxPollTimeout caps the dequeue poll a replica may request, so a
// misbehaving replica cannot pin a handler goroutine indefinitely
const maxPollTimeout = 5 * time.Second

// -----------------------------------------------------------
// Interface Definitions for dependency injection
// -----------------------------------------------------------

// Backend is the coordinator state the IPC server operates on. The
// dispatcher package provides the production implementation.
type Backend interface {
	// Dequeue pops the next request for the replica, waiting at most
	// timeout. ok is false when no request arrived in time; terminate
	// reports the coordinator's termination flag.
	Dequeue(replica int, timeout time.Duration) (id uint64, params, meta map[string]any, ok, terminate bool, err error)

	// PushResult stores the result for a request. A nil result marks the
	// request as abandoned (the replica failed to process it).
	PushResult(replica int, id uint64, result map[string]any) error

	// SetReady sets the replica's readiness flag
	SetReady(replica int, ready bool) error

	// ReportFailure increments the replica's consecutive failure counter
	// and returns the new count
	ReportFailure(replica int) (int, error)

	// ClearFailure resets the replica's consecutive failure counter
	ClearFailure(replica int) error
}

// -----------------------------------------------------------
// Server
// -----------------------------------------------------------

// Server accepts replica connections and routes their messages to a Backend
type Server struct {
	backend    Backend
	transport  transport.IServerTransport
	serializer serializer.ISerializer
}

// New creates an IPC server for the given backend
func New(backend Backend, t transport.IServerTransport, s serializer.ISerializer) *Server {
	srv := &Server{
		backend:    backend,
		transport:  t,
		serializer: s,
	}
	t.RegisterHandler(srv.handle)
	return srv
}

// Listen starts serving on the configured endpoint. It blocks until Close
// is called.
func (s *Server) Listen(config common.ServerConfig) error {
	return s.transport.Listen(config)
}

// Close shuts the server down
func (s *Server) Close() error {
	return s.transport.Close()
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// handle processes one replica message and returns the serialized response
func (s *Server) handle(replica uint64, req []byte) []byte {
	var msg common.Message
	if err := s.serializer.Deserialize(req, &msg); err != nil {
		Logger.Errorf("Failed to deserialize message from replica %d: %v", replica, err)
		return s.respond(common.NewErrorResponse(fmt.Sprintf("malformed message: %v", err)))
	}

	resp, err := s.dispatch(int(replica), &msg)
	if err != nil {
		Logger.Errorf("Failed to handle %s message from replica %d: %v", msg.MsgType, replica, err)
		return s.respond(common.NewErrorResponse(err.Error()))
	}

	return s.respond(resp)
}

// dispatch routes a message to the matching backend operation
func (s *Server) dispatch(replica int, msg *common.Message) (*common.Message, error) {
	switch msg.MsgType {

	case common.MsgTDequeue:
		timeout := time.Duration(msg.TimeoutMs) * time.Millisecond
		if timeout < 0 {
			timeout = 0
		}
		if timeout > maxPollTimeout {
			timeout = maxPollTimeout
		}

		id, params, meta, ok, terminate, err := s.backend.Dequeue(replica, timeout)
		if err != nil {
			return nil, err
		}
		if !ok {
			return common.NewDequeueResponse(0, nil, nil, false, terminate), nil
		}

		paramsData, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("failed to encode params for request %d: %v", id, err)
		}
		metaData, err := json.Marshal(meta)
		if err != nil {
			return nil, fmt.Errorf("failed to encode meta for request %d: %v", id, err)
		}
		return common.NewDequeueResponse(id, paramsData, metaData, true, terminate), nil

	case common.MsgTResult:
		var result map[string]any
		if msg.Ok {
			if err := json.Unmarshal(msg.Result, &result); err != nil {
				return nil, fmt.Errorf("failed to decode result for request %d: %v", msg.ID, err)
			}
		}
		if err := s.backend.PushResult(replica, msg.ID, result); err != nil {
			return nil, err
		}
		return common.NewSuccessResponse(), nil

	case common.MsgTReady:
		if err := s.backend.SetReady(replica, msg.Ok); err != nil {
			return nil, err
		}
		return common.NewSuccessResponse(), nil

	case common.MsgTFailure:
		count, err := s.backend.ReportFailure(replica)
		if err != nil {
			return nil, err
		}
		return common.NewFailureResponse(int64(count)), nil

	case common.MsgTFailureReset:
		if err := s.backend.ClearFailure(replica); err != nil {
			return nil, err
		}
		return common.NewSuccessResponse(), nil

	case common.MsgTPing:
		return common.NewSuccessResponse(), nil

	default:
		return nil, fmt.Errorf("unsupported message type %s", msg.MsgType)
	}
}

// respond serializes a response message. Serialization of our own messages
// must not fail; if it does there is nothing sensible left to send.
func (s *Server) respond(msg *common.Message) []byte {
	data, err := s.serializer.Serialize(*msg)
	if err != nil {
		Logger.Errorf("Failed to serialize %s response: %v", msg.MsgType, err)
		return nil
	}
	return data
}
