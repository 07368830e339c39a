package common

import (
	"encoding/json"
	"fmt"
)

// --------------------------------------------------------------------------
// Message Structure
// --------------------------------------------------------------------------

// Message represents a single message used for both requests and responses
// between a worker replica and the coordinator. Which fields are used depends
// on the type of message.
//
// Params, Meta and Result carry JSON-encoded payloads. Keeping them as raw
// bytes lets every envelope serializer (json, gob, binary) transport them
// without knowing about payload structure.
type Message struct {
	// Type of message
	MsgType MessageType `json:"msg_type"`

	// General fields
	ID        uint64 `json:"id,omitempty"`        // Correlation id. Used for: Dequeue (response), Result (request)
	TimeoutMs int64  `json:"timeoutMs,omitempty"` // Used for: Dequeue poll timeout
	Params    []byte `json:"params,omitempty"`    // Used for: Dequeue response (request payload)
	Meta      []byte `json:"meta,omitempty"`      // Used for: Dequeue response (routing metadata)
	Result    []byte `json:"result,omitempty"`    // Used for: Result request (reply payload, absent when abandoned)

	// Flags
	Ok        bool `json:"ok,omitempty"`        // Used for: Dequeue (item present), Ready (ready state), Result (not abandoned)
	Terminate bool `json:"terminate,omitempty"` // Used for: Dequeue responses, set once the coordinator is shutting down

	// Response only fields
	Count int64  `json:"count,omitempty"` // Used for: Failure responses (failure count after the update)
	Err   string `json:"err,omitempty"`   // Empty if no error, otherwise contains the error message
}

// --------------------------------------------------------------------------
// Message Factory Functions
// --------------------------------------------------------------------------

// NewDequeueRequest creates a new Dequeue request with the given poll timeout
func NewDequeueRequest(timeoutMs int64) *Message {
	return &Message{
		MsgType:   MsgTDequeue,
		TimeoutMs: timeoutMs,
	}
}

// NewDequeueResponse creates a new Dequeue response.
// An empty poll is signalled with ok=false; terminate reports the
// coordinator's termination flag so workers observe shutdown while polling.
func NewDequeueResponse(id uint64, params, meta []byte, ok, terminate bool) *Message {
	return &Message{
		MsgType:   MsgTDequeue,
		ID:        id,
		Params:    params,
		Meta:      meta,
		Ok:        ok,
		Terminate: terminate,
	}
}

// NewResultRequest creates a new Result request.
// A nil result with ok=false marks the request as abandoned (worker crash).
func NewResultRequest(id uint64, result []byte, ok bool) *Message {
	return &Message{
		MsgType: MsgTResult,
		ID:      id,
		Result:  result,
		Ok:      ok,
	}
}

// NewReadyRequest creates a new Ready request setting the replica ready flag
func NewReadyRequest(ready bool) *Message {
	return &Message{
		MsgType: MsgTReady,
		Ok:      ready,
	}
}

// NewFailureRequest creates a new Failure request (increments the counter)
func NewFailureRequest() *Message {
	return &Message{
		MsgType: MsgTFailure,
	}
}

// NewFailureResetRequest creates a new FailureReset request (clears the counter)
func NewFailureResetRequest() *Message {
	return &Message{
		MsgType: MsgTFailureReset,
	}
}

// NewFailureResponse creates a new Failure response carrying the updated count
func NewFailureResponse(count int64) *Message {
	return &Message{
		MsgType: MsgTFailure,
		Count:   count,
	}
}

// NewPingRequest creates a new Ping request
func NewPingRequest() *Message {
	return &Message{
		MsgType: MsgTPing,
	}
}

// NewSuccessResponse creates a new Success response
func NewSuccessResponse() *Message {
	return &Message{
		MsgType: MsgTSuccess,
	}
}

// NewErrorResponse creates a new Error response
func NewErrorResponse(err string) *Message {
	return &Message{
		MsgType: MsgTError,
		Err:     err,
	}
}

// --------------------------------------------------------------------------
// Message Type Definition
// --------------------------------------------------------------------------

// MessageType defines the type of message used in worker IPC communication.
type MessageType uint8

// String returns the string representation of a MessageType.
func (t MessageType) String() string {
	switch t {
	case MsgTSuccess:
		return "success"
	case MsgTError:
		return "error"
	case MsgTDequeue:
		return "dequeue"
	case MsgTResult:
		return "result"
	case MsgTReady:
		return "ready"
	case MsgTFailure:
		return "failure"
	case MsgTFailureReset:
		return "failureReset"
	case MsgTPing:
		return "ping"
	default:
		return "unknown"
	}
}

// MarshalJSON implements the json.Marshaller interface for MessageType.
// This allows MessageType to be serialized as a string in JSON.
func (t MessageType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for MessageType.
// This allows MessageType to be deserialized from a string in JSON.
func (t *MessageType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	// Convert string back to MessageType
	switch s {
	case "success":
		*t = MsgTSuccess
	case "error":
		*t = MsgTError
	case "dequeue":
		*t = MsgTDequeue
	case "result":
		*t = MsgTResult
	case "ready":
		*t = MsgTReady
	case "failure":
		*t = MsgTFailure
	case "failureReset":
		*t = MsgTFailureReset
	case "ping":
		*t = MsgTPing
	default:
		return fmt.Errorf("unknown message type: %s", s)
	}

	return nil
}

// --------------------------------------------------------------------------
// Message Type Constants
// --------------------------------------------------------------------------

const (
	// General message types

	MsgTUnknown MessageType = iota
	MsgTSuccess             // Indicates a successful operation
	MsgTError               // Indicates an error occurred

	// Queue operations

	MsgTDequeue // Poll the input queue for the next request
	MsgTResult  // Push a result onto the output queue

	// Replica state operations

	MsgTReady        // Set the replica ready flag
	MsgTFailure      // Increment the replica failure counter
	MsgTFailureReset // Reset the replica failure counter

	// Diagnostics

	MsgTPing // Liveness probe of the coordinator
)
