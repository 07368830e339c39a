package client

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/inferd/inferd/ipc/common"
	"github.com/inferd/inferd/ipc/serializer"
	"github.com/inferd/inferd/ipc/transport"
	"github.com/inferd/inferd/lib/router"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("ipc")

// broker implements router.IBroker over an IPC transport connection
type broker struct {
	replica    uint64
	transport  transport.IClientTransport
	serializer serializer.ISerializer
}

// NewBroker connects to the coordinator and returns a broker for the given
// replica index
func NewBroker(
	replica int,
	t transport.IClientTransport,
	s serializer.ISerializer,
	config common.ClientConfig,
) (router.IBroker, error) {
	if replica < 0 {
		return nil, fmt.Errorf("replica index must not be negative")
	}

	if err := t.Connect(config); err != nil {
		return nil, fmt.Errorf("failed to connect to coordinator: %v", err)
	}

	b := &broker{
		replica:    uint64(replica),
		transport:  t,
		serializer: s,
	}

	// Verify the coordinator is actually answering before handing the
	// broker to the router
	if err := b.ping(); err != nil {
		t.Close()
		return nil, fmt.Errorf("coordinator not responding: %v", err)
	}

	return b, nil
}

// --------------------------------------------------------------------------
// Interface Methods (docu see router.IBroker)
// --------------------------------------------------------------------------

func (b *broker) Dequeue(timeout time.Duration) (*router.BrokeredRequest, bool, error) {
	resp, err := b.roundTrip(common.NewDequeueRequest(timeout.Milliseconds()))
	if err != nil {
		return nil, false, err
	}

	if resp.Terminate {
		return nil, true, nil
	}

	// Empty poll
	if !resp.Ok {
		return nil, false, nil
	}

	req := &router.BrokeredRequest{ID: resp.ID}
	if len(resp.Params) > 0 {
		if err := json.Unmarshal(resp.Params, &req.Params); err != nil {
			return nil, false, fmt.Errorf("failed to decode request params: %v", err)
		}
	}
	if len(resp.Meta) > 0 {
		if err := json.Unmarshal(resp.Meta, &req.Meta); err != nil {
			return nil, false, fmt.Errorf("failed to decode request meta: %v", err)
		}
	}

	return req, false, nil
}

func (b *broker) PushResult(id uint64, result map[string]any) error {
	var data []byte
	ok := result != nil

	if ok {
		var err error
		data, err = json.Marshal(result)
		if err != nil {
			return fmt.Errorf("failed to encode result: %v", err)
		}
	}

	_, err := b.roundTrip(common.NewResultRequest(id, data, ok))
	return err
}

func (b *broker) SetReady(ready bool) error {
	_, err := b.roundTrip(common.NewReadyRequest(ready))
	return err
}

func (b *broker) ReportFailure() (int, error) {
	resp, err := b.roundTrip(common.NewFailureRequest())
	if err != nil {
		return 0, err
	}
	return int(resp.Count), nil
}

func (b *broker) ClearFailure() error {
	_, err := b.roundTrip(common.NewFailureResetRequest())
	return err
}

func (b *broker) Close() error {
	return b.transport.Close()
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// ping verifies the coordinator answers on this connection
func (b *broker) ping() error {
	_, err := b.roundTrip(common.NewPingRequest())
	return err
}

// roundTrip serializes a message, sends it and deserializes the response.
// Error responses from the coordinator are turned into Go errors.
func (b *broker) roundTrip(msg *common.Message) (*common.Message, error) {
	data, err := b.serializer.Serialize(*msg)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize %s message: %v", msg.MsgType, err)
	}

	respData, err := b.transport.Send(b.replica, data)
	if err != nil {
		return nil, fmt.Errorf("failed to send %s message: %v", msg.MsgType, err)
	}

	var resp common.Message
	if err := b.serializer.Deserialize(respData, &resp); err != nil {
		return nil, fmt.Errorf("failed to deserialize %s response: %v", msg.MsgType, err)
	}

	if resp.MsgType == common.MsgTError {
		return nil, fmt.Errorf("coordinator rejected %s message: %s", msg.MsgType, resp.Err)
	}

	return &resp, nil
}
