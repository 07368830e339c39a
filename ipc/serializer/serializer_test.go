package serializer

import (
	"reflect"
	"testing"

	"github.com/inferd/inferd/ipc/common"
)

// testSerializers is a map of serializer name to factory function
var testSerializers = map[string]func() ISerializer{
	"JSON":   NewJSONSerializer,
	"GOB":    NewGOBSerializer,
	"Binary": NewBinarySerializer,
}

// testMessages creates a set of test messages with different fields filled
func testMessages() []common.Message {
	return []common.Message{
		// Basic message with just a type
		{MsgType: common.MsgTSuccess},

		// Dequeue request with poll timeout
		{
			MsgType:   common.MsgTDequeue,
			TimeoutMs: 1000,
		},

		// Dequeue response carrying a request
		{
			MsgType: common.MsgTDequeue,
			ID:      42,
			Params:  []byte(`{"prompt":"hello"}`),
			Meta:    []byte(`{"application":"echo"}`),
			Ok:      true,
		},

		// Empty dequeue response with terminate flag
		{
			MsgType:   common.MsgTDequeue,
			Terminate: true,
		},

		// Result push
		{
			MsgType: common.MsgTResult,
			ID:      42,
			Result:  []byte(`{"output":"hello"}`),
			Ok:      true,
		},

		// Abandoned result (no payload)
		{
			MsgType: common.MsgTResult,
			ID:      43,
		},

		// Failure response with count
		{
			MsgType: common.MsgTFailure,
			Count:   2,
		},

		// Error response
		{
			MsgType: common.MsgTError,
			Err:     "test error message",
		},
	}
}

// TestSerializerRoundTrip tests that messages can be serialized and deserialized correctly
func TestSerializerRoundTrip(t *testing.T) {
	messages := testMessages()

	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			serializer := factory()

			for i, msg := range messages {
				// Serialize
				data, err := serializer.Serialize(msg)
				if err != nil {
					t.Errorf("Failed to serialize message %d: %v", i, err)
					continue
				}

				// Deserialize
				var result common.Message
				err = serializer.Deserialize(data, &result)
				if err != nil {
					t.Errorf("Failed to deserialize message %d: %v", i, err)
					continue
				}

				// Compare
				if !reflect.DeepEqual(msg, result) {
					t.Errorf("Message %d doesn't match after round trip:\nOriginal: %+v\nResult: %+v",
						i, msg, result)
				}
			}
		})
	}
}

// TestMessageTypes tests each message type with each serializer
func TestMessageTypes(t *testing.T) {
	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			serializer := factory()

			// Test each message type (don't test MsgTUnknown since this should raise an error)
			for msgType := common.MsgTSuccess; msgType <= common.MsgTPing; msgType++ {
				msg := common.Message{MsgType: msgType}

				// Serialize
				data, err := serializer.Serialize(msg)
				if err != nil {
					t.Errorf("Failed to serialize message type %s: %v", msgType.String(), err)
					continue
				}

				// Deserialize
				var result common.Message
				err = serializer.Deserialize(data, &result)
				if err != nil {
					t.Errorf("Failed to deserialize message type %s: %v", msgType.String(), err)
					continue
				}

				// Check type
				if result.MsgType != msgType {
					t.Errorf("Message type doesn't match after round trip: Expected %s, got %s",
						msgType.String(), result.MsgType.String())
				}
			}
		})
	}
}

// TestBinarySerializerFlags verifies the binary serializer keeps the bool
// flags apart, both are packed into one byte
func TestBinarySerializerFlags(t *testing.T) {
	serializer := NewBinarySerializer()

	cases := []struct {
		ok        bool
		terminate bool
	}{
		{false, false},
		{true, false},
		{false, true},
		{true, true},
	}

	for _, c := range cases {
		msg := common.Message{
			MsgType:   common.MsgTDequeue,
			Ok:        c.ok,
			Terminate: c.terminate,
		}

		data, err := serializer.Serialize(msg)
		if err != nil {
			t.Fatalf("Failed to serialize message: %v", err)
		}

		var result common.Message
		if err := serializer.Deserialize(data, &result); err != nil {
			t.Fatalf("Failed to deserialize message: %v", err)
		}

		if result.Ok != c.ok || result.Terminate != c.terminate {
			t.Errorf("Flags don't match after round trip: expected ok=%v terminate=%v, got ok=%v terminate=%v",
				c.ok, c.terminate, result.Ok, result.Terminate)
		}
	}
}

// TestInvalidBinaryData tests that the binary serializer rejects malformed input
func TestInvalidBinaryData(t *testing.T) {
	serializer := NewBinarySerializer()

	cases := map[string][]byte{
		"empty":            {},
		"truncated header": {0x01},
		"truncated field":  {byte(common.MsgTResult), 0x01, 0x00, 0x00},
	}

	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			var result common.Message
			if err := serializer.Deserialize(data, &result); err == nil {
				t.Errorf("Expected error deserializing %v, got message %+v", data, result)
			}
		})
	}
}

// TestSerializerFactory tests the name-based factory
func TestSerializerFactory(t *testing.T) {
	for _, name := range []string{"json", "gob", "binary"} {
		if _, err := New(name); err != nil {
			t.Errorf("Expected serializer for %q, got error: %v", name, err)
		}
	}
	if _, err := New("protobuf"); err == nil {
		t.Error("Expected error for unknown serializer name")
	}
}
