package serializer

import (
	"encoding/binary"
	"fmt"

	"github.com/inferd/inferd/ipc/common"
)

// NewBinarySerializer creates a new serializer using a custom binary format
// optimized for speed and efficiency
func NewBinarySerializer() ISerializer {
	return &binarySerializerImpl{}
}

// binarySerializerImpl implements ISerializer using a custom binary format
type binarySerializerImpl struct {
}

// Bit flags to indicate which optional fields are present
const (
	hasID        byte = 1 << 0
	hasTimeoutMs byte = 1 << 1
	hasParams    byte = 1 << 2
	hasMeta      byte = 1 << 3
	hasResult    byte = 1 << 4
	hasCount     byte = 1 << 5
	hasErr       byte = 1 << 6
	hasFlags     byte = 1 << 7
)

// Bit flags within the boolean flags byte
const (
	flagOk        byte = 1 << 0
	flagTerminate byte = 1 << 1
)

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.ISerializer)
// --------------------------------------------------------------------------

func (b binarySerializerImpl) Serialize(msg common.Message) ([]byte, error) {
	// Calculate total size needed
	totalSize := b.sizeBytes(msg)
	result := make([]byte, totalSize)

	// Write message type
	result[0] = byte(msg.MsgType)

	// Initialize flags byte
	var flags byte = 0

	// Set position for writing
	pos := 2 // Start after MsgType and flags

	// Handle ID
	if msg.ID > 0 {
		flags |= hasID
		binary.BigEndian.PutUint64(result[pos:pos+8], msg.ID)
		pos += 8
	}

	// Handle TimeoutMs
	if msg.TimeoutMs > 0 {
		flags |= hasTimeoutMs
		binary.BigEndian.PutUint64(result[pos:pos+8], uint64(msg.TimeoutMs))
		pos += 8
	}

	// Handle Params
	if msg.Params != nil {
		flags |= hasParams
		pos += writeBytesField(result[pos:], msg.Params)
	}

	// Handle Meta
	if msg.Meta != nil {
		flags |= hasMeta
		pos += writeBytesField(result[pos:], msg.Meta)
	}

	// Handle Result
	if msg.Result != nil {
		flags |= hasResult
		pos += writeBytesField(result[pos:], msg.Result)
	}

	// Handle Count
	if msg.Count > 0 {
		flags |= hasCount
		binary.BigEndian.PutUint64(result[pos:pos+8], uint64(msg.Count))
		pos += 8
	}

	// Handle Err
	if msg.Err != "" {
		flags |= hasErr
		pos += writeBytesField(result[pos:], []byte(msg.Err))
	}

	// Handle boolean flags
	if msg.Ok || msg.Terminate {
		flags |= hasFlags
		var bools byte
		if msg.Ok {
			bools |= flagOk
		}
		if msg.Terminate {
			bools |= flagTerminate
		}
		result[pos] = bools
		pos += 1
	}

	// Set flags byte after knowing which fields are present
	result[1] = flags

	return result, nil
}

func (b binarySerializerImpl) Deserialize(data []byte, msg *common.Message) error {
	// Check minimum size (MsgType + flags)
	if len(data) < 2 {
		return fmt.Errorf("data too short for message header")
	}

	// Read message type
	msg.MsgType = common.MessageType(data[0])

	// Read flags
	flags := data[1]

	// Initialize read position
	pos := 2

	// Read ID if present
	if flags&hasID != 0 {
		if pos+8 > len(data) {
			return fmt.Errorf("data too short for ID")
		}
		msg.ID = binary.BigEndian.Uint64(data[pos : pos+8])
		pos += 8
	} else {
		msg.ID = 0
	}

	// Read TimeoutMs if present
	if flags&hasTimeoutMs != 0 {
		if pos+8 > len(data) {
			return fmt.Errorf("data too short for TimeoutMs")
		}
		msg.TimeoutMs = int64(binary.BigEndian.Uint64(data[pos : pos+8]))
		pos += 8
	} else {
		msg.TimeoutMs = 0
	}

	// Read Params if present
	if flags&hasParams != 0 {
		val, n, err := readBytesField(data[pos:], "params")
		if err != nil {
			return err
		}
		msg.Params = val
		pos += n
	} else {
		msg.Params = nil
	}

	// Read Meta if present
	if flags&hasMeta != 0 {
		val, n, err := readBytesField(data[pos:], "meta")
		if err != nil {
			return err
		}
		msg.Meta = val
		pos += n
	} else {
		msg.Meta = nil
	}

	// Read Result if present
	if flags&hasResult != 0 {
		val, n, err := readBytesField(data[pos:], "result")
		if err != nil {
			return err
		}
		msg.Result = val
		pos += n
	} else {
		msg.Result = nil
	}

	// Read Count if present
	if flags&hasCount != 0 {
		if pos+8 > len(data) {
			return fmt.Errorf("data too short for Count")
		}
		msg.Count = int64(binary.BigEndian.Uint64(data[pos : pos+8]))
		pos += 8
	} else {
		msg.Count = 0
	}

	// Read Err if present
	if flags&hasErr != 0 {
		val, n, err := readBytesField(data[pos:], "err")
		if err != nil {
			return err
		}
		msg.Err = string(val)
		pos += n
	} else {
		msg.Err = ""
	}

	// Read boolean flags if present
	if flags&hasFlags != 0 {
		if pos+1 > len(data) {
			return fmt.Errorf("data too short for boolean flags")
		}
		bools := data[pos]
		msg.Ok = bools&flagOk != 0
		msg.Terminate = bools&flagTerminate != 0
		pos += 1
	} else {
		msg.Ok = false
		msg.Terminate = false
	}

	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// writeBytesField writes a length-prefixed byte field and returns the number
// of bytes written
func writeBytesField(dst []byte, val []byte) int {
	binary.BigEndian.PutUint32(dst[:4], uint32(len(val)))
	copy(dst[4:4+len(val)], val)
	return 4 + len(val)
}

// readBytesField reads a length-prefixed byte field and returns the value and
// the number of bytes consumed
func readBytesField(data []byte, name string) ([]byte, int, error) {
	if len(data) < 4 {
		return nil, 0, fmt.Errorf("data too short for %s length", name)
	}
	length := binary.BigEndian.Uint32(data[:4])
	if 4+int(length) > len(data) {
		return nil, 0, fmt.Errorf("data too short for %s data", name)
	}
	val := make([]byte, length)
	copy(val, data[4:4+length])
	return val, 4 + int(length), nil
}

// sizeBytes calculates the total size needed for serialization
func (b binarySerializerImpl) sizeBytes(msg common.Message) int {
	// 1 byte for MsgType + 1 byte for flags
	size := 2

	if msg.ID > 0 {
		size += 8 // uint64
	}
	if msg.TimeoutMs > 0 {
		size += 8 // uint64
	}
	if msg.Params != nil {
		size += 4 + len(msg.Params) // 4 bytes for length + payload
	}
	if msg.Meta != nil {
		size += 4 + len(msg.Meta)
	}
	if msg.Result != nil {
		size += 4 + len(msg.Result)
	}
	if msg.Count > 0 {
		size += 8 // uint64
	}
	if msg.Err != "" {
		size += 4 + len(msg.Err)
	}
	if msg.Ok || msg.Terminate {
		size += 1 // 1 byte for booleans
	}

	return size
}
