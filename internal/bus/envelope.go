// Package bus implements the Redis-backed message bus the workers
// communicate over, including the binary envelope codec and the
// request/response correlation layer.
package bus

import (
	"encoding/binary"
	"fmt"

	"futuresbot/internal/core"

	"github.com/google/uuid"
)

// Envelope is the unit carried on every bus channel. Topic routes the
// payload inside a shared channel; CorrelationID links a response back
// to its request and is absent on plain publishes.
type Envelope struct {
	Topic         string
	CorrelationID *uuid.UUID
	Value         []byte
}

const (
	maxTopicLen = 1<<16 - 1
	uuidLen     = 16
)

// Encode serializes the envelope:
//
//	u16 BE topic length | topic bytes | u8 correlation flag |
//	[16-byte UUID when flag=1] | u32 BE value length | value bytes
func (e *Envelope) Encode() ([]byte, error) {
	if len(e.Topic) > maxTopicLen {
		return nil, fmt.Errorf("%w: topic exceeds %d bytes", core.ErrDecode, maxTopicLen)
	}

	size := 2 + len(e.Topic) + 1 + 4 + len(e.Value)
	if e.CorrelationID != nil {
		size += uuidLen
	}

	buf := make([]byte, 0, size)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(e.Topic)))
	buf = append(buf, e.Topic...)
	if e.CorrelationID != nil {
		buf = append(buf, 1)
		buf = append(buf, e.CorrelationID[:]...)
	} else {
		buf = append(buf, 0)
	}
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(e.Value)))
	buf = append(buf, e.Value...)
	return buf, nil
}

// DecodeEnvelope parses an encoded envelope. Truncated or trailing
// bytes are rejected.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	if len(data) < 3 {
		return nil, fmt.Errorf("%w: envelope too short (%d bytes)", core.ErrDecode, len(data))
	}

	topicLen := int(binary.BigEndian.Uint16(data[:2]))
	offset := 2
	if len(data) < offset+topicLen+1 {
		return nil, fmt.Errorf("%w: truncated topic", core.ErrDecode)
	}
	topic := string(data[offset : offset+topicLen])
	offset += topicLen

	flag := data[offset]
	offset++

	var corr *uuid.UUID
	switch flag {
	case 0:
	case 1:
		if len(data) < offset+uuidLen {
			return nil, fmt.Errorf("%w: truncated correlation id", core.ErrDecode)
		}
		id, err := uuid.FromBytes(data[offset : offset+uuidLen])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", core.ErrDecode, err)
		}
		corr = &id
		offset += uuidLen
	default:
		return nil, fmt.Errorf("%w: invalid correlation flag %d", core.ErrDecode, flag)
	}

	if len(data) < offset+4 {
		return nil, fmt.Errorf("%w: truncated value length", core.ErrDecode)
	}
	valueLen := int(binary.BigEndian.Uint32(data[offset : offset+4]))
	offset += 4

	if len(data) != offset+valueLen {
		return nil, fmt.Errorf("%w: value length mismatch (want %d, have %d)",
			core.ErrDecode, valueLen, len(data)-offset)
	}

	value := make([]byte, valueLen)
	copy(value, data[offset:])

	return &Envelope{Topic: topic, CorrelationID: corr, Value: value}, nil
}
