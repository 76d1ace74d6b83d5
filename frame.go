// Package canmon is a passive CANopen bus monitor. It merges traffic from
// several CAN interfaces into one stream, classifies every frame by its
// COB-ID, decodes the CANopen service it belongs to and tracks per message
// liveness.
package canmon

import (
	"fmt"
	"strings"
	"time"
)

// Frame is one raw CAN frame as read from a monitored interface.
// It is immutable once received.
type Frame struct {
	ID        uint32
	DLC       uint8
	Data      [8]byte
	Extended  bool
	Interface string
	Timestamp time.Time
}

// NewFrame builds a frame from an identifier and payload, clamping the
// payload to the 8 byte CAN maximum.
func NewFrame(id uint32, data []byte) Frame {
	frame := Frame{ID: id}
	if len(data) > 8 {
		data = data[:8]
	}
	frame.DLC = uint8(copy(frame.Data[:], data))
	return frame
}

// Payload returns the valid part of the data field.
func (frame *Frame) Payload() []byte {
	dlc := frame.DLC
	if dlc > 8 {
		dlc = 8
	}
	return frame.Data[:dlc]
}

// HexData renders the payload as space separated upper case hex bytes.
// Used as the fallback rendering whenever a decoder cannot do better.
func (frame *Frame) HexData() string {
	payload := frame.Payload()
	if len(payload) == 0 {
		return "(no data)"
	}
	parts := make([]string, len(payload))
	for i, b := range payload {
		parts[i] = fmt.Sprintf("%02X", b)
	}
	return strings.Join(parts, " ")
}

func (frame *Frame) String() string {
	return fmt.Sprintf("<Frame x%03X [%v] %v>", frame.ID, frame.Interface, frame.HexData())
}
