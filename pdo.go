package canmon

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// decodePDO renders a PDO payload through the sending node's configured
// mapping. Every mapped sub field is sliced out of the payload and shown
// with its configured name and scaled value. Without a dictionary or a
// mapping for this slot, the raw bytes are shown instead, flagged as a
// degraded rendering.
func decodePDO(frame *Frame, fc FunctionCode, od *ObjectDictionary) (string, bool) {
	if od == nil {
		return "PDO " + frame.HexData(), true
	}
	mappings := od.LookupPDOMapping(fc)
	if len(mappings) == 0 {
		return "PDO " + frame.HexData(), true
	}
	available := uint16(len(frame.Payload())) * 8
	fields := make([]string, 0, len(mappings))
	for _, m := range mappings {
		if uint16(m.BitOffset)+uint16(m.BitLength) > available {
			// Mapping extends past the received payload, fall back to raw.
			return "PDO " + frame.HexData(), true
		}
		value := extractBits(frame.Data, m.BitOffset, m.BitLength)
		fields = append(fields, renderPDOField(m, value))
	}
	return strings.Join(fields, ", "), false
}

func renderPDOField(m PDOMapping, value uint64) string {
	if m.Scale != 1 {
		return fmt.Sprintf("%s=%g", m.Name, float64(value)*m.Scale)
	}
	return fmt.Sprintf("%s=%d", m.Name, value)
}

// extractBits slices a little endian bit field out of a payload. PDO
// payloads are at most 8 bytes, so the whole frame fits one uint64.
func extractBits(data [8]byte, bitOffset uint8, bitLength uint8) uint64 {
	if bitLength == 0 || bitOffset >= 64 {
		return 0
	}
	word := binary.LittleEndian.Uint64(data[:])
	word >>= bitOffset
	if bitLength >= 64 {
		return word
	}
	return word & ((1 << bitLength) - 1)
}
