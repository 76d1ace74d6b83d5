package canmon

import (
	"encoding/binary"
	"fmt"
	"time"
)

// decodeSYNC renders a SYNC pulse. The payload carries no semantics beyond
// an optional counter byte when the producer is configured with a counter
// overflow.
func decodeSYNC(frame *Frame) (string, bool) {
	if frame.DLC == 1 {
		return fmt.Sprintf("SYNC pulse, counter %d", frame.Data[0]), false
	}
	return "SYNC pulse", false
}

// The CANopen TIME epoch, per CiA 301.
var canopenEpoch = time.Date(1984, time.January, 1, 0, 0, 0, 0, time.UTC)

// decodeTIME renders a TIME_OF_DAY stamp: milliseconds since midnight in
// the low 28 bits, days since 1984-01-01 in the following 16 bits.
func decodeTIME(frame *Frame) (string, bool) {
	if frame.DLC < 6 {
		return "TIME " + frame.HexData(), true
	}
	ms := binary.LittleEndian.Uint32(frame.Data[0:4]) & 0x0FFFFFFF
	days := binary.LittleEndian.Uint16(frame.Data[4:6])
	stamp := canopenEpoch.
		AddDate(0, 0, int(days)).
		Add(time.Duration(ms) * time.Millisecond)
	return "TIME : " + stamp.Format("2006-01-02 15:04:05.000"), false
}
