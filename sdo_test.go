package canmon

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func sdoFrame(cobId uint32, data ...byte) *Frame {
	frame := &Frame{
		ID:        cobId,
		DLC:       8,
		Interface: "can0",
		Timestamp: time.Now(),
	}
	copy(frame.Data[:], data)
	return frame
}

func testDicts() *DictionaryStore {
	od := NewObjectDictionary(0x21)
	od.AddObjectName(0x1017, 0, "Producer heartbeat time")
	od.AddObjectName(0x2000, 1, "Device name")
	store := NewDictionaryStore()
	store.Add(od)
	return store
}

func TestSDOExpeditedDownload(t *testing.T) {
	dec := NewSDODecoder(testDicts(), DefaultSDOTimeout)

	// ccs=1, e=1, s=1, n=2 -> 2 data bytes, object x1017|00, value 0x03E8.
	frame := sdoFrame(0x621, 0x2B, 0x17, 0x10, 0x00, 0xE8, 0x03, 0x00, 0x00)
	desc, degraded, err := dec.Decode(frame, FC_SDO_RX, 0x21)
	assert.Nil(t, err)
	assert.False(t, degraded)
	assert.Contains(t, desc, "download expedited")
	assert.Contains(t, desc, "Producer heartbeat time")
	assert.Contains(t, desc, "(1000)")
	assert.Equal(t, 0, dec.SessionCount())
}

func TestSDOSegmentedDownloadReassembly(t *testing.T) {
	dec := NewSDODecoder(testDicts(), DefaultSDOTimeout)

	// Initiate: ccs=1, e=0, s=1, object x2000|01, 10 bytes announced.
	init := sdoFrame(0x621, 0x21, 0x00, 0x20, 0x01, 0x0A, 0x00, 0x00, 0x00)
	desc, degraded, err := dec.Decode(init, FC_SDO_RX, 0x21)
	assert.Nil(t, err)
	assert.False(t, degraded)
	assert.Contains(t, desc, "download initiate")
	assert.Contains(t, desc, "10 bytes")
	assert.Equal(t, 1, dec.SessionCount())

	// Segment 1: toggle=0, 7 data bytes, not final.
	seg1 := sdoFrame(0x621, 0x00, 'm', 'o', 'n', 'i', 't', 'o', 'r')
	desc, degraded, err = dec.Decode(seg1, FC_SDO_RX, 0x21)
	assert.Nil(t, err)
	assert.False(t, degraded)
	assert.Contains(t, desc, "7/10 bytes")

	// Segment 2: toggle=1, n=4 -> 3 data bytes, final.
	seg2 := sdoFrame(0x621, 0x19, 'i', 'n', 'g', 0x00, 0x00, 0x00, 0x00)
	desc, degraded, err = dec.Decode(seg2, FC_SDO_RX, 0x21)
	assert.Nil(t, err)
	assert.False(t, degraded)
	assert.Contains(t, desc, "download complete")
	assert.Contains(t, desc, "10 bytes")
	// Exact concatenation of both segment payloads.
	assert.Contains(t, desc, "6D 6F 6E 69 74 6F 72 69 6E 67")
	assert.Equal(t, 0, dec.SessionCount())

	// Session is gone: an unrelated follow-up segment is a protocol error,
	// not a crash.
	stray := sdoFrame(0x621, 0x00, 1, 2, 3, 4, 5, 6, 7)
	_, degraded, err = dec.Decode(stray, FC_SDO_RX, 0x21)
	assert.True(t, degraded)
	var perr *ProtocolError
	assert.ErrorAs(t, err, &perr)
	assert.Contains(t, perr.Reason, "without an open session")
}

func TestSDOToggleMismatchDestroysSession(t *testing.T) {
	dec := NewSDODecoder(testDicts(), DefaultSDOTimeout)

	init := sdoFrame(0x621, 0x21, 0x00, 0x20, 0x01, 0x0A, 0x00, 0x00, 0x00)
	_, _, err := dec.Decode(init, FC_SDO_RX, 0x21)
	assert.Nil(t, err)

	seg1 := sdoFrame(0x621, 0x00, 1, 2, 3, 4, 5, 6, 7)
	_, _, err = dec.Decode(seg1, FC_SDO_RX, 0x21)
	assert.Nil(t, err)

	// Toggle not flipped: rejected, session destroyed.
	repeat := sdoFrame(0x621, 0x00, 8, 9, 10, 11, 12, 13, 14)
	_, degraded, err := dec.Decode(repeat, FC_SDO_RX, 0x21)
	assert.True(t, degraded)
	var perr *ProtocolError
	assert.ErrorAs(t, err, &perr)
	assert.Contains(t, perr.Reason, "toggle bit mismatch")
	assert.Equal(t, 0, dec.SessionCount())
}

func TestSDOAbort(t *testing.T) {
	dec := NewSDODecoder(testDicts(), DefaultSDOTimeout)

	init := sdoFrame(0x621, 0x21, 0x00, 0x20, 0x01, 0x0A, 0x00, 0x00, 0x00)
	_, _, err := dec.Decode(init, FC_SDO_RX, 0x21)
	assert.Nil(t, err)
	assert.Equal(t, 1, dec.SessionCount())

	// Server aborts: code 0x06020000, object does not exist.
	abort := sdoFrame(0x5A1, 0x80, 0x00, 0x20, 0x01, 0x00, 0x00, 0x02, 0x06)
	desc, _, err := dec.Decode(abort, FC_SDO_TX, 0x21)
	var perr *ProtocolError
	assert.ErrorAs(t, err, &perr)
	assert.Contains(t, desc, "object does not exist")
	assert.Contains(t, desc, "x06020000")
	assert.Equal(t, 0, dec.SessionCount())
}

func TestSDOSessionTimeoutEviction(t *testing.T) {
	dec := NewSDODecoder(testDicts(), time.Millisecond)

	init := sdoFrame(0x621, 0x21, 0x00, 0x20, 0x01, 0x0A, 0x00, 0x00, 0x00)
	_, _, err := dec.Decode(init, FC_SDO_RX, 0x21)
	assert.Nil(t, err)

	// The next segment arrives past the session timeout: the session is
	// evicted and reported once as a protocol error.
	late := sdoFrame(0x621, 0x00, 1, 2, 3, 4, 5, 6, 7)
	late.Timestamp = late.Timestamp.Add(10 * time.Millisecond)
	_, degraded, err := dec.Decode(late, FC_SDO_RX, 0x21)
	assert.True(t, degraded)
	var perr *ProtocolError
	assert.ErrorAs(t, err, &perr)
	assert.Contains(t, perr.Reason, "abandoned")
	assert.Equal(t, 0, dec.SessionCount())
}

func TestSDOUploadExpedited(t *testing.T) {
	dec := NewSDODecoder(testDicts(), DefaultSDOTimeout)

	// scs=2, e=1, s=1, n=0 -> 4 bytes inline.
	frame := sdoFrame(0x5A1, 0x43, 0x17, 0x10, 0x00, 0x10, 0x27, 0x00, 0x00)
	desc, degraded, err := dec.Decode(frame, FC_SDO_TX, 0x21)
	assert.Nil(t, err)
	assert.False(t, degraded)
	assert.Contains(t, desc, "upload expedited")
	assert.Contains(t, desc, "(10000)")
	assert.Equal(t, 0, dec.SessionCount())
}

func TestSDOSegmentedUpload(t *testing.T) {
	dec := NewSDODecoder(testDicts(), DefaultSDOTimeout)

	// Upload request from the client is stateless.
	req := sdoFrame(0x621, 0x40, 0x00, 0x20, 0x01, 0x00, 0x00, 0x00, 0x00)
	desc, degraded, err := dec.Decode(req, FC_SDO_RX, 0x21)
	assert.Nil(t, err)
	assert.False(t, degraded)
	assert.Contains(t, desc, "upload request")
	assert.Equal(t, 0, dec.SessionCount())

	// Initiate upload response: segmented, 8 bytes announced.
	init := sdoFrame(0x5A1, 0x41, 0x00, 0x20, 0x01, 0x08, 0x00, 0x00, 0x00)
	_, _, err = dec.Decode(init, FC_SDO_TX, 0x21)
	assert.Nil(t, err)
	assert.Equal(t, 1, dec.SessionCount())

	seg1 := sdoFrame(0x5A1, 0x00, 'u', 'p', 'l', 'o', 'a', 'd', '-')
	_, _, err = dec.Decode(seg1, FC_SDO_TX, 0x21)
	assert.Nil(t, err)

	// toggle=1, n=6 -> 1 data byte, final.
	seg2 := sdoFrame(0x5A1, 0x1D, 'x', 0x00, 0x00, 0x00, 0x00, 0x00, 0x00)
	desc, degraded, err = dec.Decode(seg2, FC_SDO_TX, 0x21)
	assert.Nil(t, err)
	assert.False(t, degraded)
	assert.Contains(t, desc, "upload complete")
	assert.Contains(t, desc, "8 bytes")
	assert.Equal(t, 0, dec.SessionCount())
}

func TestSDOShortFrameDegraded(t *testing.T) {
	dec := NewSDODecoder(testDicts(), DefaultSDOTimeout)
	frame := sdoFrame(0x621, 0x40, 0x17, 0x10)
	frame.DLC = 4
	desc, degraded, err := dec.Decode(frame, FC_SDO_RX, 0x21)
	assert.Nil(t, err)
	assert.True(t, degraded)
	assert.Contains(t, desc, "SDO")
}

func TestSDOSessionsAreIndependentPerInterfaceAndDirection(t *testing.T) {
	dec := NewSDODecoder(testDicts(), DefaultSDOTimeout)

	initA := sdoFrame(0x621, 0x21, 0x00, 0x20, 0x01, 0x0A, 0x00, 0x00, 0x00)
	initA.Interface = "can0"
	_, _, err := dec.Decode(initA, FC_SDO_RX, 0x21)
	assert.Nil(t, err)

	initB := sdoFrame(0x621, 0x21, 0x00, 0x20, 0x01, 0x0A, 0x00, 0x00, 0x00)
	initB.Interface = "can1"
	_, _, err = dec.Decode(initB, FC_SDO_RX, 0x21)
	assert.Nil(t, err)

	assert.Equal(t, 2, dec.SessionCount())

	// A segment on can1 must not disturb the can0 session.
	seg := sdoFrame(0x621, 0x00, 1, 2, 3, 4, 5, 6, 7)
	seg.Interface = "can1"
	_, _, err = dec.Decode(seg, FC_SDO_RX, 0x21)
	assert.Nil(t, err)
	assert.Equal(t, 2, dec.SessionCount())
}
