package canmon

import (
	"encoding/binary"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
)

// SDO command specifiers, bits 7..5 of the first payload byte.
// Client side (SDO_RX frames, client to server):
const (
	sdoCCS_DOWNLOAD_SEGMENT uint8 = 0
	sdoCCS_DOWNLOAD_INIT    uint8 = 1
	sdoCCS_UPLOAD_INIT      uint8 = 2
	sdoCCS_UPLOAD_SEGMENT   uint8 = 3
	sdoCS_ABORT             uint8 = 4
)

// Server side (SDO_TX frames, server to client):
const (
	sdoSCS_UPLOAD_SEGMENT   uint8 = 0
	sdoSCS_DOWNLOAD_SEGMENT uint8 = 1
	sdoSCS_UPLOAD_INIT      uint8 = 2
	sdoSCS_DOWNLOAD_INIT    uint8 = 3
)

// Flag bits of the first payload byte.
const (
	sdoFlagExpedited uint8 = 0x02 // initiate: data inline
	sdoFlagSized     uint8 = 0x01 // initiate: size field valid
	sdoFlagToggle    uint8 = 0x10 // segment: alternating toggle
	sdoFlagFinal     uint8 = 0x01 // segment: last segment of transfer
)

// SDOAbortCode is the reason carried by an abort transfer service.
type SDOAbortCode uint32

var sdoAbortDescription = map[SDOAbortCode]string{
	0x05030000: "toggle bit not altered",
	0x05040000: "SDO protocol timed out",
	0x05040001: "command specifier not valid or unknown",
	0x05040002: "invalid block size",
	0x05040003: "invalid sequence number",
	0x05040004: "CRC error",
	0x05040005: "out of memory",
	0x06010000: "unsupported access to an object",
	0x06010001: "attempt to read a write only object",
	0x06010002: "attempt to write a read only object",
	0x06020000: "object does not exist in the object dictionary",
	0x06040041: "object cannot be mapped to the PDO",
	0x06040042: "num and len of object to be mapped exceeds PDO len",
	0x06040043: "general parameter incompatibility",
	0x06040047: "general internal incompatibility in device",
	0x06060000: "access failed due to hardware error",
	0x06070010: "data type does not match, length does not match",
	0x06070012: "data type does not match, length too high",
	0x06070013: "data type does not match, length too short",
	0x06090011: "sub index does not exist",
	0x06090030: "invalid value for parameter",
	0x06090031: "value range of parameter written too high",
	0x06090032: "value range of parameter written too low",
	0x06090036: "maximum value is less than minimum value",
	0x060A0023: "resource not available",
	0x08000000: "general error",
	0x08000020: "data cannot be transferred or stored to application",
	0x08000021: "data cannot be transferred because of local control",
	0x08000022: "data cannot be transferred because of device state",
	0x08000023: "object dictionary not present",
	0x08000024: "no data available",
}

func (code SDOAbortCode) Describe() string {
	if desc, ok := sdoAbortDescription[code]; ok {
		return desc
	}
	return "unknown abort reason"
}

type sdoDirection uint8

const (
	sdoDownload sdoDirection = iota // client writes to the node
	sdoUpload                       // client reads from the node
)

func (dir sdoDirection) String() string {
	if dir == sdoUpload {
		return "upload"
	}
	return "download"
}

type sdoKey struct {
	itf  string
	node uint8
	dir  sdoDirection
}

// sdoSession is the persistent state of one segmented transfer, created by
// an initiate command and destroyed by the final segment, an abort, or a
// timeout. Owned exclusively by the decoder, which runs on the single
// consumer goroutine.
type sdoSession struct {
	index    uint16
	subindex uint8
	buffer   []byte
	total    uint32 // expected byte count, 0 when not announced
	toggle   uint8  // expected toggle bit of the next segment
	started  time.Time
	last     time.Time
}

// SDODecoder turns observed SDO traffic into descriptions, reassembling
// segmented transfers per (interface, node, direction).
type SDODecoder struct {
	sessions map[sdoKey]*sdoSession
	timeout  time.Duration
	dicts    *DictionaryStore
}

func NewSDODecoder(dicts *DictionaryStore, sessionTimeout time.Duration) *SDODecoder {
	return &SDODecoder{
		sessions: make(map[sdoKey]*sdoSession),
		timeout:  sessionTimeout,
		dicts:    dicts,
	}
}

// SessionCount reports the number of transfers currently in progress.
func (dec *SDODecoder) SessionCount() int {
	return len(dec.sessions)
}

// take fetches the open session for a key, lazily evicting it when it has
// been idle past the session timeout. Eviction is reported once as a
// protocol error and the caller sees no session.
func (dec *SDODecoder) take(key sdoKey, now time.Time) (*sdoSession, *ProtocolError) {
	sess, ok := dec.sessions[key]
	if !ok {
		return nil, nil
	}
	if now.Sub(sess.last) > dec.timeout {
		delete(dec.sessions, key)
		return nil, newProtocolError(key.itf, int16(key.node),
			"SDO %s session for x%04X|%02X abandoned after %v", key.dir, sess.index, sess.subindex, dec.timeout)
	}
	return sess, nil
}

// open creates a fresh session, replacing any stale leftover under the
// same key.
func (dec *SDODecoder) open(key sdoKey, sess *sdoSession) {
	if old, ok := dec.sessions[key]; ok {
		log.Warnf("[SDO][%s] node x%X : replacing unfinished %s session for x%04X|%02X",
			key.itf, key.node, key.dir, old.index, old.subindex)
	}
	dec.sessions[key] = sess
}

// Decode renders one SDO frame. A returned *ProtocolError means the frame
// was malformed or out of sequence, the offending session has already been
// discarded and processing may continue.
func (dec *SDODecoder) Decode(frame *Frame, fc FunctionCode, node int16) (string, bool, error) {
	if node < 0 {
		return "SDO " + frame.HexData(), true, nil
	}
	if frame.DLC < 8 {
		// Every SDO frame is padded to 8 bytes on the wire.
		return "SDO " + frame.HexData(), true, nil
	}
	if fc == FC_SDO_RX {
		return dec.decodeClient(frame, uint8(node))
	}
	return dec.decodeServer(frame, uint8(node))
}

// decodeClient handles client to server traffic (COB-ID 0x600 + node).
func (dec *SDODecoder) decodeClient(frame *Frame, node uint8) (string, bool, error) {
	cs := frame.Data[0] >> 5
	switch cs {
	case sdoCCS_DOWNLOAD_INIT:
		return dec.decodeDownloadInitiate(frame, node)
	case sdoCCS_DOWNLOAD_SEGMENT:
		return dec.decodeSegment(frame, node, sdoDownload)
	case sdoCCS_UPLOAD_INIT:
		index, subindex := sdoMultiplexer(frame)
		return fmt.Sprintf("SDO upload request : %s (x%04X|%02X)",
			dec.objectName(frame, node, index, subindex), index, subindex), false, nil
	case sdoCCS_UPLOAD_SEGMENT:
		return "SDO upload segment request", false, nil
	case sdoCS_ABORT:
		return dec.decodeAbort(frame, node)
	default:
		return "SDO " + frame.HexData(), true,
			newProtocolError(frame.Interface, int16(node), "unknown SDO client command specifier %d", cs)
	}
}

// decodeServer handles server to client traffic (COB-ID 0x580 + node).
func (dec *SDODecoder) decodeServer(frame *Frame, node uint8) (string, bool, error) {
	cs := frame.Data[0] >> 5
	switch cs {
	case sdoSCS_UPLOAD_INIT:
		return dec.decodeUploadInitiate(frame, node)
	case sdoSCS_UPLOAD_SEGMENT:
		return dec.decodeSegment(frame, node, sdoUpload)
	case sdoSCS_DOWNLOAD_INIT:
		index, subindex := sdoMultiplexer(frame)
		return fmt.Sprintf("SDO download acknowledged : %s (x%04X|%02X)",
			dec.objectName(frame, node, index, subindex), index, subindex), false, nil
	case sdoSCS_DOWNLOAD_SEGMENT:
		return "SDO download segment acknowledged", false, nil
	case sdoCS_ABORT:
		return dec.decodeAbort(frame, node)
	default:
		return "SDO " + frame.HexData(), true,
			newProtocolError(frame.Interface, int16(node), "unknown SDO server command specifier %d", cs)
	}
}

// decodeDownloadInitiate handles a client starting a write. Expedited
// writes carry up to 4 bytes inline and never create a session.
func (dec *SDODecoder) decodeDownloadInitiate(frame *Frame, node uint8) (string, bool, error) {
	index, subindex := sdoMultiplexer(frame)
	name := dec.objectName(frame, node, index, subindex)
	if frame.Data[0]&sdoFlagExpedited != 0 {
		size := 4
		if frame.Data[0]&sdoFlagSized != 0 {
			size = 4 - int((frame.Data[0]>>2)&0x03)
		}
		value := frame.Data[4 : 4+size]
		return fmt.Sprintf("SDO download expedited : %s (x%04X|%02X) = %s",
			name, index, subindex, renderSDOBytes(value)), false, nil
	}
	key := sdoKey{itf: frame.Interface, node: node, dir: sdoDownload}
	sess := &sdoSession{
		index:    index,
		subindex: subindex,
		started:  frame.Timestamp,
		last:     frame.Timestamp,
	}
	if frame.Data[0]&sdoFlagSized != 0 {
		sess.total = binary.LittleEndian.Uint32(frame.Data[4:8])
	}
	dec.open(key, sess)
	if sess.total > 0 {
		return fmt.Sprintf("SDO download initiate : %s (x%04X|%02X), %d bytes",
			name, index, subindex, sess.total), false, nil
	}
	return fmt.Sprintf("SDO download initiate : %s (x%04X|%02X)", name, index, subindex), false, nil
}

// decodeUploadInitiate handles the server's answer to a read. Expedited
// answers carry the value inline, segmented ones open an upload session.
func (dec *SDODecoder) decodeUploadInitiate(frame *Frame, node uint8) (string, bool, error) {
	index, subindex := sdoMultiplexer(frame)
	name := dec.objectName(frame, node, index, subindex)
	if frame.Data[0]&sdoFlagExpedited != 0 {
		size := 4
		if frame.Data[0]&sdoFlagSized != 0 {
			size = 4 - int((frame.Data[0]>>2)&0x03)
		}
		value := frame.Data[4 : 4+size]
		return fmt.Sprintf("SDO upload expedited : %s (x%04X|%02X) = %s",
			name, index, subindex, renderSDOBytes(value)), false, nil
	}
	key := sdoKey{itf: frame.Interface, node: node, dir: sdoUpload}
	sess := &sdoSession{
		index:    index,
		subindex: subindex,
		started:  frame.Timestamp,
		last:     frame.Timestamp,
	}
	if frame.Data[0]&sdoFlagSized != 0 {
		sess.total = binary.LittleEndian.Uint32(frame.Data[4:8])
	}
	dec.open(key, sess)
	if sess.total > 0 {
		return fmt.Sprintf("SDO upload initiate : %s (x%04X|%02X), %d bytes",
			name, index, subindex, sess.total), false, nil
	}
	return fmt.Sprintf("SDO upload initiate : %s (x%04X|%02X)", name, index, subindex), false, nil
}

// decodeSegment appends one data carrying segment to its open session,
// validating the alternating toggle bit. The final flag closes the session
// and yields the fully assembled value.
func (dec *SDODecoder) decodeSegment(frame *Frame, node uint8, dir sdoDirection) (string, bool, error) {
	key := sdoKey{itf: frame.Interface, node: node, dir: dir}
	sess, perr := dec.take(key, frame.Timestamp)
	if perr != nil {
		return perr.Error(), true, perr
	}
	if sess == nil {
		err := newProtocolError(frame.Interface, int16(node), "SDO %s segment without an open session", dir)
		return err.Error(), true, err
	}
	toggle := frame.Data[0] & sdoFlagToggle
	if toggle != sess.toggle {
		delete(dec.sessions, key)
		err := newProtocolError(frame.Interface, int16(node),
			"SDO %s toggle bit mismatch for x%04X|%02X, session aborted", dir, sess.index, sess.subindex)
		return err.Error(), true, err
	}
	sess.toggle ^= sdoFlagToggle

	empty := int((frame.Data[0] >> 1) & 0x07)
	sess.buffer = append(sess.buffer, frame.Data[1:8-empty]...)
	sess.last = frame.Timestamp

	name := dec.objectName(frame, node, sess.index, sess.subindex)
	if frame.Data[0]&sdoFlagFinal != 0 {
		assembled := sess.buffer
		delete(dec.sessions, key)
		return fmt.Sprintf("SDO %s complete : %s (x%04X|%02X), %d bytes = %s",
			dir, name, sess.index, sess.subindex, len(assembled), renderSDOBytes(assembled)), false, nil
	}
	if sess.total > 0 {
		return fmt.Sprintf("SDO %s segment : %s, %d/%d bytes",
			dir, name, len(sess.buffer), sess.total), false, nil
	}
	return fmt.Sprintf("SDO %s segment : %s, %d bytes", dir, name, len(sess.buffer)), false, nil
}

// decodeAbort renders an abort transfer service and destroys any session
// open for the node on this interface, in either direction.
func (dec *SDODecoder) decodeAbort(frame *Frame, node uint8) (string, bool, error) {
	index, subindex := sdoMultiplexer(frame)
	code := SDOAbortCode(binary.LittleEndian.Uint32(frame.Data[4:8]))
	delete(dec.sessions, sdoKey{itf: frame.Interface, node: node, dir: sdoDownload})
	delete(dec.sessions, sdoKey{itf: frame.Interface, node: node, dir: sdoUpload})
	err := newProtocolError(frame.Interface, int16(node),
		"SDO abort x%04X|%02X : %s (x%08X)", index, subindex, code.Describe(), uint32(code))
	return err.Error(), false, err
}

func sdoMultiplexer(frame *Frame) (uint16, uint8) {
	return binary.LittleEndian.Uint16(frame.Data[1:3]), frame.Data[3]
}

func (dec *SDODecoder) objectName(frame *Frame, node uint8, index uint16, subindex uint8) string {
	if dec.dicts == nil {
		return "unknown"
	}
	od := dec.dicts.Lookup(int16(node))
	if od == nil {
		return "unknown"
	}
	return od.LookupObject(index, subindex)
}

func renderSDOBytes(data []byte) string {
	if len(data) == 0 {
		return "(empty)"
	}
	hexPart := make([]byte, 0, len(data)*3)
	for i, b := range data {
		if i > 0 {
			hexPart = append(hexPart, ' ')
		}
		hexPart = append(hexPart, fmt.Sprintf("%02X", b)...)
	}
	if len(data) <= 4 {
		var value uint32
		for i := len(data) - 1; i >= 0; i-- {
			value = value<<8 | uint32(data[i])
		}
		return fmt.Sprintf("%s (%d)", hexPart, value)
	}
	return string(hexPart)
}
