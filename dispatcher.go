package canmon

import (
	"time"

	log "github.com/sirupsen/logrus"
)

// Parser classifies raw frames and routes them to the protocol decoder for
// their function code. It holds the only stateful decoder (SDO) and the
// per-node object dictionaries, so a single Parser serves the whole bus.
// Not safe for concurrent use, it belongs to the consumer goroutine.
type Parser struct {
	dicts        *DictionaryStore
	sdo          *SDODecoder
	staleTimeout time.Duration
	deadTimeout  time.Duration
}

func NewParser(dicts *DictionaryStore, sdoTimeout, staleTimeout, deadTimeout time.Duration) *Parser {
	if dicts == nil {
		dicts = NewDictionaryStore()
	}
	return &Parser{
		dicts:        dicts,
		sdo:          NewSDODecoder(dicts, sdoTimeout),
		staleTimeout: staleTimeout,
		deadTimeout:  deadTimeout,
	}
}

// Decode classifies one frame and produces its message. Frames that cannot
// be interpreted still yield a message carrying the raw payload, flagged
// as degraded, so the consumer sees every frame exactly once.
func (parser *Parser) Decode(frame Frame) Message {
	fc := Classify(frame.ID)
	node := NodeOf(frame.ID)

	msg := Message{
		Frame:        frame,
		Type:         fc,
		Node:         node,
		StaleTimeout: parser.staleTimeout,
		DeadTimeout:  parser.deadTimeout,
	}

	switch {
	case fc == FC_NMT:
		msg.Description, msg.Degraded = decodeNMT(&frame)
	case fc == FC_SYNC:
		msg.Description, msg.Degraded = decodeSYNC(&frame)
	case fc == FC_TIME:
		msg.Description, msg.Degraded = decodeTIME(&frame)
	case fc == FC_EMCY:
		msg.Description, msg.Degraded = decodeEMCY(&frame)
	case fc.IsPDO():
		msg.Description, msg.Degraded = decodePDO(&frame, fc, parser.dicts.Lookup(node))
	case fc.IsSDO():
		desc, degraded, err := parser.sdo.Decode(&frame, fc, node)
		msg.Description, msg.Degraded = desc, degraded
		if err != nil {
			protocolErrors.Inc()
			log.Warnf("[SDO][%s] %v", frame.Interface, err)
		}
	case fc == FC_HEARTBEAT:
		msg.Description, msg.Degraded = decodeHeartbeat(&frame)
	default:
		msg.Description = "unparseable : " + frame.HexData()
		msg.Degraded = true
	}

	messagesDecoded.WithLabelValues(fc.String()).Inc()
	return msg
}
