package canmon

import (
	"errors"
	"fmt"
)

// Configuration errors. These are the only errors allowed to abort startup,
// everything else is contained per frame or per session.
var (
	ErrNoInterfaces       = errors.New("canmon: interface list is empty")
	ErrDuplicateInterface = errors.New("canmon: duplicate interface name")
	ErrTimeoutOrder       = errors.New("canmon: dead timeout must be greater or equal to stale timeout")
	ErrSessionTimeout     = errors.New("canmon: sdo session timeout must be positive")
	ErrAlreadyStarted     = errors.New("canmon: multiplexer already started")
)

// ProtocolError reports malformed or out of sequence CANopen protocol data
// (bad toggle bit, segment without a session, abandoned session). The
// offending session is discarded and processing continues, a protocol error
// never stops the frame stream.
type ProtocolError struct {
	Interface string
	Node      int16
	Reason    string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error [%s] node x%X: %s", e.Interface, e.Node, e.Reason)
}

func newProtocolError(itf string, node int16, format string, args ...any) *ProtocolError {
	return &ProtocolError{Interface: itf, Node: node, Reason: fmt.Sprintf(format, args...)}
}
