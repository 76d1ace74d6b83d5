package canmon

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Default liveness thresholds, can be overridden per message from
// configuration.
const (
	DefaultStaleTimeout = 6 * time.Second
	DefaultDeadTimeout  = 12 * time.Second
)

// Status is the derived liveness of a decoded message. It is never stored,
// always recomputed against "now".
type Status uint8

const (
	ALIVE Status = iota
	STALE
	DEAD
)

func (s Status) String() string {
	switch s {
	case STALE:
		return "STALE"
	case DEAD:
		return "DEAD"
	default:
		return "ALIVE"
	}
}

// Message is a classified, decoded frame. Timestamp is copied from the
// frame at decode time and never updated afterwards, liveness is always
// computed relative to the caller supplied instant.
type Message struct {
	Frame
	Type         FunctionCode
	Node         int16 // NoNode for broadcast services
	Description  string
	Degraded     bool // best effort raw rendering, payload or lookup missed
	StaleTimeout time.Duration
	DeadTimeout  time.Duration
}

// Status computes the liveness of the message at the given instant.
// Pure and re-entrant, repeated calls never mutate the message.
func (msg *Message) Status(now time.Time) Status {
	age := now.Sub(msg.Timestamp)
	if age >= msg.DeadTimeout {
		return DEAD
	}
	if age >= msg.StaleTimeout {
		return STALE
	}
	return ALIVE
}

func (msg *Message) String() string {
	return fmt.Sprintf("<Message %v %v x%03X>", msg.Status(time.Now()), msg.Type, msg.ID)
}

// MessageTable keeps the most recent message per COB-ID. Written by the
// consumer loop and read concurrently by the status gateway, so access is
// guarded. An optional capacity bounds the number of distinct COB-IDs,
// existing entries are always allowed to update in place.
type MessageTable struct {
	mu       sync.RWMutex
	messages map[uint32]Message
	capacity int // 0 means unbounded
}

func NewMessageTable(capacity int) *MessageTable {
	return &MessageTable{
		messages: make(map[uint32]Message),
		capacity: capacity,
	}
}

// Add stores the message, replacing any previous one with the same COB-ID.
func (table *MessageTable) Add(msg Message) {
	table.mu.Lock()
	defer table.mu.Unlock()
	if table.capacity > 0 {
		if _, exists := table.messages[msg.ID]; !exists && len(table.messages) >= table.capacity {
			return
		}
	}
	table.messages[msg.ID] = msg
}

// Get returns the last message seen for a COB-ID.
func (table *MessageTable) Get(cobId uint32) (Message, bool) {
	table.mu.RLock()
	defer table.mu.RUnlock()
	msg, ok := table.messages[cobId]
	return msg, ok
}

func (table *MessageTable) Len() int {
	table.mu.RLock()
	defer table.mu.RUnlock()
	return len(table.messages)
}

// Snapshot returns a copy of all messages sorted by COB-ID.
func (table *MessageTable) Snapshot() []Message {
	table.mu.RLock()
	defer table.mu.RUnlock()
	out := make([]Message, 0, len(table.messages))
	for _, msg := range table.messages {
		out = append(out, msg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
