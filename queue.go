package canmon

import "sync"

// compactThreshold is how many consumed slots may sit in front of the head
// before the backing slice is compacted.
const compactThreshold = 1024

// FrameQueue is an unbounded FIFO shared by the per interface reader
// workers (producers) and the single consumer loop. Push never blocks for
// long and never drops, Poll never blocks at all.
type FrameQueue struct {
	mu   sync.Mutex
	data []Frame
	head int
}

func NewFrameQueue() *FrameQueue {
	return &FrameQueue{data: make([]Frame, 0, 64)}
}

// Push appends a frame at the tail. Safe for concurrent producers.
func (q *FrameQueue) Push(frame Frame) {
	q.mu.Lock()
	q.data = append(q.data, frame)
	queueDepth.Set(float64(len(q.data) - q.head))
	q.mu.Unlock()
}

// Poll removes and returns the head frame, or reports false immediately
// when the queue is empty. The head is advanced by index so a drain is
// linear in the number of frames, consumed slots are reclaimed once the
// queue empties or the dead zone grows past the compaction threshold.
func (q *FrameQueue) Poll() (Frame, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.head == len(q.data) {
		return Frame{}, false
	}
	frame := q.data[q.head]
	q.data[q.head] = Frame{}
	q.head++
	if q.head == len(q.data) {
		q.data = q.data[:0]
		q.head = 0
	} else if q.head >= compactThreshold {
		q.data = append(q.data[:0], q.data[q.head:]...)
		q.head = 0
	}
	queueDepth.Set(float64(len(q.data) - q.head))
	return frame, true
}

func (q *FrameQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.data) - q.head
}
