package input

import "sync"

// DefaultQueueSize bounds the events buffered between two Events calls.
const DefaultQueueSize = 256

// Queue is a bounded FIFO of events shared between a device reader and the
// consumer draining it. When full, the oldest event is dropped.
type Queue struct {
	mu      sync.Mutex
	events  []Event
	size    int
	dropped int
}

// NewQueue returns a queue holding at most size events. A non-positive size
// selects DefaultQueueSize.
func NewQueue(size int) *Queue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Queue{size: size}
}

// Push appends an event.
func (q *Queue) Push(ev Event) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.events) >= q.size {
		q.events = q.events[1:]
		q.dropped++
	}
	q.events = append(q.events, ev)
}

// Drain removes and returns all queued events.
func (q *Queue) Drain() []Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.events
	q.events = nil
	return out
}

// Dropped returns how many events were discarded because the queue was full.
func (q *Queue) Dropped() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
