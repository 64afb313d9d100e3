package transport

import (
	"sync"

	"github.com/gammazero/deque"
)

// eventQueue hands events from I/O goroutines to Poll.
type eventQueue struct {
	mu     sync.Mutex
	events deque.Deque[Event]
	limit  int
}

func newEventQueue(limit int) *eventQueue {
	return &eventQueue{limit: limit}
}

// full reports whether new datagrams should be refused. Events that follow
// from an already admitted datagram are pushed regardless.
func (q *eventQueue) full() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.limit > 0 && q.events.Len() >= q.limit
}

func (q *eventQueue) push(ev Event) {
	q.mu.Lock()
	q.events.PushBack(ev)
	q.mu.Unlock()
}

func (q *eventQueue) drain() []Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.events.Len() == 0 {
		return nil
	}
	out := make([]Event, 0, q.events.Len())
	for q.events.Len() > 0 {
		out = append(out, q.events.PopFront())
	}
	return out
}
