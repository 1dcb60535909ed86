package messaging

import (
	"sync"

	"github.com/BTreeMap/DeskPipe/internal/models"
)

// eventQueue buffers events without bound so the platform's event goroutine
// never waits on a slow consumer.
type eventQueue struct {
	in  chan models.Event
	out chan models.Event

	mu     sync.RWMutex
	closed bool
}

func newEventQueue() *eventQueue {
	q := &eventQueue{
		in:  make(chan models.Event),
		out: make(chan models.Event),
	}
	go q.run()
	return q
}

func (q *eventQueue) run() {
	var pending []models.Event
	for {
		var out chan models.Event
		var next models.Event
		if len(pending) > 0 {
			out = q.out
			next = pending[0]
		}
		select {
		case evt, ok := <-q.in:
			if !ok {
				for _, e := range pending {
					q.out <- e
				}
				close(q.out)
				return
			}
			pending = append(pending, evt)
		case out <- next:
			pending[0] = nil
			pending = pending[1:]
		}
	}
}

// push enqueues evt. It reports false once the queue is closed.
func (q *eventQueue) push(evt models.Event) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return false
	}
	q.in <- evt
	return true
}

// close stops intake; already queued events are still delivered.
func (q *eventQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.in)
	}
}
