package session

import (
	"context"
	"sync"
)

// KeyedMutex serializes work per key in reservation order. Queues for idle
// keys are dropped so the map only holds keys that are currently in use.
type KeyedMutex struct {
	mu     sync.Mutex
	queues map[string]*keyQueue
}

type keyQueue struct {
	tail chan struct{} // closed when the most recent reservation releases
	refs int
}

// Turn is a reserved place in a key's queue. Wait and Release are called
// from the goroutine that does the work.
type Turn struct {
	m        *KeyedMutex
	key      string
	prev     <-chan struct{}
	done     chan struct{}
	acquired bool
	once     sync.Once
}

// NewKeyedMutex creates an empty KeyedMutex.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{queues: make(map[string]*keyQueue)}
}

// Reserve queues behind every earlier reservation for key without blocking.
// Reserving in arrival order on one goroutine fixes the handling order even
// when the holders run on separate goroutines.
func (m *KeyedMutex) Reserve(key string) *Turn {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.queues[key]
	if !ok {
		q = &keyQueue{}
		m.queues[key] = q
	}
	t := &Turn{m: m, key: key, prev: q.tail, done: make(chan struct{})}
	q.tail = t.done
	q.refs++
	return t
}

// Lock reserves key, waits for it and returns the function that releases it.
func (m *KeyedMutex) Lock(key string) (unlock func()) {
	t := m.Reserve(key)
	_ = t.Wait(context.Background())
	return t.Release
}

// Wait blocks until every earlier reservation for the key has released.
func (t *Turn) Wait(ctx context.Context) error {
	if t.prev != nil {
		select {
		case <-t.prev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	t.acquired = true
	return nil
}

// Release hands the key to the next reservation. It is safe to call more
// than once and without a successful Wait; in that case the next holder
// still waits for the earlier ones.
func (t *Turn) Release() {
	t.once.Do(func() {
		if t.acquired || t.prev == nil {
			t.finish()
			return
		}
		go func() {
			<-t.prev
			t.finish()
		}()
	})
}

func (t *Turn) finish() {
	close(t.done)
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	q := t.m.queues[t.key]
	q.refs--
	if q.refs == 0 {
		delete(t.m.queues, t.key)
	}
}

// Active returns the number of keys currently held or awaited.
func (m *KeyedMutex) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queues)
}
