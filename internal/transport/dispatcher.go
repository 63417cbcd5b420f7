// ABOUTME: Per-session ordered dispatch: work for one session runs in submission order
// ABOUTME: Different sessions drain concurrently on their own goroutines

package transport

import (
	"errors"
	"sync"
)

// ErrQueueFull is returned when a session already has MaxPending tasks queued.
var ErrQueueFull = errors.New("transport: session queue full")

// DefaultMaxPending bounds the queued tasks per session.
const DefaultMaxPending = 256

// Dispatcher serializes tasks per session key.
type Dispatcher struct {
	maxPending int

	mu     sync.Mutex
	queues map[string]*sessionQueue
	closed bool
	wg     sync.WaitGroup
}

type sessionQueue struct {
	tasks   []func()
	running bool
}

// NewDispatcher creates a dispatcher. maxPending <= 0 selects DefaultMaxPending.
func NewDispatcher(maxPending int) *Dispatcher {
	if maxPending <= 0 {
		maxPending = DefaultMaxPending
	}
	return &Dispatcher{
		maxPending: maxPending,
		queues:     make(map[string]*sessionQueue),
	}
}

// Submit queues fn behind any earlier work for the same session.
func (d *Dispatcher) Submit(sessionID string, fn func()) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrClosed
	}
	q, ok := d.queues[sessionID]
	if !ok {
		q = &sessionQueue{}
		d.queues[sessionID] = q
	}
	if len(q.tasks) >= d.maxPending {
		return ErrQueueFull
	}
	q.tasks = append(q.tasks, fn)
	if !q.running {
		q.running = true
		d.wg.Add(1)
		go d.drain(sessionID, q)
	}
	return nil
}

func (d *Dispatcher) drain(sessionID string, q *sessionQueue) {
	defer d.wg.Done()
	for {
		d.mu.Lock()
		if len(q.tasks) == 0 {
			q.running = false
			delete(d.queues, sessionID)
			d.mu.Unlock()
			return
		}
		fn := q.tasks[0]
		q.tasks[0] = nil
		q.tasks = q.tasks[1:]
		d.mu.Unlock()

		fn()
	}
}

// Pending returns the number of queued tasks for a session.
func (d *Dispatcher) Pending(sessionID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if q, ok := d.queues[sessionID]; ok {
		return len(q.tasks)
	}
	return 0
}

// Close rejects new work and waits for queued tasks to finish. Safe to call
// more than once.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.wg.Wait()
}
