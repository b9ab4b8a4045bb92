package queue

import "sync"

// Unbounded is a FIFO whose Push never blocks. Items come out of Out() in
// push order. Out() is closed once the queue is closed and drained, or
// immediately on Discard.
type Unbounded[T any] struct {
	mu      sync.Mutex
	items   []T
	closed  bool
	notify  chan struct{}
	out     chan T
	discard chan struct{}
	once    sync.Once
}

func NewUnbounded[T any]() *Unbounded[T] {
	q := &Unbounded[T]{
		notify:  make(chan struct{}, 1),
		out:     make(chan T),
		discard: make(chan struct{}),
	}
	go q.pump()
	return q
}

// Push appends an item. It returns false if the queue is closed.
func (q *Unbounded[T]) Push(item T) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, item)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return true
}

func (q *Unbounded[T]) Out() <-chan T {
	return q.out
}

// Len reports items not yet handed to a receiver.
func (q *Unbounded[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close stops accepting items. Pending items are still delivered.
func (q *Unbounded[T]) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Discard closes the queue and drops anything still pending.
func (q *Unbounded[T]) Discard() {
	q.Close()
	q.once.Do(func() { close(q.discard) })
}

func (q *Unbounded[T]) pump() {
	defer close(q.out)

	for {
		q.mu.Lock()
		for len(q.items) == 0 && !q.closed {
			q.mu.Unlock()
			select {
			case <-q.notify:
			case <-q.discard:
				return
			}
			q.mu.Lock()
		}
		if len(q.items) == 0 {
			q.mu.Unlock()
			return
		}
		item := q.items[0]
		var zero T
		q.items[0] = zero
		q.items = q.items[1:]
		q.mu.Unlock()

		select {
		case q.out <- item:
		case <-q.discard:
			return
		}
	}
}
