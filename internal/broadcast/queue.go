package broadcast

import (
	"sync"
)

// Queue is a fixed-capacity ring favoring freshness: pushing into a
// full queue evicts the oldest entry instead of blocking the producer.
// Consumers wait on Ready and drain with TryPop.
type Queue[T any] struct {
	mu       sync.Mutex
	buf      []T
	head     int // read position
	tail     int // write position
	count    int
	capacity int
	closed   bool

	ready chan struct{}

	totalPushed  int64
	totalPopped  int64
	totalDropped int64
}

// NewQueue creates a queue holding at most capacity entries.
func NewQueue[T any](capacity int) *Queue[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue[T]{
		buf:      make([]T, capacity),
		capacity: capacity,
		ready:    make(chan struct{}, 1),
	}
}

// Push adds an item, evicting the oldest entry when full. Returns
// false if the queue is closed.
func (q *Queue[T]) Push(item T) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}

	if q.count == q.capacity {
		var zero T
		q.buf[q.head] = zero
		q.head = (q.head + 1) % q.capacity
		q.count--
		q.totalDropped++
	}

	q.buf[q.tail] = item
	q.tail = (q.tail + 1) % q.capacity
	q.count++
	q.totalPushed++
	q.mu.Unlock()

	q.signal()
	return true
}

// TryPop removes the oldest item without blocking. Returns false when
// the queue is empty.
func (q *Queue[T]) TryPop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count == 0 {
		var zero T
		return zero, false
	}

	item := q.buf[q.head]
	var zero T
	q.buf[q.head] = zero // Clear reference for GC
	q.head = (q.head + 1) % q.capacity
	q.count--
	q.totalPopped++
	return item, true
}

// Ready is signalled after pushes and on close. Consumers select on it
// and then drain with TryPop.
func (q *Queue[T]) Ready() <-chan struct{} {
	return q.ready
}

// Close marks the queue closed. Pending items remain drainable.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
}

// Closed reports whether Close was called.
func (q *Queue[T]) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Cap returns the fixed capacity.
func (q *Queue[T]) Cap() int {
	return q.capacity
}

// QueueStats counts queue traffic over its lifetime.
type QueueStats struct {
	Len     int
	Cap     int
	Pushed  int64
	Popped  int64
	Dropped int64
}

// Stats returns a snapshot of the queue counters.
func (q *Queue[T]) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueStats{
		Len:     q.count,
		Cap:     q.capacity,
		Pushed:  q.totalPushed,
		Popped:  q.totalPopped,
		Dropped: q.totalDropped,
	}
}

func (q *Queue[T]) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
