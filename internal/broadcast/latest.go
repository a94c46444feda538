package broadcast

import "sync"

// Latest is a latest-value delivery channel: a send replaces any value the
// receiver has not picked up yet. Intermediate values may be skipped under
// a fast writer; only the most recent state matters to a viewer.
type Latest[T any] struct {
	mu sync.Mutex
	ch chan T
}

// NewLatest returns an empty latest-value channel.
func NewLatest[T any]() *Latest[T] {
	return &Latest[T]{ch: make(chan T, 1)}
}

// Send stores v as the current value, discarding an undelivered one.
func (l *Latest[T]) Send(v T) {
	l.mu.Lock()
	defer l.mu.Unlock()
	select {
	case <-l.ch:
	default:
	}
	l.ch <- v
}

// C returns the receive side. Each delivered value is the newest at the
// time of receipt.
func (l *Latest[T]) C() <-chan T {
	return l.ch
}
