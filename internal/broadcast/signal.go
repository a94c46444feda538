package broadcast

// Signal is a bounded, coalescing wake-up channel. Senders tell a poller
// "state changed" without carrying the change itself; a full channel means
// a wake-up is already pending, so further sends are dropped.
type Signal struct {
	ch chan struct{}
}

// NewSignal returns a signal with a small fixed buffer.
func NewSignal() *Signal {
	return &Signal{ch: make(chan struct{}, 8)}
}

// TrySend queues a wake-up without blocking. Returns false if the buffer
// is full, which is fine: the pending wake-up covers this change too.
func (s *Signal) TrySend() bool {
	select {
	case s.ch <- struct{}{}:
		return true
	default:
		return false
	}
}

// Drain consumes all pending wake-ups without blocking and reports
// whether there was at least one.
func (s *Signal) Drain() bool {
	drained := false
	for {
		select {
		case <-s.ch:
			drained = true
		default:
			return drained
		}
	}
}
