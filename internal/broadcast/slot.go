package broadcast

import (
	"sync"

	"github.com/beamdrop/beamdrop/pkg/protocol"
)

// Slot holds at most one live outbound channel for a broadcast class.
// Replacing the subscriber is a single short critical section: the old
// channel is told it has been displaced, then the new one is installed.
type Slot struct {
	mu  sync.Mutex
	cur *Latest[string]
}

// Subscribe installs ch as the only live subscriber and reports whether
// the slot was previously empty. A displaced subscriber receives the
// ConnectionReplaced sentinel as its final value.
func (s *Slot) Subscribe(ch *Latest[string]) (first bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	first = s.cur == nil
	if s.cur != nil {
		s.cur.Send(protocol.ConnectionReplaced)
	}
	s.cur = ch
	return first
}

// Push delivers payload to the current subscriber, if any, and reports
// whether one was present. The send happens under the slot lock: a
// replacement cannot slip between resolving the sink and writing to it,
// so the sentinel a displaced channel just received is never overwritten
// by a snapshot. Latest.Send never blocks, keeping the critical section
// short.
func (s *Slot) Push(payload string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur == nil {
		return false
	}
	s.cur.Send(payload)
	return true
}

// Resolve returns the current subscriber channel, or nil if none.
func (s *Slot) Resolve() *Latest[string] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur
}
