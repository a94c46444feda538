// Package broadcast implements the progress fan-out core: a coalescing
// dirty signal per class, a single-subscriber slot with safe replacement,
// and a background pump that republishes registry snapshots.
package broadcast

import (
	"log/slog"
	"sync"
	"time"
)

// Class names one broadcast channel. Each class carries its own signal,
// slot and pump.
type Class string

const (
	ClassMobile    Class = "mobile"
	ClassDesktop   Class = "desktop"
	ClassPackaging Class = "packaging"
	ClassPresence  Class = "presence"
)

// SnapshotFunc builds the payload pushed to the subscriber when the class
// is dirty. It must be safe to call from the pump goroutine.
type SnapshotFunc func() string

// Options tune the pump cadence. The intervals are a throttle, not a
// correctness requirement.
type Options struct {
	DirtyInterval time.Duration
	IdleInterval  time.Duration
}

// DefaultOptions returns the reference pump cadence.
func DefaultOptions() Options {
	return Options{
		DirtyInterval: 100 * time.Millisecond,
		IdleInterval:  150 * time.Millisecond,
	}
}

// Broadcaster owns one class's fan-out state. It is idle until the first
// subscription, which spawns exactly one pump goroutine; replacement
// subscriptions reuse the running pump.
type Broadcaster struct {
	class    Class
	signal   *Signal
	slot     *Slot
	snapshot SnapshotFunc
	opts     Options
	logger   *slog.Logger

	startPump sync.Once
	stopPump  sync.Once
	done      chan struct{}
}

// New creates an idle broadcaster for class.
func New(class Class, snapshot SnapshotFunc, opts Options, logger *slog.Logger) *Broadcaster {
	if opts.DirtyInterval <= 0 {
		opts.DirtyInterval = DefaultOptions().DirtyInterval
	}
	if opts.IdleInterval <= 0 {
		opts.IdleInterval = DefaultOptions().IdleInterval
	}
	return &Broadcaster{
		class:    class,
		signal:   NewSignal(),
		slot:     &Slot{},
		snapshot: snapshot,
		opts:     opts,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Class returns the broadcast class this broadcaster serves.
func (b *Broadcaster) Class() Class {
	return b.class
}

// Snapshot builds the current payload without waiting for a dirty tick.
// Used to prime a fresh subscriber.
func (b *Broadcaster) Snapshot() string {
	return b.snapshot()
}

// Subscribe installs a fresh outbound channel as the only live subscriber
// and returns it. The first subscription ever transitions the class from
// Idle to Active; later calls replace the subscriber without touching the
// pump.
func (b *Broadcaster) Subscribe() *Latest[string] {
	ch := NewLatest[string]()
	if b.slot.Subscribe(ch) {
		b.startPump.Do(func() { go b.pump() })
	}
	return ch
}

// Ping marks the class dirty. Safe to call from any goroutine; a full
// signal buffer drops the ping, which is intentional coalescing.
func (b *Broadcaster) Ping() {
	b.signal.TrySend()
}

// Close stops the pump goroutine. Only used on shutdown and in tests.
func (b *Broadcaster) Close() {
	b.stopPump.Do(func() { close(b.done) })
}

// pump polls the dirty signal, snapshots on change and republishes
// through the slot. The push goes through Slot.Push so it holds the slot
// lock; a replacement subscriber picks up the very next payload and a
// displaced one keeps its sentinel.
func (b *Broadcaster) pump() {
	for {
		wait := b.opts.IdleInterval
		if b.signal.Drain() {
			payload := b.snapshot()
			if !b.slot.Push(payload) {
				b.logger.Debug("no live subscriber for snapshot", "class", b.class)
			}
			wait = b.opts.DirtyInterval
		}
		select {
		case <-b.done:
			return
		case <-time.After(wait):
		}
	}
}
