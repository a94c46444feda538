// Package registry tracks in-flight transfers and their byte progress.
// The map is lock-striped so unrelated transfers never contend on a
// single exclusive lock.
package registry

import (
	"errors"
	"hash/fnv"
	"sort"
	"sync"

	"github.com/beamdrop/beamdrop/internal/broadcast"
	"github.com/beamdrop/beamdrop/pkg/protocol"
)

const shardCount = 16

// ErrNotRegistered is returned by Update when no record exists for the
// key. A subscriber that never connected, or that disconnected, is a
// non-fatal condition for the ingest path.
var ErrNotRegistered = errors.New("transfer not registered")

type record struct {
	size     int64
	progress int
	class    protocol.DeviceClass
	notifier *broadcast.Latest[int]
}

type shard struct {
	mu        sync.RWMutex
	transfers map[string]*record
}

// Registry is a concurrent map from transfer key to progress state.
type Registry struct {
	shards [shardCount]shard
}

// New returns an empty registry.
func New() *Registry {
	r := &Registry{}
	for i := range r.shards {
		r.shards[i].transfers = make(map[string]*record)
	}
	return r
}

func (r *Registry) shardFor(key string) *shard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return &r.shards[h.Sum32()%shardCount]
}

// Register inserts a fresh record at progress 0 and returns its notifier,
// a latest-value channel carrying percent updates. Registering an
// existing key replaces the record, which is what a reconnecting
// subscriber wants.
func (r *Registry) Register(key string, class protocol.DeviceClass) *broadcast.Latest[int] {
	notifier := broadcast.NewLatest[int]()
	s := r.shardFor(key)
	s.mu.Lock()
	s.transfers[key] = &record{class: class, notifier: notifier}
	s.mu.Unlock()
	return notifier
}

// Update recomputes progress from bytes written against the declared
// total, stores it and pushes the value into the record's notifier. The
// pushed value is snapped down to the 5% grid so a per-transfer
// subscriber only ever observes multiples of five.
func (r *Registry) Update(key string, written, total int64) (int, error) {
	progress := Percent(written, total)
	s := r.shardFor(key)
	s.mu.Lock()
	rec, ok := s.transfers[key]
	if !ok {
		s.mu.Unlock()
		return 0, ErrNotRegistered
	}
	rec.size = total
	rec.progress = progress
	notifier := rec.notifier
	s.mu.Unlock()

	notifier.Send(progress - progress%5)
	return progress, nil
}

// Lookup returns the tracked state for key, if present.
func (r *Registry) Lookup(key string) (protocol.TrackFile, bool) {
	s := r.shardFor(key)
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.transfers[key]
	if !ok {
		return protocol.TrackFile{}, false
	}
	return protocol.TrackFile{Name: key, Size: rec.size, Progress: rec.progress}, true
}

// Snapshot returns the transfers originated by the given device class,
// sorted by name. Each snapshot reflects registry state at call time and
// is not transactionally tied to any individual update.
func (r *Registry) Snapshot(class protocol.DeviceClass) []protocol.TrackFile {
	out := make([]protocol.TrackFile, 0)
	for i := range r.shards {
		s := &r.shards[i]
		s.mu.RLock()
		for key, rec := range s.transfers {
			if rec.class != class {
				continue
			}
			out = append(out, protocol.TrackFile{
				Name:     protocol.DisplayName(key),
				Size:     rec.size,
				Progress: rec.progress,
			})
		}
		s.mu.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Evict removes the record for key, if any. Whether completed transfers
// are evicted is a configuration decision made by the caller.
func (r *Registry) Evict(key string) {
	s := r.shardFor(key)
	s.mu.Lock()
	delete(s.transfers, key)
	s.mu.Unlock()
}

// Len returns the number of tracked transfers.
func (r *Registry) Len() int {
	n := 0
	for i := range r.shards {
		s := &r.shards[i]
		s.mu.RLock()
		n += len(s.transfers)
		s.mu.RUnlock()
	}
	return n
}

// Percent computes floor(written*100/total) capped at 100. A zero total
// counts as complete.
func Percent(written, total int64) int {
	if total <= 0 {
		return 100
	}
	p := written * 100 / total
	if p > 100 {
		p = 100
	}
	return int(p)
}
