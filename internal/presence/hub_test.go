package presence

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/beamdrop/beamdrop/pkg/protocol"
)

func device(connID, name string, class protocol.DeviceClass, at time.Time) Device {
	return Device{ConnID: connID, Name: name, Class: class, ConnectedAt: at}
}

func TestAddAndRemove(t *testing.T) {
	var notifies atomic.Int64
	h := NewHub(func() { notifies.Add(1) })

	now := time.Now()
	remove := h.Add(device("c1", "laptop", protocol.Desktop, now))
	if got := len(h.List()); got != 1 {
		t.Fatalf("got %d devices, want 1", got)
	}
	if notifies.Load() != 1 {
		t.Fatalf("got %d notifications, want 1", notifies.Load())
	}

	remove()
	if got := len(h.List()); got != 0 {
		t.Fatalf("got %d devices after remove, want 0", got)
	}
	if notifies.Load() != 2 {
		t.Fatalf("got %d notifications, want 2", notifies.Load())
	}

	// A second remove is a no-op and must not notify again.
	remove()
	if notifies.Load() != 2 {
		t.Fatalf("stale remove notified, count %d", notifies.Load())
	}
}

func TestListSortedByConnectionTime(t *testing.T) {
	h := NewHub(nil)
	base := time.Now()
	h.Add(device("c2", "phone", protocol.Mobile, base.Add(time.Second)))
	h.Add(device("c1", "laptop", protocol.Desktop, base))

	list := h.List()
	if len(list) != 2 {
		t.Fatalf("got %d devices, want 2", len(list))
	}
	if list[0].Name != "laptop" || list[1].Name != "phone" {
		t.Fatalf("list not sorted by connection time: %+v", list)
	}
}

func TestLastWriteWinsByName(t *testing.T) {
	h := NewHub(nil)
	base := time.Now()
	removeOld := h.Add(device("c1", "phone", protocol.Mobile, base))
	h.Add(device("c2", "phone", protocol.Mobile, base.Add(time.Second)))

	list := h.List()
	if len(list) != 1 {
		t.Fatalf("got %d devices, want 1 after same-name reconnect", len(list))
	}
	if list[0].ConnID != "c2" {
		t.Fatalf("got conn %s, want the newer c2", list[0].ConnID)
	}

	// The displaced connection's deferred remove must not evict the
	// replacement.
	removeOld()
	if got := len(h.List()); got != 1 {
		t.Fatalf("stale remove evicted the replacement, %d devices left", got)
	}
}

func TestSnapshot(t *testing.T) {
	h := NewHub(nil)
	at := time.Now()
	h.Add(device("c1", "laptop", protocol.Desktop, at))

	snap := h.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("got %d entries, want 1", len(snap))
	}
	if snap[0].Name != "laptop" || snap[0].Class != protocol.Desktop.String() {
		t.Fatalf("got %+v", snap[0])
	}
	if !snap[0].ConnectedAt.Equal(at) {
		t.Fatalf("got ConnectedAt %v, want %v", snap[0].ConnectedAt, at)
	}
}
