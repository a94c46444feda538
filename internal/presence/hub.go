// Package presence tracks the devices currently connected to the
// presence endpoint and feeds the presence broadcast class.
package presence

import (
	"sort"
	"sync"
	"time"

	"github.com/beamdrop/beamdrop/pkg/protocol"
)

// Device is one live connection on the presence endpoint.
type Device struct {
	ConnID      string
	Name        string
	Class       protocol.DeviceClass
	Addr        string
	ConnectedAt time.Time
}

// Hub manages connected devices in a thread-safe manner. Duplicate device
// names use last-write-wins: the most recent connection replaces any
// previous one under the same name.
type Hub struct {
	mu      sync.RWMutex
	devices map[string]Device // connID -> device
	byName  map[string]string // name -> connID
	notify  func()
}

// NewHub creates a hub. notify is called after every membership change;
// wire it to the presence broadcaster's Ping.
func NewHub(notify func()) *Hub {
	if notify == nil {
		notify = func() {}
	}
	return &Hub{
		devices: make(map[string]Device),
		byName:  make(map[string]string),
		notify:  notify,
	}
}

// Add registers a device and returns a remove function. Adding a device
// whose name is already connected displaces the old connection's entry.
func (h *Hub) Add(d Device) (remove func()) {
	h.mu.Lock()
	if oldConnID, exists := h.byName[d.Name]; exists && oldConnID != d.ConnID {
		delete(h.devices, oldConnID)
	}
	h.devices[d.ConnID] = d
	h.byName[d.Name] = d.ConnID
	h.mu.Unlock()
	h.notify()

	return func() {
		h.mu.Lock()
		if _, exists := h.devices[d.ConnID]; !exists {
			h.mu.Unlock()
			return
		}
		delete(h.devices, d.ConnID)
		if h.byName[d.Name] == d.ConnID {
			delete(h.byName, d.Name)
		}
		h.mu.Unlock()
		h.notify()
	}
}

// List returns the connected devices sorted by connection time.
func (h *Hub) List() []Device {
	h.mu.RLock()
	out := make([]Device, 0, len(h.devices))
	for _, d := range h.devices {
		out = append(out, d)
	}
	h.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ConnectedAt.Before(out[j].ConnectedAt) })
	return out
}

// Snapshot returns the device list as broadcast payload entries.
func (h *Hub) Snapshot() []protocol.DeviceInfo {
	devices := h.List()
	out := make([]protocol.DeviceInfo, 0, len(devices))
	for _, d := range devices {
		out = append(out, protocol.DeviceInfo{
			Name:        d.Name,
			Class:       d.Class.String(),
			ConnectedAt: d.ConnectedAt,
		})
	}
	return out
}
