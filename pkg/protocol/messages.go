package protocol

import (
	"time"
	"unicode/utf8"
)

// maxDisplayName bounds file names in aggregate snapshots. The archive
// keeps the original name; only the broadcast payload is truncated.
const maxDisplayName = 48

// TrackFile is one entry in an aggregate progress snapshot.
type TrackFile struct {
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	Progress int    `json:"progress"`
}

// DeviceInfo describes a device connected to the presence endpoint.
type DeviceInfo struct {
	Name        string    `json:"name"`
	Class       string    `json:"class"`
	ConnectedAt time.Time `json:"connected_at"`
}

// DisplayName shortens overlong file names for broadcast payloads. The
// cut lands on a rune boundary so multi-byte names stay valid UTF-8.
func DisplayName(name string) string {
	if len(name) <= maxDisplayName {
		return name
	}
	cut := maxDisplayName - 3
	for cut > 0 && !utf8.RuneStart(name[cut]) {
		cut--
	}
	return name[:cut] + "..."
}
