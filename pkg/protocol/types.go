package protocol

import "strings"

// ConnectionReplaced is the terminal sentinel delivered to an aggregate
// subscriber that has been displaced by a newer connection on the same
// broadcast channel.
const ConnectionReplaced = "CONNECTION_REPLACED"

// DeviceClass partitions transfers by the kind of device that originated
// them. Each screen watches the other class's activity: the desktop page
// shows mobile-originated transfers and vice versa.
type DeviceClass int

const (
	Desktop DeviceClass = iota
	Mobile
)

// String returns the lowercase name of the class.
func (c DeviceClass) String() string {
	if c == Mobile {
		return "mobile"
	}
	return "desktop"
}

// Complement returns the opposite device class.
func (c DeviceClass) Complement() DeviceClass {
	if c == Mobile {
		return Desktop
	}
	return Mobile
}

// mobileKeywords are the User-Agent substrings that identify a mobile
// device. Anything else is treated as a desktop.
var mobileKeywords = []string{
	"Mobile",
	"Android",
	"iPhone",
	"iPod",
	"BlackBerry",
	"Windows Phone",
	"Opera Mini",
	"IEMobile",
}

// ClassifyUserAgent maps a User-Agent header value to a device class.
func ClassifyUserAgent(ua string) DeviceClass {
	for _, kw := range mobileKeywords {
		if strings.Contains(ua, kw) {
			return Mobile
		}
	}
	return Desktop
}
