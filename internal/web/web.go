// Package web embeds the landing pages served to browsers.
package web

import (
	"embed"

	"github.com/beamdrop/beamdrop/pkg/protocol"
)

//go:embed static/desktop.html static/mobile.html
var pages embed.FS

// Landing returns the page matching the requesting device class.
func Landing(class protocol.DeviceClass) []byte {
	name := "static/desktop.html"
	if class == protocol.Mobile {
		name = "static/mobile.html"
	}
	page, err := pages.ReadFile(name)
	if err != nil {
		// Both files are compiled in; a miss is a build defect.
		panic(err)
	}
	return page
}
