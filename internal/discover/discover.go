// Package discover finds the LAN-facing address of this host and renders
// it as a scannable QR code.
package discover

import (
	"fmt"
	"net"

	qrcode "github.com/skip2/go-qrcode"
)

// LocalIP returns the IP of the default outbound interface. The dial
// never sends a packet; it only asks the kernel which source address a
// route to a public host would use.
func LocalIP() (net.IP, error) {
	conn, err := net.Dial("udp", "1.1.1.1:80")
	if err != nil {
		return nil, fmt.Errorf("probe default route: %w", err)
	}
	defer conn.Close()
	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return nil, fmt.Errorf("unexpected local address type %T", conn.LocalAddr())
	}
	return addr.IP, nil
}

// ServeURL builds the URL phones should open, from the discovered IP and
// the configured listen address.
func ServeURL(ip net.IP, listenAddr string) (string, error) {
	_, port, err := net.SplitHostPort(listenAddr)
	if err != nil {
		return "", fmt.Errorf("parse listen address %q: %w", listenAddr, err)
	}
	return fmt.Sprintf("http://%s", net.JoinHostPort(ip.String(), port)), nil
}

// QRPNG encodes url as a PNG-rendered QR code.
func QRPNG(url string) ([]byte, error) {
	png, err := qrcode.Encode(url, qrcode.Low, 512)
	if err != nil {
		return nil, fmt.Errorf("encode QR code: %w", err)
	}
	return png, nil
}
