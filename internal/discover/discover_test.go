package discover

import (
	"bytes"
	"net"
	"testing"
)

func TestServeURL(t *testing.T) {
	ip := net.IPv4(192, 168, 1, 10)

	url, err := ServeURL(ip, ":6969")
	if err != nil {
		t.Fatal(err)
	}
	if url != "http://192.168.1.10:6969" {
		t.Fatalf("got %q", url)
	}

	url, err = ServeURL(ip, "0.0.0.0:8080")
	if err != nil {
		t.Fatal(err)
	}
	if url != "http://192.168.1.10:8080" {
		t.Fatalf("got %q", url)
	}

	if _, err := ServeURL(ip, "no-port"); err == nil {
		t.Fatal("expected an error for an address without a port")
	}
}

func TestQRPNG(t *testing.T) {
	png, err := QRPNG("http://192.168.1.10:6969")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(png, []byte("\x89PNG")) {
		t.Fatalf("output is not a PNG, starts with %q", png[:min(8, len(png))])
	}
}
