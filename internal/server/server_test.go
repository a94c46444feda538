package server

import (
	"archive/zip"
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/beamdrop/beamdrop/internal/config"
	"github.com/beamdrop/beamdrop/pkg/protocol"
)

const (
	desktopUA = "Mozilla/5.0 (X11; Linux x86_64) Gecko/20100101 Firefox/121.0"
	mobileUA  = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) Mobile/15E148"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, mutate func(*config.ServerConfig)) (*Server, *httptest.Server) {
	t.Helper()
	cfg := config.ServerConfig{
		Addr:          ":0",
		LogLevel:      "error",
		SizeLimit:     1 << 30,
		StorageDir:    t.TempDir(),
		Workers:       2,
		DirtyInterval: 2 * time.Millisecond,
		IdleInterval:  2 * time.Millisecond,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	srv := New(cfg, testLogger(), []byte("png-placeholder"))
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(func() {
		ts.Close()
		srv.Close()
	})
	return srv, ts
}

func uploadRequest(t *testing.T, url, path, ua, name string, content []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	sizeField, err := mw.CreateFormField("size")
	if err != nil {
		t.Fatal(err)
	}
	sizeField.Write([]byte(strconv.Itoa(len(content))))
	fileField, err := mw.CreateFormFile("file", name)
	if err != nil {
		t.Fatal(err)
	}
	fileField.Write(content)
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}

	req, err := http.NewRequest("POST", url+path, &buf)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("User-Agent", ua)
	return req
}

func openStream(t *testing.T, url, ua string) (*bufio.Scanner, func()) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		cancel()
		t.Fatal(err)
	}
	if ua != "" {
		req.Header.Set("User-Agent", ua)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		cancel()
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		t.Fatalf("stream returned status %d", resp.StatusCode)
	}
	sc := bufio.NewScanner(resp.Body)
	return sc, func() {
		resp.Body.Close()
		cancel()
	}
}

// nextEvent scans to the next SSE data line and returns its payload.
func nextEvent(sc *bufio.Scanner) (string, bool) {
	for sc.Scan() {
		if line := sc.Text(); strings.HasPrefix(line, "data: ") {
			return strings.TrimPrefix(line, "data: "), true
		}
	}
	return "", false
}

func TestHealth(t *testing.T) {
	_, ts := newTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("got status %d", resp.StatusCode)
	}
	var body map[string]bool
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if !body["ok"] {
		t.Fatalf("got %v", body)
	}
}

func TestIndexServesClassPage(t *testing.T) {
	_, ts := newTestServer(t, nil)

	cases := []struct {
		ua   string
		want string
	}{
		{desktopUA, "upload-desktop"},
		{mobileUA, "upload-mobile"},
	}
	for _, c := range cases {
		req, _ := http.NewRequest("GET", ts.URL+"/", nil)
		req.Header.Set("User-Agent", c.ua)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		page, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("ua %q: got status %d", c.ua, resp.StatusCode)
		}
		if !strings.Contains(string(page), c.want) {
			t.Errorf("ua %q: page does not target %s", c.ua, c.want)
		}
	}

	req, _ := http.NewRequest("GET", ts.URL+"/", nil)
	req.Header.Set("User-Agent", "")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing User-Agent: got status %d, want 400", resp.StatusCode)
	}
}

func TestUploadDesktopStagesFile(t *testing.T) {
	srv, ts := newTestServer(t, nil)

	resp, err := http.DefaultClient.Do(uploadRequest(t, ts.URL, "/upload-desktop", desktopUA, "a.txt", []byte("hello")))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("got status %d", resp.StatusCode)
	}

	files, total := srv.staging.Snapshot()
	if len(files) != 1 || files[0].Name != "a.txt" || total != 5 {
		t.Fatalf("staging holds %+v (total %d)", files, total)
	}
}

func TestUploadMobileWritesToStorage(t *testing.T) {
	srv, ts := newTestServer(t, nil)

	content := []byte("mobile payload")
	resp, err := http.DefaultClient.Do(uploadRequest(t, ts.URL, "/upload-mobile", mobileUA, "photo.jpg", content))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("got status %d", resp.StatusCode)
	}

	got, err := os.ReadFile(filepath.Join(srv.cfg.StorageDir, "photo.jpg"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, content) {
		t.Fatalf("stored bytes differ: %q", got)
	}
	// Mobile uploads go to storage, not the archive staging area.
	if srv.staging.Len() != 0 {
		t.Fatalf("mobile upload leaked into staging, %d files", srv.staging.Len())
	}
}

func TestUploadRejectsMalformedBodies(t *testing.T) {
	_, ts := newTestServer(t, func(cfg *config.ServerConfig) {
		cfg.SizeLimit = 10
	})

	// Not multipart at all.
	resp, err := http.Post(ts.URL+"/upload-desktop", "text/plain", strings.NewReader("hi"))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("plain body: got status %d, want 400", resp.StatusCode)
	}

	// File part before the size part.
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	f, _ := mw.CreateFormFile("file", "a.txt")
	f.Write([]byte("abc"))
	sf, _ := mw.CreateFormField("size")
	sf.Write([]byte("3"))
	mw.Close()
	req, _ := http.NewRequest("POST", ts.URL+"/upload-desktop", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("reversed fields: got status %d, want 400", resp.StatusCode)
	}

	// Declared size over the ceiling.
	resp, err = http.DefaultClient.Do(uploadRequest(t, ts.URL, "/upload-desktop", desktopUA, "big.bin", bytes.Repeat([]byte("x"), 100)))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("oversize: got status %d, want 400", resp.StatusCode)
	}
}

func TestDownloadArchive(t *testing.T) {
	srv, ts := newTestServer(t, func(cfg *config.ServerConfig) {
		cfg.PurgeAfterDownload = true
	})

	content := []byte("archive me")
	resp, err := http.DefaultClient.Do(uploadRequest(t, ts.URL, "/upload-desktop", desktopUA, "a.txt", content))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	resp, err = http.Get(ts.URL + "/download")
	if err != nil {
		t.Fatal(err)
	}
	archive, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("got status %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/zip" {
		t.Fatalf("got Content-Type %q", ct)
	}

	zr, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	if err != nil {
		t.Fatal(err)
	}
	if len(zr.File) != 1 || zr.File[0].Name != "a.txt" {
		t.Fatalf("archive entries: %v", zr.File)
	}
	rc, err := zr.File[0].Open()
	if err != nil {
		t.Fatal(err)
	}
	got, _ := io.ReadAll(rc)
	rc.Close()
	if !bytes.Equal(got, content) {
		t.Fatalf("archived bytes differ: %q", got)
	}

	if srv.staging.Len() != 0 {
		t.Fatalf("staging not purged after download, %d files", srv.staging.Len())
	}
}

func TestTransferProgressStream(t *testing.T) {
	_, ts := newTestServer(t, nil)

	sc, done := openStream(t, ts.URL+"/progress/report.pdf", mobileUA)
	defer done()

	// The subscription registers the transfer; the first event confirms
	// it before any bytes flow.
	first, ok := nextEvent(sc)
	if !ok {
		t.Fatal("stream closed before the initial event")
	}
	if got := parseProgress(t, first); got != 0 {
		t.Fatalf("initial event %q, want progress 0", first)
	}

	content := make([]byte, 1<<20)
	rand.New(rand.NewSource(7)).Read(content)
	resp, err := http.DefaultClient.Do(uploadRequest(t, ts.URL, "/upload-mobile", mobileUA, "report.pdf", content))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("upload got status %d", resp.StatusCode)
	}

	prev := 0
	for {
		payload, ok := nextEvent(sc)
		if !ok {
			t.Fatalf("stream ended at progress %d, want 100", prev)
		}
		p := parseProgress(t, payload)
		if p%5 != 0 {
			t.Fatalf("observed progress %d, want only multiples of five", p)
		}
		if p < prev {
			t.Fatalf("progress went backwards: %d after %d", p, prev)
		}
		prev = p
		if p == 100 {
			break
		}
	}

	// The server ends the stream after the terminal event.
	if payload, ok := nextEvent(sc); ok {
		t.Fatalf("event after terminal 100: %q", payload)
	}
}

func TestAggregateStreamReplacement(t *testing.T) {
	_, ts := newTestServer(t, nil)

	first, doneFirst := openStream(t, ts.URL+"/download-progress-mobile", mobileUA)
	defer doneFirst()
	if payload, ok := nextEvent(first); !ok || payload != "[]" {
		t.Fatalf("first subscriber's initial snapshot: %q (ok=%v)", payload, ok)
	}

	second, doneSecond := openStream(t, ts.URL+"/download-progress-mobile", mobileUA)
	defer doneSecond()

	// The displaced subscriber receives the sentinel as its final event.
	payload, ok := nextEvent(first)
	if !ok {
		t.Fatal("displaced subscriber's stream ended without the sentinel")
	}
	if payload != protocol.ConnectionReplaced {
		t.Fatalf("displaced subscriber got %q, want sentinel", payload)
	}
	if payload, ok := nextEvent(first); ok {
		t.Fatalf("event after the sentinel: %q", payload)
	}

	if payload, ok := nextEvent(second); !ok || payload != "[]" {
		t.Fatalf("replacement subscriber's initial snapshot: %q (ok=%v)", payload, ok)
	}
}

func TestAggregateSnapshotShowsComplementTransfers(t *testing.T) {
	srv, ts := newTestServer(t, nil)

	// A mobile-originated transfer shows up on the desktop screen's
	// stream, not the mobile one.
	srv.registry.Register("phone-pic.jpg", protocol.Mobile)
	srv.registry.Update("phone-pic.jpg", 50, 100)

	sc, done := openStream(t, ts.URL+"/download-progress-desktop", desktopUA)
	defer done()
	payload, ok := nextEvent(sc)
	if !ok {
		t.Fatal("no initial snapshot")
	}
	var files []protocol.TrackFile
	if err := json.Unmarshal([]byte(payload), &files); err != nil {
		t.Fatalf("snapshot %q: %v", payload, err)
	}
	if len(files) != 1 || files[0].Name != "phone-pic.jpg" || files[0].Progress != 50 {
		t.Fatalf("got snapshot %+v", files)
	}

	mob, doneMob := openStream(t, ts.URL+"/download-progress-mobile", mobileUA)
	defer doneMob()
	if payload, ok := nextEvent(mob); !ok || payload != "[]" {
		t.Fatalf("mobile snapshot %q, want empty", payload)
	}
}

func TestConcurrentUploadsOnAggregateStream(t *testing.T) {
	srv, ts := newTestServer(t, nil)

	names := []string{"alpha.bin", "bravo.bin", "charlie.bin", "delta.bin"}
	known := make(map[string]bool, len(names))
	for _, n := range names {
		srv.registry.Register(n, protocol.Desktop)
		known[n] = true
	}

	// Subscribe before any bytes flow; desktop-originated transfers show
	// up on the mobile screen's stream.
	sc, done := openStream(t, ts.URL+"/download-progress-mobile", mobileUA)
	defer done()
	if _, ok := nextEvent(sc); !ok {
		t.Fatal("no initial snapshot")
	}

	content := make([]byte, 256<<10)
	rand.New(rand.NewSource(3)).Read(content)
	requests := make([]*http.Request, len(names))
	for i, n := range names {
		requests[i] = uploadRequest(t, ts.URL, "/upload-desktop", desktopUA, n, content)
	}

	var wg sync.WaitGroup
	errs := make(chan error, len(names))
	for _, req := range requests {
		wg.Add(1)
		go func(req *http.Request) {
			defer wg.Done()
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				errs <- err
				return
			}
			resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				errs <- fmt.Errorf("upload returned status %d", resp.StatusCode)
			}
		}(req)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}

	// Every upload's last registry update precedes its own ping, so the
	// final coalesced snapshot shows all transfers complete.
	prev := make(map[string]int, len(names))
	for {
		payload, ok := nextEvent(sc)
		if !ok {
			t.Fatalf("stream ended before all transfers finished: %v", prev)
		}
		var files []protocol.TrackFile
		if err := json.Unmarshal([]byte(payload), &files); err != nil {
			t.Fatalf("snapshot %q: %v", payload, err)
		}
		completed := 0
		for _, f := range files {
			if !known[f.Name] {
				t.Fatalf("unexpected transfer %q in snapshot %q", f.Name, payload)
			}
			if f.Progress < prev[f.Name] {
				t.Fatalf("progress for %q went backwards: %d after %d", f.Name, f.Progress, prev[f.Name])
			}
			prev[f.Name] = f.Progress
			if f.Progress == 100 {
				completed++
			}
		}
		if completed == len(names) {
			return
		}
	}
}

func TestEvictCompleted(t *testing.T) {
	srv, ts := newTestServer(t, func(cfg *config.ServerConfig) {
		cfg.EvictCompleted = true
	})

	srv.registry.Register("a.txt", protocol.Desktop)
	resp, err := http.DefaultClient.Do(uploadRequest(t, ts.URL, "/upload-desktop", desktopUA, "a.txt", []byte("hello")))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("got status %d", resp.StatusCode)
	}

	if _, ok := srv.registry.Lookup("a.txt"); ok {
		t.Fatal("completed transfer should have been evicted")
	}
}

func TestPackagingProgressStream(t *testing.T) {
	_, ts := newTestServer(t, nil)

	sc, done := openStream(t, ts.URL+"/packaging-progress", desktopUA)
	defer done()
	payload, ok := nextEvent(sc)
	if !ok {
		t.Fatal("no initial packaging snapshot")
	}
	if got := parseProgress(t, payload); got != 0 {
		t.Fatalf("initial packaging progress %d, want 0", got)
	}

	resp, err := http.DefaultClient.Do(uploadRequest(t, ts.URL, "/upload-desktop", desktopUA, "a.txt", []byte("zip me")))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	resp, err = http.Get(ts.URL + "/download")
	if err != nil {
		t.Fatal(err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	// Packaging fires the dirty signal; the pump delivers the terminal
	// snapshot to the live subscriber.
	for {
		payload, ok := nextEvent(sc)
		if !ok {
			t.Fatal("packaging stream ended before reaching 100")
		}
		if parseProgress(t, payload) == 100 {
			return
		}
	}
}

func parseProgress(t *testing.T, payload string) int {
	t.Helper()
	var msg struct {
		Progress int `json:"progress"`
	}
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		t.Fatalf("payload %q: %v", payload, err)
	}
	return msg.Progress
}
