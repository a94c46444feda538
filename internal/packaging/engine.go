// Package packaging streams staged files into a zip archive, reporting
// its own progress through the packaging broadcast class.
package packaging

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/flate"

	"github.com/beamdrop/beamdrop/internal/broadcast"
	"github.com/beamdrop/beamdrop/internal/staging"
)

const (
	compressionLevel = 8

	// Format thresholds past which entries are written with 64-bit
	// size records.
	zip64SizeThreshold  = 4 << 30
	zip64EntryThreshold = 65536

	// Staged bytes are fed through the tracker in chunks so progress
	// moves within a single large file, not just between files.
	writeChunkSize = 64 * 1024
)

// Engine packages the staging store on demand.
type Engine struct {
	store    *staging.Store
	notify   *broadcast.Broadcaster
	progress atomic.Int64
	logger   *slog.Logger
}

// NewEngine returns an engine publishing progress through notify, which
// must be the packaging-class broadcaster.
func NewEngine(store *staging.Store, notify *broadcast.Broadcaster, logger *slog.Logger) *Engine {
	return &Engine{store: store, notify: notify, logger: logger}
}

// Progress returns the percent written by the most recent packaging run.
func (e *Engine) Progress() int {
	return int(e.progress.Load())
}

// ProgressJSON renders the current progress as a broadcast payload.
func (e *Engine) ProgressJSON() string {
	return fmt.Sprintf(`{ "progress": %d }`, e.Progress())
}

// Build packages the current staging snapshot into memory and returns the
// archive bytes. Callers run it off the request-handling goroutine.
func (e *Engine) Build() ([]byte, error) {
	_, total := e.store.Snapshot()
	buf := bytes.NewBuffer(make([]byte, 0, bufferHint(total)))
	if err := e.WriteArchive(buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteArchive streams a zip of the current staging snapshot to w. The
// store lock is held only for the snapshot, never for the compression.
func (e *Engine) WriteArchive(w io.Writer) error {
	files, total := e.store.Snapshot()

	large := needsZip64(total, len(files))
	if large {
		e.logger.Info("using zip64 records", "total_bytes", total, "entries", len(files))
	}

	zw := zip.NewWriter(w)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, compressionLevel)
	})

	tracker := NewTracker(total, func(percent int) {
		e.progress.Store(int64(percent))
		e.notify.Ping()
	})

	now := time.Now()
	for _, f := range files {
		hdr := &zip.FileHeader{
			Name:     f.Name,
			Method:   zip.Deflate,
			Modified: now,
		}
		hdr.SetMode(0o644)
		if large {
			hdr.UncompressedSize64 = uint64(f.Size)
		}
		entry, err := zw.CreateHeader(hdr)
		if err != nil {
			zw.Close()
			return fmt.Errorf("create archive entry %q: %w", f.Name, err)
		}
		if err := writeChunked(tracker.Wrap(entry), f.Bytes); err != nil {
			zw.Close()
			return fmt.Errorf("write archive entry %q: %w", f.Name, err)
		}
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("finish archive: %w", err)
	}
	tracker.Finish()
	return nil
}

func writeChunked(w io.Writer, b []byte) error {
	for len(b) > 0 {
		n := len(b)
		if n > writeChunkSize {
			n = writeChunkSize
		}
		if _, err := w.Write(b[:n]); err != nil {
			return err
		}
		b = b[n:]
	}
	return nil
}

func needsZip64(totalBytes int64, entries int) bool {
	return totalBytes > zip64SizeThreshold || entries > zip64EntryThreshold
}

func bufferHint(total int64) int {
	const maxHint = 256 << 20
	if total > maxHint {
		return maxHint
	}
	if total < 0 {
		return 0
	}
	return int(total)
}
