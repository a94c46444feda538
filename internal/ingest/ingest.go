// Package ingest parses multipart upload bodies, drives per-transfer
// progress and hands completed files to staging or storage.
package ingest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"mime/multipart"
	"strconv"
	"strings"

	"github.com/beamdrop/beamdrop/internal/registry"
	"github.com/beamdrop/beamdrop/internal/staging"
	"github.com/beamdrop/beamdrop/pkg/protocol"
)

// Ingest failures surfaced to the client as 400s.
var (
	ErrInvalidSize = errors.New("invalid size field")
	ErrSizeLimit   = errors.New("file size exceeds limit")
	ErrAllocation  = errors.New("could not reserve memory for upload")
	ErrFieldOrder  = errors.New("size field must precede the file field")
	ErrIncomplete  = errors.New("multipart body missing size or file part")
)

const readChunkSize = 64 * 1024

// Pipeline consumes upload bodies. Progress updates flow into the
// registry record's notifier and, per 5%-boundary crossing, into the
// dirty signal of the class whose screen watches the transfer.
type Pipeline struct {
	registry *registry.Registry
	limit    int64
	strict   bool
	notify   func(viewer protocol.DeviceClass)
	logger   *slog.Logger
}

// New returns a pipeline. limit is the declared-size ceiling in bytes.
// strict aborts a transfer whose registry entry is missing; the lenient
// default logs and continues. notify marks the viewer class dirty.
func New(reg *registry.Registry, limit int64, strict bool, notify func(protocol.DeviceClass), logger *slog.Logger) *Pipeline {
	if notify == nil {
		notify = func(protocol.DeviceClass) {}
	}
	return &Pipeline{
		registry: reg,
		limit:    limit,
		strict:   strict,
		notify:   notify,
		logger:   logger,
	}
}

// Consume reads an upload body with exactly two logical parts, in order:
// a textual `size` field and a `file` field with filename. origin is the
// device class of the uploader. Oversize declarations are rejected before
// any byte of the file part is read.
func (p *Pipeline) Consume(mr *multipart.Reader, origin protocol.DeviceClass) (staging.File, error) {
	var (
		buf  bytes.Buffer
		size int64 = -1
		name string
	)

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return staging.File{}, fmt.Errorf("read multipart: %w", err)
		}

		switch part.FormName() {
		case "size":
			size, err = p.readSize(part, &buf)
		case "file":
			if size < 0 {
				err = ErrFieldOrder
				break
			}
			name = part.FileName()
			err = p.copyChunks(&buf, part, name, size, origin)
		default:
			_, err = io.Copy(io.Discard, part)
		}
		part.Close()
		if err != nil {
			return staging.File{}, err
		}
	}

	if size < 0 || name == "" {
		return staging.File{}, ErrIncomplete
	}
	return staging.File{Name: name, Size: size, Bytes: buf.Bytes()}, nil
}

// readSize parses the declared byte count, pre-reserves the accumulation
// buffer and enforces the ceiling.
func (p *Pipeline) readSize(part io.Reader, buf *bytes.Buffer) (int64, error) {
	raw, err := io.ReadAll(io.LimitReader(part, 64))
	if err != nil {
		return -1, fmt.Errorf("%w: %v", ErrInvalidSize, err)
	}
	parsed, err := strconv.ParseUint(strings.TrimSpace(string(raw)), 10, 63)
	if err != nil {
		return -1, fmt.Errorf("%w: %q", ErrInvalidSize, strings.TrimSpace(string(raw)))
	}
	size := int64(parsed)
	if size > p.limit {
		return -1, fmt.Errorf("%w: %d > %d", ErrSizeLimit, size, p.limit)
	}
	if err := reserve(buf, size); err != nil {
		return -1, err
	}
	p.logger.Info("parsed declared upload size", "bytes", size)
	return size, nil
}

// copyChunks accumulates the file part, recomputing progress after each
// chunk and reporting once per 5%-bucket transition.
func (p *Pipeline) copyChunks(buf *bytes.Buffer, r io.Reader, name string, size int64, origin protocol.DeviceClass) error {
	chunk := make([]byte, readChunkSize)
	lastBucket := 0
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
			percent := registry.Percent(int64(buf.Len()), size)
			if bucket := percent / 5; bucket != lastBucket {
				lastBucket = bucket
				if rerr := p.report(name, int64(buf.Len()), size, origin); rerr != nil {
					return rerr
				}
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("read file part: %w", err)
		}
	}

	// A zero-byte file never crosses a bucket; still deliver the
	// terminal 100.
	if lastBucket != 100/5 && registry.Percent(int64(buf.Len()), size) == 100 {
		return p.report(name, size, size, origin)
	}
	return nil
}

func (p *Pipeline) report(name string, written, size int64, origin protocol.DeviceClass) error {
	if _, err := p.registry.Update(name, written, size); err != nil {
		if p.strict {
			return fmt.Errorf("%w: %s", err, name)
		}
		p.logger.Warn("progress update for unknown transfer", "name", name, "error", err)
	}
	p.notify(origin.Complement())
	return nil
}

// reserve pre-grows buf to the declared capacity, converting the
// ErrTooLarge panic from bytes.Buffer into an error the handler can
// surface as a client failure instead of a crash.
func reserve(buf *bytes.Buffer, size int64) (err error) {
	defer func() {
		if recover() != nil {
			err = fmt.Errorf("%w: %d bytes", ErrAllocation, size)
		}
	}()
	if size >= math.MaxInt32 && strconv.IntSize == 32 {
		return fmt.Errorf("%w: %d bytes", ErrAllocation, size)
	}
	buf.Grow(int(size))
	return nil
}
