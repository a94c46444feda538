package packaging

import (
	"io"

	"github.com/beamdrop/beamdrop/internal/registry"
)

// Tracker recomputes percent-written on every write and reports each
// 5%-bucket crossing exactly once.
type Tracker struct {
	total      int64
	written    int64
	lastBucket int
	report     func(percent int)
}

// NewTracker returns a tracker over total bytes. report is invoked from
// the writing goroutine on each bucket crossing.
func NewTracker(total int64, report func(percent int)) *Tracker {
	return &Tracker{total: total, report: report}
}

// Add records n more written bytes.
func (t *Tracker) Add(n int) {
	if n <= 0 {
		return
	}
	t.written += int64(n)
	p := t.Progress()
	if bucket := p / 5; bucket != t.lastBucket {
		t.lastBucket = bucket
		t.report(p)
	}
}

// Progress returns the current percentage, 0..100.
func (t *Tracker) Progress() int {
	return registry.Percent(t.written, t.total)
}

// Finish forces a terminal 100 report if the byte count fell short of it,
// e.g. when every staged file was empty.
func (t *Tracker) Finish() {
	if t.lastBucket != 100/5 {
		t.lastBucket = 100 / 5
		t.written = t.total
		t.report(100)
	}
}

// Wrap returns a writer that forwards to w and feeds the tracker.
func (t *Tracker) Wrap(w io.Writer) io.Writer {
	return trackedWriter{w: w, t: t}
}

type trackedWriter struct {
	w io.Writer
	t *Tracker
}

func (tw trackedWriter) Write(p []byte) (int, error) {
	n, err := tw.w.Write(p)
	tw.t.Add(n)
	return n, err
}
