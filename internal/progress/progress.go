// Package progress tracks per-device completion during long fan-out
// operations and renders a throttled one-line progress display.
package progress

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// Tracker counts completed and failed devices for one fan-out call.
type Tracker struct {
	total     int
	completed int
	failed    int
	startTime time.Time
	mu        sync.Mutex
	writer    io.Writer
	enabled   bool
	lastDraw  time.Time
}

// NewTracker creates a tracker for total devices. When enabled is false
// all methods are no-ops apart from counting.
func NewTracker(total int, writer io.Writer, enabled bool) *Tracker {
	return &Tracker{
		total:     total,
		startTime: time.Now(),
		writer:    writer,
		enabled:   enabled,
	}
}

// Update records one device completion.
func (t *Tracker) Update(success bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if success {
		t.completed++
	} else {
		t.failed++
	}
	if t.enabled {
		t.draw()
	}
}

// Message prints an out-of-band progress line without disturbing the
// counter display. Wired to the executor's OnProgress callback.
func (t *Tracker) Message(msg string) {
	if !t.enabled {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.writer, "\r\033[K%s\n", msg)
	t.lastDraw = time.Time{}
	t.draw()
}

// Finish clears the progress line and prints the final counts.
func (t *Tracker) Finish() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.enabled {
		return
	}
	elapsed := time.Since(t.startTime).Round(100 * time.Millisecond)
	fmt.Fprintf(t.writer, "\r\033[K%d/%d done (%d failed) in %v\n",
		t.completed+t.failed, t.total, t.failed, elapsed)
}

// draw renders the current counters, throttled to avoid flooding the
// terminal. Callers hold t.mu.
func (t *Tracker) draw() {
	now := time.Now()
	if now.Sub(t.lastDraw) < 100*time.Millisecond {
		return
	}
	t.lastDraw = now

	done := t.completed + t.failed
	if t.total == 0 {
		return
	}
	pct := float64(done) / float64(t.total) * 100
	fmt.Fprintf(t.writer, "\r\033[K[%d/%d] %.0f%%", done, t.total, pct)
}
