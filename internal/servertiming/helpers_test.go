package servertiming

import (
	"io"
	"log/slog"
	"sync"
	"time"
)

type fakeClock struct {
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type recordingRecorder struct {
	mu      sync.Mutex
	metrics []string
	modes   []string
	reasons []string
}

func (r *recordingRecorder) RecordMetric(name string, durMs float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metrics = append(r.metrics, name)
}

func (r *recordingRecorder) RecordEmission(mode string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.modes = append(r.modes, mode)
}

func (r *recordingRecorder) RecordUsageError(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reasons = append(r.reasons, reason)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestTiming builds a Timing driven by clock.
func newTestTiming(cfg Config, clock *fakeClock) *Timing {
	cfg = cfg.withDefaults()
	t := newTiming(cfg)
	t.timer.now = clock.Now
	t.startedAt = clock.Now()
	return t
}
