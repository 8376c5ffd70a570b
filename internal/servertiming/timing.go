package servertiming

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"
)

type contextKey struct{}

// Timing is the per-request measurement state. Handler code obtains it with
// FromContext. All methods are safe to call on a nil *Timing, in which case
// they do nothing, so handlers work unchanged outside the middleware.
type Timing struct {
	mu sync.Mutex

	cfg       Config
	timer     *Timer
	tokens    []string
	measured  []Measurement
	startedAt time.Time
	finalized bool
}

func newTiming(cfg Config) *Timing {
	timer := NewTimer()
	return &Timing{
		cfg:       cfg,
		timer:     timer,
		startedAt: timer.now(),
	}
}

// FromContext returns the Timing installed by the middleware, or nil.
func FromContext(ctx context.Context) *Timing {
	t, _ := ctx.Value(contextKey{}).(*Timing)
	return t
}

// NewContext returns a copy of ctx carrying t.
func NewContext(ctx context.Context, t *Timing) context.Context {
	return context.WithValue(ctx, contextKey{}, t)
}

// SetMetric records a pre-computed duration in milliseconds.
//
// The name must be an HTTP token (RFC 7230): letters, digits and
// !#$%&'*+-.^_`|~ only, so "db.query" is accepted but "my metric" is not.
// A NaN or infinite value is rejected too. Rejected calls are logged at WARN
// and dropped from the header.
func (t *Timing) SetMetric(name string, value float64, description ...string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.appendLocked(Measurement{Name: name, Value: value, Description: first(description)}); err != nil {
		t.warn(name, err)
	}
}

// SetDuration records d under name.
func (t *Timing) SetDuration(name string, d time.Duration, description ...string) {
	t.SetMetric(name, milliseconds(d), description...)
}

// StartTime opens a timing called name. Starting a name twice restarts it.
func (t *Timing) StartTime(name string, description ...string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.finalized {
		t.warn(name, ErrFinalized)
		return
	}
	if err := t.timer.Time(name, first(description)); err != nil {
		t.warn(name, err)
	}
}

// EndTime closes the timing called name and records it. Ending a name that was
// never started does nothing.
func (t *Timing) EndTime(name string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if !validName(name) {
		t.warn(name, ErrInvalidName)
		return
	}
	m, ok := t.timer.TimeEnd(name)
	if !ok {
		return
	}
	if err := t.appendLocked(m); err != nil {
		t.warn(name, err)
	}
}

// Measure starts a timing and returns the function that ends it:
//
//	defer st.Measure("render")()
func (t *Timing) Measure(name string, description ...string) func() {
	t.StartTime(name, description...)
	return func() { t.EndTime(name) }
}

// Tokens returns a copy of the metrics formatted so far.
func (t *Timing) Tokens() []string {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.tokens)
}

func (t *Timing) appendLocked(m Measurement) error {
	if t.finalized {
		return ErrFinalized
	}
	token, err := FormatMetric(m.Name, m.Value, m.Description)
	if err != nil {
		return err
	}
	t.tokens = append(t.tokens, token)
	t.measured = append(t.measured, m)
	return nil
}

// finalize closes stragglers, appends the total and hands back the tokens. It
// returns false if the Timing was already finalized.
func (t *Timing) finalize(mode string) ([]string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.finalized {
		return nil, false
	}

	if t.cfg.CompleteTimingsOnEnd {
		// Map order is random; sort so the header is stable across runs.
		keys := t.timer.Keys()
		slices.Sort(keys)
		for _, name := range keys {
			if m, ok := t.timer.TimeEnd(name); ok {
				if err := t.appendLocked(m); err != nil {
					t.warn(name, err)
				}
			}
		}
	}
	if t.cfg.Total {
		total := Measurement{
			Name:        totalName,
			Value:       milliseconds(t.timer.now().Sub(t.startedAt)),
			Description: totalDescription,
		}
		if err := t.appendLocked(total); err != nil {
			t.warn(totalName, err)
		}
	}
	t.timer.Clear()
	t.finalized = true

	if !t.cfg.Enabled {
		mode = ModeDisabled
	}
	for _, m := range t.measured {
		t.cfg.Recorder.RecordMetric(m.Name, m.Value)
	}
	t.cfg.Recorder.RecordEmission(mode)

	tokens := t.tokens
	t.tokens = nil
	t.measured = nil
	return tokens, true
}

func (t *Timing) warn(name string, err error) {
	reason := usageReason(err)
	t.cfg.Logger.Warn("servertiming: ignoring metric",
		slog.String("metric", name),
		slog.String("reason", reason))
	t.cfg.Recorder.RecordUsageError(reason)
}

func first(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}
