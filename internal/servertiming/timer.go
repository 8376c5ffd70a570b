package servertiming

import (
	"time"
)

// Measurement is a closed timing ready to be formatted.
type Measurement struct {
	Name        string
	Value       float64 // milliseconds
	Description string
}

type timerEntry struct {
	description string
	startedAt   time.Time
	open        bool
}

// Timer tracks named start/end intervals for a single request. It is not safe
// for concurrent use; Timing serializes access to it.
type Timer struct {
	entries map[string]*timerEntry
	now     func() time.Time
}

// NewTimer creates an empty Timer reading the monotonic clock via time.Now.
func NewTimer() *Timer {
	return &Timer{
		entries: make(map[string]*timerEntry),
		now:     time.Now,
	}
}

// Time opens the entry called name, replacing any previous entry of that name.
func (t *Timer) Time(name, description string) error {
	if !validName(name) {
		return ErrInvalidName
	}
	t.entries[name] = &timerEntry{
		description: description,
		startedAt:   t.now(),
		open:        true,
	}
	return nil
}

// TimeEnd closes the open entry called name and returns its measurement. The
// boolean is false when no such entry is open, which is not an error.
func (t *Timer) TimeEnd(name string) (Measurement, bool) {
	e, ok := t.entries[name]
	if !ok || !e.open {
		return Measurement{}, false
	}
	e.open = false
	return Measurement{
		Name:        name,
		Value:       milliseconds(t.now().Sub(e.startedAt)),
		Description: e.description,
	}, true
}

// Keys returns the names of all open entries in no particular order.
func (t *Timer) Keys() []string {
	keys := make([]string, 0, len(t.entries))
	for name, e := range t.entries {
		if e.open {
			keys = append(keys, name)
		}
	}
	return keys
}

// Clear drops every entry, open or closed.
func (t *Timer) Clear() {
	clear(t.entries)
}

func milliseconds(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
