package servertiming

import (
	"log/slog"
)

// Config controls one Middleware. It is copied on construction and never
// mutated afterwards, so each Middleware carries its own independent settings.
type Config struct {
	// Total appends a `total` metric with the time elapsed since the request
	// entered the middleware.
	Total bool
	// Enabled attaches the serialized value to the response. When false all
	// bookkeeping still runs but nothing reaches the client.
	Enabled bool
	// Trailers sends the value as an HTTP trailer when the protocol allows it.
	Trailers bool
	// CompleteTimingsOnEnd closes timings that are still open at finalization
	// instead of dropping them.
	CompleteTimingsOnEnd bool

	Logger   *slog.Logger
	Recorder Recorder
}

// DefaultConfig returns the defaults: total, enabled and complete-on-end on,
// trailers off.
func DefaultConfig() Config {
	return Config{
		Total:                true,
		Enabled:              true,
		Trailers:             false,
		CompleteTimingsOnEnd: true,
	}
}

func (c Config) withDefaults() Config {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Recorder == nil {
		c.Recorder = NoopRecorder{}
	}
	return c
}
