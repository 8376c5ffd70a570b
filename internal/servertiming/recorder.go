package servertiming

// Emission modes reported to a Recorder.
const (
	ModeHeader   = "header"
	ModeTrailer  = "trailer"
	ModeFallback = "fallback" // trailer requested but the status forbids a body
	ModeDisabled = "disabled"
)

// Recorder receives what the middleware emits so it can be forwarded to a
// metrics backend. Implementations must be safe for concurrent use since one
// Recorder is shared by every request.
type Recorder interface {
	// RecordMetric reports one finalized measurement in milliseconds.
	RecordMetric(name string, durMs float64)

	// RecordEmission reports a finalization and how the value left the server.
	RecordEmission(mode string)

	// RecordUsageError reports a dropped API call.
	RecordUsageError(reason string)
}

// NoopRecorder implements Recorder but discards everything.
type NoopRecorder struct{}

// RecordMetric noops.
func (NoopRecorder) RecordMetric(name string, durMs float64) {}

// RecordEmission noops.
func (NoopRecorder) RecordEmission(mode string) {}

// RecordUsageError noops.
func (NoopRecorder) RecordUsageError(reason string) {}
