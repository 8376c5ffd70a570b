package telemetry

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var background = context.Background()

func addCounter(counter metric.Int64Counter, value int64, attrs ...attribute.KeyValue) {
	if counter == nil || value == 0 {
		return
	}
	counter.Add(background, value, metric.WithAttributes(attrs...))
}

func recordHistogram(hist metric.Float64Histogram, value float64, attrs ...attribute.KeyValue) {
	if hist == nil {
		return
	}
	hist.Record(background, value, metric.WithAttributes(attrs...))
}

func normalizeMode(mode string) string {
	switch strings.ToLower(mode) {
	case "header", "trailer", "fallback", "disabled":
		return strings.ToLower(mode)
	default:
		return "unknown"
	}
}

func normalizeLower(value, fallback string) string {
	trimmed := strings.TrimSpace(strings.ToLower(value))
	if trimmed == "" {
		return fallback
	}
	return trimmed
}

// RecordMetric records one serialized Server-Timing metric given in
// milliseconds.
func RecordMetric(name string, durMs float64) {
	addCounter(inst.metricsRecorded, 1, attrMetric.String(metricLabel(name)))
	if durMs < 0 {
		return
	}
	seconds := durMs * float64(time.Millisecond) / float64(time.Second)
	recordHistogram(inst.metricDuration, seconds, attrMetric.String(metricLabel(name)))
}

func RecordEmission(mode string) {
	addCounter(inst.emissions, 1, attrMode.String(normalizeMode(mode)))
}

func RecordUsageError(reason string) {
	addCounter(inst.usageErrors, 1, attrReason.String(normalizeLower(reason, "unknown")))
}

// Recorder forwards Server-Timing middleware events to the package
// instruments. The zero value is ready to use.
type Recorder struct{}

// RecordMetric implements servertiming.Recorder.
func (Recorder) RecordMetric(name string, durMs float64) { RecordMetric(name, durMs) }

// RecordEmission implements servertiming.Recorder.
func (Recorder) RecordEmission(mode string) { RecordEmission(mode) }

// RecordUsageError implements servertiming.Recorder.
func (Recorder) RecordUsageError(reason string) { RecordUsageError(reason) }
