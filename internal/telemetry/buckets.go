package telemetry

// DurationBucketsSeconds defines histogram buckets for Server-Timing durations.
// The low end is finer than typical request latency buckets because most
// per-step measurements are sub-millisecond.
var DurationBucketsSeconds = []float64{0.0001, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
