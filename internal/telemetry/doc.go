// Package telemetry exports what the Server-Timing middleware emits as
// OpenTelemetry metrics.
//
// Every finalized measurement is recorded into a latency histogram keyed by
// metric name, alongside counters for emission modes and dropped API calls.
// Callers interact with small domain specific functions only; the instruments
// and exporters stay behind this package.
package telemetry
