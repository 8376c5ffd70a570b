package telemetry

import (
	"log"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "servertiming"

// maxMetricNameLen bounds the metric attribute; names come from handler code.
const maxMetricNameLen = 48

type instrumentation struct {
	activeRequests metric.Int64ObservableGauge
	cacheItems     metric.Int64ObservableGauge

	emissions       metric.Int64Counter
	usageErrors     metric.Int64Counter
	metricsRecorded metric.Int64Counter
	metricDuration  metric.Float64Histogram
}

var (
	providerMu    sync.Mutex
	meterProvider metric.MeterProvider = noop.NewMeterProvider()
	meter                              = meterProvider.Meter(meterName)
	inst          instrumentation
	attrMetric    = attribute.Key("metric")
	attrMode      = attribute.Key("mode")
	attrReason    = attribute.Key("reason")
	attrCache     = attribute.Key("cache")
)

func configureMeterProvider(mp metric.MeterProvider) error {
	providerMu.Lock()
	defer providerMu.Unlock()

	meterProvider = mp
	meter = mp.Meter(meterName)

	var err error
	inst, err = createInstruments(meter)
	if err != nil {
		return err
	}
	return initCollectors(meter)
}

func createInstruments(m metric.Meter) (instrumentation, error) {
	var err error
	i := instrumentation{}

	if i.activeRequests, err = m.Int64ObservableGauge("servertiming_requests_active", metric.WithDescription("Requests currently inside the Server-Timing middleware.")); err != nil {
		return i, err
	}
	if i.cacheItems, err = m.Int64ObservableGauge("servertiming_cache_items", metric.WithDescription("Items held by registered caches.")); err != nil {
		return i, err
	}

	if i.emissions, err = m.Int64Counter("servertiming_emissions_total", metric.WithDescription("Server-Timing finalizations by delivery mode.")); err != nil {
		return i, err
	}
	if i.usageErrors, err = m.Int64Counter("servertiming_usage_errors_total", metric.WithDescription("Dropped Server-Timing API calls.")); err != nil {
		return i, err
	}
	if i.metricsRecorded, err = m.Int64Counter("servertiming_metrics_total", metric.WithDescription("Server-Timing metrics serialized.")); err != nil {
		return i, err
	}
	if i.metricDuration, err = m.Float64Histogram("servertiming_metric_duration_seconds", metric.WithDescription("Durations reported through Server-Timing."), metric.WithUnit("s"), metric.WithExplicitBucketBoundaries(DurationBucketsSeconds...)); err != nil {
		return i, err
	}

	return i, nil
}

// metricLabel turns a handler supplied metric name into a bounded attribute
// value.
func metricLabel(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return "unknown"
	}
	if len(name) > maxMetricNameLen {
		name = name[:maxMetricNameLen]
	}
	return name
}

func init() {
	var err error
	inst, err = createInstruments(meter)
	if err != nil {
		log.Printf("telemetry: failed to create instruments: %v", err)
		return
	}
	if err := initCollectors(meter); err != nil {
		log.Printf("telemetry: failed to init collectors: %v", err)
	}
}
