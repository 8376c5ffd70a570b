package telemetry

import (
	"context"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/metric"
)

// ActiveRequestsProvider reports how many requests are in flight.
type ActiveRequestsProvider func(ctx context.Context) (int64, error)

// CacheStats describes the size of a named cache.
type CacheStats struct {
	Name  string
	Items int64
}

// CacheCollector reports cache sizes.
type CacheCollector func(ctx context.Context) ([]CacheStats, error)

var (
	activeRequestsProvider atomic.Value

	cacheMu         sync.RWMutex
	cacheCollectors []CacheCollector
)

// SetActiveRequestsProvider registers the in-flight request provider.
func SetActiveRequestsProvider(fn ActiveRequestsProvider) {
	activeRequestsProvider.Store(fn)
}

// RegisterCacheCollector registers a callback that reports cache sizes.
func RegisterCacheCollector(fn CacheCollector) {
	cacheMu.Lock()
	defer cacheMu.Unlock()
	cacheCollectors = append(cacheCollectors, fn)
}

func initCollectors(m metric.Meter) error {
	_, err := m.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
		observeActiveRequests(ctx, o)
		observeCaches(ctx, o)
		return nil
	}, inst.activeRequests, inst.cacheItems)
	return err
}

func observeActiveRequests(ctx context.Context, o metric.Observer) {
	val := activeRequestsProvider.Load()
	if val == nil {
		return
	}
	fn, ok := val.(ActiveRequestsProvider)
	if !ok || fn == nil {
		return
	}
	active, err := fn(ctx)
	if err != nil {
		return
	}
	o.ObserveInt64(inst.activeRequests, active)
}

func observeCaches(ctx context.Context, o metric.Observer) {
	cacheMu.RLock()
	collectors := append([]CacheCollector(nil), cacheCollectors...)
	cacheMu.RUnlock()
	for _, collector := range collectors {
		if collector == nil {
			continue
		}
		stats, err := collector(ctx)
		if err != nil {
			continue
		}
		for _, s := range stats {
			o.ObserveInt64(inst.cacheItems, s.Items, metric.WithAttributes(attrCache.String(s.Name)))
		}
	}
}
