package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
)

const (
	defaultServiceName  = "servertiming"
	defaultPromAddr     = ":9464"
	defaultPromPath     = "/metrics"
	defaultOTLPEndpoint = "localhost:4318"
	promShutdownTimeout = 5 * time.Second
)

// Config controls telemetry initialisation.
type Config struct {
	ServiceName    string
	ServiceVersion string
	// InstanceID becomes service.instance.id; servertimingd fills it with
	// the host name unless configured.
	InstanceID  string
	Environment string
	Exporter    string // "prom", "otlp" or "none"
	Prometheus  PromConfig
	OTLP        OTLPConfig
}

// PromConfig defines the Prometheus exporter options.
type PromConfig struct {
	Addr string
	Path string
}

// OTLPConfig defines the OTLP/HTTP exporter options. Endpoint is either
// host:port or a full URL.
type OTLPConfig struct {
	Endpoint string
	Insecure bool
	Headers  map[string]string
}

var (
	initOnce     sync.Once
	initErr      error
	shutdownFunc = noopShutdown
)

func noopShutdown(context.Context) error { return nil }

// Init configures the global MeterProvider and exporters. Only the first call
// has any effect; later calls return the original shutdown func and error.
func Init(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	initOnce.Do(func() {
		shutdownFunc, initErr = initProvider(ctx, cfg)
	})
	return shutdownFunc, initErr
}

// exporterKind maps the configured exporter name onto "prom", "otlp" or
// "none".
func exporterKind(name string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "prom", "prometheus":
		return "prom", nil
	case "otlp":
		return "otlp", nil
	case "none", "off":
		return "none", nil
	default:
		return "", fmt.Errorf("telemetry: unsupported exporter %q", strings.ToLower(strings.TrimSpace(name)))
	}
}

// pipeline is a metric reader plus whatever must be stopped alongside it.
type pipeline struct {
	reader  metric.Reader
	closers []func(context.Context) error
}

func (p *pipeline) close(ctx context.Context) error {
	var errs []error
	for _, c := range p.closers {
		if err := c(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func initProvider(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	kind, err := exporterKind(cfg.Exporter)
	if err != nil {
		return nil, err
	}
	if kind == "none" {
		return noopShutdown, nil
	}

	res, err := buildResource(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("telemetry: build resource: %w", err)
	}

	var p *pipeline
	if kind == "otlp" {
		p, err = otlpPipeline(ctx, cfg.OTLP)
	} else {
		p, err = promPipeline(cfg.Prometheus)
	}
	if err != nil {
		return nil, err
	}

	mp := metric.NewMeterProvider(metric.WithReader(p.reader), metric.WithResource(res))
	if err := configureMeterProvider(mp); err != nil {
		_ = mp.Shutdown(ctx)
		_ = p.close(ctx)
		return nil, fmt.Errorf("telemetry: configure meter: %w", err)
	}
	otel.SetMeterProvider(mp)

	return func(ctx context.Context) error {
		err := mp.Shutdown(ctx)
		return errors.Join(err, p.close(ctx))
	}, nil
}

func resourceAttributes(cfg Config) []attribute.KeyValue {
	name := cfg.ServiceName
	if name == "" {
		name = defaultServiceName
	}
	attrs := []attribute.KeyValue{semconv.ServiceNameKey.String(name)}
	for _, kv := range []struct {
		key   attribute.Key
		value string
	}{
		{semconv.ServiceVersionKey, cfg.ServiceVersion},
		{semconv.ServiceInstanceIDKey, cfg.InstanceID},
		{semconv.DeploymentEnvironmentKey, cfg.Environment},
	} {
		if kv.value != "" {
			attrs = append(attrs, kv.key.String(kv.value))
		}
	}
	return attrs
}

func buildResource(ctx context.Context, cfg Config) (*resource.Resource, error) {
	return resource.New(ctx,
		resource.WithOS(),
		resource.WithProcess(),
		resource.WithContainer(),
		resource.WithHost(),
		resource.WithFromEnv(),
		resource.WithTelemetrySDK(),
		resource.WithAttributes(resourceAttributes(cfg)...),
	)
}

// promPipeline serves the exporter's registry on its own listener.
func promPipeline(cfg PromConfig) (*pipeline, error) {
	registry := promclient.NewRegistry()
	exporter, err := prometheus.New(
		prometheus.WithoutTargetInfo(),
		prometheus.WithoutUnits(),
		prometheus.WithRegisterer(registry),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: create prometheus exporter: %w", err)
	}

	srv := &http.Server{
		Addr:              valueOr(cfg.Addr, defaultPromAddr),
		Handler:           promMux(registry, valueOr(cfg.Path, defaultPromPath)),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("telemetry: prometheus listener on %s failed: %v", srv.Addr, err)
		}
	}()

	stop := func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, promShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
	return &pipeline{reader: exporter, closers: []func(context.Context) error{stop}}, nil
}

func promMux(registry *promclient.Registry, path string) http.Handler {
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	return mux
}

func otlpOptions(cfg OTLPConfig) []otlpmetrichttp.Option {
	endpoint := valueOr(cfg.Endpoint, defaultOTLPEndpoint)

	var opts []otlpmetrichttp.Option
	if strings.Contains(endpoint, "://") {
		opts = append(opts, otlpmetrichttp.WithEndpointURL(endpoint))
	} else {
		opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
	}
	if cfg.Insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}
	if len(cfg.Headers) > 0 {
		opts = append(opts, otlpmetrichttp.WithHeaders(cfg.Headers))
	}
	return opts
}

// otlpPipeline pushes on the SDK's default periodic interval.
func otlpPipeline(ctx context.Context, cfg OTLPConfig) (*pipeline, error) {
	exporter, err := otlpmetrichttp.New(ctx, otlpOptions(cfg)...)
	if err != nil {
		return nil, fmt.Errorf("telemetry: create otlp exporter: %w", err)
	}
	// The periodic reader shuts the exporter down with the MeterProvider.
	return &pipeline{reader: metric.NewPeriodicReader(exporter)}, nil
}

func valueOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
