// Package config loads the servertimingd daemon configuration from an optional
// YAML file and SERVERTIMING_* environment variables.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/fosrl/servertiming/internal/servertiming"
	"github.com/fosrl/servertiming/internal/telemetry"
)

// EnvPrefix is prepended to every environment override, e.g.
// SERVERTIMING_SERVER_TIMING_TRAILERS=true.
const EnvPrefix = "SERVERTIMING"

// ServerTimingConfig mirrors servertiming.Config.
type ServerTimingConfig struct {
	Total                bool `mapstructure:"total"`
	Enabled              bool `mapstructure:"enabled"`
	Trailers             bool `mapstructure:"trailers"`
	CompleteTimingsOnEnd bool `mapstructure:"complete_timings_on_end"`
}

// PrometheusConfig is the Prometheus exporter listener.
type PrometheusConfig struct {
	Addr string `mapstructure:"addr"`
	Path string `mapstructure:"path"`
}

// OTLPConfig is the OTLP/HTTP exporter target.
type OTLPConfig struct {
	Endpoint string            `mapstructure:"endpoint"`
	Insecure bool              `mapstructure:"insecure"`
	Headers  map[string]string `mapstructure:"headers"`
}

// TelemetryConfig selects and configures the metrics exporter.
type TelemetryConfig struct {
	Exporter    string           `mapstructure:"exporter"`
	Environment string           `mapstructure:"environment"`
	InstanceID  string           `mapstructure:"instance_id"`
	Prometheus  PrometheusConfig `mapstructure:"prometheus"`
	OTLP        OTLPConfig       `mapstructure:"otlp"`
}

// CacheConfig tunes the demo item cache.
type CacheConfig struct {
	TTL             time.Duration `mapstructure:"ttl"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

// Config describes all daemon configuration options.
type Config struct {
	ListenAddr   string             `mapstructure:"listen_addr"`
	LogLevel     string             `mapstructure:"log_level"`
	LogFormat    string             `mapstructure:"log_format"`
	ServerTiming ServerTimingConfig `mapstructure:"server_timing"`
	Telemetry    TelemetryConfig    `mapstructure:"telemetry"`
	Cache        CacheConfig        `mapstructure:"cache"`
}

func setDefaults(v *viper.Viper) {
	d := servertiming.DefaultConfig()

	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")

	v.SetDefault("server_timing.total", d.Total)
	v.SetDefault("server_timing.enabled", d.Enabled)
	v.SetDefault("server_timing.trailers", d.Trailers)
	v.SetDefault("server_timing.complete_timings_on_end", d.CompleteTimingsOnEnd)

	v.SetDefault("telemetry.exporter", "prom")
	v.SetDefault("telemetry.environment", "")
	v.SetDefault("telemetry.instance_id", "")
	v.SetDefault("telemetry.prometheus.addr", ":9464")
	v.SetDefault("telemetry.prometheus.path", "/metrics")
	v.SetDefault("telemetry.otlp.endpoint", "")
	v.SetDefault("telemetry.otlp.insecure", false)

	v.SetDefault("cache.ttl", 30*time.Second)
	v.SetDefault("cache.cleanup_interval", time.Minute)
}

// Load reads configuration from path, if non-empty, layered over defaults and
// under environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: error reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: error parsing config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// validate the contents of the configuration.
func (c *Config) validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("config: missing listen address")
	}

	if _, ok := ParseLogLevel(c.LogLevel); !ok {
		return fmt.Errorf("config: unknown log level: level=%s", c.LogLevel)
	}

	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("config: unknown log format: format=%s", c.LogFormat)
	}

	switch strings.ToLower(c.Telemetry.Exporter) {
	case "prom", "prometheus":
		if c.Telemetry.Prometheus.Addr == "" {
			return fmt.Errorf("config: missing prometheus listen address")
		}
		if !strings.HasPrefix(c.Telemetry.Prometheus.Path, "/") {
			return fmt.Errorf("config: prometheus path must start with /: path=%s", c.Telemetry.Prometheus.Path)
		}
		if c.Telemetry.Prometheus.Addr == c.ListenAddr {
			return fmt.Errorf("config: prometheus and server listen on the same address: addr=%s", c.ListenAddr)
		}
	case "otlp", "none", "off":
	default:
		return fmt.Errorf("config: unknown telemetry exporter: exporter=%s", c.Telemetry.Exporter)
	}

	if c.Cache.TTL <= 0 {
		return fmt.Errorf("config: cache ttl must be positive: ttl=%s", c.Cache.TTL)
	}

	return nil
}

// ParseLogLevel looks up an slog level by its case-insensitive name.
func ParseLogLevel(level string) (slog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug, true
	case "info", "":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	default:
		return slog.LevelInfo, false
	}
}

// Middleware builds the servertiming configuration. Logger and recorder are
// supplied by the caller.
func (c *Config) Middleware(logger *slog.Logger, rec servertiming.Recorder) servertiming.Config {
	return servertiming.Config{
		Total:                c.ServerTiming.Total,
		Enabled:              c.ServerTiming.Enabled,
		Trailers:             c.ServerTiming.Trailers,
		CompleteTimingsOnEnd: c.ServerTiming.CompleteTimingsOnEnd,
		Logger:               logger,
		Recorder:             rec,
	}
}

// TelemetryInit builds the telemetry provider configuration. An unset
// instance id falls back to the host name.
func (c *Config) TelemetryInit(serviceVersion string) telemetry.Config {
	instanceID := c.Telemetry.InstanceID
	if instanceID == "" {
		instanceID, _ = os.Hostname()
	}
	return telemetry.Config{
		ServiceName:    "servertimingd",
		ServiceVersion: serviceVersion,
		InstanceID:     instanceID,
		Environment:    c.Telemetry.Environment,
		Exporter:       c.Telemetry.Exporter,
		Prometheus: telemetry.PromConfig{
			Addr: c.Telemetry.Prometheus.Addr,
			Path: c.Telemetry.Prometheus.Path,
		},
		OTLP: telemetry.OTLPConfig{
			Endpoint: c.Telemetry.OTLP.Endpoint,
			Insecure: c.Telemetry.OTLP.Insecure,
			Headers:  c.Telemetry.OTLP.Headers,
		},
	}
}
