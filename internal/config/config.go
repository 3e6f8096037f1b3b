// Package config loads the anchorstream configuration: a YAML file with
// ${VAR} expansion, .env files, ANCHORSTREAM_* environment overrides,
// normalization, defaults and validation, in that order.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	ferrors "git.home.luguber.info/inful/anchorstream/internal/foundation/errors"
)

// CurrentVersion is the configuration schema version.
const CurrentVersion = "1.0"

// EnvPrefix prefixes every environment override.
const EnvPrefix = "ANCHORSTREAM_"

// Config is the root configuration document.
type Config struct {
	Version    string           `yaml:"version" env:"VERSION"`
	Server     ServerConfig     `yaml:"server" envPrefix:"SERVER_"`
	Client     ClientConfig     `yaml:"client" envPrefix:"CLIENT_"`
	NATS       NATSConfig       `yaml:"nats" envPrefix:"NATS_"`
	Monitoring MonitoringConfig `yaml:"monitoring" envPrefix:"MONITORING_"`
}

// ServerConfig configures the transition HTTP server.
type ServerConfig struct {
	Addr            string        `yaml:"addr" env:"ADDR"`
	BasePath        string        `yaml:"base_path" env:"BASE_PATH"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// WriteTimeout bounds a whole transition stream; zero disables it.
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
}

// ClientConfig configures the headless client runtime.
type ClientConfig struct {
	BaseURL          string        `yaml:"base_url" env:"BASE_URL"`
	FrameBudget      time.Duration `yaml:"frame_budget" env:"FRAME_BUDGET"`
	FrameInterval    time.Duration `yaml:"frame_interval" env:"FRAME_INTERVAL"`
	MaxQueue         int           `yaml:"max_queue" env:"MAX_QUEUE"`
	PendingAttribute string        `yaml:"pending_attribute" env:"PENDING_ATTRIBUTE"`
}

// NATSConfig configures the optional NATS transition bridge.
type NATSConfig struct {
	Enabled       bool   `yaml:"enabled" env:"ENABLED"`
	URL           string `yaml:"url" env:"URL"`
	SubjectPrefix string `yaml:"subject_prefix" env:"SUBJECT_PREFIX"`
	QueueGroup    string `yaml:"queue_group" env:"QUEUE_GROUP"`
	// RequestTimeout is the longest silence tolerated between two frames.
	RequestTimeout time.Duration `yaml:"request_timeout" env:"REQUEST_TIMEOUT"`
	// ConnectRetries bounds reconnect attempts when the first connect fails.
	ConnectRetries int `yaml:"connect_retries" env:"CONNECT_RETRIES"`
	// Relay lists transitions the server forwards to NATS workers.
	Relay []string `yaml:"relay" env:"RELAY"`
}

// MonitoringConfig represents monitoring and observability configuration.
type MonitoringConfig struct {
	Metrics MonitoringMetrics `yaml:"metrics" envPrefix:"METRICS_"`
	Health  MonitoringHealth  `yaml:"health" envPrefix:"HEALTH_"`
	Logging MonitoringLogging `yaml:"logging" envPrefix:"LOG_"`
	Tracing MonitoringTracing `yaml:"tracing" envPrefix:"TRACING_"`
}

// MonitoringMetrics represents metrics configuration.
type MonitoringMetrics struct {
	Enabled bool   `yaml:"enabled" env:"ENABLED"`
	Path    string `yaml:"path" env:"PATH"`
}

// MonitoringHealth represents health check configuration.
type MonitoringHealth struct {
	Path string `yaml:"path" env:"PATH"`
}

// MonitoringLogging represents logging configuration.
type MonitoringLogging struct {
	Level  LogLevel  `yaml:"level" env:"LEVEL"`
	Format LogFormat `yaml:"format" env:"FORMAT"`
}

// MonitoringTracing configures OTLP trace export. An empty endpoint
// disables export.
type MonitoringTracing struct {
	Endpoint    string `yaml:"endpoint" env:"ENDPOINT"`
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
}

// Load reads configPath (skipped when empty) and returns the finished
// configuration.
func Load(configPath string) (*Config, error) {
	loadEnvFile()

	var cfg Config
	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if os.IsNotExist(err) {
			return nil, ferrors.ConfigError("configuration file not found").
				WithContext("path", configPath).
				Build()
		}
		if err != nil {
			return nil, ferrors.WrapError(err, ferrors.CategoryConfig, "failed to read config file").
				WithContext("path", configPath).
				Build()
		}
		if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
			return nil, ferrors.WrapError(err, ferrors.CategoryConfig, "failed to unmarshal config").
				WithContext("path", configPath).
				Build()
		}
	}
	if err := finish(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the defaults with environment overrides applied.
func Default() (*Config, error) {
	return Load("")
}

func finish(cfg *Config) error {
	if err := applyEnvOverrides(cfg); err != nil {
		return err
	}
	if cfg.Version == "" {
		cfg.Version = CurrentVersion
	}
	if cfg.Version != CurrentVersion {
		return ferrors.ConfigError(fmt.Sprintf("unsupported configuration version: %s (expected %s)", cfg.Version, CurrentVersion)).Build()
	}
	if err := normalizeConfig(cfg); err != nil {
		return err
	}
	applyDefaults(cfg)
	return ValidateConfig(cfg)
}
