package config

import "time"

// DefaultApplier applies defaults for a specific configuration domain.
type DefaultApplier interface {
	ApplyDefaults(cfg *Config)
	Domain() string
}

// ServerDefaultApplier handles server defaults.
type ServerDefaultApplier struct{}

func (ServerDefaultApplier) Domain() string { return "server" }

func (ServerDefaultApplier) ApplyDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.ShutdownTimeout <= 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}
}

// ClientDefaultApplier handles client runtime defaults.
type ClientDefaultApplier struct{}

func (ClientDefaultApplier) Domain() string { return "client" }

func (ClientDefaultApplier) ApplyDefaults(cfg *Config) {
	if cfg.Client.BaseURL == "" {
		cfg.Client.BaseURL = "http://localhost:8080" + cfg.Server.BasePath
	}
	if cfg.Client.FrameBudget == 0 {
		cfg.Client.FrameBudget = 33 * time.Millisecond
	}
	if cfg.Client.FrameInterval == 0 {
		cfg.Client.FrameInterval = 16 * time.Millisecond
	}
	if cfg.Client.MaxQueue == 0 {
		cfg.Client.MaxQueue = 64
	}
	if cfg.Client.PendingAttribute == "" {
		cfg.Client.PendingAttribute = "data-pending"
	}
}

// NATSDefaultApplier handles bridge defaults.
type NATSDefaultApplier struct{}

func (NATSDefaultApplier) Domain() string { return "nats" }

func (NATSDefaultApplier) ApplyDefaults(cfg *Config) {
	if cfg.NATS.URL == "" {
		cfg.NATS.URL = "nats://127.0.0.1:4222"
	}
	if cfg.NATS.SubjectPrefix == "" {
		cfg.NATS.SubjectPrefix = "anchorstream.transition"
	}
	if cfg.NATS.QueueGroup == "" {
		cfg.NATS.QueueGroup = "anchorstream-workers"
	}
	if cfg.NATS.RequestTimeout <= 0 {
		cfg.NATS.RequestTimeout = 30 * time.Second
	}
}

// MonitoringDefaultApplier handles observability defaults.
type MonitoringDefaultApplier struct{}

func (MonitoringDefaultApplier) Domain() string { return "monitoring" }

func (MonitoringDefaultApplier) ApplyDefaults(cfg *Config) {
	if cfg.Monitoring.Metrics.Path == "" {
		cfg.Monitoring.Metrics.Path = "/metrics"
	}
	if cfg.Monitoring.Health.Path == "" {
		cfg.Monitoring.Health.Path = "/health"
	}
	if cfg.Monitoring.Tracing.ServiceName == "" {
		cfg.Monitoring.Tracing.ServiceName = "anchorstream"
	}
}

var defaultAppliers = []DefaultApplier{
	ServerDefaultApplier{},
	ClientDefaultApplier{},
	NATSDefaultApplier{},
	MonitoringDefaultApplier{},
}

func applyDefaults(cfg *Config) {
	for _, applier := range defaultAppliers {
		applier.ApplyDefaults(cfg)
	}
}
