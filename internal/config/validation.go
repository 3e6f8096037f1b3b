package config

import (
	"fmt"
	"net/url"
	"strings"

	ferrors "git.home.luguber.info/inful/anchorstream/internal/foundation/errors"
)

// ValidateConfig checks a normalized, defaulted configuration.
func ValidateConfig(cfg *Config) error {
	checks := []func(*Config) error{
		validateServer,
		validateClient,
		validateNATS,
		validateMonitoring,
	}
	for _, check := range checks {
		if err := check(cfg); err != nil {
			return err
		}
	}
	return nil
}

func invalid(field, format string, args ...any) error {
	return ferrors.ConfigError(fmt.Sprintf(format, args...)).WithContext("field", field).Build()
}

func validateServer(cfg *Config) error {
	if cfg.Server.WriteTimeout < 0 {
		return invalid("server.write_timeout", "server.write_timeout must not be negative")
	}
	return nil
}

func validateClient(cfg *Config) error {
	c := cfg.Client
	u, err := url.Parse(c.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return invalid("client.base_url", "client.base_url must be an absolute http(s) URL, got %q", c.BaseURL)
	}
	if c.FrameBudget < 0 {
		return invalid("client.frame_budget", "client.frame_budget must be positive")
	}
	if c.FrameInterval < 0 {
		return invalid("client.frame_interval", "client.frame_interval must be positive")
	}
	if c.MaxQueue < 0 {
		return invalid("client.max_queue", "client.max_queue must be positive")
	}
	if strings.ContainsAny(c.PendingAttribute, " \t\"'=<>") {
		return invalid("client.pending_attribute", "client.pending_attribute %q is not a valid attribute name", c.PendingAttribute)
	}
	return nil
}

func validateNATS(cfg *Config) error {
	n := cfg.NATS
	if !n.Enabled {
		if len(n.Relay) > 0 {
			return invalid("nats.relay", "nats.relay requires nats.enabled")
		}
		return nil
	}
	if n.ConnectRetries < 0 {
		return invalid("nats.connect_retries", "nats.connect_retries must not be negative")
	}
	if strings.ContainsAny(n.SubjectPrefix, " *>") {
		return invalid("nats.subject_prefix", "nats.subject_prefix %q must not contain spaces or wildcards", n.SubjectPrefix)
	}
	for _, name := range n.Relay {
		if name == "" || strings.ContainsAny(name, " .*>") {
			return invalid("nats.relay", "relay transition name %q is not a valid subject token", name)
		}
	}
	return nil
}

func validateMonitoring(cfg *Config) error {
	m := cfg.Monitoring
	if !strings.HasPrefix(m.Metrics.Path, "/") {
		return invalid("monitoring.metrics.path", "monitoring.metrics.path must start with /")
	}
	if !strings.HasPrefix(m.Health.Path, "/") {
		return invalid("monitoring.health.path", "monitoring.health.path must start with /")
	}
	if m.Metrics.Enabled && m.Metrics.Path == m.Health.Path {
		return invalid("monitoring.metrics.path", "metrics and health paths must differ")
	}
	return nil
}
