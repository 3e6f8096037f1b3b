package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	ferrors "git.home.luguber.info/inful/anchorstream/internal/foundation/errors"
)

const exampleHeader = `# anchorstream configuration
# Values may reference environment variables as ${VAR}; any field can also be
# overridden with ANCHORSTREAM_<SECTION>_<FIELD>, e.g. ANCHORSTREAM_SERVER_ADDR.
`

// Example returns the configuration written by Init.
func Example() *Config {
	return &Config{
		Version: CurrentVersion,
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 10 * time.Second,
		},
		Client: ClientConfig{
			BaseURL:          "http://localhost:8080",
			FrameBudget:      33 * time.Millisecond,
			FrameInterval:    16 * time.Millisecond,
			MaxQueue:         64,
			PendingAttribute: "data-pending",
		},
		NATS: NATSConfig{
			Enabled:        false,
			URL:            "${NATS_URL}",
			SubjectPrefix:  "anchorstream.transition",
			QueueGroup:     "anchorstream-workers",
			RequestTimeout: 30 * time.Second,
			ConnectRetries: 3,
		},
		Monitoring: MonitoringConfig{
			Metrics: MonitoringMetrics{Enabled: true, Path: "/metrics"},
			Health:  MonitoringHealth{Path: "/health"},
			Logging: MonitoringLogging{Level: LogLevelInfo, Format: LogFormatText},
			Tracing: MonitoringTracing{ServiceName: "anchorstream"},
		},
	}
}

// Init writes an example configuration file.
func Init(configPath string, force bool) error {
	if _, err := os.Stat(configPath); err == nil && !force {
		return ferrors.ConfigError("configuration file already exists (use --force to overwrite)").
			WithContext("path", configPath).
			Build()
	}

	data, err := yaml.Marshal(Example())
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryInternal, "failed to marshal example config").Build()
	}
	if err := os.WriteFile(configPath, append([]byte(exampleHeader), data...), 0o600); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryConfig, "failed to write config file").
			WithContext("path", configPath).
			Build()
	}
	return nil
}
