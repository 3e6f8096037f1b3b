package config

import (
	"strings"

	ferrors "git.home.luguber.info/inful/anchorstream/internal/foundation/errors"
)

// normalizeConfig case-folds enumerations and canonicalises paths.
func normalizeConfig(cfg *Config) error {
	lvl, err := logLevelNormalizer.NormalizeWithError(string(cfg.Monitoring.Logging.Level))
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryConfig, "invalid monitoring.logging.level").Build()
	}
	cfg.Monitoring.Logging.Level = lvl

	format, err := logFormatNormalizer.NormalizeWithError(string(cfg.Monitoring.Logging.Format))
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryConfig, "invalid monitoring.logging.format").Build()
	}
	cfg.Monitoring.Logging.Format = format

	cfg.Server.BasePath = normalizeBasePath(cfg.Server.BasePath)
	cfg.Client.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.Client.BaseURL), "/")
	cfg.NATS.SubjectPrefix = strings.Trim(strings.TrimSpace(cfg.NATS.SubjectPrefix), ".")
	for i, name := range cfg.NATS.Relay {
		cfg.NATS.Relay[i] = strings.TrimSpace(name)
	}
	return nil
}

// normalizeBasePath returns "" for the root, otherwise "/segment" without a
// trailing slash.
func normalizeBasePath(p string) string {
	p = strings.Trim(strings.TrimSpace(p), "/")
	if p == "" {
		return ""
	}
	return "/" + p
}
