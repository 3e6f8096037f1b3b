package config

import (
	"errors"
	"io/fs"
	"log/slog"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	ferrors "git.home.luguber.info/inful/anchorstream/internal/foundation/errors"
)

// envFiles are tried in order; each existing file is loaded. godotenv never
// overrides variables already present in the process environment.
var envFiles = []string{".env", ".env.local"}

func loadEnvFile() {
	for _, path := range envFiles {
		err := godotenv.Load(path)
		switch {
		case err == nil:
			slog.Debug("Loaded environment file", slog.String("path", path))
		case errors.Is(err, fs.ErrNotExist):
		default:
			slog.Warn("Failed to load environment file", slog.String("path", path), slog.String("error", err.Error()))
		}
	}
}

// applyEnvOverrides copies ANCHORSTREAM_* variables over cfg. Unset
// variables leave the file value untouched.
func applyEnvOverrides(cfg *Config) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryConfig, "parse environment overrides").Build()
	}
	return nil
}
