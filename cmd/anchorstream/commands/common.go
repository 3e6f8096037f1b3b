// Package commands holds the kong command tree of the anchorstream binary.
package commands

import (
	"io"
	"log/slog"
	"os"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/anchorstream/internal/config"
	"git.home.luguber.info/inful/anchorstream/internal/observability"
)

// Global context passed to subcommands.
type Global struct {
	Logger *slog.Logger
	// Out receives command output meant for the user; nil means stdout.
	Out io.Writer
}

func (g *Global) out() io.Writer {
	if g == nil || g.Out == nil {
		return os.Stdout
	}
	return g.Out
}

func (g *Global) logger() *slog.Logger {
	if g == nil || g.Logger == nil {
		return slog.Default()
	}
	return g.Logger
}

// CLI definition & global flags.
type CLI struct {
	Config  string           `short:"c" help:"Configuration file path (empty uses defaults and environment)" default:"anchorstream.yaml"`
	Verbose bool             `short:"v" help:"Enable verbose logging"`
	Version kong.VersionFlag `name:"version" help:"Show version and exit"`

	Serve    ServeCmd    `cmd:"" help:"Serve the demo page and its transitions"`
	Run      RunCmd      `cmd:"" help:"Open a page headlessly and run transitions against it"`
	Validate ValidateCmd `cmd:"" help:"Validate an NDJSON frame stream"`
	Init     InitCmd     `cmd:"" help:"Write an example configuration file"`
	Show     VersionCmd  `cmd:"" name:"version" help:"Print version information"`
}

// AfterApply runs after flag parsing; setup logging once.
// nolint:unparam // AfterApply currently never returns an error.
func (c *CLI) AfterApply() error {
	level := slog.LevelInfo
	if c.Verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(observability.NewLogger(os.Stderr, observability.LoggerOptions{Level: level}))
	return nil
}

// loadConfig reads the configured file. A missing file falls back to the
// defaults only when the path is the default one.
func loadConfig(root *CLI) (*config.Config, error) {
	if root.Config == "" {
		return config.Default()
	}
	if _, err := os.Stat(root.Config); os.IsNotExist(err) && root.Config == "anchorstream.yaml" {
		return config.Default()
	}
	return config.Load(root.Config)
}

// configureLogger replaces the default logger with one following the
// monitoring.logging section. --verbose always wins.
func configureLogger(cfg *config.Config, verbose bool) *slog.Logger {
	level := cfg.Monitoring.Logging.Level.Slog()
	if verbose {
		level = slog.LevelDebug
	}
	logger := observability.NewLogger(os.Stderr, observability.LoggerOptions{
		Level: level,
		JSON:  cfg.Monitoring.Logging.Format == config.LogFormatJSON,
	})
	slog.SetDefault(logger)
	return logger
}
