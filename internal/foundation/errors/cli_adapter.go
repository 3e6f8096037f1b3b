package errors

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
)

var exitCodeByCategory = map[ErrorCategory]int{
	CategoryValidation:  2,
	CategoryProtocol:    2,
	CategoryDecode:      3,
	CategoryNotFound:    4,
	CategoryConfig:      7,
	CategoryTransport:   8,
	CategoryApplication: 9,
	CategoryInternal:    10,
	CategoryRuntime:     12,
}

// CLIErrorAdapter turns command errors into a message and an exit code.
type CLIErrorAdapter struct {
	verbose bool
	logger  *slog.Logger
	stderr  io.Writer
	exit    func(int)
}

// NewCLIErrorAdapter creates a CLI adapter; a nil logger uses slog.Default.
func NewCLIErrorAdapter(verbose bool, logger *slog.Logger) *CLIErrorAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &CLIErrorAdapter{verbose: verbose, logger: logger, stderr: os.Stderr, exit: os.Exit}
}

// ExitCodeFor returns 0 for nil, the category's code for classified errors
// and 1 otherwise. Cancellation exits with 130 like an interrupted shell
// command.
func (a *CLIErrorAdapter) ExitCodeFor(err error) int {
	if err == nil {
		return 0
	}
	if IsCanceled(err) {
		return 130
	}
	if c, ok := AsClassified(err); ok {
		if code, ok := exitCodeByCategory[c.Category()]; ok {
			return code
		}
	}
	return 1
}

// FormatError renders err for stderr. Internal and runtime details are
// only shown with --verbose.
func (a *CLIErrorAdapter) FormatError(err error) string {
	if err == nil {
		return ""
	}
	c, ok := AsClassified(err)
	switch {
	case a.verbose:
		return "Error: " + err.Error()
	case !ok:
		return fmt.Sprintf("Error: %v", err)
	case c.Category() == CategoryInternal || c.Category() == CategoryRuntime:
		return "Internal error occurred (use -v for details)"
	case c.Cause() != nil:
		return fmt.Sprintf("Error: %s: %v", c.Message(), c.Cause())
	default:
		return "Error: " + c.Message()
	}
}

// HandleError prints err and exits with its code. Fatal and unclassified
// errors are logged as well; --verbose logs everything.
func (a *CLIErrorAdapter) HandleError(err error) {
	if err == nil {
		return
	}
	c, classified := AsClassified(err)
	if a.verbose || !classified || c.Severity() == SeverityFatal {
		attrs := []slog.Attr{slog.String("category", string(CategoryOf(err)))}
		if classified {
			for k, v := range c.Context() {
				attrs = append(attrs, slog.Any(k, v))
			}
		}
		a.logger.LogAttrs(context.Background(), slog.LevelError, UserMessage(err), attrs...)
	}
	_, _ = fmt.Fprintln(a.stderr, a.FormatError(err))
	a.exit(a.ExitCodeFor(err))
}
