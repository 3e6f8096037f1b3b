package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"slices"
	"strings"
	"syscall"

	"git.home.luguber.info/inful/anchorstream/internal/config"
	"git.home.luguber.info/inful/anchorstream/internal/demo"
	ferrors "git.home.luguber.info/inful/anchorstream/internal/foundation/errors"
	"git.home.luguber.info/inful/anchorstream/internal/logfields"
	"git.home.luguber.info/inful/anchorstream/internal/render"
	"git.home.luguber.info/inful/anchorstream/internal/runtime"
	"git.home.luguber.info/inful/anchorstream/internal/transition"
)

// RunCmd implements the 'run' command.
type RunCmd struct {
	URL         string   `short:"u" help:"Page URL (defaults to client.base_url)"`
	Transitions []string `arg:"" optional:"" help:"Transitions to run in order, as name or name=<json object>"`
	StatesOnly  bool     `name:"states-only" help:"Print only the final active states"`
}

func (r *RunCmd) Run(g *Global, root *CLI) error {
	cfg, err := loadConfig(root)
	if err != nil {
		return err
	}
	logger := configureLogger(cfg, root.Verbose)

	calls, err := ParseTransitions(r.Transitions)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	return RunTransitions(ctx, cfg, RunOptions{
		PageURL:    r.URL,
		Calls:      calls,
		StatesOnly: r.StatesOnly,
		Out:        g.out(),
		Logger:     logger,
	})
}

// Call is one transition requested on the command line.
type Call struct {
	Name   string
	Params map[string]any
}

// ParseTransitions turns "name" and "name={...}" arguments into calls.
func ParseTransitions(args []string) ([]Call, error) {
	calls := make([]Call, 0, len(args))
	for _, arg := range args {
		name, raw, hasParams := strings.Cut(arg, "=")
		call := Call{Name: strings.TrimSpace(name)}
		if call.Name == "" {
			return nil, ferrors.ValidationError("transition name is empty").
				WithContext("argument", arg).
				Build()
		}
		if hasParams {
			if err := json.Unmarshal([]byte(raw), &call.Params); err != nil {
				return nil, ferrors.WrapError(err, ferrors.CategoryValidation, "transition params must be a JSON object").
					WithContext("transition", call.Name).
					Build()
			}
		}
		calls = append(calls, call)
	}
	return calls, nil
}

// RunOptions configures RunTransitions.
type RunOptions struct {
	PageURL    string
	Calls      []Call
	StatesOnly bool
	Out        io.Writer
	Logger     *slog.Logger
}

// RunTransitions opens the page, runs every call in order and prints the
// resulting anchors and active states.
func RunTransitions(ctx context.Context, cfg *config.Config, opts RunOptions) error {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	baseURL := strings.TrimRight(cfg.Client.BaseURL, "/")
	pageURL := opts.PageURL
	if pageURL == "" {
		pageURL = baseURL + "/"
	}

	traceLogger := func(ev runtime.TraceEvent) {
		if ev.Kind == runtime.TraceError {
			logger.Warn("Runtime error", slog.Any("detail", ev.Detail))
		}
	}
	renderer := render.New(demo.Templates(), render.WithLogger(logger), render.WithFallback(render.Text()))
	session, err := transition.OpenSession(ctx, pageURL, baseURL, renderer, transition.SessionOptions{
		Runtime: runtime.Options{
			FrameBudget: cfg.Client.FrameBudget,
			MaxQueue:    cfg.Client.MaxQueue,
			PendingAttr: cfg.Client.PendingAttribute,
			Scheduler:   runtime.NewTickScheduler(cfg.Client.FrameInterval),
			Trace:       traceLogger,
		},
		Logger: logger,
	})
	if err != nil {
		return err
	}
	logger.Info("Page opened", logfields.URL(pageURL), logfields.Count(len(session.Runtime.AnchorNames())))

	for _, call := range opts.Calls {
		if err := session.Transition(ctx, call.Name, call.Params); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	out := opts.Out
	if !opts.StatesOnly {
		names := session.Runtime.AnchorNames()
		slices.Sort(names)
		for _, name := range names {
			if _, err := fmt.Fprintf(out, "%s: %s\n", name, session.AnchorHTML(name)); err != nil {
				return err
			}
		}
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(session.Runtime.ActiveStates())
}
