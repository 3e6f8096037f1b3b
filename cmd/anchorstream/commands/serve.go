package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"git.home.luguber.info/inful/anchorstream/internal/config"
	"git.home.luguber.info/inful/anchorstream/internal/demo"
	"git.home.luguber.info/inful/anchorstream/internal/logfields"
	"git.home.luguber.info/inful/anchorstream/internal/metrics"
	"git.home.luguber.info/inful/anchorstream/internal/natsbridge"
	"git.home.luguber.info/inful/anchorstream/internal/observability"
	"git.home.luguber.info/inful/anchorstream/internal/render"
	"git.home.luguber.info/inful/anchorstream/internal/retry"
	"git.home.luguber.info/inful/anchorstream/internal/server"
)

// ServeCmd implements the 'serve' command.
type ServeCmd struct {
	Addr       string        `help:"Listen address (overrides server.addr)"`
	Worker     bool          `help:"Also serve the local transitions to NATS relays"`
	TokenDelay time.Duration `name:"token-delay" help:"Pause between streamed chat tokens" default:"50ms"`
}

func (s *ServeCmd) Run(g *Global, root *CLI) error {
	cfg, err := loadConfig(root)
	if err != nil {
		return err
	}
	if s.Addr != "" {
		cfg.Server.Addr = s.Addr
	}
	logger := configureLogger(cfg, root.Verbose)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	return RunServer(ctx, cfg, ServeOptions{Worker: s.Worker, TokenDelay: s.TokenDelay}, logger)
}

// ServeOptions tunes RunServer.
type ServeOptions struct {
	Worker     bool
	TokenDelay time.Duration
	// Ready is called with the bound address once the server accepts
	// connections.
	Ready func(addr string)
}

// RunServer serves the demo until ctx is canceled or the listener fails.
func RunServer(ctx context.Context, cfg *config.Config, opts ServeOptions, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	shutdownTracing, err := observability.SetupTracing(ctx, observability.TracingOptions{
		Endpoint:    cfg.Monitoring.Tracing.Endpoint,
		ServiceName: cfg.Monitoring.Tracing.ServiceName,
	})
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer flushCancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("Failed to flush traces", logfields.Error(err))
		}
	}()

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder := metrics.NewPrometheusRecorder(promReg)

	app := demo.New()
	app.TokenDelay = opts.TokenDelay
	local := server.NewRegistry()
	if err := app.Register(local); err != nil {
		return err
	}
	served := local

	if cfg.NATS.Enabled {
		var conn *nats.Conn
		policy := retry.NewPolicy(retry.BackoffExponential, time.Second, 15*time.Second, cfg.NATS.ConnectRetries)
		err := policy.Do(ctx, func() error {
			var cerr error
			conn, cerr = natsbridge.Connect(cfg.NATS, logger)
			return cerr
		}, func(attempt int, delay time.Duration, err error) {
			logger.Warn("NATS connect failed, retrying",
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay),
				logfields.Error(err))
		})
		if err != nil {
			return err
		}
		defer conn.Close()
		transport := natsbridge.ConnTransport{Conn: conn}

		served, err = withRelays(local, transport, cfg.NATS, logger)
		if err != nil {
			return err
		}

		if opts.Worker {
			worker := natsbridge.NewWorker(transport, local, natsbridge.WorkerOptions{
				Prefix:        cfg.NATS.SubjectPrefix,
				QueueGroup:    cfg.NATS.QueueGroup,
				ErrorTemplate: demo.AnchorError,
				Recorder:      recorder,
				Logger:        logger,
			})
			if err := worker.Start(ctx); err != nil {
				return err
			}
			defer func() {
				stopCtx, stopCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
				defer stopCancel()
				if err := worker.Stop(stopCtx); err != nil {
					logger.Warn("Failed to stop NATS worker", logfields.Error(err))
				}
			}()
		}
	}

	renderer := render.New(demo.Templates(), render.WithLogger(logger))
	srv := server.New(cfg, served, server.Options{
		Page:           demo.PageHandler(app, renderer, cfg.Server.BasePath, logger),
		MetricsHandler: metrics.HTTPHandler(promReg),
		Recorder:       recorder,
		Logger:         logger,
		ErrorTemplate:  demo.AnchorError,
	})
	if err := srv.Start(ctx); err != nil {
		return err
	}
	if opts.Ready != nil {
		opts.Ready(srv.Addr())
	}

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received, stopping server...")
	case serveErr = <-srv.Done():
		if serveErr != nil {
			serveErr = fmt.Errorf("http server: %w", serveErr)
		}
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer stopCancel()
	if err := srv.Stop(stopCtx); err != nil && serveErr == nil {
		serveErr = err
	}
	return serveErr
}

// withRelays returns a registry serving every local transition plus a NATS
// relay for each configured remote name. Local names win.
func withRelays(local *server.Registry, t natsbridge.Transport, cfg config.NATSConfig, logger *slog.Logger) (*server.Registry, error) {
	if len(cfg.Relay) == 0 {
		return local, nil
	}
	served := server.NewRegistry()
	for _, name := range local.Names() {
		h, _ := local.Lookup(name)
		if err := served.Register(name, h); err != nil {
			return nil, err
		}
	}
	for _, name := range cfg.Relay {
		if _, ok := local.Lookup(name); ok {
			logger.Warn("Relay name shadowed by local transition", logfields.Transition(name))
			continue
		}
		relay := natsbridge.NewRelay(t, name, natsbridge.RelayOptions{
			Prefix:      cfg.SubjectPrefix,
			IdleTimeout: cfg.RequestTimeout,
			Logger:      logger,
		})
		if err := served.Register(name, relay); err != nil {
			return nil, err
		}
		logger.Info("Relaying transition to NATS", logfields.Transition(name), logfields.Subject(relay.Subject()))
	}
	return served, nil
}
