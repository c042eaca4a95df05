package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/SmitUplenchwar2687/Throttle/internal/clock"
	"github.com/SmitUplenchwar2687/Throttle/internal/config"
	"github.com/SmitUplenchwar2687/Throttle/internal/limiter"
	"github.com/SmitUplenchwar2687/Throttle/internal/server"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	var (
		addr            string
		trustRemoteAddr bool
		store           storeOptions
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the throttle HTTP server",
		Long: `Starts an HTTP server answering rate limit checks.

Endpoints:
  GET /                           Service info
  GET /health                     Store health (degraded when the shared store is down)
  GET /metrics                    Prometheus metrics
  GET /api/policies               Registered policies
  GET /api/check/{policy}         Check keyed by client address
  GET /api/check/{policy}/{key}   Check keyed by an explicit identifier
  WS  /ws                         Stream of decisions`,
		Example: `  throttle serve
  throttle serve --addr :9090 --config throttle.yaml
  THROTTLE_STORE_TOKEN=secret throttle serve --store-url redis://cache:6379/0`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				cfg.Server.Addr = addr
			}
			if cmd.Flags().Changed("trust-remote-addr") {
				cfg.Server.TrustRemoteAddr = trustRemoteAddr
			}
			store.applyIfChanged(cmd, &cfg)
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cmd, cfg)
		},
	}

	def := config.Default()
	cmd.Flags().StringVar(&addr, "addr", def.Server.Addr, "address to listen on")
	cmd.Flags().BoolVar(&trustRemoteAddr, "trust-remote-addr", def.Server.TrustRemoteAddr,
		"key requests without X-Forwarded-For by remote host instead of one shared bucket")
	store.addFlags(cmd)

	return cmd
}

func serve(ctx context.Context, cmd *cobra.Command, cfg config.Config) error {
	logger, err := newLogger(cmd, cfg)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	hub := server.NewHub(logger, 0)

	lim, err := buildLimiter(ctx, cfg, limiterDeps{
		clock:      clock.NewRealClock(),
		logger:     logger,
		metrics:    limiter.NewMetrics(reg),
		onDecision: hub.Publish,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := lim.Close(); err != nil {
			logger.Warn("closing stores", "error", err)
		}
	}()

	srv, err := server.New(server.Config{
		Addr:            cfg.Server.Addr,
		Limiter:         lim,
		TrustRemoteAddr: cfg.Server.TrustRemoteAddr,
		Hub:             hub,
		Gatherer:        reg,
		Logger:          logger,
	})
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	g.Go(func() error {
		return hub.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
