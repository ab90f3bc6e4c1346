package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/brewboard/userauth"
	"github.com/brewboard/userauth/internal/httpapi"
	"github.com/brewboard/userauth/internal/logging"
	promexport "github.com/brewboard/userauth/metrics/export/prometheus"
)

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd.Flags(), configFile)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger := logging.Setup("userauthd", version, cfg.Log.Format, cfg.Log.Level, os.Stderr)
			return runServe(ctx, cfg, logger, nil)
		},
	}
	registerFlags(cmd.Flags())
	return cmd
}

// runServe blocks until ctx is done. When ready is non-nil it receives the
// bound API address once the listener is up.
func runServe(ctx context.Context, cfg daemonConfig, logger *slog.Logger, ready chan<- string) error {
	res := &resources{}
	defer res.close()

	rdb, err := openRedis(ctx, cfg, res, logger)
	if err != nil {
		return err
	}
	store, err := openStore(ctx, cfg, rdb, res)
	if err != nil {
		return err
	}
	if m, ok := store.(migrator); ok {
		if err := m.Migrate(ctx); err != nil {
			return oops.With("driver", cfg.Store.Driver).Wrap(err)
		}
	}
	verifier, err := newVerifier(cfg)
	if err != nil {
		return err
	}

	builder := userauth.New().
		WithConfig(cfg.engineConfig()).
		WithStore(store).
		WithLogger(logger).
		WithAuditSink(userauth.NewJSONWriterSink(os.Stdout))
	if rdb != nil {
		builder.WithRedis(rdb)
	}
	if verifier != nil {
		builder.WithFederatedVerifier(verifier)
	}
	engine, err := builder.Build()
	if err != nil {
		return oops.With("operation", "build engine").Wrap(err)
	}
	res.add(engine.Close)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	registry.MustRegister(promexport.NewCollector(engine))

	api := &http.Server{
		Handler: httpapi.NewHandler(engine, httpapi.Options{
			Logger:            logger,
			TrustProxyHeaders: cfg.TrustProxy,
			Registerer:        registry,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	servers := []*http.Server{api}
	listeners := []string{cfg.Listen}

	if cfg.MetricsListen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{EnableOpenMetrics: true}))
		servers = append(servers, &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second})
		listeners = append(listeners, cfg.MetricsListen)
	}

	errCh := make(chan error, len(servers))
	for i, srv := range servers {
		ln, err := net.Listen("tcp", listeners[i])
		if err != nil {
			shutdown(servers[:i], cfg.ShutdownTimeout, logger)
			return oops.With("addr", listeners[i]).Wrap(err)
		}
		logger.Info("listening", "addr", ln.Addr().String())
		if i == 0 && ready != nil {
			ready <- ln.Addr().String()
		}

		go func(srv *http.Server, ln net.Listener) {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}(srv, ln)
	}

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		logger.Error("server failed", "error", err)
		shutdown(servers, cfg.ShutdownTimeout, logger)
		return err
	}

	shutdown(servers, cfg.ShutdownTimeout, logger)
	return nil
}

func shutdown(servers []*http.Server, timeout time.Duration, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	for _, srv := range servers {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Warn("shutdown incomplete", "error", err)
		}
	}
}
