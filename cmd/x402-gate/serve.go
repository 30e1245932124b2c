package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	x402 "github.com/becomeliminal/x402-gate"
	"github.com/becomeliminal/x402-gate/config"
	"github.com/becomeliminal/x402-gate/facilitator"
	"github.com/becomeliminal/x402-gate/metrics"
	"github.com/becomeliminal/x402-gate/store"
)

const healthCheckTimeout = 2 * time.Second

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the payment gate in front of the upstream",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			return runServe(cmd.Context(), path)
		},
	}
}

func runServe(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cfg.Server.Upstream == "" {
		return x402.NewGateError(x402.KindConfig, "server.upstream is required", nil)
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer logger.Sync()

	routes, err := cfg.Routes()
	if err != nil {
		return err
	}

	stores, err := store.Open(ctx, cfg.StoreURLs(), logger)
	if err != nil {
		return err
	}
	defer stores.Close()

	sink := metrics.New(Version)
	gate, err := x402.NewGate(x402.GateOptions{
		Facilitator: facilitator.NewClient(facilitator.WithLogger(logger)),
		Stores:      stores,
		Metrics:     sink,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	handler, err := newHandler(cfg, gate, routes, sink, stores, logger)
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
		close(serverErr)
	}()

	logger.Info("x402 gate listening",
		zap.String("listen", cfg.Server.Listen),
		zap.String("upstream", cfg.Server.Upstream),
		zap.Int("locations", routes.Len()),
		zap.Strings("stores", cfg.StoreURLs()),
		zap.String("version", Version))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err := <-serverErr:
		return fmt.Errorf("server failed: %w", err)
	case sig := <-sigChan:
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeoutDuration())
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	<-serverErr

	logger.Info("server shutdown complete")
	return nil
}

type pinger interface {
	Ping(ctx context.Context) error
}

// newHandler wires the health and metrics endpoints and puts every other
// path behind the payment gate and the reverse proxy.
func newHandler(cfg *config.File, gate *x402.Gate, routes *x402.Routes, sink *metrics.Sink, stores pinger, logger *zap.Logger) (http.Handler, error) {
	upstream, err := url.Parse(cfg.Server.Upstream)
	if err != nil || upstream.Scheme == "" || upstream.Host == "" {
		return nil, x402.NewGateError(x402.KindConfig, fmt.Sprintf("invalid server.upstream %q", cfg.Server.Upstream), err)
	}

	proxy := httputil.NewSingleHostReverseProxy(upstream)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		logger.Warn("upstream request failed",
			zap.String("path", r.URL.Path),
			zap.Error(err))
		w.WriteHeader(http.StatusBadGateway)
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		status := map[string]string{"status": "ok", "store": "ok"}
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()
		if err := stores.Ping(ctx); err != nil {
			// Payments keep flowing without the store, so this is not a failure.
			status["store"] = "degraded"
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(status)
	})
	if cfg.Server.MetricsPath != "" {
		r.Method(http.MethodGet, cfg.Server.MetricsPath, sink.Handler())
	}

	r.Handle("/*", x402.PaymentMiddleware(gate, routes)(proxy))
	return r, nil
}
