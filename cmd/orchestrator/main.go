// cmd/orchestrator/main.go
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/tendant/ml-orchestrator/internal/bus"
	"github.com/tendant/ml-orchestrator/internal/engine"
	"github.com/tendant/ml-orchestrator/internal/httpapi"
	"github.com/tendant/ml-orchestrator/internal/poller"
	"github.com/tendant/ml-orchestrator/internal/stages"
	"github.com/tendant/ml-orchestrator/internal/store"
)

func main() {
	_ = godotenv.Load()

	cfg, err := LoadConfig()
	if err != nil {
		fatal(slog.Default(), "load config", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)
	logger.Info("orchestrator starting",
		"http_addr", cfg.HTTPAddr,
		"store_backend", cfg.Store.Backend,
		"data_preparer", cfg.Endpoints.DataPreparer,
		"model_selector", cfg.Endpoints.ModelSelector,
		"trainer", cfg.Endpoints.Trainer,
		"evaluator", cfg.Endpoints.Evaluator,
		"poll_interval", cfg.PollInterval,
		"poll_timeout", cfg.PollTimeout,
		"max_selected_models", cfg.MaxSelectedModels,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, closeStore, err := store.Open(ctx, cfg.Store)
	if err != nil {
		logger.Warn("store unavailable, executions will not be persisted", "backend", cfg.Store.Backend, "err", err)
		st = store.Disabled{}
	} else {
		logger.Info("store ready", "backend", cfg.Store.Backend, "ttl", cfg.Store.TTL)
	}
	defer func() {
		if err := closeStore(); err != nil {
			logger.Warn("close store", "err", err)
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	opts := engine.Options{
		Store:             st,
		Services:          stages.NewClient(nil, cfg.Endpoints),
		Poller:            poller.New(&http.Client{Timeout: 10 * time.Second}, cfg.PollInterval, cfg.PollTimeout, logger),
		EventsSubject:     cfg.EventsSubject,
		MaxSelectedModels: cfg.MaxSelectedModels,
		Metrics:           engine.NewMetrics(reg),
		Logger:            logger,
	}

	var nc *bus.Client
	if cfg.NATSURL != "" {
		nc, err = bus.Connect(cfg.NATSURL, logger)
		if err != nil {
			logger.Warn("NATS unavailable, continuing without events", "nats_url", cfg.NATSURL, "err", err)
		} else {
			logger.Info("connected to NATS", "nats_url", cfg.NATSURL)
			defer nc.Close()
			opts.Publisher = nc
		}
	}

	eng, err := engine.New(opts)
	if err != nil {
		fatal(logger, "build engine", err)
	}

	if nc != nil {
		if _, err := nc.SubscribeRequests(cfg.ExecuteSubject, bus.ExecuteHandler(eng, logger)); err != nil {
			fatal(logger, "subscribe execute requests", err, "subject", cfg.ExecuteSubject)
		}
		logger.Info("listening for execute requests", "subject", cfg.ExecuteSubject)
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.New(eng, reg, logger).Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err := <-errCh:
		logger.Error("http server failed", "err", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "err", err)
	}
	if err := eng.Wait(shutdownCtx); err != nil {
		logger.Warn("executions still running at shutdown", "err", err)
	}
	logger.Info("orchestrator stopped")
}

func fatal(logger *slog.Logger, msg string, err error, attrs ...any) {
	attrs = append(attrs, "err", err)
	logger.Error(msg, attrs...)
	os.Exit(1)
}
