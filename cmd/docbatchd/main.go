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

	"github.com/joseph-ayodele/docbatch/constants"
	"github.com/joseph-ayodele/docbatch/internal/common"
	"github.com/joseph-ayodele/docbatch/internal/executor"
	"github.com/joseph-ayodele/docbatch/internal/ingest"
	"github.com/joseph-ayodele/docbatch/internal/metrics"
	"github.com/joseph-ayodele/docbatch/internal/orchestrator"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg := common.LoadConfig()

	execs := executor.NewRegistry()
	execs.Register(constants.JobTypeOCR, executor.NewTextExtract(executor.TextExtractConfig{
		Pdftotext: os.Getenv("PDFTOTEXT_BIN"),
		Tesseract: os.Getenv("TESSERACT_BIN"),
		Language:  os.Getenv("OCR_LANGUAGE"),
	}, logger))
	execs.Register(constants.JobTypeValidation, executor.NewValidate(logger))

	collector := metrics.NewCollector()
	system := orchestrator.New(cfg, execs, logger, orchestrator.WithCollector(collector))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := system.Initialize(ctx); err != nil {
		logger.Error("initialization failed", "error", err)
		os.Exit(1)
	}
	if err := system.Start(); err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		health, err := system.HealthStatus()
		if err != nil || health.State == constants.HealthUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_, _ = w.Write([]byte(string(health.State)))
	})
	srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: mux}
	go func() {
		logger.Info("metrics endpoint listening", "addr", cfg.Metrics.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()

	if cfg.Ingest.WatchDir != "" {
		scanner := ingest.NewScanner(cfg.Ingest, system, logger)
		go scanner.Run(ctx)
	} else {
		logger.Warn("WATCH_DIR not set, drop-directory ingestion disabled")
	}

	<-ctx.Done()
	logger.Info("signal received, shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Supervision.ShutdownTimeout+5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown failed", "error", err)
	}
	if err := system.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown was not clean", "error", err)
		os.Exit(1)
	}
}
