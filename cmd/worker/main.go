package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kirillkom/notarial-intake/internal/bootstrap"
	"github.com/kirillkom/notarial-intake/internal/config"
	"github.com/kirillkom/notarial-intake/internal/core/domain"
	"github.com/kirillkom/notarial-intake/internal/core/ports"
	"github.com/kirillkom/notarial-intake/internal/observability/logging"
)

func main() {
	cfg := config.Load()
	logger := logging.NewJSONLogger(cfg.ServiceName+"-worker", cfg.LogLevel)
	if cfg.NATSURL == "" {
		logger.Error("worker_requires_nats", "env", "NATS_URL")
		os.Exit(1)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{Logger: logger})
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	mux := http.NewServeMux()
	mux.Handle("/metrics", app.Metrics.Handler())
	metricsServer := &http.Server{Addr: ":" + cfg.WorkerMetricsPort, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("worker_metrics_server_failed", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	go func() {
		err := app.Queue.SubscribeCancels(ctx, func(batchID string) {
			if err := app.Intake.CancelBatch(ctx, "", batchID); err != nil && !domain.IsKind(err, domain.ErrBatchNotFound) {
				logger.Warn("remote_cancel_failed", "batch_id", batchID, "error", err)
			}
		})
		if err != nil {
			logger.Error("cancel_subscription_failed", "error", err)
		}
	}()

	logger.Info("worker_subscribed", "subject", cfg.NATSBatchSubject, "queue_group", cfg.NATSQueueGroup)
	err = app.Queue.SubscribeBatches(ctx, func(handlerCtx context.Context, sub ports.BatchSubmission) error {
		runCtx, cancel := context.WithTimeout(handlerCtx, cfg.WorkerBatchTimeout)
		defer cancel()
		report, err := app.Intake.RunSubmission(runCtx, sub)
		if report != nil {
			logger.Info("batch_submission_done",
				"session_id", sub.SessionID,
				"batch_id", report.BatchID,
				"status", report.Progress.Status,
				"pages_failed", report.Progress.PagesFailed,
			)
		}
		return err
	})
	if err != nil {
		logger.Error("worker_subscribe_failed", "error", err)
		os.Exit(1)
	}
}
