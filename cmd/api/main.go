package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/net/netutil"

	httpadapter "github.com/kirillkom/notarial-intake/internal/adapters/http"
	"github.com/kirillkom/notarial-intake/internal/bootstrap"
	"github.com/kirillkom/notarial-intake/internal/config"
	"github.com/kirillkom/notarial-intake/internal/core/domain"
	"github.com/kirillkom/notarial-intake/internal/core/ports"
	"github.com/kirillkom/notarial-intake/internal/observability/logging"
	"github.com/kirillkom/notarial-intake/internal/observability/metrics"
)

func main() {
	cfg := config.Load()
	logger := logging.NewJSONLogger(cfg.ServiceName+"-api", cfg.LogLevel)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpMetrics := metrics.NewHTTPServerMetrics(cfg.ServiceName)
	events := httpadapter.NewEventHub()

	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{
		Logger:      logger,
		Registry:    httpMetrics.Registry(),
		LocalStatus: events,
	})
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	deps := httpadapter.Dependencies{
		Intake:   app.Intake,
		Exporter: app.Exporter,
		Storage:  app.Storage,
		Events:   events,
		Metrics:  httpMetrics,
		Checks:   app.Checks(),
		Logger:   logger,
	}
	if app.Queue != nil {
		deps.Queue = app.Queue
		go relay(ctx, app, events)
	}

	server := &http.Server{
		Addr:         ":" + cfg.APIPort,
		Handler:      httpadapter.NewRouter(cfg, deps).Handler(),
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 0, // event streams stay open
		IdleTimeout:  60 * time.Second,
	}

	listener, err := net.Listen("tcp", server.Addr)
	if err != nil {
		logger.Error("api_listen_failed", "addr", server.Addr, "error", err)
		return
	}
	if cfg.APIMaxConnections > 0 {
		listener = netutil.LimitListener(listener, cfg.APIMaxConnections)
	}

	go func() {
		logger.Info("api_listening", "port", cfg.APIPort, "max_connections", cfg.APIMaxConnections)
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api_server_failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("api_shutdown_failed", "error", err)
	}
}

// relay feeds queue-wide status events to local event streams and applies
// cancel requests to batches running in this process.
func relay(ctx context.Context, app *bootstrap.App, events *httpadapter.EventHub) {
	go func() {
		err := app.Queue.SubscribeCancels(ctx, func(batchID string) {
			if err := app.Intake.CancelBatch(ctx, "", batchID); err != nil && !domain.IsKind(err, domain.ErrBatchNotFound) {
				app.Logger.Warn("remote_cancel_failed", "batch_id", batchID, "error", err)
			}
		})
		if err != nil {
			app.Logger.Error("cancel_subscription_failed", "error", err)
		}
	}()
	err := app.Queue.SubscribeStatus(ctx, func(event ports.StatusEvent) {
		_ = events.PublishStatus(ctx, event)
	})
	if err != nil {
		app.Logger.Error("status_subscription_failed", "error", err)
	}
}
