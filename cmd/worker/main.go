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

	"github.com/kirillkom/agrirag/internal/bootstrap"
	"github.com/kirillkom/agrirag/internal/config"
	"github.com/kirillkom/agrirag/internal/observability/logging"
	"github.com/kirillkom/agrirag/internal/observability/metrics"
)

const (
	serviceName       = "agrirag-worker"
	processingTimeout = 5 * time.Minute
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config_load_failed", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(logging.NewJSONLogger(serviceName, cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, serviceName)
	if err != nil {
		slog.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	workerMetrics := metrics.NewWorkerMetrics(serviceName)
	metricsServer := startMetricsServer(cfg.WorkerMetricsPort, workerMetrics, app)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	slog.Info("worker_subscribed", "subject", cfg.NATSSubject, "collection", cfg.QdrantCollection)
	err = app.Queue.SubscribeReportUploaded(ctx, func(handlerCtx context.Context, reportID string) error {
		return processReport(handlerCtx, app, workerMetrics, reportID)
	})
	if err != nil {
		slog.Error("worker_subscribe_failed", "error", err)
		os.Exit(1)
	}
}

func processReport(ctx context.Context, app *bootstrap.App, m *metrics.WorkerMetrics, reportID string) error {
	processCtx, cancel := context.WithTimeout(ctx, processingTimeout)
	defer cancel()

	if upload, err := app.Uploads.GetByID(processCtx, reportID); err == nil {
		m.ObserveQueueLag(serviceName, time.Since(upload.CreatedAt))
	}

	m.StartReport()
	started := time.Now()
	err := app.ProcessUC.ProcessByID(processCtx, reportID)

	chunks := 0
	if upload, getErr := app.Uploads.GetByID(processCtx, reportID); getErr == nil {
		chunks = upload.Chunks
	}
	m.FinishReport(serviceName, time.Since(started), chunks, err)

	if err != nil {
		return err
	}
	slog.Info("report_processed", "report_id", reportID, "chunks", chunks, "duration_ms", time.Since(started).Milliseconds())
	return nil
}

func startMetricsServer(port string, m *metrics.WorkerMetrics, app *bootstrap.App) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", m.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		if err := app.Queue.Ping(); err != nil {
			http.Error(w, "queue disconnected", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	server := &http.Server{
		Addr:              ":" + port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("worker_metrics_server_failed", "error", err)
		}
	}()
	return server
}
