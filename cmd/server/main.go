package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	apihttp "redubstream/internal/api/http"
	"redubstream/internal/app"
	"redubstream/internal/metrics"
	"redubstream/internal/pipeline"
	"redubstream/internal/redub"
	"redubstream/internal/segmenter"
	"redubstream/internal/status"
	"redubstream/internal/telemetry"
)

func main() {
	app.LoadDotEnv()
	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Error("config load failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	metrics.Register(prometheus.DefaultRegisterer)

	shutdownTracer, err := telemetry.Init(context.Background(), "redubstream")
	if err != nil {
		logger.Warn("otel init failed", slog.String("error", err.Error()))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	logger.Info("configuration loaded",
		slog.String("httpAddr", cfg.HTTPAddr),
		slog.String("logLevel", cfg.LogLevel),
		slog.String("ffmpeg", cfg.FFmpegPath),
		slog.String("ffprobe", cfg.FFprobePath),
		slog.Duration("segmentWindow", cfg.SegmentWindow),
		slog.Int("segmentBatchSize", cfg.SegmentBatchSize),
		slog.Int("primaryProviders", len(cfg.Providers.Primary)),
		slog.Int("fallbackProviders", len(cfg.Providers.Fallback)),
		slog.Bool("hasRedis", strings.TrimSpace(cfg.RedisURL) != ""),
	)

	engines := app.NewEngineStack(cfg, logger)
	defer func() {
		if err := engines.FFmpeg.Close(); err != nil {
			logger.Warn("engine cleanup failed", slog.String("error", err.Error()))
		}
	}()

	projector := status.NewProjector()
	segmenterService := segmenter.NewService(engines.Handle, engines.Probe,
		segmenter.WithConfig(cfg.SegmenterConfig()),
		segmenter.WithStatusSink(projector),
		segmenter.WithLogger(logger),
	)
	redubService := redub.NewService(engines.Handle,
		redub.WithUploadProbe(engines.Probe),
		redub.WithStatusSink(projector),
		redub.WithBitrates(cfg.MergedBitrate, cfg.MergedBitrate),
		redub.WithLogger(logger),
	)
	acquireService := app.NewAcquireService(cfg, logger)
	runner := pipeline.New(segmenterService, redubService, projector,
		pipeline.WithAcquirer(acquireService),
		pipeline.WithLogger(logger),
	)

	api := apihttp.NewServer(runner,
		apihttp.WithLogger(logger),
		apihttp.WithAcquirer(acquireService),
		apihttp.WithProviderDiagnostics(acquireService),
		apihttp.WithAllowedOrigins(app.AllowedOrigins(cfg.CORSOrigins)),
		apihttp.WithRateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst),
		apihttp.WithMaxUploadBytes(cfg.MaxUploadBytes),
	)
	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api,
		ReadHeaderTimeout: 5 * time.Second,
		// Source uploads and artifact downloads can be large; no body timeouts.
		IdleTimeout: 60 * time.Second,
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()
	logger.Info("redub service started", slog.String("addr", cfg.HTTPAddr))

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	api.Close()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", slog.String("error", err.Error()))
	}
	if err := runner.Reset(shutdownCtx); err != nil {
		logger.Warn("pipeline stop failed", slog.String("error", err.Error()))
	}
	logger.Info("redub service stopped")
}
