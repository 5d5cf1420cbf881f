// Command server runs the keepto API and realtime view stream.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"keepto/internal/bootstrap"
	"keepto/internal/config"
	"keepto/internal/observability"
	"keepto/internal/server"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("failed to load configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	level := slog.LevelInfo
	if !cfg.IsProduction() {
		level = slog.LevelDebug
	}
	logger := observability.NewLogger(cfg.Env, level)
	observability.SetLogger(logger)

	shutdownTracing, err := observability.InitTracing(observability.TracingConfig{
		ServiceName:    cfg.ServiceName,
		ServiceVersion: "1.0.0",
		Environment:    cfg.Env,
		Enabled:        cfg.TracingEnabled,
		Exporter:       cfg.TracingExporter,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SamplerRatio:   cfg.TracingSample,
	})
	if err != nil {
		logger.Error("failed to init tracing", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctx := context.Background()
	rt, err := bootstrap.InitRuntime(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to init runtime", slog.String("error", err.Error()))
		os.Exit(1)
	}

	opts := []server.Option{server.WithMetrics(cfg.ServiceName)}
	if rt.Redis != nil {
		opts = append(opts, server.WithRedis(rt.Redis))
	}
	if rt.Verifier != nil {
		opts = append(opts, server.WithVerifier(rt.Verifier))
	}
	rt.Services.FeedLimit = 50
	srv := server.New(cfg, rt.Services, opts...)

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down server")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("server shutdown error", slog.String("error", err.Error()))
		}
	}()

	if err := srv.Listen(":" + cfg.Port); err != nil {
		logger.Error("server stopped", slog.String("error", err.Error()))
	}

	if err := rt.Close(); err != nil {
		logger.Error("runtime close error", slog.String("error", err.Error()))
	}
	if err := shutdownTracing(context.Background()); err != nil {
		logger.Error("tracing shutdown error", slog.String("error", err.Error()))
	}
}
