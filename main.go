// Command demo-app is the main entrypoint for the DevOps platform demo service.
// It:
//   - Loads configuration and initializes structured logging.
//   - Builds the database reachability prober from DB_* settings.
//   - Exposes the public HTTP server with / and /health, plus an optional
//     metrics listener when METRICS_ADDR is set.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/onnwee/demo-app/config"
	"github.com/onnwee/demo-app/db"
	"github.com/onnwee/demo-app/server"
	"github.com/onnwee/demo-app/telemetry"
)

const (
	serviceName    = "demo-app"
	serviceVersion = "1.0.0"
)

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	logger, known := telemetry.NewLogger(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	if !known {
		slog.Warn("unknown LOG_LEVEL, using info", slog.String("value", cfg.LogLevel))
	}
	slog.Info("logger initialized", slog.String("level", cfg.LogLevel), slog.String("format", cfg.LogFormat))

	telemetry.Init()

	// Initialize OpenTelemetry tracing (optional; requires OTEL_EXPORTER_OTLP_ENDPOINT)
	shutdownTracing, err := telemetry.InitTracing(context.Background(), serviceName, serviceVersion)
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	shutdown := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			slog.Error("tracer provider shutdown failed", slog.Any("err", err))
		}
	}
	defer shutdown()

	prober, err := db.NewProber(cfg.Database)
	if err != nil {
		slog.Error("invalid database configuration", slog.Any("err", err))
		os.Exit(1)
	}
	slog.Info("database probe configured",
		slog.String("db", cfg.Database.String()),
		slog.Duration("connect_timeout", cfg.Database.ConnectTimeout),
		slog.Duration("probe_timeout", cfg.Database.ProbeTimeout))

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.MetricsAddr != "" {
		go func() {
			if err := server.StartMetrics(ctx, cfg.MetricsAddr); err != nil {
				slog.Error("metrics server exited with error", slog.Any("err", err))
			}
		}()
	}

	// The public listener owns the process lifetime: if it cannot bind, exit non-zero.
	if err := server.Start(ctx, prober, cfg.HTTPAddr, cfg.Database.ProbeTimeout); err != nil {
		slog.Error("http server exited with error", slog.Any("err", err))
		stop()
		shutdown()
		os.Exit(1)
	}
	slog.Info("shutting down")
}
