// Package server exposes the public HTTP API: a root endpoint reporting database
// reachability and a liveness endpoint. It injects correlation IDs into request
// contexts for consistent logging and wraps every request in a trace span.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/onnwee/demo-app/telemetry"
)

// NewMux returns the HTTP handler with all public routes.
// Paths other than / and /health get net/http's default 404; other methods get its 405.
func NewMux(prober Prober) http.Handler {
	handlers := NewHandlers(prober)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", handlers.HandleIndex)
	mux.HandleFunc("GET /health", handlers.HandleHealth)

	return withRequestContext(mux)
}

// withRequestContext assigns a correlation ID, starts a server span, counts the request
// and logs it at debug level.
func withRequestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Reuse corr header if provided else generate
		corr := r.Header.Get("X-Correlation-ID")
		if corr == "" {
			corr = uuid.New().String()
		}
		ctx := telemetry.WithCorrelation(r.Context(), corr)
		w.Header().Set("X-Correlation-ID", corr)

		ctx, span := telemetry.StartSpan(ctx, "http-server", r.Method+" "+r.URL.Path,
			telemetry.HTTPMethodAttr(r.Method),
		)
		defer span.End()

		start := time.Now()
		wrappedWriter := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		req := r.WithContext(ctx)
		next.ServeHTTP(wrappedWriter, req)

		// ServeMux records the matched pattern on the request it was handed.
		route := req.Pattern
		if route == "" {
			route = "unmatched"
		} else {
			span.SetName(route)
			span.SetAttributes(telemetry.HTTPRouteAttr(route))
		}
		telemetry.SetSpanHTTPStatus(span, wrappedWriter.statusCode)
		telemetry.RecordHTTPRequest(route, strconv.Itoa(wrappedWriter.statusCode))

		telemetry.LoggerWithCorr(ctx).Debug("request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", wrappedWriter.statusCode),
			slog.Duration("duration", time.Since(start)),
			slog.String("component", "http"))
	})
}

// statusRecorder wraps ResponseWriter to capture status code
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.statusCode = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

// writeMargin is the time allowed on top of the probe timeout for encoding and writing the response.
const writeMargin = 10 * time.Second

// Start runs the public HTTP server and shuts down gracefully on context cancellation.
// probeTimeout is the database probe bound; the write deadline is derived from it.
func Start(ctx context.Context, prober Prober, addr string, probeTimeout time.Duration) error {
	return serve(ctx, newServer(prober, addr, probeTimeout), "http")
}

func newServer(prober Prober, addr string, probeTimeout time.Duration) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           NewMux(prober),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      writeTimeout(probeTimeout),
		IdleTimeout:       60 * time.Second,
	}
}

// writeTimeout covers the slowest probe the handler can run. An unbounded probe
// (zero) gets no write deadline, otherwise net/http would drop the response.
func writeTimeout(probeTimeout time.Duration) time.Duration {
	if probeTimeout <= 0 {
		return 0
	}
	return probeTimeout + writeMargin
}

// StartMetrics serves Prometheus metrics on a separate listener so the public
// surface stays limited to / and /health.
func StartMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return serve(ctx, srv, "metrics")
}

func serve(ctx context.Context, srv *http.Server, component string) error {
	go func() {
		<-ctx.Done()
		// Use WithoutCancel to inherit context values but allow shutdown to complete
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("http server shutdown error", slog.Any("err", err), slog.String("component", component))
		}
	}()

	slog.Info("http server listening", slog.String("addr", srv.Addr), slog.String("component", component))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("http server error", slog.Any("err", err), slog.String("component", component))
		return err
	}
	return nil
}
