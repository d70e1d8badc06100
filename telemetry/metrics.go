// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	DBProbes     *prometheus.CounterVec // label: outcome
	HTTPRequests *prometheus.CounterVec // labels: route, code

	// Histograms (seconds)
	DBProbeDuration prometheus.Observer

	// Gauges
	DBReachableGauge prometheus.Gauge // 1=reachable,0=unreachable (last probe)
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		DBProbes = promauto.NewCounterVec(prometheus.CounterOpts{Name: "demo_db_probes_total", Help: "Number of database reachability probes by outcome"}, []string{"outcome"})
		HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{Name: "demo_http_requests_total", Help: "Number of HTTP requests by route pattern and status code"}, []string{"route", "code"})
		// Connect timeout defaults to 2s and the whole probe to 5s, so buckets focus below 10s.
		DBProbeDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "demo_db_probe_duration_seconds", Help: "Database probe duration seconds", Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2, 3, 5, 10}})
		DBReachableGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "demo_db_reachable", Help: "Result of the last database probe reachable=1 unreachable=0"})
	})
}

// RecordProbe counts one probe and updates the reachability gauge. Safe to call before Init (no-op).
func RecordProbe(outcome string, reachable bool, d time.Duration) {
	if DBProbes != nil {
		DBProbes.WithLabelValues(outcome).Inc()
	}
	if DBProbeDuration != nil {
		DBProbeDuration.Observe(d.Seconds())
	}
	if DBReachableGauge != nil {
		if reachable {
			DBReachableGauge.Set(1)
		} else {
			DBReachableGauge.Set(0)
		}
	}
}

// RecordHTTPRequest counts one served request.
func RecordHTTPRequest(route, code string) {
	if HTTPRequests != nil {
		HTTPRequests.WithLabelValues(route, code).Inc()
	}
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	v := ctx.Value(corrKey)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
