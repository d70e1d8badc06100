package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/onnwee/demo-app/config"
	"github.com/onnwee/demo-app/telemetry"
	pgtest "github.com/onnwee/demo-app/testutil"
)

func newProber(t *testing.T, cfg config.Database) *Prober {
	t.Helper()
	p, err := NewProber(cfg)
	if err != nil {
		t.Fatalf("NewProber: %v", err)
	}
	return p
}

func TestProbeReachable(t *testing.T) {
	srv := pgtest.NewMockPostgresServer(t, pgtest.FakeReady)
	p := newProber(t, srv.Database())

	res := p.Probe(context.Background())
	if !res.Reachable() {
		t.Fatalf("expected reachable, got %s: %v", res.Outcome, res.Err)
	}
	if res.Err != nil {
		t.Errorf("expected nil error on success, got %v", res.Err)
	}
	if srv.Queries() != 1 {
		t.Errorf("queries = %d, want 1", srv.Queries())
	}
}

func TestProbeOpensFreshConnectionEachCall(t *testing.T) {
	srv := pgtest.NewMockPostgresServer(t, pgtest.FakeReady)
	p := newProber(t, srv.Database())

	for i := 0; i < 3; i++ {
		if !p.Reachable(context.Background()) {
			t.Fatalf("probe %d: expected reachable", i)
		}
	}
	if srv.Accepted() != 3 {
		t.Errorf("accepted connections = %d, want 3 (no reuse)", srv.Accepted())
	}
}

func TestProbeConnectionRefused(t *testing.T) {
	cfg := config.Database{
		Host:           "127.0.0.1",
		Port:           pgtest.ClosedPort(t),
		Name:           "dev_db",
		User:           "dev",
		Password:       "devpass",
		SSLMode:        "disable",
		ConnectTimeout: 2 * time.Second,
		ProbeTimeout:   5 * time.Second,
	}
	p := newProber(t, cfg)

	start := time.Now()
	res := p.Probe(context.Background())
	if res.Reachable() {
		t.Fatal("expected unreachable with nothing listening")
	}
	if res.Outcome != OutcomeConnectFailure {
		t.Errorf("outcome = %s, want connect_failure (err=%v)", res.Outcome, res.Err)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("refused connection took %v, want under 3s", elapsed)
	}
}

func TestProbeAuthFailure(t *testing.T) {
	srv := pgtest.NewMockPostgresServer(t, pgtest.FakeAuthFailure)
	p := newProber(t, srv.Database())

	res := p.Probe(context.Background())
	if res.Outcome != OutcomeAuthFailure {
		t.Fatalf("outcome = %s, want auth_failure (err=%v)", res.Outcome, res.Err)
	}
}

func TestProbeConnectTimeout(t *testing.T) {
	srv := pgtest.NewMockPostgresServer(t, pgtest.FakeStallStartup)
	cfg := srv.Database()
	cfg.ConnectTimeout = 200 * time.Millisecond
	p := newProber(t, cfg)

	start := time.Now()
	res := p.Probe(context.Background())
	elapsed := time.Since(start)
	if res.Reachable() {
		t.Fatal("expected unreachable when startup stalls")
	}
	if res.Outcome != OutcomeTimeout {
		t.Errorf("outcome = %s, want timeout (err=%v)", res.Outcome, res.Err)
	}
	if elapsed > 2*time.Second {
		t.Errorf("probe took %v, want close to the 200ms connect timeout", elapsed)
	}
}

func TestProbeQueryStallBoundedByProbeTimeout(t *testing.T) {
	srv := pgtest.NewMockPostgresServer(t, pgtest.FakeStallQuery)
	cfg := srv.Database()
	cfg.ProbeTimeout = 300 * time.Millisecond
	p := newProber(t, cfg)

	start := time.Now()
	res := p.Probe(context.Background())
	elapsed := time.Since(start)
	if res.Reachable() {
		t.Fatal("expected unreachable when the query never completes")
	}
	if res.Outcome != OutcomeTimeout {
		t.Errorf("outcome = %s, want timeout (err=%v)", res.Outcome, res.Err)
	}
	if elapsed > 3*time.Second {
		t.Errorf("probe took %v, want bounded by the 300ms probe timeout", elapsed)
	}
}

func TestProbeQueryError(t *testing.T) {
	srv := pgtest.NewMockPostgresServer(t, pgtest.FakeQueryError)
	p := newProber(t, srv.Database())

	res := p.Probe(context.Background())
	if res.Outcome != OutcomeQueryFailure {
		t.Fatalf("outcome = %s, want query_failure (err=%v)", res.Outcome, res.Err)
	}
}

func TestProbeRecordsMetrics(t *testing.T) {
	telemetry.Init()
	srv := pgtest.NewMockPostgresServer(t, pgtest.FakeReady)
	p := newProber(t, srv.Database())

	before := testutil.ToFloat64(telemetry.DBProbes.WithLabelValues("success"))
	p.Probe(context.Background())
	if got := testutil.ToFloat64(telemetry.DBProbes.WithLabelValues("success")); got != before+1 {
		t.Errorf("success probes = %v, want %v", got, before+1)
	}
	if got := testutil.ToFloat64(telemetry.DBReachableGauge); got != 1 {
		t.Errorf("reachable gauge = %v, want 1", got)
	}
}

// fakeConn lets tests drive the query and close steps without a network.
type fakeConn struct {
	row      pgx.Row
	closeErr error
	closed   int
}

func (f *fakeConn) QueryRow(context.Context, string, ...any) pgx.Row { return f.row }

func (f *fakeConn) Close(context.Context) error {
	f.closed++
	return f.closeErr
}

type fakeRow struct {
	val int
	err error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*(dest[0].(*int)) = r.val
	return nil
}

func proberWithConn(t *testing.T, c *fakeConn) *Prober {
	t.Helper()
	p := newProber(t, config.Database{Host: "db", Port: 5432, Name: "dev_db", User: "dev", SSLMode: "disable", ProbeTimeout: time.Second})
	p.connect = func(context.Context, *pgx.ConnConfig) (conn, error) { return c, nil }
	return p
}

func TestProbeClosesConnectionOnEveryPath(t *testing.T) {
	tests := []struct {
		name    string
		conn    *fakeConn
		outcome Outcome
	}{
		{"success", &fakeConn{row: fakeRow{val: 1}}, OutcomeSuccess},
		{"query error", &fakeConn{row: fakeRow{err: errors.New("boom")}}, OutcomeQueryFailure},
		{"unexpected value", &fakeConn{row: fakeRow{val: 2}}, OutcomeQueryFailure},
		{"close error", &fakeConn{row: fakeRow{val: 1}, closeErr: errors.New("broken pipe")}, OutcomeCloseFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := proberWithConn(t, tt.conn).Probe(context.Background())
			if res.Outcome != tt.outcome {
				t.Errorf("outcome = %s, want %s (err=%v)", res.Outcome, tt.outcome, res.Err)
			}
			if tt.conn.closed != 1 {
				t.Errorf("Close called %d times, want 1", tt.conn.closed)
			}
		})
	}
}

func TestProbeConnectErrorNotClosed(t *testing.T) {
	p := newProber(t, config.Database{Host: "db", Port: 5432, Name: "dev_db", User: "dev", SSLMode: "disable"})
	p.connect = func(context.Context, *pgx.ConnConfig) (conn, error) { return nil, errors.New("dial tcp: connection refused") }

	res := p.Probe(context.Background())
	if res.Outcome != OutcomeConnectFailure {
		t.Errorf("outcome = %s, want connect_failure", res.Outcome)
	}
	if p.Reachable(context.Background()) {
		t.Error("Reachable returned true on connect error")
	}
}

func TestProbeAppliesConnectTimeout(t *testing.T) {
	p := newProber(t, config.Database{Host: "db", Port: 5432, Name: "dev_db", User: "dev", SSLMode: "disable", ConnectTimeout: 2 * time.Second})
	var got *pgx.ConnConfig
	p.connect = func(_ context.Context, cfg *pgx.ConnConfig) (conn, error) {
		got = cfg
		return nil, errors.New("stop")
	}
	p.Probe(context.Background())

	if got == nil {
		t.Fatal("connect not called")
	}
	if got.ConnectTimeout != 2*time.Second {
		t.Errorf("ConnectTimeout = %v, want 2s", got.ConnectTimeout)
	}
	if got.Host != "db" || got.Port != 5432 || got.Database != "dev_db" || got.User != "dev" {
		t.Errorf("unexpected connection target: %s:%d/%s as %s", got.Host, got.Port, got.Database, got.User)
	}
}

func TestNewProberRejectsInvalidConfig(t *testing.T) {
	if _, err := NewProber(config.Database{Host: "db", Port: 5432, SSLMode: "sometimes"}); err == nil {
		t.Error("expected error for invalid sslmode")
	}
}

func TestProbeRealPostgres(t *testing.T) {
	p := newProber(t, pgtest.PostgresDatabase(t))
	if res := p.Probe(context.Background()); !res.Reachable() {
		t.Fatalf("expected real postgres reachable, got %s: %v", res.Outcome, res.Err)
	}
}
