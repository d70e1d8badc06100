// Package db checks whether the configured Postgres database can be reached.
//
// A Prober performs one connectivity attempt per call: it opens a dedicated connection,
// runs SELECT 1 and closes the connection again. Nothing is pooled or cached between calls,
// so every probe reflects the database state at the time of the request.
package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/onnwee/demo-app/config"
	"github.com/onnwee/demo-app/telemetry"
)

// closeTimeout bounds sending Terminate, even when the probe deadline already expired.
const closeTimeout = time.Second

// Result describes one connectivity attempt.
type Result struct {
	Outcome  Outcome
	Err      error
	Duration time.Duration
}

// Reachable reports whether connect, query and close all succeeded.
func (r Result) Reachable() bool { return r.Outcome == OutcomeSuccess }

// conn is the subset of *pgx.Conn a probe uses.
type conn interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close(ctx context.Context) error
}

type connectFunc func(ctx context.Context, cfg *pgx.ConnConfig) (conn, error)

func pgxConnect(ctx context.Context, cfg *pgx.ConnConfig) (conn, error) {
	c, err := pgx.ConnectConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Prober checks database reachability. It is safe for concurrent use; each call owns its connection.
type Prober struct {
	cfg     config.Database
	connCfg *pgx.ConnConfig
	connect connectFunc
}

// NewProber validates the connection parameters and returns a Prober for them.
func NewProber(cfg config.Database) (*Prober, error) {
	connCfg, err := pgx.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	connCfg.ConnectTimeout = cfg.ConnectTimeout
	// One round trip per query and no statement cache on a connection that is discarded right after.
	connCfg.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol
	return &Prober{cfg: cfg, connCfg: connCfg, connect: pgxConnect}, nil
}

// Reachable runs one probe and collapses the result to a boolean. It never returns an error.
func (p *Prober) Reachable(ctx context.Context) bool {
	return p.Probe(ctx).Reachable()
}

// Probe runs one connect/query/close attempt, records metrics and a span, and returns the outcome.
func (p *Prober) Probe(ctx context.Context) Result {
	start := time.Now()
	ctx, span := telemetry.StartSpan(ctx, "db", "db.probe", telemetry.DBAttrs(p.cfg.Host, p.cfg.Port, p.cfg.Name)...)
	defer span.End()

	if p.cfg.ProbeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.ProbeTimeout)
		defer cancel()
	}

	res := p.attempt(ctx)
	res.Duration = time.Since(start)

	telemetry.RecordProbe(res.Outcome.String(), res.Reachable(), res.Duration)
	logger := telemetry.LoggerWithCorr(ctx).With(
		slog.String("component", "db_probe"),
		slog.String("db", p.cfg.String()),
		slog.String("outcome", res.Outcome.String()),
		slog.Duration("duration", res.Duration),
	)
	if res.Reachable() {
		telemetry.SetSpanSuccess(span)
		logger.Debug("db probe succeeded")
	} else {
		telemetry.RecordError(span, res.Err)
		logger.Debug("db probe failed", slog.Any("err", res.Err))
	}
	return res
}

func (p *Prober) attempt(ctx context.Context) Result {
	c, err := p.connect(ctx, p.connCfg.Copy())
	if err != nil {
		return failure(ctx, stepConnect, fmt.Errorf("connect %s: %w", p.cfg.Addr(), err))
	}

	var one int
	if err := c.QueryRow(ctx, "SELECT 1").Scan(&one); err != nil {
		_ = closeConn(ctx, c)
		return failure(ctx, stepQuery, fmt.Errorf("select 1: %w", err))
	}
	if one != 1 {
		_ = closeConn(ctx, c)
		return failure(ctx, stepQuery, fmt.Errorf("select 1: unexpected result %d", one))
	}

	if err := closeConn(ctx, c); err != nil {
		return failure(ctx, stepClose, fmt.Errorf("close: %w", err))
	}
	return Result{Outcome: OutcomeSuccess}
}

// closeConn closes c on a context detached from ctx's cancellation so the
// connection is released even after the probe deadline passed.
func closeConn(ctx context.Context, c conn) error {
	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
	defer cancel()
	return c.Close(closeCtx)
}

func failure(ctx context.Context, s step, err error) Result {
	outcome := classify(s, err)
	if outcome != OutcomeTimeout && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		outcome = OutcomeTimeout
	}
	return Result{Outcome: outcome, Err: err}
}
