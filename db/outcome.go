package db

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// Outcome is how a single connectivity attempt ended.
type Outcome int

const (
	// OutcomeSuccess means connect, query and close all succeeded.
	OutcomeSuccess Outcome = iota
	// OutcomeConnectFailure covers refused connections, DNS errors and protocol errors during startup.
	OutcomeConnectFailure
	// OutcomeAuthFailure means the server rejected the credentials (SQLSTATE class 28).
	OutcomeAuthFailure
	// OutcomeTimeout means the connect timeout or the probe deadline expired.
	OutcomeTimeout
	// OutcomeQueryFailure means the connection was established but SELECT 1 failed.
	OutcomeQueryFailure
	// OutcomeCloseFailure means the query succeeded but the connection did not close cleanly.
	OutcomeCloseFailure
)

// String returns the label used in logs and metrics.
func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeConnectFailure:
		return "connect_failure"
	case OutcomeAuthFailure:
		return "auth_failure"
	case OutcomeTimeout:
		return "timeout"
	case OutcomeQueryFailure:
		return "query_failure"
	case OutcomeCloseFailure:
		return "close_failure"
	default:
		return "unknown"
	}
}

// step is the phase of the attempt an error came from.
type step int

const (
	stepConnect step = iota
	stepQuery
	stepClose
)

// classify maps an error from the given step to an Outcome.
// Timeouts win over the step, and auth errors are only recognised while connecting.
func classify(s step, err error) Outcome {
	if err == nil {
		return OutcomeSuccess
	}
	if isTimeout(err) {
		return OutcomeTimeout
	}
	switch s {
	case stepConnect:
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && strings.HasPrefix(pgErr.Code, "28") {
			return OutcomeAuthFailure
		}
		return OutcomeConnectFailure
	case stepQuery:
		return OutcomeQueryFailure
	default:
		return OutcomeCloseFailure
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
