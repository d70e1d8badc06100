package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
)

// Message is the fixed greeting returned by the root endpoint.
const Message = "DevOps Platform Demo App"

// Prober reports whether the backing database can currently be reached.
// Implementations must not block forever and must never panic on database errors.
type Prober interface {
	Reachable(ctx context.Context) bool
}

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	prober Prober
}

// NewHandlers creates a new Handlers instance with the given dependencies.
func NewHandlers(prober Prober) *Handlers {
	return &Handlers{prober: prober}
}

// writeJSON encodes v with the given status. Headers are set before the status is written.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("write response failed", slog.Any("err", err), slog.String("component", "http"))
	}
}
