package server

import (
	"context"
	"net/http"
)

// Values of the "db" field.
const (
	DBReachable   = "reachable"
	DBUnreachable = "unreachable"
)

type indexResponse struct {
	Message string `json:"message"`
	DB      string `json:"db"`
}

type healthResponse struct {
	Status string `json:"status"`
}

// HandleIndex reports the service message and probes the database on every request.
// It always answers 200; an unreachable database only changes the "db" field.
func (h *Handlers) HandleIndex(w http.ResponseWriter, r *http.Request) {
	// A client hanging up does not abort the probe; the probe deadline bounds it instead.
	ctx := context.WithoutCancel(r.Context())

	status := DBUnreachable
	if h.prober.Reachable(ctx) {
		status = DBReachable
	}
	writeJSON(w, http.StatusOK, indexResponse{Message: Message, DB: status})
}

// HandleHealth responds to liveness probe requests. It never touches the database.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}
