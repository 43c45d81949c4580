package api

import (
	"time"

	"github.com/mattjoyce/exert/internal/wire"
)

// RoutineResponse is returned by POST /routines.
type RoutineResponse struct {
	Status  string       `json:"status"`
	Faults  []string     `json:"faults,omitempty"`
	Routine wire.Routine `json:"routine"`
}

// LedgerEntry is one row of GET /ledger.
type LedgerEntry struct {
	ID         string    `json:"id"`
	RoutineID  string    `json:"routine_id"`
	Routine    string    `json:"routine"`
	Kind       string    `json:"kind"`
	Status     string    `json:"status"`
	Faults     []string  `json:"faults,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	DurationMS int64     `json:"duration_ms"`
}

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Provider      string `json:"provider,omitempty"`
	Operations    int    `json:"operations"`
	Deployments   int    `json:"deployments"`
	InFlight      int    `json:"in_flight"`
}
