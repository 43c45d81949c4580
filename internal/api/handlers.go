package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/exert/internal/dispatch"
	"github.com/mattjoyce/exert/internal/fault"
	"github.com/mattjoyce/exert/internal/transport"
	"github.com/mattjoyce/exert/internal/wire"
)

const maxBodyBytes = 8 << 20

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		InFlight:      len(s.semaphore),
	}
	if s.provider != nil {
		resp.Provider = s.provider.Name()
		resp.Operations = len(s.provider.Operations())
		resp.Deployments = len(s.provider.DeploymentIDs())
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleExert handles POST /exert/{type}/{selector}: one remote exertion
// served by this node's provider.
func (s *Server) handleExert(w http.ResponseWriter, r *http.Request) {
	if s.provider == nil {
		s.writeError(w, http.StatusNotFound, "this node serves no provider")
		return
	}
	req, err := wire.DecodeRequest(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Signature.Type != chi.URLParam(r, "type") || req.Signature.Selector != chi.URLParam(r, "selector") {
		s.writeError(w, http.StatusBadRequest, "signature does not match request path")
		return
	}
	principal, err := base64.StdEncoding.DecodeString(r.Header.Get(transport.PrincipalHeader))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid "+transport.PrincipalHeader+" header")
		return
	}

	release, ok := s.acquire()
	if !ok {
		s.writeError(w, http.StatusServiceUnavailable, "too many concurrent exertions")
		return
	}
	defer release()

	resp := s.provider.Exert(r.Context(), &dispatch.Request{
		RoutineID: req.RoutineID,
		Routine:   req.Routine,
		Signature: req.Signature,
		Context:   req.Context,
		Txn:       req.Txn,
		Principal: principal,
	})
	w.Header().Set("Content-Type", "application/json")
	if err := wire.EncodeResponse(w, resp); err != nil {
		s.logger.Error("failed to encode exert response", "routine", req.Routine, "error", err)
	}
}

// handleProvision handles POST /provision.
func (s *Server) handleProvision(w http.ResponseWriter, r *http.Request) {
	if s.provider == nil {
		s.writeError(w, http.StatusNotFound, "this node serves no provider")
		return
	}
	var req wire.ProvisionRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid provision request: "+err.Error())
		return
	}
	if err := s.provider.Provision(r.Context(), req.DeploymentID, req.Deployments); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleRoutine handles POST /routines: a whole routine tree exerted on
// this node. Business faults answer 200 with the FAILED tree.
func (s *Server) handleRoutine(w http.ResponseWriter, r *http.Request) {
	if s.exerter == nil {
		s.writeError(w, http.StatusNotFound, "routine submission is disabled")
		return
	}
	var body wire.Routine
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid routine: "+err.Error())
		return
	}
	rt, err := wire.DecodeRoutine(s.gen, body, false)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	release, ok := s.acquire()
	if !ok {
		s.writeError(w, http.StatusServiceUnavailable, "too many concurrent exertions")
		return
	}
	defer release()

	ctx, cancel := context.WithTimeout(r.Context(), s.config.MaxExertTimeout)
	defer cancel()
	_, exertErr := s.exerter.Exert(ctx, rt)

	out, err := wire.EncodeRoutine(rt)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "encode result: "+err.Error())
		return
	}
	resp := RoutineResponse{Status: rt.Status().String(), Routine: out}
	if exertErr != nil {
		var rf *fault.RoutineFault
		if errors.As(exertErr, &rf) {
			for _, f := range rf.Trace() {
				resp.Faults = append(resp.Faults, f.Error())
			}
		}
		if len(resp.Faults) == 0 {
			resp.Faults = []string{exertErr.Error()}
		}
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleLedger handles GET /ledger?routine=<name>&limit=<n>.
func (s *Server) handleLedger(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		s.writeError(w, http.StatusNotFound, "ledger is disabled")
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	entries, err := s.ledger.Recent(r.Context(), r.URL.Query().Get("routine"), limit)
	if err != nil {
		s.logger.Error("failed to read ledger", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to read ledger")
		return
	}
	out := make([]LedgerEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, LedgerEntry{
			ID:         e.ID,
			RoutineID:  e.RoutineID,
			Routine:    e.Routine,
			Kind:       string(e.Kind),
			Status:     e.Status.String(),
			Faults:     e.Faults,
			StartedAt:  e.StartedAt,
			DurationMS: e.Duration.Milliseconds(),
		})
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	var ops []string
	if s.provider != nil {
		ops = s.provider.Operations()
	}
	respondJSON(w, http.StatusOK, buildOpenAPIDoc(ops))
}

// acquire takes a concurrency slot without waiting.
func (s *Server) acquire() (func(), bool) {
	select {
	case s.semaphore <- struct{}{}:
		return func() { <-s.semaphore }, true
	default:
		return nil, false
	}
}

func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
