package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/mpy-dev-ml/scopegate/internal/coordinator"
	"github.com/mpy-dev-ml/scopegate/internal/ledger"
	"github.com/mpy-dev-ml/scopegate/internal/queue"
)

// HealthzResponse is the body of GET /healthz.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	QueuePending  int    `json:"queue_pending"`
	ActiveGrants  int    `json:"active_grants"`
}

// QueueResponse is the body of GET /v1/queue.
type QueueResponse struct {
	Counts queue.Counts `json:"counts"`
}

// GrantsResponse is the body of GET /v1/grants.
type GrantsResponse struct {
	Grants []ledger.Grant `json:"grants"`
}

// JournalEntry mirrors journal.Entry with JSON field names.
type JournalEntry struct {
	ID          string    `json:"id"`
	Status      string    `json:"status"`
	Retries     int       `json:"retries"`
	LastError   string    `json:"last_error,omitempty"`
	CompletedAt time.Time `json:"completed_at"`
}

// JournalResponse is the body of GET /v1/journal.
type JournalResponse struct {
	Entries []JournalEntry `json:"entries"`
}

// ErrorResponse is the standard error body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// SubmitRequest is the body of POST /v1/commands.
type SubmitRequest struct {
	Op    string            `json:"op"`
	Args  []string          `json:"args,omitempty"`
	Env   map[string]string `json:"env,omitempty"`
	Paths []string          `json:"paths"`
}

// SubmitResponse is the body of a successful POST /v1/commands.
type SubmitResponse struct {
	CommandID string `json:"command_id"`
	Status    string `json:"status"`
	Retries   int    `json:"retries"`
	Stdout    string `json:"stdout,omitempty"`
}

// handleHealthz handles GET /healthz.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	counts := s.queue.Status()
	resp := HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		QueuePending:  counts.Pending,
		ActiveGrants:  len(s.grants.Grants()),
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleQueue handles GET /v1/queue.
func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, QueueResponse{Counts: s.queue.Status()})
}

// handleGrants handles GET /v1/grants.
func (s *Server) handleGrants(w http.ResponseWriter, r *http.Request) {
	grants := s.grants.Grants()
	if grants == nil {
		grants = []ledger.Grant{}
	}
	respondJSON(w, http.StatusOK, GrantsResponse{Grants: grants})
}

// handleJournal handles GET /v1/journal?limit=N.
func (s *Server) handleJournal(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	entries, err := s.journal.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to read journal", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to read journal")
		return
	}

	resp := JournalResponse{Entries: make([]JournalEntry, 0, len(entries))}
	for _, e := range entries {
		je := JournalEntry{
			ID:          e.ID,
			Status:      e.Status,
			Retries:     e.Retries,
			CompletedAt: e.CompletedAt,
		}
		if e.LastError != nil {
			je.LastError = *e.LastError
		}
		resp.Entries = append(resp.Entries, je)
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleSubmit handles POST /v1/commands. The call is synchronous: it returns
// once the command reaches a terminal state.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Op == "" {
		s.writeError(w, http.StatusBadRequest, "op is required")
		return
	}
	if len(req.Paths) == 0 {
		s.writeError(w, http.StatusBadRequest, "paths is required")
		return
	}

	spec := coordinator.CommandSpec{Op: req.Op, Args: req.Args, Env: req.Env}
	result, err := s.submitter.Submit(r.Context(), spec, req.Paths)
	if err != nil {
		if coordinator.IsAccessDenied(err) {
			s.writeError(w, http.StatusForbidden, err.Error())
			return
		}
		if result.CommandID == "" {
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		// Terminal failure after retries.
		respondJSON(w, http.StatusBadGateway, SubmitResponse{
			CommandID: result.CommandID,
			Status:    string(result.Status),
			Retries:   result.Retries,
		})
		return
	}

	resp := SubmitResponse{
		CommandID: result.CommandID,
		Status:    string(result.Status),
		Retries:   result.Retries,
	}
	if result.Response != nil {
		resp.Stdout = result.Response.Stdout
	}
	respondJSON(w, http.StatusOK, resp)
}

// respondJSON is a helper to write JSON responses
func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
