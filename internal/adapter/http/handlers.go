package http

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/forgeline/forgeline/internal/domain/change"
	"github.com/forgeline/forgeline/internal/port/database"
	"github.com/forgeline/forgeline/internal/service"
)

const defaultListLimit = 50

// Handlers holds the dependencies for the review API. The API is read-mostly:
// changes are produced by the pipeline, humans only inspect and decide.
type Handlers struct {
	store     database.Store
	approvals *service.ApprovalService
	budget    *service.BudgetService
	agents    []string
}

// NewHandlers creates the HTTP handler set. agents is the list of known
// agent names shown in the budget overview.
func NewHandlers(store database.Store, approvals *service.ApprovalService, budget *service.BudgetService, agents []string) *Handlers {
	return &Handlers{store: store, approvals: approvals, budget: budget, agents: agents}
}

// Health reports liveness.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ListChanges returns recent code changes, optionally filtered by status.
func (h *Handlers) ListChanges(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")

	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	changes, err := h.store.ListChanges(r.Context(), change.Status(status), limit)
	if err != nil {
		writeDomainError(w, err, "changes not found")
		return
	}
	writeJSON(w, http.StatusOK, changes)
}

// GetChange returns one code change by id.
func (h *Handlers) GetChange(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	c, err := h.store.GetChange(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "change not found")
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// ListTraceEvents returns the execution event stream for one trace, oldest
// first.
func (h *Handlers) ListTraceEvents(w http.ResponseWriter, r *http.Request) {
	traceID := chi.URLParam(r, "traceID")
	events, err := h.store.ListEvents(r.Context(), traceID)
	if err != nil {
		writeDomainError(w, err, "events not found")
		return
	}
	writeJSON(w, http.StatusOK, events)
}

type decisionRequest struct {
	DecidedBy string `json:"decided_by"`
}

// ApproveChange records a human approval on a pending change.
func (h *Handlers) ApproveChange(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	req, ok := readJSON[decisionRequest](w, r)
	if !ok {
		return
	}
	if !requireField(w, req.DecidedBy, "decided_by") {
		return
	}

	c, err := h.approvals.Approve(r.Context(), id, req.DecidedBy)
	if err != nil {
		writeDomainError(w, err, "change not found")
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// RejectChange records a human rejection on a pending change.
func (h *Handlers) RejectChange(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	req, ok := readJSON[decisionRequest](w, r)
	if !ok {
		return
	}
	if !requireField(w, req.DecidedBy, "decided_by") {
		return
	}

	c, err := h.approvals.Reject(r.Context(), id, req.DecidedBy)
	if err != nil {
		writeDomainError(w, err, "change not found")
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// BudgetOverview returns current-period token usage per agent and globally.
func (h *Handlers) BudgetOverview(w http.ResponseWriter, r *http.Request) {
	overview, err := h.budget.Overview(r.Context(), h.agents)
	if err != nil {
		writeDomainError(w, err, "budget not found")
		return
	}
	writeJSON(w, http.StatusOK, overview)
}
