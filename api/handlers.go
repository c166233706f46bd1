/*
handlers.go - HTTP handler implementations

PURPOSE:
  Handlers for the operational API: completion injection (queued onto the
  ingest bus), the reconciliation batch entry point, and read endpoints for
  rank and ledger state.

ERROR MAPPING:
  ranking.IsClientError -> 400 / 404 / 409
  ranking.IsRetryable   -> 503 (caller retries)
  everything else       -> 500

SEE ALSO:
  - server.go: Route wiring
  - ingest/bus.go: Async completion processing
  - reconcile/job.go: The batch job behind /reconciliation/run
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/warp/rank-engine/ingest"
	"github.com/warp/rank-engine/ranking"
	"github.com/warp/rank-engine/reconcile"
	"github.com/warp/rank-engine/store/sqlite"
)

// Handler holds dependencies for all API endpoints.
type Handler struct {
	Store *sqlite.Store
	Bus   *ingest.Bus
	Job   *reconcile.Job
}

func NewHandler(store *sqlite.Store, bus *ingest.Bus, job *reconcile.Job) *Handler {
	return &Handler{Store: store, Bus: bus, Job: job}
}

// Health reports liveness.
// GET /api/health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// SubmitCompletion queues a finalized quiz completion for ingestion.
// POST /api/completions
//
// Accepted (202) means queued, not processed; the ingest bus owns the
// atomic unit of work. Validation that doesn't need the store happens
// here so obviously malformed events are rejected synchronously.
func (h *Handler) SubmitCompletion(w http.ResponseWriter, r *http.Request) {
	var evt ingest.QuizCompleted
	if err := json.NewDecoder(r.Body).Decode(&evt); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	if evt.ID == "" || evt.UserID == "" || evt.BasePoints < 0 || evt.BonusPoints < 0 {
		writeError(w, http.StatusBadRequest, "invalid completion record", ranking.ErrInvalidCompletion)
		return
	}

	if !h.Bus.Publish(evt) {
		writeError(w, http.StatusServiceUnavailable, "ingestion is shut down", nil)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{"queued": true, "id": evt.ID})
}

// RunReconciliation executes the batch job synchronously and returns the
// full report.
// POST /api/reconciliation/run
func (h *Handler) RunReconciliation(w http.ResponseWriter, r *http.Request) {
	var req ReconcileRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body", err)
			return
		}
	}

	opts := reconcile.Options{
		UserID: ranking.UserID(req.UserID),
		Policy: reconcile.SkipIfPresent,
	}
	if req.Force {
		opts.Policy = reconcile.ForceRebuild
	}

	report, err := h.Job.Run(r.Context(), opts)
	if err != nil {
		switch {
		case errors.Is(err, ranking.ErrEmptyRankTable):
			writeError(w, http.StatusConflict, "no ranks configured", err)
		case ranking.IsNotFound(err):
			writeError(w, http.StatusNotFound, "user not found", err)
		default:
			writeError(w, http.StatusInternalServerError, "reconciliation failed", err)
		}
		return
	}

	writeJSON(w, http.StatusOK, report)
}

// ListReconciliationRuns returns recent batch runs, newest first.
// GET /api/reconciliation/runs
func (h *Handler) ListReconciliationRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.Store.ListReconciliationRuns(r.Context(), 50)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list runs", err)
		return
	}
	if runs == nil {
		runs = []sqlite.ReconciliationRun{}
	}
	writeJSON(w, http.StatusOK, runs)
}

// GetUserRank returns the user's current rank and lifetime total.
// GET /api/users/{id}/rank
func (h *Handler) GetUserRank(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := ranking.UserID(chi.URLParam(r, "id"))

	user, err := h.Store.GetUser(ctx, userID)
	if err != nil {
		if ranking.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "user not found", err)
		} else {
			writeError(w, http.StatusInternalServerError, "failed to load user", err)
		}
		return
	}

	total, err := h.Store.LifetimeTotal(ctx, userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to compute total", err)
		return
	}

	dto := UserRankDTO{
		UserID:        string(user.ID),
		LifetimeTotal: total.String(),
	}
	if user.RankID != "" {
		table, err := h.Store.RankTable(ctx)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to load ranks", err)
			return
		}
		if rank, ok := table.ByID(user.RankID); ok {
			rdto := toRankDTO(rank)
			dto.Rank = &rdto
		}
	}

	writeJSON(w, http.StatusOK, dto)
}

// GetUserLedger returns the user's ledger rows, oldest period first.
// GET /api/users/{id}/ledger
func (h *Handler) GetUserLedger(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := ranking.UserID(chi.URLParam(r, "id"))

	if _, err := h.Store.GetUser(ctx, userID); err != nil {
		if ranking.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "user not found", err)
		} else {
			writeError(w, http.StatusInternalServerError, "failed to load user", err)
		}
		return
	}

	entries, err := h.Store.Entries(ctx, userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load ledger", err)
		return
	}

	dtos := make([]LedgerEntryDTO, 0, len(entries))
	for _, e := range entries {
		dtos = append(dtos, toLedgerEntryDTO(e))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ListRanks returns the configured rank table, ordered by level.
// GET /api/ranks
func (h *Handler) ListRanks(w http.ResponseWriter, r *http.Request) {
	table, err := h.Store.RankTable(r.Context())
	if err != nil {
		if errors.Is(err, ranking.ErrEmptyRankTable) {
			writeJSON(w, http.StatusOK, []RankDTO{})
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load ranks", err)
		return
	}

	dtos := make([]RankDTO, 0, table.Len())
	for _, rank := range table.Ranks() {
		dtos = append(dtos, toRankDTO(rank))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetRankDistribution returns users-per-tier counts, ordered by level.
// GET /api/ranks/distribution
func (h *Handler) GetRankDistribution(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	table, err := h.Store.RankTable(ctx)
	if err != nil {
		if errors.Is(err, ranking.ErrEmptyRankTable) {
			writeJSON(w, http.StatusOK, DistributionDTO{Ranks: []RankCountDTO{}})
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load ranks", err)
		return
	}

	counts, err := h.Store.CountUsersByRank(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to count users", err)
		return
	}

	dto := DistributionDTO{Ranks: make([]RankCountDTO, 0, table.Len())}
	for _, rank := range table.Ranks() {
		n := counts[rank.ID]
		dto.Ranks = append(dto.Ranks, RankCountDTO{RankDTO: toRankDTO(rank), Users: n})
		dto.Total += n
	}
	writeJSON(w, http.StatusOK, dto)
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
