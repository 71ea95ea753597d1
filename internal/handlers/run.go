package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/spendlens/spendlens-api/internal/authz"
	"github.com/spendlens/spendlens-api/internal/executor"
	"github.com/spendlens/spendlens-api/internal/models"
)

type RunHandler struct {
	exec   *executor.Executor
	logger zerolog.Logger
}

func NewRunHandler(exec *executor.Executor, logger zerolog.Logger) *RunHandler {
	return &RunHandler{
		exec:   exec,
		logger: logger.With().Str("component", "run_handler").Logger(),
	}
}

// TriggerRun admits and queues a run for the job named in the path. The body
// is an optional map of parameter overrides; defaults from the job catalog
// cover anything omitted. Responds 202 as soon as the run record exists.
func (h *RunHandler) TriggerRun(w http.ResponseWriter, r *http.Request) {
	tid, ok := authz.TenantIDFromRequest(r)
	if !ok {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}
	vars := mux.Vars(r)
	job := models.JobKey{
		Provider: vars["provider"],
		Domain:   vars["domain"],
		Name:     vars["job"],
	}

	var params map[string]string
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
			http.Error(w, "invalid request payload", http.StatusBadRequest)
			return
		}
	}

	run, err := h.exec.Submit(r.Context(), tid, job, params)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"run_id": run.ID,
		"status": string(models.RunPending),
	})
}

func (h *RunHandler) GetRunStatus(w http.ResponseWriter, r *http.Request) {
	tid, ok := authz.TenantIDFromRequest(r)
	if !ok {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}
	run, err := h.exec.Status(r.Context(), tid, mux.Vars(r)["runID"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// CancelRun requests best-effort cancellation. The response reports whether
// the request could still take effect, not whether the run is cancelled yet.
func (h *RunHandler) CancelRun(w http.ResponseWriter, r *http.Request) {
	tid, ok := authz.TenantIDFromRequest(r)
	if !ok {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}
	cancelled, err := h.exec.Cancel(r.Context(), tid, mux.Vars(r)["runID"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": cancelled})
}

func (h *RunHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	tid, ok := authz.TenantIDFromRequest(r)
	if !ok {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}
	limit := 20
	if l := r.URL.Query().Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 {
			limit = v
		}
	}
	runs, err := h.exec.History(r.Context(), tid, r.URL.Query().Get("provider"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (h *RunHandler) GetRunStats(w http.ResponseWriter, r *http.Request) {
	tid, ok := authz.TenantIDFromRequest(r)
	if !ok {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}
	days := 31
	if d := r.URL.Query().Get("days"); d != "" {
		if v, err := strconv.Atoi(d); err == nil && v > 0 {
			days = v
		}
	}
	stats, err := h.exec.Stats(r.Context(), tid, days)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
