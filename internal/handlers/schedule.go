package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/spendlens/spendlens-api/internal/authz"
	"github.com/spendlens/spendlens-api/internal/models"
	"github.com/spendlens/spendlens-api/internal/processor"
	"github.com/spendlens/spendlens-api/internal/repository"
)

type ScheduleHandler struct {
	repo     repository.ScheduleRepository
	registry *processor.Registry
	logger   zerolog.Logger
}

func NewScheduleHandler(repo repository.ScheduleRepository, registry *processor.Registry, logger zerolog.Logger) *ScheduleHandler {
	return &ScheduleHandler{
		repo:     repo,
		registry: registry,
		logger:   logger.With().Str("component", "schedule_handler").Logger(),
	}
}

// CreateSchedule registers a recurring trigger for a catalog job. The first
// run fires at next_run_at (defaulting to now) and advances by the frequency
// interval on every claim.
func (h *ScheduleHandler) CreateSchedule(w http.ResponseWriter, r *http.Request) {
	tid, ok := authz.TenantIDFromRequest(r)
	if !ok {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}

	var payload struct {
		Provider  string     `json:"provider"`
		Domain    string     `json:"domain"`
		JobName   string     `json:"job_name"`
		Frequency string     `json:"frequency"`
		NextRunAt *time.Time `json:"next_run_at"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid request payload", http.StatusBadRequest)
		return
	}

	frequency := models.ScheduleFrequency(payload.Frequency)
	if frequency != models.FrequencyHourly && frequency != models.FrequencyDaily {
		http.Error(w, "frequency must be hourly or daily", http.StatusBadRequest)
		return
	}
	job := models.JobKey{Provider: payload.Provider, Domain: payload.Domain, Name: payload.JobName}
	if _, _, err := h.registry.Resolve(job); err != nil {
		writeError(w, err)
		return
	}

	nextRun := time.Now()
	if payload.NextRunAt != nil {
		nextRun = *payload.NextRunAt
	}
	schedule, err := h.repo.Create(r.Context(), models.Schedule{
		TenantID:  tid,
		Provider:  job.Provider,
		Domain:    job.Domain,
		JobName:   job.Name,
		Frequency: frequency,
		Enabled:   true,
		NextRunAt: nextRun,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, schedule)
}

func (h *ScheduleHandler) ListSchedules(w http.ResponseWriter, r *http.Request) {
	tid, ok := authz.TenantIDFromRequest(r)
	if !ok {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}
	schedules, err := h.repo.List(r.Context(), tid)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, schedules)
}

// UpdateSchedule toggles a schedule on or off. Disabling does not touch runs
// already admitted.
func (h *ScheduleHandler) UpdateSchedule(w http.ResponseWriter, r *http.Request) {
	tid, ok := authz.TenantIDFromRequest(r)
	if !ok {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}
	var payload struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid request payload", http.StatusBadRequest)
		return
	}
	if err := h.repo.SetEnabled(r.Context(), tid, mux.Vars(r)["scheduleID"], payload.Enabled); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
