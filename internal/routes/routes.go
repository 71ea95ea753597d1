package routes

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/spendlens/spendlens-api/internal/authz"
	"github.com/spendlens/spendlens-api/internal/handlers"
)

// NewRouter sets up the API routes. Everything under /api requires an
// authenticated tenant; /health is public.
func NewRouter(
	auth *authz.Authenticator,
	run *handlers.RunHandler,
	cred *handlers.CredentialHandler,
	job *handlers.JobHandler,
	schedule *handlers.ScheduleHandler,
	notif *handlers.NotificationHandler,
) *mux.Router {
	router := mux.NewRouter()

	// Health check route
	router.HandleFunc("/health", handlers.HealthCheck).Methods(http.MethodGet)

	api := router.PathPrefix("/api").Subrouter()
	api.Use(auth.Middleware)

	api.HandleFunc("/run/{provider}/{domain}/{job}", run.TriggerRun).Methods(http.MethodPost)

	// /runs/stats must register before /runs/{runID}.
	api.HandleFunc("/runs/stats", run.GetRunStats).Methods(http.MethodGet)
	api.HandleFunc("/runs/{runID}", run.GetRunStatus).Methods(http.MethodGet)
	api.HandleFunc("/runs/{runID}/cancel", run.CancelRun).Methods(http.MethodPost)
	api.HandleFunc("/runs", run.ListRuns).Methods(http.MethodGet)

	api.HandleFunc("/credentials/{provider}", cred.SetCredential).Methods(http.MethodPost)
	api.HandleFunc("/credentials/{provider}", cred.RevokeCredential).Methods(http.MethodDelete)
	api.HandleFunc("/credentials", cred.ListCredentials).Methods(http.MethodGet)

	api.HandleFunc("/jobs", job.ListJobs).Methods(http.MethodGet)

	api.HandleFunc("/schedules", schedule.CreateSchedule).Methods(http.MethodPost)
	api.HandleFunc("/schedules", schedule.ListSchedules).Methods(http.MethodGet)
	api.HandleFunc("/schedules/{scheduleID}", schedule.UpdateSchedule).Methods(http.MethodPatch)

	api.HandleFunc("/notifications", notif.List).Methods(http.MethodGet)
	api.HandleFunc("/notifications/{notificationID}/read", notif.MarkRead).Methods(http.MethodPost)

	return router
}
