package handlers

import "net/http"

// HealthCheck reports liveness. It sits outside the authenticated API tree
// and carries no tenant state.
func HealthCheck(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "spendlens-api",
	})
}
