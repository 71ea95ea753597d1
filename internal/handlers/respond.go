package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/spendlens/spendlens-api/internal/apperr"
	"github.com/spendlens/spendlens-api/internal/repository"
)

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

// writeError maps an error to its HTTP status and a structured body. Engine
// error kinds surface as-is; repository misses become 404; anything else is
// a 500 with a generic message.
func writeError(w http.ResponseWriter, err error) {
	if kind, ok := apperr.KindOf(err); ok {
		writeJSON(w, apperr.HTTPStatus(kind), map[string]string{
			"error":   string(kind),
			"message": err.Error(),
		})
		return
	}
	if err == repository.ErrNotFound {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error":   "not_found",
			"message": "resource not found",
		})
		return
	}
	writeJSON(w, http.StatusInternalServerError, map[string]string{
		"error":   "internal_error",
		"message": "internal server error",
	})
}
