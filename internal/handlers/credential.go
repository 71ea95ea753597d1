package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/spendlens/spendlens-api/internal/authz"
	"github.com/spendlens/spendlens-api/internal/secrets"
)

// maxCredentialSize bounds the accepted secret payload.
const maxCredentialSize = 64 * 1024

type CredentialHandler struct {
	store  *secrets.Store
	logger zerolog.Logger
}

func NewCredentialHandler(store *secrets.Store, logger zerolog.Logger) *CredentialHandler {
	return &CredentialHandler{
		store:  store,
		logger: logger.With().Str("component", "credential_handler").Logger(),
	}
}

// SetCredential stores (or rotates) the tenant's credential for a provider.
// The body is the raw secret material, stored encrypted; the response only
// ever carries the fingerprint.
func (h *CredentialHandler) SetCredential(w http.ResponseWriter, r *http.Request) {
	tid, ok := authz.TenantIDFromRequest(r)
	if !ok {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}
	provider := mux.Vars(r)["provider"]

	plaintext, err := io.ReadAll(io.LimitReader(r.Body, maxCredentialSize+1))
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}
	if len(plaintext) == 0 {
		http.Error(w, "credential payload is empty", http.StatusBadRequest)
		return
	}
	if len(plaintext) > maxCredentialSize {
		http.Error(w, "credential payload too large", http.StatusRequestEntityTooLarge)
		return
	}
	if !json.Valid(plaintext) {
		http.Error(w, "credential payload must be valid JSON", http.StatusBadRequest)
		return
	}

	cred, err := h.store.Set(r.Context(), tid, provider, plaintext)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, cred)
}

// ListCredentials returns credential records without ciphertext or plaintext.
func (h *CredentialHandler) ListCredentials(w http.ResponseWriter, r *http.Request) {
	tid, ok := authz.TenantIDFromRequest(r)
	if !ok {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}
	creds, err := h.store.List(r.Context(), tid)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, creds)
}

func (h *CredentialHandler) RevokeCredential(w http.ResponseWriter, r *http.Request) {
	tid, ok := authz.TenantIDFromRequest(r)
	if !ok {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}
	if err := h.store.Revoke(r.Context(), tid, mux.Vars(r)["provider"]); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
