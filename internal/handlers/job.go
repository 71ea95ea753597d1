package handlers

import (
	"net/http"
	"sort"

	"github.com/spendlens/spendlens-api/internal/processor"
)

type JobHandler struct {
	registry *processor.Registry
}

func NewJobHandler(registry *processor.Registry) *JobHandler {
	return &JobHandler{registry: registry}
}

// ListJobs returns the job catalog so dashboards can show what can be
// triggered. The catalog is global; tenant-specific state (credentials,
// quota) is checked at submission, not here.
func (h *JobHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	defs := h.registry.Definitions()
	sort.Slice(defs, func(i, j int) bool {
		return defs[i].Key().String() < defs[j].Key().String()
	})
	writeJSON(w, http.StatusOK, defs)
}
