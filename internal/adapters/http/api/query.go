package api

import (
	"net/http"

	"github.com/okian/stresstrack/pkg/logger"
)

// QueryHandler serves the stored documents.
type QueryHandler struct {
	deps   Dependencies
	logger logger.Logger
}

// NewQueryHandler creates a new query handler.
func NewQueryHandler(deps Dependencies, l logger.Logger) *QueryHandler {
	return &QueryHandler{deps: deps, logger: l}
}

// HandleGetAll handles GET /api/get-all requests.
func (h *QueryHandler) HandleGetAll(w http.ResponseWriter, r *http.Request) {
	docs, err := h.deps.All(r.Context())
	if err != nil {
		h.logger.Error(r.Context(), "get-all failed", logger.Error(err))
		writeFailure(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Success: true, Data: docs, Total: len(docs)})
}
