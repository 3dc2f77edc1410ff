package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/okian/stresstrack/internal/domain/model"
	"github.com/okian/stresstrack/pkg/logger"
)

// missingKeyMessage is the wire text clients match on.
const missingKeyMessage = "Website and date are required"

// TrackHandler handles behavior uploads.
type TrackHandler struct {
	deps         Dependencies
	maxBodyBytes int64
	logger       logger.Logger
}

// NewTrackHandler creates a new track handler.
func NewTrackHandler(deps Dependencies, maxBodyBytes int64, l logger.Logger) *TrackHandler {
	return &TrackHandler{deps: deps, maxBodyBytes: maxBodyBytes, logger: l}
}

// HandleTrack handles POST /api/track requests.
func (h *TrackHandler) HandleTrack(w http.ResponseWriter, r *http.Request) {
	const op = "api.track"
	ctx := r.Context()

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	var rec model.BehaviorRecord
	// An empty body decodes to the zero record and fails key validation below.
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil && !errors.Is(err, io.EOF) {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeFailure(w, http.StatusRequestEntityTooLarge, NewKind(op, ErrTooLarge).Error())
			return
		}
		writeFailure(w, http.StatusBadRequest, WrapKind(op, ErrBadRequest, err).Error())
		return
	}

	batchID := strings.TrimSpace(r.Header.Get(BatchIDHeader))
	doc, duplicate, err := h.deps.Track(ctx, batchID, rec)
	switch {
	case errors.Is(err, model.ErrMissingKey):
		writeFailure(w, http.StatusBadRequest, missingKeyMessage)
		return
	case errors.Is(err, model.ErrInvalidRecord):
		writeFailure(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		h.logger.Error(ctx, "track failed", logger.String("website", rec.Website), logger.String("date", rec.Date), logger.Error(err))
		writeFailure(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, trackResponse{Success: true, Data: doc, Duplicate: duplicate})
}
