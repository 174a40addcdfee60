package handlers

import (
	"errors"
	"net/http"

	"doodle-sync-backend/internal/repository"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// DrawingHandler serves one-shot drawing lookups for cold-start deep
// links; the live exchange runs over the WebSocket session.
type DrawingHandler struct {
	store repository.Store
}

// NewDrawingHandler creates a new drawing handler
func NewDrawingHandler(store repository.Store) *DrawingHandler {
	return &DrawingHandler{store: store}
}

// GetDrawing handles GET /api/v1/drawings/{drawing_id}
func (h *DrawingHandler) GetDrawing(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	drawingID := chi.URLParam(r, "drawing_id")
	if drawingID == "" {
		respondError(w, "drawing_id is required", http.StatusBadRequest)
		return
	}

	rec, err := h.store.GetDrawing(ctx, drawingID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			respondError(w, "drawing not found", http.StatusNotFound)
			return
		}
		log.Error().Err(err).Str("drawing_id", drawingID).Msg("Failed to get drawing")
		respondError(w, "failed to get drawing", http.StatusInternalServerError)
		return
	}

	respondJSON(w, rec, http.StatusOK)
}
