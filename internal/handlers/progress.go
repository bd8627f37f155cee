package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"recall-backend/internal/middleware"
	"recall-backend/internal/models"
)

type progressReader interface {
	Get(ctx context.Context, learnerID uuid.UUID) (*models.LearnerProgress, error)
	Rebuild(ctx context.Context, learnerID uuid.UUID) (*models.LearnerProgress, error)
}

type ProgressHandler struct {
	progress progressReader
}

func NewProgressHandler(progress progressReader) *ProgressHandler {
	return &ProgressHandler{progress: progress}
}

func (h *ProgressHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, err := h.progress.Get(r.Context(), middleware.GetLearnerID(r.Context()))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// Rebuild discards the cached aggregates and recomputes them from the
// grade log.
func (h *ProgressHandler) Rebuild(w http.ResponseWriter, r *http.Request) {
	p, err := h.progress.Rebuild(r.Context(), middleware.GetLearnerID(r.Context()))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}
