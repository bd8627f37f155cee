package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"recall-backend/internal/middleware"
	"recall-backend/internal/models"
)

type settingsRepository interface {
	GetSettings(ctx context.Context, learnerID uuid.UUID) (*models.LearnerSettings, error)
	UpsertSettings(ctx context.Context, s *models.LearnerSettings) error
}

type SettingsHandler struct {
	repo settingsRepository
}

func NewSettingsHandler(repo settingsRepository) *SettingsHandler {
	return &SettingsHandler{repo: repo}
}

func (h *SettingsHandler) GetGoals(w http.ResponseWriter, r *http.Request) {
	settings, err := h.repo.GetSettings(r.Context(), middleware.GetLearnerID(r.Context()))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, settings.Goals)
}

// UpdateGoals replaces all three weekly targets. A zero target disables
// that goal.
func (h *SettingsHandler) UpdateGoals(w http.ResponseWriter, r *http.Request) {
	var goals models.WeeklyGoals
	if !decodeJSON(w, r, &goals) {
		return
	}

	settings, err := h.repo.GetSettings(r.Context(), middleware.GetLearnerID(r.Context()))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	settings.Goals = goals
	settings.UpdatedAt = time.Now().UTC()

	if err := h.repo.UpsertSettings(r.Context(), settings); err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, settings.Goals)
}

func (h *SettingsHandler) Get(w http.ResponseWriter, r *http.Request) {
	settings, err := h.repo.GetSettings(r.Context(), middleware.GetLearnerID(r.Context()))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

// Update applies a partial settings change.
func (h *SettingsHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req models.UpdateSettingsRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	settings, err := h.repo.GetSettings(r.Context(), middleware.GetLearnerID(r.Context()))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	if req.Goals != nil {
		settings.Goals = *req.Goals
	}
	if req.Email != nil {
		email := strings.TrimSpace(*req.Email)
		if email == "" {
			settings.Email = nil
		} else {
			settings.Email = &email
		}
	}
	if req.RemindersEnabled != nil {
		settings.RemindersEnabled = *req.RemindersEnabled
	}
	settings.UpdatedAt = time.Now().UTC()

	if err := h.repo.UpsertSettings(r.Context(), settings); err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}
