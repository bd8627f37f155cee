package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"recall-backend/internal/middleware"
	"recall-backend/internal/models"
)

type studySessionRepository interface {
	Start(ctx context.Context, s *models.StudySession) error
	Heartbeat(ctx context.Context, sessionID, learnerID uuid.UUID) error
	Stop(ctx context.Context, sessionID, learnerID uuid.UUID) error
}

// StudySessionHandler records time on task; closed sessions feed the
// weekly minutes goal.
type StudySessionHandler struct {
	repo studySessionRepository
}

func NewStudySessionHandler(repo studySessionRepository) *StudySessionHandler {
	return &StudySessionHandler{repo: repo}
}

func (h *StudySessionHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req models.StartStudySessionRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	session := &models.StudySession{
		LearnerID:    middleware.GetLearnerID(r.Context()),
		ActivityType: req.ActivityType,
		ResourceID:   req.ResourceID,
		ClientMetaJSON: func() json.RawMessage {
			if len(req.ClientMeta) == 0 {
				return json.RawMessage("{}")
			}
			return req.ClientMeta
		}(),
	}

	if err := h.repo.Start(r.Context(), session); err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"session": session,
	})
}

func (h *StudySessionHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := uuidParam(w, r, "id", "session ID")
	if !ok {
		return
	}

	if err := h.repo.Heartbeat(r.Context(), sessionID, middleware.GetLearnerID(r.Context())); err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Heartbeat recorded"})
}

func (h *StudySessionHandler) Stop(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := uuidParam(w, r, "id", "session ID")
	if !ok {
		return
	}

	if err := h.repo.Stop(r.Context(), sessionID, middleware.GetLearnerID(r.Context())); err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Study session stopped"})
}
