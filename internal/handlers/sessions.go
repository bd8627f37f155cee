package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"recall-backend/internal/apperr"
	"recall-backend/internal/middleware"
	"recall-backend/internal/models"
	"recall-backend/internal/services"
)

type planBuilder interface {
	Build(ctx context.Context, learnerID uuid.UUID, opts services.QueueOptions, now time.Time) (*models.SessionPlan, error)
}

type SessionHandler struct {
	builder  planBuilder
	registry *services.SessionRegistry
	now      func() time.Time
}

func NewSessionHandler(builder planBuilder, registry *services.SessionRegistry) *SessionHandler {
	return &SessionHandler{
		builder:  builder,
		registry: registry,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

type planResponse struct {
	*models.SessionPlan
	Total int `json:"total"`
}

type gradeResponse struct {
	Cursor   int                      `json:"cursor"`
	Total    int                      `json:"total"`
	State    services.SessionState    `json:"state"`
	Replayed bool                     `json:"replayed"`
	Item     models.Item              `json:"item"`
	Event    models.GradeEvent        `json:"event"`
	NextItem *models.PlanEntry        `json:"next_item,omitempty"`
	Summary  *services.SessionSummary `json:"summary,omitempty"`
}

// Queue builds a plan of due items and registers it as an idle session.
// The cap is read from max_items, or maxItems when max_items is absent.
func (h *SessionHandler) Queue(w http.ResponseWriter, r *http.Request) {
	learnerID := middleware.GetLearnerID(r.Context())

	q := r.URL.Query()
	opts := services.QueueOptions{TopicID: q.Get("topic")}
	capParam := "max_items"
	if !q.Has(capParam) && q.Has("maxItems") {
		capParam = "maxItems"
	}
	if raw := q.Get(capParam); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 || n > 500 {
			writeJSON(w, http.StatusBadRequest, errorRespWithFields("VALIDATION_ERROR", "Validation failed",
				map[string]string{capParam: "must be an integer between 0 and 500"}, r))
			return
		}
		opts.MaxItems = n
	}
	if len(opts.TopicID) > 128 {
		writeJSON(w, http.StatusBadRequest, errorRespWithFields("VALIDATION_ERROR", "Validation failed",
			map[string]string{"topic": "max=128"}, r))
		return
	}

	plan, err := h.builder.Build(r.Context(), learnerID, opts, h.now())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if plan.Len() > 0 {
		h.registry.Register(plan)
	}

	writeJSON(w, http.StatusOK, planResponse{SessionPlan: plan, Total: plan.Len()})
}

// Create builds a plan and starts it in one step.
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	learnerID := middleware.GetLearnerID(r.Context())

	var req models.StartSessionRequest
	if r.ContentLength != 0 {
		if !decodeJSON(w, r, &req) {
			return
		}
	}

	plan, err := h.builder.Build(r.Context(), learnerID, services.QueueOptions{
		TopicID:  req.TopicID,
		MaxItems: req.MaxItems,
	}, h.now())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if plan.Len() == 0 {
		handleServiceError(w, r, apperr.ErrEmptyQueue)
		return
	}

	h.registry.Register(plan)
	sess, err := h.registry.Start(plan.ID, learnerID)
	if err != nil {
		h.registry.Remove(plan.ID)
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, sess.Snapshot())
}

func (h *SessionHandler) Start(w http.ResponseWriter, r *http.Request) {
	planID, ok := uuidParam(w, r, "planId", "plan ID")
	if !ok {
		return
	}

	sess, err := h.registry.Start(planID, middleware.GetLearnerID(r.Context()))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, sess.Snapshot())
}

func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	planID, ok := uuidParam(w, r, "planId", "plan ID")
	if !ok {
		return
	}

	sess, err := h.registry.Get(planID, middleware.GetLearnerID(r.Context()))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, sess.Snapshot())
}

func (h *SessionHandler) Current(w http.ResponseWriter, r *http.Request) {
	planID, ok := uuidParam(w, r, "planId", "plan ID")
	if !ok {
		return
	}

	sess, err := h.registry.Get(planID, middleware.GetLearnerID(r.Context()))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	entry, err := sess.CurrentItem()
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"item":   entry,
		"cursor": sess.Snapshot().Cursor,
	})
}

func (h *SessionHandler) Grade(w http.ResponseWriter, r *http.Request) {
	planID, ok := uuidParam(w, r, "planId", "plan ID")
	if !ok {
		return
	}

	var req models.GradeItemRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	key := req.IdempotencyKey
	if key == "" {
		key = r.Header.Get("Idempotency-Key")
	}

	sess, err := h.registry.Get(planID, middleware.GetLearnerID(r.Context()))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	out, err := sess.Grade(r.Context(), services.GradeInput{
		ItemID:         req.ItemID,
		Grade:          *req.Grade,
		IdempotencyKey: key,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, gradeResponse{
		Cursor:   out.Cursor,
		Total:    out.Total,
		State:    out.State,
		Replayed: out.Replayed,
		Item:     out.Item,
		Event:    out.Event,
		NextItem: out.Next,
		Summary:  out.Summary,
	})
}

func (h *SessionHandler) Abandon(w http.ResponseWriter, r *http.Request) {
	planID, ok := uuidParam(w, r, "planId", "plan ID")
	if !ok {
		return
	}

	if err := h.registry.Abandon(planID, middleware.GetLearnerID(r.Context())); err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Session abandoned"})
}
