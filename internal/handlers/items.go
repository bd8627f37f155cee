package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"recall-backend/internal/middleware"
	"recall-backend/internal/models"
	"recall-backend/internal/services"
)

type itemPublisher interface {
	Publish(ctx context.Context, learnerID uuid.UUID, reqs []services.PublishItem) ([]models.Item, error)
	Get(ctx context.Context, learnerID, itemID uuid.UUID) (*models.Item, error)
	Events(ctx context.Context, learnerID, itemID uuid.UUID) ([]models.GradeEvent, error)
}

type ItemHandler struct {
	items itemPublisher
}

func NewItemHandler(items itemPublisher) *ItemHandler {
	return &ItemHandler{items: items}
}

func toPublishItem(req models.PublishItemRequest) services.PublishItem {
	p := services.PublishItem{Kind: req.Kind, TopicID: req.TopicID}
	if req.ID != nil {
		p.ID = *req.ID
	}
	return p
}

// Create publishes one item, due immediately.
func (h *ItemHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req models.PublishItemRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	items, err := h.items.Publish(r.Context(), middleware.GetLearnerID(r.Context()), []services.PublishItem{toPublishItem(req)})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{"item": items[0]})
}

func (h *ItemHandler) CreateBatch(w http.ResponseWriter, r *http.Request) {
	var req models.PublishItemsRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	batch := make([]services.PublishItem, 0, len(req.Items))
	for _, it := range req.Items {
		batch = append(batch, toPublishItem(it))
	}

	items, err := h.items.Publish(r.Context(), middleware.GetLearnerID(r.Context()), batch)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"items": items,
		"total": len(items),
	})
}

func (h *ItemHandler) Get(w http.ResponseWriter, r *http.Request) {
	itemID, ok := uuidParam(w, r, "id", "item ID")
	if !ok {
		return
	}

	item, err := h.items.Get(r.Context(), middleware.GetLearnerID(r.Context()), itemID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"item": item})
}

func (h *ItemHandler) Events(w http.ResponseWriter, r *http.Request) {
	itemID, ok := uuidParam(w, r, "id", "item ID")
	if !ok {
		return
	}

	events, err := h.items.Events(r.Context(), middleware.GetLearnerID(r.Context()), itemID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if events == nil {
		events = []models.GradeEvent{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"total":  len(events),
	})
}
