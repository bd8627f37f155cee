package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"recall-backend/internal/logger"
	"recall-backend/internal/middleware"
	"recall-backend/internal/models"
	"recall-backend/internal/repository"
	"recall-backend/internal/services"
)

var t0 = time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)

type nopApplier struct{}

func (nopApplier) Apply(models.ProgressEvent) {}

type fixture struct {
	store    *repository.MemoryItemStore
	items    *services.ItemService
	registry *services.SessionRegistry
	sessions *SessionHandler
	itemsH   *ItemHandler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := logger.Nop()
	store := repository.NewMemoryItemStore()
	pub := services.NewLocalEventPublisher(nopApplier{})

	clock := func() time.Time { return t0.Add(time.Minute) }
	grader := services.NewGradeService(store, pub, log, services.GradeConfig{
		StoreTimeout: time.Second,
		MaxAttempts:  3,
		RetryDelay:   time.Millisecond,
	}).WithClock(clock)
	registry := services.NewSessionRegistry(grader, time.Hour, log)
	itemSvc := services.NewItemService(store, pub, log, time.Second).WithClock(func() time.Time { return t0 })

	sessions := NewSessionHandler(services.NewQueueBuilder(store, log, time.Second, 50), registry)
	sessions.now = clock

	return &fixture{
		store:    store,
		items:    itemSvc,
		registry: registry,
		sessions: sessions,
		itemsH:   NewItemHandler(itemSvc),
	}
}

func (f *fixture) publish(t *testing.T, learner uuid.UUID, reqs ...services.PublishItem) []models.Item {
	t.Helper()
	items, err := f.items.Publish(context.Background(), learner, reqs)
	require.NoError(t, err)
	return items
}

// call invokes h the way the router would: learner in context, chi params
// resolved, optional JSON body.
func call(t *testing.T, h http.HandlerFunc, method, target string, learner uuid.UUID, body interface{}, params map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")

	rctx := chi.NewRouteContext()
	for k, v := range params {
		rctx.URLParams.Add(k, v)
	}
	ctx := context.WithValue(req.Context(), chi.RouteCtxKey, rctx)
	ctx = context.WithValue(ctx, middleware.LearnerIDKey, learner)

	rr := httptest.NewRecorder()
	h(rr, req.WithContext(ctx))
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), rr.Body.String())
	return out
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) models.APIError {
	t.Helper()
	return decode[models.ErrorResponse](t, rr).Error
}
