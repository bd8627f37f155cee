package handlers

import (
	"context"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recall-backend/internal/models"
	"recall-backend/internal/services"
)

type planBody struct {
	PlanID uuid.UUID          `json:"plan_id"`
	Items  []models.PlanEntry `json:"items"`
	Total  int                `json:"total"`
}

func TestSessionHandler_QueueOrdersAndRegisters(t *testing.T) {
	f := newFixture(t)
	learner := uuid.New()
	items := f.publish(t, learner,
		services.PublishItem{Kind: models.KindQuizQuestion, TopicID: "bio"},
		services.PublishItem{Kind: models.KindFlashcard, TopicID: "bio"},
		services.PublishItem{Kind: models.KindFlashcard, TopicID: "algebra"},
	)

	rr := call(t, f.sessions.Queue, http.MethodGet, "/api/v1/queue", learner, nil, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	plan := decode[planBody](t, rr)
	require.Equal(t, 3, plan.Total)
	assert.Equal(t, items[2].ID, plan.Items[0].ItemID)
	assert.Equal(t, items[1].ID, plan.Items[1].ItemID)
	assert.Equal(t, items[0].ID, plan.Items[2].ItemID)
	assert.Equal(t, 1, f.registry.Len())

	rr = call(t, f.sessions.Queue, http.MethodGet, "/api/v1/queue?topic=bio&max_items=1", learner, nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	plan = decode[planBody](t, rr)
	require.Equal(t, 1, plan.Total)
	assert.Equal(t, items[1].ID, plan.Items[0].ItemID)

	rr = call(t, f.sessions.Queue, http.MethodGet, "/api/v1/queue?maxItems=1", learner, nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	plan = decode[planBody](t, rr)
	require.Equal(t, 1, plan.Total)
	assert.Equal(t, items[2].ID, plan.Items[0].ItemID)

	rr = call(t, f.sessions.Queue, http.MethodGet, "/api/v1/queue?max_items=2&maxItems=1", learner, nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 2, decode[planBody](t, rr).Total)

	rr = call(t, f.sessions.Queue, http.MethodGet, "/api/v1/queue?max_items=abc", learner, nil, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "max_items", firstField(errorCode(t, rr)))

	rr = call(t, f.sessions.Queue, http.MethodGet, "/api/v1/queue?maxItems=-1", learner, nil, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "maxItems", firstField(errorCode(t, rr)))
}

func TestSessionHandler_QueueKeepsPendingPlansBounded(t *testing.T) {
	f := newFixture(t)
	learner := uuid.New()
	f.publish(t, learner, services.PublishItem{Kind: models.KindFlashcard, TopicID: "bio"})

	var last planBody
	for i := 0; i < 6; i++ {
		rr := call(t, f.sessions.Queue, http.MethodGet, "/api/v1/queue", learner, nil, nil)
		require.Equal(t, http.StatusOK, rr.Code)
		last = decode[planBody](t, rr)
	}
	assert.Equal(t, services.MaxPendingPlans, f.registry.Len())

	rr := call(t, f.sessions.Start, http.MethodPost, "/api/v1/sessions/"+last.PlanID.String()+"/start", learner, nil,
		map[string]string{"planId": last.PlanID.String()})
	assert.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
}

func firstField(e models.APIError) string {
	for k := range e.Fields {
		return k
	}
	return ""
}

func TestSessionHandler_GradeToCompletion(t *testing.T) {
	f := newFixture(t)
	learner := uuid.New()
	f.publish(t, learner,
		services.PublishItem{Kind: models.KindFlashcard, TopicID: "bio"},
		services.PublishItem{Kind: models.KindQuizQuestion, TopicID: "bio"},
	)

	rr := call(t, f.sessions.Create, http.MethodPost, "/api/v1/sessions", learner, map[string]interface{}{}, nil)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	snap := decode[services.SessionSnapshot](t, rr)
	assert.Equal(t, services.SessionInProgress, snap.State)
	require.Equal(t, 2, snap.Total)
	params := map[string]string{"planId": snap.PlanID.String()}

	for i, entry := range snap.Items {
		rr = call(t, f.sessions.Current, http.MethodGet, "/current", learner, nil, params)
		require.Equal(t, http.StatusOK, rr.Code)

		rr = call(t, f.sessions.Grade, http.MethodPost, "/grade", learner, map[string]interface{}{
			"item_id":         entry.ItemID,
			"grade":           4,
			"idempotency_key": "k-" + entry.ItemID.String(),
		}, params)
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

		out := decode[gradeResponse](t, rr)
		assert.Equal(t, i+1, out.Cursor)
		assert.Equal(t, 1, out.Item.IntervalDays)
		assert.Equal(t, 1, out.Item.Repetitions)
		if i == 0 {
			assert.Equal(t, services.SessionInProgress, out.State)
			require.NotNil(t, out.NextItem)
			assert.Equal(t, snap.Items[1].ItemID, out.NextItem.ItemID)
		} else {
			assert.Equal(t, services.SessionCompleted, out.State)
			assert.Nil(t, out.NextItem)
			require.NotNil(t, out.Summary)
			assert.Equal(t, 1, out.Summary.Flashcards)
			assert.Equal(t, 1, out.Summary.QuizQuestions)
			assert.Equal(t, 1, out.Summary.Topics)
			assert.Equal(t, 20, out.Summary.XPGained)
			assert.Equal(t, 4.0, out.Summary.AverageRecall)
		}
	}

	rr = call(t, f.sessions.Grade, http.MethodPost, "/grade", learner, map[string]interface{}{
		"item_id": snap.Items[1].ItemID,
		"grade":   3,
	}, params)
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "SESSION_COMPLETE", errorCode(t, rr).Code)

	events, err := f.items.Events(context.Background(), learner, snap.Items[0].ItemID)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestSessionHandler_GradeErrors(t *testing.T) {
	f := newFixture(t)
	learner := uuid.New()
	f.publish(t, learner,
		services.PublishItem{Kind: models.KindFlashcard, TopicID: "bio"},
		services.PublishItem{Kind: models.KindFlashcard, TopicID: "chem"},
	)

	rr := call(t, f.sessions.Create, http.MethodPost, "/api/v1/sessions", learner, nil, nil)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	snap := decode[services.SessionSnapshot](t, rr)
	params := map[string]string{"planId": snap.PlanID.String()}
	current := snap.Items[0].ItemID

	tests := []struct {
		name     string
		learner  uuid.UUID
		params   map[string]string
		body     interface{}
		wantCode int
		wantErr  string
	}{
		{"grade out of range", learner, params, map[string]interface{}{"item_id": current, "grade": 6}, http.StatusBadRequest, "INVALID_GRADE"},
		{"negative grade", learner, params, map[string]interface{}{"item_id": current, "grade": -1}, http.StatusBadRequest, "INVALID_GRADE"},
		{"missing grade", learner, params, map[string]interface{}{"item_id": current}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"unknown field", learner, params, `{"item_id":"` + current.String() + `","grade":3,"extra":1}`, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"not the current item", learner, params, map[string]interface{}{"item_id": snap.Items[1].ItemID, "grade": 3}, http.StatusConflict, "ITEM_MISMATCH"},
		{"other learner", uuid.New(), params, map[string]interface{}{"item_id": current, "grade": 3}, http.StatusForbidden, "FORBIDDEN"},
		{"unknown plan", learner, map[string]string{"planId": uuid.NewString()}, map[string]interface{}{"item_id": current, "grade": 3}, http.StatusNotFound, "NOT_FOUND"},
		{"bad plan id", learner, map[string]string{"planId": "nope"}, map[string]interface{}{"item_id": current, "grade": 3}, http.StatusBadRequest, "VALIDATION_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := call(t, f.sessions.Grade, http.MethodPost, "/grade", tt.learner, tt.body, tt.params)
			assert.Equal(t, tt.wantCode, rr.Code, rr.Body.String())
			assert.Equal(t, tt.wantErr, errorCode(t, rr).Code)
		})
	}

	rr = call(t, f.sessions.Get, http.MethodGet, "/", learner, nil, params)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 0, decode[services.SessionSnapshot](t, rr).Cursor)

	item, err := f.items.Get(context.Background(), learner, current)
	require.NoError(t, err)
	assert.Equal(t, 0, item.Repetitions)
}

func TestSessionHandler_CreateWithNothingDue(t *testing.T) {
	f := newFixture(t)

	rr := call(t, f.sessions.Create, http.MethodPost, "/api/v1/sessions", uuid.New(), map[string]interface{}{"topic_id": "bio"}, nil)
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "EMPTY_QUEUE", errorCode(t, rr).Code)
	assert.Equal(t, 0, f.registry.Len())
}

func TestSessionHandler_StartAndAbandon(t *testing.T) {
	f := newFixture(t)
	learner := uuid.New()
	f.publish(t, learner, services.PublishItem{Kind: models.KindFlashcard, TopicID: "bio"})

	rr := call(t, f.sessions.Queue, http.MethodGet, "/api/v1/queue", learner, nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	params := map[string]string{"planId": decode[planBody](t, rr).PlanID.String()}

	rr = call(t, f.sessions.Current, http.MethodGet, "/current", learner, nil, params)
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "SESSION_NOT_ACTIVE", errorCode(t, rr).Code)

	rr = call(t, f.sessions.Start, http.MethodPost, "/start", learner, nil, params)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, services.SessionInProgress, decode[services.SessionSnapshot](t, rr).State)

	rr = call(t, f.sessions.Start, http.MethodPost, "/start", learner, nil, params)
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = call(t, f.sessions.Abandon, http.MethodPost, "/abandon", learner, nil, params)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 0, f.registry.Len())

	rr = call(t, f.sessions.Get, http.MethodGet, "/", learner, nil, params)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}
