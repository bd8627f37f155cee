package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recall-backend/internal/apperr"
	"recall-backend/internal/logger"
	"recall-backend/internal/models"
)

func planIDs(p *models.SessionPlan) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(p.Items))
	for _, e := range p.Items {
		ids = append(ids, e.ItemID)
	}
	return ids
}

func TestQueueBuilder_Ordering(t *testing.T) {
	store := newMemoryStore()
	now := t0
	old := now.Add(-48 * time.Hour)
	recent := now.Add(-time.Hour)

	quizBio := dueItem(learnerA, "bio", models.KindQuizQuestion, old)
	cardBio := dueItem(learnerA, "bio", models.KindFlashcard, old)
	cardAlg := dueItem(learnerA, "algebra", models.KindFlashcard, old)
	recentCard := dueItem(learnerA, "algebra", models.KindFlashcard, recent)
	notDue := dueItem(learnerA, "algebra", models.KindFlashcard, now.Add(time.Minute))
	otherLearner := dueItem(learnerB, "bio", models.KindFlashcard, old)
	seedItems(t, store, quizBio, cardBio, cardAlg, recentCard, notDue, otherLearner)

	b := NewQueueBuilder(store, logger.Nop(), time.Second, 0)
	plan, err := b.Build(context.Background(), learnerA, QueueOptions{}, now)
	require.NoError(t, err)

	assert.Equal(t, []uuid.UUID{cardAlg.ID, cardBio.ID, quizBio.ID, recentCard.ID}, planIDs(plan))
	assert.Equal(t, learnerA, plan.LearnerID)
	assert.Equal(t, now, plan.BuiltAt)
}

func TestQueueBuilder_IDBreaksTies(t *testing.T) {
	store := newMemoryStore()
	a := models.NewItem(uuid.MustParse("00000000-0000-0000-0000-00000000000b"), learnerA, models.KindFlashcard, "bio", t0)
	b := models.NewItem(uuid.MustParse("00000000-0000-0000-0000-00000000000a"), learnerA, models.KindFlashcard, "bio", t0)
	seedItems(t, store, a, b)

	plan, err := NewQueueBuilder(store, logger.Nop(), time.Second, 0).Build(context.Background(), learnerA, QueueOptions{}, t0)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{b.ID, a.ID}, planIDs(plan))
}

func TestQueueBuilder_Deterministic(t *testing.T) {
	store := newMemoryStore()
	for i := 0; i < 30; i++ {
		kind := models.KindFlashcard
		if i%3 == 0 {
			kind = models.KindQuizQuestion
		}
		seedItems(t, store, dueItem(learnerA, []string{"a", "b", "c"}[i%3], kind, t0.Add(-time.Duration(i%4)*time.Hour)))
	}

	b := NewQueueBuilder(store, logger.Nop(), time.Second, 0)
	first, err := b.Build(context.Background(), learnerA, QueueOptions{}, t0)
	require.NoError(t, err)
	second, err := b.Build(context.Background(), learnerA, QueueOptions{}, t0)
	require.NoError(t, err)

	assert.Equal(t, first.Items, second.Items)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestQueueBuilder_TruncatesByOrdering(t *testing.T) {
	store := newMemoryStore()
	oldest := dueItem(learnerA, "z", models.KindQuizQuestion, t0.Add(-72*time.Hour))
	middle := dueItem(learnerA, "a", models.KindFlashcard, t0.Add(-48*time.Hour))
	newest := dueItem(learnerA, "a", models.KindFlashcard, t0.Add(-time.Hour))
	seedItems(t, store, newest, middle, oldest)

	b := NewQueueBuilder(store, logger.Nop(), time.Second, 50)
	plan, err := b.Build(context.Background(), learnerA, QueueOptions{MaxItems: 2}, t0)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{oldest.ID, middle.ID}, planIDs(plan))

	capped := NewQueueBuilder(store, logger.Nop(), time.Second, 1)
	plan, err = capped.Build(context.Background(), learnerA, QueueOptions{}, t0)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{oldest.ID}, planIDs(plan))
}

func TestQueueBuilder_TopicFilter(t *testing.T) {
	store := newMemoryStore()
	bio := dueItem(learnerA, "bio", models.KindFlashcard, t0)
	seedItems(t, store, bio, dueItem(learnerA, "chem", models.KindFlashcard, t0))

	plan, err := NewQueueBuilder(store, logger.Nop(), time.Second, 0).Build(context.Background(), learnerA, QueueOptions{TopicID: "bio"}, t0)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{bio.ID}, planIDs(plan))
}

func TestQueueBuilder_NothingDue(t *testing.T) {
	plan, err := NewQueueBuilder(newMemoryStore(), logger.Nop(), time.Second, 0).Build(context.Background(), learnerA, QueueOptions{}, t0)
	require.NoError(t, err)
	assert.Empty(t, plan.Items)
}

func TestQueueBuilder_StoreTimeout(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewQueueBuilder(newMemoryStore(), logger.Nop(), time.Second, 0).Build(ctx, learnerA, QueueOptions{}, t0)
	assert.ErrorIs(t, err, apperr.ErrStoreUnavailable)
}
