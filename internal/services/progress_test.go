package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recall-backend/internal/logger"
	"recall-backend/internal/models"
)

type stubSettings struct {
	settings map[uuid.UUID]models.LearnerSettings
}

func (s *stubSettings) GetSettings(_ context.Context, learnerID uuid.UUID) (*models.LearnerSettings, error) {
	if st, ok := s.settings[learnerID]; ok {
		return &st, nil
	}
	def := models.DefaultSettings(learnerID)
	return &def, nil
}

func (s *stubSettings) UpsertSettings(_ context.Context, st *models.LearnerSettings) error {
	s.settings[st.LearnerID] = *st
	return nil
}

type stubStudyTime struct{ seconds int }

func (s stubStudyTime) StudySeconds(context.Context, uuid.UUID, time.Time) (int, error) {
	return s.seconds, nil
}

func TestProgressService_Get(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore()
	now := t0
	items := seedItems(t, store,
		dueItem(learnerA, "bio", models.KindFlashcard, now.Add(-48*time.Hour)),
		dueItem(learnerA, "bio", models.KindQuizQuestion, now.Add(-48*time.Hour)),
		dueItem(learnerA, "chem", models.KindFlashcard, now.Add(6*time.Hour)),
	)

	settings := &stubSettings{settings: map[uuid.UUID]models.LearnerSettings{
		learnerA: {LearnerID: learnerA, Goals: models.WeeklyGoals{ItemsTarget: 4, MinutesTarget: 60}},
	}}
	svc := NewProgressService(store, settings, stubStudyTime{seconds: 1800}, logger.Nop(), ProgressConfig{CacheTTL: time.Minute}).WithClock(fixedClock(now))
	grader := newGradeService(store, NewLocalEventPublisher(svc), now)

	_, err := grader.Grade(ctx, GradeRequest{LearnerID: learnerA, ItemID: items[0].ID, Grade: 5})
	require.NoError(t, err)
	_, err = grader.Grade(ctx, GradeRequest{LearnerID: learnerA, ItemID: items[1].ID, Grade: 2})
	require.NoError(t, err)

	p, err := svc.Get(ctx, learnerA)
	require.NoError(t, err)

	assert.Equal(t, 1, p.CurrentStreakDays)
	assert.Equal(t, 17, p.XP)
	assert.Equal(t, 1, p.Level)
	assert.Equal(t, 2, p.TotalGraded)
	assert.Equal(t, 2, p.WeeklyItemsGraded)
	assert.Equal(t, 1, p.Weekly.QuizzesGraded)
	assert.Equal(t, 30, p.WeeklyMinutesStudied)
	assert.Equal(t, 50.0, p.Weekly.OverallPercent)
	assert.False(t, p.Weekly.GoalMet)
	// Both graded items moved to tomorrow; chem comes due this afternoon.
	assert.Equal(t, 0, p.DueNow)
	assert.Equal(t, 1, p.DueToday)
	assert.Equal(t, models.DueBreakdown{Flashcards: 1, Topics: 1}, p.TodayReview)
	assert.Equal(t, 1, p.Weekly.StudiedDays)

	require.Len(t, p.Daily, 7)
	assert.Equal(t, models.DailyActivity{
		Date:               "2026-10-14",
		FlashcardsReviewed: 1,
		QuizzesCompleted:   1,
		FlashcardAccuracy:  100,
		QuizAccuracy:       0,
	}, p.Daily[6])
	assert.Equal(t, "2026-10-08", p.Daily[0].Date)
	assert.Zero(t, p.Daily[0].FlashcardsReviewed)

	require.Len(t, p.Recent, 2)
	assert.ElementsMatch(t, []uuid.UUID{items[0].ID, items[1].ID}, []uuid.UUID{p.Recent[0].ItemID, p.Recent[1].ItemID})

	require.Len(t, p.Topics, 2)
	assert.Equal(t, "bio", p.Topics[0].TopicID)
	assert.Equal(t, 10.0, p.Topics[0].Mastery)
	assert.Equal(t, 0.0, p.Topics[1].Mastery)
}

func TestProgressService_IncrementalMatchesRebuild(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore()
	now := t0
	svc := NewProgressService(store, nil, nil, logger.Nop(), ProgressConfig{}).WithClock(func() time.Time { return now })
	pub := NewLocalEventPublisher(svc)
	items := NewItemService(store, pub, logger.Nop(), time.Second).WithClock(func() time.Time { return now })

	// Warm the cache so every later change is applied incrementally.
	_, err := svc.Get(ctx, learnerA)
	require.NoError(t, err)

	published, err := items.Publish(ctx, learnerA, []PublishItem{
		{Kind: models.KindFlashcard, TopicID: "bio"},
		{Kind: models.KindQuizQuestion, TopicID: "bio"},
		{Kind: models.KindFlashcard, TopicID: "chem"},
	})
	require.NoError(t, err)

	grades := []int{5, 4, 1, 3, 5, 0, 4}
	for day, g := range grades {
		now = t0.Add(time.Duration(day) * 24 * time.Hour)
		grader := newGradeService(store, pub, now)
		_, err := grader.Grade(ctx, GradeRequest{LearnerID: learnerA, ItemID: published[day%len(published)].ID, Grade: g})
		require.NoError(t, err)
	}

	incremental, err := svc.Get(ctx, learnerA)
	require.NoError(t, err)
	rebuilt, err := svc.Rebuild(ctx, learnerA)
	require.NoError(t, err)

	assert.Equal(t, rebuilt, incremental)
	assert.Equal(t, len(grades), incremental.CurrentStreakDays)
}

// blockingEventsStore parks ListEvents until released.
type blockingEventsStore struct {
	ItemStore
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *blockingEventsStore) ListEvents(ctx context.Context, learnerID uuid.UUID) ([]models.GradeEvent, error) {
	s.once.Do(func() { close(s.entered) })
	<-s.release
	return s.ItemStore.ListEvents(ctx, learnerID)
}

func TestProgressService_EventsDuringBuildAreKept(t *testing.T) {
	ctx := context.Background()
	store := &blockingEventsStore{ItemStore: newMemoryStore(), entered: make(chan struct{}), release: make(chan struct{})}
	svc := NewProgressService(store, nil, nil, logger.Nop(), ProgressConfig{}).WithClock(fixedClock(t0))

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := svc.Tracker(ctx, learnerA)
		assert.NoError(t, err)
	}()

	<-store.entered
	late := models.GradeEvent{ID: uuid.New(), ItemID: uuid.New(), LearnerID: learnerA, TopicID: "bio", Kind: models.KindFlashcard, Grade: 5, GradedAt: t0, ResultingRepetitions: 1}
	svc.Apply(models.ProgressEvent{Type: models.ProgressEventGraded, Event: &late})
	close(store.release)
	<-done

	tracker, err := svc.Tracker(ctx, learnerA)
	require.NoError(t, err)
	assert.Equal(t, 1, tracker.TotalGraded())
	assert.Equal(t, 15, tracker.XP())
}

func TestProgressService_ApplyWithoutCacheIsNoop(t *testing.T) {
	svc := NewProgressService(newMemoryStore(), nil, nil, logger.Nop(), ProgressConfig{})
	ev := models.GradeEvent{ID: uuid.New(), LearnerID: learnerA, GradedAt: t0, Grade: 4}
	svc.Apply(models.ProgressEvent{Type: models.ProgressEventGraded, Event: &ev})

	tracker, err := svc.Tracker(context.Background(), learnerA)
	require.NoError(t, err)
	assert.Zero(t, tracker.TotalGraded(), "nothing was committed to the store")
}

func TestProgressService_SweepEvictsAndCompacts(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore()
	now := t0
	svc := NewProgressService(store, nil, nil, logger.Nop(), ProgressConfig{CacheTTL: time.Hour}).WithClock(func() time.Time { return now })

	stale, err := svc.Tracker(ctx, learnerA)
	require.NoError(t, err)
	now = t0.Add(50 * time.Minute)
	fresh, err := svc.Tracker(ctx, learnerB)
	require.NoError(t, err)

	old := models.GradeEvent{ID: uuid.New(), ItemID: uuid.New(), LearnerID: learnerB, TopicID: "bio", Kind: models.KindFlashcard, Grade: 4, GradedAt: t0.Add(-48 * time.Hour)}
	require.True(t, fresh.Apply(old))

	now = t0.Add(70 * time.Minute)
	assert.Equal(t, 1, svc.Sweep())

	svc.mu.Lock()
	_, keptA := svc.cache[learnerA]
	_, keptB := svc.cache[learnerB]
	svc.mu.Unlock()
	assert.False(t, keptA)
	assert.True(t, keptB)

	// The evicted tracker is rebuilt on the next read.
	again, err := svc.Tracker(ctx, learnerA)
	require.NoError(t, err)
	assert.NotSame(t, stale, again)

	// Events older than the dedupe window are no longer accepted.
	assert.False(t, fresh.Apply(models.GradeEvent{ID: uuid.New(), ItemID: uuid.New(), LearnerID: learnerB, Kind: models.KindFlashcard, Grade: 4, GradedAt: t0.Add(-30 * time.Hour)}))
	assert.Equal(t, 1, fresh.TotalGraded())
}
