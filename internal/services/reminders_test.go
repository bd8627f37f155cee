package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"recall-backend/internal/logger"
	"recall-backend/internal/models"
	"recall-backend/internal/repository"
)

func TestShouldSendByLastSent(t *testing.T) {
	now := time.Date(2026, 2, 16, 10, 0, 0, 0, time.UTC)

	if !shouldSendByLastSent(nil, 24*time.Hour, now) {
		t.Fatalf("expected missing last-sent value to allow sending")
	}

	zero := time.Time{}
	if !shouldSendByLastSent(&zero, 24*time.Hour, now) {
		t.Fatalf("expected zero timestamp to allow sending")
	}

	recent := now.Add(-2 * time.Hour)
	if shouldSendByLastSent(&recent, 24*time.Hour, now) {
		t.Fatalf("expected recent send timestamp to block sending")
	}

	old := now.Add(-48 * time.Hour)
	if !shouldSendByLastSent(&old, 24*time.Hour, now) {
		t.Fatalf("expected old send timestamp to allow sending")
	}
}

type stubReminderStore struct {
	recipients []models.LearnerSettings
	listErr    error
	sent       map[uuid.UUID]time.Time
}

func (s *stubReminderStore) ListReminderRecipients(context.Context) ([]models.LearnerSettings, error) {
	return s.recipients, s.listErr
}

func (s *stubReminderStore) SetReminderSent(_ context.Context, learnerID uuid.UUID, at time.Time) error {
	if s.sent == nil {
		s.sent = make(map[uuid.UUID]time.Time)
	}
	s.sent[learnerID] = at
	return nil
}

type sentReminder struct {
	to     string
	due    int
	streak int
}

type stubMailer struct {
	sent []sentReminder
	err  error
}

func (m *stubMailer) SendDueReminderEmail(to string, dueCount, streakDays int) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentReminder{to, dueCount, streakDays})
	return nil
}

func TestSendDueReminders(t *testing.T) {
	now := time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()
	store := repository.NewMemoryItemStore()

	email := func(s string) *string { return &s }
	idle := uuid.New()       // due items, never graded
	active := uuid.New()     // due items, graded an hour ago
	nothingDue := uuid.New() // no due items
	recentlySent := uuid.New()

	for _, learner := range []uuid.UUID{idle, active, recentlySent} {
		it := models.NewItem(uuid.New(), learner, models.KindFlashcard, "bio", now.Add(-72*time.Hour))
		if err := store.CreateItems(ctx, []models.Item{it}); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	future := models.NewItem(uuid.New(), nothingDue, models.KindFlashcard, "bio", now.Add(time.Hour))
	if err := store.CreateItems(ctx, []models.Item{future}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	progressSvc := NewProgressService(store, nil, nil, logger.Nop(), ProgressConfig{}).WithClock(func() time.Time { return now })
	lastHour := now.Add(-time.Hour)
	activeTracker, err := progressSvc.Tracker(ctx, active)
	if err != nil {
		t.Fatalf("tracker: %v", err)
	}
	activeTracker.Apply(models.GradeEvent{ID: uuid.New(), ItemID: uuid.New(), LearnerID: active, TopicID: "bio", Kind: models.KindFlashcard, Grade: 4, GradedAt: lastHour})

	sentAt := now.Add(-3 * time.Hour)
	reminders := &stubReminderStore{recipients: []models.LearnerSettings{
		{LearnerID: idle, Email: email("idle@example.com"), RemindersEnabled: true},
		{LearnerID: active, Email: email("active@example.com"), RemindersEnabled: true},
		{LearnerID: nothingDue, Email: email("none@example.com"), RemindersEnabled: true},
		{LearnerID: recentlySent, Email: email("recent@example.com"), RemindersEnabled: true, ReminderLastSentAt: &sentAt},
		{LearnerID: uuid.New(), RemindersEnabled: true},
	}}
	mailer := &stubMailer{}

	s := NewReminderScheduler(reminders, store, progressSvc, mailer, logger.Nop(), time.Second)
	if got := s.sendDueReminders(ctx, now); got != 1 {
		t.Fatalf("expected 1 reminder, got %d", got)
	}
	if len(mailer.sent) != 1 || mailer.sent[0].to != "idle@example.com" || mailer.sent[0].due != 1 {
		t.Fatalf("unexpected reminders: %+v", mailer.sent)
	}
	if at, ok := reminders.sent[idle]; !ok || !at.Equal(now) {
		t.Fatalf("expected last sent to be recorded for idle learner")
	}
}

func TestSendDueReminders_ListFailure(t *testing.T) {
	s := NewReminderScheduler(&stubReminderStore{listErr: errors.New("down")}, repository.NewMemoryItemStore(), nil, &stubMailer{}, logger.Nop(), time.Second)
	if got := s.sendDueReminders(context.Background(), time.Now()); got != 0 {
		t.Fatalf("expected no reminders on list failure, got %d", got)
	}
}

// hangingDueStore never answers CountDue until the caller gives up.
type hangingDueStore struct {
	ItemStore
}

func (s *hangingDueStore) CountDue(ctx context.Context, _ uuid.UUID, _ time.Time) (int, error) {
	<-ctx.Done()
	return 0, ctx.Err()
}

// hangingReminderStore never lists recipients until the caller gives up.
type hangingReminderStore struct {
	stubReminderStore
}

func (s *hangingReminderStore) ListReminderRecipients(ctx context.Context) ([]models.LearnerSettings, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestSendDueReminders_StoreTimeout(t *testing.T) {
	email := "late@example.com"
	recipients := []models.LearnerSettings{{LearnerID: uuid.New(), Email: &email, RemindersEnabled: true}}

	tests := []struct {
		name     string
		settings ReminderStore
		items    ItemStore
	}{
		{"count due hangs", &stubReminderStore{recipients: recipients}, &hangingDueStore{ItemStore: repository.NewMemoryItemStore()}},
		{"recipient list hangs", &hangingReminderStore{}, repository.NewMemoryItemStore()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mailer := &stubMailer{}
			s := NewReminderScheduler(tt.settings, tt.items, nil, mailer, logger.Nop(), 20*time.Millisecond)

			done := make(chan int, 1)
			go func() { done <- s.sendDueReminders(context.Background(), time.Now()) }()

			select {
			case got := <-done:
				if got != 0 || len(mailer.sent) != 0 {
					t.Fatalf("expected no reminders, got %d", got)
				}
			case <-time.After(2 * time.Second):
				t.Fatalf("reminder pass did not give up on a hung store")
			}
		})
	}
}
