package services

import (
	"context"
	"time"

	"github.com/google/uuid"

	"recall-backend/internal/logger"
	"recall-backend/internal/models"
)

const (
	dueReminderInterval  = 24 * time.Hour
	reminderPollInterval = 1 * time.Hour
)

type ReminderStore interface {
	ListReminderRecipients(ctx context.Context) ([]models.LearnerSettings, error)
	SetReminderSent(ctx context.Context, learnerID uuid.UUID, at time.Time) error
}

type ReminderMailer interface {
	SendDueReminderEmail(to string, dueCount, streakDays int) error
}

// ReminderScheduler emails learners who have items due and have not
// graded anything for a day. At most one reminder per learner per day.
type ReminderScheduler struct {
	settings ReminderStore
	items    ItemStore
	progress *ProgressService
	mailer   ReminderMailer
	log      *logger.Logger
	// Bounds every store call in a pass.
	storeTimeout time.Duration
	stopChan     chan struct{}
}

func NewReminderScheduler(settings ReminderStore, items ItemStore, progress *ProgressService, mailer ReminderMailer, log *logger.Logger, storeTimeout time.Duration) *ReminderScheduler {
	return &ReminderScheduler{
		settings:     settings,
		items:        items,
		progress:     progress,
		mailer:       mailer,
		log:          log,
		storeTimeout: storeTimeout,
		stopChan:     make(chan struct{}),
	}
}

func (s *ReminderScheduler) Start() {
	if s.settings == nil || s.mailer == nil {
		return
	}

	go s.loop(s.sendDueReminders)

	s.log.Info("reminder scheduler started")
}

func (s *ReminderScheduler) Stop() {
	select {
	case <-s.stopChan:
		return
	default:
		close(s.stopChan)
	}
}

func (s *ReminderScheduler) loop(runFn func(ctx context.Context, now time.Time) int) {
	// Run on startup as well as by interval.
	runFn(context.Background(), time.Now().UTC())

	ticker := time.NewTicker(reminderPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			runFn(context.Background(), time.Now().UTC())
		}
	}
}

// sendDueReminders runs one pass and returns how many emails were sent.
func (s *ReminderScheduler) sendDueReminders(ctx context.Context, now time.Time) int {
	recipients, err := callStore(ctx, s.storeTimeout, "list reminder recipients", s.settings.ListReminderRecipients)
	if err != nil {
		s.log.Error("due reminders: failed to list recipients", "error", err)
		return 0
	}

	sent := 0
	for _, recipient := range recipients {
		if recipient.Email == nil || !shouldSendByLastSent(recipient.ReminderLastSentAt, dueReminderInterval, now) {
			continue
		}

		due, err := callStore(ctx, s.storeTimeout, "count due items", func(ctx context.Context) (int, error) {
			return s.items.CountDue(ctx, recipient.LearnerID, now)
		})
		if err != nil {
			s.log.Warn("due reminders: failed to count due items", "learner_id", recipient.LearnerID, "error", err)
			continue
		}
		if due == 0 {
			continue
		}

		tracker, err := s.progress.Tracker(ctx, recipient.LearnerID)
		if err != nil {
			s.log.Warn("due reminders: failed to load progress", "learner_id", recipient.LearnerID, "error", err)
			continue
		}
		if last := tracker.LastGradedAt(); last != nil && now.Sub(*last) < dueReminderInterval {
			continue
		}
		streak, _ := tracker.Streaks(now)

		if err := s.mailer.SendDueReminderEmail(*recipient.Email, due, streak); err != nil {
			s.log.Warn("due reminders: failed to send", "learner_id", recipient.LearnerID, "error", err)
			continue
		}
		sent++

		err = callStoreErr(ctx, s.storeTimeout, "set reminder sent", func(ctx context.Context) error {
			return s.settings.SetReminderSent(ctx, recipient.LearnerID, now)
		})
		if err != nil {
			s.log.Warn("due reminders: failed to persist last sent at", "learner_id", recipient.LearnerID, "error", err)
		}
	}
	return sent
}

func shouldSendByLastSent(lastSentAt *time.Time, minInterval time.Duration, now time.Time) bool {
	if lastSentAt == nil || lastSentAt.IsZero() {
		return true
	}
	return now.Sub(*lastSentAt) >= minInterval
}
