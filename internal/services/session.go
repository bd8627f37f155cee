package services

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"recall-backend/internal/apperr"
	"recall-backend/internal/models"
	"recall-backend/internal/progress"
	"recall-backend/internal/scheduler"
)

type SessionState string

const (
	SessionIdle       SessionState = "idle"
	SessionInProgress SessionState = "in_progress"
	SessionCompleted  SessionState = "completed"
)

type GradeInput struct {
	// ItemID must name the current item. uuid.Nil means "the current item".
	ItemID         uuid.UUID
	Grade          int
	IdempotencyKey string
}

type GradeOutcome struct {
	Item     models.Item
	Event    models.GradeEvent
	Replayed bool
	Cursor   int
	Total    int
	State    SessionState
	Next     *models.PlanEntry
	// Summary is set once the session completes.
	Summary *SessionSummary
}

// SessionSummary describes a completed session for the "done for today"
// view. Replayed grades are not counted twice.
type SessionSummary struct {
	Flashcards       int     `json:"flashcards"`
	QuizQuestions    int     `json:"quiz_questions"`
	Topics           int     `json:"topics"`
	Failures         int     `json:"failures"`
	XPGained         int     `json:"xp_gained"`
	AverageRecall    float64 `json:"average_recall"`
	TimeSpentSeconds int     `json:"time_spent_seconds"`
}

type SessionSnapshot struct {
	PlanID    uuid.UUID          `json:"plan_id"`
	LearnerID uuid.UUID          `json:"learner_id"`
	State     SessionState       `json:"state"`
	Cursor    int                `json:"cursor"`
	Total     int                `json:"total"`
	Current   *models.PlanEntry  `json:"current_item,omitempty"`
	Items     []models.PlanEntry `json:"items"`
	StartedAt *time.Time         `json:"started_at,omitempty"`
	Summary   *SessionSummary    `json:"summary,omitempty"`
}

// Session drives one plan from Idle through InProgress to Completed. All
// methods serialize on the session mutex, so two requests racing on the
// same plan observe each other's cursor moves. The plan lives only here.
type Session struct {
	mu        sync.Mutex
	id        uuid.UUID
	learnerID uuid.UUID
	grader    Grader
	plan      *models.SessionPlan
	state     SessionState
	cursor    int
	keys      map[string]int
	grades    []int
	startedAt *time.Time
	endedAt   *time.Time
	now       func() time.Time

	// Read by the registry without taking mu.
	touchedAt atomic.Int64
	pending   atomic.Bool
}

func NewSession(id, learnerID uuid.UUID, grader Grader) *Session {
	s := &Session{
		id:        id,
		learnerID: learnerID,
		grader:    grader,
		state:     SessionIdle,
		keys:      make(map[string]int),
		now:       func() time.Time { return time.Now().UTC() },
	}
	s.touch(s.now())
	s.pending.Store(true)
	return s
}

func (s *Session) ID() uuid.UUID        { return s.id }
func (s *Session) LearnerID() uuid.UUID { return s.learnerID }

func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start moves Idle to InProgress with the cursor on the first item.
func (s *Session) Start(plan *models.SessionPlan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case SessionCompleted:
		return apperr.ErrSessionComplete
	case SessionInProgress:
		return apperr.ErrSessionStarted
	}
	if plan.Len() == 0 {
		return apperr.ErrEmptyQueue
	}

	now := s.now()
	s.plan = plan
	s.cursor = 0
	s.state = SessionInProgress
	s.startedAt = &now
	s.grades = s.grades[:0]
	s.touch(now)
	s.pending.Store(false)
	return nil
}

func (s *Session) CurrentItem() (models.PlanEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case SessionIdle:
		return models.PlanEntry{}, apperr.ErrSessionNotActive
	case SessionCompleted:
		return models.PlanEntry{}, apperr.ErrSessionComplete
	}
	if s.cursor >= s.plan.Len() {
		return models.PlanEntry{}, apperr.ErrSessionComplete
	}
	return s.plan.Items[s.cursor], nil
}

// Grade applies a grade to the current item and advances the cursor. On
// any error the cursor and state are left exactly as they were.
func (s *Session) Grade(ctx context.Context, in GradeInput) (*GradeOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case SessionCompleted:
		return nil, apperr.ErrSessionComplete
	case SessionIdle:
		return nil, apperr.ErrSessionNotActive
	}
	if err := scheduler.ValidateGrade(in.Grade); err != nil {
		return nil, err
	}

	current := s.plan.Items[s.cursor]
	if in.ItemID != uuid.Nil && in.ItemID != current.ItemID {
		if pos, ok := s.keys[in.IdempotencyKey]; ok && in.IdempotencyKey != "" && s.plan.Items[pos].ItemID == in.ItemID {
			return s.replayOutcome(ctx, in)
		}
		return nil, apperr.New(apperr.ErrItemMismatch, "item %s is not the current item %s", in.ItemID, current.ItemID)
	}

	res, err := s.grader.Grade(ctx, GradeRequest{
		LearnerID:      s.learnerID,
		ItemID:         current.ItemID,
		Grade:          in.Grade,
		IdempotencyKey: in.IdempotencyKey,
	})
	if err != nil {
		return nil, err
	}

	if in.IdempotencyKey != "" {
		s.keys[in.IdempotencyKey] = s.cursor
	}
	s.grades = append(s.grades, res.Event.Grade)
	s.cursor++
	now := s.now()
	s.touch(now)
	if s.cursor >= s.plan.Len() {
		s.state = SessionCompleted
		s.endedAt = &now
	}
	return s.outcome(res), nil
}

// replayOutcome answers a retried grade for an item the cursor already
// passed. The position does not move.
func (s *Session) replayOutcome(ctx context.Context, in GradeInput) (*GradeOutcome, error) {
	res, err := s.grader.Grade(ctx, GradeRequest{
		LearnerID:      s.learnerID,
		ItemID:         in.ItemID,
		Grade:          in.Grade,
		IdempotencyKey: in.IdempotencyKey,
	})
	if err != nil {
		return nil, err
	}
	res.Replayed = true
	return s.outcome(res), nil
}

func (s *Session) outcome(res *GradeResult) *GradeOutcome {
	out := &GradeOutcome{
		Item:     res.Item,
		Event:    res.Event,
		Replayed: res.Replayed,
		Cursor:   s.cursor,
		Total:    s.plan.Len(),
		State:    s.state,
	}
	if s.state == SessionInProgress {
		next := s.plan.Items[s.cursor]
		out.Next = &next
	}
	if s.state == SessionCompleted {
		out.Summary = s.summary()
	}
	return out
}

// summary must be called with mu held on a completed session.
func (s *Session) summary() *SessionSummary {
	sum := &SessionSummary{}
	topics := make(map[string]struct{})
	total := 0
	for i, grade := range s.grades {
		entry := s.plan.Items[i]
		if entry.Kind == models.KindQuizQuestion {
			sum.QuizQuestions++
		} else {
			sum.Flashcards++
		}
		topics[entry.TopicID] = struct{}{}
		if grade < scheduler.PassingGrade {
			sum.Failures++
		}
		sum.XPGained += progress.XPForGrade(grade)
		total += grade
	}
	sum.Topics = len(topics)
	if len(s.grades) > 0 {
		sum.AverageRecall = math.Round(float64(total)/float64(len(s.grades))*100) / 100
	}
	if s.startedAt != nil && s.endedAt != nil {
		sum.TimeSpentSeconds = int(s.endedAt.Sub(*s.startedAt) / time.Second)
	}
	return sum
}

// Abandon discards the plan and cursor and returns to Idle. Grades that
// were already committed stay committed.
func (s *Session) Abandon() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case SessionIdle:
		return apperr.ErrSessionNotActive
	case SessionCompleted:
		return apperr.ErrSessionComplete
	}
	s.plan = nil
	s.cursor = 0
	s.keys = make(map[string]int)
	s.grades = nil
	s.startedAt = nil
	s.state = SessionIdle
	s.touch(s.now())
	return nil
}

func (s *Session) Snapshot() SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := SessionSnapshot{
		PlanID:    s.id,
		LearnerID: s.learnerID,
		State:     s.state,
		Cursor:    s.cursor,
		Total:     s.plan.Len(),
		Items:     []models.PlanEntry{},
		StartedAt: s.startedAt,
	}
	if s.plan != nil {
		snap.Items = append(snap.Items, s.plan.Items...)
	}
	if s.state == SessionInProgress && s.cursor < s.plan.Len() {
		cur := s.plan.Items[s.cursor]
		snap.Current = &cur
	}
	if s.state == SessionCompleted {
		snap.Summary = s.summary()
	}
	return snap
}

func (s *Session) touch(at time.Time) {
	s.touchedAt.Store(at.UnixNano())
}

func (s *Session) idleSince() time.Time {
	return time.Unix(0, s.touchedAt.Load()).UTC()
}

// expire abandons the session if it has not been touched since cutoff.
// It reports whether the session is expired. A grade that finishes while
// expire waits for the lock refreshes the session and keeps it alive.
func (s *Session) expire(cutoff time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.idleSince().Before(cutoff) {
		return false
	}
	if s.state == SessionInProgress {
		s.plan = nil
		s.cursor = 0
		s.keys = make(map[string]int)
		s.grades = nil
		s.startedAt = nil
		s.state = SessionIdle
	}
	return true
}
