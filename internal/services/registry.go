package services

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"recall-backend/internal/apperr"
	"recall-backend/internal/logger"
	"recall-backend/internal/models"
)

// MaxPendingPlans bounds the unstarted plans one learner may hold. Building
// another queue evicts the least recently touched one.
const MaxPendingPlans = 3

type registryEntry struct {
	session *Session
	plan    *models.SessionPlan
}

// SessionRegistry holds live sessions by plan id. Nothing here is
// persisted: after a restart the learner simply builds a new queue.
type SessionRegistry struct {
	mu       sync.Mutex
	entries  map[uuid.UUID]*registryEntry
	grader   Grader
	idleTTL  time.Duration
	log      *logger.Logger
	now      func() time.Time
	stopChan chan struct{}
	stopOnce sync.Once
}

func NewSessionRegistry(grader Grader, idleTTL time.Duration, log *logger.Logger) *SessionRegistry {
	return &SessionRegistry{
		entries:  make(map[uuid.UUID]*registryEntry),
		grader:   grader,
		idleTTL:  idleTTL,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
		stopChan: make(chan struct{}),
	}
}

// Register creates an Idle session for plan. If the learner already holds
// MaxPendingPlans unstarted plans, the oldest of them is dropped.
func (r *SessionRegistry) Register(plan *models.SessionPlan) *Session {
	sess := NewSession(plan.ID, plan.LearnerID, r.grader)
	sess.now = r.now
	sess.touch(r.now())

	r.mu.Lock()
	r.evictPendingLocked(plan.LearnerID)
	r.entries[plan.ID] = &registryEntry{session: sess, plan: plan}
	r.mu.Unlock()
	return sess
}

// evictPendingLocked only reads session atomics, so it never waits on a
// session that is busy grading.
func (r *SessionRegistry) evictPendingLocked(learnerID uuid.UUID) {
	for {
		var (
			count  int
			oldest uuid.UUID
			at     time.Time
		)
		for id, entry := range r.entries {
			if entry.session.LearnerID() != learnerID || !entry.session.pending.Load() {
				continue
			}
			count++
			if touched := entry.session.idleSince(); oldest == uuid.Nil || touched.Before(at) {
				oldest, at = id, touched
			}
		}
		if count < MaxPendingPlans {
			return
		}
		delete(r.entries, oldest)
	}
}

// Get returns the session for planID if learnerID owns it.
func (r *SessionRegistry) Get(planID, learnerID uuid.UUID) (*Session, error) {
	entry, err := r.entry(planID, learnerID)
	if err != nil {
		return nil, err
	}
	return entry.session, nil
}

func (r *SessionRegistry) entry(planID, learnerID uuid.UUID) (*registryEntry, error) {
	r.mu.Lock()
	entry, ok := r.entries[planID]
	r.mu.Unlock()

	if !ok {
		return nil, apperr.New(apperr.ErrNotFound, "session %s not found", planID)
	}
	if entry.session.LearnerID() != learnerID {
		return nil, apperr.New(apperr.ErrForbidden, "session %s belongs to another learner", planID)
	}
	return entry, nil
}

// Start starts the registered plan.
func (r *SessionRegistry) Start(planID, learnerID uuid.UUID) (*Session, error) {
	entry, err := r.entry(planID, learnerID)
	if err != nil {
		return nil, err
	}
	if err := entry.session.Start(entry.plan); err != nil {
		return nil, err
	}
	return entry.session, nil
}

// Abandon abandons the session and forgets its plan.
func (r *SessionRegistry) Abandon(planID, learnerID uuid.UUID) error {
	entry, err := r.entry(planID, learnerID)
	if err != nil {
		return err
	}
	if err := entry.session.Abandon(); err != nil {
		return err
	}
	r.Remove(planID)
	return nil
}

func (r *SessionRegistry) Remove(planID uuid.UUID) {
	r.mu.Lock()
	delete(r.entries, planID)
	r.mu.Unlock()
}

func (r *SessionRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Sweep drops sessions untouched for longer than the idle TTL and returns
// how many were removed. An in-progress session is abandoned first.
//
// The registry lock is never held while a session lock is taken: a session
// busy grading holds up the sweep, not other learners.
func (r *SessionRegistry) Sweep() int {
	cutoff := r.now().Add(-r.idleTTL)

	type candidate struct {
		id    uuid.UUID
		entry *registryEntry
	}
	r.mu.Lock()
	var candidates []candidate
	for id, entry := range r.entries {
		if entry.session.idleSince().Before(cutoff) {
			candidates = append(candidates, candidate{id: id, entry: entry})
		}
	}
	r.mu.Unlock()

	removed := 0
	for _, c := range candidates {
		if !c.entry.session.expire(cutoff) {
			continue
		}
		r.mu.Lock()
		if r.entries[c.id] == c.entry {
			delete(r.entries, c.id)
			removed++
		}
		r.mu.Unlock()
	}

	if removed > 0 {
		r.log.Info("swept idle sessions", "count", removed)
	}
	return removed
}

// StartSweeper runs Sweep every interval until Stop.
func (r *SessionRegistry) StartSweeper(interval time.Duration) {
	if r.idleTTL <= 0 || interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-r.stopChan:
				return
			case <-ticker.C:
				r.Sweep()
			}
		}
	}()
}

func (r *SessionRegistry) Stop() {
	r.stopOnce.Do(func() { close(r.stopChan) })
}
