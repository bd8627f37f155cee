package services

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"recall-backend/internal/logger"
	"recall-backend/internal/models"
	"recall-backend/internal/progress"
)

// dedupeWindow is how long a tracker remembers event ids. Redelivered
// events arrive within seconds; older ones are already in any rebuild.
const dedupeWindow = 24 * time.Hour

type ProgressConfig struct {
	CacheTTL     time.Duration
	StoreTimeout time.Duration
	Location     *time.Location
}

type trackerEntry struct {
	tracker *progress.Tracker
	builtAt time.Time
}

// ProgressService keeps one progress.Tracker per learner as a cache over
// the grade log. Trackers are built from the store on demand, kept current
// by Apply, and rebuilt after CacheTTL.
type ProgressService struct {
	items    ItemStore
	settings SettingsStore
	study    StudyTimeStore
	log      *logger.Logger
	cfg      ProgressConfig
	now      func() time.Time

	group    singleflight.Group
	mu       sync.Mutex
	cache    map[uuid.UUID]*trackerEntry
	building map[uuid.UUID][]models.ProgressEvent
	stopChan chan struct{}
	stopOnce sync.Once
}

func NewProgressService(items ItemStore, settings SettingsStore, study StudyTimeStore, log *logger.Logger, cfg ProgressConfig) *ProgressService {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &ProgressService{
		items:    items,
		settings: settings,
		study:    study,
		log:      log,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
		cache:    make(map[uuid.UUID]*trackerEntry),
		building: make(map[uuid.UUID][]models.ProgressEvent),
		stopChan: make(chan struct{}),
	}
}

// WithClock replaces the time source.
func (s *ProgressService) WithClock(now func() time.Time) *ProgressService {
	s.now = now
	return s
}

func eventLearner(pe models.ProgressEvent) (uuid.UUID, bool) {
	switch {
	case pe.Event != nil:
		return pe.Event.LearnerID, true
	case pe.Item != nil:
		return pe.Item.LearnerID, true
	}
	return uuid.Nil, false
}

// Apply folds an event into the learner's cached tracker. Learners
// without a cached tracker are skipped; their next read builds from the
// store, which already holds the event.
func (s *ProgressService) Apply(pe models.ProgressEvent) {
	learnerID, ok := eventLearner(pe)
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if pending, inFlight := s.building[learnerID]; inFlight {
		s.building[learnerID] = append(pending, pe)
		return
	}
	if entry, cached := s.cache[learnerID]; cached {
		applyTo(entry.tracker, pe)
	}
}

func applyTo(t *progress.Tracker, pe models.ProgressEvent) {
	switch pe.Type {
	case models.ProgressEventGraded:
		if pe.Event != nil {
			t.Apply(*pe.Event)
		}
	case models.ProgressEventItemPublished:
		if pe.Item != nil {
			t.TrackItem(*pe.Item)
		}
	}
}

// Invalidate drops the cached tracker for learnerID.
func (s *ProgressService) Invalidate(learnerID uuid.UUID) {
	s.mu.Lock()
	delete(s.cache, learnerID)
	s.mu.Unlock()
}

// Sweep evicts trackers older than CacheTTL and compacts the dedupe state
// of the rest. It returns how many trackers were evicted.
func (s *ProgressService) Sweep() int {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := 0
	for learnerID, entry := range s.cache {
		if s.cfg.CacheTTL > 0 && now.Sub(entry.builtAt) >= s.cfg.CacheTTL {
			delete(s.cache, learnerID)
			evicted++
			continue
		}
		entry.tracker.Compact(now.Add(-dedupeWindow))
	}
	if evicted > 0 {
		s.log.Debug("evicted progress trackers", "count", evicted, "cached", len(s.cache))
	}
	return evicted
}

// StartSweeper runs Sweep every interval until Stop.
func (s *ProgressService) StartSweeper(interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stopChan:
				return
			case <-ticker.C:
				s.Sweep()
			}
		}
	}()
}

func (s *ProgressService) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
}

// Tracker returns a current tracker for learnerID, building it if the
// cache is empty or stale. Concurrent builds for one learner coalesce.
func (s *ProgressService) Tracker(ctx context.Context, learnerID uuid.UUID) (*progress.Tracker, error) {
	s.mu.Lock()
	entry, ok := s.cache[learnerID]
	s.mu.Unlock()
	if ok && (s.cfg.CacheTTL <= 0 || s.now().Sub(entry.builtAt) < s.cfg.CacheTTL) {
		return entry.tracker, nil
	}

	v, err, _ := s.group.Do(learnerID.String(), func() (interface{}, error) {
		return s.build(ctx, learnerID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*progress.Tracker), nil
}

// Rebuild discards the cached tracker and replays the full log.
func (s *ProgressService) Rebuild(ctx context.Context, learnerID uuid.UUID) (*models.LearnerProgress, error) {
	s.Invalidate(learnerID)
	s.log.Info("rebuilding progress", "learner_id", learnerID)
	return s.Get(ctx, learnerID)
}

func (s *ProgressService) build(ctx context.Context, learnerID uuid.UUID) (*progress.Tracker, error) {
	ctx, span := tracer.Start(ctx, "ProgressService.build", trace.WithAttributes(
		attribute.String("learner_id", learnerID.String()),
	))
	defer span.End()

	s.mu.Lock()
	s.building[learnerID] = nil
	s.mu.Unlock()

	var (
		items  []models.Item
		events []models.GradeEvent
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		items, err = callStore(gctx, s.cfg.StoreTimeout, "list items", func(ctx context.Context) ([]models.Item, error) {
			return s.items.ListItems(ctx, learnerID)
		})
		return err
	})
	g.Go(func() error {
		var err error
		events, err = callStore(gctx, s.cfg.StoreTimeout, "list events", func(ctx context.Context) ([]models.GradeEvent, error) {
			return s.items.ListEvents(ctx, learnerID)
		})
		return err
	})
	err := g.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	pending := s.building[learnerID]
	delete(s.building, learnerID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	tracker := progress.Rebuild(learnerID, s.cfg.Location, items, events)
	for _, pe := range pending {
		applyTo(tracker, pe)
	}
	s.cache[learnerID] = &trackerEntry{tracker: tracker, builtAt: s.now()}
	span.SetAttributes(attribute.Int("items", len(items)), attribute.Int("events", len(events)))
	s.log.Debug("progress tracker built", "learner_id", learnerID, "items", len(items), "events", len(events))
	return tracker, nil
}

// Get projects the learner's progress at the current time, including due
// counts, study minutes and weekly goal completion.
func (s *ProgressService) Get(ctx context.Context, learnerID uuid.UUID) (*models.LearnerProgress, error) {
	tracker, err := s.Tracker(ctx, learnerID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	p := tracker.Progress(now)
	weekStart := progress.WeekStart(now, s.cfg.Location)
	local := now.In(s.cfg.Location)
	endOfDay := time.Date(local.Year(), local.Month(), local.Day()+1, 0, 0, 0, 0, s.cfg.Location).Add(-time.Nanosecond)

	var (
		goals   = models.DefaultWeeklyGoals
		seconds int
	)
	g, gctx := errgroup.WithContext(ctx)
	if s.settings != nil {
		g.Go(func() error {
			st, err := callStore(gctx, s.cfg.StoreTimeout, "get settings", func(ctx context.Context) (*models.LearnerSettings, error) {
				return s.settings.GetSettings(ctx, learnerID)
			})
			if err == nil {
				goals = st.Goals
			}
			return err
		})
	}
	if s.study != nil {
		g.Go(func() error {
			var err error
			seconds, err = callStore(gctx, s.cfg.StoreTimeout, "study seconds", func(ctx context.Context) (int, error) {
				return s.study.StudySeconds(ctx, learnerID, weekStart)
			})
			return err
		})
	}
	g.Go(func() error {
		var err error
		p.DueNow, err = callStore(gctx, s.cfg.StoreTimeout, "count due", func(ctx context.Context) (int, error) {
			return s.items.CountDue(ctx, learnerID, now)
		})
		return err
	})
	g.Go(func() error {
		dueToday, err := callStore(gctx, s.cfg.StoreTimeout, "list due today", func(ctx context.Context) ([]models.Item, error) {
			return s.items.ListDueItems(ctx, learnerID, "", endOfDay)
		})
		if err != nil {
			return err
		}
		p.DueToday = len(dueToday)
		p.TodayReview = breakdown(dueToday)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	progress.ApplyGoals(&p, goals, seconds/60)
	return &p, nil
}

func breakdown(items []models.Item) models.DueBreakdown {
	var out models.DueBreakdown
	topics := make(map[string]struct{})
	for _, it := range items {
		if it.Kind == models.KindQuizQuestion {
			out.QuizQuestions++
		} else {
			out.Flashcards++
		}
		topics[it.TopicID] = struct{}{}
	}
	out.Topics = len(topics)
	return out
}
