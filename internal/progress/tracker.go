// Package progress derives learner aggregates (mastery, streaks, weekly
// counts, xp) from the grade log. Nothing here is a source of truth: a
// Tracker can be dropped and rebuilt from items and events at any time.
package progress

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"recall-backend/internal/models"
	"recall-backend/internal/scheduler"
)

const (
	masteryRepetitions = 5

	xpSuccess      = 10
	xpPerfectBonus = 5
	xpFailure      = 2
	xpPerLevel     = 50

	// DailyWindow is the number of days in the activity series, today
	// included.
	DailyWindow = 7
	// RecentLimit bounds the recent activity feed.
	RecentLimit = 10
)

type itemSnapshot struct {
	topicID      string
	kind         models.ItemKind
	repetitions  int
	lapses       int
	lastGradedAt time.Time
	lastEventID  uuid.UUID
}

func (s *itemSnapshot) graded() bool {
	return !s.lastGradedAt.IsZero()
}

// newer reports whether an observation at (at, id) supersedes the snapshot.
// Ties on time fall back to the event id so replay order never matters.
func (s *itemSnapshot) newer(at time.Time, id uuid.UUID) bool {
	if !s.graded() || at.After(s.lastGradedAt) {
		return true
	}
	return at.Equal(s.lastGradedAt) && id != uuid.Nil && id.String() > s.lastEventID.String()
}

type dayCount struct {
	flashcards       int
	flashcardsPassed int
	quizzes          int
	quizzesPassed    int
}

func (d *dayCount) items() int { return d.flashcards + d.quizzes }

// WeekCounts is the graded activity inside one ISO week.
type WeekCounts struct {
	WeekStart     time.Time
	DaysRemaining int
	StudiedDays   int
	Items         int
	Quizzes       int
}

// Tracker aggregates one learner's grade log. Apply is commutative and
// idempotent per event id, so incremental maintenance and a full rebuild
// converge on the same numbers.
type Tracker struct {
	mu        sync.RWMutex
	learnerID uuid.UUID
	loc       *time.Location
	items     map[uuid.UUID]*itemSnapshot
	seen      map[uuid.UUID]time.Time
	horizon   time.Time
	days      map[int64]*dayCount
	recent    []models.RecentActivity
	xp        int
	total     int
}

func NewTracker(learnerID uuid.UUID, loc *time.Location) *Tracker {
	if loc == nil {
		loc = time.UTC
	}
	return &Tracker{
		learnerID: learnerID,
		loc:       loc,
		items:     make(map[uuid.UUID]*itemSnapshot),
		seen:      make(map[uuid.UUID]time.Time),
		days:      make(map[int64]*dayCount),
	}
}

// Rebuild replays the full item table and grade log into a fresh tracker.
func Rebuild(learnerID uuid.UUID, loc *time.Location, items []models.Item, events []models.GradeEvent) *Tracker {
	t := NewTracker(learnerID, loc)
	for _, it := range items {
		t.TrackItem(it)
	}
	for _, ev := range events {
		t.Apply(ev)
	}
	return t
}

func (t *Tracker) LearnerID() uuid.UUID { return t.learnerID }

// TrackItem registers an item so it counts toward its topic's mastery
// even before it has been graded.
func (t *Tracker) TrackItem(item models.Item) {
	t.mu.Lock()
	defer t.mu.Unlock()

	snap, ok := t.items[item.ID]
	if !ok {
		snap = &itemSnapshot{}
		t.items[item.ID] = snap
	}
	snap.topicID = item.TopicID
	snap.kind = item.Kind
	if item.LastGradedAt != nil && snap.newer(*item.LastGradedAt, uuid.Nil) {
		snap.repetitions = item.Repetitions
		snap.lapses = item.Lapses
		snap.lastGradedAt = *item.LastGradedAt
	}
}

// Apply folds one grade event into the aggregates. It returns false when
// the event was already seen or is older than the compaction horizon.
func (t *Tracker) Apply(ev models.GradeEvent) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if ev.GradedAt.Before(t.horizon) {
		return false
	}
	if _, dup := t.seen[ev.ID]; dup {
		return false
	}
	t.seen[ev.ID] = ev.GradedAt

	snap, ok := t.items[ev.ItemID]
	if !ok {
		snap = &itemSnapshot{topicID: ev.TopicID, kind: ev.Kind}
		t.items[ev.ItemID] = snap
	}
	if snap.newer(ev.GradedAt, ev.ID) {
		snap.repetitions = ev.ResultingRepetitions
		snap.lapses = ev.ResultingLapses
		snap.lastGradedAt = ev.GradedAt
		snap.lastEventID = ev.ID
	}

	day := t.dayNumber(ev.GradedAt)
	dc, ok := t.days[day]
	if !ok {
		dc = &dayCount{}
		t.days[day] = dc
	}
	passed := ev.Grade >= scheduler.PassingGrade
	if ev.Kind == models.KindQuizQuestion {
		dc.quizzes++
		if passed {
			dc.quizzesPassed++
		}
	} else {
		dc.flashcards++
		if passed {
			dc.flashcardsPassed++
		}
	}
	t.addRecent(ev)

	t.xp += XPForGrade(ev.Grade)
	t.total++
	return true
}

// addRecent keeps the RecentLimit latest events ordered newest first. The
// order is total, so any replay order yields the same feed.
func (t *Tracker) addRecent(ev models.GradeEvent) {
	entry := models.RecentActivity{
		EventID:  ev.ID,
		ItemID:   ev.ItemID,
		TopicID:  ev.TopicID,
		Kind:     ev.Kind,
		Grade:    ev.Grade,
		GradedAt: ev.GradedAt,
	}
	before := func(a, b models.RecentActivity) bool {
		if !a.GradedAt.Equal(b.GradedAt) {
			return a.GradedAt.After(b.GradedAt)
		}
		return a.EventID.String() > b.EventID.String()
	}
	i := sort.Search(len(t.recent), func(i int) bool { return before(entry, t.recent[i]) })
	if i >= RecentLimit {
		return
	}
	t.recent = append(t.recent, models.RecentActivity{})
	copy(t.recent[i+1:], t.recent[i:])
	t.recent[i] = entry
	if len(t.recent) > RecentLimit {
		t.recent = t.recent[:RecentLimit]
	}
}

// Compact forgets the ids of events graded before horizon and from then on
// rejects any event older than it. Callers pick a horizon far enough back
// that redelivered events have long since arrived. It returns how many ids
// were dropped.
func (t *Tracker) Compact(horizon time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	if horizon.After(t.horizon) {
		t.horizon = horizon
	}
	dropped := 0
	for id, at := range t.seen {
		if at.Before(t.horizon) {
			delete(t.seen, id)
			dropped++
		}
	}
	return dropped
}

// XPForGrade is the experience awarded for a single graded attempt.
func XPForGrade(grade int) int {
	if grade < scheduler.PassingGrade {
		return xpFailure
	}
	if grade == scheduler.MaxGrade {
		return xpSuccess + xpPerfectBonus
	}
	return xpSuccess
}

func LevelForXP(xp int) int {
	return 1 + xp/xpPerLevel
}

func (t *Tracker) XP() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.xp
}

func (t *Tracker) TotalGraded() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.total
}

// LastGradedAt is the latest grade time seen for any item, or nil.
func (t *Tracker) LastGradedAt() *time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var last time.Time
	for _, snap := range t.items {
		if snap.lastGradedAt.After(last) {
			last = snap.lastGradedAt
		}
	}
	if last.IsZero() {
		return nil
	}
	return &last
}

// ItemScore is the retention strength of one item in [0, 1].
func ItemScore(repetitions, lapses int) float64 {
	if repetitions <= 0 {
		return 0
	}
	coverage := math.Min(1, float64(repetitions)/masteryRepetitions)
	stability := 1 - float64(lapses)/float64(repetitions+lapses+1)
	return coverage * stability
}

// Mastery returns per-topic mastery on a 0-100 scale, sorted by topic id.
func (t *Tracker) Mastery() []models.TopicMastery {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.masteryLocked()
}

func (t *Tracker) masteryLocked() []models.TopicMastery {
	type acc struct {
		sum    float64
		count  int
		graded int
	}
	// Summation order is fixed so equal inputs give bit-identical output.
	ids := make([]uuid.UUID, 0, len(t.items))
	for id := range t.items {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })

	byTopic := make(map[string]*acc)
	for _, id := range ids {
		snap := t.items[id]
		a, ok := byTopic[snap.topicID]
		if !ok {
			a = &acc{}
			byTopic[snap.topicID] = a
		}
		a.count++
		if snap.graded() {
			a.graded++
			a.sum += ItemScore(snap.repetitions, snap.lapses)
		}
	}

	out := make([]models.TopicMastery, 0, len(byTopic))
	for topic, a := range byTopic {
		out = append(out, models.TopicMastery{
			TopicID:     topic,
			Mastery:     round1(100 * a.sum / float64(a.count)),
			ItemCount:   a.count,
			GradedCount: a.graded,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TopicID < out[j].TopicID })
	return out
}

// Streaks returns the current and longest runs of consecutive calendar
// days with at least one graded item. The current run may end yesterday
// so a streak survives until the learner's day is over.
func (t *Tracker) Streaks(now time.Time) (current, longest int) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.streaksLocked(now)
}

func (t *Tracker) streaksLocked(now time.Time) (current, longest int) {
	if len(t.days) == 0 {
		return 0, 0
	}
	days := make([]int64, 0, len(t.days))
	for d := range t.days {
		days = append(days, d)
	}
	sort.Slice(days, func(i, j int) bool { return days[i] < days[j] })

	run := 0
	for i, d := range days {
		if i > 0 && d == days[i-1]+1 {
			run++
		} else {
			run = 1
		}
		if run > longest {
			longest = run
		}
	}

	end := t.dayNumber(now)
	if _, ok := t.days[end]; !ok {
		end--
	}
	for {
		if _, ok := t.days[end-int64(current)]; !ok {
			break
		}
		current++
	}
	return current, longest
}

// WeekStart is Monday 00:00 of the ISO week containing now.
func WeekStart(now time.Time, loc *time.Location) time.Time {
	local := now.In(loc)
	offset := (int(local.Weekday()) + 6) % 7
	y, m, d := local.Date()
	return time.Date(y, m, d-offset, 0, 0, 0, 0, loc)
}

// Weekly counts graded items in the ISO week containing now. DaysRemaining
// includes today.
func (t *Tracker) Weekly(now time.Time) WeekCounts {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.weeklyLocked(now)
}

func (t *Tracker) weeklyLocked(now time.Time) WeekCounts {
	start := WeekStart(now, t.loc)
	first := t.dayNumber(start)
	out := WeekCounts{
		WeekStart:     start,
		DaysRemaining: 7 - int(t.dayNumber(now)-first),
	}
	for d := first; d < first+7; d++ {
		if dc, ok := t.days[d]; ok {
			out.StudiedDays++
			out.Items += dc.items()
			out.Quizzes += dc.quizzes
		}
	}
	return out
}

// Daily returns the last DailyWindow calendar days ending today, oldest
// first. Days without grades are present with zero counts.
func (t *Tracker) Daily(now time.Time) []models.DailyActivity {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.dailyLocked(now)
}

func (t *Tracker) dailyLocked(now time.Time) []models.DailyActivity {
	today := t.dayNumber(now)
	out := make([]models.DailyActivity, 0, DailyWindow)
	for d := today - DailyWindow + 1; d <= today; d++ {
		day := models.DailyActivity{Date: time.Unix(d*86400, 0).UTC().Format("2006-01-02")}
		if dc, ok := t.days[d]; ok {
			day.FlashcardsReviewed = dc.flashcards
			day.QuizzesCompleted = dc.quizzes
			day.FlashcardAccuracy = percent(dc.flashcardsPassed, dc.flashcards)
			day.QuizAccuracy = percent(dc.quizzesPassed, dc.quizzes)
		}
		out = append(out, day)
	}
	return out
}

// Recent returns up to RecentLimit grade events, newest first.
func (t *Tracker) Recent() []models.RecentActivity {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append(make([]models.RecentActivity, 0, len(t.recent)), t.recent...)
}

// Progress projects the tracker at now from one consistent view of the
// log. Due counts, study minutes and goal targets come from other sources
// and are filled in by the caller.
func (t *Tracker) Progress(now time.Time) models.LearnerProgress {
	t.mu.RLock()
	defer t.mu.RUnlock()

	current, longest := t.streaksLocked(now)
	week := t.weeklyLocked(now)
	return models.LearnerProgress{
		LearnerID:         t.learnerID,
		CurrentStreakDays: current,
		LongestStreakDays: longest,
		XP:                t.xp,
		Level:             LevelForXP(t.xp),
		TotalGraded:       t.total,
		WeeklyItemsGraded: week.Items,
		Weekly: models.WeeklyProgress{
			WeekStart:     week.WeekStart,
			DaysRemaining: week.DaysRemaining,
			ItemsGraded:   week.Items,
			QuizzesGraded: week.Quizzes,
			StudiedDays:   week.StudiedDays,
		},
		Topics:     t.masteryLocked(),
		Daily:      t.dailyLocked(now),
		Recent:     append(make([]models.RecentActivity, 0, len(t.recent)), t.recent...),
		ComputedAt: now,
	}
}

// ApplyGoals fills goal targets and completion on a projected progress.
func ApplyGoals(p *models.LearnerProgress, goals models.WeeklyGoals, minutes int) {
	p.WeeklyMinutesStudied = minutes
	p.Weekly.MinutesStudied = minutes
	p.Weekly.Goals = goals

	var sum float64
	var parts int
	for _, pair := range [][2]int{
		{p.Weekly.ItemsGraded, goals.ItemsTarget},
		{p.Weekly.QuizzesGraded, goals.QuizzesTarget},
		{minutes, goals.MinutesTarget},
		{p.Weekly.StudiedDays, goals.DaysTarget},
	} {
		if pair[1] <= 0 {
			continue
		}
		parts++
		sum += math.Min(1, float64(pair[0])/float64(pair[1]))
	}
	if parts == 0 {
		p.Weekly.OverallPercent = 0
		p.Weekly.GoalMet = false
		return
	}
	p.Weekly.OverallPercent = round1(100 * sum / float64(parts))
	p.Weekly.GoalMet = sum == float64(parts)
}

func (t *Tracker) dayNumber(at time.Time) int64 {
	y, m, d := at.In(t.loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix() / 86400
}

func percent(part, whole int) float64 {
	if whole == 0 {
		return 0
	}
	return round1(100 * float64(part) / float64(whole))
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
