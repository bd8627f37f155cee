// Package scheduler implements the SM-2 spacing algorithm used for every
// schedulable item, flashcards and quiz questions alike.
package scheduler

import (
	"math"
	"time"

	"recall-backend/internal/apperr"
)

const (
	DefaultEase  = 2.5
	MinEase      = 1.3
	MinGrade     = 0
	MaxGrade     = 5
	PassingGrade = 3

	// Number of decimals ease is kept to, so replays of the same grade
	// history always land on the same value.
	easePrecision = 1e4
)

// State is the scheduling half of an item.
type State struct {
	Ease         float64
	IntervalDays int
	Repetitions  int
	Lapses       int
	DueAt        time.Time
	LastGradedAt *time.Time
}

// New returns the state of a freshly published item: due immediately.
func New(now time.Time) State {
	return State{
		Ease:  DefaultEase,
		DueAt: now,
	}
}

// ValidateGrade rejects grades outside 0..5.
func ValidateGrade(grade int) error {
	if grade < MinGrade || grade > MaxGrade {
		return apperr.New(apperr.ErrInvalidGrade, "grade %d is outside %d..%d", grade, MinGrade, MaxGrade)
	}
	return nil
}

// Validate reports state that can only come from a store bug. Nothing is
// clamped here.
func (s State) Validate() error {
	switch {
	case math.IsNaN(s.Ease) || math.IsInf(s.Ease, 0):
		return apperr.New(apperr.ErrCorruptState, "ease is not a finite number")
	case s.Ease < MinEase-1/easePrecision:
		return apperr.New(apperr.ErrCorruptState, "ease %.4f is below the %.1f floor", s.Ease, MinEase)
	case s.IntervalDays < 0:
		return apperr.New(apperr.ErrCorruptState, "interval %d is negative", s.IntervalDays)
	case s.Repetitions < 0:
		return apperr.New(apperr.ErrCorruptState, "repetitions %d is negative", s.Repetitions)
	case s.Lapses < 0:
		return apperr.New(apperr.ErrCorruptState, "lapses %d is negative", s.Lapses)
	}
	return nil
}

// Schedule applies one graded attempt. It is a pure function of its
// arguments.
func Schedule(s State, grade int, now time.Time) (State, error) {
	if err := ValidateGrade(grade); err != nil {
		return State{}, err
	}
	if err := s.Validate(); err != nil {
		return State{}, err
	}

	next := s
	gradedAt := now
	next.LastGradedAt = &gradedAt

	if grade < PassingGrade {
		next.Repetitions = 0
		next.IntervalDays = 1
		next.Ease = roundEase(math.Max(MinEase, s.Ease-0.2))
		next.Lapses = s.Lapses + 1
	} else {
		next.Repetitions = s.Repetitions + 1
		next.IntervalDays = nextInterval(s.IntervalDays, s.Ease, next.Repetitions)
		next.Ease = UpdateEase(s.Ease, grade)
	}

	next.DueAt = now.AddDate(0, 0, next.IntervalDays)
	return next, nil
}

// UpdateEase is the SM-2 ease delta for a successful grade, floored at
// MinEase.
func UpdateEase(ease float64, grade int) float64 {
	q := float64(MaxGrade - grade)
	ease = ease + (0.1 - q*(0.08+q*0.02))
	return roundEase(math.Max(MinEase, ease))
}

// nextInterval uses the ease the item had before this grade.
func nextInterval(interval int, ease float64, repetitions int) int {
	switch repetitions {
	case 1:
		return 1
	case 2:
		return 6
	default:
		n := int(math.Round(float64(interval) * ease))
		if n < 1 {
			n = 1
		}
		return n
	}
}

func roundEase(ease float64) float64 {
	return math.Round(ease*easePrecision) / easePrecision
}
