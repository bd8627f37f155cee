package services

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"recall-backend/internal/logger"
	"recall-backend/internal/models"
)

var tracer = otel.Tracer("recall-backend/internal/services")

type QueueOptions struct {
	TopicID  string
	MaxItems int
}

// QueueBuilder selects and orders a learner's due items. It never writes.
type QueueBuilder struct {
	store           ItemStore
	log             *logger.Logger
	storeTimeout    time.Duration
	defaultMaxItems int
}

func NewQueueBuilder(store ItemStore, log *logger.Logger, storeTimeout time.Duration, defaultMaxItems int) *QueueBuilder {
	return &QueueBuilder{
		store:           store,
		log:             log,
		storeTimeout:    storeTimeout,
		defaultMaxItems: defaultMaxItems,
	}
}

// Build returns the plan for learnerID at now. MaxItems <= 0 means the
// configured default cap; a default cap <= 0 means unbounded.
func (b *QueueBuilder) Build(ctx context.Context, learnerID uuid.UUID, opts QueueOptions, now time.Time) (*models.SessionPlan, error) {
	ctx, span := tracer.Start(ctx, "QueueBuilder.Build", trace.WithAttributes(
		attribute.String("topic_id", opts.TopicID),
		attribute.Int("max_items", opts.MaxItems),
	))
	defer span.End()

	due, err := callStore(ctx, b.storeTimeout, "list due items", func(ctx context.Context) ([]models.Item, error) {
		return b.store.ListDueItems(ctx, learnerID, opts.TopicID, now)
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	SortQueue(due)

	limit := opts.MaxItems
	if limit <= 0 {
		limit = b.defaultMaxItems
	}
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	plan := &models.SessionPlan{
		ID:        uuid.New(),
		LearnerID: learnerID,
		BuiltAt:   now,
		Items:     make([]models.PlanEntry, 0, len(due)),
	}
	for _, it := range due {
		plan.Items = append(plan.Items, models.PlanEntry{
			ItemID:  it.ID,
			Kind:    it.Kind,
			TopicID: it.TopicID,
			DueAt:   it.DueAt,
		})
	}

	span.SetAttributes(attribute.String("learner_id", learnerID.String()), attribute.Int("plan.size", len(plan.Items)))
	b.log.Debug("queue built", "learner_id", learnerID, "topic_id", opts.TopicID, "size", len(plan.Items))
	return plan, nil
}

// SortQueue orders items oldest-overdue first, then by topic, then
// flashcards before quiz questions, with the id as the final tie-break.
func SortQueue(items []models.Item) {
	sort.Slice(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if !a.DueAt.Equal(b.DueAt) {
			return a.DueAt.Before(b.DueAt)
		}
		if a.TopicID != b.TopicID {
			return a.TopicID < b.TopicID
		}
		if a.Kind.Rank() != b.Kind.Rank() {
			return a.Kind.Rank() < b.Kind.Rank()
		}
		return a.ID.String() < b.ID.String()
	})
}
