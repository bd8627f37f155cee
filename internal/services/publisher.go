package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"recall-backend/internal/database"
	"recall-backend/internal/logger"
	"recall-backend/internal/models"
)

const defaultPublishTimeout = 500 * time.Millisecond

// ProgressApplier folds an event into the aggregate cache.
type ProgressApplier interface {
	Apply(ev models.ProgressEvent)
}

// EventPublisher hands committed changes to the aggregate maintainer.
// Publishing never fails the caller.
type EventPublisher interface {
	PublishGraded(ctx context.Context, ev models.GradeEvent, item models.Item)
	PublishItems(ctx context.Context, items []models.Item)
}

// LocalEventPublisher applies events in-process. Used when no queue is
// configured and by the simulator.
type LocalEventPublisher struct {
	applier ProgressApplier
}

func NewLocalEventPublisher(applier ProgressApplier) *LocalEventPublisher {
	return &LocalEventPublisher{applier: applier}
}

func (p *LocalEventPublisher) PublishGraded(_ context.Context, ev models.GradeEvent, _ models.Item) {
	p.applier.Apply(models.ProgressEvent{Type: models.ProgressEventGraded, Event: &ev})
}

func (p *LocalEventPublisher) PublishItems(_ context.Context, items []models.Item) {
	for i := range items {
		it := items[i]
		p.applier.Apply(models.ProgressEvent{Type: models.ProgressEventItemPublished, Item: &it})
	}
}

// LocalDelivery writes straight to the connections held by this replica.
type LocalDelivery interface {
	SendToLearner(learnerID uuid.UUID, msg interface{})
}

// Notifier pushes live updates to a learner's websocket connections via
// Redis pub/sub. When Redis is unavailable, connections on this replica
// still get the update through local.
type Notifier struct {
	client *redis.Client
	local  LocalDelivery
	log    *logger.Logger
}

func NewNotifier(client *redis.Client, local LocalDelivery, log *logger.Logger) *Notifier {
	return &Notifier{client: client, local: local, log: log}
}

func (n *Notifier) PublishUpdate(ctx context.Context, learnerID uuid.UUID, msg models.WSMessage) {
	if n == nil {
		return
	}
	if n.client == nil {
		n.deliverLocally(learnerID, msg)
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		n.log.Warn("marshal ws message failed", "type", msg.Type, "error", err)
		return
	}
	if err := n.client.Publish(ctx, database.UserChannel(learnerID), string(data)).Err(); err != nil {
		n.log.Warn("publish ws message failed, delivering locally", "learner_id", learnerID, "type", msg.Type, "error", err)
		n.deliverLocally(learnerID, msg)
	}
}

func (n *Notifier) deliverLocally(learnerID uuid.UUID, msg models.WSMessage) {
	if n.local != nil {
		n.local.SendToLearner(learnerID, msg)
	}
}

// RedisEventPublisher enqueues events on the progress queue for the
// worker pool. If the queue cannot be reached the event is applied
// locally so this replica's cache stays current.
type RedisEventPublisher struct {
	queue    *redis.Client
	notifier *Notifier
	fallback ProgressApplier
	log      *logger.Logger
	timeout  time.Duration
}

func NewRedisEventPublisher(queue *redis.Client, notifier *Notifier, fallback ProgressApplier, log *logger.Logger) *RedisEventPublisher {
	return &RedisEventPublisher{
		queue:    queue,
		notifier: notifier,
		fallback: fallback,
		log:      log,
		timeout:  defaultPublishTimeout,
	}
}

func (p *RedisEventPublisher) PublishGraded(ctx context.Context, ev models.GradeEvent, item models.Item) {
	p.enqueue(ctx, models.ProgressEvent{Type: models.ProgressEventGraded, Event: &ev})

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()
	p.notifier.PublishUpdate(ctx, ev.LearnerID, models.WSMessage{
		Type: models.WSItemGraded,
		Payload: models.ItemGradedPayload{
			ItemID:       ev.ItemID,
			Grade:        ev.Grade,
			IntervalDays: item.IntervalDays,
			DueAt:        item.DueAt,
		},
	})
}

func (p *RedisEventPublisher) PublishItems(ctx context.Context, items []models.Item) {
	for i := range items {
		it := items[i]
		p.enqueue(ctx, models.ProgressEvent{Type: models.ProgressEventItemPublished, Item: &it})
	}
}

func (p *RedisEventPublisher) enqueue(ctx context.Context, pe models.ProgressEvent) {
	data, err := json.Marshal(pe)
	if err == nil {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
		defer cancel()
		err = p.queue.LPush(ctx, database.ProgressEventsQueue, data).Err()
	}
	if err != nil {
		p.log.Warn("progress event not queued, applying locally", "type", pe.Type, "error", err)
		p.fallback.Apply(pe)
	}
}
