package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"recall-backend/internal/database"
	"recall-backend/internal/logger"
	"recall-backend/internal/models"
	"recall-backend/internal/services"
)

const popTimeout = 5 * time.Second

// Pool drains the progress events queue into the aggregate cache and
// tells connected clients to refresh.
type Pool struct {
	redis       *redis.Client
	progress    services.ProgressApplier
	notifier    *services.Notifier
	log         *logger.Logger
	workerCount int
	stopChan    chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup
}

func NewPool(
	redisClient *redis.Client,
	progress services.ProgressApplier,
	notifier *services.Notifier,
	log *logger.Logger,
	workerCount int,
) *Pool {
	if workerCount < 1 {
		workerCount = 1
	}
	return &Pool{
		redis:       redisClient,
		progress:    progress,
		notifier:    notifier,
		log:         log,
		workerCount: workerCount,
		stopChan:    make(chan struct{}),
	}
}

func (p *Pool) Start() {
	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}

	p.log.Info("started progress workers", "count", p.workerCount)
}

// Stop signals the workers and waits for in-flight pops to return.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() { close(p.stopChan) })
	p.wg.Wait()
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	for {
		select {
		case <-p.stopChan:
			p.log.Debug("worker shutting down", "worker", id)
			return
		default:
		}

		ctx := context.Background()

		result, err := p.redis.BRPop(ctx, popTimeout, database.ProgressEventsQueue).Result()
		if err != nil {
			if !errors.Is(err, redis.Nil) {
				p.log.Warn("progress queue pop failed", "worker", id, "error", err)
				p.pause(time.Second)
			}
			continue
		}
		if len(result) < 2 {
			continue
		}

		if err := p.handleMessage(ctx, result[1]); err != nil {
			p.log.Error("dropping progress event", "worker", id, "error", err)
		}
	}
}

func (p *Pool) pause(d time.Duration) {
	select {
	case <-p.stopChan:
	case <-time.After(d):
	}
}

// handleMessage applies one queued event. Malformed payloads are rejected
// and never requeued.
func (p *Pool) handleMessage(ctx context.Context, raw string) error {
	var pe models.ProgressEvent
	if err := json.Unmarshal([]byte(raw), &pe); err != nil {
		return fmt.Errorf("failed to parse progress event: %w", err)
	}

	payload := models.ProgressUpdatedPayload{Cause: pe.Type}
	switch {
	case pe.Type == models.ProgressEventGraded && pe.Event != nil:
		payload.LearnerID = pe.Event.LearnerID
		id := pe.Event.ItemID
		payload.ItemID = &id
	case pe.Type == models.ProgressEventItemPublished && pe.Item != nil:
		payload.LearnerID = pe.Item.LearnerID
		id := pe.Item.ID
		payload.ItemID = &id
	default:
		return fmt.Errorf("unknown progress event %q", pe.Type)
	}

	p.progress.Apply(pe)
	p.notifier.PublishUpdate(ctx, payload.LearnerID, models.WSMessage{
		Type:    models.WSProgressUpdated,
		Payload: payload,
	})
	return nil
}
