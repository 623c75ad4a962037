package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"docconvert/config"
	"docconvert/models"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// RedisQueue is a list-based broker. Workers atomically move a delivery from
// the pending list to the processing list, and settle it afterwards: removed
// on success, pushed back to pending on failure, or moved to the failed list
// once it has been delivered maxDeliveries times.
type RedisQueue struct {
	client        *redis.Client
	pending       string
	processing    string
	failed        string
	claims        string
	maxDeliveries int
	concurrency   int
	staleAfter    time.Duration
	pollTimeout   time.Duration
	logger        logrus.FieldLogger
	now           func() time.Time
}

type redisEnvelope struct {
	Task       models.ConversionTask `json:"task"`
	Attempts   int                   `json:"attempts"`
	EnqueuedAt time.Time             `json:"enqueuedAt"`
	LastError  string                `json:"lastError,omitempty"`
}

func NewRedisQueue(client *redis.Client, cfg *config.Config, logger logrus.FieldLogger) *RedisQueue {
	return &RedisQueue{
		client:        client,
		pending:       cfg.PendingQueue,
		processing:    cfg.ProcessingQueue,
		failed:        cfg.FailedQueue,
		claims:        cfg.ProcessingQueue + ":claims",
		maxDeliveries: cfg.MaxDeliveries,
		concurrency:   cfg.WorkerCount,
		staleAfter:    cfg.RecoveryStaleAfter,
		pollTimeout:   30 * time.Second,
		logger:        logger.WithField("queue", cfg.PendingQueue),
		now:           time.Now,
	}
}

func (q *RedisQueue) Publish(ctx context.Context, task models.ConversionTask) error {
	raw, err := json.Marshal(redisEnvelope{Task: task, EnqueuedAt: q.now()})
	if err != nil {
		return err
	}
	if err := q.client.LPush(ctx, q.pending, raw).Err(); err != nil {
		return &models.StorageError{Op: "publish conversion task", Err: err}
	}
	return nil
}

func (q *RedisQueue) Consume(ctx context.Context, handler TaskHandler) error {
	var wg sync.WaitGroup
	for i := 0; i < q.concurrency; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			q.runWorker(ctx, workerID, handler)
		}(i)
	}
	wg.Wait()
	return nil
}

func (q *RedisQueue) runWorker(ctx context.Context, workerID int, handler TaskHandler) {
	log := q.logger.WithField("worker", workerID)
	log.Info("Starting")
	handlerCtx := context.WithoutCancel(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Info("Shutting down")
			return
		default:
		}

		// Atomic pop from pending and push to processing
		raw, err := q.client.BRPopLPush(ctx, q.pending, q.processing, q.pollTimeout).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			log.WithError(err).Error("Redis error")
			select {
			case <-ctx.Done():
			case <-time.After(5 * time.Second):
			}
			continue
		}

		// Settling must survive shutdown, or the delivery would stay in processing.
		q.client.HSet(handlerCtx, q.claims, raw, q.now().Unix())

		env, err := decodeEnvelope(raw)
		if err != nil {
			log.WithError(err).Error("Failed to parse conversion task")
			q.deadLetter(handlerCtx, raw, raw)
			continue
		}

		handleErr := runHandler(handlerCtx, handler, env.Task)
		if handleErr != nil {
			log.WithError(handleErr).WithField("job_id", env.Task.DocumentID).Error("Error processing conversion message")
		}
		if err := q.settle(handlerCtx, raw, env, handleErr); err != nil {
			log.WithError(err).WithField("job_id", env.Task.DocumentID).Error("Failed to settle delivery")
		}
	}
}

// route decides where a delivery goes after handling. An empty destination
// means the delivery is done.
func (q *RedisQueue) route(env redisEnvelope, handleErr error) (string, redisEnvelope) {
	if handleErr == nil {
		return "", env
	}
	env.Attempts++
	env.LastError = handleErr.Error()
	if env.Attempts >= q.maxDeliveries {
		return q.failed, env
	}
	env.EnqueuedAt = q.now()
	return q.pending, env
}

func (q *RedisQueue) settle(ctx context.Context, raw string, env redisEnvelope, handleErr error) error {
	dest, next := q.route(env, handleErr)

	var nextRaw []byte
	if dest != "" {
		var err error
		if nextRaw, err = json.Marshal(next); err != nil {
			return err
		}
	}

	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, q.processing, 1, raw)
		pipe.HDel(ctx, q.claims, raw)
		if dest != "" {
			pipe.LPush(ctx, dest, nextRaw)
		}
		return nil
	})
	if err == nil && dest == q.failed {
		q.logger.WithFields(logrus.Fields{
			"job_id":   next.Task.DocumentID,
			"attempts": next.Attempts,
		}).Warn("Conversion task moved to dead-letter list")
	}
	return err
}

func (q *RedisQueue) deadLetter(ctx context.Context, raw, payload string) {
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, q.processing, 1, raw)
		pipe.HDel(ctx, q.claims, raw)
		pipe.LPush(ctx, q.failed, payload)
		return nil
	})
	if err != nil {
		q.logger.WithError(err).Error("Failed to dead-letter malformed delivery")
	}
}

// RecoverStale returns deliveries claimed longer than staleAfter ago to the
// pending list; an abandoned delivery counts as a failed attempt.
func (q *RedisQueue) RecoverStale(ctx context.Context) (int, error) {
	inFlight, err := q.client.LRange(ctx, q.processing, 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get processing queue: %w", err)
	}
	claims, err := q.client.HGetAll(ctx, q.claims).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get processing claims: %w", err)
	}

	recovered := 0
	for _, raw := range inFlight {
		claimedAt, ok := parseClaim(claims[raw])
		if !ok {
			// Popped but not yet claimed, or claimed by a crashed worker
			// before the write landed; start the clock now.
			q.client.HSetNX(ctx, q.claims, raw, q.now().Unix())
			continue
		}
		if q.now().Sub(claimedAt) < q.staleAfter {
			continue
		}

		env, err := decodeEnvelope(raw)
		if err != nil {
			q.deadLetter(ctx, raw, raw)
			continue
		}
		if err := q.settle(ctx, raw, env, errors.New("delivery abandoned by consumer")); err != nil {
			return recovered, err
		}
		recovered++
	}

	if recovered > 0 {
		q.logger.WithField("recovered", recovered).Info("Recovered stale deliveries")
	}
	return recovered, nil
}

func (q *RedisQueue) Close() error {
	return nil
}

func decodeEnvelope(raw string) (redisEnvelope, error) {
	var env redisEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return env, fmt.Errorf("decode delivery: %w", err)
	}
	if env.Task.DocumentID == uuid.Nil {
		return env, errors.New("decode delivery: missing documentId")
	}
	return env, nil
}

func parseClaim(value string) (time.Time, bool) {
	if value == "" {
		return time.Time{}, false
	}
	secs, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(secs, 0), true
}
