package services

import (
	"context"
	"fmt"
	"time"

	"docconvert/models"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// RedisStatusCache keeps one hash per job under conversion:status:<id>.
// Failures are logged and reported as misses; the record store stays
// authoritative.
type RedisStatusCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger logrus.FieldLogger
}

func NewRedisStatusCache(client *redis.Client, prefix string, ttl time.Duration, logger logrus.FieldLogger) *RedisStatusCache {
	return &RedisStatusCache{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		logger: logger,
	}
}

func (c *RedisStatusCache) key(id uuid.UUID) string {
	return fmt.Sprintf("%sconversion:status:%s", c.prefix, id)
}

func (c *RedisStatusCache) Get(ctx context.Context, id uuid.UUID) (*models.JobStatusView, bool) {
	fields, err := c.client.HGetAll(ctx, c.key(id)).Result()
	if err != nil {
		c.logger.WithError(err).WithField("job_id", id).Warn("Status cache read failed")
		return nil, false
	}
	view, ok := viewFromHash(id, fields)
	return view, ok
}

func (c *RedisStatusCache) Set(ctx context.Context, view *models.JobStatusView) {
	key := c.key(view.DocumentID)
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, hashFromView(view))
		pipe.Expire(ctx, key, c.ttl)
		return nil
	})
	if err != nil {
		c.logger.WithError(err).WithField("job_id", view.DocumentID).Warn("Status cache write failed")
		// A stale entry is worse than none.
		c.client.Del(ctx, key)
	}
}

func hashFromView(view *models.JobStatusView) map[string]interface{} {
	fields := map[string]interface{}{
		"status":     string(view.Status),
		"created_at": view.CreatedAt.Format(time.RFC3339Nano),
		"updated_at": view.UpdatedAt.Format(time.RFC3339Nano),
	}
	if view.ErrorMessage != nil {
		fields["error"] = *view.ErrorMessage
	}
	return fields
}

func viewFromHash(id uuid.UUID, fields map[string]string) (*models.JobStatusView, bool) {
	status := models.JobStatus(fields["status"])
	if !status.IsValid() {
		return nil, false
	}
	createdAt, err := time.Parse(time.RFC3339Nano, fields["created_at"])
	if err != nil {
		return nil, false
	}
	updatedAt, err := time.Parse(time.RFC3339Nano, fields["updated_at"])
	if err != nil {
		return nil, false
	}

	view := &models.JobStatusView{
		DocumentID: id,
		Status:     status,
		CreatedAt:  createdAt,
		UpdatedAt:  updatedAt,
	}
	if msg, ok := fields["error"]; ok {
		view.ErrorMessage = &msg
	}
	return view, true
}
