package services

import (
	"context"

	"docconvert/models"

	"github.com/google/uuid"
)

// JobStore is the durable record store for jobs. Get returns
// models.ErrJobNotFound for unknown identifiers.
type JobStore interface {
	Create(ctx context.Context, job *models.Job) (uuid.UUID, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Job, error)
	Update(ctx context.Context, job *models.Job) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// ArtifactStore keeps original and converted file bytes.
type ArtifactStore interface {
	Store(ctx context.Context, data []byte, nameHint string) (string, error)
	Read(ctx context.Context, ref string) ([]byte, error)
}

// TaskHandler processes one delivery. A non-nil error hands the task back
// to the broker for redelivery or dead-lettering.
type TaskHandler func(ctx context.Context, task models.ConversionTask) error

type Broker interface {
	Publish(ctx context.Context, task models.ConversionTask) error
	// Consume blocks, dispatching deliveries to handler until ctx is done.
	Consume(ctx context.Context, handler TaskHandler) error
	Close() error
}

// Recoverer is implemented by brokers that need help returning deliveries
// abandoned by crashed consumers.
type Recoverer interface {
	RecoverStale(ctx context.Context) (int, error)
}

// StatusCache is a non-authoritative copy of job status views.
type StatusCache interface {
	Get(ctx context.Context, id uuid.UUID) (*models.JobStatusView, bool)
	Set(ctx context.Context, view *models.JobStatusView)
}

// NoopStatusCache is used when no cache is configured.
type NoopStatusCache struct{}

func (NoopStatusCache) Get(context.Context, uuid.UUID) (*models.JobStatusView, bool) {
	return nil, false
}

func (NoopStatusCache) Set(context.Context, *models.JobStatusView) {}
