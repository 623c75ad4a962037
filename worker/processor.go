package worker

import (
	"context"
	"errors"
	"time"

	"docconvert/metrics"
	"docconvert/models"
	"docconvert/services"

	"github.com/sirupsen/logrus"
)

// Converter is satisfied by *converter.Registry.
type Converter interface {
	Convert(ctx context.Context, job *models.Job) (string, error)
}

// Processor drives one job through IN_PROGRESS to COMPLETED or FAILED for
// each delivered task. It is the only writer of job status after creation.
type Processor struct {
	store     services.JobStore
	converter Converter
	cache     services.StatusCache
	metrics   *metrics.Recorder
	timeout   time.Duration
	logger    logrus.FieldLogger
	now       func() time.Time
}

func NewProcessor(store services.JobStore, conv Converter, cache services.StatusCache, rec *metrics.Recorder, timeout time.Duration, logger logrus.FieldLogger) *Processor {
	if cache == nil {
		cache = services.NoopStatusCache{}
	}
	return &Processor{
		store:     store,
		converter: conv,
		cache:     cache,
		metrics:   rec,
		timeout:   timeout,
		logger:    logger,
		now:       time.Now,
	}
}

// Handle is a services.TaskHandler. A nil return settles the delivery; an
// error hands it back to the broker. Conversion failures are recorded on the
// job and return nil; store failures are returned.
func (p *Processor) Handle(ctx context.Context, task models.ConversionTask) error {
	log := p.logger.WithField("job_id", task.DocumentID)

	job, err := p.store.Get(ctx, task.DocumentID)
	if errors.Is(err, models.ErrJobNotFound) {
		log.Warn("Document not found, discarding task")
		return nil
	}
	if err != nil {
		return err
	}
	if job.Status.IsTerminal() {
		log.WithField("status", job.Status).Info("Job already finished, ignoring redelivered task")
		return nil
	}

	timer := p.metrics.StartTimer()
	p.metrics.ConversionStarted()

	if err := job.Start(p.now().UTC()); err != nil {
		p.metrics.ConversionAbandoned()
		return err
	}
	// IN_PROGRESS must be durable before any rendering starts.
	if err := p.store.Update(ctx, job); err != nil {
		p.metrics.ConversionAbandoned()
		return err
	}
	p.cache.Set(ctx, job.StatusView())
	log.WithFields(logrus.Fields{
		"source": job.OriginalFormat,
		"target": job.TargetFormat,
	}).Info("Processing conversion")

	ref, convErr := p.convert(ctx, job)
	if convErr != nil && models.IsStorageError(convErr) {
		p.metrics.ConversionAbandoned()
		log.WithError(convErr).Error("Storage unavailable during conversion")
		return convErr
	}

	if err := job.Finish(ref, convErr, p.now().UTC()); err != nil {
		p.metrics.ConversionAbandoned()
		return err
	}
	if err := p.store.Update(ctx, job); err != nil {
		p.metrics.ConversionAbandoned()
		return err
	}
	p.cache.Set(ctx, job.StatusView())

	duration := timer.Stop()
	if job.Status == models.StatusCompleted {
		p.metrics.ConversionSucceeded()
		log.WithField("duration", duration.Round(time.Millisecond)).Info("Conversion completed")
	} else {
		p.metrics.ConversionFailed()
		log.WithField("duration", duration.Round(time.Millisecond)).WithError(convErr).Warn("Conversion failed")
	}
	return nil
}

func (p *Processor) convert(ctx context.Context, job *models.Job) (string, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	return p.converter.Convert(ctx, job)
}
