// Package jobs is the submission side of the pipeline: it validates uploads,
// stores the original, records the PENDING job and publishes its task. It
// also serves the status and download read paths.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"docconvert/models"
	"docconvert/services"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type Submission struct {
	FileName     string
	Content      []byte
	TargetFormat string
}

type Download struct {
	Data     []byte
	FileName string
}

type Service struct {
	store     services.JobStore
	artifacts services.ArtifactStore
	broker    services.Broker
	cache     services.StatusCache
	logger    logrus.FieldLogger
	now       func() time.Time
	newID     func() uuid.UUID
}

func NewService(store services.JobStore, artifacts services.ArtifactStore, broker services.Broker, cache services.StatusCache, logger logrus.FieldLogger) *Service {
	if cache == nil {
		cache = services.NoopStatusCache{}
	}
	return &Service{
		store:     store,
		artifacts: artifacts,
		broker:    broker,
		cache:     cache,
		logger:    logger,
		now:       time.Now,
		newID:     uuid.New,
	}
}

// Submit accepts a document for asynchronous conversion and returns the
// PENDING job. Nothing is recorded or published for an invalid submission.
func (s *Service) Submit(ctx context.Context, sub Submission) (*models.Job, error) {
	sourceFormat, err := validate(sub)
	if err != nil {
		return nil, err
	}

	id := s.newID()
	fileName := path.Base(sub.FileName)
	ref, err := s.artifacts.Store(ctx, sub.Content, fmt.Sprintf("original-%s-%s", id, fileName))
	if err != nil {
		return nil, asStorageError("store original artifact", err)
	}

	job, err := models.NewJob(id, fileName, sourceFormat, strings.TrimSpace(sub.TargetFormat), ref, s.now().UTC())
	if err != nil {
		return nil, err
	}
	if job.ID, err = s.store.Create(ctx, job); err != nil {
		return nil, asStorageError("create job", err)
	}

	if err := s.broker.Publish(ctx, models.ConversionTask{DocumentID: job.ID}); err != nil {
		// An unpublished job would stay PENDING forever.
		if delErr := s.store.Delete(ctx, job.ID); delErr != nil {
			s.logger.WithError(delErr).WithField("job_id", job.ID).Error("Failed to roll back unpublished job")
		}
		return nil, asStorageError("publish conversion task", err)
	}

	s.logger.WithFields(logrus.Fields{
		"job_id": job.ID,
		"file":   job.OriginalFileName,
		"source": job.OriginalFormat,
		"target": job.TargetFormat,
	}).Info("Conversion submitted")
	return job, nil
}

// Status serves the status read path from the cache when it can. Only
// terminal views are cached here; the consumer owns every other cache write.
func (s *Service) Status(ctx context.Context, id uuid.UUID) (*models.JobStatusView, error) {
	if view, ok := s.cache.Get(ctx, id); ok {
		return view, nil
	}
	job, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, lookupError(err)
	}
	view := job.StatusView()
	if view.Status.IsTerminal() {
		s.cache.Set(ctx, view)
	}
	return view, nil
}

func (s *Service) Download(ctx context.Context, id uuid.UUID) (*Download, error) {
	job, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, lookupError(err)
	}
	if job.Status != models.StatusCompleted {
		return nil, models.ErrNotCompleted
	}
	data, err := s.artifacts.Read(ctx, job.ConvertedFilePath)
	if err != nil {
		return nil, asStorageError("read converted artifact", err)
	}
	return &Download{Data: data, FileName: job.ConvertedFileName}, nil
}

// validate checks the submission and returns the lower-cased source format
// taken from the file extension. The target format is only checked for
// presence; unknown targets fail later in the registry.
func validate(sub Submission) (string, error) {
	verr := &models.ValidationError{}
	if sub.FileName == "" && len(sub.Content) == 0 {
		verr.Add("file", "File is required")
	} else if len(sub.Content) == 0 {
		verr.Add("file", "File is empty")
	}
	if strings.TrimSpace(sub.TargetFormat) == "" {
		verr.Add("targetFormat", "Target format is required")
	}

	var sourceFormat string
	if sub.FileName != "" {
		if strings.Contains(sub.FileName, "..") {
			verr.Add("file", "Filename contains invalid path sequence")
		}
		ext := strings.TrimPrefix(path.Ext(sub.FileName), ".")
		if ext == "" {
			verr.Add("file", "Invalid file format")
		}
		sourceFormat = strings.ToLower(ext)
	}

	if verr.HasError() {
		return "", verr
	}
	return sourceFormat, nil
}

func lookupError(err error) error {
	if errors.Is(err, models.ErrJobNotFound) {
		return err
	}
	return asStorageError("load job", err)
}

func asStorageError(op string, err error) error {
	if models.IsStorageError(err) {
		return err
	}
	return &models.StorageError{Op: op, Err: err}
}
