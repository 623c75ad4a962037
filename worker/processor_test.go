package worker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"docconvert/converter"
	"docconvert/metrics"
	"docconvert/models"
	"docconvert/services/mocks"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingCache struct {
	statuses []models.JobStatus
}

func (c *recordingCache) Get(context.Context, uuid.UUID) (*models.JobStatusView, bool) {
	return nil, false
}

func (c *recordingCache) Set(_ context.Context, view *models.JobStatusView) {
	c.statuses = append(c.statuses, view.Status)
}

type fixture struct {
	store     *mocks.MockJobStore
	cache     *recordingCache
	metrics   *metrics.Recorder
	calls     atomic.Int32
	convert   func(ctx context.Context, job *models.Job) (string, error)
	processor *Processor
}

func newFixture() *fixture {
	logger, _ := test.NewNullLogger()
	f := &fixture{
		store:   mocks.NewMockJobStore(),
		cache:   &recordingCache{},
		metrics: metrics.NewRecorder(),
	}
	f.convert = func(ctx context.Context, job *models.Job) (string, error) {
		return fmt.Sprintf("converted-%s.png", job.ID), nil
	}
	registry := converter.NewRegistry(map[converter.Pair]converter.Converter{
		{Source: converter.SourcePDF, Target: converter.TargetPNG}: converter.ConverterFunc(func(ctx context.Context, job *models.Job) (string, error) {
			f.calls.Add(1)
			return f.convert(ctx, job)
		}),
	})
	f.processor = NewProcessor(f.store, registry, f.cache, f.metrics, time.Second, logger)
	return f
}

func (f *fixture) seed(t *testing.T, target string) *models.Job {
	t.Helper()
	job, err := models.NewJob(uuid.New(), "report.pdf", "pdf", target, "original-report.pdf", time.Now())
	require.NoError(t, err)
	f.store.Put(*job)
	return job
}

func (f *fixture) get(t *testing.T, id uuid.UUID) *models.Job {
	t.Helper()
	job, err := f.store.Get(context.Background(), id)
	require.NoError(t, err)
	return job
}

func handle(f *fixture, id uuid.UUID) error {
	return f.processor.Handle(context.Background(), models.ConversionTask{DocumentID: id})
}

func TestProcessor_Completes(t *testing.T) {
	f := newFixture()
	job := f.seed(t, "png")

	require.NoError(t, handle(f, job.ID))

	got := f.get(t, job.ID)
	assert.Equal(t, models.StatusCompleted, got.Status)
	assert.Equal(t, fmt.Sprintf("converted-%s.png", job.ID), got.ConvertedFilePath)
	assert.Empty(t, got.ErrorMessage)
	assert.Equal(t, 2, f.store.Updates)
	assert.Equal(t, []models.JobStatus{models.StatusInProgress, models.StatusCompleted}, f.cache.statuses)

	snap := f.metrics.Snapshot()
	assert.Equal(t, int64(1), snap.RequestsTotal)
	assert.Equal(t, int64(1), snap.SuccessTotal)
	assert.Equal(t, int64(0), snap.Active)
	assert.Equal(t, int64(1), snap.DurationCount)
}

func TestProcessor_UnsupportedTargetFails(t *testing.T) {
	f := newFixture()
	job := f.seed(t, "xyz")

	require.NoError(t, handle(f, job.ID))

	got := f.get(t, job.ID)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Contains(t, got.ErrorMessage, "Unsupported target format: xyz")
	assert.Empty(t, got.ConvertedFilePath)
	assert.Zero(t, f.calls.Load())

	snap := f.metrics.Snapshot()
	assert.Equal(t, int64(1), snap.FailureTotal)
	assert.Equal(t, int64(0), snap.Active)
}

func TestProcessor_ConversionErrorCapturedVerbatim(t *testing.T) {
	f := newFixture()
	f.convert = func(ctx context.Context, job *models.Job) (string, error) {
		return "", models.NewConversionError("Failed to convert pdf to png: damaged xref table")
	}
	job := f.seed(t, "png")

	require.NoError(t, handle(f, job.ID))

	got := f.get(t, job.ID)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Equal(t, "Failed to convert pdf to png: damaged xref table", got.ErrorMessage)
}

func TestProcessor_TimeoutFails(t *testing.T) {
	f := newFixture()
	f.processor.timeout = 20 * time.Millisecond
	f.convert = func(ctx context.Context, job *models.Job) (string, error) {
		<-ctx.Done()
		return "", &models.ConversionError{Message: "Failed to convert pdf to png", Err: ctx.Err()}
	}
	job := f.seed(t, "png")

	require.NoError(t, handle(f, job.ID))

	got := f.get(t, job.ID)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Contains(t, got.ErrorMessage, "context deadline exceeded")
}

func TestProcessor_MissingJobDiscarded(t *testing.T) {
	f := newFixture()

	assert.NoError(t, handle(f, uuid.New()))
	assert.Zero(t, f.calls.Load())
	assert.Zero(t, f.metrics.Snapshot().RequestsTotal)
}

func TestProcessor_StoreReadFailurePropagates(t *testing.T) {
	f := newFixture()
	f.store.GetFunc = func(ctx context.Context, id uuid.UUID) (*models.Job, error) {
		return nil, &models.StorageError{Op: "select document", Err: errors.New("connection refused")}
	}

	err := handle(f, uuid.New())
	assert.True(t, models.IsStorageError(err))
}

func TestProcessor_StartPersistFailurePropagates(t *testing.T) {
	f := newFixture()
	job := f.seed(t, "png")
	f.store.UpdateFunc = func(ctx context.Context, job *models.Job) error {
		return &models.StorageError{Op: "update document", Err: errors.New("read-only transaction")}
	}

	require.Error(t, handle(f, job.ID))
	assert.Zero(t, f.calls.Load())
	assert.Equal(t, models.StatusPending, f.get(t, job.ID).Status)
	assert.Equal(t, int64(0), f.metrics.Snapshot().Active)
}

func TestProcessor_StorageErrorDuringConversionPropagates(t *testing.T) {
	f := newFixture()
	f.convert = func(ctx context.Context, job *models.Job) (string, error) {
		return "", &models.StorageError{Op: "read original artifact", Err: errors.New("bucket unavailable")}
	}
	job := f.seed(t, "png")

	err := handle(f, job.ID)
	require.Error(t, err)
	assert.True(t, models.IsStorageError(err))

	got := f.get(t, job.ID)
	assert.Equal(t, models.StatusInProgress, got.Status)
	snap := f.metrics.Snapshot()
	assert.Equal(t, int64(0), snap.Active)
	assert.Equal(t, int64(0), snap.FailureTotal)
	assert.Equal(t, int64(0), snap.DurationCount)
}

func TestProcessor_RedeliveryRetriesInProgressJob(t *testing.T) {
	f := newFixture()
	job := f.seed(t, "png")

	attempts := 0
	f.convert = func(ctx context.Context, job *models.Job) (string, error) {
		attempts++
		if attempts == 1 {
			return "", &models.StorageError{Op: "store converted artifact", Err: errors.New("timeout")}
		}
		return "converted-retry.png", nil
	}

	require.Error(t, handle(f, job.ID))
	require.NoError(t, handle(f, job.ID))

	got := f.get(t, job.ID)
	assert.Equal(t, models.StatusCompleted, got.Status)
	assert.Equal(t, "converted-retry.png", got.ConvertedFilePath)
	assert.Equal(t, 2, attempts)
}

func TestProcessor_RedeliveryOfFinishedJobIsIgnored(t *testing.T) {
	f := newFixture()
	job := f.seed(t, "png")

	require.NoError(t, handle(f, job.ID))
	first := f.get(t, job.ID)

	require.NoError(t, handle(f, job.ID))
	second := f.get(t, job.ID)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), f.calls.Load())
	assert.Equal(t, 2, f.store.Updates)
}
