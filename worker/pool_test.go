package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"docconvert/models"
	"docconvert/services"
	"docconvert/services/mocks"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_RunProcessesPublishedTasks(t *testing.T) {
	f := newFixture()
	job := f.seed(t, "png")
	broker := mocks.NewMockBroker()
	require.NoError(t, broker.Publish(context.Background(), models.ConversionTask{DocumentID: job.ID}))

	logger, _ := test.NewNullLogger()
	pool := NewPool(broker, f.processor, logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pool.Run(ctx) }()

	assert.Eventually(t, func() bool {
		got, err := f.store.Get(context.Background(), job.ID)
		return err == nil && got.Status == models.StatusCompleted
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("pool did not stop")
	}
}

type flakyBroker struct {
	mocks.MockBroker
	consumes atomic.Int32
}

func (b *flakyBroker) Consume(ctx context.Context, handler services.TaskHandler) error {
	if b.consumes.Add(1) < 3 {
		return errors.New("channel closed")
	}
	<-ctx.Done()
	return nil
}

func TestPool_ResubscribesAfterConsumeError(t *testing.T) {
	f := newFixture()
	broker := &flakyBroker{}
	logger, _ := test.NewNullLogger()
	pool := NewPool(broker, f.processor, logger)
	pool.retryDelay = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pool.Run(ctx) }()

	assert.Eventually(t, func() bool { return broker.consumes.Load() >= 3 }, time.Second, time.Millisecond)
	cancel()
	assert.NoError(t, <-done)
}
