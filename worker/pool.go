package worker

import (
	"context"
	"time"

	"docconvert/services"

	"github.com/sirupsen/logrus"
)

// Pool feeds broker deliveries to the processor. Concurrency is bounded by
// the broker (prefetch and semaphore for RabbitMQ, one goroutine per worker
// for Redis).
type Pool struct {
	broker     services.Broker
	processor  *Processor
	logger     logrus.FieldLogger
	retryDelay time.Duration
}

func NewPool(broker services.Broker, processor *Processor, logger logrus.FieldLogger) *Pool {
	return &Pool{
		broker:     broker,
		processor:  processor,
		logger:     logger,
		retryDelay: 5 * time.Second,
	}
}

// Run consumes until ctx is done, re-subscribing after broker errors.
func (p *Pool) Run(ctx context.Context) error {
	p.logger.Info("Starting conversion workers")

	for {
		err := p.broker.Consume(ctx, p.processor.Handle)
		if ctx.Err() != nil {
			p.logger.Info("Conversion workers stopped")
			return nil
		}
		if err != nil {
			p.logger.WithError(err).Error("Consumer stopped, resubscribing")
		}

		select {
		case <-ctx.Done():
			p.logger.Info("Conversion workers stopped")
			return nil
		case <-time.After(p.retryDelay):
		}
	}
}
