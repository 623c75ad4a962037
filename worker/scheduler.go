package worker

import (
	"context"

	"docconvert/metrics"
	"docconvert/services"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Scheduler runs the periodic housekeeping jobs: stale delivery recovery for
// brokers that need it, and a metrics summary in the log.
type Scheduler struct {
	cron   *cron.Cron
	logger logrus.FieldLogger
}

func NewScheduler(logger logrus.FieldLogger) *Scheduler {
	cronLogger := cron.PrintfLogger(logger)
	return &Scheduler{
		cron: cron.New(cron.WithChain(
			cron.Recover(cronLogger),
			cron.SkipIfStillRunning(cronLogger),
		)),
		logger: logger,
	}
}

// AddRecovery schedules RecoverStale. It is a no-op for brokers that are not
// Recoverers, e.g. RabbitMQ, which redelivers on its own.
func (s *Scheduler) AddRecovery(spec string, broker services.Broker) error {
	recoverer, ok := broker.(services.Recoverer)
	if !ok {
		return nil
	}
	_, err := s.cron.AddFunc(spec, func() {
		if _, err := recoverer.RecoverStale(context.Background()); err != nil {
			s.logger.WithError(err).Error("Stale delivery recovery failed")
		}
	})
	return err
}

func (s *Scheduler) AddMetricsReport(spec string, rec *metrics.Recorder) error {
	_, err := s.cron.AddFunc(spec, func() {
		snap := rec.Snapshot()
		s.logger.WithFields(logrus.Fields{
			"requests": snap.RequestsTotal,
			"success":  snap.SuccessTotal,
			"failure":  snap.FailureTotal,
			"active":   snap.Active,
			"avg_ms":   snap.DurationAvgMillis,
		}).Info("Conversion metrics")
	})
	return err
}

func (s *Scheduler) Len() int {
	return len(s.cron.Entries())
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop prevents new runs and returns a context done when running jobs end.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
