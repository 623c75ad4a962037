package mocks

import (
	"context"
	"errors"
	"sync"

	"docconvert/models"
	"docconvert/services"
)

// MockBroker records published tasks. Deliver runs them through a handler
// synchronously, which lets tests drive the consumer without goroutines.
type MockBroker struct {
	mu     sync.Mutex
	tasks  []models.ConversionTask
	closed bool

	PublishFunc func(ctx context.Context, task models.ConversionTask) error
}

func NewMockBroker() *MockBroker {
	return &MockBroker{}
}

func (m *MockBroker) Publish(ctx context.Context, task models.ConversionTask) error {
	if m.PublishFunc != nil {
		return m.PublishFunc(ctx, task)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errors.New("broker is closed")
	}
	m.tasks = append(m.tasks, task)
	return nil
}

// Consume drains the recorded tasks through handler and then blocks until
// ctx is done.
func (m *MockBroker) Consume(ctx context.Context, handler services.TaskHandler) error {
	m.Deliver(ctx, handler)
	<-ctx.Done()
	return nil
}

// Deliver hands every recorded task to handler once, in publish order, and
// returns the handler errors.
func (m *MockBroker) Deliver(ctx context.Context, handler services.TaskHandler) []error {
	var errs []error
	for _, task := range m.Drain() {
		errs = append(errs, handler(ctx, task))
	}
	return errs
}

func (m *MockBroker) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Tasks returns a copy of the undelivered tasks.
func (m *MockBroker) Tasks() []models.ConversionTask {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.ConversionTask(nil), m.tasks...)
}

// Drain removes and returns the undelivered tasks.
func (m *MockBroker) Drain() []models.ConversionTask {
	m.mu.Lock()
	defer m.mu.Unlock()
	tasks := m.tasks
	m.tasks = nil
	return tasks
}
