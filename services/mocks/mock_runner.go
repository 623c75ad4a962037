package mocks

import (
	"context"
	"sync"
)

type RunnerCall struct {
	Name string
	Args []string
}

// MockRunner stands in for services.CommandRunner. RunFunc typically writes
// the file the real tool would have produced.
type MockRunner struct {
	mu    sync.Mutex
	Calls []RunnerCall

	RunFunc func(ctx context.Context, name string, args ...string) error
}

func (m *MockRunner) Run(ctx context.Context, name string, args ...string) error {
	m.mu.Lock()
	m.Calls = append(m.Calls, RunnerCall{Name: name, Args: append([]string(nil), args...)})
	m.mu.Unlock()
	if m.RunFunc != nil {
		return m.RunFunc(ctx, name, args...)
	}
	return nil
}
