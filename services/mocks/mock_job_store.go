package mocks

import (
	"context"
	"sync"

	"docconvert/models"

	"github.com/google/uuid"
)

// MockJobStore is an in-memory services.JobStore. The Func fields override
// the default behaviour for failure injection.
type MockJobStore struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]models.Job

	CreateFunc func(ctx context.Context, job *models.Job) (uuid.UUID, error)
	GetFunc    func(ctx context.Context, id uuid.UUID) (*models.Job, error)
	UpdateFunc func(ctx context.Context, job *models.Job) error

	Updates int
}

func NewMockJobStore() *MockJobStore {
	return &MockJobStore{jobs: make(map[uuid.UUID]models.Job)}
}

func (m *MockJobStore) Create(ctx context.Context, job *models.Job) (uuid.UUID, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, job)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = *job
	return job.ID, nil
}

func (m *MockJobStore) Get(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, models.ErrJobNotFound
	}
	return &job, nil
}

func (m *MockJobStore) Update(ctx context.Context, job *models.Job) error {
	if m.UpdateFunc != nil {
		return m.UpdateFunc(ctx, job)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[job.ID]; !ok {
		return models.ErrJobNotFound
	}
	m.jobs[job.ID] = *job
	m.Updates++
	return nil
}

func (m *MockJobStore) Delete(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.jobs, id)
	return nil
}

// Put seeds a job without going through Create.
func (m *MockJobStore) Put(job models.Job) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = job
}

func (m *MockJobStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.jobs)
}
