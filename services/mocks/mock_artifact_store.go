package mocks

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var ErrArtifactNotFound = errors.New("artifact not found")

// MockArtifactStore keeps artifacts in memory under their name hint.
type MockArtifactStore struct {
	mu    sync.Mutex
	files map[string][]byte

	StoreFunc func(ctx context.Context, data []byte, nameHint string) (string, error)
	ReadFunc  func(ctx context.Context, ref string) ([]byte, error)
}

func NewMockArtifactStore() *MockArtifactStore {
	return &MockArtifactStore{files: make(map[string][]byte)}
}

func (m *MockArtifactStore) Store(ctx context.Context, data []byte, nameHint string) (string, error) {
	if m.StoreFunc != nil {
		return m.StoreFunc(ctx, data, nameHint)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[nameHint] = append([]byte(nil), data...)
	return nameHint, nil
}

func (m *MockArtifactStore) Read(ctx context.Context, ref string) ([]byte, error) {
	if m.ReadFunc != nil {
		return m.ReadFunc(ctx, ref)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[ref]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrArtifactNotFound, ref)
	}
	return append([]byte(nil), data...), nil
}

// Refs lists stored artifact references.
func (m *MockArtifactStore) Refs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	refs := make([]string, 0, len(m.files))
	for ref := range m.files {
		refs = append(refs, ref)
	}
	return refs
}
