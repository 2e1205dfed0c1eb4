package storage

import (
	"context"
	"fmt"
	"sync"
)

// Memory holds image bytes in process memory with the same surface as
// Client. It backs single-process deployments and tests; contents are lost
// at shutdown.
type Memory struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{objects: make(map[string][]byte)}
}

func (m *Memory) ObjectExists(_ context.Context, objectKey string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.objects[objectKey]
	return ok, nil
}

func (m *Memory) ReadObject(_ context.Context, objectKey string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.objects[objectKey]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, objectKey)
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (m *Memory) WriteObject(_ context.Context, objectKey string, data []byte, _ string) error {
	stored := make([]byte, len(data))
	copy(stored, data)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.objects[objectKey] = stored
	return nil
}
