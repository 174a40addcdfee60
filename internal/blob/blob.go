// Package blob abstracts the object store raster artifacts are uploaded
// to. The core only ever needs upload-and-get-a-URL.
package blob

import (
	"context"
	"fmt"
	"sync"
)

// Store uploads a blob and returns its public URL.
type Store interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// Memory is an in-process Store for tests. It records every upload.
type Memory struct {
	mu      sync.Mutex
	objects map[string][]byte
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{objects: make(map[string][]byte)}
}

// Upload stores the bytes under key and returns a synthetic URL.
func (m *Memory) Upload(_ context.Context, key string, data []byte, _ string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	buf := make([]byte, len(data))
	copy(buf, data)
	m.objects[key] = buf
	return fmt.Sprintf("mem://%s", key), nil
}

// Get returns the stored bytes for key, nil if absent.
func (m *Memory) Get(key string) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.objects[key]
}

// Len returns the number of stored objects.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}
