package storage

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

const memoryScheme = "memory://"

// MemoryBlobStore keeps blobs in process. It stands in for Azure when no
// connection string is configured.
type MemoryBlobStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemoryBlobStore creates an empty store
func NewMemoryBlobStore() *MemoryBlobStore {
	return &MemoryBlobStore{blobs: make(map[string][]byte)}
}

// Upload stores a copy of data and returns a memory:// reference
func (m *MemoryBlobStore) Upload(ctx context.Context, blobPath string, data []byte, metadata map[string]string) (string, error) {
	if blobPath == "" {
		return "", fmt.Errorf("blob path cannot be empty")
	}
	m.mu.Lock()
	m.blobs[blobPath] = append([]byte(nil), data...)
	m.mu.Unlock()
	return memoryScheme + blobPath, nil
}

// Download accepts either a blob path or a reference returned by Upload
func (m *MemoryBlobStore) Download(ctx context.Context, reference string) ([]byte, error) {
	path := strings.TrimPrefix(reference, memoryScheme)
	m.mu.RLock()
	data, ok := m.blobs[path]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, ErrBlobNotFound)
	}
	return append([]byte(nil), data...), nil
}
