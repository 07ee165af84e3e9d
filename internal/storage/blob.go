// Package storage uploads chat images and group avatars.
package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

// ErrBlobNotFound is returned by Delete for an unknown path
var ErrBlobNotFound = errors.New("blob not found")

// BlobStore stores opaque binary objects and hands back public URLs
type BlobStore interface {
	Upload(ctx context.Context, data []byte, path string) (string, error)
	Delete(ctx context.Context, path string) error
}

// ImagePath builds a unique object key under dir, using the sniffed extension.
// Non-image payloads are rejected.
func ImagePath(dir string, data []byte) (string, error) {
	mt := mimetype.Detect(data)
	if !strings.HasPrefix(mt.String(), "image/") {
		return "", fmt.Errorf("unsupported content type %s", mt.String())
	}
	return path.Join(dir, uuid.New().String()+mt.Extension()), nil
}

// MemoryBlobStore keeps blobs in a map; used for development and tests
type MemoryBlobStore struct {
	mu      sync.RWMutex
	baseURL string
	blobs   map[string][]byte
}

// NewMemoryBlobStore serves URLs as baseURL/path
func NewMemoryBlobStore(baseURL string) *MemoryBlobStore {
	return &MemoryBlobStore{
		baseURL: strings.TrimRight(baseURL, "/"),
		blobs:   make(map[string][]byte),
	}
}

func (m *MemoryBlobStore) Upload(ctx context.Context, data []byte, p string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.blobs[p] = append([]byte(nil), data...)
	return m.baseURL + "/" + p, nil
}

func (m *MemoryBlobStore) Delete(ctx context.Context, p string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.blobs[p]; !ok {
		return ErrBlobNotFound
	}
	delete(m.blobs, p)
	return nil
}

// Has reports whether a blob exists at p
func (m *MemoryBlobStore) Has(p string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.blobs[p]
	return ok
}
