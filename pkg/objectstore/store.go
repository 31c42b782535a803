// Package objectstore stores raw inbound payloads and documents under
// opaque keys. Callers choose content-addressed keys; the store never
// interprets them.
package objectstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/orderflow-io/orderflow/pkg/model"
)

// Store is the object storage port.
type Store interface {
	Put(ctx context.Context, key string, data []byte) error
	// Get returns model.ErrNotFound for unknown keys.
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	// PresignedRead returns a time-limited URL for direct download, or an
	// error when the backend cannot presign.
	PresignedRead(ctx context.Context, key string, expiry time.Duration) (string, error)
}

// RawMessageKey addresses a stored inbound payload by tenant and content.
func RawMessageKey(tenantID, sha256Hex string) string {
	return fmt.Sprintf("%s/raw/%s", tenantID, sha256Hex)
}

// DocumentKey addresses a stored document by tenant and content.
func DocumentKey(tenantID, sha256Hex string) string {
	return fmt.Sprintf("%s/documents/%s", tenantID, sha256Hex)
}

// FSStore keeps objects under a base directory, one file per key.
type FSStore struct {
	base string
}

func NewFSStore(base string) (*FSStore, error) {
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, fmt.Errorf("objectstore: create base dir: %w", err)
	}
	return &FSStore{base: base}, nil
}

func (s *FSStore) path(key string) (string, error) {
	clean := filepath.Clean(key)
	if strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", fmt.Errorf("objectstore: invalid key %q", key)
	}
	return filepath.Join(s.base, clean), nil
}

func (s *FSStore) Put(_ context.Context, key string, data []byte) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("%w: mkdir: %v", model.ErrTransientStorage, err)
	}
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("%w: write: %v", model.ErrTransientStorage, err)
	}
	if err := os.Rename(tmp, p); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("%w: rename: %v", model.ErrTransientStorage, err)
	}
	return nil
}

func (s *FSStore) Get(_ context.Context, key string) ([]byte, error) {
	p, err := s.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if os.IsNotExist(err) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read: %v", model.ErrTransientStorage, err)
	}
	return data, nil
}

func (s *FSStore) Delete(_ context.Context, key string) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: remove: %v", model.ErrTransientStorage, err)
	}
	return nil
}

func (s *FSStore) PresignedRead(context.Context, string, time.Duration) (string, error) {
	return "", fmt.Errorf("objectstore: filesystem store cannot presign")
}

// MemoryStore is the test double.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: map[string][]byte{}}
}

func (s *MemoryStore) Put(_ context.Context, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	s.objects[key] = cp
	return nil
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.objects[key]
	if !ok {
		return nil, model.ErrNotFound
	}
	return data, nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

func (s *MemoryStore) PresignedRead(_ context.Context, key string, _ time.Duration) (string, error) {
	return "memory://" + key, nil
}
