// Package objectstore keeps the image bytes referenced by batches and
// custody events. The ledger itself stores only the returned URIs.
package objectstore

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"example.com/backstage/services/provenance/config"
)

// Storage modes
const (
	ModeMemory = "memory"
	ModeGCS    = "gcs"
	ModePinata = "pinata"
)

// ErrObjectNotFound is returned by Get for unknown names
var ErrObjectNotFound = errors.New("object not found")

// Store persists named objects and returns a URI a relying party can fetch
type Store interface {
	Put(ctx context.Context, name, contentType string, data []byte) (string, error)
	Close() error
}

// New creates the store selected by cfg.Mode
func New(ctx context.Context, cfg config.StorageConfig) (Store, error) {
	switch strings.ToLower(cfg.Mode) {
	case "", ModeMemory:
		return NewMemoryStore(), nil
	case ModeGCS:
		return NewGCSStore(ctx, cfg)
	case ModePinata:
		return NewPinataStore(cfg)
	default:
		return nil, errors.Errorf("unknown storage mode %q", cfg.Mode)
	}
}

// MemoryStore keeps objects in process, for development and tests
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// NewMemoryStore creates an empty memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string][]byte)}
}

// Close is a no-op; objects live until the process exits
func (s *MemoryStore) Close() error { return nil }

// Put stores a copy of data under name
func (s *MemoryStore) Put(ctx context.Context, name, _ string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[name] = append([]byte(nil), data...)
	return fmt.Sprintf("mem://%s", name), nil
}

// Get returns a copy of the object stored under name
func (s *MemoryStore) Get(_ context.Context, name string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.objects[name]
	if !ok {
		return nil, errors.Wrap(ErrObjectNotFound, name)
	}
	return append([]byte(nil), data...), nil
}
