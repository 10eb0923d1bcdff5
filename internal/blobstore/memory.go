package blobstore

import (
	"context"
	"cmp"
	"fmt"
	"sync"
	"time"
)

// MemoryStore keeps objects in process memory. It is meant for local runs and
// tests.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
	baseURL string
	now     func() time.Time
}

// NewMemoryStore returns an empty store whose URLs are rooted at baseURL.
//
// Nothing serves those URLs, and SignedURL only stamps an expires query
// parameter without ever checking it. The store must not back any real
// download path; configuration refuses it in production.
func NewMemoryStore(baseURL string) *MemoryStore {
	return &MemoryStore{
		objects: make(map[string][]byte),
		baseURL: cmp.Or(baseURL, "memory://educhain"),
		now:     time.Now,
	}
}

func (s *MemoryStore) Put(ctx context.Context, category, hint string, data []byte) (Object, error) {
	if err := ctx.Err(); err != nil {
		return Object{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	key, err := NewKey(category, hint)
	if err != nil {
		return Object{}, err
	}
	stored := make([]byte, len(data))
	copy(stored, data)

	s.mu.Lock()
	s.objects[key] = stored
	s.mu.Unlock()

	return Object{Key: key, PublicURL: publicURL(s.baseURL, key)}, nil
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.objects[key]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (s *MemoryStore) SignedURL(_ context.Context, key string, ttl time.Duration) (string, error) {
	s.mu.RLock()
	_, ok := s.objects[key]
	s.mu.RUnlock()
	if !ok {
		return "", ErrNotFound
	}
	expires := s.now().Add(ClampTTL(ttl)).Unix()
	return fmt.Sprintf("%s?expires=%d", publicURL(s.baseURL, key), expires), nil
}

// Len reports how many objects are stored, including orphans.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}

var _ Store = (*MemoryStore)(nil)
