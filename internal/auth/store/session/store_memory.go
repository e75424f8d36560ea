package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"stockroom/internal/auth/models"
	"stockroom/pkg/platform/sentinel"
)

type memoryEntry struct {
	session   *models.Session
	expiresAt time.Time
}

// InMemorySessionStore is a process-local Store for development and tests.
// Entries expire lazily on read, mirroring Redis TTL semantics.
type InMemorySessionStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// New constructs an empty in-memory store.
func New() *InMemorySessionStore {
	return &InMemorySessionStore{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// NewWithClock lets tests control TTL expiry.
func NewWithClock(now func() time.Time) *InMemorySessionStore {
	s := New()
	s.now = now
	return s
}

func (s *InMemorySessionStore) Put(_ context.Context, id string, session *models.Session, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("ttl must be positive: %w", sentinel.ErrInvalidState)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[id] = memoryEntry{session: session.Clone(), expiresAt: s.now().Add(ttl)}
	return nil
}

func (s *InMemorySessionStore) Get(_ context.Context, id string) (*models.Session, error) {
	s.mu.RLock()
	entry, ok := s.entries[id]
	s.mu.RUnlock()
	if !ok || !s.now().Before(entry.expiresAt) {
		return nil, sentinel.ErrNotFound
	}
	return entry.session.Clone(), nil
}

func (s *InMemorySessionStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, id)
	return nil
}

// ListAll returns live sessions ordered by creation time.
func (s *InMemorySessionStore) ListAll(_ context.Context) ([]*models.Session, error) {
	now := s.now()
	s.mu.RLock()
	out := make([]*models.Session, 0, len(s.entries))
	for _, entry := range s.entries {
		if now.Before(entry.expiresAt) {
			out = append(out, entry.session.Clone())
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}
