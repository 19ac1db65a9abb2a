package idempotency

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/segyhp/tuition-engine/pkg/utils"
)

// MemoryStore is a single-process Store for tests and local runs.
type MemoryStore struct {
	mu      sync.Mutex
	clock   utils.Clock
	lease   time.Duration
	ttl     time.Duration
	entries map[string]memoryEntry
}

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

// NewMemoryStore holds pending reservations for lease and completed keys for ttl.
func NewMemoryStore(clock utils.Clock, lease, ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		clock:   clock,
		lease:   lease,
		ttl:     ttl,
		entries: make(map[string]memoryEntry),
	}
}

func (s *MemoryStore) Reserve(ctx context.Context, key string) (Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	if e, ok := s.entries[key]; ok && now.Before(e.expiresAt) {
		return decode(e.value)
	}
	s.entries[key] = memoryEntry{value: pendingValue, expiresAt: now.Add(s.lease)}
	return Reservation{State: StateNew}, nil
}

func (s *MemoryStore) Complete(ctx context.Context, key string, resourceID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = memoryEntry{value: donePrefix + resourceID.String(), expiresAt: s.clock.Now().Add(s.ttl)}
	return nil
}

func (s *MemoryStore) Release(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}
