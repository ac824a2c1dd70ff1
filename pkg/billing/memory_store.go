package billing

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memoryStore struct {
	mu      sync.RWMutex
	records map[uuid.UUID]*Entitlement
}

// NewMemoryStore returns an in-memory Store for tests and provider-less
// deployments. Records are deep-copied on the way in and out so callers can
// never mutate stored state without going through Update.
func NewMemoryStore() Store {
	return &memoryStore{
		records: make(map[uuid.UUID]*Entitlement),
	}
}

func (s *memoryStore) Get(ctx context.Context, userID uuid.UUID) (*Entitlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.records[userID]
	if !ok {
		return nil, ErrEntitlementNotFound
	}
	return cloneEntitlement(e), nil
}

func (s *memoryStore) Create(ctx context.Context, e *Entitlement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[e.UserID]; ok {
		return ErrVersionConflict
	}

	now := time.Now().UTC()
	e.Version = 1
	e.CreatedAt = now
	e.UpdatedAt = now
	s.records[e.UserID] = cloneEntitlement(e)
	return nil
}

func (s *memoryStore) Update(ctx context.Context, e *Entitlement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.records[e.UserID]
	if !ok {
		return ErrEntitlementNotFound
	}
	if stored.Version != e.Version {
		return ErrVersionConflict
	}

	e.Version++
	e.CreatedAt = stored.CreatedAt
	e.UpdatedAt = time.Now().UTC()
	s.records[e.UserID] = cloneEntitlement(e)
	return nil
}
