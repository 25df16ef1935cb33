package repository

import (
	"context"
	"sync"

	"github.com/djyosi/rubisos/internal/models"
)

// MemoryStore is the default persistence collaborator: plain maps, no
// durability. It keeps the single dispatch code path intact when no database
// is configured.
type MemoryStore struct {
	mu     sync.RWMutex
	users  map[string]*models.User
	alerts map[string]*models.Alert
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:  make(map[string]*models.User),
		alerts: make(map[string]*models.Alert),
	}
}

// UpsertUser stores a copy of the user snapshot.
func (s *MemoryStore) UpsertUser(_ context.Context, user *models.User) error {
	cp := *user
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[user.ID] = &cp
	return nil
}

// SaveAlert stores a copy of the alert snapshot.
func (s *MemoryStore) SaveAlert(_ context.Context, alert *models.Alert) error {
	cp := alert.Clone()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts[alert.ID] = cp
	return nil
}

// UserCount reports how many users have been persisted.
func (s *MemoryStore) UserCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users)
}

// AlertCount reports how many alerts have been persisted.
func (s *MemoryStore) AlertCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.alerts)
}
