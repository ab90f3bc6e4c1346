// Package memory is a process-local IdentityStore.
package memory

import (
	"context"
	"sync"

	"github.com/brewboard/userauth"
)

// Store keeps records in a map. It is safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	records map[string]userauth.UserRecord
	order   []string
}

func New() *Store {
	return &Store{records: make(map[string]userauth.UserRecord)}
}

func (s *Store) GetByEmail(_ context.Context, email string) (userauth.UserRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[email]
	return rec, ok, nil
}

func (s *Store) InsertIfAbsent(_ context.Context, rec userauth.UserRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[rec.Email]; exists {
		return false, nil
	}
	s.records[rec.Email] = rec
	s.order = append(s.order, rec.Email)
	return true, nil
}

// ListUsers returns records in insertion order.
func (s *Store) ListUsers(_ context.Context) ([]userauth.UserRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]userauth.UserRecord, 0, len(s.order))
	for _, email := range s.order {
		out = append(out, s.records[email])
	}
	return out, nil
}

var (
	_ userauth.IdentityStore = (*Store)(nil)
	_ userauth.UserLister    = (*Store)(nil)
)
