package principal

import (
	"context"
	"errors"
	"sync"
)

// MemoryStore is an in-process Store for tests, demos and single-node tools.
type MemoryStore struct {
	mu           sync.RWMutex
	byID         map[string]Principal
	byIdentifier map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:         make(map[string]Principal),
		byIdentifier: make(map[string]string),
	}
}

// Create stores p. The identifier is normalized.
func (s *MemoryStore) Create(_ context.Context, p Principal) (Principal, error) {
	if p.ID == "" || p.Identifier == "" {
		return Principal{}, errors.New("principal: id and identifier required")
	}
	p.Identifier = NormalizeIdentifier(p.Identifier)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[p.ID]; ok {
		return Principal{}, ErrConflict
	}
	if _, ok := s.byIdentifier[p.Identifier]; ok {
		return Principal{}, ErrConflict
	}
	s.byID[p.ID] = p
	s.byIdentifier[p.Identifier] = p.ID
	return p, nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.byID[id]
	if !ok {
		return Principal{}, ErrNotFound
	}
	return p, nil
}

func (s *MemoryStore) FindByIdentifier(_ context.Context, identifier string) (Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byIdentifier[NormalizeIdentifier(identifier)]
	if !ok {
		return Principal{}, ErrNotFound
	}
	return s.byID[id], nil
}

func (s *MemoryStore) UpdateCredentials(_ context.Context, id string, upd CredentialsUpdate) (Principal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.byID[id]
	if !ok {
		return Principal{}, ErrNotFound
	}
	if p.TokenVersion != upd.ExpectedVersion {
		return Principal{}, ErrVersionConflict
	}
	p.PasswordHash = upd.PasswordHash
	p.PasswordChangedAt = upd.ChangedAt
	p.TokenVersion++
	s.byID[id] = p
	return p, nil
}

func (s *MemoryStore) MarkVerified(_ context.Context, id string) (Principal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.byID[id]
	if !ok {
		return Principal{}, ErrNotFound
	}
	p.Verified = true
	s.byID[id] = p
	return p, nil
}
