package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/recaphq/recap/internal/mention"
)

// StaticContentSource is a scripted mention.ContentSource backed by a map.
//
// Thread-safe for concurrent use.
type StaticContentSource struct {
	mu      sync.Mutex
	entries map[string]staticEntry
	lookups int
}

type staticEntry struct {
	owner   string
	content string
	err     error
}

// NewStaticContentSource creates an empty source.
func NewStaticContentSource() *StaticContentSource {
	return &StaticContentSource{entries: make(map[string]staticEntry)}
}

// Add registers entity content owned by owner.
func (s *StaticContentSource) Add(entityType, entityID, owner, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[entityType+":"+entityID] = staticEntry{owner: owner, content: content}
}

// AddError makes lookups of the entity return err regardless of user.
func (s *StaticContentSource) AddError(entityType, entityID string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[entityType+":"+entityID] = staticEntry{err: err}
}

// Lookups returns how many LookupContent calls were made.
func (s *StaticContentSource) Lookups() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lookups
}

// LookupContent implements mention.ContentSource with owner enforcement:
// unknown entities yield mention.ErrNotFound, foreign ones
// mention.ErrForbidden.
func (s *StaticContentSource) LookupContent(_ context.Context, entityType, entityID, userID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookups++

	e, ok := s.entries[entityType+":"+entityID]
	if !ok {
		return "", fmt.Errorf("%s %s: %w", entityType, entityID, mention.ErrNotFound)
	}
	if e.err != nil {
		return "", e.err
	}
	if e.owner != userID {
		return "", fmt.Errorf("%s %s: %w", entityType, entityID, mention.ErrForbidden)
	}
	return e.content, nil
}
