package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// ErrNotFound is returned when no entry exists for a key
var ErrNotFound = errors.New("settings entry not found")

// Entry holds the raw variable source for one rule set.
// Variables is kept undecoded so malformed data surfaces at evaluation time
// for that rule set only.
type Entry struct {
	Key       string          `json:"key"`
	Name      string          `json:"name"`
	Variables json.RawMessage `json:"variables"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// Matches reports whether the entry belongs to the rule set with the given key
func (e Entry) Matches(key string) bool {
	return key != "" && (e.Key == key || e.Name == key)
}

// Store lists the settings collection
type Store interface {
	List(ctx context.Context) ([]Entry, error)
}

// MutableStore is a Store that can also be edited
type MutableStore interface {
	Store

	// Get an entry by key
	Get(ctx context.Context, key string) (*Entry, error)

	// Put inserts or replaces an entry
	Put(ctx context.Context, entry *Entry) error

	// Delete an entry
	Delete(ctx context.Context, key string) error
}

// InMemoryStore implements MutableStore using an in-memory map
// Thread-safe with RWMutex
type InMemoryStore struct {
	entries map[string]*Entry
	mu      sync.RWMutex
}

// NewInMemoryStore creates a new in-memory settings store
func NewInMemoryStore(entries ...Entry) *InMemoryStore {
	s := &InMemoryStore{
		entries: make(map[string]*Entry),
	}
	for i := range entries {
		e := entries[i]
		s.entries[e.Key] = &e
	}
	return s
}

// List returns all entries ordered by key
func (s *InMemoryStore) List(ctx context.Context) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Get retrieves an entry by key
func (s *InMemoryStore) Get(ctx context.Context, key string) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	copied := *e
	return &copied, nil
}

// Put inserts or replaces an entry, preserving the original CreatedAt
func (s *InMemoryStore) Put(ctx context.Context, entry *Entry) error {
	if entry.Key == "" {
		return fmt.Errorf("settings entry key is required")
	}
	if !json.Valid(entry.Variables) {
		return fmt.Errorf("variables for %s are not valid JSON", entry.Key)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	entry.UpdatedAt = now
	if existing, ok := s.entries[entry.Key]; ok {
		entry.CreatedAt = existing.CreatedAt
	} else {
		entry.CreatedAt = now
	}
	stored := *entry
	s.entries[entry.Key] = &stored
	return nil
}

// Delete removes an entry
func (s *InMemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[key]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	delete(s.entries, key)
	return nil
}
