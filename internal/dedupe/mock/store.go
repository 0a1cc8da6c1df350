package mock

import (
	"context"
	"sync"

	"github.com/bakkerme/listing-notifier/internal/dedupe"
)

// Store is an in-memory dedupe.Store with injectable failures.
type Store struct {
	mu      sync.Mutex
	sets    map[string]*dedupe.Set
	LoadErr map[string]error
	SaveErr map[string]error

	Loads []string
	Saves []string
}

func NewStore() *Store {
	return &Store{sets: make(map[string]*dedupe.Set)}
}

// Seed sets the persisted state for queryID without recording a save.
func (s *Store) Seed(queryID string, ids ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sets[queryID] = dedupe.NewSet(ids...)
}

func (s *Store) Load(ctx context.Context, queryID string) (*dedupe.Set, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Loads = append(s.Loads, queryID)
	if err, ok := s.LoadErr[queryID]; ok {
		return nil, err
	}
	if set, ok := s.sets[queryID]; ok {
		return set.With(), nil
	}
	return dedupe.NewSet(), nil
}

func (s *Store) Save(ctx context.Context, queryID string, set *dedupe.Set) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err, ok := s.SaveErr[queryID]; ok {
		return err
	}
	s.Saves = append(s.Saves, queryID)
	s.sets[queryID] = set.With()
	return nil
}

func (s *Store) Close() error {
	return nil
}

// Persisted returns a copy of the stored set for queryID.
func (s *Store) Persisted(queryID string) *dedupe.Set {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sets[queryID].With()
}

// SaveCount returns how many successful saves were recorded for queryID.
func (s *Store) SaveCount(queryID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, id := range s.Saves {
		if id == queryID {
			n++
		}
	}
	return n
}
