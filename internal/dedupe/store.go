package dedupe

import (
	"context"
	"fmt"
	"regexp"
	"sort"
)

// Store persists one seen set per query. Save must be atomic: after a crash
// the persisted state is either the previous or the new set, never a mix.
// A single writer is assumed.
type Store interface {
	// Load returns the persisted set for queryID, or an empty set when nothing
	// was persisted yet. Unreadable state is reported as *core.StoreCorruptError.
	Load(ctx context.Context, queryID string) (*Set, error)
	Save(ctx context.Context, queryID string, set *Set) error
	Close() error
}

// Set is a set of listing identifiers. The zero value and nil are empty sets.
type Set struct {
	ids map[string]struct{}
}

func NewSet(ids ...string) *Set {
	s := &Set{ids: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		if id != "" {
			s.ids[id] = struct{}{}
		}
	}
	return s
}

func (s *Set) Has(id string) bool {
	if s == nil || s.ids == nil {
		return false
	}
	_, ok := s.ids[id]
	return ok
}

func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.ids)
}

// IDs returns the identifiers in sorted order.
func (s *Set) IDs() []string {
	if s == nil {
		return nil
	}
	out := make([]string, 0, len(s.ids))
	for id := range s.ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// With returns a new set holding s and ids. s is not modified.
func (s *Set) With(ids ...string) *Set {
	out := &Set{ids: make(map[string]struct{}, s.Len()+len(ids))}
	if s != nil {
		for id := range s.ids {
			out.ids[id] = struct{}{}
		}
	}
	for _, id := range ids {
		if id != "" {
			out.ids[id] = struct{}{}
		}
	}
	return out
}

// Equal reports whether both sets hold the same identifiers.
func (s *Set) Equal(other *Set) bool {
	if s.Len() != other.Len() {
		return false
	}
	if s == nil {
		return true
	}
	for id := range s.ids {
		if !other.Has(id) {
			return false
		}
	}
	return true
}

var queryIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

// ValidateQueryID rejects identifiers that cannot be used as a file name or key prefix.
func ValidateQueryID(queryID string) error {
	if !queryIDPattern.MatchString(queryID) {
		return fmt.Errorf("query id %q must match %s", queryID, queryIDPattern.String())
	}
	return nil
}
