// Package diff separates listings that were already reported from new ones.
package diff

import (
	"iter"

	"github.com/bakkerme/listing-notifier/internal/core"
	"github.com/bakkerme/listing-notifier/internal/dedupe"
)

// Result holds the novel listings in input order and the seen set that would
// be persisted if every novel listing were delivered.
type Result struct {
	Novel     []core.Listing
	Candidate *dedupe.Set
}

// IDs returns the identifiers of the novel listings in order.
func (r Result) IDs() []string {
	ids := make([]string, len(r.Novel))
	for i, l := range r.Novel {
		ids[i] = l.ID
	}
	return ids
}

// Diff returns listings whose identifier is neither in seen nor earlier in the
// same input. seen is not modified.
func Diff(seen *dedupe.Set, listings iter.Seq[core.Listing]) Result {
	var novel []core.Listing
	batch := make(map[string]struct{})
	for l := range listings {
		if l.ID == "" || seen.Has(l.ID) {
			continue
		}
		if _, dup := batch[l.ID]; dup {
			continue
		}
		batch[l.ID] = struct{}{}
		novel = append(novel, l)
	}
	res := Result{Novel: novel}
	res.Candidate = seen.With(res.IDs()...)
	return res
}
