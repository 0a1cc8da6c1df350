package mock

import (
	"context"
	"sync"

	"github.com/bakkerme/listing-notifier/internal/core"
)

// Notifier records delivered listings. Listings whose ID is in Fail are
// rejected with the mapped error.
type Notifier struct {
	mu        sync.Mutex
	Fail      map[string]error
	Delivered []core.Listing
	// OnNotify, when set, runs before each delivery.
	OnNotify func(ctx context.Context, listing core.Listing)
}

func (n *Notifier) Notify(ctx context.Context, query core.SearchQuery, listing core.Listing) error {
	if n.OnNotify != nil {
		n.OnNotify(ctx, listing)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if err, ok := n.Fail[listing.ID]; ok {
		return err
	}
	n.Delivered = append(n.Delivered, listing)
	return nil
}

// IDs returns the delivered listing identifiers in delivery order.
func (n *Notifier) IDs() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	ids := make([]string, len(n.Delivered))
	for i, l := range n.Delivered {
		ids[i] = l.ID
	}
	return ids
}

// Reset clears the recorded deliveries.
func (n *Notifier) Reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Delivered = nil
}

// BatchNotifier records one batch per NotifyBatch call.
type BatchNotifier struct {
	Notifier
	Err     error
	Batches [][]core.Listing
}

func (b *BatchNotifier) NotifyBatch(ctx context.Context, query core.SearchQuery, listings []core.Listing) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.Err != nil {
		return b.Err
	}
	b.Batches = append(b.Batches, append([]core.Listing(nil), listings...))
	b.Delivered = append(b.Delivered, listings...)
	return nil
}
