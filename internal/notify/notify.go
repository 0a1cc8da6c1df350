// Package notify delivers novel listings to users. The scheduler only needs
// the per-listing outcome; transports decide how listings are grouped.
package notify

import (
	"context"

	"github.com/bakkerme/listing-notifier/internal/core"
)

// Notifier delivers a single listing for a query.
type Notifier interface {
	Notify(ctx context.Context, query core.SearchQuery, listing core.Listing) error
}

// BatchNotifier delivers every listing of a query in one message. The returned
// error applies to all listings in the batch.
type BatchNotifier interface {
	Notifier
	NotifyBatch(ctx context.Context, query core.SearchQuery, listings []core.Listing) error
}

// Outcome lists which listings were delivered and which failed.
type Outcome struct {
	Delivered []string
	Failed    []*core.NotifyError
}

// Deliver sends listings through n, using NotifyBatch when available. Listings
// not attempted because ctx ended are reported as failed.
func Deliver(ctx context.Context, n Notifier, query core.SearchQuery, listings []core.Listing) Outcome {
	var out Outcome
	if len(listings) == 0 {
		return out
	}
	if batch, ok := n.(BatchNotifier); ok {
		if err := ctx.Err(); err != nil {
			return failAll(query, listings, err)
		}
		if err := batch.NotifyBatch(ctx, query, listings); err != nil {
			return failAll(query, listings, err)
		}
		for _, l := range listings {
			out.Delivered = append(out.Delivered, l.ID)
		}
		return out
	}

	for i, l := range listings {
		if err := ctx.Err(); err != nil {
			rest := failAll(query, listings[i:], err)
			out.Failed = append(out.Failed, rest.Failed...)
			return out
		}
		if err := n.Notify(ctx, query, l); err != nil {
			out.Failed = append(out.Failed, &core.NotifyError{QueryID: query.ID, ListingID: l.ID, Err: err})
			continue
		}
		out.Delivered = append(out.Delivered, l.ID)
	}
	return out
}

func failAll(query core.SearchQuery, listings []core.Listing, err error) Outcome {
	out := Outcome{Failed: make([]*core.NotifyError, 0, len(listings))}
	for _, l := range listings {
		out.Failed = append(out.Failed, &core.NotifyError{QueryID: query.ID, ListingID: l.ID, Err: err})
	}
	return out
}
