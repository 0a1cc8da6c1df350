package notify

import (
	"context"
	"log/slog"

	"github.com/bakkerme/listing-notifier/internal/core"
)

// LogNotifier writes listings to the context logger instead of delivering them.
// It backs dry-run mode.
type LogNotifier struct{}

func (LogNotifier) Notify(ctx context.Context, query core.SearchQuery, listing core.Listing) error {
	logger := core.LoggerFromContext(ctx)
	logger.Info("new listing",
		slog.String("label", query.Label),
		slog.String("listing_id", listing.ID),
		slog.String("title", listing.Title),
		slog.String("price", listing.Price.String()),
		slog.String("location", listing.Location),
		slog.String("url", listing.URL),
	)
	return nil
}
