// Package fetch retrieves search result pages for the configured queries with bounded parallelism.
package fetch

import (
	"context"
	"errors"

	"github.com/bakkerme/listing-notifier/internal/core"
)

// DefaultMaxConcurrency is used when the pool is configured with a non-positive limit.
const DefaultMaxConcurrency = 10

var errNoFetcher = errors.New("no fetcher configured")

// Fetcher retrieves the raw content behind a URL.
// Implementations should report HTTP and network failures as *core.FetchError.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// NextPageFunc extracts the following page URL from a fetched page.
type NextPageFunc func(query core.SearchQuery, page []byte) (string, bool)

// Result is the outcome of fetching one query. Pages holds every page that
// was retrieved, in order; Err is set when any fetch failed. A failure after
// the first page keeps the earlier pages.
type Result struct {
	Query core.SearchQuery
	Pages [][]byte
	Err   error
}

// Page is the outcome of fetching a single URL.
type Page struct {
	URL  string
	Body []byte
	Err  error
}

// OK reports whether at least one page is usable.
func (r Result) OK() bool {
	return len(r.Pages) > 0
}

func asFetchError(queryID, url string, err error) error {
	if err == nil {
		return nil
	}
	var fetchErr *core.FetchError
	if errors.As(err, &fetchErr) {
		if fetchErr.QueryID == "" {
			fetchErr.QueryID = queryID
		}
		return err
	}
	return &core.FetchError{QueryID: queryID, URL: url, Err: err}
}
