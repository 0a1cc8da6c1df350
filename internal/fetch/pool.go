package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/bakkerme/listing-notifier/internal/core"
)

var tracer = otel.Tracer("github.com/bakkerme/listing-notifier/internal/fetch")

// Pool runs one fetch job per query with at most maxConcurrency jobs in flight.
// It holds no state between calls.
type Pool struct {
	fetcher        Fetcher
	maxConcurrency int
	nextPage       NextPageFunc
}

// NewPool creates a pool. nextPage may be nil, in which case only the first
// page of each query is fetched regardless of its MaxPages.
func NewPool(fetcher Fetcher, maxConcurrency int, nextPage NextPageFunc) *Pool {
	if maxConcurrency <= 0 {
		maxConcurrency = DefaultMaxConcurrency
	}
	return &Pool{
		fetcher:        fetcher,
		maxConcurrency: maxConcurrency,
		nextPage:       nextPage,
	}
}

func (p *Pool) MaxConcurrency() int {
	return p.maxConcurrency
}

// FetchAll fetches every query and returns the results keyed by query ID.
// Failures are captured per query and never abort sibling queries.
func (p *Pool) FetchAll(ctx context.Context, queries []core.SearchQuery) map[string]Result {
	results := make([]Result, len(queries))

	var g errgroup.Group
	g.SetLimit(p.maxConcurrency)
	for i, query := range queries {
		g.Go(func() error {
			results[i] = p.fetchQuery(ctx, query)
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[string]Result, len(results))
	for _, result := range results {
		out[result.Query.ID] = result
	}
	return out
}

// FetchURLs fetches every url with the pool's concurrency limit and returns the
// pages in the order of urls. Failures are recorded per page.
func (p *Pool) FetchURLs(ctx context.Context, urls []string) []Page {
	ctx, span := tracer.Start(ctx, "fetch.urls")
	defer span.End()
	span.SetAttributes(
		attribute.String("query.id", core.QueryID(ctx)),
		attribute.Int("fetch.urls", len(urls)),
	)

	pages := make([]Page, len(urls))
	var failed atomic.Int32
	var g errgroup.Group
	g.SetLimit(p.maxConcurrency)
	for i, u := range urls {
		g.Go(func() error {
			pages[i] = Page{URL: u}
			if p.fetcher == nil {
				pages[i].Err = asFetchError(core.QueryID(ctx), u, errNoFetcher)
			} else if err := ctx.Err(); err != nil {
				pages[i].Err = asFetchError(core.QueryID(ctx), u, err)
			} else {
				body, err := p.fetcher.Fetch(ctx, u)
				pages[i].Body = body
				pages[i].Err = asFetchError(core.QueryID(ctx), u, err)
			}
			if pages[i].Err != nil {
				failed.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	if n := failed.Load(); n > 0 {
		span.SetStatus(codes.Error, fmt.Sprintf("%d of %d urls failed", n, len(urls)))
	}
	return pages
}

func (p *Pool) fetchQuery(ctx context.Context, query core.SearchQuery) Result {
	ctx, logger := core.WithQuery(ctx, query.ID)
	ctx, span := tracer.Start(ctx, "fetch.query")
	defer span.End()
	span.SetAttributes(
		attribute.String("cycle.id", core.CycleID(ctx)),
		attribute.String("query.id", query.ID),
		attribute.Int("query.max_pages", query.Pages()),
	)

	result := Result{Query: query}
	if p.fetcher == nil {
		result.Err = &core.FetchError{QueryID: query.ID, URL: query.URL, Err: errNoFetcher}
		return result
	}

	pageURL := query.URL
	for page := 1; page <= query.Pages(); page++ {
		if err := ctx.Err(); err != nil {
			result.Err = asFetchError(query.ID, pageURL, err)
			break
		}
		body, err := p.fetcher.Fetch(ctx, pageURL)
		if err != nil {
			result.Err = asFetchError(query.ID, pageURL, err)
			break
		}
		logger.Debug("fetched page", slog.Int("page", page), slog.Int("bytes", len(body)))
		result.Pages = append(result.Pages, body)

		if page == query.Pages() || p.nextPage == nil {
			break
		}
		next, ok := p.nextPage(query, body)
		if !ok {
			break
		}
		pageURL = next
	}

	span.SetAttributes(attribute.Int("fetch.pages", len(result.Pages)))
	if result.Err != nil {
		span.RecordError(result.Err)
		span.SetStatus(codes.Error, result.Err.Error())
	}
	return result
}
