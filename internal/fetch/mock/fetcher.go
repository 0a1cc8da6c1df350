package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/bakkerme/listing-notifier/internal/core"
)

// Fetcher serves canned pages by URL and records every request.
type Fetcher struct {
	PagesByURL map[string][]byte
	ErrByURL   map[string]error

	mu       sync.Mutex
	Requests []string
}

func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.Requests = append(f.Requests, url)
	f.mu.Unlock()

	if f.ErrByURL != nil {
		if err, ok := f.ErrByURL[url]; ok {
			return nil, err
		}
	}
	page, ok := f.PagesByURL[url]
	if !ok {
		return nil, &core.FetchError{URL: url, StatusCode: 404, Err: fmt.Errorf("no canned page")}
	}
	return page, nil
}

// RequestCount returns how many times url was requested.
func (f *Fetcher) RequestCount(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.Requests {
		if r == url {
			n++
		}
	}
	return n
}
