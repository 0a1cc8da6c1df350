package httpfetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/bakkerme/listing-notifier/internal/core"
	"github.com/bakkerme/listing-notifier/internal/retry"
)

const (
	defaultUserAgent   = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
	defaultMaxBodySize = 8 << 20 // 8 MiB
)

type Fetcher struct {
	client      *http.Client
	userAgent   string
	maxBodySize int64
	retry       retry.Config
}

// NewFetcher creates an HTTP fetcher. Zero values fall back to defaults.
func NewFetcher(timeout time.Duration, userAgent string, maxBodySize int64) *Fetcher {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if strings.TrimSpace(userAgent) == "" {
		userAgent = defaultUserAgent
	}
	if maxBodySize <= 0 {
		maxBodySize = defaultMaxBodySize
	}
	return &Fetcher{
		client:      &http.Client{Timeout: timeout},
		userAgent:   userAgent,
		maxBodySize: maxBodySize,
		retry:       retry.Config{Attempts: 3, BaseDelay: 500 * time.Millisecond, MaxDelay: 5 * time.Second},
	}
}

// WithRetry returns a copy of f using cfg for transient failures.
func (f *Fetcher) WithRetry(cfg retry.Config) *Fetcher {
	clone := *f
	clone.retry = cfg
	return &clone
}

// Fetch GETs url and returns the body. Network errors, 429 and 5xx responses
// are retried; other non-2xx responses fail immediately. Failures are
// returned as *core.FetchError.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, &core.FetchError{Err: fmt.Errorf("url is required")}
	}

	var (
		lastStatus int
		body       []byte
	)
	err := retry.Do(ctx, f.retry, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return retry.Permanent(err)
		}
		req.Header.Set("User-Agent", f.userAgent)
		req.Header.Set("Accept", "text/html,application/xhtml+xml")
		req.Header.Set("Accept-Language", "de-DE,de;q=0.9")

		resp, err := f.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return retry.Permanent(err)
			}
			return err
		}
		defer resp.Body.Close()

		lastStatus = resp.StatusCode
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
			return fmt.Errorf("transient status: %s", resp.Status)
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return retry.Permanent(fmt.Errorf("unexpected status: %s", resp.Status))
		}

		limited := io.LimitReader(resp.Body, f.maxBodySize+1)
		data, err := io.ReadAll(limited)
		if err != nil {
			return err
		}
		if int64(len(data)) > f.maxBodySize {
			return retry.Permanent(fmt.Errorf("response larger than %d bytes", f.maxBodySize))
		}
		if !isText(data) {
			return retry.Permanent(fmt.Errorf("unexpected content type %s", mimetype.Detect(data).String()))
		}
		body = data
		return nil
	})
	if err != nil {
		fetchErr := &core.FetchError{URL: url, Err: err}
		if lastStatus < 200 || lastStatus >= 300 {
			fetchErr.StatusCode = lastStatus
		}
		return nil, fetchErr
	}
	return body, nil
}

// isText reports whether data sniffs as text. Binary bodies (images, PDFs)
// are what CDNs and bot walls serve instead of a result page.
func isText(data []byte) bool {
	if len(data) == 0 {
		return true
	}
	for m := mimetype.Detect(data); m != nil; m = m.Parent() {
		if m.Is("text/plain") {
			return true
		}
	}
	return false
}
