package listing

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/bakkerme/listing-notifier/internal/core"
	"github.com/bakkerme/listing-notifier/internal/fetch"
)

const (
	detailTitleSelector       = "h1#viewad-title"
	detailDescriptionSelector = "p#viewad-description-text"
)

// Detail holds the fields of a listing's own page that the search result
// snippet only shows in part.
type Detail struct {
	Title       string
	Description string
}

// ParseDetail extracts the full title and description of l from its detail
// page. Line breaks in the description are kept.
func (p *Parser) ParseDetail(l core.Listing, page []byte) (Detail, error) {
	if len(bytes.TrimSpace(page)) == 0 {
		return Detail{}, &core.ParseError{QueryID: l.QueryID, Reason: "empty detail page for listing " + l.ID}
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return Detail{}, &core.ParseError{QueryID: l.QueryID, Reason: "invalid detail html for listing " + l.ID, Err: err}
	}
	title := doc.Find(detailTitleSelector).First()
	if title.Length() == 0 {
		return Detail{}, &core.ParseError{QueryID: l.QueryID, Reason: fmt.Sprintf("%s not found on detail page of listing %s", detailTitleSelector, l.ID)}
	}
	description := doc.Find(detailDescriptionSelector).First()
	description.Find("br").ReplaceWithHtml("\n")

	return Detail{
		Title:       cleanText(title.Text()),
		Description: cleanLines(description.Text()),
	}, nil
}

// DetailURL returns the page to fetch for l.
func (p *Parser) DetailURL(l core.Listing) string {
	if u, err := url.Parse(l.URL); err == nil && u.Host != "" {
		return l.URL
	}
	return p.baseURL.ResolveReference(&url.URL{Path: "/s-anzeige/" + l.ID}).String()
}

// PageFetcher fetches many URLs at once. *fetch.Pool implements it.
type PageFetcher interface {
	FetchURLs(ctx context.Context, urls []string) []fetch.Page
}

// Enricher replaces the search snippet of novel listings with the title and
// description of their detail pages.
type Enricher struct {
	pages  PageFetcher
	parser *Parser
}

func NewEnricher(pages PageFetcher, parser *Parser) *Enricher {
	if parser == nil {
		parser = NewParser()
	}
	return &Enricher{pages: pages, parser: parser}
}

// Enrich fetches the detail page of every listing. The returned slices are
// parallel to listings: errs[i] is nil when out[i] was completed. A listing
// whose detail page failed is returned unchanged next to its error.
func (e *Enricher) Enrich(ctx context.Context, listings []core.Listing) ([]core.Listing, []error) {
	out := make([]core.Listing, len(listings))
	errs := make([]error, len(listings))
	if len(listings) == 0 {
		return out, errs
	}

	urls := make([]string, len(listings))
	for i, l := range listings {
		urls[i] = e.parser.DetailURL(l)
	}
	pages := e.pages.FetchURLs(ctx, urls)

	for i, l := range listings {
		out[i] = l
		if i >= len(pages) {
			errs[i] = fmt.Errorf("no detail page returned for listing %s", l.ID)
			continue
		}
		if pages[i].Err != nil {
			errs[i] = pages[i].Err
			continue
		}
		detail, err := e.parser.ParseDetail(l, pages[i].Body)
		if err != nil {
			errs[i] = err
			continue
		}
		if detail.Title != "" {
			out[i].Title = detail.Title
		}
		if detail.Description != "" {
			out[i].Description = detail.Description
		}
	}
	return out, errs
}

// cleanLines collapses whitespace within each line and drops blank lines.
func cleanLines(s string) string {
	var lines []string
	for _, line := range strings.Split(s, "\n") {
		if line = cleanText(line); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}
