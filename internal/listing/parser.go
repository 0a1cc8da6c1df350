// Package listing turns Kleinanzeigen search result pages into listing records.
package listing

import (
	"bytes"
	"iter"
	"net/url"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/PuerkitoBio/goquery"

	"github.com/bakkerme/listing-notifier/internal/core"
)

const (
	DefaultBaseURL = "https://www.kleinanzeigen.de"

	resultListSelector  = "ul#srchrslt-adtable"
	itemSelector        = "article.aditem"
	titleSelector       = "h2 a, .text-module-begin a"
	descriptionSelector = ".aditem-main--middle--description"
	priceSelector       = ".aditem-main--middle--price-shipping--price, .aditem-main--middle--price"
	locationSelector    = ".aditem-main--top--left"
	dateSelector        = ".aditem-main--top--right"
	nextPageSelector    = "a.pagination-next"
)

// Parser extracts listings from search result pages. It is safe for concurrent use.
type Parser struct {
	baseURL  *url.URL
	location *time.Location
	now      func() time.Time
}

type Option func(*Parser)

// WithClock overrides the clock used to resolve relative dates ("Heute", "Gestern").
func WithClock(now func() time.Time) Option {
	return func(p *Parser) {
		if now != nil {
			p.now = now
		}
	}
}

// WithBaseURL overrides the host used for detail links that cannot be resolved against the query URL.
func WithBaseURL(raw string) Option {
	return func(p *Parser) {
		if u, err := url.Parse(raw); err == nil && u.Host != "" {
			p.baseURL = u
		}
	}
}

func NewParser(opts ...Option) *Parser {
	base, _ := url.Parse(DefaultBaseURL)
	location, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		location = time.UTC
	}
	p := &Parser{
		baseURL:  base,
		location: location,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Parse recognizes the result list of page and returns a lazy, single-pass
// sequence of listings in document order. Ranging over the sequence a second
// time yields nothing; re-parsing requires the page again.
//
// A *core.ParseError is returned when the page does not look like a search
// result page at all. Missing optional fields never fail the page.
func (p *Parser) Parse(query core.SearchQuery, page []byte) (iter.Seq[core.Listing], error) {
	if len(bytes.TrimSpace(page)) == 0 {
		return nil, &core.ParseError{QueryID: query.ID, Reason: "empty page"}
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return nil, &core.ParseError{QueryID: query.ID, Reason: "invalid html", Err: err}
	}
	list := doc.Find(resultListSelector).First()
	if list.Length() == 0 {
		return nil, &core.ParseError{QueryID: query.ID, Reason: "result list " + resultListSelector + " not found"}
	}

	items := list.Find(itemSelector)
	pageURL := p.resolveBase(query.URL)
	consumed := false

	return func(yield func(core.Listing) bool) {
		if consumed {
			return
		}
		consumed = true
		for i := range items.Length() {
			item, ok := p.parseItem(query, pageURL, items.Eq(i))
			if !ok {
				continue
			}
			if !yield(item) {
				return
			}
		}
	}, nil
}

// NextPage returns the absolute URL of the following result page, if any.
func (p *Parser) NextPage(query core.SearchQuery, page []byte) (string, bool) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return "", false
	}
	href, ok := doc.Find(nextPageSelector).First().Attr("href")
	href = strings.TrimSpace(href)
	if !ok || href == "" {
		return "", false
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	return p.resolveBase(query.URL).ResolveReference(ref).String(), true
}

func (p *Parser) parseItem(query core.SearchQuery, pageURL *url.URL, item *goquery.Selection) (core.Listing, bool) {
	id := strings.TrimSpace(item.AttrOr("data-adid", ""))
	if id == "" {
		return core.Listing{}, false
	}

	titleLink := item.Find(titleSelector).First()
	title := cleanText(titleLink.Text())

	href := strings.TrimSpace(item.AttrOr("data-href", ""))
	if href == "" {
		href = strings.TrimSpace(titleLink.AttrOr("href", ""))
	}

	return core.Listing{
		ID:          id,
		QueryID:     query.ID,
		Title:       title,
		Description: cleanText(item.Find(descriptionSelector).First().Text()),
		Price:       ParsePrice(cleanText(item.Find(priceSelector).First().Text())),
		Location:    cleanText(item.Find(locationSelector).First().Text()),
		PostedAt:    ParseDate(cleanText(item.Find(dateSelector).First().Text()), p.now(), p.location),
		URL:         p.detailURL(pageURL, id, href),
	}, true
}

func (p *Parser) detailURL(pageURL *url.URL, id, href string) string {
	if href != "" {
		if ref, err := url.Parse(href); err == nil {
			return pageURL.ResolveReference(ref).String()
		}
	}
	return p.baseURL.ResolveReference(&url.URL{Path: "/s-anzeige/" + id}).String()
}

func (p *Parser) resolveBase(raw string) *url.URL {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return p.baseURL
	}
	return u
}

// cleanText collapses all whitespace runs into single spaces.
func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
