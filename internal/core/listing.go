package core

import (
	"fmt"
	"strings"
	"time"
)

// SearchQuery is one configured marketplace search. It is immutable once the
// jobs document has been loaded and validated.
type SearchQuery struct {
	ID        string `json:"id" yaml:"id"`
	Label     string `json:"label" yaml:"label"`
	URL       string `json:"url" yaml:"url"`
	Recipient string `json:"recipient,omitempty" yaml:"recipient,omitempty"`
	MaxPages  int    `json:"max_pages,omitempty" yaml:"max_pages,omitempty"`
	Filter    Filter `json:"filter" yaml:"filter"`
	Note      string `json:"note,omitempty" yaml:"note,omitempty"` // markdown
}

// Filter narrows the novel listings of a query before notification.
// Word and text lists are matched case-insensitively against title and description.
type Filter struct {
	BlacklistWords []string `json:"blacklist_words,omitempty" yaml:"blacklist_words,omitempty"`
	BlacklistTexts []string `json:"blacklist_texts,omitempty" yaml:"blacklist_texts,omitempty"`
	WhitelistWords []string `json:"whitelist_words,omitempty" yaml:"whitelist_words,omitempty"`
	WhitelistTexts []string `json:"whitelist_texts,omitempty" yaml:"whitelist_texts,omitempty"`
	Rule           string   `json:"rule,omitempty" yaml:"rule,omitempty"`
}

// IsZero reports whether the filter lets every listing through.
func (f Filter) IsZero() bool {
	return len(f.BlacklistWords) == 0 &&
		len(f.BlacklistTexts) == 0 &&
		len(f.WhitelistWords) == 0 &&
		len(f.WhitelistTexts) == 0 &&
		strings.TrimSpace(f.Rule) == ""
}

// Pages returns the number of result pages to fetch for the query, at least one.
func (q SearchQuery) Pages() int {
	if q.MaxPages <= 0 {
		return 1
	}
	return q.MaxPages
}

// Listing is a single marketplace item parsed from a search result page.
// The ID is stable per listing and anchors deduplication.
type Listing struct {
	ID          string    `json:"id"`
	QueryID     string    `json:"query_id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Price       *Price    `json:"price,omitempty"`
	Location    string    `json:"location,omitempty"`
	PostedAt    time.Time `json:"posted_at,omitempty"`
	URL         string    `json:"url"`
}

// HasPostedAt reports whether the result page carried a parseable date.
func (l Listing) HasPostedAt() bool {
	return !l.PostedAt.IsZero()
}

// Price is a best-effort interpretation of the listing's price label.
type Price struct {
	Amount     int64  `json:"amount"` // cents
	Currency   string `json:"currency"`
	Negotiable bool   `json:"negotiable,omitempty"`
	Free       bool   `json:"free,omitempty"`
	Raw        string `json:"raw"`
}

// HasAmount reports whether a concrete amount was present.
func (p *Price) HasAmount() bool {
	return p != nil && !p.Free && p.Amount > 0
}

func (p *Price) String() string {
	if p == nil {
		return ""
	}
	if p.Free {
		return "free"
	}
	if !p.HasAmount() {
		if p.Negotiable {
			return "VB"
		}
		return p.Raw
	}
	s := fmt.Sprintf("%d", p.Amount/100)
	if cents := p.Amount % 100; cents != 0 {
		s = fmt.Sprintf("%s,%02d", s, cents)
	}
	s += " " + currencySymbol(p.Currency)
	if p.Negotiable {
		s += " VB"
	}
	return s
}

func currencySymbol(currency string) string {
	switch currency {
	case "", "EUR":
		return "€"
	default:
		return currency
	}
}
