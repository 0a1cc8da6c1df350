package core

import (
	"errors"
	"fmt"
)

// FetchError reports a failed HTTP fetch for one query. It is recoverable on the next cycle.
type FetchError struct {
	QueryID    string
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s (query %s): status %d: %v", e.URL, e.QueryID, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s (query %s): %v", e.URL, e.QueryID, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ParseError reports a page whose structure could not be recognized.
// Usually this means the site changed its layout or served an error or CAPTCHA page.
type ParseError struct {
	QueryID string
	Reason  string
	Err     error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse page (query %s): %s: %v", e.QueryID, e.Reason, e.Err)
	}
	return fmt.Sprintf("parse page (query %s): %s", e.QueryID, e.Reason)
}

func (e *ParseError) Unwrap() error { return e.Err }

// StoreCorruptError reports persisted seen state that exists but cannot be decoded.
type StoreCorruptError struct {
	QueryID string
	Path    string
	Err     error
}

func (e *StoreCorruptError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("seen store for query %s is corrupt (%s): %v", e.QueryID, e.Path, e.Err)
	}
	return fmt.Sprintf("seen store for query %s is corrupt: %v", e.QueryID, e.Err)
}

func (e *StoreCorruptError) Unwrap() error { return e.Err }

// NotifyError reports a notification that could not be delivered for a listing.
type NotifyError struct {
	QueryID   string
	ListingID string
	Err       error
}

func (e *NotifyError) Error() string {
	return fmt.Sprintf("notify listing %s (query %s): %v", e.ListingID, e.QueryID, e.Err)
}

func (e *NotifyError) Unwrap() error { return e.Err }

// IsParseError reports whether err wraps a *ParseError.
func IsParseError(err error) bool {
	var target *ParseError
	return errors.As(err, &target)
}

// IsStoreCorrupt reports whether err wraps a *StoreCorruptError.
func IsStoreCorrupt(err error) bool {
	var target *StoreCorruptError
	return errors.As(err, &target)
}
