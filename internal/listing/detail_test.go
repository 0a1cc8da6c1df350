package listing

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/bakkerme/listing-notifier/internal/core"
	"github.com/bakkerme/listing-notifier/internal/fetch"
	"github.com/bakkerme/listing-notifier/internal/fetch/mock"
)

func TestParseDetailReadsTitleAndDescription(t *testing.T) {
	p := NewParser()
	detail, err := p.ParseDetail(core.Listing{ID: "2811234567", QueryID: "bikes"}, readFixture(t, "detail.html"))
	if err != nil {
		t.Fatalf("parse detail failed: %v", err)
	}
	if detail.Title != "Kinderrad 20 Zoll" {
		t.Fatalf("unexpected title %q", detail.Title)
	}
	want := "Gut erhaltenes Kinderrad, Farbe blau.\nKleiner Kratzer am Rahmen.\nNur Abholung, kein Versand."
	if detail.Description != want {
		t.Fatalf("unexpected description %q", detail.Description)
	}
}

func TestParseDetailRejectsPagesWithoutTitle(t *testing.T) {
	p := NewParser()
	for name, page := range map[string][]byte{
		"empty":   []byte("  "),
		"captcha": readFixture(t, "captcha.html"),
	} {
		_, err := p.ParseDetail(core.Listing{ID: "1", QueryID: "bikes"}, page)
		if !core.IsParseError(err) {
			t.Fatalf("%s: expected parse error, got %v", name, err)
		}
	}
}

func TestDetailURL(t *testing.T) {
	p := NewParser()
	withURL := core.Listing{ID: "1", URL: "https://www.kleinanzeigen.de/s-anzeige/kinderrad/1-217-9032"}
	if got := p.DetailURL(withURL); got != withURL.URL {
		t.Fatalf("expected listing url, got %q", got)
	}
	if got := p.DetailURL(core.Listing{ID: "42"}); got != "https://www.kleinanzeigen.de/s-anzeige/42" {
		t.Fatalf("unexpected fallback url %q", got)
	}
}

func TestEnricherCompletesListingsAndReportsFailures(t *testing.T) {
	detail := readFixture(t, "detail.html")
	fetcher := &mock.Fetcher{
		PagesByURL: map[string][]byte{
			"https://www.kleinanzeigen.de/s-anzeige/1": detail,
			"https://www.kleinanzeigen.de/s-anzeige/3": []byte("<html><body>gone</body></html>"),
		},
		ErrByURL: map[string]error{
			"https://www.kleinanzeigen.de/s-anzeige/2": errors.New("connection reset"),
		},
	}
	listings := []core.Listing{
		{ID: "1", QueryID: "bikes", Title: "Kinderrad 20...", Description: "Gut erhaltenes..."},
		{ID: "2", QueryID: "bikes", Title: "Roller"},
		{ID: "3", QueryID: "bikes", Title: "Helm"},
	}
	enricher := NewEnricher(fetch.NewPool(fetcher, 2, nil), NewParser())

	out, errs := enricher.Enrich(context.Background(), listings)

	if len(out) != 3 || len(errs) != 3 {
		t.Fatalf("expected parallel results, got %d listings and %d errors", len(out), len(errs))
	}
	if errs[0] != nil {
		t.Fatalf("unexpected error for listing 1: %v", errs[0])
	}
	if out[0].Title != "Kinderrad 20 Zoll" || !strings.Contains(out[0].Description, "kein Versand") {
		t.Fatalf("expected listing 1 to be completed, got %+v", out[0])
	}
	var fetchErr *core.FetchError
	if !errors.As(errs[1], &fetchErr) {
		t.Fatalf("expected fetch error for listing 2, got %v", errs[1])
	}
	if !core.IsParseError(errs[2]) {
		t.Fatalf("expected parse error for listing 3, got %v", errs[2])
	}
	if out[1].Title != "Roller" || out[2].Title != "Helm" {
		t.Fatalf("expected failed listings unchanged, got %+v", out[1:])
	}
	if listings[0].Title != "Kinderrad 20..." {
		t.Fatalf("expected input slice to be left alone")
	}
}

func TestEnrichNothing(t *testing.T) {
	fetcher := &mock.Fetcher{}
	out, errs := NewEnricher(fetch.NewPool(fetcher, 1, nil), nil).Enrich(context.Background(), nil)
	if len(out) != 0 || len(errs) != 0 || len(fetcher.Requests) != 0 {
		t.Fatalf("expected no work, got %v %v %v", out, errs, fetcher.Requests)
	}
}
