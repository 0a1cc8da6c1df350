package notify

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/bakkerme/listing-notifier/internal/core"
	"github.com/bakkerme/listing-notifier/internal/notify/mock"
	emailmock "github.com/bakkerme/listing-notifier/internal/outputs/email/mock"
)

var testQuery = core.SearchQuery{ID: "bikes", Label: "Bikes <Berlin>", Recipient: "me@example.com"}

func testListings() []core.Listing {
	return []core.Listing{
		{ID: "abc123", Title: "Rennrad <neu>", URL: "https://www.kleinanzeigen.de/s-anzeige/abc123", Price: &core.Price{Amount: 120000, Currency: "EUR", Negotiable: true}, Location: "10115 Berlin"},
		{ID: "def456", Title: "Kinderrad", URL: "https://www.kleinanzeigen.de/s-anzeige/def456", Price: &core.Price{Free: true}},
	}
}

func TestDeliverReportsPerListingOutcome(t *testing.T) {
	n := &mock.Notifier{Fail: map[string]error{"def456": errors.New("smtp down")}}
	out := Deliver(context.Background(), n, testQuery, testListings())

	if !slices.Equal(out.Delivered, []string{"abc123"}) {
		t.Fatalf("unexpected delivered %v", out.Delivered)
	}
	if len(out.Failed) != 1 || out.Failed[0].ListingID != "def456" || out.Failed[0].QueryID != "bikes" {
		t.Fatalf("unexpected failures %+v", out.Failed)
	}
}

func TestDeliverUsesBatchWhenAvailable(t *testing.T) {
	n := &mock.BatchNotifier{}
	out := Deliver(context.Background(), n, testQuery, testListings())
	if len(n.Batches) != 1 || len(n.Batches[0]) != 2 {
		t.Fatalf("expected one batch of two listings, got %+v", n.Batches)
	}
	if len(out.Delivered) != 2 || len(out.Failed) != 0 {
		t.Fatalf("unexpected outcome %+v", out)
	}

	failing := &mock.BatchNotifier{Err: errors.New("rejected")}
	out = Deliver(context.Background(), failing, testQuery, testListings())
	if len(out.Delivered) != 0 || len(out.Failed) != 2 {
		t.Fatalf("expected batch failure to fail every listing, got %+v", out)
	}
}

func TestDeliverStopsWhenContextEnds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	n := &mock.Notifier{OnNotify: func(context.Context, core.Listing) { cancel() }}
	out := Deliver(ctx, n, testQuery, testListings())
	if !slices.Equal(out.Delivered, []string{"abc123"}) {
		t.Fatalf("expected only the first listing to be delivered, got %v", out.Delivered)
	}
	if len(out.Failed) != 1 || !errors.Is(out.Failed[0], context.Canceled) {
		t.Fatalf("expected remaining listing to fail with context.Canceled, got %+v", out.Failed)
	}
}

func TestEmailNotifierRendersOneMessagePerBatch(t *testing.T) {
	sender := &emailmock.Sender{}
	n, err := NewEmailNotifier(sender, "bot@example.com", "", "")
	if err != nil {
		t.Fatalf("new email notifier: %v", err)
	}
	n.now = func() time.Time { return time.Date(2024, 7, 18, 12, 0, 0, 0, time.UTC) }

	query := testQuery
	query.Note = "Only **carbon** frames"
	if err := n.NotifyBatch(context.Background(), query, testListings()); err != nil {
		t.Fatalf("notify batch: %v", err)
	}

	sent := sender.Sent()
	if len(sent) != 1 {
		t.Fatalf("expected 1 message, got %d", len(sent))
	}
	msg := sent[0]
	if msg.To != "me@example.com" || msg.From != "bot@example.com" || msg.Subject != "Bikes <Berlin>" {
		t.Fatalf("unexpected envelope %+v", msg)
	}
	for _, want := range []string{
		"Bikes &lt;Berlin&gt;",
		"Rennrad &lt;neu&gt;",
		"1200 € VB",
		"<strong>carbon</strong>",
		"https://www.kleinanzeigen.de/s-anzeige/def456",
		"2 new listings",
		"18.07.2024 12:00",
	} {
		if !strings.Contains(msg.Body, want) {
			t.Fatalf("expected body to contain %q, got %s", want, msg.Body)
		}
	}
	for _, want := range []string{"[Kinderrad](", "2 new listings"} {
		if !strings.Contains(msg.TextBody, want) {
			t.Fatalf("expected text body to contain %q, got %q", want, msg.TextBody)
		}
	}
	if strings.Contains(msg.TextBody, "<p>") {
		t.Fatalf("expected markup to be converted, got %q", msg.TextBody)
	}
}

func TestPlainTextListsEveryListing(t *testing.T) {
	text := plainText(testQuery, testListings())
	if !strings.HasPrefix(text, "Bikes <Berlin>\n\n") {
		t.Fatalf("expected label header, got %q", text)
	}
	if !strings.Contains(text, "- Kinderrad (free)") {
		t.Fatalf("unexpected text %q", text)
	}
}

func TestEmailNotifierFallsBackToDefaultRecipient(t *testing.T) {
	sender := &emailmock.Sender{}
	n, err := NewEmailNotifier(sender, "bot@example.com", "fallback@example.com", "{{len .Listings}}")
	if err != nil {
		t.Fatalf("new email notifier: %v", err)
	}
	query := core.SearchQuery{ID: "sofas"}
	if err := n.Notify(context.Background(), query, testListings()[0]); err != nil {
		t.Fatalf("notify: %v", err)
	}
	sent := sender.Sent()
	if len(sent) != 1 || sent[0].To != "fallback@example.com" || sent[0].Body != "1" || sent[0].Subject != "sofas" {
		t.Fatalf("unexpected message %+v", sent)
	}
}

func TestEmailNotifierRequiresRecipient(t *testing.T) {
	n, err := NewEmailNotifier(&emailmock.Sender{}, "bot@example.com", "", "")
	if err != nil {
		t.Fatalf("new email notifier: %v", err)
	}
	if err := n.Notify(context.Background(), core.SearchQuery{ID: "x"}, testListings()[0]); err == nil {
		t.Fatalf("expected missing recipient to fail")
	}
}

func TestEmailNotifierPropagatesSendErrors(t *testing.T) {
	sender := &emailmock.Sender{Err: errors.New("connection refused")}
	n, err := NewEmailNotifier(sender, "bot@example.com", "", "")
	if err != nil {
		t.Fatalf("new email notifier: %v", err)
	}
	out := Deliver(context.Background(), n, testQuery, testListings())
	if len(out.Failed) != 2 {
		t.Fatalf("expected both listings to fail, got %+v", out)
	}
}

func TestNewEmailNotifierRejectsBadTemplate(t *testing.T) {
	if _, err := NewEmailNotifier(&emailmock.Sender{}, "", "", "{{.Missing"); err == nil {
		t.Fatalf("expected template parse error")
	}
}

func TestSendTest(t *testing.T) {
	sender := &emailmock.Sender{}
	n, err := NewEmailNotifier(sender, "bot@example.com", "", "")
	if err != nil {
		t.Fatalf("new email notifier: %v", err)
	}
	if err := n.SendTest(context.Background(), "ops@example.com"); err != nil {
		t.Fatalf("send test: %v", err)
	}
	if sent := sender.Sent(); len(sent) != 1 || sent[0].Subject != "Test Email" {
		t.Fatalf("unexpected test message %+v", sent)
	}
}
