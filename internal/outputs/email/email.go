// Package email defines the transport-neutral message handed to SMTP senders.
package email

import "context"

// Message is a single outgoing email. Body is HTML; TextBody, when set, is
// attached as the plain-text alternative.
type Message struct {
	From     string
	To       string
	Subject  string
	Body     string
	TextBody string
}

type Sender interface {
	Send(ctx context.Context, message Message) error
}
