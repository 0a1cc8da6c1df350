package mock

import (
	"context"
	"sync"

	"github.com/bakkerme/listing-notifier/internal/outputs/email"
)

// Sender records messages instead of sending them. Err, when set, fails every send.
type Sender struct {
	mu       sync.Mutex
	Messages []email.Message
	Err      error
}

func (s *Sender) Send(ctx context.Context, message email.Message) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.Messages = append(s.Messages, message)
	return nil
}

// Sent returns a copy of the recorded messages.
func (s *Sender) Sent() []email.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]email.Message(nil), s.Messages...)
}
