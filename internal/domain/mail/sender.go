package mail

import "context"

// Message is a plain-text notice addressed to one recipient.
type Message struct {
	From    string
	To      string
	Cc      string
	Subject string
	Body    string
}

// Sender delivers messages. Implementations decide the transport; callers
// treat delivery failures as non-fatal.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}
