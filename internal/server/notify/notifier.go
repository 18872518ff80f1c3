// Package notify delivers certificate alerts by email. Two transports are
// available: SES for the hosted setup and plain SMTP for self-hosted
// deployments.
package notify

import "context"

// Message is one outbound email with both representations; clients that
// cannot render HTML fall back to the text body.
type Message struct {
	To       []string
	Subject  string
	TextBody string
	HTMLBody string
}

type Notifier interface {
	Send(ctx context.Context, msg Message) error
}
