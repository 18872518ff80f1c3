package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/smtp"
	"net/textproto"

	"github.com/jordan-wright/email"
)

// SMTPNotifier sends over STARTTLS with plain authentication, for
// deployments without SES access.
type SMTPNotifier struct {
	host     string
	port     string
	username string
	password string
	sender   string
}

func NewSMTPNotifier(host, port, username, password, sender string) *SMTPNotifier {
	return &SMTPNotifier{
		host:     host,
		port:     port,
		username: username,
		password: password,
		sender:   sender,
	}
}

func (n *SMTPNotifier) Send(ctx context.Context, msg Message) error {
	e := &email.Email{
		To:      msg.To,
		From:    n.sender,
		Subject: msg.Subject,
		Text:    []byte(msg.TextBody),
		HTML:    []byte(msg.HTMLBody),
		Headers: textproto.MIMEHeader{},
	}

	addr := n.host + ":" + n.port
	auth := smtp.PlainAuth("", n.username, n.password, n.host)
	if err := e.SendWithTLS(addr, auth, &tls.Config{ServerName: n.host}); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}
