// Package mailer sends transactional email for payd.
package mailer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/crowdpen/payd/config"
	"github.com/google/uuid"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/sirupsen/logrus"
)

var ErrNoRecipient = errors.New("mailer: message has no recipient")

// Message is one rendered email. Cc and Bcc may be empty.
type Message struct {
	To      string
	ToName  string
	Cc      string
	Bcc     string
	Subject string
	HTML    string
	Text    string
}

// Sender delivers a message and returns the provider's message id. It
// returns an error when the provider did not accept the message.
type Sender interface {
	Send(ctx context.Context, msg Message) (string, error)
}

// NewSender returns a SendGrid sender when an API key is configured, and a
// logging sender otherwise.
func NewSender(cfg config.MailConfig) Sender {
	if cfg.SendgridApiKey == "" {
		logrus.Warn("sendgrid api key not configured; emails will be logged instead of sent")
		return LogSender{}
	}
	return NewSendGridSender(cfg)
}

type SendGridSender struct {
	client   *sendgrid.Client
	fromName string
	from     string
}

func NewSendGridSender(cfg config.MailConfig) *SendGridSender {
	return &SendGridSender{
		client:   sendgrid.NewSendClient(cfg.SendgridApiKey),
		fromName: cfg.FromName,
		from:     cfg.FromEmail,
	}
}

func (s *SendGridSender) Send(ctx context.Context, msg Message) (string, error) {
	if strings.TrimSpace(msg.To) == "" {
		return "", ErrNoRecipient
	}

	m := mail.NewV3Mail()
	m.SetFrom(mail.NewEmail(s.fromName, s.from))
	m.Subject = msg.Subject

	p := mail.NewPersonalization()
	p.AddTos(mail.NewEmail(msg.ToName, msg.To))
	for _, cc := range splitAddresses(msg.Cc) {
		p.AddCCs(mail.NewEmail("", cc))
	}
	for _, bcc := range splitAddresses(msg.Bcc) {
		if !strings.EqualFold(bcc, msg.To) {
			p.AddBCCs(mail.NewEmail("", bcc))
		}
	}
	m.AddPersonalizations(p)

	if msg.Text != "" {
		m.AddContent(mail.NewContent("text/plain", msg.Text))
	}
	if msg.HTML != "" {
		m.AddContent(mail.NewContent("text/html", msg.HTML))
	}

	resp, err := s.client.SendWithContext(ctx, m)
	if err != nil {
		return "", fmt.Errorf("sendgrid send failed: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("sendgrid rejected message: status %d: %s", resp.StatusCode, resp.Body)
	}

	if ids := resp.Headers["X-Message-Id"]; len(ids) > 0 {
		return ids[0], nil
	}
	return "", nil
}

// LogSender writes messages to the log. It stands in for a provider in
// development.
type LogSender struct{}

func (LogSender) Send(_ context.Context, msg Message) (string, error) {
	if strings.TrimSpace(msg.To) == "" {
		return "", ErrNoRecipient
	}
	id := "log_" + uuid.NewString()
	logrus.WithFields(logrus.Fields{
		"to":         msg.To,
		"bcc":        msg.Bcc,
		"subject":    msg.Subject,
		"message_id": id,
	}).Info("email not sent: no provider configured")
	return id, nil
}

func splitAddresses(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
