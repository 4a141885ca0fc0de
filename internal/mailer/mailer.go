// Package mailer renders and sends the transactional emails: the approval
// request to the client and the provisioning summary.
package mailer

import (
	"fmt"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/datan8/sitepilot/internal/config"
	"github.com/datan8/sitepilot/internal/logging"
)

// sender is the slice of the SendGrid client the mailer uses.
type sender interface {
	Send(email *mail.SGMailV3) (*rest.Response, error)
}

// Mailer sends transactional email through SendGrid.
type Mailer struct {
	sender sender
	from   string
}

// NewMailer creates a mailer from the given configuration.
func NewMailer(cfg config.SendGridConfig) *Mailer {
	return &Mailer{
		sender: sendgrid.NewSendClient(cfg.APIKey),
		from:   cfg.From,
	}
}

// Message is one outgoing email with both a plain-text and an HTML body.
type Message struct {
	To       string
	Subject  string
	TextBody string
	HTMLBody string
}

// Send delivers the message. Click and open tracking are always disabled:
// SendGrid's click tracking rewrites every link through its redirect
// domain, which would mangle the approval links.
func (m *Mailer) Send(msg Message) error {
	email := mail.NewV3Mail()
	email.SetFrom(mail.NewEmail("", m.from))
	email.Subject = msg.Subject

	personalization := mail.NewPersonalization()
	personalization.AddTos(mail.NewEmail("", msg.To))
	email.AddPersonalizations(personalization)

	email.AddContent(
		mail.NewContent("text/plain", msg.TextBody),
		mail.NewContent("text/html", msg.HTMLBody),
	)

	trackings := mail.NewTrackingSettings()
	clickTracking := mail.NewClickTrackingSetting()
	clickTracking.SetEnable(false)
	trackings.SetClickTracking(clickTracking)
	openTracking := mail.NewOpenTrackingSetting()
	openTracking.SetEnable(false)
	trackings.SetOpenTracking(openTracking)
	email.SetTrackingSettings(trackings)

	resp, err := m.sender.Send(email)
	if err != nil {
		logging.Error("failed to send email", "to", msg.To, "error", err)
		return fmt.Errorf("failed to send email to %s: %w", msg.To, err)
	}
	if resp.StatusCode >= 400 {
		logging.Error("email rejected by delivery service",
			"to", msg.To,
			"status_code", resp.StatusCode)
		return fmt.Errorf("email to %s rejected with status %d", msg.To, resp.StatusCode)
	}

	logging.Info("email sent", "to", msg.To, "subject", msg.Subject)
	return nil
}
