// Package mailer sends transactional email through SendGrid.
package mailer

import (
	"fmt"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.uber.org/zap"

	templates "github.com/civix/civix-api/templates/html"
)

const fromName = "Civix"

type sender interface {
	Send(email *mail.SGMailV3) (*rest.Response, error)
}

// Mailer delivers email. A Mailer without an API key logs and drops messages.
type Mailer struct {
	client sender
	from   string
}

// New builds a Mailer. fromAddress is the envelope sender.
func New(apiKey, fromAddress string) *Mailer {
	m := &Mailer{from: fromAddress}
	if apiKey != "" {
		m.client = sendgrid.NewSendClient(apiKey)
	}
	return m
}

// Send delivers one HTML email
func (m *Mailer) Send(toEmail, toName, subject, htmlContent, plainText string) error {
	if m.client == nil {
		zap.S().Debugw("email disabled, dropping message", "to", toEmail, "subject", subject)
		return nil
	}
	from := mail.NewEmail(fromName, m.from)
	to := mail.NewEmail(toName, toEmail)
	message := mail.NewSingleEmail(from, subject, to, plainText, htmlContent)
	response, err := m.client.Send(message)
	if err != nil {
		zap.S().Errorw("failed to send email", "error", err, "to", toEmail)
		return err
	}
	if response.StatusCode >= 400 {
		zap.S().Errorw("sendgrid returned error status", "status", response.StatusCode, "body", response.Body, "to", toEmail)
		return fmt.Errorf("sendgrid error: status %d", response.StatusCode)
	}
	zap.S().Infow("email sent successfully", "to", toEmail, "subject", subject)
	return nil
}

// StatusUpdate tells a reporter their issue changed status
func (m *Mailer) StatusUpdate(toEmail, title, complaintID, status, remarks string) error {
	plain := fmt.Sprintf("Your issue %q is now %s.", title, status)
	if remarks != "" {
		plain += "\nRemarks: " + remarks
	}
	return m.Send(toEmail, "", "Civix - Issue Status Update",
		templates.RenderStatusUpdateEmail(title, complaintID, status, remarks), plain)
}

// IssueUpdated tells a reporter their issue details were edited
func (m *Mailer) IssueUpdated(toEmail, title, complaintID string) error {
	plain := fmt.Sprintf("Your issue %q has been updated.", title)
	return m.Send(toEmail, "", "Civix - Issue Updated",
		templates.RenderIssueUpdatedEmail(title, complaintID), plain)
}
