package mailer

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	htmltemplate "html/template"
	"text/template"
	"time"

	"netspace-tracker/internal/core"
)

//go:embed "templates"
var templateFS embed.FS

// Message is a rendered mail ready for a transport. When BCC is set the
// recipients are hidden from each other.
type Message struct {
	From     string
	To       []string
	BCC      bool
	Subject  string
	TextBody string
	HTMLBody string
}

// Transport delivers a rendered message
type Transport interface {
	Deliver(ctx context.Context, msg Message) error
}

type Mailer struct {
	transport  Transport
	sender     string
	logger     *core.Logger
	attempts   int
	retryDelay time.Duration
}

func New(transport Transport, sender string, logger *core.Logger) *Mailer {
	return &Mailer{
		transport:  transport,
		sender:     sender,
		logger:     logger,
		attempts:   3,
		retryDelay: 500 * time.Millisecond,
	}
}

// Send renders templateFile with data and mails it to recipient
func (m *Mailer) Send(ctx context.Context, recipient, templateFile string, data any) error {
	return m.send(ctx, []string{recipient}, false, templateFile, data)
}

// SendBCC renders templateFile once and mails it to every recipient in blind copy
func (m *Mailer) SendBCC(ctx context.Context, recipients []string, templateFile string, data any) error {
	if len(recipients) == 0 {
		return nil
	}
	return m.send(ctx, recipients, true, templateFile, data)
}

func (m *Mailer) send(ctx context.Context, recipients []string, bcc bool, templateFile string, data any) error {
	msg, err := render(templateFile, data)
	if err != nil {
		return err
	}
	msg.From = m.sender
	msg.To = recipients
	msg.BCC = bcc

	for i := 1; i <= m.attempts; i++ {
		err = m.transport.Deliver(ctx, msg)
		if err == nil {
			return nil
		}

		m.logger.Warn("Mail delivery attempt failed", "attempt", i, "template", templateFile, "recipients", len(recipients), "error", err)

		if i == m.attempts {
			break
		}

		// Wait before retry
		select {
		case <-ctx.Done():
			return fmt.Errorf("mail delivery cancelled: %w", errors.Join(err, ctx.Err()))
		case <-time.After(m.retryDelay):
		}
	}

	return fmt.Errorf("failed to send email after %d attempts: %w", m.attempts, err)
}

// render executes the subject, plainBody and htmlBody blocks of templateFile.
// Subject and plain text are rendered without HTML escaping.
func render(templateFile string, data any) (Message, error) {
	textTmpl, err := template.New("email").ParseFS(templateFS, "templates/"+templateFile)
	if err != nil {
		return Message{}, err
	}
	htmlTmpl, err := htmltemplate.New("email").ParseFS(templateFS, "templates/"+templateFile)
	if err != nil {
		return Message{}, err
	}

	subject := new(bytes.Buffer)
	if err := textTmpl.ExecuteTemplate(subject, "subject", data); err != nil {
		return Message{}, err
	}

	plainBody := new(bytes.Buffer)
	if err := textTmpl.ExecuteTemplate(plainBody, "plainBody", data); err != nil {
		return Message{}, err
	}

	htmlBody := new(bytes.Buffer)
	if err := htmlTmpl.ExecuteTemplate(htmlBody, "htmlBody", data); err != nil {
		return Message{}, err
	}

	return Message{
		Subject:  subject.String(),
		TextBody: plainBody.String(),
		HTMLBody: htmlBody.String(),
	}, nil
}
