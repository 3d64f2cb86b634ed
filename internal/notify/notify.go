// Package notify delivers templated mail jobs. Rendering and SMTP delivery
// happen in a separate mail worker consuming the published jobs.
package notify

import (
	"context"
	"log/slog"
)

// Template names understood by the mail worker.
const (
	TemplateWelcome             = "welcome"
	TemplatePasswordReset       = "password-reset"
	TemplateBookingConfirmation = "booking-confirmation"
	TemplateRefundRequested     = "refund-requested"
	TemplateRefundResolved      = "refund-resolved"
)

// Message is one mail job.
type Message struct {
	Template string         `json:"template"`
	To       string         `json:"to"`
	Data     map[string]any `json:"data,omitempty"`
}

// LogMailer only logs messages. It is used when no broker is configured.
type LogMailer struct {
	logger *slog.Logger
}

// NewLogMailer returns a mailer writing to logger.
func NewLogMailer(logger *slog.Logger) *LogMailer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogMailer{logger: logger}
}

// Send logs the message and never fails.
func (m *LogMailer) Send(ctx context.Context, msg Message) error {
	m.logger.InfoContext(ctx, "mail job", "template", msg.Template, "to", msg.To)
	return nil
}
