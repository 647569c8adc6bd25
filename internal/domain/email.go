package domain

import (
	"context"
	"time"
)

// Mailer defines the contract for sending emails (infrastructure port).
type Mailer interface {
	Send(ctx context.Context, to, subject, html, text string) error
}

// EmailTemplateRenderer renders email content from a named template with the given data.
type EmailTemplateRenderer interface {
	Render(templateName string, data any) (subject, htmlBody, textBody string, err error)
}

// ActivationEmailData holds data for the activation link email.
type ActivationEmailData struct {
	Email     string
	Name      string
	Link      string
	ExpiresAt time.Time
}

// EmailService defines the contract for sending domain-level emails.
type EmailService interface {
	SendActivationLink(ctx context.Context, data *ActivationEmailData) error
}
