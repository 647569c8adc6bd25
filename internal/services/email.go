package services

import (
	"context"
	"fmt"
	"log/slog"

	"waitlistgate/internal/domain"
)

type emailService struct {
	mailer   domain.Mailer
	renderer domain.EmailTemplateRenderer
	logger   *slog.Logger
}

// NewEmailService returns an EmailService that uses the given Mailer and template renderer.
func NewEmailService(mailer domain.Mailer, renderer domain.EmailTemplateRenderer, logger *slog.Logger) domain.EmailService {
	return &emailService{mailer: mailer, renderer: renderer, logger: logger}
}

// SendActivationLink sends the activation email using the "activation" template.
func (s *emailService) SendActivationLink(ctx context.Context, data *domain.ActivationEmailData) error {
	if data == nil {
		return fmt.Errorf("activation email data is nil")
	}
	subject, htmlBody, textBody, err := s.renderer.Render("activation", data)
	if err != nil {
		return fmt.Errorf("failed to render activation template: %w", err)
	}
	if err := s.mailer.Send(ctx, data.Email, subject, htmlBody, textBody); err != nil {
		return fmt.Errorf("failed to send activation email: %w", err)
	}
	s.logger.InfoContext(ctx, "activation email sent", "to", data.Email)
	return nil
}
