package flows

import (
	"context"
	"log/slog"
)

// EmailSender delivers flow links. Applications plug in their mail provider.
type EmailSender interface {
	SendVerificationEmail(ctx context.Context, to, link string) error
	SendPasswordResetEmail(ctx context.Context, to, link string) error
}

// LogEmailSender writes emails to a logger instead of sending them. Useful
// in development.
type LogEmailSender struct {
	Logger *slog.Logger
}

func (s *LogEmailSender) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func (s *LogEmailSender) SendVerificationEmail(ctx context.Context, to, link string) error {
	s.logger().InfoContext(ctx, "email",
		"kind", "verification",
		"to", to,
		"subject", "Verify your email address",
		"link", link)
	return nil
}

func (s *LogEmailSender) SendPasswordResetEmail(ctx context.Context, to, link string) error {
	s.logger().InfoContext(ctx, "email",
		"kind", "password_reset",
		"to", to,
		"subject", "Reset your password",
		"link", link)
	return nil
}
