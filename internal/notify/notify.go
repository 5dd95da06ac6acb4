// Package notify holds the outbound notification port. Real delivery is an
// external collaborator; this package ships the interface and a logging no-op
// so the rest of the system can wire the concern without an email backend.
package notify

import (
	"context"
	"log/slog"
)

// Mailer tells a person their account was created and what they were
// enrolled in.
type Mailer interface {
	SendEnrollmentNotice(ctx context.Context, email string, courses []string) error
}

// LogMailer records the notice in the structured log instead of sending it.
type LogMailer struct {
	logger *slog.Logger
}

// NewLogMailer constructs the logging no-op mailer.
func NewLogMailer(logger *slog.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

func (m *LogMailer) SendEnrollmentNotice(ctx context.Context, email string, courses []string) error {
	m.logger.InfoContext(ctx, "enrollment notice",
		"email", email,
		"courses", courses,
	)
	return nil
}
