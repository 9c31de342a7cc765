package notifier

import (
	"context"
	"log/slog"
)

// LogMailer is the delivery channel of last resort when no notification queue
// is configured: the message is logged so the fallback is at least visible to
// operators. Local and test environments run with this.
type LogMailer struct{}

func (LogMailer) Send(ctx context.Context, userID, subject, textBody, htmlBody string) error {
	slog.Warn("fallback notification (no delivery channel configured)",
		"user_id", userID,
		"subject", subject,
		"body", textBody,
	)
	return nil
}
