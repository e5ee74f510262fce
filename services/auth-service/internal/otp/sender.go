package otp

import (
	"context"
	"log/slog"
)

// CodeSender delivers a code to the address on the challenge.
type CodeSender interface {
	Send(ctx context.Context, ch Challenge, code string) error
}

// LogSender writes codes to the log. Used until a mail provider is configured.
type LogSender struct {
	Logger *slog.Logger
}

func (s LogSender) Send(ctx context.Context, ch Challenge, code string) error {
	s.Logger.InfoContext(ctx, "otp issued",
		"challenge_id", ch.ID,
		"email", ch.Email,
		"business_id", ch.BusinessID,
		"code", code,
		"expires_at", ch.ExpiresAt,
	)
	return nil
}
