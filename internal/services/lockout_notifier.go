package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"

	"github.com/BradenHooton/authcore/internal/models"
	pkglogger "github.com/BradenHooton/authcore/pkg/logger"
)

// sesSender is the slice of the SES client used for alerts
type sesSender interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// SESLockoutNotifier emails the account owner when their credential is locked
// out. Credentials that do not resolve to a verified account get no mail.
type SESLockoutNotifier struct {
	client      sesSender
	users       UserRepository
	fromAddress string
	supportURL  string
	logger      *slog.Logger
}

// NewSESLockoutNotifier loads the default AWS config for region and returns a notifier
func NewSESLockoutNotifier(ctx context.Context, users UserRepository, region, fromAddress, supportURL string, logger *slog.Logger) (*SESLockoutNotifier, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return newSESLockoutNotifier(ses.NewFromConfig(cfg), users, fromAddress, supportURL, logger), nil
}

func newSESLockoutNotifier(client sesSender, users UserRepository, fromAddress, supportURL string, logger *slog.Logger) *SESLockoutNotifier {
	return &SESLockoutNotifier{
		client:      client,
		users:       users,
		fromAddress: fromAddress,
		supportURL:  supportURL,
		logger:      logger,
	}
}

// SendLockoutAlert implements LockoutNotifier
func (n *SESLockoutNotifier) SendLockoutAlert(ctx context.Context, credentialID string, cumulativeAttempts int) error {
	recipient, err := n.recipient(ctx, credentialID)
	if err != nil {
		return err
	}
	if recipient == "" {
		n.logger.Info("lockout alert skipped: no verified account",
			slog.String("email", pkglogger.SanitizedEmail(credentialID)))
		return nil
	}

	when := time.Now().UTC().Format(time.RFC1123)

	text := fmt.Sprintf(`Sign-in temporarily locked

We blocked sign-in to your account after %d failed attempts (%s).
If this was you, wait a few minutes and try again.
If it was not you, change your password as soon as you can: %s

This is an automated security message.
`, cumulativeAttempts, when, n.supportURL)

	html := fmt.Sprintf(`<!DOCTYPE html>
<html><body style="font-family: Arial, sans-serif; color: #333;">
<h2>Sign-in temporarily locked</h2>
<p>We blocked sign-in to your account after <strong>%d</strong> failed attempts (%s).</p>
<p>If this was you, wait a few minutes and try again.</p>
<p>If it was not you, <a href="%s">change your password</a> as soon as you can.</p>
<p style="color: #666; font-size: 12px;">This is an automated security message.</p>
</body></html>`, cumulativeAttempts, when, n.supportURL)

	out, err := n.client.SendEmail(ctx, &ses.SendEmailInput{
		Source:      aws.String(n.fromAddress),
		Destination: &types.Destination{ToAddresses: []string{recipient}},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String("Security alert: sign-in locked")},
			Body: &types.Body{
				Html: &types.Content{Data: aws.String(html)},
				Text: &types.Content{Data: aws.String(text)},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to send lockout alert: %w", err)
	}

	n.logger.Info("lockout alert sent",
		slog.String("email", pkglogger.SanitizedEmail(credentialID)),
		slog.Int("cumulative_attempts", cumulativeAttempts),
		slog.String("message_id", aws.ToString(out.MessageId)))
	return nil
}

// recipient returns the stored address of the verified account behind
// credentialID, or "" when there is none
func (n *SESLockoutNotifier) recipient(ctx context.Context, credentialID string) (string, error) {
	user, err := n.users.GetByEmail(ctx, credentialID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("failed to resolve lockout alert recipient: %w", err)
	}
	if !user.EmailVerified {
		return "", nil
	}
	return user.Email, nil
}

// LogLockoutNotifier records lockout alerts in the log only. Used when no
// mail sender is configured.
type LogLockoutNotifier struct {
	logger *slog.Logger
}

// NewLogLockoutNotifier creates a new LogLockoutNotifier
func NewLogLockoutNotifier(logger *slog.Logger) *LogLockoutNotifier {
	return &LogLockoutNotifier{logger: logger}
}

// SendLockoutAlert implements LockoutNotifier
func (n *LogLockoutNotifier) SendLockoutAlert(_ context.Context, credentialID string, cumulativeAttempts int) error {
	n.logger.Warn("lockout alert (delivery disabled)",
		slog.String("email", pkglogger.SanitizedEmail(credentialID)),
		slog.Int("cumulative_attempts", cumulativeAttempts))
	return nil
}
