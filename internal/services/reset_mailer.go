package services

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/BradenHooton/gatekeeper/pkg/logger"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
)

// ResetMailer delivers password reset links
type ResetMailer interface {
	SendPasswordReset(ctx context.Context, email, token string, expiresAt time.Time) error
}

// SESResetMailer e-mails password reset links through AWS SES
type SESResetMailer struct {
	sesClient   sesSender
	fromAddress string
	resetURL    string
	logger      *slog.Logger
}

// NewSESResetMailer creates a mailer linking to resetURL?token=...
func NewSESResetMailer(client *ses.Client, fromAddress, resetURL string, logger *slog.Logger) *SESResetMailer {
	return newSESResetMailer(client, fromAddress, resetURL, logger)
}

func newSESResetMailer(client sesSender, fromAddress, resetURL string, logger *slog.Logger) *SESResetMailer {
	return &SESResetMailer{
		sesClient:   client,
		fromAddress: fromAddress,
		resetURL:    resetURL,
		logger:      logger,
	}
}

// SendPasswordReset sends the reset link for token to email
func (m *SESResetMailer) SendPasswordReset(ctx context.Context, email, token string, expiresAt time.Time) error {
	link := m.resetURL + "?token=" + url.QueryEscape(token)
	minutes := int(time.Until(expiresAt).Round(time.Minute).Minutes())

	textBody := fmt.Sprintf(`Reset your password

A password reset was requested for your admin account. Open the link below to choose a new password:

%s

The link can be used once and expires in %d minutes.

If you did not request a reset, ignore this message. Your password stays unchanged.
`, link, max(minutes, 1))

	input := &ses.SendEmailInput{
		Source: aws.String(m.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{email},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data: aws.String("Reset your password"),
			},
			Body: &types.Body{
				Text: &types.Content{
					Data: aws.String(textBody),
				},
			},
		},
	}

	result, err := m.sesClient.SendEmail(ctx, input)
	if err != nil {
		return fmt.Errorf("failed to send password reset email: %w", err)
	}

	m.logger.Info("password reset email sent",
		slog.String("email", logger.SanitizedEmail(email)),
		slog.String("message_id", aws.ToString(result.MessageId)))
	return nil
}
