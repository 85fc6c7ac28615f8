package services

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/BradenHooton/gatekeeper/internal/models"
	"github.com/BradenHooton/gatekeeper/pkg/logger"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
)

// Alerter notifies operators about severe security events
type Alerter interface {
	SendSecurityAlert(ctx context.Context, event *models.SecurityEvent) error
}

// sesSender is the subset of the SES client used for alerts
type sesSender interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// SESAlertService e-mails security alerts through AWS SES
type SESAlertService struct {
	sesClient   sesSender
	fromAddress string
	recipients  []string
	logger      *slog.Logger
}

// NewSESClient creates an SES client using the default AWS credential chain
func NewSESClient(region string) (*ses.Client, error) {
	cfg, err := config.LoadDefaultConfig(context.Background(), config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return ses.NewFromConfig(cfg), nil
}

// NewSESAlertService creates an alert service sending through client
func NewSESAlertService(client *ses.Client, fromAddress string, recipients []string, logger *slog.Logger) *SESAlertService {
	return newSESAlertService(client, fromAddress, recipients, logger)
}

func newSESAlertService(client sesSender, fromAddress string, recipients []string, logger *slog.Logger) *SESAlertService {
	return &SESAlertService{
		sesClient:   client,
		fromAddress: fromAddress,
		recipients:  recipients,
		logger:      logger,
	}
}

// SendSecurityAlert sends one plain-text message describing event
func (s *SESAlertService) SendSecurityAlert(ctx context.Context, event *models.SecurityEvent) error {
	subject := fmt.Sprintf("[%s] Security alert: %s", strings.ToUpper(string(event.Severity)), event.Type)

	input := &ses.SendEmailInput{
		Source: aws.String(s.fromAddress),
		Destination: &types.Destination{
			ToAddresses: s.recipients,
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data: aws.String(subject),
			},
			Body: &types.Body{
				Text: &types.Content{
					Data: aws.String(alertBody(event)),
				},
			},
		},
	}

	result, err := s.sesClient.SendEmail(ctx, input)
	if err != nil {
		s.logger.Error("failed to send security alert via SES",
			slog.String("event_id", event.ID.String()),
			slog.Any("error", err))
		return fmt.Errorf("failed to send alert: %w", err)
	}

	s.logger.Info("security alert sent",
		slog.String("event_id", event.ID.String()),
		slog.String("message_id", aws.ToString(result.MessageId)))

	return nil
}

func alertBody(event *models.SecurityEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Event:     %s\n", event.Type)
	fmt.Fprintf(&b, "Severity:  %s\n", event.Severity)
	fmt.Fprintf(&b, "Time:      %s\n", event.Timestamp.UTC().Format(time.RFC3339))
	if event.Email != nil {
		fmt.Fprintf(&b, "Account:   %s\n", logger.SanitizedEmail(*event.Email))
	}
	if event.IPAddress != nil {
		fmt.Fprintf(&b, "IP:        %s\n", *event.IPAddress)
	}

	if len(event.Details) > 0 {
		keys := make([]string, 0, len(event.Details))
		for k := range event.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		b.WriteString("\nDetails:\n")
		for _, k := range keys {
			fmt.Fprintf(&b, "  %s: %v\n", k, event.Details[k])
		}
	}

	fmt.Fprintf(&b, "\nEvent ID: %s\n", event.ID)
	return b.String()
}
