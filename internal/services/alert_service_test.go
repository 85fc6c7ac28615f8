package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BradenHooton/gatekeeper/internal/models"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSES struct {
	input *ses.SendEmailInput
	err   error
}

func (f *fakeSES) SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
	f.input = params
	if f.err != nil {
		return nil, f.err
	}
	return &ses.SendEmailOutput{MessageId: aws.String("msg-1")}, nil
}

func TestSESAlertService_SendSecurityAlert(t *testing.T) {
	client := &fakeSES{}
	svc := newSESAlertService(client, "alerts@example.com", []string{"ops@example.com"}, discardLogger())

	email := "admin@example.com"
	ip := "198.51.100.7"
	event := &models.SecurityEvent{
		ID:        uuid.New(),
		Type:      models.EventAccountLockout,
		Severity:  models.SeverityHigh,
		Email:     &email,
		IPAddress: &ip,
		Details:   models.EventDetails{"escalation_count": 10},
		Timestamp: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
	}

	require.NoError(t, svc.SendSecurityAlert(context.Background(), event))
	require.NotNil(t, client.input)

	assert.Equal(t, "alerts@example.com", aws.ToString(client.input.Source))
	assert.Equal(t, []string{"ops@example.com"}, client.input.Destination.ToAddresses)
	assert.Equal(t, "[HIGH] Security alert: ACCOUNT_LOCKOUT", aws.ToString(client.input.Message.Subject.Data))

	body := aws.ToString(client.input.Message.Body.Text.Data)
	assert.Contains(t, body, "escalation_count: 10")
	assert.Contains(t, body, "2026-03-02T10:00:00Z")
	assert.Contains(t, body, event.ID.String())
	assert.NotContains(t, body, "admin@example.com")
}

func TestSESAlertService_SendFailure(t *testing.T) {
	client := &fakeSES{err: errors.New("throttled")}
	svc := newSESAlertService(client, "alerts@example.com", []string{"ops@example.com"}, discardLogger())

	err := svc.SendSecurityAlert(context.Background(), &models.SecurityEvent{
		ID: uuid.New(), Type: models.EventBruteForce, Severity: models.SeverityCritical,
	})
	assert.Error(t, err)
}
