package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSESResetMailer_SendPasswordReset(t *testing.T) {
	client := &fakeSES{}
	mailer := newSESResetMailer(client, "no-reply@example.com", "https://admin.example.com/reset-password", discardLogger())

	err := mailer.SendPasswordReset(context.Background(), "admin@example.com", "abc+/=", time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.NotNil(t, client.input)

	assert.Equal(t, "no-reply@example.com", aws.ToString(client.input.Source))
	assert.Equal(t, []string{"admin@example.com"}, client.input.Destination.ToAddresses)
	assert.Equal(t, "Reset your password", aws.ToString(client.input.Message.Subject.Data))

	body := aws.ToString(client.input.Message.Body.Text.Data)
	assert.Contains(t, body, "https://admin.example.com/reset-password?token=abc%2B%2F%3D")
	assert.Contains(t, body, "expires in 60 minutes")
}

func TestSESResetMailer_SendFailure(t *testing.T) {
	client := &fakeSES{err: errors.New("throttled")}
	mailer := newSESResetMailer(client, "no-reply@example.com", "https://admin.example.com/reset-password", discardLogger())

	err := mailer.SendPasswordReset(context.Background(), "admin@example.com", "token", time.Now().Add(time.Hour))
	assert.ErrorContains(t, err, "throttled")
}
