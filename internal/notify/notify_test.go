package notify

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/smtp"
	"testing"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phishguard/phishguard/internal/config"
)

var alert = Alert{
	ScanID:      "scan-1",
	MessageID:   "<abc@evil.example>",
	Sender:      "PayPal <service@paypa1.example>",
	Subject:     "Account locked\r\nBcc: v@x.io",
	Label:       "PHISHING",
	Quarantined: true,
	Folder:      "Phishing",
}

func TestCompose(t *testing.T) {
	now := time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC)
	raw, err := Compose("guard@example.com", "me@example.com", alert, now)
	require.NoError(t, err)

	mr, err := mail.CreateReader(bytes.NewReader(raw))
	require.NoError(t, err)

	subject, err := mr.Header.Subject()
	require.NoError(t, err)
	assert.Equal(t, "[phishguard] Phishing detected: Account locked Bcc: v@x.io", subject)
	assert.Empty(t, mr.Header.Get("Bcc"))

	to, err := mr.Header.AddressList("To")
	require.NoError(t, err)
	require.Len(t, to, 1)
	assert.Equal(t, "me@example.com", to[0].Address)

	date, err := mr.Header.Date()
	require.NoError(t, err)
	assert.True(t, date.Equal(now))

	p, err := mr.NextPart()
	require.NoError(t, err)
	text, err := io.ReadAll(p.Body)
	require.NoError(t, err)
	assert.Contains(t, string(text), "Scan ID:    scan-1")
	assert.Contains(t, string(text), `moved to "Phishing"`)
}

func TestComposeRejectsBadAddresses(t *testing.T) {
	tests := []struct {
		name string
		from string
		to   string
	}{
		{name: "empty sender", from: "", to: "me@example.com"},
		{name: "header injection", from: "guard@example.com\r\nBcc: x@y.com", to: "me@example.com"},
		{name: "two recipients", from: "guard@example.com", to: "a@example.com, b@example.com"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compose(tt.from, tt.to, alert, time.Now())
			assert.Error(t, err)
		})
	}
}

func TestSMTPNotify(t *testing.T) {
	cfg := config.AlertConfig{
		Enabled: true,
		From:    "guard@example.com",
		To:      "me@example.com",
		SMTP:    config.SMTPConfig{Host: "smtp.example.com", Port: 587, Username: "guard", Password: "pw", UseTLS: true},
	}

	var gotAddr string
	var gotTo []string
	var gotAuth smtp.Auth
	n := NewSMTP(cfg, zerolog.Nop()).WithSendFunc(func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotTo, gotAuth = addr, to, auth
		assert.Equal(t, "guard@example.com", from)
		assert.NotEmpty(t, msg)
		return nil
	})

	require.NoError(t, n.Notify(context.Background(), alert))
	assert.Equal(t, "smtp.example.com:587", gotAddr)
	assert.Equal(t, []string{"me@example.com"}, gotTo)
	assert.NotNil(t, gotAuth)
}

func TestSMTPNotifySanitizesErrors(t *testing.T) {
	cfg := config.AlertConfig{Enabled: true, From: "guard@example.com", To: "me@example.com",
		SMTP: config.SMTPConfig{Host: "smtp.example.com", Port: 465, Password: "hunter2"}}
	n := NewSMTP(cfg, zerolog.Nop()).WithSendFunc(func(string, smtp.Auth, string, []string, []byte) error {
		return errors.New("535 auth rejected for password hunter2")
	})

	err := n.Notify(context.Background(), alert)
	require.Error(t, err)
	assert.Equal(t, "SMTP authentication failed", err.Error())
}

func TestSMTPNotifyRefusesPlainAuth(t *testing.T) {
	cfg := config.AlertConfig{Enabled: true, From: "guard@example.com", To: "me@example.com",
		SMTP: config.SMTPConfig{Host: "smtp.example.com", Port: 25, Username: "guard", Password: "hunter2"}}

	err := NewSMTP(cfg, zerolog.Nop()).Notify(context.Background(), alert)
	assert.ErrorIs(t, err, ErrAuthWithoutTLS)
}

func TestNewSelectsNotifier(t *testing.T) {
	assert.IsType(t, &Log{}, New(config.AlertConfig{}, zerolog.Nop()))
	assert.IsType(t, &SMTP{}, New(config.AlertConfig{Enabled: true}, zerolog.Nop()))
	assert.NoError(t, NewLog(zerolog.Nop()).Notify(context.Background(), alert))
}
