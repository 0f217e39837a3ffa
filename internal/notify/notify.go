// Package notify sends phishing alerts for messages found by inbox scans.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	netmail "net/mail"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/rs/zerolog"

	"github.com/phishguard/phishguard/internal/config"
)

// Alert describes one phishing verdict.
type Alert struct {
	ScanID      string
	MessageID   string
	Sender      string
	Subject     string
	ReceivedAt  time.Time
	Label       string
	Quarantined bool
	Folder      string // quarantine folder, when Quarantined
}

type Notifier interface {
	Notify(ctx context.Context, a Alert) error
}

// ValidateAddress checks for injection characters and RFC 5322 compliance
func ValidateAddress(addr string) error {
	if strings.ContainsAny(addr, "\r\n,;") {
		return fmt.Errorf("address contains invalid characters")
	}
	if _, err := netmail.ParseAddress(addr); err != nil {
		return fmt.Errorf("invalid email format: %w", err)
	}
	return nil
}

// Compose renders the alert as an RFC 5322 message.
func Compose(from, to string, a Alert, now time.Time) ([]byte, error) {
	if err := ValidateAddress(from); err != nil {
		return nil, fmt.Errorf("invalid sender: %w", err)
	}
	if err := ValidateAddress(to); err != nil {
		return nil, fmt.Errorf("invalid recipient: %w", err)
	}

	var h mail.Header
	h.SetDate(now)
	h.SetAddressList("From", []*mail.Address{{Name: "phishguard", Address: from}})
	h.SetAddressList("To", []*mail.Address{{Address: to}})
	// Header values from the scanned message are attacker-controlled.
	h.SetSubject("[phishguard] Phishing detected: " + oneLine(a.Subject))
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	if err := h.GenerateMessageID(); err != nil {
		return nil, fmt.Errorf("failed to generate message id: %w", err)
	}

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("failed to create message: %w", err)
	}
	if _, err := io.WriteString(w, body(a)); err != nil {
		return nil, fmt.Errorf("failed to write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize message: %w", err)
	}
	return buf.Bytes(), nil
}

func body(a Alert) string {
	var b strings.Builder
	b.WriteString("A message was classified as phishing.\n\n")
	fmt.Fprintf(&b, "From:       %s\n", oneLine(a.Sender))
	fmt.Fprintf(&b, "Subject:    %s\n", oneLine(a.Subject))
	if !a.ReceivedAt.IsZero() {
		fmt.Fprintf(&b, "Received:   %s\n", a.ReceivedAt.Format(time.RFC1123Z))
	}
	if a.MessageID != "" {
		fmt.Fprintf(&b, "Message-ID: %s\n", oneLine(a.MessageID))
	}
	fmt.Fprintf(&b, "Verdict:    %s\n", a.Label)
	fmt.Fprintf(&b, "Scan ID:    %s\n", a.ScanID)
	if a.Quarantined {
		fmt.Fprintf(&b, "\nThe message was moved to %q.\n", a.Folder)
	} else {
		b.WriteString("\nThe message was left in place. Do not open its links or attachments.\n")
	}
	return b.String()
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Log writes alerts to the logger instead of sending mail. It is used when
// alerting is disabled in config.
type Log struct {
	log zerolog.Logger
}

func NewLog(log zerolog.Logger) *Log {
	return &Log{log: log.With().Str("component", "notify").Logger()}
}

func (l *Log) Notify(_ context.Context, a Alert) error {
	l.log.Warn().
		Str("scan_id", a.ScanID).
		Str("sender", a.Sender).
		Str("subject", a.Subject).
		Bool("quarantined", a.Quarantined).
		Msg("phishing detected")
	return nil
}

// New returns an SMTP notifier when alerting is enabled, otherwise a log
// notifier.
func New(cfg config.AlertConfig, log zerolog.Logger) Notifier {
	if !cfg.Enabled {
		return NewLog(log)
	}
	return NewSMTP(cfg, log)
}
