package notify

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/phishguard/phishguard/internal/config"
)

// ErrAuthWithoutTLS is returned when credentials would be sent over a
// plain connection.
var ErrAuthWithoutTLS = errors.New("SMTP auth requires use_tls")

// SendFunc delivers a composed message. It matches smtp.SendMail.
type SendFunc func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error

type SMTP struct {
	config config.SMTPConfig
	from   string
	to     string
	send   SendFunc
	now    func() time.Time
	log    zerolog.Logger
}

func NewSMTP(cfg config.AlertConfig, log zerolog.Logger) *SMTP {
	s := &SMTP{
		config: cfg.SMTP,
		from:   cfg.From,
		to:     cfg.To,
		now:    time.Now,
		log:    log.With().Str("component", "notify").Logger(),
	}
	s.send = s.dispatch
	return s
}

// WithSendFunc replaces the transport, for tests.
func (s *SMTP) WithSendFunc(fn SendFunc) *SMTP {
	s.send = fn
	return s
}

func (s *SMTP) Notify(ctx context.Context, a Alert) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg, err := Compose(s.from, s.to, a, s.now())
	if err != nil {
		return err
	}

	addr := net.JoinHostPort(s.config.Host, fmt.Sprint(s.config.Port))
	var auth smtp.Auth
	if s.config.Username != "" {
		auth = smtp.PlainAuth("", s.config.Username, s.config.Password, s.config.Host)
	}
	if err := s.send(addr, auth, s.from, []string{s.to}, msg); err != nil {
		if !errors.Is(err, ErrAuthWithoutTLS) {
			err = sanitizeSMTPError(err)
		}
		s.log.Error().Err(err).Str("scan_id", a.ScanID).Msg("alert not sent")
		return err
	}
	s.log.Info().Str("scan_id", a.ScanID).Str("to", s.to).Msg("alert sent")
	return nil
}

func (s *SMTP) dispatch(addr string, auth smtp.Auth, from string, to []string, msg []byte) error {
	if s.config.UseTLS {
		return s.sendWithTLS(addr, auth, from, to, msg)
	}
	if auth != nil {
		return ErrAuthWithoutTLS
	}
	return smtp.SendMail(addr, nil, from, to, msg)
}

func sanitizeSMTPError(err error) error {
	s := strings.ToLower(err.Error())
	if strings.Contains(s, "auth") {
		return fmt.Errorf("SMTP authentication failed")
	}
	if strings.Contains(s, "certificate") {
		return fmt.Errorf("TLS certificate error")
	}
	return fmt.Errorf("SMTP error: check your configuration")
}

func (s *SMTP) sendWithTLS(addr string, auth smtp.Auth, from string, to []string, msg []byte) error {
	conn, err := tls.Dial("tcp", addr, &tls.Config{
		ServerName: s.config.Host,
		MinVersion: tls.VersionTLS12,
	})
	if err != nil {
		return fmt.Errorf("TLS connection failed: %w", err)
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, s.config.Host)
	if err != nil {
		return fmt.Errorf("SMTP client creation failed: %w", err)
	}
	defer client.Close()

	if auth != nil {
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("authentication failed: %w", err)
		}
	}
	if err := client.Mail(from); err != nil {
		return fmt.Errorf("sender rejected: %w", err)
	}
	for _, rcpt := range to {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("recipient rejected: %w", err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("data command failed: %w", err)
	}
	if _, err = w.Write(msg); err != nil {
		return fmt.Errorf("message write failed: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("message finalization failed: %w", err)
	}
	return client.Quit()
}
