package inbox

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/rs/zerolog"

	"github.com/phishguard/phishguard/internal/config"
)

const fetchBatchSize = 50

// Monitor handles the IMAP connection for inbox scans.
type Monitor struct {
	config  config.InboxConfig
	client  *client.Client
	lastUID uint32
	log     zerolog.Logger
}

// NewMonitor creates a new inbox monitor
func NewMonitor(cfg config.InboxConfig, log zerolog.Logger) *Monitor {
	return &Monitor{
		config: cfg,
		log:    log.With().Str("component", "inbox").Logger(),
	}
}

// Connect establishes IMAP connection
func (m *Monitor) Connect(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", m.config.Server, m.config.Port)
	m.log.Info().Str("addr", addr).Msg("connecting to IMAP server")

	c, err := client.DialTLS(addr, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to IMAP server: %w", err)
	}
	if err := ctx.Err(); err != nil {
		c.Logout()
		return err
	}

	if err := c.Login(m.config.Email, m.config.Password); err != nil {
		c.Logout()
		return fmt.Errorf("failed to login: %w", err)
	}

	m.client = c
	m.log.Info().Str("email", m.config.Email).Msg("login successful")
	return nil
}

// Disconnect closes the IMAP connection
func (m *Monitor) Disconnect() error {
	if m.client != nil {
		return m.client.Logout()
	}
	return nil
}

// FetchRecent fetches messages from the last N days without marking them
// read.
func (m *Monitor) FetchRecent(ctx context.Context, days int) ([]Email, error) {
	if m.client == nil {
		return nil, fmt.Errorf("not connected to IMAP server")
	}

	mbox, err := m.client.Select(m.config.Folder, false)
	if err != nil {
		return nil, fmt.Errorf("failed to select mailbox %s: %w", m.config.Folder, err)
	}
	m.log.Debug().Str("folder", m.config.Folder).Uint32("messages", mbox.Messages).Msg("mailbox selected")
	if mbox.Messages == 0 {
		return nil, nil
	}

	since := time.Now().AddDate(0, 0, -days)
	criteria := imap.NewSearchCriteria()
	criteria.Since = since

	uids, err := m.client.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("failed to search emails: %w", err)
	}
	m.log.Info().Int("count", len(uids)).Str("since", since.Format("2006-01-02")).Msg("found messages")

	return m.fetch(ctx, uids)
}

// fetchNew returns messages with a UID above the highest one seen so far.
func (m *Monitor) fetchNew(ctx context.Context) ([]Email, error) {
	uids, err := m.client.UidSearch(uidsAfter(m.lastUID))
	if err != nil {
		return nil, fmt.Errorf("failed to search new emails: %w", err)
	}
	return m.fetch(ctx, newerThan(uids, m.lastUID))
}

// uidsAfter searches for "last+1:*".
func uidsAfter(last uint32) *imap.SearchCriteria {
	criteria := imap.NewSearchCriteria()
	criteria.Uid = new(imap.SeqSet)
	criteria.Uid.AddRange(last+1, 0)
	return criteria
}

// newerThan drops UIDs at or below last. "N:*" always matches the highest
// UID in the mailbox, even when it is below N.
func newerThan(uids []uint32, last uint32) []uint32 {
	var fresh []uint32
	for _, uid := range uids {
		if uid > last {
			fresh = append(fresh, uid)
		}
	}
	return fresh
}

func (m *Monitor) fetch(ctx context.Context, uids []uint32) ([]Email, error) {
	var emails []Email
	for i := 0; i < len(uids); i += fetchBatchSize {
		if err := ctx.Err(); err != nil {
			return emails, err
		}
		end := i + fetchBatchSize
		if end > len(uids) {
			end = len(uids)
		}

		seqSet := new(imap.SeqSet)
		seqSet.AddNum(uids[i:end]...)

		section := &imap.BodySectionName{Peek: true}
		items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchUid, section.FetchItem()}

		messages := make(chan *imap.Message, fetchBatchSize)
		done := make(chan error, 1)
		go func() {
			done <- m.client.UidFetch(seqSet, items, messages)
		}()

		for msg := range messages {
			email, err := m.parseMessage(msg, section)
			if err != nil {
				m.log.Warn().Err(err).Uint32("uid", msg.Uid).Msg("failed to parse message")
			}
			if email != nil {
				emails = append(emails, *email)
			}
		}
		if err := <-done; err != nil {
			return emails, fmt.Errorf("failed to fetch messages: %w", err)
		}
	}

	for _, e := range emails {
		if e.UID > m.lastUID {
			m.lastUID = e.UID
		}
	}
	return emails, nil
}

// parseMessage converts an IMAP message to our Email struct. Envelope
// fields fill in whatever the body headers lack.
func (m *Monitor) parseMessage(msg *imap.Message, section *imap.BodySectionName) (*Email, error) {
	if msg == nil || msg.Envelope == nil {
		return nil, nil
	}

	email := &Email{}
	var parseErr error
	if r := msg.GetBody(section); r != nil {
		parsed, err := ParseMessage(r)
		if parsed != nil {
			email = parsed
		}
		parseErr = err
	}

	email.UID = msg.Uid
	env := msg.Envelope
	if email.Subject == "" {
		email.Subject = env.Subject
	}
	if email.MessageID == "" && env.MessageId != "" {
		email.MessageID = env.MessageId
	}
	if email.ReceivedAt.IsZero() {
		email.ReceivedAt = env.Date
	}
	if email.From == "" && len(env.From) > 0 {
		email.From = env.From[0].Address()
		email.FromName = env.From[0].PersonalName
	}
	return email, parseErr
}

// Watch blocks, calling handle with each batch of newly arrived messages
// until ctx is done. It uses IDLE, which the client library replaces with
// polling on servers that lack it.
func (m *Monitor) Watch(ctx context.Context, handle func(context.Context, []Email)) error {
	if m.client == nil {
		return fmt.Errorf("not connected to IMAP server")
	}

	mbox, err := m.client.Select(m.config.Folder, false)
	if err != nil {
		return fmt.Errorf("failed to select mailbox: %w", err)
	}
	if mbox.UidNext > 0 {
		m.lastUID = mbox.UidNext - 1
	}

	updates := make(chan client.Update, 16)
	m.client.Updates = updates
	defer func() { m.client.Updates = nil }()

	opts := &client.IdleOptions{PollInterval: time.Duration(m.config.WatchIntervalSec) * time.Second}
	idle := func() (chan struct{}, chan error) {
		stop := make(chan struct{})
		done := make(chan error, 1)
		go func() { done <- m.client.Idle(stop, opts) }()
		return stop, done
	}
	stop, idleDone := idle()

	m.log.Info().Str("folder", m.config.Folder).Uint32("last_uid", m.lastUID).Msg("watching for new mail")

	for {
		select {
		case <-ctx.Done():
			close(stop)
			<-idleDone
			return ctx.Err()
		case update := <-updates:
			if _, ok := update.(*client.MailboxUpdate); !ok {
				continue
			}
			close(stop)
			if err := <-idleDone; err != nil {
				return fmt.Errorf("IDLE error: %w", err)
			}

			emails, err := m.fetchNew(ctx)
			if err != nil {
				m.log.Error().Err(err).Msg("failed to fetch new mail")
			}
			if len(emails) > 0 {
				m.log.Info().Int("count", len(emails)).Msg("new mail")
				handle(ctx, emails)
			}
			stop, idleDone = idle()
		case err := <-idleDone:
			if err != nil {
				return fmt.Errorf("IDLE error: %w", err)
			}
			stop, idleDone = idle()
		}
	}
}

// EnsureFolderExists creates a folder/label if it doesn't already exist
func (m *Monitor) EnsureFolderExists(name string) error {
	if m.client == nil {
		return fmt.Errorf("not connected to IMAP server")
	}

	mailboxes := make(chan *imap.MailboxInfo, 10)
	done := make(chan error, 1)
	go func() {
		done <- m.client.List("", "*", mailboxes)
	}()

	exists := false
	for mbox := range mailboxes {
		if strings.EqualFold(mbox.Name, name) {
			exists = true
		}
	}
	if err := <-done; err != nil {
		return fmt.Errorf("failed to list folders: %w", err)
	}
	if exists {
		return nil
	}

	if err := m.client.Create(name); err != nil {
		return fmt.Errorf("failed to create folder '%s': %w", name, err)
	}
	m.log.Info().Str("folder", name).Msg("created folder")
	return nil
}

// MoveToFolder moves a single email to the specified folder by UID
func (m *Monitor) MoveToFolder(uid uint32, folder string) error {
	if m.client == nil {
		return fmt.Errorf("not connected to IMAP server")
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uid)

	// Try MOVE first (RFC 6851), fall back to COPY + DELETE
	if err := m.client.UidMove(seqSet, folder); err != nil {
		m.log.Debug().Err(err).Msg("MOVE not supported, falling back to COPY+DELETE")
		if err := m.client.UidCopy(seqSet, folder); err != nil {
			return fmt.Errorf("failed to copy email to '%s': %w", folder, err)
		}

		item := imap.FormatFlagsOp(imap.AddFlags, true)
		flags := []interface{}{imap.DeletedFlag}
		if err := m.client.UidStore(seqSet, item, flags, nil); err != nil {
			return fmt.Errorf("failed to mark email as deleted: %w", err)
		}
		if err := m.client.Expunge(nil); err != nil {
			return fmt.Errorf("failed to expunge deleted email: %w", err)
		}
	}
	return nil
}
