package inbox

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	"github.com/phishguard/phishguard/internal/message"
)

// maxPartSize caps how much of a single MIME part is read.
const maxPartSize = 10 << 20

// Email is a parsed message from a file or mailbox.
type Email struct {
	UID        uint32 // IMAP UID for operations like move; 0 for files
	MessageID  string
	From       string
	FromName   string // Sender display name (e.g., "PayPal Service")
	Subject    string
	Body       string
	HTMLBody   string
	ReceivedAt time.Time
}

// Sender formats the From address the way a mail client displays it.
func (e *Email) Sender() string {
	if e.FromName == "" {
		return e.From
	}
	return fmt.Sprintf("%s <%s>", e.FromName, e.From)
}

// Content maps the message onto the scanner input. When the message has no
// text/plain part, the visible text of the HTML part stands in for it.
func (e *Email) Content() message.Content {
	body := e.Body
	if strings.TrimSpace(body) == "" && e.HTMLBody != "" {
		body = htmlText(e.HTMLBody)
	}
	return message.Content{
		Sender:   e.Sender(),
		Subject:  e.Subject,
		BodyText: body,
		BodyHTML: e.HTMLBody,
	}
}

// ParseMessage reads an RFC 5322 message. The first text/plain and
// text/html inline parts become the bodies; attachments are skipped.
// Charsets other than UTF-8 are decoded. On a read error part way through,
// the email parsed so far is returned alongside the error.
func ParseMessage(r io.Reader) (*Email, error) {
	mr, err := mail.CreateReader(r)
	if err != nil && mr == nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	defer mr.Close()

	email := &Email{}
	h := mr.Header
	email.Subject, _ = h.Subject()
	email.MessageID = headerMessageID(h)
	if date, err := h.Date(); err == nil {
		email.ReceivedAt = date
	}
	if from, err := h.AddressList("From"); err == nil && len(from) > 0 {
		email.From = from[0].Address
		email.FromName = from[0].Name
	} else {
		email.From = strings.TrimSpace(h.Get("From"))
	}

	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			// Keep what was read so far; a truncated multipart body still
			// carries a scannable subject and first part.
			if email.Body == "" && email.HTMLBody == "" {
				return email, fmt.Errorf("failed to read message body: %w", err)
			}
			break
		}

		ph, ok := p.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		ct, _, _ := ph.ContentType()
		body, err := io.ReadAll(io.LimitReader(p.Body, maxPartSize))
		if err != nil {
			return email, fmt.Errorf("failed to read %s part: %w", ct, err)
		}
		if strings.HasPrefix(ct, "text/plain") && email.Body == "" {
			email.Body = string(body)
		} else if strings.HasPrefix(ct, "text/html") && email.HTMLBody == "" {
			email.HTMLBody = string(body)
		}
	}
	return email, nil
}

func headerMessageID(h mail.Header) string {
	if id, err := h.MessageID(); err == nil && id != "" {
		return "<" + id + ">"
	}
	return strings.TrimSpace(h.Get("Message-Id"))
}

// htmlText returns the visible text of an HTML document with runs of
// whitespace collapsed.
func htmlText(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	doc.Find("script, style, head").Remove()
	return strings.Join(strings.Fields(doc.Text()), " ")
}
