package inbox

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/phishguard/phishguard/internal/classifier"
	"github.com/phishguard/phishguard/internal/history"
	"github.com/phishguard/phishguard/internal/message"
	"github.com/phishguard/phishguard/internal/notify"
	"github.com/phishguard/phishguard/internal/pipeline"
)

const defaultWorkers = 4

type Scanner interface {
	Scan(ctx context.Context, c message.Content) (*pipeline.Result, error)
}

type Recorder interface {
	Add(ctx context.Context, r *history.Record) error
	Seen(ctx context.Context, messageID string) (bool, error)
}

// Mover moves a message out of the selected mailbox.
type Mover interface {
	MoveToFolder(uid uint32, folder string) error
}

// Verdict is the outcome for one message.
type Verdict struct {
	Email       Email
	Result      *pipeline.Result
	Err         error
	Skipped     bool // already scanned by an earlier sweep
	Quarantined bool
}

type Summary struct {
	Scanned     int
	Phishing    int
	Safe        int
	Failed      int
	Skipped     int
	Quarantined int
}

// Sweeper scans a batch of messages. Scans run concurrently; history,
// quarantine and alerts run in message order afterwards because the IMAP
// connection is not safe for concurrent use.
type Sweeper struct {
	scanner    Scanner
	history    Recorder
	notifier   notify.Notifier
	mover      Mover
	quarantine string
	workers    int
	log        zerolog.Logger
}

type SweepOption func(*Sweeper)

func WithHistory(r Recorder) SweepOption {
	return func(s *Sweeper) { s.history = r }
}

func WithNotifier(n notify.Notifier) SweepOption {
	return func(s *Sweeper) { s.notifier = n }
}

// WithQuarantine moves phishing messages to folder.
func WithQuarantine(m Mover, folder string) SweepOption {
	return func(s *Sweeper) {
		s.mover = m
		s.quarantine = folder
	}
}

func WithWorkers(n int) SweepOption {
	return func(s *Sweeper) {
		if n > 0 {
			s.workers = n
		}
	}
}

func NewSweeper(scanner Scanner, log zerolog.Logger, opts ...SweepOption) *Sweeper {
	s := &Sweeper{
		scanner: scanner,
		workers: defaultWorkers,
		log:     log.With().Str("component", "sweeper").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sweep scans emails and acts on the verdicts. Per-message failures are
// reported in the verdicts; the returned error is only ever ctx's.
func (s *Sweeper) Sweep(ctx context.Context, emails []Email) ([]Verdict, Summary, error) {
	verdicts := make([]Verdict, len(emails))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i := range emails {
		verdicts[i].Email = emails[i]
		if s.seen(gctx, emails[i].MessageID) {
			verdicts[i].Skipped = true
			continue
		}
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				verdicts[i].Err = err
				return nil
			}
			verdicts[i].Result, verdicts[i].Err = s.scanner.Scan(gctx, emails[i].Content())
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return verdicts, summarize(verdicts), err
	}

	for i := range verdicts {
		s.act(ctx, &verdicts[i])
	}
	sum := summarize(verdicts)
	s.log.Info().
		Int("scanned", sum.Scanned).
		Int("phishing", sum.Phishing).
		Int("failed", sum.Failed).
		Int("skipped", sum.Skipped).
		Int("quarantined", sum.Quarantined).
		Msg("sweep complete")
	return verdicts, sum, nil
}

func (s *Sweeper) seen(ctx context.Context, messageID string) bool {
	if s.history == nil {
		return false
	}
	ok, err := s.history.Seen(ctx, messageID)
	if err != nil {
		s.log.Warn().Err(err).Msg("history lookup failed; rescanning")
		return false
	}
	return ok
}

func (s *Sweeper) act(ctx context.Context, v *Verdict) {
	if v.Skipped {
		return
	}
	log := s.log.With().Str("message_id", v.Email.MessageID).Logger()

	phishing := v.Err == nil && v.Result.Label == classifier.LabelPhishing
	if phishing && s.mover != nil && v.Email.UID != 0 {
		if err := s.mover.MoveToFolder(v.Email.UID, s.quarantine); err != nil {
			log.Error().Err(err).Msg("quarantine failed")
		} else {
			v.Quarantined = true
		}
	}

	if s.history != nil {
		if err := s.history.Add(ctx, record(v)); err != nil {
			log.Error().Err(err).Msg("failed to record scan")
		}
	}

	if phishing && s.notifier != nil {
		alert := notify.Alert{
			ScanID:      v.Result.ID,
			MessageID:   v.Email.MessageID,
			Sender:      v.Email.Sender(),
			Subject:     v.Email.Subject,
			ReceivedAt:  v.Email.ReceivedAt,
			Label:       string(v.Result.Label),
			Quarantined: v.Quarantined,
			Folder:      s.quarantine,
		}
		if err := s.notifier.Notify(ctx, alert); err != nil {
			log.Error().Err(err).Msg("alert failed")
		}
	}
}

func record(v *Verdict) *history.Record {
	r := &history.Record{
		Source:      history.SourceInbox,
		MessageID:   v.Email.MessageID,
		Sender:      v.Email.Sender(),
		Subject:     v.Email.Subject,
		Quarantined: v.Quarantined,
	}
	if v.Err != nil {
		r.Stage = string(pipeline.StageOf(v.Err))
		if r.Stage == "" {
			r.Stage = "unknown"
		}
		r.Error = v.Err.Error()
		return r
	}
	r.ScanID = v.Result.ID
	r.Label = string(v.Result.Label)
	r.DurationMs = v.Result.Duration.Milliseconds()
	return r
}

func summarize(verdicts []Verdict) Summary {
	var sum Summary
	for _, v := range verdicts {
		switch {
		case v.Skipped:
			sum.Skipped++
			continue
		case v.Err != nil:
			sum.Failed++
		case v.Result.Label == classifier.LabelPhishing:
			sum.Phishing++
		default:
			sum.Safe++
		}
		sum.Scanned++
		if v.Quarantined {
			sum.Quarantined++
		}
	}
	return sum
}

// IsNoContent reports whether a verdict failed only because the message
// carried nothing to scan.
func (v Verdict) IsNoContent() bool {
	return errors.Is(v.Err, pipeline.ErrNoContent)
}
