package inbox

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phishguard/phishguard/internal/classifier"
	"github.com/phishguard/phishguard/internal/history"
	"github.com/phishguard/phishguard/internal/message"
	"github.com/phishguard/phishguard/internal/notify"
	"github.com/phishguard/phishguard/internal/pipeline"
)

// subjectScanner labels a message PHISHING when its subject contains
// "verify", fails it when the subject is "fail".
type subjectScanner struct{}

func (subjectScanner) Scan(_ context.Context, c message.Content) (*pipeline.Result, error) {
	switch {
	case c.Subject == "fail":
		return nil, &pipeline.StageError{Stage: pipeline.StageInference, Err: errors.New("model down")}
	case strings.Contains(c.Subject, "verify"):
		return &pipeline.Result{ID: "scan-" + c.Subject, Label: classifier.LabelPhishing}, nil
	default:
		return &pipeline.Result{ID: "scan-" + c.Subject, Label: classifier.LabelSafe}, nil
	}
}

type memHistory struct {
	mu      sync.Mutex
	seen    map[string]bool
	records []*history.Record
}

func (h *memHistory) Add(_ context.Context, r *history.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, r)
	return nil
}

func (h *memHistory) Seen(_ context.Context, id string) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.seen[id], nil
}

type fakeMover struct {
	moved map[uint32]string
	fail  uint32
}

func (m *fakeMover) MoveToFolder(uid uint32, folder string) error {
	if uid == m.fail {
		return errors.New("NO [TRYCREATE]")
	}
	m.moved[uid] = folder
	return nil
}

type fakeNotifier struct {
	alerts []notify.Alert
}

func (n *fakeNotifier) Notify(_ context.Context, a notify.Alert) error {
	n.alerts = append(n.alerts, a)
	return nil
}

func TestSweep(t *testing.T) {
	emails := []Email{
		{UID: 1, MessageID: "<1@x>", From: "a@x.com", Subject: "please verify"},
		{UID: 2, MessageID: "<2@x>", From: "b@x.com", Subject: "lunch"},
		{UID: 3, MessageID: "<3@x>", From: "c@x.com", Subject: "fail"},
		{UID: 4, MessageID: "<4@x>", From: "d@x.com", Subject: "verify again"},
		{UID: 5, MessageID: "<old@x>", From: "e@x.com", Subject: "verify old"},
	}
	hist := &memHistory{seen: map[string]bool{"<old@x>": true}}
	mover := &fakeMover{moved: map[uint32]string{}, fail: 4}
	notifier := &fakeNotifier{}

	s := NewSweeper(subjectScanner{}, zerolog.Nop(),
		WithHistory(hist), WithNotifier(notifier), WithQuarantine(mover, "Phishing"), WithWorkers(2))

	verdicts, sum, err := s.Sweep(context.Background(), emails)
	require.NoError(t, err)
	require.Len(t, verdicts, 5)

	assert.Equal(t, Summary{Scanned: 4, Phishing: 2, Safe: 1, Failed: 1, Skipped: 1, Quarantined: 1}, sum)
	assert.Equal(t, map[uint32]string{1: "Phishing"}, mover.moved)
	assert.True(t, verdicts[0].Quarantined)
	assert.False(t, verdicts[3].Quarantined)
	assert.True(t, verdicts[4].Skipped)

	require.Len(t, hist.records, 4)
	assert.Equal(t, "PHISHING", hist.records[0].Label)
	assert.True(t, hist.records[0].Quarantined)
	assert.Equal(t, "inference", hist.records[2].Stage)
	assert.Equal(t, history.SourceInbox, hist.records[2].Source)

	require.Len(t, notifier.alerts, 2)
	assert.Equal(t, "scan-please verify", notifier.alerts[0].ScanID)
	assert.True(t, notifier.alerts[0].Quarantined)
	assert.False(t, notifier.alerts[1].Quarantined)
}

func TestSweepWithoutSinks(t *testing.T) {
	s := NewSweeper(subjectScanner{}, zerolog.Nop())
	verdicts, sum, err := s.Sweep(context.Background(), []Email{{Subject: "verify"}, {}})
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Scanned)
	assert.Equal(t, classifier.LabelPhishing, verdicts[0].Result.Label)
}

func TestSweepCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	notifier := &fakeNotifier{}
	_, _, err := NewSweeper(subjectScanner{}, zerolog.Nop(), WithNotifier(notifier)).
		Sweep(ctx, []Email{{Subject: "verify"}})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, notifier.alerts)
}

func TestVerdictIsNoContent(t *testing.T) {
	v := Verdict{Err: &pipeline.StageError{Stage: pipeline.StageExtract, Err: pipeline.ErrNoContent}}
	assert.True(t, v.IsNoContent())
	assert.False(t, Verdict{}.IsNoContent())
}
