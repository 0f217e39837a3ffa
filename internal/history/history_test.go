package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "sub", "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreAddAndRecent(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	records := []*Record{
		{ScanID: "a", Source: SourceFile, Sender: "x@y.com", Subject: "hello", Label: "SAFE", ScannedAt: base},
		{ScanID: "b", Source: SourceInbox, MessageID: "<m1@y.com>", Label: "PHISHING", Quarantined: true, DurationMs: 12, ScannedAt: base.Add(time.Minute)},
		{ScanID: "c", Source: SourceAPI, Stage: "extract", Error: "no usable message content", ScannedAt: base.Add(2 * time.Minute)},
	}
	for _, r := range records {
		require.NoError(t, s.Add(ctx, r))
		assert.NotZero(t, r.ID)
	}

	got, err := s.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "c", got[0].ScanID)
	assert.True(t, got[0].Failed())
	assert.Equal(t, "b", got[1].ScanID)
	assert.True(t, got[1].Quarantined)
	assert.Equal(t, "<m1@y.com>", got[1].MessageID)
	assert.Equal(t, int64(12), got[1].DurationMs)
	assert.True(t, got[1].ScannedAt.Equal(base.Add(time.Minute)))
}

func TestStoreStats(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{}, st)

	for _, r := range []*Record{
		{ScanID: "1", Source: SourceFile, Label: "PHISHING", Quarantined: true},
		{ScanID: "2", Source: SourceFile, Label: "PHISHING"},
		{ScanID: "3", Source: SourceFile, Label: "SAFE"},
		{ScanID: "4", Source: SourceFile, Stage: "init", Error: "artifacts not ready"},
	} {
		require.NoError(t, s.Add(ctx, r))
	}

	st, err = s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Total: 4, Phishing: 2, Safe: 1, Failed: 1, Quarantined: 1}, st)
}

func TestStoreSeen(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	require.NoError(t, s.Add(ctx, &Record{ScanID: "1", Source: SourceInbox, MessageID: "<ok@x>", Label: "SAFE"}))
	require.NoError(t, s.Add(ctx, &Record{ScanID: "2", Source: SourceInbox, MessageID: "<bad@x>", Stage: "inference"}))

	tests := []struct {
		id   string
		want bool
	}{
		{id: "<ok@x>", want: true},
		{id: "<bad@x>", want: false},
		{id: "<new@x>", want: false},
		{id: "", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			seen, err := s.Seen(ctx, tt.id)
			require.NoError(t, err)
			assert.Equal(t, tt.want, seen)
		})
	}
}

func TestStorePrune(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	now := time.Now().UTC()

	require.NoError(t, s.Add(ctx, &Record{ScanID: "old", Source: SourceFile, Label: "SAFE", ScannedAt: now.AddDate(0, 0, -40)}))
	require.NoError(t, s.Add(ctx, &Record{ScanID: "new", Source: SourceFile, Label: "SAFE", ScannedAt: now}))

	n, err := s.Prune(ctx, now.AddDate(0, 0, -30))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := s.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "new", got[0].ScanID)
}
