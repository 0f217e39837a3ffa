// Package history keeps a sqlite log of scan verdicts. Only the verdict and
// message metadata are stored; feature vectors and bodies never are.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Source says where a scanned message came from.
type Source string

const (
	SourceFile  Source = "file"
	SourceInbox Source = "inbox"
	SourceAPI   Source = "api"
)

type Record struct {
	ID          int64
	ScanID      string
	Source      Source
	MessageID   string
	Sender      string
	Subject     string
	Label       string // empty when the scan failed
	Stage       string // failing stage, empty on success
	Error       string
	Quarantined bool
	DurationMs  int64
	ScannedAt   time.Time
}

// Failed reports whether the scan aborted before a verdict.
func (r Record) Failed() bool { return r.Stage != "" }

// Stats summarizes the log.
type Stats struct {
	Total       int `json:"total"`
	Phishing    int `json:"phishing"`
	Safe        int `json:"safe"`
	Failed      int `json:"failed"`
	Quarantined int `json:"quarantined"`
}

type Store struct {
	db *sql.DB
}

// scanRecord handles nullable columns when scanning a row
func scanRecord(scanner interface{ Scan(...any) error }) (*Record, error) {
	var r Record
	var messageID, sender, subject, label, stage, errStr sql.NullString
	var quarantined int

	err := scanner.Scan(&r.ID, &r.ScanID, &r.Source, &messageID, &sender, &subject,
		&label, &stage, &errStr, &quarantined, &r.DurationMs, &r.ScannedAt)
	if err != nil {
		return nil, err
	}

	r.MessageID = messageID.String
	r.Sender = sender.String
	r.Subject = subject.String
	r.Label = label.String
	r.Stage = stage.String
	r.Error = errStr.String
	r.Quarantined = quarantined != 0
	return &r, nil
}

func NewStore(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// modernc sqlite serializes writers; one connection avoids SQLITE_BUSY
	// when the API and the inbox watcher record at the same time.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS scans (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		scan_id TEXT NOT NULL,
		source TEXT NOT NULL,
		message_id TEXT,
		sender TEXT,
		subject TEXT,
		label TEXT,
		stage TEXT,
		error TEXT,
		quarantined INTEGER DEFAULT 0,
		duration_ms INTEGER DEFAULT 0,
		scanned_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_scans_scanned_at ON scans(scanned_at);
	CREATE INDEX IF NOT EXISTS idx_scans_label ON scans(label);
	CREATE INDEX IF NOT EXISTS idx_scans_message_id ON scans(message_id);
	`

	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

func (s *Store) Add(ctx context.Context, record *Record) error {
	if record.ScannedAt.IsZero() {
		record.ScannedAt = time.Now().UTC()
	}
	quarantined := 0
	if record.Quarantined {
		quarantined = 1
	}

	query := `
	INSERT INTO scans (scan_id, source, message_id, sender, subject, label, stage, error, quarantined, duration_ms, scanned_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := s.db.ExecContext(ctx, query,
		record.ScanID,
		record.Source,
		record.MessageID,
		record.Sender,
		record.Subject,
		record.Label,
		record.Stage,
		record.Error,
		quarantined,
		record.DurationMs,
		record.ScannedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert record: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	record.ID = id
	return nil
}

// Seen reports whether a message with this Message-ID already has a verdict.
// Inbox sweeps use it to skip messages scanned by an earlier run.
func (s *Store) Seen(ctx context.Context, messageID string) (bool, error) {
	if messageID == "" {
		return false, nil
	}
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM scans WHERE message_id = ? AND (stage IS NULL OR stage = '')`, messageID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to query message: %w", err)
	}
	return n > 0, nil
}

func (s *Store) Recent(ctx context.Context, limit int) ([]Record, error) {
	query := `
	SELECT id, scan_id, source, message_id, sender, subject, label, stage, error, quarantined, duration_ms, scanned_at
	FROM scans ORDER BY scanned_at DESC, id DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		records = append(records, *record)
	}
	return records, rows.Err()
}

func (s *Store) Stats(ctx context.Context) (Stats, error) {
	query := `SELECT COUNT(*),
		SUM(CASE WHEN label='PHISHING' THEN 1 ELSE 0 END),
		SUM(CASE WHEN label='SAFE' THEN 1 ELSE 0 END),
		SUM(CASE WHEN stage IS NOT NULL AND stage != '' THEN 1 ELSE 0 END),
		SUM(quarantined)
		FROM scans`

	var st Stats
	var phishing, safe, failed, quarantined sql.NullInt64
	if err := s.db.QueryRowContext(ctx, query).Scan(&st.Total, &phishing, &safe, &failed, &quarantined); err != nil {
		return Stats{}, fmt.Errorf("failed to get stats: %w", err)
	}
	st.Phishing = int(phishing.Int64)
	st.Safe = int(safe.Int64)
	st.Failed = int(failed.Int64)
	st.Quarantined = int(quarantined.Int64)
	return st, nil
}

// Prune deletes records scanned before cutoff.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM scans WHERE scanned_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune records: %w", err)
	}
	return result.RowsAffected()
}

func (s *Store) Close() error { return s.db.Close() }
