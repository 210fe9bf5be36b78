// Package history persists readings to SQLite for later review and keeps
// the store pruned to a retention window.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
	_ "modernc.org/sqlite"

	"heartbridge/internal/domain"
)

// Record is one stored reading.
type Record struct {
	ID         string
	BPM        int
	Percent    float64
	CapturedAt time.Time
}

// Stats summarizes a time window of readings.
type Stats struct {
	Count  int
	MinBPM int
	MaxBPM int
	AvgBPM float64
}

// Store writes readings to SQLite. A cron job prunes rows older than the
// retention window.
type Store struct {
	db            *sql.DB
	logger        *slog.Logger
	retentionDays int
	cron          *cron.Cron
}

// New opens (or creates) the history database at dbPath and schedules
// pruning per pruneSchedule (standard cron expression). retentionDays <= 0
// disables pruning.
func New(dbPath string, retentionDays int, pruneSchedule string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return nil, fmt.Errorf("%w: create data dir: %v", domain.ErrHistoryStore, err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("%w: open db: %v", domain.ErrHistoryStore, err)
	}

	// SQLite write safety: single writer.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%w: pragma: %v", domain.ErrHistoryStore, err)
		}
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: migrate: %v", domain.ErrHistoryStore, err)
	}

	s := &Store{db: db, logger: logger, retentionDays: retentionDays}

	if retentionDays > 0 && pruneSchedule != "" {
		s.cron = cron.New()
		if _, err := s.cron.AddFunc(pruneSchedule, s.pruneJob); err != nil {
			db.Close()
			return nil, fmt.Errorf("%w: prune schedule %q: %v", domain.ErrHistoryStore, pruneSchedule, err)
		}
		s.cron.Start()
	}

	return s, nil
}

func migrate(db *sql.DB) error {
	const schema = `
		CREATE TABLE IF NOT EXISTS readings (
			id          TEXT PRIMARY KEY,
			bpm         INTEGER NOT NULL,
			percent     REAL NOT NULL,
			captured_at TIMESTAMP NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_readings_captured_at ON readings(captured_at);
	`
	_, err := db.Exec(schema)
	return err
}

// Record implements the dispatcher's recorder hook.
func (s *Store) Record(ctx context.Context, event domain.HeartRateEvent, reading domain.NormalizedReading) error {
	const insert = `
		INSERT INTO readings (id, bpm, percent, captured_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`
	_, err := s.db.ExecContext(ctx, insert,
		event.ID, reading.BPM, reading.Percent, event.CapturedAt.UTC())
	if err != nil {
		return fmt.Errorf("%w: insert reading: %v", domain.ErrHistoryStore, err)
	}
	return nil
}

// Recent returns the newest n readings, newest first.
func (s *Store) Recent(ctx context.Context, n int) ([]Record, error) {
	const query = `
		SELECT id, bpm, percent, captured_at
		FROM readings
		ORDER BY captured_at DESC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, n)
	if err != nil {
		return nil, fmt.Errorf("%w: query recent: %v", domain.ErrHistoryStore, err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.BPM, &r.Percent, &r.CapturedAt); err != nil {
			return nil, fmt.Errorf("%w: scan reading: %v", domain.ErrHistoryStore, err)
		}
		r.CapturedAt = r.CapturedAt.UTC()
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate readings: %v", domain.ErrHistoryStore, err)
	}
	return records, nil
}

// Stats aggregates readings captured at or after since.
func (s *Store) Stats(ctx context.Context, since time.Time) (Stats, error) {
	const query = `
		SELECT COUNT(*),
		       COALESCE(MIN(bpm), 0),
		       COALESCE(MAX(bpm), 0),
		       COALESCE(AVG(bpm), 0)
		FROM readings
		WHERE captured_at >= ?
	`
	var st Stats
	err := s.db.QueryRowContext(ctx, query, since.UTC()).
		Scan(&st.Count, &st.MinBPM, &st.MaxBPM, &st.AvgBPM)
	if err != nil {
		return Stats{}, fmt.Errorf("%w: query stats: %v", domain.ErrHistoryStore, err)
	}
	return st, nil
}

// Prune deletes readings older than the retention window. Returns the number
// of rows removed.
func (s *Store) Prune(ctx context.Context) (int64, error) {
	if s.retentionDays <= 0 {
		return 0, nil
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -s.retentionDays)
	res, err := s.db.ExecContext(ctx, `DELETE FROM readings WHERE captured_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("%w: prune: %v", domain.ErrHistoryStore, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (s *Store) pruneJob() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	n, err := s.Prune(ctx)
	if err != nil {
		s.logger.Error("history prune failed", "error", err)
		return
	}
	if n > 0 {
		s.logger.Info("history pruned", "rows", n, "retention_days", s.retentionDays)
	}
}

// Close stops the prune scheduler and closes the database.
func (s *Store) Close() error {
	if s.cron != nil {
		s.cron.Stop()
	}
	return s.db.Close()
}
