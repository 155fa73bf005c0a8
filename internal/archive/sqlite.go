package archive

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// SQLiteStore is the default ledger backend: a single local file, no server.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (and if needed creates) the ledger at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create ledger dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	// SQLite allows one writer; funnel everything through one connection.
	db.SetMaxOpenConns(1)
	if err := runMigrations(db, "sqlite"); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Record(ctx context.Context, e Entry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO forwards (kind, category, source_channel_id, source_channel_name,
		    source_ts, target_channel_id, target_ts, bot_id, consumer, latency_ms, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Kind, e.Category, e.SourceChannelID, e.SourceChannelName,
		e.SourceTS, e.TargetChannelID, e.TargetTS, e.BotID, e.Consumer, e.LatencyMS, e.RecordedAt,
	)
	return err
}

func (s *SQLiteStore) Recent(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT kind, category, source_channel_id, source_channel_name,
		    source_ts, target_channel_id, target_ts, bot_id, consumer, latency_ms, recorded_at
		 FROM forwards ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

func (s *SQLiteStore) Totals(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT kind, COUNT(*) FROM forwards GROUP BY kind`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTotals(rows)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Kind, &e.Category, &e.SourceChannelID, &e.SourceChannelName,
			&e.SourceTS, &e.TargetChannelID, &e.TargetTS, &e.BotID, &e.Consumer,
			&e.LatencyMS, &e.RecordedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func scanTotals(rows *sql.Rows) (map[string]int64, error) {
	totals := make(map[string]int64)
	for rows.Next() {
		var kind string
		var n int64
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, err
		}
		totals[kind] = n
	}
	return totals, rows.Err()
}
