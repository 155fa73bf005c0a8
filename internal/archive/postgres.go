package archive

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresStore keeps the ledger in Postgres, for deployments where several
// workers run on different hosts and a local file would fragment the record.
type PostgresStore struct {
	db *sql.DB
}

// OpenPostgres connects, pings, and migrates the ledger schema.
func OpenPostgres(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping ledger: %w", err)
	}
	if err := runMigrations(db, "postgres"); err != nil {
		db.Close()
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Record(ctx context.Context, e Entry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO forwards (kind, category, source_channel_id, source_channel_name,
		    source_ts, target_channel_id, target_ts, bot_id, consumer, latency_ms, recorded_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		e.Kind, e.Category, e.SourceChannelID, e.SourceChannelName,
		e.SourceTS, e.TargetChannelID, e.TargetTS, e.BotID, e.Consumer, e.LatencyMS, e.RecordedAt,
	)
	return err
}

func (s *PostgresStore) Recent(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT kind, category, source_channel_id, source_channel_name,
		    source_ts, target_channel_id, target_ts, bot_id, consumer, latency_ms, recorded_at
		 FROM forwards ORDER BY id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

func (s *PostgresStore) Totals(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT kind, COUNT(*) FROM forwards GROUP BY kind`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTotals(rows)
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
