// Package archive keeps the forward ledger: one row per message the relay
// posted or updated in a master channel. The ledger is for operators asking
// "did message X make it, and who forwarded it" — forwarding never waits on
// it and never fails because of it.
package archive

import (
	"context"
	"time"
)

// Entry is one forwarded message.
type Entry struct {
	// Kind is post, parent (synthesized thread parent), or update.
	Kind              string
	Category          string
	SourceChannelID   string
	SourceChannelName string
	SourceTS          string
	TargetChannelID   string
	TargetTS          string
	BotID             int
	Consumer          string
	LatencyMS         int64
	RecordedAt        time.Time
}

// Store is the ledger surface workers write and status reads.
type Store interface {
	Record(ctx context.Context, e Entry) error
	Recent(ctx context.Context, limit int) ([]Entry, error)
	Totals(ctx context.Context) (map[string]int64, error)
	Close() error
}

// Open picks the backend: Postgres when a DSN is configured, otherwise a
// local SQLite file.
func Open(postgresDSN, sqlitePath string) (Store, error) {
	if postgresDSN != "" {
		return OpenPostgres(postgresDSN)
	}
	return OpenSQLite(sqlitePath)
}
