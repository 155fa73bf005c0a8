package archive

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func testEntry(kind, sourceTS string) Entry {
	return Entry{
		Kind:              kind,
		Category:          "managed_admin",
		SourceChannelID:   "C111",
		SourceChannelName: "acme-admin",
		SourceTS:          sourceTS,
		TargetChannelID:   "C999",
		TargetTS:          "1700000001.000100",
		BotID:             2,
		Consumer:          "worker-4242",
		LatencyMS:         87,
		RecordedAt:        time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestSQLiteLedgerRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger", "relay_archive.db")
	store, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.Record(ctx, testEntry("post", "1.0")); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := store.Record(ctx, testEntry("parent", "2.0")); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := store.Record(ctx, testEntry("update", "1.0")); err != nil {
		t.Fatalf("Record: %v", err)
	}

	recent, err := store.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("Recent returned %d entries, want 2", len(recent))
	}
	// Newest first.
	if recent[0].Kind != "update" || recent[1].Kind != "parent" {
		t.Errorf("order = %s, %s; want update, parent", recent[0].Kind, recent[1].Kind)
	}

	got := recent[0]
	want := testEntry("update", "1.0")
	if got.Category != want.Category || got.SourceChannelID != want.SourceChannelID ||
		got.SourceChannelName != want.SourceChannelName || got.TargetTS != want.TargetTS ||
		got.BotID != want.BotID || got.Consumer != want.Consumer || got.LatencyMS != want.LatencyMS {
		t.Errorf("entry mismatch:\n got %+v\nwant %+v", got, want)
	}
	if !got.RecordedAt.Equal(want.RecordedAt) {
		t.Errorf("RecordedAt = %v, want %v", got.RecordedAt, want.RecordedAt)
	}

	totals, err := store.Totals(ctx)
	if err != nil {
		t.Fatalf("Totals: %v", err)
	}
	for _, kind := range []string{"post", "parent", "update"} {
		if totals[kind] != 1 {
			t.Errorf("totals[%s] = %d, want 1", kind, totals[kind])
		}
	}
}

func TestSQLiteLedgerMigrationsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay_archive.db")

	store, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	if err := store.Record(context.Background(), testEntry("post", "1.0")); err != nil {
		t.Fatalf("Record: %v", err)
	}
	store.Close()

	// Reopening runs migrations again; data must survive.
	store, err = OpenSQLite(path)
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	defer store.Close()

	totals, err := store.Totals(context.Background())
	if err != nil {
		t.Fatalf("Totals: %v", err)
	}
	if totals["post"] != 1 {
		t.Errorf("totals[post] = %d after reopen, want 1", totals["post"])
	}
}

func TestOpenPrefersSQLiteWithoutDSN(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay_archive.db")
	store, err := Open("", path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()
	if _, ok := store.(*SQLiteStore); !ok {
		t.Errorf("Open without DSN returned %T, want *SQLiteStore", store)
	}
}
