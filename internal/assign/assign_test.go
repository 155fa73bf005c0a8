package assign

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestHashBot(t *testing.T) {
	t.Run("deterministic", func(t *testing.T) {
		for _, n := range []int{1, 2, 3, 7} {
			a := hashBot("C086XJBA1MG", n)
			b := hashBot("C086XJBA1MG", n)
			if a != b {
				t.Errorf("hashBot not deterministic for n=%d: %d vs %d", n, a, b)
			}
			if a < 1 || a > n {
				t.Errorf("hashBot out of range for n=%d: %d", n, a)
			}
		}
	})

	t.Run("single bot gets everything", func(t *testing.T) {
		for _, ch := range []string{"C1", "C2", "CABCDEF"} {
			if got := hashBot(ch, 1); got != 1 {
				t.Errorf("hashBot(%q, 1) = %d", ch, got)
			}
		}
	})

	t.Run("spreads across bots", func(t *testing.T) {
		seen := map[int]bool{}
		for i := 0; i < 64; i++ {
			seen[hashBot(string(rune('A'+i%26))+"channel"+string(rune('0'+i%10)), 3)] = true
		}
		if len(seen) < 2 {
			t.Errorf("64 channels all hashed to the same bot: %v", seen)
		}
	})
}

func TestAssignNewChannelsOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "channel_assignment.json")
	tbl := NewTable(path, []int{1, 2, 3})

	added, err := tbl.Assign([]string{"C1", "C2"})
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if added != 2 {
		t.Errorf("added = %d, want 2", added)
	}

	before, _ := tbl.BotFor("C1")

	// Re-assigning must not move existing channels.
	added, err = tbl.Assign([]string{"C1", "C2", "C3"})
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if added != 1 {
		t.Errorf("added = %d, want 1", added)
	}
	after, ok := tbl.BotFor("C1")
	if !ok || after != before {
		t.Errorf("existing assignment moved: %d -> %d", before, after)
	}
}

func TestAssignNoBots(t *testing.T) {
	tbl := NewTable(filepath.Join(t.TempDir(), "a.json"), nil)
	if _, err := tbl.Assign([]string{"C1"}); err == nil {
		t.Error("expected error with no bots configured")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "channel_assignment.json")
	tbl := NewTable(path, []int{1, 2})
	if _, err := tbl.Assign([]string{"C1", "C2", "C3"}); err != nil {
		t.Fatalf("Assign: %v", err)
	}

	// File shape: metadata plus assignments.
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var f struct {
		Metadata struct {
			TotalBots     int   `json:"total_bots"`
			TotalChannels int   `json:"total_channels"`
			BotIDs        []int `json:"bot_ids"`
		} `json:"metadata"`
		Assignments map[string]int `json:"assignments"`
	}
	if err := json.Unmarshal(raw, &f); err != nil {
		t.Fatalf("saved file is not valid JSON: %v", err)
	}
	if f.Metadata.TotalBots != 2 || f.Metadata.TotalChannels != 3 {
		t.Errorf("metadata = %+v", f.Metadata)
	}
	if len(f.Assignments) != 3 {
		t.Errorf("assignments = %v", f.Assignments)
	}

	// A fresh table reloads the same mapping.
	reloaded := NewTable(path, []int{1, 2})
	if err := reloaded.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	for _, ch := range []string{"C1", "C2", "C3"} {
		want, _ := tbl.BotFor(ch)
		got, ok := reloaded.BotFor(ch)
		if !ok || got != want {
			t.Errorf("BotFor(%q) = (%d, %v), want %d", ch, got, ok, want)
		}
	}
}

func TestLoadMissingFile(t *testing.T) {
	tbl := NewTable(filepath.Join(t.TempDir(), "none.json"), []int{1})
	if err := tbl.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if tbl.Len() != 0 {
		t.Errorf("Len = %d, want 0", tbl.Len())
	}
}

func TestRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "channel_assignment.json")
	tbl := NewTable(path, []int{1})
	if _, err := tbl.Assign([]string{"C1", "C2"}); err != nil {
		t.Fatal(err)
	}

	removed, err := tbl.Remove([]string{"C1", "C9"})
	if err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	if _, ok := tbl.BotFor("C1"); ok {
		t.Error("C1 still assigned after Remove")
	}
	if _, ok := tbl.BotFor("C2"); !ok {
		t.Error("C2 lost by Remove")
	}
}

func TestStats(t *testing.T) {
	tbl := NewTable(filepath.Join(t.TempDir(), "a.json"), []int{1, 2})
	if _, err := tbl.Assign([]string{"C1", "C2", "C3", "C4", "C5"}); err != nil {
		t.Fatal(err)
	}

	s := tbl.Stats()
	if s.TotalChannels != 5 || s.TotalBots != 2 {
		t.Errorf("Stats = %+v", s)
	}
	sum := 0
	for bot, n := range s.PerBot {
		if bot != 1 && bot != 2 {
			t.Errorf("unexpected bot id %d in distribution", bot)
		}
		sum += n
	}
	if sum != 5 {
		t.Errorf("distribution sums to %d, want 5", sum)
	}

	per1 := len(tbl.ChannelsFor(1))
	per2 := len(tbl.ChannelsFor(2))
	if per1 != s.PerBot[1] || per2 != s.PerBot[2] {
		t.Errorf("ChannelsFor disagrees with Stats: (%d, %d) vs %v", per1, per2, s.PerBot)
	}
}
