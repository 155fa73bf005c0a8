// Package assign maintains the channel-to-bot assignment table.
//
// Assignment is deterministic: md5(channel_id) mod bot-count, one-based. An
// assignment is made once, when a channel first appears, and survives later
// changes to the bot count so running listeners keep a stable view. Only the
// refresh run (bot 1) writes the table; other processes just read it.
package assign

import (
	"crypto/md5"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// Table is the in-memory assignment table bound to its JSON file.
type Table struct {
	path   string
	botIDs []int

	mu          sync.RWMutex
	assignments map[string]int
}

// Stats summarizes the table for logs and the status command.
type Stats struct {
	TotalChannels int
	TotalBots     int
	PerBot        map[int]int
}

type tableFile struct {
	Metadata struct {
		TotalBots     int   `json:"total_bots"`
		TotalChannels int   `json:"total_channels"`
		BotIDs        []int `json:"bot_ids"`
	} `json:"metadata"`
	Assignments map[string]int `json:"assignments"`
}

// NewTable returns an empty table bound to path. botIDs are the configured
// bot indexes, used for hashing and the saved metadata.
func NewTable(path string, botIDs []int) *Table {
	return &Table{
		path:        path,
		botIDs:      botIDs,
		assignments: make(map[string]int),
	}
}

// Load reads the table from disk. A missing file leaves the table empty.
func (t *Table) Load() error {
	data, err := os.ReadFile(t.path)
	if err != nil {
		if os.IsNotExist(err) {
			t.mu.Lock()
			t.assignments = make(map[string]int)
			t.mu.Unlock()
			return nil
		}
		return fmt.Errorf("read assignments: %w", err)
	}

	var f tableFile
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse assignments: %w", err)
	}
	if f.Assignments == nil {
		f.Assignments = make(map[string]int)
	}

	t.mu.Lock()
	t.assignments = f.Assignments
	t.mu.Unlock()
	return nil
}

// Save writes the table atomically.
func (t *Table) Save() error {
	t.mu.RLock()
	var f tableFile
	f.Metadata.TotalBots = len(t.botIDs)
	f.Metadata.TotalChannels = len(t.assignments)
	f.Metadata.BotIDs = append([]int(nil), t.botIDs...)
	f.Assignments = make(map[string]int, len(t.assignments))
	for ch, bot := range t.assignments {
		f.Assignments[ch] = bot
	}
	t.mu.RUnlock()

	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(t.path), 0755); err != nil {
		return err
	}
	tmp := t.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, t.path)
}

// Assign hashes any channels not yet in the table onto a bot and saves when
// something changed. Existing assignments are never rehashed. Returns how
// many channels were newly assigned.
func (t *Table) Assign(channelIDs []string) (int, error) {
	if len(t.botIDs) == 0 {
		return 0, errors.New("no bots configured to assign channels to")
	}

	t.mu.Lock()
	added := 0
	for _, ch := range channelIDs {
		if _, ok := t.assignments[ch]; ok {
			continue
		}
		t.assignments[ch] = hashBot(ch, len(t.botIDs))
		added++
	}
	t.mu.Unlock()

	if added == 0 {
		return 0, nil
	}
	return added, t.Save()
}

// Remove deletes channels from the table and saves when something changed.
// Returns how many were actually removed.
func (t *Table) Remove(channelIDs []string) (int, error) {
	t.mu.Lock()
	removed := 0
	for _, ch := range channelIDs {
		if _, ok := t.assignments[ch]; ok {
			delete(t.assignments, ch)
			removed++
		}
	}
	t.mu.Unlock()

	if removed == 0 {
		return 0, nil
	}
	return removed, t.Save()
}

// BotFor returns the bot a channel is assigned to.
func (t *Table) BotFor(channelID string) (int, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	bot, ok := t.assignments[channelID]
	return bot, ok
}

// ChannelsFor returns the channels assigned to one bot, sorted for stable
// output.
func (t *Table) ChannelsFor(botID int) []string {
	t.mu.RLock()
	var out []string
	for ch, bot := range t.assignments {
		if bot == botID {
			out = append(out, ch)
		}
	}
	t.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Len returns the number of assigned channels.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.assignments)
}

// Stats summarizes the current distribution.
func (t *Table) Stats() Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s := Stats{
		TotalChannels: len(t.assignments),
		TotalBots:     len(t.botIDs),
		PerBot:        make(map[int]int, len(t.botIDs)),
	}
	for _, id := range t.botIDs {
		s.PerBot[id] = 0
	}
	for _, bot := range t.assignments {
		s.PerBot[bot]++
	}
	return s
}

// hashBot maps a channel ID onto a one-based bot index. The full md5 digest
// is taken as a big-endian integer before the modulo so the result matches
// across implementations.
func hashBot(channelID string, totalBots int) int {
	sum := md5.Sum([]byte(channelID))
	n := new(big.Int).SetBytes(sum[:])
	mod := new(big.Int).Mod(n, big.NewInt(int64(totalBots)))
	return int(mod.Int64()) + 1
}
