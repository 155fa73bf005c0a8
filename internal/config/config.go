// Package config holds the relay runtime configuration.
//
// Non-secret settings live in an optional JSON5 file and can be overridden
// through environment variables. Slack tokens and other secrets come from the
// environment only and are never written back to disk.
package config

import (
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"strconv"

	"github.com/adhocore/gronx"
)

// BotIdentity is one Slack app identity the relay can run under. Identities
// are numbered from 1; index 1 uses the unsuffixed token variables.
type BotIdentity struct {
	Index    int    `json:"index"`
	Name     string `json:"name"`
	BotToken string `json:"-"`
	AppToken string `json:"-"`
}

// MasterChannels holds the destination channel ID for each forwarding
// category.
type MasterChannels struct {
	Agent        string `json:"agent"`
	Apptbk       string `json:"apptbk"`
	ManagedAdmin string `json:"managed_admin"`
	StormAdmin   string `json:"storm_admin"`
}

// Validate reports an error naming every master channel that is not set.
func (m MasterChannels) Validate() error {
	var missing []string
	for _, e := range m.Entries() {
		if e.ID == "" {
			missing = append(missing, e.Env)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing master channel configuration: %v", missing)
	}
	return nil
}

// MasterEntry pairs a master channel ID with the env var that configures it.
type MasterEntry struct {
	Env string
	ID  string
}

// Entries returns the four master channels in a stable order.
func (m MasterChannels) Entries() []MasterEntry {
	return []MasterEntry{
		{"AGENT_MASTER_CHANNEL_ID", m.Agent},
		{"APPTBK_MASTER_CHANNEL_ID", m.Apptbk},
		{"MANAGED_ADMIN_MASTER_CHANNEL_ID", m.ManagedAdmin},
		{"STORM_ADMIN_MASTER_CHANNEL_ID", m.StormAdmin},
	}
}

// RedisSettings describes the shared Redis instance used for claims, the job
// stream, and message mappings.
type RedisSettings struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	DB       int    `json:"db"`
	Username string `json:"-"`
	Password string `json:"-"`
}

// Addr returns host:port for the Redis client.
func (r RedisSettings) Addr() string {
	return net.JoinHostPort(r.Host, strconv.Itoa(r.Port))
}

// ArchiveSettings configures the forward ledger. When PostgresDSN is set the
// ledger lives in Postgres, otherwise in a local SQLite file.
type ArchiveSettings struct {
	Path        string `json:"path"`
	PostgresDSN string `json:"-"`
}

// RefreshSettings controls the channel refresh cadence. The default interval
// applies unless a cron expression is given. Source points at the
// categorization file the refresh pulls from.
type RefreshSettings struct {
	Cron   string `json:"cron"`
	Source string `json:"source"`
}

// Config is the full relay configuration.
type Config struct {
	// BotID selects which identity this process listens as.
	BotID int `json:"-"`
	// Bots are all identities discovered from the environment, in index
	// order starting at 1.
	Bots []BotIdentity `json:"-"`

	Master      MasterChannels  `json:"master_channels"`
	Redis       RedisSettings   `json:"redis"`
	DataDir     string          `json:"data_dir"`
	WorkerCount int             `json:"worker_count"`
	Refresh     RefreshSettings `json:"refresh"`
	Archive     ArchiveSettings `json:"archive"`
	MetricsAddr string          `json:"metrics_addr"`
}

// Bot returns the identity with the given index.
func (c *Config) Bot(index int) (BotIdentity, bool) {
	for _, b := range c.Bots {
		if b.Index == index {
			return b, true
		}
	}
	return BotIdentity{}, false
}

// Self returns the identity selected by BotID.
func (c *Config) Self() (BotIdentity, bool) {
	return c.Bot(c.BotID)
}

// BotIndexes returns the indexes of all configured identities.
func (c *Config) BotIndexes() []int {
	idx := make([]int, 0, len(c.Bots))
	for _, b := range c.Bots {
		idx = append(idx, b.Index)
	}
	return idx
}

// ChannelListsPath is the categorization snapshot consumed by listeners.
func (c *Config) ChannelListsPath() string {
	return filepath.Join(c.DataDir, "channel_lists.json")
}

// AssignmentsPath is the channel-to-bot assignment table.
func (c *Config) AssignmentsPath() string {
	return filepath.Join(c.DataDir, "channel_assignment.json")
}

// DiscoveredPath is where a refresh run saves the discovered admin channels.
func (c *Config) DiscoveredPath() string {
	return filepath.Join(c.DataDir, "discovered_channels.json")
}

// ChannelSourcePath is the categorization source a refresh run reads,
// defaulting into DataDir.
func (c *Config) ChannelSourcePath() string {
	if c.Refresh.Source != "" {
		return c.Refresh.Source
	}
	return filepath.Join(c.DataDir, "channel_lists_source.json")
}

// ArchivePath returns the SQLite ledger location, defaulting into DataDir.
func (c *Config) ArchivePath() string {
	if c.Archive.Path != "" {
		return c.Archive.Path
	}
	return filepath.Join(c.DataDir, "relay_archive.db")
}

// Validate checks the parts every bot-facing command needs: at least one
// identity and a BOT_ID that maps to one.
func (c *Config) Validate() error {
	if len(c.Bots) == 0 {
		return errors.New("no bot identities configured: set SLACK_BOT_TOKEN and SLACK_APP_TOKEN (suffix _2, _3, ... for more bots)")
	}
	if c.BotID < 1 {
		return fmt.Errorf("BOT_ID must be >= 1, got %d", c.BotID)
	}
	if _, ok := c.Bot(c.BotID); !ok {
		return fmt.Errorf("BOT_ID %d has no matching SLACK_BOT_TOKEN_%d/SLACK_APP_TOKEN_%d pair", c.BotID, c.BotID, c.BotID)
	}
	if c.Refresh.Cron != "" && !gronx.New().IsValid(c.Refresh.Cron) {
		return fmt.Errorf("invalid refresh cron expression %q", c.Refresh.Cron)
	}
	return nil
}
