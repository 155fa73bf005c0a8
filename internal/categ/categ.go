// Package categ classifies source channels by naming convention and
// maintains the categorization snapshot that routing decisions read.
package categ

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Category is the routing category of a source channel.
type Category string

const (
	CategoryManagedAdmin Category = "managed_admin"
	CategoryStormAdmin   Category = "storm_admin"
	CategoryAgent        Category = "agent"
	CategoryApptbk       Category = "apptbk"
	// CategoryIgnored marks channels excluded by name.
	CategoryIgnored Category = "ignored"
	// CategoryUnknown marks channels no rule matched. Never forwarded.
	CategoryUnknown Category = "unknown"
)

// Forwardable reports whether messages from this category are relayed.
func (c Category) Forwardable() bool {
	switch c {
	case CategoryManagedAdmin, CategoryStormAdmin, CategoryAgent, CategoryApptbk:
		return true
	}
	return false
}

// ignoredChannelNames are always excluded regardless of the snapshot on disk.
// These are the relay's own channels and a handful of internal rooms.
var ignoredChannelNames = []string{
	"ccdocs-agents",
	"ccdocs-admin",
	"ccdocs-apptbk",
	"ccdocs-dialer",
	"building-universal-agents",
	"master-agent",
	"master-admin-storm",
}

// Lists is the on-disk categorization snapshot.
type Lists struct {
	Managed []string `json:"managed_channels"`
	Storm   []string `json:"storm_channels"`
	Ignored []string `json:"ignored_channels"`
}

// Cache holds the current categorization sets. Safe for concurrent use; the
// listener classifies on its event loop while reload happens from watcher or
// scheduler goroutines.
type Cache struct {
	path string

	mu      sync.RWMutex
	managed map[string]struct{}
	storm   map[string]struct{}
	ignored map[string]struct{}
}

// NewCache returns an empty cache bound to the snapshot file at path.
func NewCache(path string) *Cache {
	c := &Cache{path: path}
	c.Replace(Lists{})
	return c
}

// Load reads the snapshot from disk. A missing file falls back to a default
// ignore set so a fresh deployment still refuses the known noisy channels.
func (c *Cache) Load() error {
	data, err := os.ReadFile(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			c.Replace(Lists{Ignored: []string{"ccdocs-admin", "test-admins"}})
			return nil
		}
		return fmt.Errorf("read channel lists: %w", err)
	}

	var lists Lists
	if err := json.Unmarshal(data, &lists); err != nil {
		return fmt.Errorf("parse channel lists: %w", err)
	}
	c.Replace(lists)
	return nil
}

// Replace swaps in a fresh set of lists.
func (c *Cache) Replace(lists Lists) {
	managed := toSet(lists.Managed)
	storm := toSet(lists.Storm)
	ignored := toSet(lists.Ignored)

	c.mu.Lock()
	c.managed = managed
	c.storm = storm
	c.ignored = ignored
	c.mu.Unlock()
}

// Counts returns the sizes of the three sets, for logging.
func (c *Cache) Counts() (managed, storm, ignored int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.managed), len(c.storm), len(c.ignored)
}

// Classify returns the category for a channel name.
//
// Precedence: built-in ignore list, then the snapshot's ignored set, then the
// -apptbk suffix, then -admin/-admins (which require the channel to be in the
// managed or storm set), then -agent/-agents. Anything else is unknown.
func (c *Cache) Classify(name string) Category {
	for _, ignored := range ignoredChannelNames {
		if name == ignored {
			return CategoryIgnored
		}
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if _, ok := c.ignored[name]; ok {
		return CategoryIgnored
	}
	if strings.HasSuffix(name, "-apptbk") {
		return CategoryApptbk
	}
	if strings.HasSuffix(name, "-admin") || strings.HasSuffix(name, "-admins") {
		if _, ok := c.managed[name]; ok {
			return CategoryManagedAdmin
		}
		if _, ok := c.storm[name]; ok {
			return CategoryStormAdmin
		}
		// Admin channel not yet categorized: do not guess a destination.
		return CategoryUnknown
	}
	if strings.HasSuffix(name, "-agent") || strings.HasSuffix(name, "-agents") {
		return CategoryAgent
	}
	return CategoryUnknown
}

// SaveLists writes the snapshot atomically so watchers never read a partial
// file.
func SaveLists(path string, lists Lists) error {
	data, err := json.MarshalIndent(lists, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func toSet(names []string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return set
}
