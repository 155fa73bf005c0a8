// Package discovery enumerates the workspace's admin channels so refresh
// runs can assign them to bots.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ccdocs/relay/internal/slack"
)

// pageSize is the conversations.list page size. Slack caps it at 1000.
const pageSize = 1000

// Lister is the Web API surface discovery needs.
type Lister interface {
	ListConversations(ctx context.Context, p slack.ListParams) ([]slack.Channel, string, error)
}

// AdminChannels walks every public and private conversation the bot can see
// and keeps the active -admin/-admins channels.
func AdminChannels(ctx context.Context, api Lister) ([]slack.Channel, error) {
	var admin []slack.Channel
	cursor := ""
	scanned := 0
	for {
		page, next, err := api.ListConversations(ctx, slack.ListParams{
			Types:  "public_channel,private_channel",
			Limit:  pageSize,
			Cursor: cursor,
		})
		if err != nil {
			return nil, fmt.Errorf("list conversations: %w", err)
		}
		scanned += len(page)
		for _, ch := range page {
			if ch.IsArchived {
				continue
			}
			if strings.HasSuffix(ch.Name, "-admin") || strings.HasSuffix(ch.Name, "-admins") {
				admin = append(admin, ch)
			}
		}
		if next == "" {
			break
		}
		cursor = next
	}
	slog.Info("channel discovery complete", "scanned", scanned, "admin", len(admin))
	return admin, nil
}

type discoveredFile struct {
	Metadata struct {
		TotalChannels int    `json:"total_channels"`
		DiscoveredAt  string `json:"discovered_at"`
	} `json:"metadata"`
	Channels []slack.Channel `json:"channels"`
}

// SaveDiscovered writes the discovery snapshot for operators. Written
// atomically; readers never see a partial file.
func SaveDiscovered(path string, channels []slack.Channel) error {
	var f discoveredFile
	f.Metadata.TotalChannels = len(channels)
	f.Metadata.DiscoveredAt = time.Now().UTC().Format(time.RFC3339)
	f.Channels = channels

	data, err := json.MarshalIndent(f, "", "  ")
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
