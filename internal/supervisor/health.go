package supervisor

import (
	"context"
	"errors"
	"log/slog"

	"github.com/ccdocs/relay/internal/assign"
	"github.com/ccdocs/relay/internal/slack"
)

// ProblemChannels are ids that have come back archived or deleted in past
// incidents. A listener assigned a dead channel wastes its slot, so these
// are re-checked at every supervisor start.
var ProblemChannels = []string{
	"C086XJBA1MG",
	"C0774AP1R5M",
	"C09K7TJ2K39",
	"C0875D2QHMJ",
	"C07BEB1RANB",
	"C09B32K3JGN",
	"C093RUL2N3C",
	"C07HY03NX4N",
	"C08PNJCKDV1",
}

// conversationAPI is the Web API surface the health check needs.
type conversationAPI interface {
	ConversationInfo(ctx context.Context, channelID string) (*slack.Channel, error)
}

// CleanupArchived checks the given channels and removes archived or deleted
// ones from the assignment table. Returns the removed ids. Check failures
// other than channel_not_found leave the assignment alone.
func CleanupArchived(ctx context.Context, api conversationAPI, table *assign.Table, channelIDs []string) []string {
	var dead []string
	for _, id := range channelIDs {
		ch, err := api.ConversationInfo(ctx, id)
		if err != nil {
			var apiErr *slack.APIError
			if errors.As(err, &apiErr) && apiErr.Code == "channel_not_found" {
				slog.Warn("channel no longer exists", "channel", id)
				dead = append(dead, id)
				continue
			}
			slog.Warn("channel check failed", "channel", id, "error", err)
			continue
		}
		if ch.IsArchived {
			slog.Warn("channel is archived", "channel", id, "name", ch.Name)
			dead = append(dead, id)
		}
	}
	if len(dead) == 0 {
		return nil
	}

	removed, err := table.Remove(dead)
	if err != nil {
		slog.Error("assignment cleanup failed", "error", err)
		return dead
	}
	if removed > 0 {
		slog.Info("assignment table cleaned", "removed", removed)
	}
	return dead
}
