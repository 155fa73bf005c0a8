// Package scheduler drives the periodic channel refresh: discover admin
// channels, pull a fresh categorization, and assign new channels to bots.
// Exactly one process runs it (bot 1) so the data-dir snapshots have a
// single writer.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"
	"github.com/google/uuid"

	"github.com/ccdocs/relay/internal/assign"
	"github.com/ccdocs/relay/internal/categ"
	"github.com/ccdocs/relay/internal/discovery"
)

const (
	// refreshInterval is measured from the completion of the previous run,
	// not from its start.
	refreshInterval = 12 * time.Hour
	// retryDelay applies after a failed run.
	retryDelay = time.Hour
)

// Deps are the collaborators a refresh run needs.
type Deps struct {
	API      discovery.Lister
	Provider categ.Provider
	Table    *assign.Table
	// ListsPath is the categorization snapshot listeners consume.
	ListsPath string
	// DiscoveredPath is the operator-facing discovery snapshot.
	DiscoveredPath string
	// Cron optionally replaces the fixed interval.
	Cron string
}

// Scheduler runs refreshes on a fixed cadence.
type Scheduler struct {
	api        discovery.Lister
	provider   categ.Provider
	table      *assign.Table
	listsPath  string
	discovered string
	cron       string
}

// New assembles a scheduler.
func New(d Deps) *Scheduler {
	return &Scheduler{
		api:        d.API,
		provider:   d.Provider,
		table:      d.Table,
		listsPath:  d.ListsPath,
		discovered: d.DiscoveredPath,
		cron:       d.Cron,
	}
}

// Run refreshes immediately, then keeps refreshing until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		err := s.RunOnce(ctx)
		if err != nil && ctx.Err() != nil {
			return ctx.Err()
		}

		wait := s.nextWait(time.Now(), err)
		if err != nil {
			slog.Warn("refresh failed, retrying", "in", wait, "error", err)
		} else {
			slog.Info("next refresh scheduled", "in", wait)
		}

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// RunOnce performs one full refresh pass.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	run := uuid.NewString()[:8]
	slog.Info("refresh started", "run", run)

	channels, err := discovery.AdminChannels(ctx, s.api)
	if err != nil {
		return fmt.Errorf("discover channels: %w", err)
	}
	if err := discovery.SaveDiscovered(s.discovered, channels); err != nil {
		slog.Warn("could not save discovery snapshot", "run", run, "error", err)
	}

	lists, err := s.provider.Fetch(ctx)
	if err != nil {
		return fmt.Errorf("fetch categorization: %w", err)
	}
	if err := categ.SaveLists(s.listsPath, lists); err != nil {
		return fmt.Errorf("save channel lists: %w", err)
	}

	ids := make([]string, len(channels))
	for i, ch := range channels {
		ids[i] = ch.ID
	}
	added, err := s.table.Assign(ids)
	if err != nil {
		return fmt.Errorf("assign channels: %w", err)
	}

	stats := s.table.Stats()
	slog.Info("refresh complete",
		"run", run, "channels", len(channels), "new_assignments", added,
		"per_bot", stats.PerBot,
		"managed", len(lists.Managed), "storm", len(lists.Storm), "ignored", len(lists.Ignored))
	return nil
}

// nextWait picks the delay before the next run: the retry delay after a
// failure, the cron's next tick when configured, the fixed interval
// otherwise.
func (s *Scheduler) nextWait(now time.Time, runErr error) time.Duration {
	if runErr != nil {
		return retryDelay
	}
	if s.cron != "" {
		next, err := gronx.NextTickAfter(s.cron, now, false)
		if err == nil {
			return next.Sub(now)
		}
		slog.Warn("invalid refresh cron, using fixed interval", "cron", s.cron, "error", err)
	}
	return refreshInterval
}
