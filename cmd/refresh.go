package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ccdocs/relay/internal/assign"
	"github.com/ccdocs/relay/internal/categ"
	"github.com/ccdocs/relay/internal/scheduler"
	"github.com/ccdocs/relay/internal/slack"
)

func refreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Run one channel refresh: discover, categorize, assign",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRefresh()
		},
	}
}

func runRefresh() error {
	setupLogging()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	// Discovery walks the whole workspace, which only bot 1 is scoped for.
	bot1, ok := cfg.Bot(1)
	if !ok {
		return errors.New("refresh requires the bot 1 identity (SLACK_BOT_TOKEN)")
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	table := assign.NewTable(cfg.AssignmentsPath(), cfg.BotIndexes())
	if err := table.Load(); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sched := scheduler.New(scheduler.Deps{
		API:            slack.NewClient(bot1.BotToken),
		Provider:       categ.FileProvider{Path: cfg.ChannelSourcePath()},
		Table:          table,
		ListsPath:      cfg.ChannelListsPath(),
		DiscoveredPath: cfg.DiscoveredPath(),
		Cron:           cfg.Refresh.Cron,
	})
	return sched.RunOnce(ctx)
}
