package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ccdocs/relay/internal/assign"
	"github.com/ccdocs/relay/internal/categ"
	"github.com/ccdocs/relay/internal/config"
	"github.com/ccdocs/relay/internal/listener"
	"github.com/ccdocs/relay/internal/metrics"
	"github.com/ccdocs/relay/internal/queue"
	"github.com/ccdocs/relay/internal/scheduler"
	"github.com/ccdocs/relay/internal/slack"
	"github.com/ccdocs/relay/internal/state"
)

func listenCmd() *cobra.Command {
	var botID int
	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Run one bot's event listener",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runListen(botID)
		},
	}
	cmd.Flags().IntVar(&botID, "bot", 0, "bot identity to listen as (default: $BOT_ID)")
	return cmd
}

func runListen(botID int) error {
	setupLogging()

	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return err
	}
	if botID > 0 {
		cfg.BotID = botID
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := cfg.Master.Validate(); err != nil {
		return err
	}
	bot, _ := cfg.Self()

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	store, err := state.New(state.Options{
		Addr:     cfg.Redis.Addr(),
		Username: cfg.Redis.Username,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		return err
	}
	defer store.Close()

	cache := categ.NewCache(cfg.ChannelListsPath())
	if err := cache.Load(); err != nil {
		slog.Warn("channel lists unavailable, admin channels start uncategorized", "error", err)
	}
	managed, storm, ignored := cache.Counts()
	slog.Info("channel lists loaded", "managed", managed, "storm", storm, "ignored", ignored)

	table := assign.NewTable(cfg.AssignmentsPath(), cfg.BotIndexes())
	if err := table.Load(); err != nil {
		slog.Warn("assignment table load failed", "error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("graceful shutdown initiated", "signal", sig)
		cancel()
	}()

	// Pick up snapshots rewritten by a refresh run without restarting.
	watcher, err := categ.NewWatcher(map[string]func() error{
		cfg.ChannelListsPath(): cache.Load,
		cfg.AssignmentsPath():  table.Load,
	})
	if err != nil {
		slog.Warn("snapshot watcher unavailable", "error", err)
	} else {
		go watcher.Run(ctx)
	}

	api := slack.NewClient(bot.BotToken, slack.WithRetryHook(func(method string, _ time.Duration) {
		metrics.APIRetries.WithLabelValues(method).Inc()
	}))

	// Bot 1 owns the refresh cadence; the other listeners only consume the
	// snapshots it writes.
	if bot.Index == 1 {
		sched := scheduler.New(scheduler.Deps{
			API:            api,
			Provider:       categ.FileProvider{Path: cfg.ChannelSourcePath()},
			Table:          table,
			ListsPath:      cfg.ChannelListsPath(),
			DiscoveredPath: cfg.DiscoveredPath(),
			Cron:           cfg.Refresh.Cron,
		})
		go func() {
			if err := sched.Run(ctx); err != nil && ctx.Err() == nil {
				slog.Error("refresh scheduler stopped", "error", err)
			}
		}()
	}

	metrics.Serve(ctx, cfg.MetricsAddr)

	lst := listener.New(listener.Deps{
		Bot:        bot,
		API:        api,
		Events:     slack.NewSocketClient(bot.AppToken),
		Claims:     store,
		Jobs:       queue.New(store),
		Categories: cache,
		Targets: categ.Targets{
			Agent:        cfg.Master.Agent,
			Apptbk:       cfg.Master.Apptbk,
			ManagedAdmin: cfg.Master.ManagedAdmin,
			StormAdmin:   cfg.Master.StormAdmin,
		},
	})

	slog.Info("listener starting", "version", Version, "bot", bot.Index, "name", bot.Name)
	if err := lst.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
