package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ccdocs/relay/internal/assign"
	"github.com/ccdocs/relay/internal/slack"
	"github.com/ccdocs/relay/internal/supervisor"
)

func upCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Run the full relay: workers plus one listener per bot, restarted on exit",
		Run: func(cmd *cobra.Command, args []string) {
			runUp()
		},
	}
}

func runUp() {
	setupLogging()

	cfg, err := loadConfig()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Master.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
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

	// Known problem channels are re-checked at every start so no listener
	// sits on an archived assignment.
	bot1, ok := cfg.Bot(1)
	if !ok {
		slog.Error("bot 1 identity is required to run the relay")
		os.Exit(1)
	}
	table := assign.NewTable(cfg.AssignmentsPath(), cfg.BotIndexes())
	if err := table.Load(); err != nil {
		slog.Warn("assignment table load failed", "error", err)
	}
	supervisor.CleanupArchived(ctx, slack.NewClient(bot1.BotToken), table, supervisor.ProblemChannels)

	exe, err := os.Executable()
	if err != nil {
		slog.Error("cannot determine executable path", "error", err)
		os.Exit(1)
	}

	specs := supervisor.Specs(cfg, cfgFile, verbose)
	slog.Info("relay starting",
		"version", Version,
		"bots", len(cfg.Bots),
		"workers", cfg.WorkerCount,
		"children", len(specs),
	)

	if err := supervisor.New(exe, specs).Run(ctx); err != nil && err != context.Canceled {
		slog.Error("supervisor stopped", "error", err)
		os.Exit(1)
	}
}
