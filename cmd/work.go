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

	"github.com/ccdocs/relay/internal/archive"
	"github.com/ccdocs/relay/internal/metrics"
	"github.com/ccdocs/relay/internal/queue"
	"github.com/ccdocs/relay/internal/slack"
	"github.com/ccdocs/relay/internal/state"
	"github.com/ccdocs/relay/internal/worker"
)

func workCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "work",
		Short: "Run one forwarder worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWork()
		},
	}
}

func runWork() error {
	setupLogging()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Master.Validate(); err != nil {
		return err
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

	// One client per identity so a threaded reply posts as the same bot
	// that claimed the source channel.
	retryHook := slack.WithRetryHook(func(method string, _ time.Duration) {
		metrics.APIRetries.WithLabelValues(method).Inc()
	})
	clients := make(map[int]worker.SlackAPI, len(cfg.Bots))
	for _, b := range cfg.Bots {
		clients[b.Index] = slack.NewClient(b.BotToken, retryHook)
	}

	// The ledger is best effort: a worker without one still forwards.
	ledger, err := archive.Open(cfg.Archive.PostgresDSN, cfg.ArchivePath())
	if err != nil {
		slog.Warn("forward ledger unavailable", "error", err)
		ledger = nil
	} else {
		defer ledger.Close()
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

	metrics.Serve(ctx, cfg.MetricsAddr)

	consumer := fmt.Sprintf("worker-%d", os.Getpid())
	w := worker.New(worker.Deps{
		Consumer: consumer,
		Clients:  clients,
		Maps:     store,
		Jobs:     queue.New(store),
		Ledger:   ledger,
	})

	if cfg.WorkerCount > 1 {
		slog.Info("multiple workers configured: jobs interleave, per-thread ordering is not guaranteed across workers")
	}
	slog.Info("worker starting", "version", Version, "consumer", consumer, "bots", len(clients))
	if err := w.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
