package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"github.com/ccdocs/relay/internal/archive"
	"github.com/ccdocs/relay/internal/assign"
	"github.com/ccdocs/relay/internal/categ"
	"github.com/ccdocs/relay/internal/config"
	"github.com/ccdocs/relay/internal/state"
)

func statusCmd() *cobra.Command {
	var ledgerRows int
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show queue depth, assignments, and recent forwards",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(ledgerRows)
		},
	}
	cmd.Flags().IntVar(&ledgerRows, "ledger", 10, "number of recent forwards to show (0 to skip)")
	return cmd
}

func runStatus(ledgerRows int) error {
	setupLogging()

	// Status inspects state only, so it works without bot tokens.
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	fmt.Println("relay status")
	fmt.Printf("  Version:  %s\n", Version)
	fmt.Printf("  Config:   %s\n", resolveConfigPath())
	fmt.Printf("  Bots:     %d\n", len(cfg.Bots))
	fmt.Println()

	cache := categ.NewCache(cfg.ChannelListsPath())
	if err := cache.Load(); err != nil {
		fmt.Printf("  Channel lists: unavailable (%v)\n", err)
	} else {
		managed, storm, ignored := cache.Counts()
		fmt.Printf("  Channel lists: %d managed, %d storm, %d ignored\n", managed, storm, ignored)
	}

	table := assign.NewTable(cfg.AssignmentsPath(), cfg.BotIndexes())
	if err := table.Load(); err != nil {
		fmt.Printf("  Assignments:   unavailable (%v)\n", err)
	} else {
		stats := table.Stats()
		fmt.Printf("  Assignments:   %d channels over %d bots\n", stats.TotalChannels, stats.TotalBots)
		for _, id := range cfg.BotIndexes() {
			fmt.Printf("    bot %d: %d channels\n", id, stats.PerBot[id])
		}
	}
	fmt.Println()

	store, err := state.New(state.Options{
		Addr:     cfg.Redis.Addr(),
		Username: cfg.Redis.Username,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		fmt.Printf("  Queue: redis unreachable (%v)\n", err)
	} else {
		defer store.Close()
		length, lenErr := store.StreamLen(ctx, state.StreamJobs)
		pending, pendErr := store.StreamPending(ctx, state.StreamJobs, state.GroupWorkers)
		switch {
		case lenErr != nil:
			fmt.Printf("  Queue: %v\n", lenErr)
		case pendErr != nil:
			fmt.Printf("  Queue: %d jobs in stream, pending count unavailable (%v)\n", length, pendErr)
		default:
			fmt.Printf("  Queue: %d jobs in stream, %d pending\n", length, pending)
		}
	}

	if ledgerRows <= 0 {
		return nil
	}
	fmt.Println()

	ledger, err := archive.Open(cfg.Archive.PostgresDSN, cfg.ArchivePath())
	if err != nil {
		fmt.Printf("  Ledger: unavailable (%v)\n", err)
		return nil
	}
	defer ledger.Close()

	if totals, err := ledger.Totals(ctx); err == nil && len(totals) > 0 {
		fmt.Printf("  Forwards: %d posts, %d parents, %d updates\n",
			totals["post"], totals["parent"], totals["update"])
	}

	entries, err := ledger.Recent(ctx, ledgerRows)
	if err != nil {
		fmt.Printf("  Ledger read failed: %v\n", err)
		return nil
	}
	if len(entries) == 0 {
		fmt.Println("  No forwards recorded yet.")
		return nil
	}
	printLedger(entries)
	return nil
}

// printLedger renders recent forwards as an aligned table. Channel names may
// contain double-width runes, so alignment goes through runewidth.
func printLedger(entries []archive.Entry) {
	headers := []string{"WHEN", "KIND", "SOURCE", "CATEGORY", "BOT", "LATENCY"}
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []string{
			e.RecordedAt.Local().Format("01-02 15:04:05"),
			e.Kind,
			"#" + e.SourceChannelName,
			e.Category,
			fmt.Sprintf("%d", e.BotID),
			fmt.Sprintf("%dms", e.LatencyMS),
		})
	}

	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = runewidth.StringWidth(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if w := runewidth.StringWidth(cell); w > widths[i] {
				widths[i] = w
			}
		}
	}

	printRow := func(cells []string) {
		parts := make([]string, len(cells))
		for i, cell := range cells {
			parts[i] = runewidth.FillRight(cell, widths[i])
		}
		fmt.Println("  " + strings.TrimRight(strings.Join(parts, "  "), " "))
	}
	printRow(headers)
	for _, row := range rows {
		printRow(row)
	}
}
