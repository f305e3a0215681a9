package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/raykavin/stocknrun"
	"github.com/raykavin/stocknrun/internal/config"
	"github.com/raykavin/stocknrun/pkg/core"
	"github.com/raykavin/stocknrun/pkg/state"
	"github.com/spf13/cobra"
)

// Command line flags
var (
	// Scan and sync command flags
	tickers       string
	watchlistFile string

	// Sync command flags
	interval     string
	days         int
	gapThreshold int
	maxAutoDays  int

	// Stopout command flags
	cooldownHours float64
	reason        string
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "stocknrun",
		Short:   "Automated equity scanning and execution pipeline",
		Version: "1.0.0",
	}

	rootCmd.AddCommand(buildScanCmd())
	rootCmd.AddCommand(buildExitCmd())
	rootCmd.AddCommand(buildSyncCmd())
	rootCmd.AddCommand(buildReconcileCmd())
	rootCmd.AddCommand(buildStopoutCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildScanCmd() *cobra.Command {
	scanCmd := &cobra.Command{
		Use:   "scan",
		Short: "Run one full pipeline tick: track orders, check exits, scan and route",
		RunE:  runScan,
	}

	scanCmd.Flags().StringVarP(&tickers, "tickers", "t", "", "Comma-separated tickers (overrides the watchlist file)")
	scanCmd.Flags().StringVarP(&watchlistFile, "watchlist", "w", "watchlist.txt", "Watchlist file, one ticker per line")

	return scanCmd
}

func buildExitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "exit",
		Short: "Run an exit-only tick: track orders and check stops without scanning",
		RunE:  runExit,
	}
}

func buildSyncCmd() *cobra.Command {
	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Refresh local bar history from the upstream source",
		RunE:  runSync,
	}

	syncCmd.Flags().StringVarP(&tickers, "tickers", "t", "", "Comma-separated tickers (overrides the watchlist file)")
	syncCmd.Flags().StringVarP(&watchlistFile, "watchlist", "w", "watchlist.txt", "Watchlist file, one ticker per line")
	syncCmd.Flags().StringVarP(&interval, "interval", "i", "1d", "Bar interval (1h or 1d)")
	syncCmd.Flags().IntVarP(&days, "days", "d", 30, "Lookback window in days")
	syncCmd.Flags().IntVar(&gapThreshold, "gap-threshold", 5, "Local-history gap in days that triggers a widened lookback")
	syncCmd.Flags().IntVar(&maxAutoDays, "max-auto-days", 420, "Cap on the auto-widened lookback in days")

	return syncCmd
}

func buildReconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Advance pending orders and align positions with the broker",
		RunE:  runReconcile,
	}
}

func buildStopoutCmd() *cobra.Command {
	stopoutCmd := &cobra.Command{
		Use:   "stopout <symbol>",
		Short: "Set a manual entry cooldown for a symbol",
		Args:  cobra.ExactArgs(1),
		RunE:  runStopout,
	}

	stopoutCmd.Flags().Float64Var(&cooldownHours, "hours", 24, "Cooldown duration in hours")
	stopoutCmd.Flags().StringVar(&reason, "reason", "manual", "Cooldown reason recorded in trading state")

	return stopoutCmd
}

// newBot resolves configuration and assembles the pipeline. Failures here
// are configuration errors and exit non-zero.
func newBot(cmd *cobra.Command) (*stocknrun.Bot, error) {
	cfg, err := config.FromEnv()
	if err != nil {
		return nil, err
	}
	return stocknrun.NewBot(cmd.Context(), cfg)
}

// resolveWatchlist returns the tickers flag when set, otherwise the
// watchlist file.
func resolveWatchlist() ([]string, error) {
	if tickers != "" {
		var out []string
		for _, t := range strings.Split(tickers, ",") {
			if t = strings.ToUpper(strings.TrimSpace(t)); t != "" {
				out = append(out, t)
			}
		}
		if len(out) == 0 {
			return nil, fmt.Errorf("no valid tickers in %q", tickers)
		}
		return out, nil
	}
	return config.LoadWatchlist(watchlistFile)
}

func runScan(cmd *cobra.Command, args []string) error {
	bot, err := newBot(cmd)
	if err != nil {
		return err
	}
	defer bot.Close()

	watchlist, err := resolveWatchlist()
	if err != nil {
		return err
	}

	report, err := bot.RunTick(cmd.Context(), watchlist)
	if err != nil {
		// A concurrent tick holding the lock is a scheduling overlap; the
		// next cron slot retries. Runtime failures also exit zero so the
		// scheduler does not disable the job.
		if errors.Is(err, state.ErrTickActive) {
			fmt.Fprintln(os.Stderr, "tick already running, skipping")
			return nil
		}
		fmt.Fprintln(os.Stderr, err)
		return nil
	}

	bot.Summary(report)
	return nil
}

func runExit(cmd *cobra.Command, args []string) error {
	bot, err := newBot(cmd)
	if err != nil {
		return err
	}
	defer bot.Close()

	events, err := bot.RunExitOnly(cmd.Context())
	if err != nil {
		if errors.Is(err, state.ErrTickActive) {
			fmt.Fprintln(os.Stderr, "tick already running, skipping")
			return nil
		}
		fmt.Fprintln(os.Stderr, err)
		return nil
	}

	for _, ev := range events {
		fmt.Printf("exit: %s %s order=%s\n", ev.Symbol, ev.Reason, ev.OrderID)
	}
	return nil
}

func runSync(cmd *cobra.Command, args []string) error {
	iv := core.Interval(interval)
	if !iv.Valid() {
		return fmt.Errorf("invalid interval %q, expected 1h or 1d", interval)
	}

	bot, err := newBot(cmd)
	if err != nil {
		return err
	}
	defer bot.Close()

	watchlist, err := resolveWatchlist()
	if err != nil {
		return err
	}

	return bot.SyncBars(cmd.Context(), watchlist, iv, days, gapThreshold, maxAutoDays)
}

func runReconcile(cmd *cobra.Command, args []string) error {
	bot, err := newBot(cmd)
	if err != nil {
		return err
	}
	defer bot.Close()

	if err := bot.Reconcile(cmd.Context()); err != nil {
		if errors.Is(err, state.ErrTickActive) {
			fmt.Fprintln(os.Stderr, "tick already running, skipping")
			return nil
		}
		fmt.Fprintln(os.Stderr, err)
		return nil
	}
	return nil
}

func runStopout(cmd *cobra.Command, args []string) error {
	bot, err := newBot(cmd)
	if err != nil {
		return err
	}
	defer bot.Close()

	duration := time.Duration(cooldownHours * float64(time.Hour))
	return bot.Stopout(args[0], duration, reason)
}
