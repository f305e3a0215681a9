package stocknrun

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/raykavin/stocknrun/internal/config"
	"github.com/raykavin/stocknrun/pkg/broker"
	"github.com/raykavin/stocknrun/pkg/core"
	"github.com/raykavin/stocknrun/pkg/execution"
	"github.com/raykavin/stocknrun/pkg/exit"
	"github.com/raykavin/stocknrun/pkg/ledger"
	"github.com/raykavin/stocknrun/pkg/logger"
	"github.com/raykavin/stocknrun/pkg/logger/zerolog"
	"github.com/raykavin/stocknrun/pkg/marketdata"
	"github.com/raykavin/stocknrun/pkg/notification"
	"github.com/raykavin/stocknrun/pkg/regime"
	"github.com/raykavin/stocknrun/pkg/scanner"
	"github.com/raykavin/stocknrun/pkg/state"
	"github.com/raykavin/stocknrun/pkg/store"
	"github.com/raykavin/stocknrun/pkg/strength"
	"github.com/raykavin/stocknrun/pkg/tracker"
	"github.com/schollz/progressbar/v3"
)

// Default file names under the data directory.
const (
	defaultBarsFile   = "bars.db"
	defaultStateFile  = "trading_state.json"
	defaultLedgerFile = "orders.ndjson"
	defaultLockFile   = "tick.lock"
)

// Default history windows for the tick-time incremental sync.
const (
	dailyLookbackDays  = 30
	hourlyLookbackDays = 10
	gapDaysThreshold   = 5
	maxAutoDays        = 420
)

// Bot wires the full pipeline: bar store, scanner, execution router, exit
// monitor and order tracker, sharing one trading-state document per tick.
type Bot struct {
	cfg      *config.Config
	logger   logger.Logger
	bars     *store.BarStore
	state    *state.Store
	ledger   ledger.Ledger
	broker   core.Broker
	quotes   core.QuoteClient
	upstream core.MarketData
	notifier core.Notifier

	scanner *scanner.Scanner
	regime  *regime.Classifier
	router  *execution.Router
	monitor *exit.Monitor
	tracker *tracker.Tracker
}

// TickReport summarizes one pipeline pass for the caller.
type TickReport struct {
	Regime     regime.Regime
	Candidates []core.Candidate
	ExitEvents []exit.Event
	Buy        *core.OrderIntent
	OrderID    string
}

// NewBot assembles the pipeline from configuration, filling any component
// not supplied through options with its default wiring.
func NewBot(ctx context.Context, cfg *config.Config, options ...Option) (*Bot, error) {
	bot := &Bot{cfg: cfg}

	for _, option := range options {
		option(bot)
	}

	if err := initializeLogger(bot); err != nil {
		return nil, err
	}
	if err := initializeMarketData(bot); err != nil {
		return nil, err
	}
	if err := initializeStorage(bot); err != nil {
		return nil, err
	}
	if err := initializeBroker(bot); err != nil {
		return nil, err
	}
	if err := initializeNotifier(bot); err != nil {
		return nil, err
	}

	rs := strength.NewEngine(bot.bars, cfg.Benchmark, bot.logger)
	rc := regime.NewClassifier(bot.bars, cfg.Benchmark, cfg.VIXSymbol, cfg.Speculative, bot.logger)
	kb := scanner.NewKnowledgeBase(cfg.CoreHoldings, cfg.FocusList)

	scanCfg := scanner.DefaultConfig()
	scanCfg.ATRPct14Max = cfg.ATRPct14Max

	bot.regime = rc
	bot.scanner = scanner.New(bot.bars, rs, rc, kb, scanCfg, bot.logger)
	bot.router = execution.NewRouter(cfg, bot.state, bot.ledger, bot.broker, bot.quotes, bot.logger)
	bot.monitor = exit.NewMonitor(cfg, bot.state, bot.ledger, bot.broker, bot.quotes, bot.logger)
	bot.tracker = tracker.New(cfg, bot.state, bot.broker, bot.logger)

	return bot, nil
}

// initializeLogger sets up the logging system
func initializeLogger(bot *Bot) error {
	if bot.logger != nil {
		return nil
	}
	log, err := zerolog.New("info", "2006-01-02 15:04:05", true, false)
	if err != nil {
		return err
	}
	bot.logger = zerolog.NewAdapter(log)
	return nil
}

// initializeMarketData builds the upstream OHLCV client when an endpoint
// is configured; without one the bot serves local history only.
func initializeMarketData(bot *Bot) error {
	if bot.upstream != nil || bot.cfg.MarketData.BaseURL == "" {
		return nil
	}
	md, err := marketdata.NewClient(bot.cfg.MarketData, bot.logger)
	if err != nil {
		return err
	}
	bot.upstream = md
	return nil
}

// initializeStorage opens the bar store, the trading-state document and
// the order ledger under the data directory.
func initializeStorage(bot *Bot) error {
	var err error

	if bot.bars == nil {
		bot.bars, err = store.FromFile(filepath.Join(bot.cfg.DataDir, defaultBarsFile), bot.upstream, bot.logger)
		if err != nil {
			return err
		}
	}
	if bot.state == nil {
		bot.state, err = state.Load(filepath.Join(bot.cfg.DataDir, defaultStateFile))
		if err != nil {
			return err
		}
	}
	if bot.ledger == nil {
		bot.ledger, err = ledger.FromFile(filepath.Join(bot.cfg.DataDir, defaultLedgerFile))
		if err != nil {
			return err
		}
	}
	return nil
}

// initializeBroker picks the account surface: the REST client when
// credentials are configured, otherwise a paper account mirroring local
// state with quotes served from stored hourly closes.
func initializeBroker(bot *Bot) error {
	if bot.broker != nil {
		return nil
	}

	if bot.cfg.Broker.BaseURL != "" {
		client, err := broker.NewClient(bot.cfg.Broker, bot.logger)
		if err != nil {
			return err
		}
		bot.broker = client
		if bot.quotes == nil {
			bot.quotes = client
		}
		return nil
	}

	if bot.cfg.IsLive() {
		return errors.New("live trading requires broker credentials")
	}

	bot.broker = broker.NewPaper(bot.cfg.PaperEquity, bot.state, bot.logger)
	if bot.quotes == nil {
		bot.quotes = marketdata.NewStoreQuotes(bot.bars)
	}
	return nil
}

// initializeNotifier starts Telegram when configured, falls back to
// SMTP, and otherwise drops notifications.
func initializeNotifier(bot *Bot) error {
	if bot.notifier != nil {
		return nil
	}
	if bot.cfg.Telegram.Enabled() {
		n, err := notification.NewTelegram(bot.cfg.Telegram, bot.state)
		if err != nil {
			return err
		}
		bot.notifier = n
		return nil
	}
	if bot.cfg.Mail.Enabled() {
		bot.notifier = notification.NewMail(bot.cfg.Mail)
		return nil
	}
	bot.notifier = notification.NewNoop()
	return nil
}

// RunTick executes one full pipeline pass: order tracking, position
// reconciliation, exit monitoring, the two-phase scan, and at most one
// new entry. Exactly one tick runs at a time; a concurrent invocation
// returns state.ErrTickActive.
func (b *Bot) RunTick(ctx context.Context, watchlist []string) (*TickReport, error) {
	release, err := state.AcquireTickLock(filepath.Join(b.cfg.DataDir, defaultLockFile), state.DefaultLockStaleAfter)
	if err != nil {
		return nil, err
	}
	defer release()

	ctx, cancel := context.WithTimeout(ctx, b.cfg.TickDeadline)
	defer cancel()

	report := &TickReport{}

	// Order lifecycle first so exits and entries see fresh positions.
	if err := b.tracker.Run(ctx); err != nil {
		b.logger.WithError(err).Warn("tick: order tracking failed")
	}
	if err := b.tracker.ReconcilePositions(ctx); err != nil {
		b.logger.WithError(err).Warn("tick: reconciliation failed")
	}

	events, err := b.monitor.Run(ctx)
	if err != nil {
		b.logger.WithError(err).Warn("tick: exit monitoring failed")
	}
	report.ExitEvents = events
	for _, ev := range events {
		b.notifier.Notify(fmt.Sprintf("EXIT %s %s last=%.2f order=%s", ev.Symbol, ev.Reason, ev.Last, ev.OrderID))
	}

	reg, err := b.regime.Classify(ctx)
	if err != nil {
		b.logger.WithError(err).Warn("tick: regime classification failed, using neutral defaults")
		reg = regime.NeutralDefault(time.Now().UTC())
	}
	report.Regime = reg
	b.logger.Infof("tick: regime %s", reg)

	candidates, err := b.scan(ctx, watchlist, reg)
	if err != nil {
		return report, err
	}
	report.Candidates = candidates

	b.pushSignals(candidates)

	if !reg.EntriesAllowed {
		b.logger.Warn("tick: entries disallowed by market regime")
		b.noSignal()
		return report, b.saveState()
	}

	result, err := b.router.Run(ctx, candidates, b.equity(ctx))
	if err != nil {
		b.notifier.OnError(err)
		return report, err
	}

	b.state.SetLastExecSkip(result.Summary)
	if result.NewBuy() {
		report.Buy = result.Intent
		report.OrderID = result.OrderID
		b.state.ResetNoSignalStreak()
		b.notifier.Notify(fmt.Sprintf("BUY %s qty=%d limit=%.2f sl=%.2f tp=%.2f order=%s",
			result.Intent.Symbol, result.Intent.Quantity, result.Intent.LimitPrice,
			result.Intent.StopLoss, result.Intent.TakeProfit, result.OrderID))
	} else {
		b.noSignal()
	}

	return report, b.saveState()
}

// RunExitOnly advances orders and checks exits without scanning. Used by
// the high-frequency exit schedule between scan ticks.
func (b *Bot) RunExitOnly(ctx context.Context) ([]exit.Event, error) {
	release, err := state.AcquireTickLock(filepath.Join(b.cfg.DataDir, defaultLockFile), state.DefaultLockStaleAfter)
	if err != nil {
		return nil, err
	}
	defer release()

	ctx, cancel := context.WithTimeout(ctx, b.cfg.TickDeadline)
	defer cancel()

	if err := b.tracker.Run(ctx); err != nil {
		b.logger.WithError(err).Warn("exit tick: order tracking failed")
	}
	if err := b.tracker.ReconcilePositions(ctx); err != nil {
		b.logger.WithError(err).Warn("exit tick: reconciliation failed")
	}

	events, err := b.monitor.Run(ctx)
	if err != nil {
		b.logger.WithError(err).Warn("exit tick: monitoring failed")
	}
	for _, ev := range events {
		b.notifier.Notify(fmt.Sprintf("EXIT %s %s last=%.2f order=%s", ev.Symbol, ev.Reason, ev.Last, ev.OrderID))
	}

	return events, b.saveState()
}

// scan refreshes benchmark history and runs the two-phase scan.
func (b *Bot) scan(ctx context.Context, watchlist []string, reg regime.Regime) ([]core.Candidate, error) {
	if b.upstream != nil {
		for _, symbol := range []string{b.cfg.Benchmark, b.cfg.VIXSymbol} {
			if _, err := b.bars.SyncAndLoad(ctx, symbol, core.Interval1d, dailyLookbackDays, gapDaysThreshold, maxAutoDays); err != nil {
				b.logger.WithError(err).Warnf("tick: %s daily sync failed", symbol)
			}
		}
	}

	survivors, err := b.scanner.Phase1(ctx, watchlist)
	if err != nil {
		return nil, fmt.Errorf("phase1 failed: %w", err)
	}
	b.logger.Infof("tick: phase1 kept %d of %d symbols", len(survivors), len(watchlist))

	// Refresh hourly history only for the survivors; phase-1 rejects keep
	// whatever local data they had.
	if b.upstream != nil {
		for _, symbol := range survivors {
			if _, err := b.bars.SyncAndLoad(ctx, symbol, core.Interval1h, hourlyLookbackDays, gapDaysThreshold, maxAutoDays); err != nil {
				b.logger.WithError(err).Warnf("tick: %s hourly sync failed", symbol)
			}
		}
	}

	candidates, err := b.scanner.Phase2(ctx, survivors, reg, b.state.NoSignalStreak())
	if err != nil {
		return nil, fmt.Errorf("phase2 failed: %w", err)
	}
	b.logger.Infof("tick: phase2 produced %d candidates", len(candidates))
	return candidates, nil
}

// pushSignals notifies strong candidates individually and collapses the
// rest into one batch message.
func (b *Bot) pushSignals(candidates []core.Candidate) {
	var ordinary []core.Candidate
	for _, c := range candidates {
		if c.IsStrong() {
			b.notifier.OnCandidate(c)
			continue
		}
		ordinary = append(ordinary, c)
	}
	b.notifier.OnBatch(ordinary)
}

// equity resolves account equity: broker available cash when reported,
// configured paper equity otherwise.
func (b *Bot) equity(ctx context.Context) float64 {
	acct, err := b.broker.AccountBalance(ctx)
	if err != nil || acct.AvailableCash == nil {
		if err != nil {
			b.logger.WithError(err).Warn("tick: balance unavailable, using paper equity")
		}
		return b.cfg.PaperEquity
	}
	return *acct.AvailableCash
}

func (b *Bot) noSignal() {
	b.state.IncNoSignalStreak()
	b.logger.Infof("tick: NO_SIGNAL streak=%d", b.state.NoSignalStreak())
}

func (b *Bot) saveState() error {
	if err := b.state.Save(); err != nil {
		return fmt.Errorf("failed to persist trading state: %w", err)
	}
	return nil
}

// SyncBars refreshes history for the given symbols plus the benchmark and
// volatility index, rendering a progress bar. A symbol whose local series
// has gone stale beyond gapDays gets its lookback widened automatically,
// capped at maxAutoDays.
func (b *Bot) SyncBars(ctx context.Context, symbols []string, interval core.Interval, lookbackDays, gapDays, maxAutoDays int) error {
	if b.upstream == nil {
		return store.ErrNoUpstream
	}

	all := append([]string{b.cfg.Benchmark, b.cfg.VIXSymbol}, symbols...)
	bar := progressbar.Default(int64(len(all)))

	var failed int
	for _, symbol := range all {
		if _, err := b.bars.SyncAndLoad(ctx, symbol, interval, lookbackDays, gapDays, maxAutoDays); err != nil {
			b.logger.WithError(err).Warnf("sync %s failed", symbol)
			failed++
		}
		if err := bar.Add(1); err != nil {
			b.logger.Warnf("update progressbar fail: %v", err)
		}
	}

	if failed > 0 {
		b.logger.Warnf("sync finished with %d of %d symbols failed", failed, len(all))
	}
	return nil
}

// Stopout sets a manual cooldown for the symbol and persists it.
func (b *Bot) Stopout(symbol string, duration time.Duration, reason string) error {
	until := time.Now().UTC().Add(duration)
	b.state.SetCooldown(broker.ToBrokerSymbol(symbol), until, reason)
	b.logger.Infof("manual cooldown for %s until %s (%s)", symbol, until.Format(time.RFC3339), reason)
	return b.saveState()
}

// Reconcile runs only the tracker and reconciliation stages.
func (b *Bot) Reconcile(ctx context.Context) error {
	release, err := state.AcquireTickLock(filepath.Join(b.cfg.DataDir, defaultLockFile), state.DefaultLockStaleAfter)
	if err != nil {
		return err
	}
	defer release()

	if err := b.tracker.Run(ctx); err != nil {
		return err
	}
	if err := b.tracker.ReconcilePositions(ctx); err != nil {
		return err
	}
	return b.saveState()
}

// Close releases the storage handles.
func (b *Bot) Close() error {
	var errs []error
	if b.bars != nil {
		errs = append(errs, b.bars.Close())
	}
	if b.ledger != nil {
		errs = append(errs, b.ledger.Close())
	}
	return errors.Join(errs...)
}

// Summary prints the tick result as a table on stdout.
func (b *Bot) Summary(report *TickReport) {
	buffer := bytes.NewBuffer(nil)
	table := tablewriter.NewWriter(buffer)
	table.SetHeader([]string{"Symbol", "Score", "Mode", "Close", "SL", "TP", "RR", "RS 1Y"})

	for _, c := range report.Candidates {
		rs := "n/a"
		if c.Snapshot.RS1Y != strength.Unknown {
			rs = fmt.Sprintf("%.1f", c.Snapshot.RS1Y)
		}
		table.Append([]string{
			c.Symbol,
			fmt.Sprintf("%d", c.Score),
			string(c.ExecMode),
			fmt.Sprintf("%.2f", c.Close),
			fmt.Sprintf("%.2f", c.StopLoss),
			fmt.Sprintf("%.2f", c.TakeProfit),
			fmt.Sprintf("%.2f", c.RiskReward),
			rs,
		})
	}
	table.Render()

	fmt.Println(buffer.String())
	fmt.Printf("regime: %s\n", report.Regime)
	if report.Buy != nil {
		fmt.Printf("buy: %s qty=%d limit=%.2f order=%s\n",
			report.Buy.Symbol, report.Buy.Quantity, report.Buy.LimitPrice, report.OrderID)
	} else {
		fmt.Println("buy: none")
	}
	for _, ev := range report.ExitEvents {
		fmt.Printf("exit: %s %s order=%s\n", ev.Symbol, ev.Reason, ev.OrderID)
	}
}
