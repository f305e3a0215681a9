package scanner

import (
	"context"
	"sync"

	"github.com/raykavin/stocknrun/pkg/core"
	"github.com/raykavin/stocknrun/pkg/indicator"
	"github.com/raykavin/stocknrun/pkg/logger"
	"github.com/raykavin/stocknrun/pkg/regime"
	"github.com/raykavin/stocknrun/pkg/store"
	"github.com/raykavin/stocknrun/pkg/strength"
	"golang.org/x/sync/errgroup"
)

// Phase-1 gate thresholds: cheap daily filters that keep only symbols
// worth an hourly rescore.
const (
	phase1MaxRSI14 = 58.0
	phase1MaxBBPct = 0.55
	phase1MaxRet5d = 5.0

	phase1DailyBars = 90
	minHourlyBars   = 60
)

// Config tunes the scanner independently of the regime thresholds.
type Config struct {
	Concurrency int
	ATRPct14Max float64
	Weights     ScoreWeights
	Structure   StructureConfig
}

// DefaultConfig returns the live scanner parameters.
func DefaultConfig() Config {
	return Config{
		Concurrency: 8,
		ATRPct14Max: 0.035,
		Weights:     DefaultScoreWeights(),
		Structure:   DefaultStructureConfig(),
	}
}

// Scanner runs the two-phase scan: a cheap daily pre-filter over the full
// watchlist, then full hourly scoring for the survivors.
type Scanner struct {
	store    *store.BarStore
	strength *strength.Engine
	regime   *regime.Classifier
	scorer   *Scorer
	cfg      Config
	log      logger.Logger
}

func New(s *store.BarStore, rs *strength.Engine, rc *regime.Classifier, kb KnowledgeBase, cfg Config, log logger.Logger) *Scanner {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	return &Scanner{
		store:    s,
		strength: rs,
		regime:   rc,
		scorer:   NewScorer(cfg.Weights, kb),
		cfg:      cfg,
		log:      log,
	}
}

// Phase1 filters the watchlist on ~3 months of daily bars, keeping the
// watchlist order. Symbols whose history fails to load are skipped, not
// fatal.
func (s *Scanner) Phase1(ctx context.Context, watchlist []string) ([]string, error) {
	keep := make([]bool, len(watchlist))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)

	for i, symbol := range watchlist {
		i, symbol := i, symbol
		g.Go(func() error {
			ok, err := s.phase1Check(gctx, symbol)
			if err != nil {
				s.log.WithError(err).Warnf("phase1 %s: daily history unavailable, skipping", symbol)
				return nil
			}
			keep[i] = ok
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var survivors []string
	for i, ok := range keep {
		if ok {
			survivors = append(survivors, watchlist[i])
		}
	}
	s.log.Infof("phase1: %d/%d symbols retained", len(survivors), len(watchlist))
	return survivors, nil
}

func (s *Scanner) phase1Check(ctx context.Context, symbol string) (bool, error) {
	bars, err := s.store.LoadLocal(ctx, symbol, core.Interval1d)
	if err != nil {
		return false, err
	}
	if len(bars) < 30 {
		return false, nil
	}

	closes := make(core.Series[float64], len(bars))
	for i, b := range bars {
		closes[i] = b.Close
	}
	closes = closes.LastValues(phase1DailyBars)

	rsi := core.Series[float64](indicator.RSI(closes.Values(), 14))
	upper, _, lower := indicator.BB(closes.Values(), 20, 2, indicator.TypeSMA)

	last := closes.Length() - 1
	bbPct := 0.5
	if band := upper[last] - lower[last]; band > 0 {
		bbPct = (closes.Last(0) - lower[last]) / band
	}
	ret5d := 0.0
	if closes.Last(5) > 0 {
		ret5d = (closes.Last(0)/closes.Last(5) - 1) * 100
	}

	return rsi.Last(0) < phase1MaxRSI14 && bbPct < phase1MaxBBPct && ret5d < phase1MaxRet5d, nil
}

// Phase2 loads hourly history for each survivor, applies the full
// indicator engine, and emits candidates whose score clears the
// regime-selected threshold. The bar close of the latest 1h bar is the
// reproducibility anchor for everything downstream.
func (s *Scanner) Phase2(ctx context.Context, symbols []string, reg regime.Regime, noSignalStreak int) ([]core.Candidate, error) {
	var (
		mu         sync.Mutex
		candidates []core.Candidate
	)

	gate := Ret5dGate(noSignalStreak)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)

	for _, symbol := range symbols {
		symbol := symbol
		g.Go(func() error {
			cand, ok := s.scoreSymbol(gctx, symbol, reg, gate)
			if !ok {
				return nil
			}
			mu.Lock()
			candidates = append(candidates, cand)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	s.log.Infof("phase2: %d candidates from %d survivors", len(candidates), len(symbols))
	return candidates, nil
}

func (s *Scanner) scoreSymbol(ctx context.Context, symbol string, reg regime.Regime, ret5dGate float64) (core.Candidate, bool) {
	bars, err := s.store.LoadLocal(ctx, symbol, core.Interval1h)
	if err != nil {
		s.log.WithError(err).Warnf("phase2 %s: hourly history unavailable", symbol)
		return core.Candidate{}, false
	}
	if len(bars) < minHourlyBars {
		return core.Candidate{}, false
	}

	// Liquidity is a daily-scale number; the hourly window would
	// under-count it several times over.
	daily, err := s.store.LoadLocal(ctx, symbol, core.Interval1d)
	if err != nil {
		s.log.WithError(err).Warnf("phase2 %s: daily history unavailable, liquidity unknown", symbol)
	}

	return s.evaluate(ctx, symbol, indicator.Enrich(bars), dollarVol20d(daily), reg, ret5dGate)
}

// evaluate gates, scores and routes one enriched hourly series.
func (s *Scanner) evaluate(ctx context.Context, symbol string, rows []indicator.Row, dollarVol float64, reg regime.Regime, ret5dGate float64) (core.Candidate, bool) {
	row := rows[len(rows)-1]

	// The pullback requirement binds every candidate, whatever execution
	// route it would take.
	if row.Ret5 > ret5dGate {
		s.log.Debugf("phase2 %s: ret_5d %.2f%% above gate %.1f%%", symbol, row.Ret5, ret5dGate)
		return core.Candidate{}, false
	}

	structures, best := DetectStructures(rows, s.cfg.Structure)
	stab := Stabilize(rows)
	rs := s.strength.RS1Y(ctx, symbol)

	score, details, warnings := s.scorer.Score(symbol, row, rs, stab)
	details = append(stab.Signals, details...)

	sl, tp, rr := SuggestLevels(row.Close, score)
	if best != nil {
		sl, tp, rr = best.StopLoss, best.TakeProfit, best.RiskReward
	}

	cand := core.Candidate{
		Symbol:     symbol,
		BarTime:    row.Time,
		Close:      row.Close,
		Score:      score,
		StopLoss:   sl,
		TakeProfit: tp,
		RiskReward: rr,
		EntryHint:  SuggestEntry(row),
		Snapshot: core.Snapshot{
			RSI14:        row.RSI14,
			BBPct:        row.BBPct,
			MACDHist:     row.MACDHist,
			VolumeRatio:  row.VolumeRatio,
			Ret5d:        row.Ret5,
			ATRPct14:     row.ATRPct14,
			AboveMA200:   row.AboveMA200 == 1,
			AboveMA50:    row.AboveMA50 == 1,
			MA50SlopeUp:  ma50SlopeUp(rows),
			RS1Y:         rs,
			DollarVol20d: dollarVol,
		},
		Structures:  structures,
		Best:        best,
		PriceSource: core.PriceSource1HBarClose,
		Details:     details,
		Warnings:    warnings,
	}

	routeExecMode(&cand, s.cfg.ATRPct14Max)
	if cand.ExecMode == core.ExecModeSkip {
		return core.Candidate{}, false
	}
	if cand.Score < s.regime.ThresholdFor(reg, symbol) {
		return core.Candidate{}, false
	}

	return cand, true
}

// ma50SlopeUp reports whether MA50 is flat or rising over the last five
// bars.
func ma50SlopeUp(rows []indicator.Row) bool {
	n := len(rows)
	if n < 6 {
		return false
	}
	prev := rows[n-6].MA50
	return prev > 0 && rows[n-1].MA50 >= prev
}

// dollarVol20d averages close times volume over the last 20 daily bars.
func dollarVol20d(bars []core.Bar) float64 {
	n := len(bars)
	if n == 0 {
		return 0
	}
	start := n - 20
	if start < 0 {
		start = 0
	}
	var sum float64
	for _, b := range bars[start:] {
		sum += b.Close * b.Volume
	}
	return sum / float64(n-start)
}
