package regime

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/raykavin/stocknrun/pkg/core"
	"github.com/raykavin/stocknrun/pkg/indicator"
	"github.com/raykavin/stocknrun/pkg/logger"
	"github.com/raykavin/stocknrun/pkg/store"
)

// Label is the global market state controlling entry thresholds.
type Label string

const (
	Bull    Label = "bull"
	Neutral Label = "neutral"
	Bear    Label = "bear"
	Panic   Label = "panic"
)

// Thresholds per regime.
const (
	thresholdBull    = 70
	thresholdNeutral = 80
	thresholdBear    = 90
	thresholdPanic   = 95

	elevatedVIXThreshold = 75 // floor in bull when VIX > 25
	speculativeThreshold = 80 // floor for speculative tickers in bull
)

const cacheTTL = 60 * time.Minute

// Regime is one classification of the current tick.
type Regime struct {
	Label          Label
	Threshold      int
	EntriesAllowed bool
	VIX            float64
	VsMA50         float64 // percent distance of benchmark close from MA50
	VsMA200        float64
	Ret20          float64
	ComputedAt     time.Time
}

// NeutralDefault is the regime used when classification is impossible:
// neutral threshold with entries allowed.
func NeutralDefault(now time.Time) Regime {
	return Regime{
		Label:          Neutral,
		Threshold:      thresholdNeutral,
		EntriesAllowed: true,
		ComputedAt:     now,
	}
}

func (r Regime) String() string {
	return fmt.Sprintf("%s threshold=%d vix=%.1f vs_ma200=%.1f%% ret20=%.1f%%",
		r.Label, r.Threshold, r.VIX, r.VsMA200, r.Ret20)
}

// Classifier derives the regime from benchmark daily history, with a
// 60-minute result cache.
type Classifier struct {
	store       *store.BarStore
	benchmark   string
	vixSymbol   string
	speculative map[string]bool
	log         logger.Logger

	mu     sync.Mutex
	cached *Regime
	now    func() time.Time
}

func NewClassifier(s *store.BarStore, benchmark, vixSymbol string, speculative []string, log logger.Logger) *Classifier {
	specMap := make(map[string]bool, len(speculative))
	for _, t := range speculative {
		specMap[strings.ToUpper(t)] = true
	}
	return &Classifier{
		store:       s,
		benchmark:   benchmark,
		vixSymbol:   vixSymbol,
		speculative: specMap,
		log:         log,
		now:         time.Now,
	}
}

// Classify returns the current regime, serving the cached result while it
// is fresh.
func (c *Classifier) Classify(ctx context.Context) (Regime, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cached != nil && c.now().Sub(c.cached.ComputedAt) < cacheTTL {
		return *c.cached, nil
	}

	r, err := c.classify(ctx)
	if err != nil {
		return Regime{}, err
	}

	c.cached = &r
	return r, nil
}

func (c *Classifier) classify(ctx context.Context) (Regime, error) {
	bars, err := c.store.LoadLocal(ctx, c.benchmark, core.Interval1d)
	if err != nil {
		return Regime{}, fmt.Errorf("benchmark history unavailable: %w", err)
	}

	r := NeutralDefault(c.now())

	if len(bars) < 201 {
		c.log.Warnf("regime: only %d benchmark bars, defaulting to neutral", len(bars))
		return r, nil
	}

	closes := make(core.Series[float64], len(bars))
	for i, b := range bars {
		closes[i] = b.Close
	}

	ma50 := core.Series[float64](indicator.SMA(closes.Values(), 50))
	ma200 := core.Series[float64](indicator.SMA(closes.Values(), 200))

	r.VsMA50 = pctDistance(closes.Last(0), ma50.Last(0))
	r.VsMA200 = pctDistance(closes.Last(0), ma200.Last(0))
	r.Ret20 = (closes.Last(0)/closes.Last(20) - 1) * 100
	r.VIX = c.latestVIX(ctx)

	switch {
	case r.VIX > 35:
		r.Label = Panic
		r.Threshold = thresholdPanic
		r.EntriesAllowed = false
	case r.VsMA200 <= -5 && r.Ret20 <= -5:
		r.Label = Bear
		r.Threshold = thresholdBear
	case r.VsMA50 < -3 || r.Ret20 < -2:
		r.Label = Neutral
		r.Threshold = thresholdNeutral
	default:
		r.Label = Bull
		r.Threshold = thresholdBull
		if r.VIX > 25 && r.Threshold < elevatedVIXThreshold {
			r.Threshold = elevatedVIXThreshold
		}
	}

	c.log.Infof("regime: %s", r)
	return r, nil
}

// ThresholdFor applies the per-symbol override: speculative tickers never
// enter below 80, even in bull.
func (c *Classifier) ThresholdFor(r Regime, symbol string) int {
	if c.speculative[strings.ToUpper(symbol)] && r.Label == Bull && r.Threshold < speculativeThreshold {
		return speculativeThreshold
	}
	return r.Threshold
}

// latestVIX returns the last stored VIX close, or zero when unavailable.
func (c *Classifier) latestVIX(ctx context.Context) float64 {
	if c.vixSymbol == "" {
		return 0
	}
	bars, err := c.store.LoadLocal(ctx, c.vixSymbol, core.Interval1d)
	if err != nil || len(bars) == 0 {
		return 0
	}
	return bars[len(bars)-1].Close
}

func pctDistance(v, ref float64) float64 {
	if ref == 0 {
		return 0
	}
	return (v/ref - 1) * 100
}
