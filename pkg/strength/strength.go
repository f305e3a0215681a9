package strength

import (
	"context"
	"math"
	"time"

	"github.com/raykavin/stocknrun/pkg/core"
	"github.com/raykavin/stocknrun/pkg/logger"
	"github.com/raykavin/stocknrun/pkg/store"
)

// Unknown is the sentinel returned when there is not enough aligned
// history to compute a one-year relative strength. Consumers treat it as
// "unknown", never as weakness.
const Unknown = -999

const (
	tradingYear = 252
	minAligned  = tradingYear + 10
)

// Engine computes per-symbol relative strength against a benchmark from
// the 1d store.
type Engine struct {
	store     *store.BarStore
	benchmark string
	log       logger.Logger
}

func NewEngine(s *store.BarStore, benchmark string, log logger.Logger) *Engine {
	return &Engine{store: s, benchmark: benchmark, log: log}
}

// RS1Y returns the symbol's one-year return minus the benchmark's
// one-year return, in percent rounded to two decimals. Returns the
// Unknown sentinel when fewer than 262 aligned daily bars exist.
func (e *Engine) RS1Y(ctx context.Context, symbol string) float64 {
	symBars, err := e.store.LoadLocal(ctx, symbol, core.Interval1d)
	if err != nil {
		e.log.WithError(err).Warnf("rs_1y %s: symbol history unavailable", symbol)
		return Unknown
	}
	benchBars, err := e.store.LoadLocal(ctx, e.benchmark, core.Interval1d)
	if err != nil {
		e.log.WithError(err).Warnf("rs_1y %s: benchmark history unavailable", symbol)
		return Unknown
	}

	symCloses, benchCloses := alignCloses(symBars, benchBars)
	if len(symCloses) < minAligned {
		return Unknown
	}

	n := len(symCloses)
	symBase := symCloses[n-tradingYear]
	benchBase := benchCloses[n-tradingYear]
	if symBase == 0 || benchBase == 0 {
		return Unknown
	}

	rs := (symCloses[n-1]/symBase - benchCloses[n-1]/benchBase) * 100
	return math.Round(rs*100) / 100
}

// alignCloses intersects the two series by timestamp, preserving
// chronological order.
func alignCloses(sym, bench []core.Bar) (symCloses, benchCloses []float64) {
	benchByTime := make(map[time.Time]float64, len(bench))
	for _, b := range bench {
		benchByTime[b.Time] = b.Close
	}

	for _, b := range sym {
		if bc, ok := benchByTime[b.Time]; ok {
			symCloses = append(symCloses, b.Close)
			benchCloses = append(benchCloses, bc)
		}
	}
	return symCloses, benchCloses
}
