package scanner

import (
	"math"

	"github.com/raykavin/stocknrun/pkg/core"
	"github.com/raykavin/stocknrun/pkg/indicator"
)

// StructureConfig tunes the breakout-pullback detector. Defaults match
// the live scan.
type StructureConfig struct {
	BoxLookback       int     // bars in the consolidation box
	PullbackWindow    int     // bars allowed for breakout + pullback
	BreakoutBufferATR float64 // close must clear box high by this many ATRs
	PullbackHoldATR   float64 // pullback low may undercut box high by this many ATRs
	ConfirmBufferATR  float64 // current close must clear the reference by this many ATRs
	RiskReward        float64
	MinBarsAfter1Buy  int
	MinBarsAfter2Buy  int
	MaxSLDistPct      float64 // best-signal filter on stop distance
	RequireTrend      bool    // above MA200 with non-negative MA200 slope
}

// DefaultStructureConfig returns the live detector parameters.
func DefaultStructureConfig() StructureConfig {
	return StructureConfig{
		BoxLookback:       80,
		PullbackWindow:    30,
		BreakoutBufferATR: 0.2,
		PullbackHoldATR:   0.3,
		ConfirmBufferATR:  0.1,
		RiskReward:        5.0 / 3.0,
		MinBarsAfter1Buy:  2,
		MinBarsAfter2Buy:  6,
		MaxSLDistPct:      8,
		RequireTrend:      true,
	}
}

// DetectStructures looks for 1buy and 2buy setups at the last bar of the
// enriched series, without look-ahead: every input to the decision is at
// or before the target bar.
func DetectStructures(rows []indicator.Row, cfg StructureConfig) (signals []core.StructureSignal, best *core.StructureSignal) {
	i := len(rows) - 1
	if i < cfg.BoxLookback+cfg.PullbackWindow {
		return nil, nil
	}

	cur := rows[i]
	atr := cur.ATR14
	if atr <= 0 {
		return nil, nil
	}

	if cfg.RequireTrend {
		if cur.AboveMA200 != 1 {
			return nil, nil
		}
		// MA200 must not be falling over the last 50 bars.
		if prev := rows[i-50].MA200; prev <= 0 || cur.MA200/prev-1 < 0 {
			return nil, nil
		}
	}

	boxLo := i - cfg.BoxLookback - cfg.PullbackWindow
	boxHi := i - cfg.PullbackWindow
	boxHigh := math.Inf(-1)
	for x := boxLo; x <= boxHi; x++ {
		if rows[x].High > boxHigh {
			boxHigh = rows[x].High
		}
	}

	// First bar inside the pullback window whose close clears the box.
	breakout := -1
	for j := i - cfg.PullbackWindow + 1; j <= i; j++ {
		if rows[j].Close > boxHigh+cfg.BreakoutBufferATR*atr {
			breakout = j
			break
		}
	}
	if breakout < 0 {
		return nil, nil
	}

	pullbackLow := math.Inf(1)
	for x := breakout + 1; x <= i; x++ {
		if rows[x].Low < pullbackLow {
			pullbackLow = rows[x].Low
		}
	}

	barsSince := i - breakout

	// 1buy: pullback tagged the box high, held within tolerance, and the
	// current close reconfirms the breakout.
	if barsSince >= cfg.MinBarsAfter1Buy &&
		pullbackLow <= boxHigh &&
		pullbackLow >= boxHigh-cfg.PullbackHoldATR*atr &&
		cur.Close > boxHigh+cfg.ConfirmBufferATR*atr {
		signals = append(signals, buildSignal("1buy", cur.Close, pullbackLow, boxHigh, atr, cfg))
	}

	// 2buy: a deeper, later pullback to the higher of box high and MA50.
	if barsSince >= cfg.MinBarsAfter2Buy && cur.MA50 > 0 {
		ref := math.Max(boxHigh, cur.MA50)
		if pullbackLow <= ref && cur.Close > ref+cfg.ConfirmBufferATR*atr {
			signals = append(signals, buildSignal("2buy", cur.Close, pullbackLow, boxHigh, atr, cfg))
		}
	}

	best = selectBest(signals, cfg.MaxSLDistPct)
	return signals, best
}

func buildSignal(typ string, close, pullbackLow, boxHigh, atr float64, cfg StructureConfig) core.StructureSignal {
	sl := core.Round2(pullbackLow - cfg.ConfirmBufferATR*atr)
	tp := core.Round2(close + cfg.RiskReward*(close-sl))
	return core.StructureSignal{
		Type:          typ,
		Entry:         close,
		StopLoss:      sl,
		TakeProfit:    tp,
		RiskReward:    cfg.RiskReward,
		BreakoutLevel: core.Round2(boxHigh),
	}
}

// selectBest picks among signals with a stop distance within the cap,
// preferring the tighter stop and, on ties, the later setup type.
func selectBest(signals []core.StructureSignal, maxSLDistPct float64) *core.StructureSignal {
	var best *core.StructureSignal
	for idx := range signals {
		s := &signals[idx]
		dist := s.SLDistancePct()
		if dist <= 0 || dist > maxSLDistPct {
			continue
		}
		if best == nil || dist < best.SLDistancePct() ||
			(dist == best.SLDistancePct() && s.Type > best.Type) {
			best = s
		}
	}
	return best
}
