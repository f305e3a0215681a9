package scanner

import (
	"fmt"

	"github.com/raykavin/stocknrun/pkg/core"
)

// Ret5dGate returns the maximum 5-day return a candidate may show to stay
// eligible. The requirement relaxes as the global no-signal streak grows.
func Ret5dGate(noSignalStreak int) float64 {
	switch {
	case noSignalStreak >= 30:
		return -2.0
	case noSignalStreak >= 20:
		return -2.5
	default:
		return -3.0
	}
}

// routeExecMode assigns the execution mode for a scored candidate.
// Structure entries need the trend intact and volatility within bounds;
// the ATR cap is inclusive. Everything else falls back to mean reversion
// when the bar sits at the bottom of its Bollinger band.
func routeExecMode(c *core.Candidate, atrPct14Max float64) {
	switch {
	case c.Best != nil && c.Snapshot.AboveMA200 && c.Snapshot.ATRPct14 <= atrPct14Max:
		c.ExecMode = core.ExecModeStruct
		c.ExecReason = fmt.Sprintf("structure:%s", c.Best.Type)
	case c.Snapshot.BBPct < 0.10:
		c.ExecMode = core.ExecModeMR
		c.ExecReason = fmt.Sprintf("mean_reversion:bb_pct=%.2f", c.Snapshot.BBPct)
	default:
		c.ExecMode = core.ExecModeSkip
		if c.Best != nil && c.Snapshot.ATRPct14 > atrPct14Max {
			c.ExecReason = fmt.Sprintf("atr_pct14 %.2f%% above cap", c.Snapshot.ATRPct14*100)
		} else {
			c.ExecReason = "no executable route"
		}
	}
}
