package scanner

import (
	"fmt"
	"math"

	"github.com/raykavin/stocknrun/pkg/core"
	"github.com/raykavin/stocknrun/pkg/indicator"
	"gonum.org/v1/gonum/stat"
)

// Stabilization bounds. The check can add at most +20 and penalize at
// most -5.
const (
	stabilizeMax = 20
	stabilizeMin = -5
)

// StabilizationResult is the outcome of the short-horizon bottoming check
// over the last ~10 hourly bars.
type StabilizationResult struct {
	Delta   int
	Signals []string
}

// Stabilize inspects the tail of the enriched 1h series for signs the
// decline is flattening: RSI turning up, volume contracting, higher lows,
// and a long lower shadow on the last candle.
func Stabilize(rows []indicator.Row) StabilizationResult {
	var res StabilizationResult
	n := len(rows)
	if n < 10 {
		return res
	}

	// RSI direction over the last three bars.
	r0 := rows[n-1].RSI14
	r1 := rows[n-2].RSI14
	r2 := rows[n-3].RSI14
	switch {
	case r0 > r1 && r1 > r2:
		res.Delta += 8
		res.Signals = append(res.Signals, "rsi_rising")
	case r0 > r2:
		res.Delta += 4
		res.Signals = append(res.Signals, "rsi_turning")
	case r0 < r2:
		res.Delta -= 5
		res.Signals = append(res.Signals, "rsi_falling")
	}

	// Recent volume vs the 20-bar average.
	vols := make(core.Series[float64], n)
	for i, row := range rows {
		vols[i] = row.Volume
	}
	if avg20 := stat.Mean(vols.LastValues(20).Values(), nil); avg20 > 0 {
		ratio := stat.Mean(vols.LastValues(5).Values(), nil) / avg20
		if ratio < 0.7 {
			res.Delta += 6
			res.Signals = append(res.Signals, fmt.Sprintf("volume_dryup:%.2f", ratio))
		} else if ratio < 1.0 {
			res.Delta += 3
			res.Signals = append(res.Signals, fmt.Sprintf("volume_calm:%.2f", ratio))
		}
	}

	// Last three lows strictly above the preceding three.
	if n >= 6 {
		recent := minLow(rows[n-3 : n])
		prior := minLow(rows[n-6 : n-3])
		if recent > prior {
			res.Delta += 5
			res.Signals = append(res.Signals, "higher_lows")
		}
	}

	// Long lower shadow on the last candle: buyers absorbed the dip.
	last := rows[n-1]
	body := math.Abs(last.Close - last.Open)
	lowerShadow := math.Min(last.Open, last.Close) - last.Low
	if span := last.High - last.Low; span > 0 && lowerShadow > body && lowerShadow > 0.5*span {
		res.Delta += 4
		res.Signals = append(res.Signals, "long_lower_shadow")
	}

	if res.Delta > stabilizeMax {
		res.Delta = stabilizeMax
	}
	if res.Delta < stabilizeMin {
		res.Delta = stabilizeMin
	}
	return res
}

func minLow(rows []indicator.Row) float64 {
	lo := math.Inf(1)
	for _, r := range rows {
		if r.Low < lo {
			lo = r.Low
		}
	}
	return lo
}
