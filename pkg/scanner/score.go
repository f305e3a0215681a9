package scanner

import (
	"fmt"
	"math"

	"github.com/raykavin/stocknrun/pkg/core"
	"github.com/raykavin/stocknrun/pkg/indicator"
	"github.com/raykavin/stocknrun/pkg/strength"
)

// ScoreWeights are the scoring knobs. They are injected as a value, never
// read from ambient state, so a backtest can replay a scan exactly.
type ScoreWeights struct {
	TrendMA200    int
	TrendMA50Only int
	RSIDeep       int // RSI14 < 25
	RSILow        int // RSI14 < 32
	RSIMid        int // RSI14 < 40
	RSISoft       int // RSI14 < 50
	BBDeep        int // %B < 0.10
	BBLow         int // %B < 0.20
	BBMid         int // %B < 0.35
	MACDNegative  int
	VolumeNormal  int // ratio in (0.8, 1.5)
	VolumeQuiet   int // ratio in (0.5, 0.8]
	Ret5dDeep     int // < -10%
	Ret5dLow      int // < -5%
	RSStrong      int // rs_1y > 10
	RSPositive    int // rs_1y > 0
	RSWeakPenalty int // rs_1y <= -10
}

// DefaultScoreWeights returns the live scoring weights.
func DefaultScoreWeights() ScoreWeights {
	return ScoreWeights{
		TrendMA200:    30,
		TrendMA50Only: 15,
		RSIDeep:       30,
		RSILow:        25,
		RSIMid:        15,
		RSISoft:       5,
		BBDeep:        20,
		BBLow:         15,
		BBMid:         8,
		MACDNegative:  10,
		VolumeNormal:  5,
		VolumeQuiet:   3,
		Ret5dDeep:     5,
		Ret5dLow:      3,
		RSStrong:      10,
		RSPositive:    5,
		RSWeakPenalty: 5,
	}
}

// Scorer turns an enriched bar plus context into a 0..100 candidate
// score.
type Scorer struct {
	weights ScoreWeights
	kb      KnowledgeBase
}

func NewScorer(weights ScoreWeights, kb KnowledgeBase) *Scorer {
	return &Scorer{weights: weights, kb: kb}
}

// Score accumulates the component scores for the latest row. Details name
// each awarded component; warnings flag weaker setups that still scored.
func (s *Scorer) Score(symbol string, row indicator.Row, rs float64, stab StabilizationResult) (score int, details, warnings []string) {
	w := s.weights

	switch {
	case row.AboveMA200 == 1:
		score += w.TrendMA200
		details = append(details, "trend:above_ma200")
	case row.AboveMA50 == 1:
		score += w.TrendMA50Only
		details = append(details, "trend:above_ma50_only")
		warnings = append(warnings, "below MA200")
	}

	switch {
	case row.RSI14 < 25:
		score += w.RSIDeep
		details = append(details, fmt.Sprintf("rsi14:%.1f deep", row.RSI14))
	case row.RSI14 < 32:
		score += w.RSILow
		details = append(details, fmt.Sprintf("rsi14:%.1f low", row.RSI14))
	case row.RSI14 < 40:
		score += w.RSIMid
		details = append(details, fmt.Sprintf("rsi14:%.1f mid", row.RSI14))
	case row.RSI14 < 50:
		score += w.RSISoft
		details = append(details, fmt.Sprintf("rsi14:%.1f soft", row.RSI14))
	}

	switch {
	case row.BBPct < 0.10:
		score += w.BBDeep
		details = append(details, fmt.Sprintf("bb_pct:%.2f deep", row.BBPct))
	case row.BBPct < 0.20:
		score += w.BBLow
		details = append(details, fmt.Sprintf("bb_pct:%.2f low", row.BBPct))
	case row.BBPct < 0.35:
		score += w.BBMid
		details = append(details, fmt.Sprintf("bb_pct:%.2f mid", row.BBPct))
	}

	if row.MACDHist < 0 {
		score += w.MACDNegative
		details = append(details, "macd_hist:negative")
	}

	if row.VolumeRatio > 0.8 && row.VolumeRatio < 1.5 {
		score += w.VolumeNormal
		details = append(details, fmt.Sprintf("vol_ratio:%.2f", row.VolumeRatio))
	} else if row.VolumeRatio > 0.5 && row.VolumeRatio <= 0.8 {
		score += w.VolumeQuiet
		details = append(details, fmt.Sprintf("vol_ratio:%.2f quiet", row.VolumeRatio))
	}

	if row.Ret5 < -10 {
		score += w.Ret5dDeep
		details = append(details, fmt.Sprintf("ret_5d:%.1f%% deep", row.Ret5))
	} else if row.Ret5 < -5 {
		score += w.Ret5dLow
		details = append(details, fmt.Sprintf("ret_5d:%.1f%%", row.Ret5))
	}

	score += stab.Delta

	if kbWeight, label := s.kb.Weight(symbol); kbWeight > 0 {
		score += kbWeight
		details = append(details, label)
	}

	switch {
	case rs == strength.Unknown:
		// Unknown relative strength never rejects a candidate.
	case rs > 10:
		score += w.RSStrong
		details = append(details, fmt.Sprintf("rs_1y:%.1f strong", rs))
	case rs > 0:
		score += w.RSPositive
		details = append(details, fmt.Sprintf("rs_1y:%.1f", rs))
	case rs > -10:
		// Mildly weak: neither reward nor penalty.
	default:
		score -= w.RSWeakPenalty
		warnings = append(warnings, fmt.Sprintf("rs_1y %.1f weak", rs))
	}

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score, details, warnings
}

// SuggestLevels derives the take-profit and stop-loss to attach to the
// candidate. Strong trends get more room to run.
func SuggestLevels(close float64, score int) (sl, tp, rr float64) {
	sl = core.Round2(close * 0.92)
	if score >= core.StrongScore {
		tp = core.Round2(close * 1.20)
	} else {
		tp = core.Round2(close * 1.13)
	}
	if close > sl {
		rr = math.Round((tp-close)/(close-sl)*100) / 100
	}
	return sl, tp, rr
}

// SuggestEntry picks an entry hint from the RSI regime and the distance
// to the short moving averages.
func SuggestEntry(row indicator.Row) float64 {
	switch {
	case row.RSI14 < 35:
		return core.Round2(row.Close)
	case row.MA20 > 0 && row.Close >= row.MA20:
		return core.Round2(math.Max(row.MA20, row.Close*0.985))
	case row.MA50 > 0 && row.Close >= row.MA50:
		return core.Round2(math.Max(row.MA50, row.Close*0.97))
	default:
		return core.Round2(row.Close * 0.99)
	}
}
