package scanner

import (
	"testing"

	"github.com/raykavin/stocknrun/pkg/core"
	"github.com/raykavin/stocknrun/pkg/indicator"
	"github.com/raykavin/stocknrun/pkg/strength"
	"github.com/stretchr/testify/assert"
)

func newTestScorer() *Scorer {
	return NewScorer(DefaultScoreWeights(), NewKnowledgeBase(nil, nil))
}

func TestScore_TrendAndOversold(t *testing.T) {
	s := newTestScorer()

	row := indicator.Row{
		RSI14:       30,
		BBPct:       0.15,
		MACDHist:    -0.5,
		VolumeRatio: 1.0,
		Ret5:        -6,
		AboveMA200:  1,
	}

	// 30 trend + 25 rsi low + 15 bb low + 10 macd + 5 vol + 3 ret5d = 88
	score, details, warnings := s.Score("NVDA", row, strength.Unknown, StabilizationResult{})
	assert.Equal(t, 88, score)
	assert.Contains(t, details, "trend:above_ma200")
	assert.Empty(t, warnings)
}

func TestScore_MA50OnlyWarns(t *testing.T) {
	s := newTestScorer()

	row := indicator.Row{RSI14: 60, BBPct: 0.5, AboveMA50: 1}
	score, _, warnings := s.Score("NVDA", row, strength.Unknown, StabilizationResult{})
	assert.Equal(t, 15, score)
	assert.Contains(t, warnings, "below MA200")
}

func TestScore_RelativeStrength(t *testing.T) {
	s := newTestScorer()
	row := indicator.Row{RSI14: 60, BBPct: 0.5}

	score, _, _ := s.Score("NVDA", row, 12, StabilizationResult{})
	assert.Equal(t, 10, score)

	score, _, _ = s.Score("NVDA", row, 4, StabilizationResult{})
	assert.Equal(t, 5, score)

	// Mildly weak is neutral.
	score, _, _ = s.Score("NVDA", row, -8, StabilizationResult{})
	assert.Equal(t, 0, score)

	// Clearly weak penalizes, clamped at zero here.
	score, _, warnings := s.Score("NVDA", row, -15, StabilizationResult{})
	assert.Equal(t, 0, score)
	assert.NotEmpty(t, warnings)

	// The sentinel is unknown, never weakness.
	score, _, warnings = s.Score("NVDA", row, strength.Unknown, StabilizationResult{})
	assert.Equal(t, 0, score)
	assert.Empty(t, warnings)
}

func TestScore_KnowledgeBaseWeight(t *testing.T) {
	s := NewScorer(DefaultScoreWeights(), NewKnowledgeBase([]string{"AAPL"}, []string{"AMD"}))
	row := indicator.Row{RSI14: 60, BBPct: 0.5}

	score, details, _ := s.Score("AAPL", row, strength.Unknown, StabilizationResult{})
	assert.Equal(t, 15, score)
	assert.Contains(t, details, "kb:core_holding")

	score, details, _ = s.Score("AMD", row, strength.Unknown, StabilizationResult{})
	assert.Equal(t, 8, score)
	assert.Contains(t, details, "kb:focus_list")

	score, _, _ = s.Score("XYZ", row, strength.Unknown, StabilizationResult{})
	assert.Equal(t, 0, score)
}

func TestScore_ClampedToHundred(t *testing.T) {
	s := NewScorer(DefaultScoreWeights(), NewKnowledgeBase([]string{"AAPL"}, nil))

	row := indicator.Row{
		RSI14:       20,
		BBPct:       0.05,
		MACDHist:    -1,
		VolumeRatio: 1.0,
		Ret5:        -12,
		AboveMA200:  1,
	}
	score, _, _ := s.Score("AAPL", row, 15, StabilizationResult{Delta: 20})
	assert.Equal(t, 100, score)
}

func TestSuggestLevels(t *testing.T) {
	sl, tp, rr := SuggestLevels(100, 90)
	assert.Equal(t, 92.0, sl)
	assert.Equal(t, 120.0, tp)
	assert.Equal(t, 2.5, rr)

	sl, tp, rr = SuggestLevels(100, 70)
	assert.Equal(t, 92.0, sl)
	assert.Equal(t, 113.0, tp)
	assert.InDelta(t, 1.63, rr, 0.01)
}

func TestSuggestEntry(t *testing.T) {
	// Deep oversold buys at market.
	assert.Equal(t, 100.0, SuggestEntry(indicator.Row{Bar: core.Bar{Close: 100}, RSI14: 30}))

	// Above MA20: wait for the deeper of MA20 and a 1.5% dip.
	row := indicator.Row{Bar: core.Bar{Close: 100}, RSI14: 50, MA20: 99}
	assert.Equal(t, 99.0, SuggestEntry(row))

	row = indicator.Row{Bar: core.Bar{Close: 100}, RSI14: 50, MA20: 97.5}
	assert.Equal(t, 98.5, SuggestEntry(row))

	// Below both short averages: shallow discount.
	row = indicator.Row{Bar: core.Bar{Close: 100}, RSI14: 50, MA20: 101, MA50: 102}
	assert.Equal(t, 99.0, SuggestEntry(row))
}

func TestRet5dGate(t *testing.T) {
	assert.Equal(t, -3.0, Ret5dGate(0))
	assert.Equal(t, -3.0, Ret5dGate(19))
	assert.Equal(t, -2.5, Ret5dGate(20))
	assert.Equal(t, -2.0, Ret5dGate(30))
}

func TestRouteExecMode(t *testing.T) {
	best := &core.StructureSignal{Type: "1buy"}

	c := &core.Candidate{Best: best, Snapshot: core.Snapshot{AboveMA200: true, ATRPct14: 0.035}}
	routeExecMode(c, 0.035)
	assert.Equal(t, core.ExecModeStruct, c.ExecMode)
	assert.Equal(t, "structure:1buy", c.ExecReason)

	// ATR cap is inclusive; above it falls through.
	c = &core.Candidate{Best: best, Snapshot: core.Snapshot{AboveMA200: true, ATRPct14: 0.036, BBPct: 0.5}}
	routeExecMode(c, 0.035)
	assert.Equal(t, core.ExecModeSkip, c.ExecMode)

	c = &core.Candidate{Snapshot: core.Snapshot{BBPct: 0.05}}
	routeExecMode(c, 0.035)
	assert.Equal(t, core.ExecModeMR, c.ExecMode)

	c = &core.Candidate{Snapshot: core.Snapshot{BBPct: 0.5}}
	routeExecMode(c, 0.035)
	assert.Equal(t, core.ExecModeSkip, c.ExecMode)
}
