package core

import (
	"fmt"
	"time"
)

// ExecMode is the routing decision attached to a scored candidate
type ExecMode string

const (
	ExecModeStruct ExecMode = "STRUCT" // structure breakout entry
	ExecModeMR     ExecMode = "MR"     // mean reversion entry
	ExecModeSkip   ExecMode = "SKIP"   // not executable this tick
)

// PriceSource1HBarClose tags the reproducibility anchor of every candidate.
const PriceSource1HBarClose = "1H_bar_close"

// StrongScore is the score at or above which a candidate feeds the
// execution router regardless of routing mode.
const StrongScore = 85

// StructureSignal is one breakout-pullback setup found by the structure
// detector. Entry, SL and TP are absolute prices.
type StructureSignal struct {
	Type          string  `json:"type"` // 1buy or 2buy
	Entry         float64 `json:"entry"`
	StopLoss      float64 `json:"sl"`
	TakeProfit    float64 `json:"tp"`
	RiskReward    float64 `json:"rr"`
	BreakoutLevel float64 `json:"breakout_level"`
}

// SLDistancePct returns the stop distance as a percentage of entry.
func (s StructureSignal) SLDistancePct() float64 {
	if s.Entry == 0 {
		return 0
	}
	return (s.Entry - s.StopLoss) / s.Entry * 100
}

// Snapshot carries the indicator values later pipeline stages read without
// reloading history.
type Snapshot struct {
	RSI14        float64 `json:"rsi14"`
	BBPct        float64 `json:"bb_pct"`
	MACDHist     float64 `json:"macd_hist"`
	VolumeRatio  float64 `json:"vol_ratio"`
	Ret5d        float64 `json:"ret_5d"`
	ATRPct14     float64 `json:"atr_pct14"`
	AboveMA200   bool    `json:"above_ma200"`
	AboveMA50    bool    `json:"above_ma50"`
	MA50SlopeUp  bool    `json:"ma50_slope_up"`
	RS1Y         float64 `json:"rs_1y"`
	DollarVol20d float64 `json:"dollar_vol_20d"`
}

// Candidate is a scored bar emitted by the scanner for one symbol.
type Candidate struct {
	Symbol      string            `json:"symbol"`
	BarTime     time.Time         `json:"bar_time"`
	Close       float64           `json:"close"`
	Score       int               `json:"score"`
	ExecMode    ExecMode          `json:"exec_mode"`
	ExecReason  string            `json:"exec_reason,omitempty"`
	StopLoss    float64           `json:"sl"`
	TakeProfit  float64           `json:"tp"`
	RiskReward  float64           `json:"rr"`
	EntryHint   float64           `json:"entry_hint,omitempty"`
	Snapshot    Snapshot          `json:"snapshot"`
	Structures  []StructureSignal `json:"structures,omitempty"`
	Best        *StructureSignal  `json:"best,omitempty"`
	PriceSource string            `json:"price_source"`
	Details     []string          `json:"details,omitempty"`
	Warnings    []string          `json:"warnings,omitempty"`
}

// IsStrong reports whether the candidate qualifies for the execution
// router: score at or above the strong threshold, or a structure route.
func (c Candidate) IsStrong() bool {
	return c.Score >= StrongScore || c.ExecMode == ExecModeStruct
}

// Key returns the idempotency key identifying this bar-level signal.
func (c Candidate) Key() string {
	return fmt.Sprintf("%s|%s|%s", c.Symbol, c.ExecMode, c.BarTime.Format("2006-01-02T15:04:05"))
}
