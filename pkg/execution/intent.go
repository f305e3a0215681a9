package execution

import (
	"fmt"
	"math"
	"time"

	"github.com/raykavin/stocknrun/internal/config"
	"github.com/raykavin/stocknrun/pkg/broker"
	"github.com/raykavin/stocknrun/pkg/core"
)

// Precondition skip reasons. Every failed candidate contributes one
// (symbol, reason, key) triple to the tick summary.
const (
	SkipDupKey     = "SKIP_DUP_KEY"
	SkipPendingBuy = "SKIP_PENDING_BUY"
	SkipCooldown   = "SKIP_COOLDOWN"
	SkipNoQuote    = "SKIP_NO_QUOTE"
	SkipPriceCap   = "SKIP_PRICE_CAP"
	SkipPriceMin   = "SKIP_PRICE_MIN"
	SkipDrift      = "SKIP_DRIFT"
	SkipSLRange    = "SKIP_SL_RANGE"
	SkipNotional   = "SKIP_NOTIONAL"
	SkipLiquidity  = "SKIP_LIQUIDITY"
	SkipMRTrend    = "SKIP_MR_TREND"
	SkipRiskCap    = "SKIP_RISK_CAP"
	SkipCashBuffer = "SKIP_CASH_BUFFER"
	SkipMaxPos     = "SKIP_MAX_POS"
	SkipDayLimit   = "SKIP_DAY_LIMIT"
	SkipSubmit     = "SKIP_SUBMIT_FAILED"
)

const maxRemarkLen = 64

// BuildIntent turns a candidate plus quote into a concrete day-limit buy
// intent, or returns the skip reason why none can be built.
func BuildIntent(c core.Candidate, q core.Quote, equity float64, cfg *config.Config, now time.Time) (*core.OrderIntent, string) {
	limit := q.MarketableBuyLimit()
	if limit <= 0 {
		return nil, SkipNoQuote
	}

	// MR entries additionally need the medium trend intact.
	if c.ExecMode == core.ExecModeMR && !c.Snapshot.AboveMA50 && !c.Snapshot.MA50SlopeUp {
		return nil, SkipMRTrend
	}

	sl := c.StopLoss
	if sl <= 0 || sl >= limit {
		return nil, SkipSLRange
	}
	slPct := (limit - sl) / limit
	if slPct < cfg.MinSLPct || slPct > cfg.MaxSLPct {
		return nil, SkipSLRange
	}

	// Thin low-priced names are too expensive to exit.
	if limit < cfg.LowPriceUSD && c.Snapshot.DollarVol20d < cfg.MinDollarVol20 {
		return nil, SkipLiquidity
	}

	qty := int64(math.Floor(equity * cfg.RiskPctEquity / (limit - sl)))
	if qty <= 0 {
		return nil, SkipNotional
	}

	// Per-symbol notional cap, floored by the minimum ticket size.
	perSymbolCap := math.Max(equity*cfg.MaxPositionPct, cfg.MinNotionalUSD)
	if capQty := int64(math.Floor(perSymbolCap / limit)); qty > capQty {
		qty = capQty
	}
	if capQty := int64(math.Floor(cfg.MaxNotionalUSD / limit)); qty > capQty {
		qty = capQty
	}

	// Raise undersized tickets to the minimum notional when the caps
	// still allow it.
	if float64(qty)*limit < cfg.MinNotionalUSD {
		raised := int64(math.Ceil(cfg.MinNotionalUSD / limit))
		if float64(raised)*limit > perSymbolCap || float64(raised)*limit > cfg.MaxNotionalUSD {
			return nil, SkipNotional
		}
		qty = raised
	}
	if qty <= 0 {
		return nil, SkipNotional
	}

	remark := fmt.Sprintf("score=%d mode=%s src=%s", c.Score, c.ExecMode, c.PriceSource)
	if len(remark) > maxRemarkLen {
		remark = remark[:maxRemarkLen]
	}

	return &core.OrderIntent{
		CreatedAt:  now,
		Symbol:     broker.ToBrokerSymbol(c.Symbol),
		Side:       core.SideTypeBuy,
		Quantity:   qty,
		OrderType:  "LO",
		LimitPrice: limit,
		StopLoss:   sl,
		TakeProfit: c.TakeProfit,
		Remark:     remark,
		Source:     "scanner",
	}, ""
}

// IntentScore ranks buildable intents: signal score discounted by stop
// width and capital consumed.
func IntentScore(signalScore int, intent *core.OrderIntent) float64 {
	slPct := 0.0
	if intent.LimitPrice > 0 {
		slPct = (intent.LimitPrice - intent.StopLoss) / intent.LimitPrice
	}
	return float64(signalScore) - slPct*50 - intent.GetNotional()/1000
}
