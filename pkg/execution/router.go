package execution

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/raykavin/stocknrun/internal/config"
	"github.com/raykavin/stocknrun/pkg/broker"
	"github.com/raykavin/stocknrun/pkg/core"
	"github.com/raykavin/stocknrun/pkg/ledger"
	"github.com/raykavin/stocknrun/pkg/logger"
	"github.com/raykavin/stocknrun/pkg/state"
	"github.com/samber/lo"
)

// doubleReadDriftMaxPct bounds the move between the two quote reads taken
// before committing the selected intent.
const doubleReadDriftMaxPct = 0.01

const maxSkipSamples = 5

// Result is the outcome of one router pass.
type Result struct {
	Intent  *core.OrderIntent
	OrderID string
	Summary state.SkipSummary
}

// NewBuy reports whether the pass committed a buy.
func (r *Result) NewBuy() bool { return r.Intent != nil }

// Router turns scored candidates into at most one buy order per tick,
// enforcing idempotency, cooldowns, price gates, sizing and portfolio
// guards. Ordinary candidates are summarized, never executed; only the
// strong set feeds selection.
type Router struct {
	cfg    *config.Config
	state  *state.Store
	ledger ledger.Ledger
	broker core.Broker
	quotes core.QuoteClient
	log    logger.Logger
	now    func() time.Time
}

func NewRouter(cfg *config.Config, st *state.Store, led ledger.Ledger, brk core.Broker, q core.QuoteClient, log logger.Logger) *Router {
	return &Router{
		cfg:    cfg,
		state:  st,
		ledger: led,
		broker: brk,
		quotes: q,
		log:    log,
		now:    time.Now,
	}
}

type rankedIntent struct {
	cand   core.Candidate
	intent *core.OrderIntent
	score  float64
}

// Run evaluates the strong candidates and commits at most one buy. The
// selection is deterministic given the candidate set, the quotes
// observed, and the trading-state snapshot.
func (r *Router) Run(ctx context.Context, candidates []core.Candidate, equity float64) (*Result, error) {
	now := r.now().UTC()
	skips := newSkipTally()

	strong := lo.Filter(candidates, func(c core.Candidate, _ int) bool { return c.IsStrong() })
	if len(strong) == 0 {
		return &Result{Summary: skips.summary(now)}, nil
	}

	quotes, err := r.fetchQuotes(ctx, strong)
	if err != nil {
		r.log.WithError(err).Warn("router: quote pull failed, no entries this tick")
		for _, c := range strong {
			skips.add(SkipNoQuote, c.Symbol, c.Key())
		}
		return &Result{Summary: skips.summary(now)}, nil
	}

	var ranked []rankedIntent
	for _, c := range strong {
		intent, reason := r.evaluate(c, quotes, equity, now)
		if intent == nil {
			skips.add(reason, c.Symbol, c.Key())
			continue
		}
		ranked = append(ranked, rankedIntent{cand: c, intent: intent, score: IntentScore(c.Score, intent)})
	}

	if len(ranked) == 0 {
		return &Result{Summary: skips.summary(now)}, nil
	}

	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })
	top := ranked[0]

	if reason := r.guardCommit(top.intent, equity, now); reason != "" {
		skips.add(reason, top.cand.Symbol, top.cand.Key())
		return &Result{Summary: skips.summary(now)}, nil
	}

	// Double-read drift check on the symbol about to be bought.
	if ok := r.recheckDrift(ctx, top); !ok {
		skips.add(SkipDrift, top.cand.Symbol, top.cand.Key())
		return &Result{Summary: skips.summary(now)}, nil
	}

	orderID, err := r.commit(ctx, top, now)
	if err != nil {
		r.log.WithError(err).Errorf("router: submit failed for %s", top.intent.Symbol)
		skips.add(SkipSubmit, top.cand.Symbol, top.cand.Key())
		return &Result{Summary: skips.summary(now)}, nil
	}

	r.log.Infof("router: committed %s qty=%d limit=%.2f order=%s",
		top.intent.Symbol, top.intent.Quantity, top.intent.LimitPrice, orderID)

	return &Result{Intent: top.intent, OrderID: orderID, Summary: skips.summary(now)}, nil
}

func (r *Router) fetchQuotes(ctx context.Context, strong []core.Candidate) (map[string]core.Quote, error) {
	symbols := lo.Map(strong, func(c core.Candidate, _ int) string { return broker.ToBrokerSymbol(c.Symbol) })
	quotes, err := r.quotes.Quotes(ctx, lo.Uniq(symbols))
	if err != nil {
		return nil, err
	}
	return lo.SliceToMap(quotes, func(q core.Quote) (string, core.Quote) { return q.Symbol, q }), nil
}

// evaluate runs the per-candidate preconditions and builds the intent.
func (r *Router) evaluate(c core.Candidate, quotes map[string]core.Quote, equity float64, now time.Time) (*core.OrderIntent, string) {
	if r.state.IsExecuted(c.Key()) {
		return nil, SkipDupKey
	}
	symbol := broker.ToBrokerSymbol(c.Symbol)
	if _, exists := r.state.PendingBuy(symbol); exists {
		return nil, SkipPendingBuy
	}
	if cd := r.state.ActiveCooldown(symbol, now); cd != nil {
		return nil, fmt.Sprintf("%s:%s", SkipCooldown, cd.Reason)
	}

	q, ok := quotes[symbol]
	if !ok || q.Last <= 0 {
		return nil, SkipNoQuote
	}
	if q.Last > equity*r.cfg.MaxPricePctEquity {
		return nil, SkipPriceCap
	}
	if q.Last < r.cfg.MinPriceUSD {
		return nil, SkipPriceMin
	}

	// The signal price anchors the entry; a stale signal is not chased.
	if c.Close > 0 {
		drift := (q.Last - c.Close) / c.Close
		if drift < 0 {
			drift = -drift
		}
		if drift > r.cfg.PriceDriftMaxPct {
			return nil, SkipDrift
		}
	}

	return BuildIntent(c, q, equity, r.cfg, now)
}

// guardCommit applies the portfolio-level guards to the selected intent.
func (r *Router) guardCommit(intent *core.OrderIntent, equity float64, now time.Time) string {
	open := r.state.OpenPositions()

	if len(open) >= r.cfg.MaxOpenPos {
		return SkipMaxPos
	}
	if r.state.BuysToday(now.Format("2006-01-02")) >= r.cfg.MaxNewBuysPerDay {
		return SkipDayLimit
	}

	openRisk := 0.0
	for _, p := range open {
		if p.StopLoss > 0 && p.Entry > p.StopLoss {
			openRisk += (p.Entry - p.StopLoss) * float64(p.Quantity)
		}
	}
	newRisk := (intent.LimitPrice - intent.StopLoss) * float64(intent.Quantity)
	if openRisk+newRisk > equity*r.cfg.TotalRiskCap {
		return SkipRiskCap
	}

	if equity-intent.GetNotional() < r.cfg.MinCashBufferUSD {
		return SkipCashBuffer
	}
	return ""
}

// recheckDrift pulls one more quote for the selected symbol; within a
// tick the two reads are totally ordered per symbol.
func (r *Router) recheckDrift(ctx context.Context, top rankedIntent) bool {
	quotes, err := r.quotes.Quotes(ctx, []string{top.intent.Symbol})
	if err != nil || len(quotes) == 0 {
		// One successful read already gated the price; a failed recheck
		// does not block the entry.
		return true
	}
	q := quotes[0]
	if top.intent.LimitPrice <= 0 || q.Last <= 0 {
		return true
	}
	drift := (q.Last - top.intent.LimitPrice) / top.intent.LimitPrice
	if drift < 0 {
		drift = -drift
	}
	return drift <= doubleReadDriftMaxPct
}

// commit appends the intent to the ledger, submits it (or produces a
// dry-run id), and records every side effect in trading state.
func (r *Router) commit(ctx context.Context, top rankedIntent, now time.Time) (string, error) {
	intent := top.intent

	if err := r.ledger.Append(ledger.Record{
		OrderIntent: *intent,
		Status:      string(core.OrderStatusTypePending),
		UpdatedAt:   now,
	}); err != nil {
		r.log.WithError(err).Warn("router: ledger append failed")
	}

	var orderID string
	if r.cfg.IsLive() {
		id, err := r.broker.SubmitOrder(ctx, *intent)
		if err != nil {
			return "", err
		}
		orderID = id
	} else {
		orderID = intent.DryRunID()
	}

	r.state.AddPendingOrder(core.PendingOrder{
		OrderIntent: *intent,
		OrderID:     orderID,
		Status:      core.OrderStatusTypePending,
		UpdatedAt:   now,
		Reason:      "entry",
	})
	r.state.MarkExecuted(top.cand.Key(), map[string]string{
		"order_id": orderID,
		"mode":     string(top.cand.ExecMode),
	})
	r.state.IncBuysToday(now.Format("2006-01-02"))

	// Optimistic position entry; the tracker corrects it on fill.
	r.state.SetOpenPosition(core.OpenPosition{
		Symbol:     intent.Symbol,
		Quantity:   intent.Quantity,
		Entry:      intent.LimitPrice,
		StopLoss:   intent.StopLoss,
		TakeProfit: intent.TakeProfit,
		OpenedAt:   now,
		Meta:       map[string]string{"source": "router_optimistic", "order_id": orderID},
	})

	return orderID, nil
}

// skipTally aggregates precondition failures for the tick summary.
type skipTally struct {
	order   []string
	reasons map[string]*state.SkipReason
}

func newSkipTally() *skipTally {
	return &skipTally{reasons: map[string]*state.SkipReason{}}
}

func (t *skipTally) add(reason, symbol, key string) {
	sr, ok := t.reasons[reason]
	if !ok {
		sr = &state.SkipReason{Reason: reason}
		t.reasons[reason] = sr
		t.order = append(t.order, reason)
	}
	sr.Count++
	if len(sr.Samples) < maxSkipSamples {
		sr.Samples = append(sr.Samples, fmt.Sprintf("%s %s", symbol, key))
	}
}

func (t *skipTally) summary(now time.Time) state.SkipSummary {
	sum := state.SkipSummary{TS: now}
	for _, reason := range t.order {
		sr := t.reasons[reason]
		sum.Skipped += sr.Count
		sum.Reasons = append(sum.Reasons, *sr)
	}
	sort.SliceStable(sum.Reasons, func(i, j int) bool { return sum.Reasons[i].Count > sum.Reasons[j].Count })
	return sum
}
