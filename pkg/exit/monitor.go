package exit

import (
	"context"
	"sort"
	"time"

	"github.com/raykavin/stocknrun/internal/config"
	"github.com/raykavin/stocknrun/pkg/core"
	"github.com/raykavin/stocknrun/pkg/ledger"
	"github.com/raykavin/stocknrun/pkg/logger"
	"github.com/raykavin/stocknrun/pkg/state"
	"github.com/samber/lo"
)

// Event is one exit decision taken by the monitor.
type Event struct {
	Symbol    string
	Reason    string // STOP_LOSS, TAKE_PROFIT or STOP_LOSS_ESCALATE
	Last      float64
	OrderID   string
	Escalated bool
}

// Monitor walks open positions, emits stop-loss and take-profit exits,
// and escalates stop-loss sells that refuse to fill.
type Monitor struct {
	cfg    *config.Config
	state  *state.Store
	ledger ledger.Ledger
	broker core.Broker
	quotes core.QuoteClient
	log    logger.Logger
	now    func() time.Time
}

func NewMonitor(cfg *config.Config, st *state.Store, led ledger.Ledger, brk core.Broker, q core.QuoteClient, log logger.Logger) *Monitor {
	return &Monitor{
		cfg:    cfg,
		state:  st,
		ledger: led,
		broker: brk,
		quotes: q,
		log:    log,
		now:    time.Now,
	}
}

// Run checks every open position against its latest quote. Symbols are
// visited in sorted order so a tick replay is deterministic.
func (m *Monitor) Run(ctx context.Context) ([]Event, error) {
	positions := m.state.OpenPositions()
	if len(positions) == 0 {
		return nil, nil
	}

	symbols := lo.Keys(positions)
	sort.Strings(symbols)

	quotes, err := m.quotes.Quotes(ctx, symbols)
	if err != nil {
		m.log.WithError(err).Warn("exit: quote pull failed, positions unchecked this tick")
		return nil, nil
	}
	quoteBySymbol := lo.SliceToMap(quotes, func(q core.Quote) (string, core.Quote) { return q.Symbol, q })

	brokerQty := m.brokerQuantities(ctx, positions)

	var events []Event
	for _, symbol := range symbols {
		pos := positions[symbol]
		q, ok := quoteBySymbol[symbol]
		if !ok || q.Last <= 0 {
			m.log.Warnf("exit %s: no quote", symbol)
			continue
		}

		reason := ""
		switch {
		case pos.StopLoss > 0 && q.Last <= pos.StopLoss:
			reason = core.ExitReasonStopLoss
		case pos.TakeProfit > 0 && q.Last >= pos.TakeProfit:
			reason = core.ExitReasonTakeProfit
		default:
			continue
		}

		qty := brokerQty[symbol]
		if qty == 0 {
			m.log.Warnf("exit %s: broker reports no shares, skipping (stale local state?)", symbol)
			continue
		}

		if ev, ok := m.handle(ctx, symbol, reason, q, qty); ok {
			events = append(events, ev)
		}
	}

	return events, nil
}

// brokerQuantities returns the broker-reported share count per position
// symbol. When the position fetch fails the stage degrades to local
// quantities and the tick continues.
func (m *Monitor) brokerQuantities(ctx context.Context, positions map[string]core.OpenPosition) map[string]int64 {
	out := make(map[string]int64, len(positions))

	brokerPositions, err := m.broker.StockPositions(ctx)
	if err != nil {
		m.log.WithError(err).Warn("exit: broker positions unavailable, using local quantities")
		for s, p := range positions {
			out[s] = p.Quantity
		}
		return out
	}

	for _, bp := range brokerPositions {
		out[bp.Symbol] = bp.Quantity
	}
	return out
}

func (m *Monitor) handle(ctx context.Context, symbol, reason string, q core.Quote, qty int64) (Event, bool) {
	// A stop-loss with a sell already pending means the exit is stuck:
	// escalate instead of stacking another ordinary sell.
	if reason == core.ExitReasonStopLoss && len(m.state.PendingSells(symbol)) > 0 {
		return m.escalate(ctx, symbol, q, qty)
	}

	intent := core.OrderIntent{
		CreatedAt:  m.now().UTC(),
		Symbol:     symbol,
		Side:       core.SideTypeSell,
		Quantity:   qty,
		OrderType:  "LO",
		LimitPrice: q.MarketableSellLimit(),
		Remark:     "exit " + reason,
		Source:     "exit_monitor",
	}

	orderID, ok := m.submitSell(ctx, intent, reason)
	if !ok {
		return Event{}, false
	}

	m.log.Infof("exit %s: %s at limit %.2f order=%s", symbol, reason, intent.LimitPrice, orderID)
	return Event{Symbol: symbol, Reason: reason, Last: q.Last, OrderID: orderID}, true
}

// submitSell appends the sell to the ledger, submits it (or produces a
// dry-run id) and records it as pending.
func (m *Monitor) submitSell(ctx context.Context, intent core.OrderIntent, reason string) (string, bool) {
	if err := m.ledger.Append(ledger.Record{
		OrderIntent: intent,
		Status:      string(core.OrderStatusTypePending),
		UpdatedAt:   intent.CreatedAt,
	}); err != nil {
		m.log.WithError(err).Warn("exit: ledger append failed")
	}

	var orderID string
	if m.cfg.IsLive() {
		id, err := m.broker.SubmitOrder(ctx, intent)
		if err != nil {
			m.log.WithError(err).Errorf("exit %s: sell submit failed", intent.Symbol)
			return "", false
		}
		orderID = id
	} else {
		orderID = intent.DryRunID()
	}

	m.state.AddPendingOrder(core.PendingOrder{
		OrderIntent: intent,
		OrderID:     orderID,
		Status:      core.OrderStatusTypePending,
		UpdatedAt:   intent.CreatedAt,
		Reason:      reason,
	})
	return orderID, true
}
