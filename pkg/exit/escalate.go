package exit

import (
	"context"

	"github.com/raykavin/stocknrun/pkg/core"
)

// escalationDiscounts are the progressively more aggressive sell limits,
// as fractions of the last price, indexed by attempt number.
var escalationDiscounts = []float64{0.998, 0.995, 0.990, 0.985}

// escalate cancels the stuck pending sells for the symbol and replaces
// them with a single more aggressive one. At most EscalateMaxAttempts
// replacements are made; the ordinary sell path never runs in the same
// tick as an escalation.
func (m *Monitor) escalate(ctx context.Context, symbol string, q core.Quote, qty int64) (Event, bool) {
	attempt := m.state.EscalationAttempts(symbol)
	if attempt >= m.cfg.EscalateMaxAttempts {
		m.log.Warnf("exit %s: escalation exhausted after %d attempts", symbol, attempt)
		return Event{}, false
	}

	for _, po := range m.state.PendingSells(symbol) {
		if err := m.broker.CancelOrder(ctx, po.OrderID); err != nil {
			// Cancel is idempotent and non-fatal; the tracker reconciles
			// whatever state the order ends up in.
			m.log.WithError(err).Warnf("exit %s: cancel %s failed", symbol, po.OrderID)
			continue
		}
		m.state.RemovePendingOrder(po.OrderID)
	}

	discount := escalationDiscounts[min(attempt, len(escalationDiscounts)-1)]
	limit := core.Round2(q.Last * discount)

	intent := core.OrderIntent{
		CreatedAt:  m.now().UTC(),
		Symbol:     symbol,
		Side:       core.SideTypeSell,
		Quantity:   qty,
		OrderType:  "LO",
		LimitPrice: limit,
		Remark:     "exit STOP_LOSS_ESCALATE",
		Source:     "exit_escalator",
	}

	orderID, ok := m.submitSell(ctx, intent, core.ExitReasonStopLossEscalate)
	if !ok {
		return Event{}, false
	}

	m.state.IncEscalation(symbol)
	m.log.Infof("exit %s: escalation %d at limit %.2f order=%s", symbol, attempt+1, limit, orderID)

	return Event{
		Symbol:    symbol,
		Reason:    core.ExitReasonStopLossEscalate,
		Last:      q.Last,
		OrderID:   orderID,
		Escalated: true,
	}, true
}
