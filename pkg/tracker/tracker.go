package tracker

import (
	"context"
	"sort"
	"time"

	"github.com/raykavin/stocknrun/internal/config"
	"github.com/raykavin/stocknrun/pkg/core"
	"github.com/raykavin/stocknrun/pkg/logger"
	"github.com/raykavin/stocknrun/pkg/state"
	"github.com/samber/lo"
)

// Tracker advances pending orders through their lifecycle by polling the
// broker, transitions open positions on fills, sets cooldowns on
// stop-outs, and reconciles local positions against the broker of
// record.
type Tracker struct {
	cfg    *config.Config
	state  *state.Store
	broker core.Broker
	log    logger.Logger
	now    func() time.Time
}

func New(cfg *config.Config, st *state.Store, brk core.Broker, log logger.Logger) *Tracker {
	return &Tracker{cfg: cfg, state: st, broker: brk, log: log, now: time.Now}
}

// Run advances every pending order once. Synthetic dry-run orders fill
// immediately at their limit price; real orders are patched from today's
// orders with a per-order detail fallback.
func (t *Tracker) Run(ctx context.Context) error {
	pending := t.state.PendingOrders()
	if len(pending) == 0 {
		return nil
	}

	ids := lo.Keys(pending)
	sort.Strings(ids)

	var real []core.PendingOrder
	for _, id := range ids {
		po := pending[id]
		if core.IsDryRunID(id) {
			t.fillDryRun(po)
			continue
		}
		real = append(real, po)
	}

	if len(real) == 0 {
		return nil
	}

	summaries := t.todaySummaries(ctx)
	for _, po := range real {
		t.advance(ctx, po, summaries)
	}
	return nil
}

// fillDryRun marks a synthetic order filled at its limit price and
// applies the position transition.
func (t *Tracker) fillDryRun(po core.PendingOrder) {
	t.log.Infof("tracker: dry-run fill %s %s qty=%d at %.2f", po.Side, po.Symbol, po.Quantity, po.LimitPrice)
	t.applyFill(po, po.Quantity, po.LimitPrice, "dryrun_fill")
	t.state.RemovePendingOrder(po.OrderID)
}

func (t *Tracker) todaySummaries(ctx context.Context) map[string]core.OrderSummary {
	orders, err := t.broker.TodayOrders(ctx)
	if err != nil {
		t.log.WithError(err).Warn("tracker: today orders unavailable")
		return map[string]core.OrderSummary{}
	}
	return lo.SliceToMap(orders, func(o core.OrderSummary) (string, core.OrderSummary) { return o.OrderID, o })
}

// advance patches one pending order from the broker view and applies the
// terminal transition when it completes.
func (t *Tracker) advance(ctx context.Context, po core.PendingOrder, summaries map[string]core.OrderSummary) {
	summary, ok := summaries[po.OrderID]
	if !ok {
		detail, err := t.broker.OrderDetail(ctx, po.OrderID)
		if err != nil {
			t.log.WithError(err).Warnf("tracker: order %s not found today and detail failed", po.OrderID)
			return
		}
		summary = detail
	}

	status := core.NormalizeStatus(summary.Status)

	po.FilledQty = summary.FilledQty
	if summary.AvgPrice > 0 {
		po.AvgPrice = summary.AvgPrice
	}
	po.UpdatedAt = t.now().UTC()

	switch {
	case core.IsFilledStatus(status):
		fillQty := po.Quantity
		// Partial fills adjust buys only; sells always close in full.
		if po.Side == core.SideTypeBuy && po.FilledQty > 0 {
			fillQty = po.FilledQty
		}
		fillPrice := po.AvgPrice
		if fillPrice <= 0 {
			fillPrice = po.LimitPrice
		}
		t.log.Infof("tracker: fill %s %s qty=%d at %.2f", po.Side, po.Symbol, fillQty, fillPrice)
		t.applyFill(po, fillQty, fillPrice, "broker_fill")
		t.state.RemovePendingOrder(po.OrderID)

	case core.IsCancelledStatus(status):
		t.log.Infof("tracker: order %s for %s ended %s", po.OrderID, po.Symbol, status)
		t.dropOptimisticPosition(po)
		t.state.RemovePendingOrder(po.OrderID)

	default:
		po.Status = core.OrderStatusTypePending
		t.state.UpdatePendingOrder(po)
	}
}

// applyFill performs the buy or sell position transition.
func (t *Tracker) applyFill(po core.PendingOrder, qty int64, price float64, source string) {
	if po.Side == core.SideTypeBuy {
		t.state.SetOpenPosition(core.OpenPosition{
			Symbol:     po.Symbol,
			Quantity:   qty,
			Entry:      price,
			StopLoss:   po.StopLoss,
			TakeProfit: po.TakeProfit,
			OpenedAt:   t.now().UTC(),
			Meta:       map[string]string{"source": source, "order_id": po.OrderID},
		})
		return
	}

	t.state.RemoveOpenPosition(po.Symbol)
	t.state.ClearEscalation(po.Symbol)

	if po.Reason == core.ExitReasonStopLoss || po.Reason == core.ExitReasonStopLossEscalate {
		until := t.now().UTC().Add(t.cfg.Cooldown)
		t.state.SetCooldown(po.Symbol, until, "stopout")
		t.log.Infof("tracker: stop-out %s, cooldown until %s", po.Symbol, until.Format(time.RFC3339))
	}
}

// dropOptimisticPosition removes the position entry the router added at
// submit time when the buy never filled.
func (t *Tracker) dropOptimisticPosition(po core.PendingOrder) {
	if po.Side != core.SideTypeBuy {
		return
	}
	pos, ok := t.state.OpenPosition(po.Symbol)
	if !ok {
		return
	}
	if pos.Meta["source"] == "router_optimistic" && pos.Meta["order_id"] == po.OrderID {
		t.state.RemoveOpenPosition(po.Symbol)
	}
}

// ReconcilePositions aligns local open positions with the broker: local
// entries the broker no longer holds are dropped, broker positions
// without a local record get a stub. A broker failure skips the stage;
// the tick continues.
func (t *Tracker) ReconcilePositions(ctx context.Context) error {
	brokerPositions, err := t.broker.StockPositions(ctx)
	if err != nil {
		t.log.WithError(err).Warn("tracker: position reconciliation skipped, broker unavailable")
		return nil
	}

	held := lo.SliceToMap(brokerPositions, func(p core.BrokerPosition) (string, core.BrokerPosition) {
		return p.Symbol, p
	})

	local := t.state.OpenPositions()
	for symbol := range local {
		if _, ok := held[symbol]; !ok {
			t.log.Warnf("tracker: %s held locally but not at broker, removing", symbol)
			t.state.RemoveOpenPosition(symbol)
		}
	}

	for symbol, bp := range held {
		if bp.Quantity == 0 {
			continue
		}
		if _, ok := local[symbol]; ok {
			continue
		}
		t.log.Warnf("tracker: %s held at broker but not locally, inserting stub", symbol)
		t.state.SetOpenPosition(core.OpenPosition{
			Symbol:   symbol,
			Quantity: bp.Quantity,
			OpenedAt: t.now().UTC(),
			Meta:     map[string]string{"source": "broker_reconcile"},
		})
	}

	return nil
}
