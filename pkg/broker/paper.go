package broker

import (
	"context"
	"errors"
	"fmt"

	"github.com/raykavin/stocknrun/pkg/core"
	"github.com/raykavin/stocknrun/pkg/logger"
)

// ErrOrderNotFound is returned by the paper broker for unknown order ids.
var ErrOrderNotFound = errors.New("order not found")

// PositionSource supplies the locally tracked open positions. The trading
// state store satisfies it.
type PositionSource interface {
	OpenPositions() map[string]core.OpenPosition
}

// Paper is the broker used under the paper trading environment. Orders
// are never sent anywhere: SubmitOrder returns a synthetic DRYRUN id that
// the tracker fills immediately at the limit price. Account equity is the
// configured paper equity and positions mirror local state.
type Paper struct {
	equity    float64
	positions PositionSource
	log       logger.Logger
}

func NewPaper(equity float64, positions PositionSource, log logger.Logger) *Paper {
	return &Paper{equity: equity, positions: positions, log: log}
}

// AccountBalance implements core.Broker.
func (p *Paper) AccountBalance(_ context.Context) (core.Account, error) {
	equity := p.equity
	return core.Account{Currency: "USD", AvailableCash: &equity}, nil
}

// StockPositions implements core.Broker by mirroring local state, so
// position reconciliation is a no-op under paper.
func (p *Paper) StockPositions(_ context.Context) ([]core.BrokerPosition, error) {
	local := p.positions.OpenPositions()
	out := make([]core.BrokerPosition, 0, len(local))
	for _, pos := range local {
		entry := pos.Entry
		out = append(out, core.BrokerPosition{
			Symbol:    pos.Symbol,
			Quantity:  pos.Quantity,
			CostPrice: &entry,
		})
	}
	return out, nil
}

// SubmitOrder implements core.Broker with a synthetic order id.
func (p *Paper) SubmitOrder(_ context.Context, intent core.OrderIntent) (string, error) {
	id := intent.DryRunID()
	p.log.Infof("paper submit %s %s qty=%d limit=%.2f -> %s",
		intent.Side, intent.Symbol, intent.Quantity, intent.LimitPrice, id)
	return id, nil
}

// CancelOrder implements core.Broker; cancelling a synthetic order is a
// no-op.
func (p *Paper) CancelOrder(_ context.Context, orderID string) error {
	p.log.Debugf("paper cancel %s", orderID)
	return nil
}

// TodayOrders implements core.Broker. Synthetic orders never appear in a
// listing; the tracker resolves them by id prefix.
func (p *Paper) TodayOrders(_ context.Context) ([]core.OrderSummary, error) {
	return nil, nil
}

// OrderDetail implements core.Broker.
func (p *Paper) OrderDetail(_ context.Context, orderID string) (core.OrderSummary, error) {
	if core.IsDryRunID(orderID) {
		return core.OrderSummary{OrderID: orderID, Status: string(core.OrderStatusTypeFilled)}, nil
	}
	return core.OrderSummary{}, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
}
