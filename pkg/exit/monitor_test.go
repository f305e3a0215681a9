package exit

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/raykavin/stocknrun/internal/config"
	"github.com/raykavin/stocknrun/pkg/core"
	"github.com/raykavin/stocknrun/pkg/ledger"
	"github.com/raykavin/stocknrun/pkg/logger"
	"github.com/raykavin/stocknrun/pkg/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeQuotes struct {
	quotes map[string]core.Quote
	err    error
}

func (f *fakeQuotes) Quotes(_ context.Context, symbols []string) ([]core.Quote, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []core.Quote
	for _, s := range symbols {
		if q, ok := f.quotes[s]; ok {
			out = append(out, q)
		}
	}
	return out, nil
}

type fakeBroker struct {
	positions    []core.BrokerPosition
	positionsErr error
	submitErr    error
	submitted    []core.OrderIntent
	cancelled    []string
	cancelErr    error
	nextID       string
}

func (f *fakeBroker) AccountBalance(context.Context) (core.Account, error) {
	return core.Account{}, nil
}
func (f *fakeBroker) StockPositions(context.Context) ([]core.BrokerPosition, error) {
	return f.positions, f.positionsErr
}
func (f *fakeBroker) SubmitOrder(_ context.Context, intent core.OrderIntent) (string, error) {
	if f.submitErr != nil {
		return "", f.submitErr
	}
	f.submitted = append(f.submitted, intent)
	return f.nextID, nil
}
func (f *fakeBroker) CancelOrder(_ context.Context, id string) error {
	if f.cancelErr != nil {
		return f.cancelErr
	}
	f.cancelled = append(f.cancelled, id)
	return nil
}
func (f *fakeBroker) TodayOrders(context.Context) ([]core.OrderSummary, error) {
	return nil, nil
}
func (f *fakeBroker) OrderDetail(context.Context, string) (core.OrderSummary, error) {
	return core.OrderSummary{}, nil
}

func newTestMonitor(t *testing.T, quotes *fakeQuotes, brk *fakeBroker) (*Monitor, *state.Store) {
	t.Helper()

	st, err := state.Load(filepath.Join(t.TempDir(), "trading_state.json"))
	require.NoError(t, err)

	led, err := ledger.FromFile(filepath.Join(t.TempDir(), "orders.ndjson"))
	require.NoError(t, err)

	cfg := &config.Config{
		Env:                 config.EnvPaper,
		EscalateMaxAttempts: 3,
	}
	m := NewMonitor(cfg, st, led, brk, quotes, logger.Nop())
	m.now = func() time.Time { return time.Date(2026, 3, 2, 15, 30, 0, 0, time.UTC) }
	return m, st
}

func openNVDA(st *state.Store) {
	st.SetOpenPosition(core.OpenPosition{
		Symbol:     "NVDA.US",
		Quantity:   7,
		Entry:      50.12,
		StopLoss:   46.12,
		TakeProfit: 56.50,
		OpenedAt:   time.Date(2026, 3, 2, 15, 5, 0, 0, time.UTC),
	})
}

func TestMonitor_NoPositionsNoWork(t *testing.T) {
	quotes := &fakeQuotes{}
	m, _ := newTestMonitor(t, quotes, &fakeBroker{})

	events, err := m.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestMonitor_StopLossSellsAtMarketableLimit(t *testing.T) {
	quotes := &fakeQuotes{quotes: map[string]core.Quote{
		"NVDA.US": {Symbol: "NVDA.US", Last: 45.50},
	}}
	brk := &fakeBroker{positions: []core.BrokerPosition{{Symbol: "NVDA.US", Quantity: 7}}}
	m, st := newTestMonitor(t, quotes, brk)
	openNVDA(st)

	events, err := m.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, events, 1)

	ev := events[0]
	assert.Equal(t, core.ExitReasonStopLoss, ev.Reason)
	assert.Equal(t, 45.50, ev.Last)
	assert.False(t, ev.Escalated)

	// Paper mode: the sell is tracked as pending under a synthetic id.
	pending := st.PendingSells("NVDA.US")
	require.Len(t, pending, 1)
	assert.Equal(t, int64(7), pending[0].Quantity)
	// Marketable limit with no bid is last padded down: 45.50*0.998.
	assert.Equal(t, 45.41, pending[0].LimitPrice)
	assert.True(t, core.IsDryRunID(pending[0].OrderID))
}

func TestMonitor_TakeProfit(t *testing.T) {
	quotes := &fakeQuotes{quotes: map[string]core.Quote{
		"NVDA.US": {Symbol: "NVDA.US", Last: 56.80, Bid: 56.75},
	}}
	brk := &fakeBroker{positions: []core.BrokerPosition{{Symbol: "NVDA.US", Quantity: 7}}}
	m, st := newTestMonitor(t, quotes, brk)
	openNVDA(st)

	events, err := m.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, core.ExitReasonTakeProfit, events[0].Reason)

	pending := st.PendingSells("NVDA.US")
	require.Len(t, pending, 1)
	assert.Equal(t, 56.75, pending[0].LimitPrice)
}

func TestMonitor_InsideBandNoExit(t *testing.T) {
	quotes := &fakeQuotes{quotes: map[string]core.Quote{
		"NVDA.US": {Symbol: "NVDA.US", Last: 51.00},
	}}
	brk := &fakeBroker{positions: []core.BrokerPosition{{Symbol: "NVDA.US", Quantity: 7}}}
	m, st := newTestMonitor(t, quotes, brk)
	openNVDA(st)

	events, err := m.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.Empty(t, st.PendingSells("NVDA.US"))
}

func TestMonitor_BrokerHoldsNothingSkips(t *testing.T) {
	quotes := &fakeQuotes{quotes: map[string]core.Quote{
		"NVDA.US": {Symbol: "NVDA.US", Last: 45.50},
	}}
	// Broker answers but holds zero shares of the symbol.
	brk := &fakeBroker{positions: []core.BrokerPosition{{Symbol: "AAPL.US", Quantity: 3}}}
	m, st := newTestMonitor(t, quotes, brk)
	openNVDA(st)

	events, err := m.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.Empty(t, st.PendingSells("NVDA.US"))
}

func TestMonitor_BrokerPositionsDownFallsBackToLocalQty(t *testing.T) {
	quotes := &fakeQuotes{quotes: map[string]core.Quote{
		"NVDA.US": {Symbol: "NVDA.US", Last: 45.50},
	}}
	brk := &fakeBroker{positionsErr: errors.New("positions endpoint down")}
	m, st := newTestMonitor(t, quotes, brk)
	openNVDA(st)

	events, err := m.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, events, 1)

	pending := st.PendingSells("NVDA.US")
	require.Len(t, pending, 1)
	assert.Equal(t, int64(7), pending[0].Quantity)
}

func TestMonitor_QuoteFailureLeavesPositionsUntouched(t *testing.T) {
	quotes := &fakeQuotes{err: errors.New("quote service down")}
	m, st := newTestMonitor(t, quotes, &fakeBroker{})
	openNVDA(st)

	events, err := m.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, events)
	_, ok := st.OpenPosition("NVDA.US")
	assert.True(t, ok)
}

func TestMonitor_EscalatesStuckStopLoss(t *testing.T) {
	quotes := &fakeQuotes{quotes: map[string]core.Quote{
		"NVDA.US": {Symbol: "NVDA.US", Last: 45.50, Bid: 45.48},
	}}
	brk := &fakeBroker{positions: []core.BrokerPosition{{Symbol: "NVDA.US", Quantity: 7}}}
	m, st := newTestMonitor(t, quotes, brk)
	openNVDA(st)

	// The previous tick already parked a sell that did not fill.
	st.AddPendingOrder(core.PendingOrder{
		OrderIntent: core.OrderIntent{Symbol: "NVDA.US", Side: core.SideTypeSell, Quantity: 7, LimitPrice: 45.48},
		OrderID:     "S1",
		Reason:      core.ExitReasonStopLoss,
	})

	events, err := m.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, events, 1)

	ev := events[0]
	assert.Equal(t, core.ExitReasonStopLossEscalate, ev.Reason)
	assert.True(t, ev.Escalated)

	assert.Equal(t, []string{"S1"}, brk.cancelled)
	assert.Equal(t, 1, st.EscalationAttempts("NVDA.US"))

	pending := st.PendingSells("NVDA.US")
	require.Len(t, pending, 1)
	// First escalation re-prices at last*0.998.
	assert.Equal(t, 45.41, pending[0].LimitPrice)
	assert.Equal(t, core.ExitReasonStopLossEscalate, pending[0].Reason)
}

func TestMonitor_EscalationDeepensPerAttempt(t *testing.T) {
	quotes := &fakeQuotes{quotes: map[string]core.Quote{
		"NVDA.US": {Symbol: "NVDA.US", Last: 45.50},
	}}
	brk := &fakeBroker{positions: []core.BrokerPosition{{Symbol: "NVDA.US", Quantity: 7}}}
	m, st := newTestMonitor(t, quotes, brk)
	openNVDA(st)

	st.AddPendingOrder(core.PendingOrder{
		OrderIntent: core.OrderIntent{Symbol: "NVDA.US", Side: core.SideTypeSell, Quantity: 7},
		OrderID:     "S1",
		Reason:      core.ExitReasonStopLoss,
	})
	st.IncEscalation("NVDA.US")
	st.IncEscalation("NVDA.US")

	events, err := m.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, events, 1)

	pending := st.PendingSells("NVDA.US")
	require.Len(t, pending, 1)
	// Third attempt uses the 0.990 discount: 45.50*0.990.
	assert.Equal(t, 45.05, pending[0].LimitPrice)
	assert.Equal(t, 3, st.EscalationAttempts("NVDA.US"))
}

func TestMonitor_EscalationExhausted(t *testing.T) {
	quotes := &fakeQuotes{quotes: map[string]core.Quote{
		"NVDA.US": {Symbol: "NVDA.US", Last: 45.50},
	}}
	brk := &fakeBroker{positions: []core.BrokerPosition{{Symbol: "NVDA.US", Quantity: 7}}}
	m, st := newTestMonitor(t, quotes, brk)
	openNVDA(st)

	st.AddPendingOrder(core.PendingOrder{
		OrderIntent: core.OrderIntent{Symbol: "NVDA.US", Side: core.SideTypeSell, Quantity: 7},
		OrderID:     "S1",
		Reason:      core.ExitReasonStopLoss,
	})
	for i := 0; i < 3; i++ {
		st.IncEscalation("NVDA.US")
	}

	events, err := m.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, events)
	// The stuck sell stays; nothing was cancelled or replaced.
	assert.Empty(t, brk.cancelled)
	require.Len(t, st.PendingSells("NVDA.US"), 1)
	assert.Equal(t, "S1", st.PendingSells("NVDA.US")[0].OrderID)
}

func TestMonitor_CancelFailureKeepsOldOrder(t *testing.T) {
	quotes := &fakeQuotes{quotes: map[string]core.Quote{
		"NVDA.US": {Symbol: "NVDA.US", Last: 45.50},
	}}
	brk := &fakeBroker{
		positions: []core.BrokerPosition{{Symbol: "NVDA.US", Quantity: 7}},
		cancelErr: errors.New("cancel rejected"),
	}
	m, st := newTestMonitor(t, quotes, brk)
	openNVDA(st)

	st.AddPendingOrder(core.PendingOrder{
		OrderIntent: core.OrderIntent{Symbol: "NVDA.US", Side: core.SideTypeSell, Quantity: 7},
		OrderID:     "S1",
		Reason:      core.ExitReasonStopLoss,
	})

	events, err := m.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, events, 1)

	// The old order survives the failed cancel alongside the replacement;
	// the tracker sorts out whichever fills first.
	ids := make([]string, 0, 2)
	for _, po := range st.PendingSells("NVDA.US") {
		ids = append(ids, po.OrderID)
	}
	assert.Contains(t, ids, "S1")
	assert.Len(t, ids, 2)
}
