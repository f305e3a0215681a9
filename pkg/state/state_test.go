package state

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/raykavin/stocknrun/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Load(filepath.Join(t.TempDir(), "trading_state.json"))
	require.NoError(t, err)
	return s
}

func TestLoad_MissingFileStartsEmpty(t *testing.T) {
	s := newTestStore(t)
	assert.Empty(t, s.OpenPositions())
	assert.Empty(t, s.PendingOrders())
	assert.Zero(t, s.NoSignalStreak())
}

func TestSaveAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trading_state.json")
	s, err := Load(path)
	require.NoError(t, err)

	s.MarkExecuted("NVDA|MR|2026-03-02T15:00:00", map[string]string{"order_id": "ORD1"})
	s.IncBuysToday("2026-03-02")
	s.SetOpenPosition(core.OpenPosition{Symbol: "NVDA.US", Quantity: 7, Entry: 50.12})
	s.AddPendingOrder(core.PendingOrder{
		OrderIntent: core.OrderIntent{Symbol: "NVDA.US", Side: core.SideTypeBuy, Quantity: 7},
		OrderID:     "ORD1",
		Status:      core.OrderStatusTypePending,
	})
	s.IncNoSignalStreak()
	s.IncEscalation("NVDA.US")
	require.NoError(t, s.Save())

	reloaded, err := Load(path)
	require.NoError(t, err)
	assert.True(t, reloaded.IsExecuted("NVDA|MR|2026-03-02T15:00:00"))
	assert.Equal(t, 1, reloaded.BuysToday("2026-03-02"))
	assert.Equal(t, 1, reloaded.NoSignalStreak())
	assert.Equal(t, 1, reloaded.EscalationAttempts("NVDA.US"))

	pos, ok := reloaded.OpenPosition("NVDA.US")
	require.True(t, ok)
	assert.Equal(t, int64(7), pos.Quantity)

	po, ok := reloaded.PendingBuy("NVDA.US")
	require.True(t, ok)
	assert.Equal(t, "ORD1", po.OrderID)
}

func TestSave_UpdatedAtMonotonic(t *testing.T) {
	s := newTestStore(t)

	fixed := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }
	require.NoError(t, s.Save())
	assert.Equal(t, fixed, s.UpdatedAt())

	// A clock running backwards never rewinds updated_at.
	s.now = func() time.Time { return fixed.Add(-time.Hour) }
	require.NoError(t, s.Save())
	assert.Equal(t, fixed, s.UpdatedAt())
}

func TestSave_CorruptFileRejectedOnLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trading_state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestActiveCooldown_LazyExpiry(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UTC()

	s.SetCooldown("NVDA.US", now.Add(time.Hour), "stopout")
	cd := s.ActiveCooldown("NVDA.US", now)
	require.NotNil(t, cd)
	assert.Equal(t, "stopout", cd.Reason)

	// Past the deadline the entry clears itself.
	assert.Nil(t, s.ActiveCooldown("NVDA.US", now.Add(2*time.Hour)))
	assert.Nil(t, s.ActiveCooldown("NVDA.US", now))
}

func TestPendingBuyAndSells(t *testing.T) {
	s := newTestStore(t)

	s.AddPendingOrder(core.PendingOrder{
		OrderIntent: core.OrderIntent{Symbol: "NVDA.US", Side: core.SideTypeBuy},
		OrderID:     "B1",
	})
	s.AddPendingOrder(core.PendingOrder{
		OrderIntent: core.OrderIntent{Symbol: "NVDA.US", Side: core.SideTypeSell},
		OrderID:     "S1",
	})

	_, ok := s.PendingBuy("NVDA.US")
	assert.True(t, ok)
	assert.Len(t, s.PendingSells("NVDA.US"), 1)
	assert.Empty(t, s.PendingSells("AAPL.US"))

	s.RemovePendingOrder("B1")
	_, ok = s.PendingBuy("NVDA.US")
	assert.False(t, ok)
}

func TestUpdatePendingOrder_IgnoresUnknown(t *testing.T) {
	s := newTestStore(t)
	s.UpdatePendingOrder(core.PendingOrder{OrderID: "ghost"})
	assert.Empty(t, s.PendingOrders())
}

func TestNoSignalStreak(t *testing.T) {
	s := newTestStore(t)
	s.IncNoSignalStreak()
	s.IncNoSignalStreak()
	assert.Equal(t, 2, s.NoSignalStreak())
	s.ResetNoSignalStreak()
	assert.Zero(t, s.NoSignalStreak())
}

func TestPushedSignals_RotateByDay(t *testing.T) {
	s := newTestStore(t)

	s.MarkPushed("NVDA|MR|a", "2026-03-02")
	assert.True(t, s.WasPushed("NVDA|MR|a", "2026-03-02"))
	assert.False(t, s.WasPushed("NVDA|MR|a", "2026-03-03"))

	// A new day drops the previous day's keys.
	s.MarkPushed("AAPL|MR|b", "2026-03-03")
	assert.False(t, s.WasPushed("NVDA|MR|a", "2026-03-02"))
	assert.True(t, s.WasPushed("AAPL|MR|b", "2026-03-03"))
}
