package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeStatus(t *testing.T) {
	assert.Equal(t, "FILLED", NormalizeStatus(" filled "))
	assert.Equal(t, "CANCELED", NormalizeStatus("Canceled"))
}

func TestStatusClassification(t *testing.T) {
	for _, s := range []string{"FILLED", "done", "Success", "FILLED_ALL"} {
		assert.True(t, IsFilledStatus(s), s)
		assert.True(t, IsTerminalStatus(s), s)
	}
	for _, s := range []string{"CANCELED", "CANCELLED", "rejected", "FAILED", "Expired"} {
		assert.True(t, IsCancelledStatus(s), s)
		assert.False(t, IsFilledStatus(s), s)
	}
	assert.False(t, IsTerminalStatus("PENDING"))
	assert.False(t, IsTerminalStatus("PARTIAL_FILLED"))
}

func TestOrderIntent_DryRunID(t *testing.T) {
	intent := OrderIntent{
		CreatedAt: time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC),
		Symbol:    "AAPL.US",
		Side:      SideTypeBuy,
	}

	id := intent.DryRunID()
	require.Equal(t, "DRYRUN-AAPL.US-Buy-2026-03-02T14:30:00", id)
	assert.True(t, IsDryRunID(id))
	assert.False(t, IsDryRunID("ORD123"))
}

func TestOrderIntent_GetNotional(t *testing.T) {
	intent := OrderIntent{Quantity: 7, LimitPrice: 50.12}
	assert.InDelta(t, 350.84, intent.GetNotional(), 1e-9)
}

func TestCooldown_Active(t *testing.T) {
	now := time.Now()
	assert.True(t, Cooldown{Until: now.Add(time.Hour)}.Active(now))
	assert.False(t, Cooldown{Until: now.Add(-time.Minute)}.Active(now))
}

func TestQuote_MarketableLimits(t *testing.T) {
	q := Quote{Last: 100, Bid: 99.95, Ask: 100.05}
	assert.Equal(t, 100.05, q.MarketableBuyLimit())
	assert.Equal(t, 99.95, q.MarketableSellLimit())

	// Without book prices the last price is padded.
	q = Quote{Last: 100}
	assert.Equal(t, 100.20, q.MarketableBuyLimit())
	assert.Equal(t, 99.80, q.MarketableSellLimit())
}

func TestCandidate_IsStrongAndKey(t *testing.T) {
	c := Candidate{
		Symbol:   "NVDA",
		BarTime:  time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC),
		Score:    84,
		ExecMode: ExecModeMR,
	}
	assert.False(t, c.IsStrong())

	c.Score = 85
	assert.True(t, c.IsStrong())

	c.Score = 40
	c.ExecMode = ExecModeStruct
	assert.True(t, c.IsStrong())

	assert.Equal(t, "NVDA|STRUCT|2026-03-02T15:00:00", c.Key())
}

func TestInterval_Valid(t *testing.T) {
	assert.True(t, Interval1h.Valid())
	assert.True(t, Interval1d.Valid())
	assert.False(t, Interval("5m").Valid())
}

func TestBar_StripZone(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	b := Bar{Time: time.Date(2026, 3, 2, 9, 30, 0, 0, ny)}
	stripped := b.StripZone()
	assert.Equal(t, time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC), stripped.Time)
}
