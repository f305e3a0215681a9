package strength

import (
	"context"
	"testing"
	"time"

	"github.com/raykavin/stocknrun/pkg/core"
	"github.com/raykavin/stocknrun/pkg/logger"
	"github.com/raykavin/stocknrun/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeUpstream struct {
	series map[string][]core.Bar
}

func (f *fakeUpstream) BarsByPeriod(_ context.Context, symbol string, _ core.Interval, _, _ time.Time) ([]core.Bar, error) {
	return f.series[symbol], nil
}

func seriesOf(closes []float64) []core.Bar {
	start := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)
	bars := make([]core.Bar, len(closes))
	for i, c := range closes {
		bars[i] = core.Bar{Time: start.AddDate(0, 0, i), Close: c}
	}
	return bars
}

func constantCloses(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func seededStore(t *testing.T, series map[string][]core.Bar) *store.BarStore {
	t.Helper()
	s, err := store.FromMemory(&fakeUpstream{series: series}, logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	for symbol := range series {
		require.NoError(t, s.Sync(ctx, symbol, core.Interval1d, 400))
	}
	return s
}

func TestRS1Y(t *testing.T) {
	symCloses := constantCloses(262, 100)
	symCloses[261] = 110 // +10% over the trading year

	s := seededStore(t, map[string][]core.Bar{
		"NVDA": seriesOf(symCloses),
		"SPY":  seriesOf(constantCloses(262, 200)), // flat benchmark
	})

	engine := NewEngine(s, "SPY", logger.Nop())
	assert.Equal(t, 10.0, engine.RS1Y(context.Background(), "NVDA"))
}

func TestRS1Y_Underperformer(t *testing.T) {
	symCloses := constantCloses(262, 100)
	symCloses[261] = 95

	benchCloses := constantCloses(262, 200)
	benchCloses[261] = 220 // benchmark +10%

	s := seededStore(t, map[string][]core.Bar{
		"XYZ": seriesOf(symCloses),
		"SPY": seriesOf(benchCloses),
	})

	engine := NewEngine(s, "SPY", logger.Nop())
	assert.Equal(t, -15.0, engine.RS1Y(context.Background(), "XYZ"))
}

func TestRS1Y_UnknownWhenHistoryShort(t *testing.T) {
	s := seededStore(t, map[string][]core.Bar{
		"NVDA": seriesOf(constantCloses(200, 100)),
		"SPY":  seriesOf(constantCloses(262, 200)),
	})

	engine := NewEngine(s, "SPY", logger.Nop())
	assert.Equal(t, float64(Unknown), engine.RS1Y(context.Background(), "NVDA"))
}

func TestRS1Y_UnknownWhenMisaligned(t *testing.T) {
	// Symbol and benchmark trade on disjoint dates.
	symBars := seriesOf(constantCloses(262, 100))
	for i := range symBars {
		symBars[i].Time = symBars[i].Time.Add(12 * time.Hour)
	}

	s := seededStore(t, map[string][]core.Bar{
		"NVDA": symBars,
		"SPY":  seriesOf(constantCloses(262, 200)),
	})

	engine := NewEngine(s, "SPY", logger.Nop())
	assert.Equal(t, float64(Unknown), engine.RS1Y(context.Background(), "NVDA"))
}
