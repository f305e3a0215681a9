package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/raykavin/stocknrun/pkg/core"
	"github.com/raykavin/stocknrun/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeUpstream struct {
	bars   []core.Bar
	err    error
	hits   int
	starts []time.Time
}

func (f *fakeUpstream) BarsByPeriod(_ context.Context, symbol string, _ core.Interval, start, _ time.Time) ([]core.Bar, error) {
	f.hits++
	f.starts = append(f.starts, start)
	if f.err != nil {
		return nil, f.err
	}
	out := make([]core.Bar, len(f.bars))
	copy(out, f.bars)
	for i := range out {
		out[i].Symbol = symbol
	}
	return out, nil
}

func dailyBars(n int, start time.Time) []core.Bar {
	bars := make([]core.Bar, n)
	for i := range bars {
		bars[i] = core.Bar{
			Time: start.AddDate(0, 0, i),
			Open: 100, High: 101, Low: 99,
			Close:  100 + float64(i),
			Volume: 1000,
		}
	}
	return bars
}

func TestSyncAndLoadLocal(t *testing.T) {
	start := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	upstream := &fakeUpstream{bars: dailyBars(5, start)}

	s, err := FromMemory(upstream, logger.Nop())
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.Sync(ctx, "NVDA", core.Interval1d, 30))

	bars, err := s.LoadLocal(ctx, "NVDA", core.Interval1d)
	require.NoError(t, err)
	require.Len(t, bars, 5)
	assert.Equal(t, "NVDA", bars[0].Symbol)
	assert.Equal(t, start, bars[0].Time)
	// Ascending by timestamp.
	assert.True(t, bars[0].Time.Before(bars[4].Time))
}

func TestSync_Idempotent(t *testing.T) {
	start := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	upstream := &fakeUpstream{bars: dailyBars(5, start)}

	s, err := FromMemory(upstream, logger.Nop())
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.Sync(ctx, "NVDA", core.Interval1d, 30))
	require.NoError(t, s.Sync(ctx, "NVDA", core.Interval1d, 30))

	bars, err := s.LoadLocal(ctx, "NVDA", core.Interval1d)
	require.NoError(t, err)
	// Overlapping batches overwrite by key, never duplicate.
	assert.Len(t, bars, 5)
}

func TestSync_EmptyBatchKeepsLocal(t *testing.T) {
	start := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	upstream := &fakeUpstream{bars: dailyBars(5, start)}

	s, err := FromMemory(upstream, logger.Nop())
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.Sync(ctx, "NVDA", core.Interval1d, 30))

	upstream.bars = nil
	require.NoError(t, s.Sync(ctx, "NVDA", core.Interval1d, 30))

	bars, err := s.LoadLocal(ctx, "NVDA", core.Interval1d)
	require.NoError(t, err)
	assert.Len(t, bars, 5)
}

func TestSync_InvalidInterval(t *testing.T) {
	s, err := FromMemory(&fakeUpstream{}, logger.Nop())
	require.NoError(t, err)
	defer s.Close()

	err = s.Sync(context.Background(), "NVDA", core.Interval("5m"), 30)
	assert.ErrorIs(t, err, ErrInvalidInterval)

	_, err = s.LoadLocal(context.Background(), "NVDA", core.Interval("5m"))
	assert.ErrorIs(t, err, ErrInvalidInterval)
}

func TestSync_NoUpstream(t *testing.T) {
	s, err := FromMemory(nil, logger.Nop())
	require.NoError(t, err)
	defer s.Close()

	err = s.Sync(context.Background(), "NVDA", core.Interval1d, 30)
	assert.ErrorIs(t, err, ErrNoUpstream)
}

func TestSyncAndLoad_ServesLocalOnUpstreamFailure(t *testing.T) {
	start := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	upstream := &fakeUpstream{bars: dailyBars(5, start)}

	s, err := FromMemory(upstream, logger.Nop())
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.Sync(ctx, "NVDA", core.Interval1d, 30))

	upstream.err = errors.New("upstream down")
	bars, err := s.SyncAndLoad(ctx, "NVDA", core.Interval1d, 30, 5, 420)
	require.NoError(t, err)
	assert.Len(t, bars, 5)
}

func TestSyncAndLoad_FailsWithoutLocalFallback(t *testing.T) {
	upstream := &fakeUpstream{err: errors.New("upstream down")}

	s, err := FromMemory(upstream, logger.Nop())
	require.NoError(t, err)
	defer s.Close()

	_, err = s.SyncAndLoad(context.Background(), "NVDA", core.Interval1d, 30, 5, 420)
	assert.Error(t, err)
}

func TestSyncAndLoad_WidensLookbackOnGap(t *testing.T) {
	// Local series last updated ten days ago with a five day gap
	// threshold: the 30 day lookback widens by the gap.
	stale := time.Now().UTC().AddDate(0, 0, -12)
	upstream := &fakeUpstream{bars: dailyBars(3, stale)}

	s, err := FromMemory(upstream, logger.Nop())
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.Sync(ctx, "NVDA", core.Interval1d, 30))

	upstream.starts = nil
	_, err = s.SyncAndLoad(ctx, "NVDA", core.Interval1d, 30, 5, 420)
	require.NoError(t, err)
	require.Len(t, upstream.starts, 1)
	assert.WithinDuration(t, time.Now().UTC().AddDate(0, 0, -40), upstream.starts[0], time.Hour)

	// The widened lookback never exceeds the cap.
	upstream.starts = nil
	_, err = s.SyncAndLoad(ctx, "NVDA", core.Interval1d, 30, 5, 35)
	require.NoError(t, err)
	require.Len(t, upstream.starts, 1)
	assert.WithinDuration(t, time.Now().UTC().AddDate(0, 0, -35), upstream.starts[0], time.Hour)
}

func TestSyncAndLoad_FreshLocalKeepsLookback(t *testing.T) {
	upstream := &fakeUpstream{bars: dailyBars(3, time.Now().UTC().AddDate(0, 0, -2))}

	s, err := FromMemory(upstream, logger.Nop())
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.Sync(ctx, "NVDA", core.Interval1d, 30))

	upstream.starts = nil
	_, err = s.SyncAndLoad(ctx, "NVDA", core.Interval1d, 30, 5, 420)
	require.NoError(t, err)
	require.Len(t, upstream.starts, 1)
	assert.WithinDuration(t, time.Now().UTC().AddDate(0, 0, -30), upstream.starts[0], time.Hour)
}

func TestSync_StripsTimezone(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	upstream := &fakeUpstream{bars: []core.Bar{{
		Time:  time.Date(2026, 1, 5, 9, 30, 0, 0, ny),
		Close: 100,
	}}}

	s, err := FromMemory(upstream, logger.Nop())
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.Sync(ctx, "NVDA", core.Interval1h, 10))

	bars, err := s.LoadLocal(ctx, "NVDA", core.Interval1h)
	require.NoError(t, err)
	require.Len(t, bars, 1)
	assert.Equal(t, time.Date(2026, 1, 5, 9, 30, 0, 0, time.UTC), bars[0].Time)
}
