package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/raykavin/stocknrun/pkg/core"
	"github.com/raykavin/stocknrun/pkg/logger"
	"github.com/tidwall/buntdb"
)

// Common errors
var (
	ErrInvalidInterval = errors.New("invalid interval")
	ErrNoUpstream      = errors.New("no upstream market data source configured")
)

const keyTimeLayout = "2006-01-02T15:04:05"

// BarStore persists per-symbol OHLCV series in a single BuntDB file. Keys
// are "<symbol>:<interval>:<timestamp>" with a fixed-width timestamp so
// lexical ascent is chronological. Bars are never mutated after insertion;
// a sync batch overwrites by key, which gives last-writer-wins dedup.
type BarStore struct {
	db       *buntdb.DB
	upstream core.MarketData
	log      logger.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// FromMemory creates an in-memory store, used by tests.
func FromMemory(upstream core.MarketData, log logger.Logger) (*BarStore, error) {
	return NewBarStore(":memory:", upstream, log)
}

// FromFile creates a file-backed store.
func FromFile(file string, upstream core.MarketData, log logger.Logger) (*BarStore, error) {
	return NewBarStore(file, upstream, log)
}

// NewBarStore opens the BuntDB source file and prepares the store.
func NewBarStore(sourceFile string, upstream core.MarketData, log logger.Logger) (*BarStore, error) {
	db, err := buntdb.Open(sourceFile)
	if err != nil {
		return nil, fmt.Errorf("failed to open buntdb: %w", err)
	}

	return &BarStore{
		db:       db,
		upstream: upstream,
		log:      log,
		locks:    map[string]*sync.Mutex{},
	}, nil
}

// pairLock serializes syncs for one (symbol, interval) pair while letting
// different symbols sync concurrently.
func (s *BarStore) pairLock(symbol string, interval core.Interval) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := symbol + ":" + string(interval)
	if l, ok := s.locks[key]; ok {
		return l
	}
	l := &sync.Mutex{}
	s.locks[key] = l
	return l
}

func barKey(symbol string, interval core.Interval, t time.Time) string {
	return fmt.Sprintf("%s:%s:%s", symbol, interval, t.Format(keyTimeLayout))
}

// LoadLocal returns all stored bars for the pair, ascending by timestamp,
// timezone stripped.
func (s *BarStore) LoadLocal(_ context.Context, symbol string, interval core.Interval) ([]core.Bar, error) {
	if !interval.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidInterval, interval)
	}

	prefix := fmt.Sprintf("%s:%s:", symbol, interval)
	bars := make([]core.Bar, 0)

	err := s.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys(prefix+"*", func(_, value string) bool {
			var bar core.Bar
			if err := json.Unmarshal([]byte(value), &bar); err != nil {
				s.log.WithError(err).Warnf("skipping unreadable bar for %s %s", symbol, interval)
				return true
			}
			bars = append(bars, bar)
			return true
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to iterate over bars: %w", err)
	}

	return bars, nil
}

// Sync fetches the window now-lookbackDays..now+1d from upstream and merges
// it into the local store. An upstream failure or empty batch leaves local
// data untouched.
func (s *BarStore) Sync(ctx context.Context, symbol string, interval core.Interval, lookbackDays int) error {
	if !interval.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidInterval, interval)
	}
	if s.upstream == nil {
		return ErrNoUpstream
	}

	l := s.pairLock(symbol, interval)
	l.Lock()
	defer l.Unlock()

	now := time.Now().UTC()
	start := now.AddDate(0, 0, -lookbackDays)
	end := now.AddDate(0, 0, 1)

	batch, err := s.upstream.BarsByPeriod(ctx, symbol, interval, start, end)
	if err != nil {
		return fmt.Errorf("upstream fetch for %s %s failed: %w", symbol, interval, err)
	}
	if len(batch) == 0 {
		s.log.Debugf("sync %s %s: empty upstream batch, local data kept", symbol, interval)
		return nil
	}

	err = s.db.Update(func(tx *buntdb.Tx) error {
		for _, bar := range batch {
			bar = bar.StripZone()
			bar.Symbol = symbol
			content, merr := json.Marshal(bar)
			if merr != nil {
				return fmt.Errorf("failed to marshal bar: %w", merr)
			}
			if _, _, serr := tx.Set(barKey(symbol, interval, bar.Time), string(content), nil); serr != nil {
				return fmt.Errorf("failed to store bar: %w", serr)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.log.Debugf("sync %s %s: merged %d bars", symbol, interval, len(batch))
	return nil
}

// SyncAndLoad syncs then loads, first widening the lookback when the local
// series has a gap from its last bar to now larger than gapDaysThreshold.
// The widened lookback is capped at maxAutoLookbackDays.
func (s *BarStore) SyncAndLoad(
	ctx context.Context,
	symbol string,
	interval core.Interval,
	lookbackDays, gapDaysThreshold, maxAutoLookbackDays int,
) ([]core.Bar, error) {
	if !interval.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidInterval, interval)
	}

	local, err := s.LoadLocal(ctx, symbol, interval)
	if err != nil {
		return nil, err
	}

	lookback := lookbackDays
	if len(local) > 0 {
		gap := time.Now().UTC().Sub(local[len(local)-1].Time)
		if gapDays := int(gap.Hours() / 24); gapDays > gapDaysThreshold {
			widened := lookbackDays + gapDays
			if widened > maxAutoLookbackDays {
				widened = maxAutoLookbackDays
			}
			if widened > lookback {
				s.log.Infof("sync %s %s: %dd gap detected, widening lookback to %dd", symbol, interval, gapDays, widened)
				lookback = widened
			}
		}
	}

	if err := s.Sync(ctx, symbol, interval, lookback); err != nil {
		// Local history still serves the scan when upstream is down.
		if len(local) > 0 {
			s.log.WithError(err).Warnf("sync %s %s failed, serving %d local bars", symbol, interval, len(local))
			return local, nil
		}
		return nil, err
	}

	return s.LoadLocal(ctx, symbol, interval)
}

// Close closes the database connection
func (s *BarStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
