package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/raykavin/stocknrun/pkg/core"
)

const documentVersion = 1

// ExecutedKey records that a bar-level signal already produced a buy
// intent; a key is never executed twice.
type ExecutedKey struct {
	At   time.Time         `json:"at"`
	Meta map[string]string `json:"meta,omitempty"`
}

// SkipReason is one aggregated precondition failure from the execution
// router, with up to a few sample keys for operator review.
type SkipReason struct {
	Reason  string   `json:"reason"`
	Count   int      `json:"count"`
	Samples []string `json:"samples,omitempty"`
}

// SkipSummary is the per-tick tally persisted under last_exec_skip.
type SkipSummary struct {
	TS      time.Time    `json:"ts"`
	Skipped int          `json:"skipped"`
	Reasons []SkipReason `json:"reasons"`
}

// document is the durable JSON shape. Any consumer may read the file
// directly; the layout is stable.
type document struct {
	Version        int                          `json:"version"`
	UpdatedAt      time.Time                    `json:"updated_at"`
	ExecutedKeys   map[string]ExecutedKey       `json:"executed_keys"`
	Daily          map[string]int               `json:"daily"`
	Cooldowns      map[string]core.Cooldown     `json:"cooldowns"`
	OpenPositions  map[string]core.OpenPosition `json:"open_positions"`
	PendingOrders  map[string]core.PendingOrder `json:"pending_orders"`
	LastExecSkip   *SkipSummary                 `json:"last_exec_skip,omitempty"`
	NoSignalStreak int                          `json:"no_signal_streak"`
	Escalations    map[string]int               `json:"escalations,omitempty"`
	PushedSignals  map[string]string            `json:"pushed_signals,omitempty"`
}

func newDocument() document {
	return document{
		Version:       documentVersion,
		ExecutedKeys:  map[string]ExecutedKey{},
		Daily:         map[string]int{},
		Cooldowns:     map[string]core.Cooldown{},
		OpenPositions: map[string]core.OpenPosition{},
		PendingOrders: map[string]core.PendingOrder{},
		Escalations:   map[string]int{},
		PushedSignals: map[string]string{},
	}
}

// Store is the trading-state document: idempotency keys, per-day buy
// counters, cooldowns, open positions, pending orders and the last skip
// summary. It is read at tick start, mutated in memory, and written whole
// at tick end; the per-tick lock serializes writers.
type Store struct {
	mu   sync.RWMutex
	path string
	doc  document
	now  func() time.Time
}

// Load reads the document from disk, initializing an empty one when the
// file does not exist yet.
func Load(path string) (*Store, error) {
	s := &Store{path: path, doc: newDocument(), now: time.Now}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read trading state: %w", err)
	}

	if err := json.Unmarshal(data, &s.doc); err != nil {
		return nil, fmt.Errorf("failed to parse trading state: %w", err)
	}
	s.ensureMaps()
	return s, nil
}

func (s *Store) ensureMaps() {
	if s.doc.ExecutedKeys == nil {
		s.doc.ExecutedKeys = map[string]ExecutedKey{}
	}
	if s.doc.Daily == nil {
		s.doc.Daily = map[string]int{}
	}
	if s.doc.Cooldowns == nil {
		s.doc.Cooldowns = map[string]core.Cooldown{}
	}
	if s.doc.OpenPositions == nil {
		s.doc.OpenPositions = map[string]core.OpenPosition{}
	}
	if s.doc.PendingOrders == nil {
		s.doc.PendingOrders = map[string]core.PendingOrder{}
	}
	if s.doc.Escalations == nil {
		s.doc.Escalations = map[string]int{}
	}
	if s.doc.PushedSignals == nil {
		s.doc.PushedSignals = map[string]string{}
	}
}

// Save writes the document atomically: marshal to a temp file in the same
// directory, fsync, rename over the target. updated_at never moves
// backwards.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if now := s.now().UTC(); now.After(s.doc.UpdatedAt) {
		s.doc.UpdatedAt = now
	}
	s.doc.Version = documentVersion

	data, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal trading state: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create state dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".trading_state-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write temp state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to sync temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp state file: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace trading state: %w", err)
	}
	return nil
}

// UpdatedAt returns the last persisted write time.
func (s *Store) UpdatedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.UpdatedAt
}

// IsExecuted reports whether the idempotency key already produced a buy.
func (s *Store) IsExecuted(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.doc.ExecutedKeys[key]
	return ok
}

// MarkExecuted records the idempotency key.
func (s *Store) MarkExecuted(key string, meta map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.ExecutedKeys[key] = ExecutedKey{At: s.now().UTC(), Meta: meta}
}

// BuysToday returns the buy count recorded for the UTC day.
func (s *Store) BuysToday(day string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.Daily[day]
}

// IncBuysToday increments the buy counter for the UTC day.
func (s *Store) IncBuysToday(day string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.Daily[day]++
}

// ActiveCooldown returns the cooldown blocking the symbol, clearing it
// lazily once past its deadline.
func (s *Store) ActiveCooldown(symbol string, now time.Time) *core.Cooldown {
	s.mu.Lock()
	defer s.mu.Unlock()

	cd, ok := s.doc.Cooldowns[symbol]
	if !ok {
		return nil
	}
	if !cd.Active(now) {
		delete(s.doc.Cooldowns, symbol)
		return nil
	}
	return &cd
}

// SetCooldown blocks new buys for the symbol until the deadline.
func (s *Store) SetCooldown(symbol string, until time.Time, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.Cooldowns[symbol] = core.Cooldown{Until: until, Reason: reason}
}

// OpenPositions returns a copy of all locally tracked positions.
func (s *Store) OpenPositions() map[string]core.OpenPosition {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]core.OpenPosition, len(s.doc.OpenPositions))
	for k, v := range s.doc.OpenPositions {
		out[k] = v
	}
	return out
}

// OpenPosition returns the position for a symbol, if any.
func (s *Store) OpenPosition(symbol string) (core.OpenPosition, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.doc.OpenPositions[symbol]
	return p, ok
}

// SetOpenPosition inserts or replaces the position for its symbol. At most
// one position per symbol exists.
func (s *Store) SetOpenPosition(pos core.OpenPosition) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.OpenPositions[pos.Symbol] = pos
}

// RemoveOpenPosition deletes the position for the symbol.
func (s *Store) RemoveOpenPosition(symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.doc.OpenPositions, symbol)
}

// PendingOrders returns a copy of all pending orders keyed by order id.
func (s *Store) PendingOrders() map[string]core.PendingOrder {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]core.PendingOrder, len(s.doc.PendingOrders))
	for k, v := range s.doc.PendingOrders {
		out[k] = v
	}
	return out
}

// AddPendingOrder records a submitted intent.
func (s *Store) AddPendingOrder(po core.PendingOrder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.PendingOrders[po.OrderID] = po
}

// UpdatePendingOrder patches an existing pending order in place.
func (s *Store) UpdatePendingOrder(po core.PendingOrder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.doc.PendingOrders[po.OrderID]; ok {
		s.doc.PendingOrders[po.OrderID] = po
	}
}

// RemovePendingOrder deletes a pending order on terminal status.
func (s *Store) RemovePendingOrder(orderID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.doc.PendingOrders, orderID)
}

// PendingBuy returns the pending buy for a symbol, if one exists. At most
// one concurrent pending buy per symbol is kept.
func (s *Store) PendingBuy(symbol string) (core.PendingOrder, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, po := range s.doc.PendingOrders {
		if po.Symbol == symbol && po.Side == core.SideTypeBuy {
			return po, true
		}
	}
	return core.PendingOrder{}, false
}

// PendingSells returns all pending sells for a symbol.
func (s *Store) PendingSells(symbol string) []core.PendingOrder {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []core.PendingOrder
	for _, po := range s.doc.PendingOrders {
		if po.Symbol == symbol && po.Side == core.SideTypeSell {
			out = append(out, po)
		}
	}
	return out
}

// NoSignalStreak returns the global counter of consecutive ticks without
// a new buy.
func (s *Store) NoSignalStreak() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.NoSignalStreak
}

// IncNoSignalStreak bumps the streak after a tick with zero new buys.
func (s *Store) IncNoSignalStreak() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.NoSignalStreak++
}

// ResetNoSignalStreak zeroes the streak after any tick with a new buy.
func (s *Store) ResetNoSignalStreak() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.NoSignalStreak = 0
}

// EscalationAttempts returns the stop-loss escalation counter for a
// symbol.
func (s *Store) EscalationAttempts(symbol string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.Escalations[symbol]
}

// IncEscalation bumps the escalation counter for a symbol.
func (s *Store) IncEscalation(symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.Escalations[symbol]++
}

// ClearEscalation removes the escalation counter once the position is
// closed.
func (s *Store) ClearEscalation(symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.doc.Escalations, symbol)
}

// SetLastExecSkip stores the tick's skip summary.
func (s *Store) SetLastExecSkip(sum SkipSummary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.LastExecSkip = &sum
}

// LastExecSkip returns the last persisted skip summary, if any.
func (s *Store) LastExecSkip() *SkipSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.LastExecSkip
}

// WasPushed reports whether the signal key was already pushed on the
// given UTC day.
func (s *Store) WasPushed(key, day string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.PushedSignals[key] == day
}

// MarkPushed records the signal key as pushed for the day and drops
// entries from earlier days.
func (s *Store) MarkPushed(key, day string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for k, d := range s.doc.PushedSignals {
		if d != day {
			delete(s.doc.PushedSignals, k)
		}
	}
	s.doc.PushedSignals[key] = day
}
