package ledger

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/raykavin/stocknrun/pkg/core"
)

// Record is one appended ledger entry: the intent plus its execution
// outcome. The shape matches the NDJSON file line by line.
type Record struct {
	ID uint `json:"-" gorm:"primaryKey"`

	core.OrderIntent `gorm:"embedded"`

	Status    string    `json:"status"`
	FillPrice float64   `json:"fill_price,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Ledger is the append-only audit log of all intents. Appends are atomic
// per record.
type Ledger interface {
	Append(rec Record) error
	Close() error
}

// FileLedger writes newline-delimited JSON records. Each Append is one
// write syscall, so concurrent appenders never interleave records.
type FileLedger struct {
	mu   sync.Mutex
	path string
}

// FromFile creates a file-backed ledger, creating parent directories as
// needed.
func FromFile(path string) (*FileLedger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create ledger dir: %w", err)
	}
	return &FileLedger{path: path}, nil
}

// Append implements Ledger.
func (l *FileLedger) Append(rec Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal ledger record: %w", err)
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open ledger: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to append ledger record: %w", err)
	}
	return nil
}

// Close implements Ledger.
func (l *FileLedger) Close() error { return nil }

// Records reads the whole ledger back, skipping unreadable lines. Used by
// offline analysis and tests.
func (l *FileLedger) Records() ([]Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := os.ReadFile(l.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger: %w", err)
	}

	var out []Record
	start := 0
	for i := 0; i <= len(data); i++ {
		if i == len(data) || data[i] == '\n' {
			line := data[start:i]
			start = i + 1
			if len(line) == 0 {
				continue
			}
			var rec Record
			if err := json.Unmarshal(line, &rec); err != nil {
				continue
			}
			out = append(out, rec)
		}
	}
	return out, nil
}
