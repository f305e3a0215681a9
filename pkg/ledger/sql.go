package ledger

import (
	"fmt"
	"time"

	"github.com/samber/lo"
	"gorm.io/gorm"
)

// RecordFilter selects ledger records in queries.
type RecordFilter func(Record) bool

// WithSymbol filters records by broker symbol.
func WithSymbol(symbol string) RecordFilter {
	return func(r Record) bool { return r.Symbol == symbol }
}

// WithStatus filters records by status.
func WithStatus(status string) RecordFilter {
	return func(r Record) bool { return r.Status == status }
}

// SQLLedger mirrors the append-only ledger into a SQL database via GORM,
// for offline analysis alongside the NDJSON file.
type SQLLedger struct {
	db *gorm.DB
}

// FromSQL creates a new SQL ledger instance
func FromSQL(dialect gorm.Dialector, opts ...gorm.Option) (*SQLLedger, error) {
	db, err := gorm.Open(dialect, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &SQLLedger{db: db}, nil
}

// Append implements Ledger.
func (s *SQLLedger) Append(rec Record) error {
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	if result := s.db.Create(&rec); result.Error != nil {
		return fmt.Errorf("failed to append ledger record: %w", result.Error)
	}
	return nil
}

// Records retrieves ledger records matching all provided filters.
func (s *SQLLedger) Records(filters ...RecordFilter) ([]Record, error) {
	var records []Record

	result := s.db.Find(&records)
	if result.Error != nil && result.Error != gorm.ErrRecordNotFound {
		return nil, fmt.Errorf("failed to fetch ledger records: %w", result.Error)
	}

	filtered := lo.Filter(records, func(rec Record, _ int) bool {
		for _, filter := range filters {
			if !filter(rec) {
				return false
			}
		}
		return true
	})

	return filtered, nil
}

// Close closes the database connection
func (s *SQLLedger) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}
	return sqlDB.Close()
}
