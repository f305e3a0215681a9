package marketdata

import (
	"context"

	"github.com/raykavin/stocknrun/pkg/broker"
	"github.com/raykavin/stocknrun/pkg/core"
	"github.com/raykavin/stocknrun/pkg/store"
)

// StoreQuotes serves quotes from the last stored hourly close. It backs
// offline runs where no live quote endpoint is configured; bid and ask
// stay zero so marketable limits fall back to padded last prices.
type StoreQuotes struct {
	store *store.BarStore
}

// NewStoreQuotes builds a bar-backed quote source.
func NewStoreQuotes(s *store.BarStore) *StoreQuotes {
	return &StoreQuotes{store: s}
}

// Quotes implements core.QuoteClient. Symbols without local history are
// omitted from the result, not an error.
func (s *StoreQuotes) Quotes(ctx context.Context, symbols []string) ([]core.Quote, error) {
	out := make([]core.Quote, 0, len(symbols))
	for _, symbol := range symbols {
		bars, err := s.store.LoadLocal(ctx, broker.FromBrokerSymbol(symbol), core.Interval1h)
		if err != nil || len(bars) == 0 {
			continue
		}
		last := bars[len(bars)-1]
		out = append(out, core.Quote{
			Symbol: symbol,
			Last:   last.Close,
			Time:   last.Time,
		})
	}
	return out, nil
}
