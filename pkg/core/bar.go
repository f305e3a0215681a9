package core

import (
	"fmt"
	"strconv"
	"time"
)

// Interval identifies the granularity of a stored bar series.
type Interval string

const (
	Interval1h Interval = "1h"
	Interval1d Interval = "1d"
)

// Valid reports whether the interval is one of the supported granularities.
func (i Interval) Valid() bool {
	return i == Interval1h || i == Interval1d
}

// Bar represents one OHLCV observation for a symbol at a fixed interval.
// Timestamps are stored naive (timezone stripped) so that local and upstream
// history compare equal.
type Bar struct {
	Symbol string
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// GetSymbol returns the ticker the bar belongs to
func (b Bar) GetSymbol() string { return b.Symbol }

// GetTime returns the timestamp of the bar
func (b Bar) GetTime() time.Time { return b.Time }

// GetOpen returns the opening price of the bar
func (b Bar) GetOpen() float64 { return b.Open }

// GetHigh returns the highest price during the bar period
func (b Bar) GetHigh() float64 { return b.High }

// GetLow returns the lowest price during the bar period
func (b Bar) GetLow() float64 { return b.Low }

// GetClose returns the closing price of the bar
func (b Bar) GetClose() float64 { return b.Close }

// GetVolume returns the traded volume during the bar period
func (b Bar) GetVolume() float64 { return b.Volume }

// IsEmpty checks if the bar contains no significant data
func (b Bar) IsEmpty() bool { return b.Symbol == "" && b.Close == 0 && b.Open == 0 && b.Volume == 0 }

// ToSlice converts a bar to a string slice for serialization
// with the specified decimal precision
func (b Bar) ToSlice(precision int) []string {
	return []string{
		fmt.Sprintf("%d", b.Time.Unix()),
		strconv.FormatFloat(b.Open, 'f', precision, 64),
		strconv.FormatFloat(b.High, 'f', precision, 64),
		strconv.FormatFloat(b.Low, 'f', precision, 64),
		strconv.FormatFloat(b.Close, 'f', precision, 64),
		strconv.FormatFloat(b.Volume, 'f', precision, 64),
	}
}

// StripZone drops timezone information from the bar timestamp, keeping the
// wall-clock reading. Bars from upstream sources arrive in the benchmark
// timezone; local storage is always naive.
func (b Bar) StripZone() Bar {
	t := b.Time
	b.Time = time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, time.UTC)
	return b
}

// Quote is a point-in-time market quote for one symbol.
type Quote struct {
	Symbol string
	Last   float64
	Bid    float64
	Ask    float64
	Time   time.Time
}

// GetLast returns the last done price of the quote
func (q Quote) GetLast() float64 { return q.Last }

// GetBid returns the best bid price of the quote
func (q Quote) GetBid() float64 { return q.Bid }

// GetAsk returns the best ask price of the quote
func (q Quote) GetAsk() float64 { return q.Ask }

// MarketableBuyLimit returns the limit price for an immediately marketable
// buy order: the ask when available, otherwise last padded upward.
func (q Quote) MarketableBuyLimit() float64 {
	if q.Ask > 0 {
		return q.Ask
	}
	return Round2(q.Last * 1.002)
}

// MarketableSellLimit returns the limit price for an immediately marketable
// sell order: the bid when available, otherwise last padded downward.
func (q Quote) MarketableSellLimit() float64 {
	if q.Bid > 0 {
		return q.Bid
	}
	return Round2(q.Last * 0.998)
}
