package stocknrun

import (
	"github.com/raykavin/stocknrun/pkg/core"
	"github.com/raykavin/stocknrun/pkg/ledger"
	"github.com/raykavin/stocknrun/pkg/logger"
	"github.com/raykavin/stocknrun/pkg/state"
	"github.com/raykavin/stocknrun/pkg/store"
)

// Option customizes the bot wiring before the defaults fill in.
type Option func(*Bot)

// WithLogger replaces the default console logger.
func WithLogger(log logger.Logger) Option {
	return func(bot *Bot) {
		bot.logger = log
	}
}

// WithLogLevel sets the log level of the configured logger.
func WithLogLevel(level logger.Level) Option {
	return func(bot *Bot) {
		if bot.logger != nil {
			bot.logger.SetLevel(level)
		}
	}
}

// WithBarStore sets the bar store, by default a BuntDB file under the
// data directory.
func WithBarStore(bars *store.BarStore) Option {
	return func(bot *Bot) {
		bot.bars = bars
	}
}

// WithState sets the trading-state store.
func WithState(st *state.Store) Option {
	return func(bot *Bot) {
		bot.state = st
	}
}

// WithLedger sets the order ledger, by default an append-only NDJSON
// file under the data directory.
func WithLedger(led ledger.Ledger) Option {
	return func(bot *Bot) {
		bot.ledger = led
	}
}

// WithBroker sets the account surface, overriding credential-based
// selection.
func WithBroker(brk core.Broker) Option {
	return func(bot *Bot) {
		bot.broker = brk
	}
}

// WithQuoteClient sets the quote source.
func WithQuoteClient(q core.QuoteClient) Option {
	return func(bot *Bot) {
		bot.quotes = q
	}
}

// WithMarketData sets the upstream OHLCV source.
func WithMarketData(md core.MarketData) Option {
	return func(bot *Bot) {
		bot.upstream = md
	}
}

// WithNotifier registers a notifier for signals, fills and errors.
func WithNotifier(n core.Notifier) Option {
	return func(bot *Bot) {
		bot.notifier = n
	}
}
