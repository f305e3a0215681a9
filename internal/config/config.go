package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/StudioSol/set"
	str2duration "github.com/xhit/go-str2duration/v2"
)

// TradingEnv selects the account the pipeline trades against.
type TradingEnv string

const (
	EnvPaper TradingEnv = "paper"
	EnvLive  TradingEnv = "live"
)

// Values of LIVE_TRADING that hard-enable live order submission.
var liveEnableValues = map[string]bool{
	"YES": true, "TRUE": true, "1": true, "YES_I_KNOW": true,
}

// Config carries every tunable of the pipeline. It is resolved once at
// startup by FromEnv and passed down explicitly; nothing reads the
// environment after that.
type Config struct {
	Env        TradingEnv
	LiveHard   bool // LIVE_TRADING hard-enable flag
	LiveSubmit bool // LIVE_SUBMIT toggles dry-run vs real submission under live

	PaperEquity float64

	// Position entry limits
	MaxOpenPos        int
	MaxNewBuysPerDay  int
	MaxPricePctEquity float64
	MinPriceUSD       float64
	PriceDriftMaxPct  float64

	// Sizing
	RiskPctEquity  float64
	MinSLPct       float64
	MaxSLPct       float64
	MaxPositionPct float64
	MinNotionalUSD float64
	MaxNotionalUSD float64
	MinDollarVol20 float64
	LowPriceUSD    float64

	// Portfolio guards
	TotalRiskCap     float64
	MinCashBufferUSD float64

	// Exits
	Cooldown            time.Duration
	EscalateMaxAttempts int

	// Scanner
	Benchmark   string
	VIXSymbol   string
	ATRPct14Max float64

	// Watchlist knowledge base
	Speculative  []string
	CoreHoldings []string
	FocusList    []string

	// Runtime
	DataDir      string
	TickDeadline time.Duration

	Broker     BrokerConfig
	MarketData MarketDataConfig
	Telegram   TelegramConfig
	Mail       MailConfig
}

// MarketDataConfig holds the upstream OHLCV source endpoint and key.
type MarketDataConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// BrokerConfig holds broker endpoint and credentials. Credentials are
// opaque and never persisted.
type BrokerConfig struct {
	BaseURL     string
	AppKey      string
	AppSecret   string
	AccessToken string
	Timeout     time.Duration
}

// TelegramConfig enables the Telegram notifier when both fields are set.
type TelegramConfig struct {
	Token  string
	ChatID int64
}

// Enabled reports whether the Telegram notifier should be started.
func (t TelegramConfig) Enabled() bool { return t.Token != "" && t.ChatID != 0 }

// MailConfig enables the SMTP notifier as a fallback push channel.
type MailConfig struct {
	SMTPHost string
	SMTPPort int
	From     string
	To       string
	Password string
}

// Enabled reports whether the mail notifier should be started.
func (m MailConfig) Enabled() bool { return m.SMTPHost != "" && m.From != "" && m.To != "" }

// IsLive reports whether real order submission is armed: live environment,
// hard-enable flag, and the submit toggle all set.
func (c *Config) IsLive() bool {
	return c.Env == EnvLive && c.LiveHard && c.LiveSubmit
}

// FromEnv resolves the full configuration from the process environment.
// Invalid values are configuration errors and fatal at startup.
func FromEnv() (*Config, error) {
	cfg := &Config{
		Env:                 EnvPaper,
		PaperEquity:         100_000,
		MaxOpenPos:          1,
		MaxNewBuysPerDay:    1,
		MaxPricePctEquity:   0.35,
		MinPriceUSD:         5,
		PriceDriftMaxPct:    0.015,
		RiskPctEquity:       0.003,
		MinSLPct:            0.03,
		MaxSLPct:            0.10,
		MaxPositionPct:      0.08,
		MinNotionalUSD:      300,
		MaxNotionalUSD:      6000,
		MinDollarVol20:      2e7,
		LowPriceUSD:         10,
		TotalRiskCap:        0.02,
		MinCashBufferUSD:    50,
		Cooldown:            24 * time.Hour,
		EscalateMaxAttempts: 3,
		Benchmark:           "SPY",
		VIXSymbol:           "VIX",
		ATRPct14Max:         0.035,
		DataDir:             "data",
		TickDeadline:        5 * time.Minute,
		Broker: BrokerConfig{
			Timeout: 10 * time.Second,
		},
		MarketData: MarketDataConfig{
			Timeout: 15 * time.Second,
		},
	}

	var err error

	if v := os.Getenv("TRADING_ENV"); v != "" {
		switch TradingEnv(strings.ToLower(v)) {
		case EnvPaper, EnvLive:
			cfg.Env = TradingEnv(strings.ToLower(v))
		default:
			return nil, fmt.Errorf("invalid TRADING_ENV %q", v)
		}
	}
	cfg.LiveHard = liveEnableValues[strings.ToUpper(os.Getenv("LIVE_TRADING"))]
	cfg.LiveSubmit = os.Getenv("LIVE_SUBMIT") == "1"

	floats := []struct {
		name string
		dst  *float64
	}{
		{"PAPER_EQUITY", &cfg.PaperEquity},
		{"MAX_PRICE_PCT_EQUITY", &cfg.MaxPricePctEquity},
		{"MIN_PRICE_USD", &cfg.MinPriceUSD},
		{"PRICE_DRIFT_MAX_PCT", &cfg.PriceDriftMaxPct},
		{"RISK_PCT_EQUITY", &cfg.RiskPctEquity},
		{"MIN_SL_PCT", &cfg.MinSLPct},
		{"MAX_SL_PCT", &cfg.MaxSLPct},
		{"MAX_POSITION_PCT", &cfg.MaxPositionPct},
		{"MIN_NOTIONAL_USD", &cfg.MinNotionalUSD},
		{"MAX_NOTIONAL_USD", &cfg.MaxNotionalUSD},
		{"MIN_DOLLAR_VOL_20D", &cfg.MinDollarVol20},
		{"TOTAL_RISK_CAP", &cfg.TotalRiskCap},
		{"MIN_CASH_BUFFER_USD", &cfg.MinCashBufferUSD},
		{"ATR_PCT14_MAX", &cfg.ATRPct14Max},
	}
	for _, f := range floats {
		if *f.dst, err = envFloat(f.name, *f.dst); err != nil {
			return nil, err
		}
	}

	if cfg.MaxOpenPos, err = envInt("MAX_OPEN_POS", cfg.MaxOpenPos); err != nil {
		return nil, err
	}
	if cfg.MaxNewBuysPerDay, err = envInt("MAX_NEW_BUYS_PER_DAY", cfg.MaxNewBuysPerDay); err != nil {
		return nil, err
	}
	if cfg.EscalateMaxAttempts, err = envInt("EXIT_ESCALATE_MAX_ATTEMPTS", cfg.EscalateMaxAttempts); err != nil {
		return nil, err
	}

	if cfg.Cooldown, err = envHours("COOLDOWN_HOURS", cfg.Cooldown); err != nil {
		return nil, err
	}
	if cfg.TickDeadline, err = envDuration("TICK_DEADLINE", cfg.TickDeadline); err != nil {
		return nil, err
	}
	if cfg.Broker.Timeout, err = envDuration("BROKER_TIMEOUT", cfg.Broker.Timeout); err != nil {
		return nil, err
	}

	if v := os.Getenv("BENCHMARK"); v != "" {
		cfg.Benchmark = strings.ToUpper(v)
	}
	if v := os.Getenv("VIX_SYMBOL"); v != "" {
		cfg.VIXSymbol = strings.ToUpper(v)
	}
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.DataDir = v
	}

	cfg.Speculative = splitList(os.Getenv("SPECULATIVE_TICKERS"))
	cfg.CoreHoldings = splitList(os.Getenv("KB_CORE_HOLDINGS"))
	cfg.FocusList = splitList(os.Getenv("KB_FOCUS_LIST"))

	cfg.Broker.BaseURL = os.Getenv("BROKER_BASE_URL")
	cfg.Broker.AppKey = os.Getenv("BROKER_APP_KEY")
	cfg.Broker.AppSecret = os.Getenv("BROKER_APP_SECRET")
	cfg.Broker.AccessToken = os.Getenv("BROKER_ACCESS_TOKEN")

	cfg.MarketData.BaseURL = os.Getenv("MARKET_DATA_BASE_URL")
	cfg.MarketData.APIKey = os.Getenv("MARKET_DATA_API_KEY")
	if cfg.MarketData.Timeout, err = envDuration("MARKET_DATA_TIMEOUT", cfg.MarketData.Timeout); err != nil {
		return nil, err
	}

	cfg.Telegram.Token = os.Getenv("TELEGRAM_TOKEN")
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		id, perr := strconv.ParseInt(v, 10, 64)
		if perr != nil {
			return nil, fmt.Errorf("invalid TELEGRAM_CHAT_ID %q: %w", v, perr)
		}
		cfg.Telegram.ChatID = id
	}

	cfg.Mail.SMTPHost = os.Getenv("MAIL_SMTP_HOST")
	cfg.Mail.SMTPPort = 587
	if v := os.Getenv("MAIL_SMTP_PORT"); v != "" {
		port, perr := strconv.Atoi(v)
		if perr != nil {
			return nil, fmt.Errorf("invalid MAIL_SMTP_PORT %q: %w", v, perr)
		}
		cfg.Mail.SMTPPort = port
	}
	cfg.Mail.From = os.Getenv("MAIL_FROM")
	cfg.Mail.To = os.Getenv("MAIL_TO")
	cfg.Mail.Password = os.Getenv("MAIL_PASSWORD")

	if cfg.MinSLPct >= cfg.MaxSLPct {
		return nil, fmt.Errorf("MIN_SL_PCT %.3f must be below MAX_SL_PCT %.3f", cfg.MinSLPct, cfg.MaxSLPct)
	}

	return cfg, nil
}

// LoadWatchlist reads one ticker per line, ignoring blank lines and
// comments, uppercasing and deduplicating while preserving order.
func LoadWatchlist(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open watchlist: %w", err)
	}
	defer f.Close()

	seen := set.NewLinkedHashSetString()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		seen.Add(strings.ToUpper(line))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read watchlist: %w", err)
	}

	tickers := make([]string, 0, seen.Length())
	for t := range seen.Iter() {
		tickers = append(tickers, t)
	}
	return tickers, nil
}

func envFloat(name string, def float64) (float64, error) {
	v := os.Getenv(name)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, v, err)
	}
	return f, nil
}

func envInt(name string, def int) (int, error) {
	v := os.Getenv(name)
	if v == "" {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, v, err)
	}
	return i, nil
}

// envHours accepts either a bare number of hours or a duration string
// such as "36h" or "1d12h".
func envHours(name string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(name)
	if v == "" {
		return def, nil
	}
	if h, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(h * float64(time.Hour)), nil
	}
	d, err := str2duration.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, v, err)
	}
	return d, nil
}

func envDuration(name string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(name)
	if v == "" {
		return def, nil
	}
	d, err := str2duration.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, v, err)
	}
	return d, nil
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToUpper(strings.TrimSpace(p))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
