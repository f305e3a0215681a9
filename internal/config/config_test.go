package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnv_Defaults(t *testing.T) {
	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, EnvPaper, cfg.Env)
	assert.False(t, cfg.IsLive())
	assert.Equal(t, 1, cfg.MaxOpenPos)
	assert.Equal(t, 0.003, cfg.RiskPctEquity)
	assert.Equal(t, 24*time.Hour, cfg.Cooldown)
	assert.Equal(t, 3, cfg.EscalateMaxAttempts)
	assert.Equal(t, "SPY", cfg.Benchmark)
	assert.Equal(t, 5*time.Minute, cfg.TickDeadline)
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("TRADING_ENV", "live")
	t.Setenv("LIVE_TRADING", "YES_I_KNOW")
	t.Setenv("LIVE_SUBMIT", "1")
	t.Setenv("MAX_OPEN_POS", "3")
	t.Setenv("COOLDOWN_HOURS", "36")
	t.Setenv("TICK_DEADLINE", "10m")
	t.Setenv("BENCHMARK", "qqq")
	t.Setenv("KB_CORE_HOLDINGS", "aapl, msft ,")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.True(t, cfg.IsLive())
	assert.Equal(t, 3, cfg.MaxOpenPos)
	assert.Equal(t, 36*time.Hour, cfg.Cooldown)
	assert.Equal(t, 10*time.Minute, cfg.TickDeadline)
	assert.Equal(t, "QQQ", cfg.Benchmark)
	assert.Equal(t, []string{"AAPL", "MSFT"}, cfg.CoreHoldings)
}

func TestFromEnv_LiveRequiresAllThreeFlags(t *testing.T) {
	t.Setenv("TRADING_ENV", "live")
	t.Setenv("LIVE_TRADING", "YES")

	cfg, err := FromEnv()
	require.NoError(t, err)
	// LIVE_SUBMIT missing keeps submission in dry-run.
	assert.False(t, cfg.IsLive())
}

func TestFromEnv_CooldownDurationString(t *testing.T) {
	t.Setenv("COOLDOWN_HOURS", "1d12h")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, 36*time.Hour, cfg.Cooldown)
}

func TestFromEnv_InvalidValues(t *testing.T) {
	t.Setenv("TRADING_ENV", "prod")
	_, err := FromEnv()
	assert.Error(t, err)
}

func TestFromEnv_SLRangeValidation(t *testing.T) {
	t.Setenv("MIN_SL_PCT", "0.12")
	t.Setenv("MAX_SL_PCT", "0.10")
	_, err := FromEnv()
	assert.Error(t, err)
}

func TestTelegramConfig_Enabled(t *testing.T) {
	assert.False(t, TelegramConfig{}.Enabled())
	assert.False(t, TelegramConfig{Token: "t"}.Enabled())
	assert.True(t, TelegramConfig{Token: "t", ChatID: 42}.Enabled())
}

func TestLoadWatchlist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "watchlist.txt")
	content := "# comment\naapl\nMSFT\n\nnvda\naapl\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	tickers, err := LoadWatchlist(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL", "MSFT", "NVDA"}, tickers)
}

func TestLoadWatchlist_Missing(t *testing.T) {
	_, err := LoadWatchlist(filepath.Join(t.TempDir(), "nope.txt"))
	assert.Error(t, err)
}
