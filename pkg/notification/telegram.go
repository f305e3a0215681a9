// Package notification provides operator-facing push channels
package notification

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/raykavin/stocknrun/internal/config"
	"github.com/raykavin/stocknrun/pkg/broker"
	"github.com/raykavin/stocknrun/pkg/core"
	"github.com/raykavin/stocknrun/pkg/state"
	log "github.com/sirupsen/logrus"
	tb "gopkg.in/tucnak/telebot.v2"
)

// StateReader is the read-only slice of trading state the status command
// renders. The trading-state store satisfies it.
type StateReader interface {
	OpenPositions() map[string]core.OpenPosition
	LastExecSkip() *state.SkipSummary
	NoSignalStreak() int
	WasPushed(key, day string) bool
	MarkPushed(key, day string)
}

// telegram implements core.Notifier over a Telegram chat. Strong
// candidates push individually, deduplicated per signal key per UTC day;
// ordinary candidates collapse into one batch message.
type telegram struct {
	cfg    config.TelegramConfig
	state  StateReader
	client *tb.Bot
	now    func() time.Time
}

// NewTelegram creates and initializes the Telegram notifier.
func NewTelegram(cfg config.TelegramConfig, st StateReader) (core.Notifier, error) {
	poller := &tb.LongPoller{Timeout: 10 * time.Second}

	client, err := tb.NewBot(tb.Settings{
		ParseMode: tb.ModeMarkdown,
		Token:     cfg.Token,
		Poller:    poller,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	t := &telegram{cfg: cfg, state: st, client: client, now: time.Now}

	client.Handle("/status", t.StatusHandle)
	go client.Start()

	return t, nil
}

// Notify sends a plain message to the configured chat.
func (t *telegram) Notify(text string) {
	_, err := t.client.Send(&tb.Chat{ID: t.cfg.ChatID}, text)
	if err != nil {
		log.WithError(err).Error("failed to send notification")
	}
}

// OnCandidate pushes one strong candidate, at most once per signal key
// per UTC day.
func (t *telegram) OnCandidate(c core.Candidate) {
	day := t.now().UTC().Format("2006-01-02")
	if t.state.WasPushed(c.Key(), day) {
		return
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "*SIGNAL %s* score=%d mode=%s\n", c.Symbol, c.Score, c.ExecMode)
	fmt.Fprintf(&sb, "close=`%.2f` sl=`%.2f` tp=`%.2f` rr=`%.2f`\n", c.Close, c.StopLoss, c.TakeProfit, c.RiskReward)
	fmt.Fprintf(&sb, "rsi14=`%.1f` bb=`%.2f` ret5d=`%.1f%%`", c.Snapshot.RSI14, c.Snapshot.BBPct, c.Snapshot.Ret5d)
	if len(c.Warnings) > 0 {
		fmt.Fprintf(&sb, "\nwarnings: %s", strings.Join(c.Warnings, "; "))
	}

	t.Notify(sb.String())
	t.state.MarkPushed(c.Key(), day)
}

// OnBatch collapses the ordinary candidates into a single summary
// message. These never generate orders.
func (t *telegram) OnBatch(candidates []core.Candidate) {
	if len(candidates) == 0 {
		return
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "*WATCH* %d candidates below entry bar\n", len(candidates))
	for _, c := range candidates {
		fmt.Fprintf(&sb, "%s score=%d mode=%s close=`%.2f`\n", c.Symbol, c.Score, c.ExecMode, c.Close)
	}
	t.Notify(sb.String())
}

// OnError notifies the operator about errors, unwrapping order context
// when available.
func (t *telegram) OnError(err error) {
	var sb strings.Builder
	sb.WriteString("ERROR\n")

	var orderError *broker.OrderError
	if errors.As(err, &orderError) {
		sb.WriteString("-----\n")
		fmt.Fprintf(&sb, "Symbol: %s\n", orderError.Symbol)
		fmt.Fprintf(&sb, "Quantity: %d\n", orderError.Quantity)
		sb.WriteString("-----\n")
		sb.WriteString(orderError.Err.Error())

		t.Notify(sb.String())
		return
	}

	sb.WriteString("-----\n")
	sb.WriteString(err.Error())

	t.Notify(sb.String())
}

// StatusHandle renders the positions, streak and last skip summary.
func (t *telegram) StatusHandle(m *tb.Message) {
	var sb strings.Builder

	positions := t.state.OpenPositions()
	fmt.Fprintf(&sb, "*STATUS*\nopen positions: %d\n", len(positions))
	for symbol, p := range positions {
		fmt.Fprintf(&sb, "%s qty=%d entry=`%.2f` sl=`%.2f` tp=`%.2f`\n",
			symbol, p.Quantity, p.Entry, p.StopLoss, p.TakeProfit)
	}
	fmt.Fprintf(&sb, "no-signal streak: %d\n", t.state.NoSignalStreak())

	if skip := t.state.LastExecSkip(); skip != nil {
		fmt.Fprintf(&sb, "last skips (%s): %d\n", skip.TS.Format("15:04"), skip.Skipped)
		for _, r := range skip.Reasons {
			fmt.Fprintf(&sb, "  %s: %d\n", r.Reason, r.Count)
		}
	}

	if _, err := t.client.Send(m.Sender, sb.String()); err != nil {
		log.WithError(err).Error("failed to send status")
	}
}
