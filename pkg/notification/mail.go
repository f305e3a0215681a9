package notification

import (
	"fmt"
	"net/smtp"
	"strings"

	"github.com/raykavin/stocknrun/internal/config"
	"github.com/raykavin/stocknrun/pkg/core"
	log "github.com/sirupsen/logrus"
)

// Mail implements core.Notifier over SMTP. It is the fallback push
// channel when Telegram is not configured.
type Mail struct {
	cfg  config.MailConfig
	auth smtp.Auth
}

// NewMail creates the mail notifier from the resolved configuration.
func NewMail(cfg config.MailConfig) *Mail {
	return &Mail{
		cfg:  cfg,
		auth: smtp.PlainAuth("", cfg.From, cfg.Password, cfg.SMTPHost),
	}
}

// Notify sends a plain text message with a generic subject.
func (m *Mail) Notify(text string) {
	m.send("stocknrun notification", text)
}

// OnCandidate mails one strong candidate with its suggested levels.
func (m *Mail) OnCandidate(c core.Candidate) {
	subject := fmt.Sprintf("SIGNAL %s score=%d mode=%s", c.Symbol, c.Score, c.ExecMode)

	var sb strings.Builder
	fmt.Fprintf(&sb, "close=%.2f sl=%.2f tp=%.2f rr=%.2f\n", c.Close, c.StopLoss, c.TakeProfit, c.RiskReward)
	fmt.Fprintf(&sb, "rsi14=%.1f bb=%.2f ret5d=%.1f%%\n", c.Snapshot.RSI14, c.Snapshot.BBPct, c.Snapshot.Ret5d)
	if len(c.Warnings) > 0 {
		fmt.Fprintf(&sb, "warnings: %s\n", strings.Join(c.Warnings, "; "))
	}

	m.send(subject, sb.String())
}

// OnBatch mails the ordinary candidates as one digest.
func (m *Mail) OnBatch(candidates []core.Candidate) {
	if len(candidates) == 0 {
		return
	}

	var sb strings.Builder
	for _, c := range candidates {
		fmt.Fprintf(&sb, "%s score=%d mode=%s close=%.2f\n", c.Symbol, c.Score, c.ExecMode, c.Close)
	}
	m.send(fmt.Sprintf("WATCH %d candidates below entry bar", len(candidates)), sb.String())
}

// OnError mails the error text.
func (m *Mail) OnError(err error) {
	m.send("stocknrun ERROR", err.Error())
}

func (m *Mail) send(subject, body string) {
	addr := fmt.Sprintf("%s:%d", m.cfg.SMTPHost, m.cfg.SMTPPort)
	message := fmt.Sprintf("To: %s\r\nFrom: %s\r\nSubject: %s\r\n\r\n%s",
		m.cfg.To, m.cfg.From, subject, body)

	err := smtp.SendMail(addr, m.auth, m.cfg.From, []string{m.cfg.To}, []byte(message))
	if err != nil {
		log.WithError(err).Error("notification/mail: failed to send email")
	}
}
