package notification

import "github.com/raykavin/stocknrun/pkg/core"

// noop discards every notification. Used when no Telegram chat is
// configured.
type noop struct{}

// NewNoop returns a notifier that drops everything.
func NewNoop() core.Notifier { return noop{} }

func (noop) Notify(string)              {}
func (noop) OnCandidate(core.Candidate) {}
func (noop) OnBatch([]core.Candidate)   {}
func (noop) OnError(error)              {}
