package core

import (
	"fmt"
	"strings"
	"time"
)

// SideType is the direction of an order
type SideType string

// OrderStatusType is the normalized lifecycle status of an order
type OrderStatusType string

const (
	SideTypeBuy  SideType = "Buy"
	SideTypeSell SideType = "Sell"

	OrderStatusTypePending   OrderStatusType = "PENDING"
	OrderStatusTypeFilled    OrderStatusType = "FILLED"
	OrderStatusTypeCancelled OrderStatusType = "CANCELLED"
	OrderStatusTypeRejected  OrderStatusType = "REJECTED"
	OrderStatusTypeFailed    OrderStatusType = "FAILED"
	OrderStatusTypeExpired   OrderStatusType = "EXPIRED"
)

// Exit reasons recorded on sell intents and pending orders.
const (
	ExitReasonStopLoss         = "STOP_LOSS"
	ExitReasonStopLossEscalate = "STOP_LOSS_ESCALATE"
	ExitReasonTakeProfit       = "TAKE_PROFIT"
)

// DryRunPrefix marks synthetic order ids produced when live submission is
// disabled. The tracker fills them immediately at the limit price.
const DryRunPrefix = "DRYRUN-"

var (
	filledStatuses = map[string]bool{
		"FILLED": true, "DONE": true, "SUCCESS": true, "FILLED_ALL": true,
	}
	cancelledStatuses = map[string]bool{
		"CANCELED": true, "CANCELLED": true, "REJECTED": true, "FAILED": true, "EXPIRED": true,
	}
)

// NormalizeStatus uppercases a broker-reported status string so the
// spelling variants used by different endpoints compare equal.
func NormalizeStatus(status string) string {
	return strings.ToUpper(strings.TrimSpace(status))
}

// IsFilledStatus reports whether a normalized status means the order
// completed with a fill.
func IsFilledStatus(status string) bool {
	return filledStatuses[NormalizeStatus(status)]
}

// IsCancelledStatus reports whether a normalized status is terminal without
// a fill.
func IsCancelledStatus(status string) bool {
	return cancelledStatuses[NormalizeStatus(status)]
}

// IsTerminalStatus reports whether a status ends the order lifecycle.
func IsTerminalStatus(status string) bool {
	return IsFilledStatus(status) || IsCancelledStatus(status)
}

// OrderIntent is an immutable order description prior to submission. The
// stop-loss and take-profit prices are bookkeeping only; the broker receives
// a plain day-limit order.
type OrderIntent struct {
	CreatedAt  time.Time `json:"created_at"`
	Symbol     string    `json:"symbol"` // broker-formatted, e.g. AAPL.US
	Side       SideType  `json:"side"`
	Quantity   int64     `json:"qty"`
	OrderType  string    `json:"order_type"` // always LO
	LimitPrice float64   `json:"limit_price"`
	StopLoss   float64   `json:"sl,omitempty"`
	TakeProfit float64   `json:"tp,omitempty"`
	Remark     string    `json:"remark,omitempty"`
	Source     string    `json:"source,omitempty"`
}

// GetNotional returns the dollar value of the intent at its limit price
func (i OrderIntent) GetNotional() float64 { return float64(i.Quantity) * i.LimitPrice }

// DryRunID builds the synthetic order id used when the intent is not
// submitted to the broker.
func (i OrderIntent) DryRunID() string {
	return fmt.Sprintf("%s%s-%s-%s", DryRunPrefix, i.Symbol, i.Side, i.CreatedAt.Format("2006-01-02T15:04:05"))
}

// IsDryRunID reports whether an order id is synthetic.
func IsDryRunID(id string) bool { return strings.HasPrefix(id, DryRunPrefix) }

// PendingOrder is a submitted intent awaiting a terminal status.
type PendingOrder struct {
	OrderIntent
	OrderID   string          `json:"order_id"`
	Status    OrderStatusType `json:"status"`
	FilledQty int64           `json:"filled_qty"`
	AvgPrice  float64         `json:"avg_price"`
	UpdatedAt time.Time       `json:"updated_at"`
	Reason    string          `json:"reason,omitempty"`
}

// OpenPosition is a locally tracked long position. Entry, stop-loss and
// take-profit may be zero for stubs inserted by broker reconciliation.
type OpenPosition struct {
	Symbol     string            `json:"symbol"`
	Quantity   int64             `json:"qty"`
	Entry      float64           `json:"entry,omitempty"`
	StopLoss   float64           `json:"sl,omitempty"`
	TakeProfit float64           `json:"tp,omitempty"`
	OpenedAt   time.Time         `json:"at"`
	Meta       map[string]string `json:"meta,omitempty"`
}

// Cooldown blocks new buys for a symbol until a deadline passes.
type Cooldown struct {
	Until  time.Time `json:"until"`
	Reason string    `json:"reason"`
}

// Active reports whether the cooldown still blocks buys at the given time.
func (c Cooldown) Active(now time.Time) bool { return c.Until.After(now) }
