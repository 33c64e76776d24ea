package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentConfirmation is the provider-independent shape every gateway
// callback is normalized into before it reaches the order ledger.
type PaymentConfirmation struct {
	Provider string
	OrderNo  string
	TradeNo  string
	Amount   decimal.Decimal
	PaidAt   time.Time
}

type NotificationOutcome string

const (
	NotificationConfirmed NotificationOutcome = "confirmed"
	NotificationDuplicate NotificationOutcome = "duplicate"
	NotificationIgnored   NotificationOutcome = "ignored"
	NotificationRejected  NotificationOutcome = "rejected"
	NotificationFailed    NotificationOutcome = "failed"
)

// PaymentNotification is the stored record of one inbound gateway callback.
type PaymentNotification struct {
	ID         int64               `json:"id"`
	Provider   string              `json:"provider"`
	OrderNo    string              `json:"order_no"`
	TradeNo    string              `json:"trade_no"`
	RawPayload string              `json:"raw_payload"`
	Outcome    NotificationOutcome `json:"outcome"`
	Reason     string              `json:"reason"`
	CreatedAt  time.Time           `json:"created_at"`
}
