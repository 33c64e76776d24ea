package models

import "time"

// LedgerEvent is published to Kafka after a ledger transaction commits.
type LedgerEvent struct {
	EventType  string    `json:"event_type"` // order_paid, credits_deducted, credits_refunded
	OrderNo    string    `json:"order_no,omitempty"`
	ReportID   string    `json:"report_id,omitempty"`
	UserID     int64     `json:"user_id"`
	Credits    int       `json:"credits"`
	TradeNo    string    `json:"trade_no,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

const (
	EventOrderPaid       = "order_paid"
	EventCreditsDeducted = "credits_deducted"
	EventCreditsRefunded = "credits_refunded"
)

// ReportEvent is consumed from the report pipeline.
type ReportEvent struct {
	EventType string `json:"event_type"` // report_succeeded, report_failed, image_succeeded, image_failed
	ReportID  string `json:"report_id"`
	UserID    int64  `json:"user_id"`
}

const (
	EventReportSucceeded = "report_succeeded"
	EventReportFailed    = "report_failed"
	EventImageSucceeded  = "image_succeeded"
	EventImageFailed     = "image_failed"
)
