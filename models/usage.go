package models

import "time"

type ReportStatus string

const (
	ReportStatusPending ReportStatus = "pending"
	ReportStatusSuccess ReportStatus = "success"
	ReportStatusFailed  ReportStatus = "failed"
)

type ImageStatus string

const (
	ImageStatusNone    ImageStatus = "none"
	ImageStatusPending ImageStatus = "pending"
	ImageStatusSuccess ImageStatus = "success"
	ImageStatusFailed  ImageStatus = "failed"
)

// MaxImageRetries bounds how many image generation attempts one report gets.
const MaxImageRetries = 3

type UsageLog struct {
	ID              int64        `json:"id"`
	ReportID        string       `json:"report_id"`
	UserID          int64        `json:"user_id"`
	ReportType      string       `json:"report_type"`
	ReportStatus    ReportStatus `json:"report_status"`
	CreditsDeducted bool         `json:"credits_deducted"`
	CreditsRefunded bool         `json:"credits_refunded"`
	ImageStatus     ImageStatus  `json:"image_status"`
	ImageRetryCount int          `json:"image_retry_count"`
	RefundedAt      *time.Time   `json:"refunded_at,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

type Account struct {
	UserID           int64 `json:"userId"`
	RemainingCredits int   `json:"remainingCredits"`
	TotalPurchased   int   `json:"totalPurchased"`
}

type DeductRequest struct {
	ReportType string `json:"reportType" binding:"required"`
}

type RefundRequest struct {
	ReportID string `json:"reportId" binding:"required"`
}

type ImageEligibility struct {
	ReportID string `json:"reportId"`
	Allowed  bool   `json:"allowed"`
	Reason   string `json:"reason,omitempty"`
}
