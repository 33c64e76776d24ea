package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type DiscountType string

const (
	DiscountHalf   DiscountType = "half"
	DiscountThirty DiscountType = "thirty"
	DiscountTwenty DiscountType = "twenty"
)

var discountPercents = map[DiscountType]int{
	DiscountHalf:   50,
	DiscountThirty: 30,
	DiscountTwenty: 20,
}

// Percent returns the discount granted by t and whether t is known.
func (t DiscountType) Percent() (int, bool) {
	p, ok := discountPercents[t]
	return p, ok
}

type PromoCode struct {
	Code            string       `json:"code"`
	DiscountType    DiscountType `json:"discount_type"`
	DiscountPercent int          `json:"discount_percent"`
	ExpiresAt       time.Time    `json:"expires_at"`
	IsUsed          bool         `json:"is_used"`
	UsedByUserID    *int64       `json:"used_by_user_id,omitempty"`
	UsedAt          *time.Time   `json:"used_at,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
}

// Redeemable reports whether the code can still be applied at now.
func (p *PromoCode) Redeemable(now time.Time) bool {
	return !p.IsUsed && now.Before(p.ExpiresAt)
}

type ValidatePromoRequest struct {
	PromoCode   string `json:"promoCode" binding:"required"`
	PackageType string `json:"packageType" binding:"required"`
}

type PriceInfo struct {
	PackageType     string          `json:"packageType"`
	Credits         int             `json:"credits"`
	OriginalPrice   decimal.Decimal `json:"originalPrice"`
	DiscountPercent int             `json:"discountPercent"`
	DiscountAmount  decimal.Decimal `json:"discountAmount"`
	FinalPrice      decimal.Decimal `json:"finalPrice"`
}

type GeneratePromoRequest struct {
	DiscountType  string `json:"discountType" binding:"required"`
	Count         int    `json:"count" binding:"required,gt=0,lte=500"`
	ExpiresInDays int    `json:"expiresInDays" binding:"required,gt=0,lte=365"`
}
