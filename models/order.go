package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPending OrderStatus = "pending"
	OrderStatusPaid    OrderStatus = "paid"
	OrderStatusFailed  OrderStatus = "failed"
	OrderStatusExpired OrderStatus = "expired"
)

// IsTerminal reports whether no further transition is possible.
func (s OrderStatus) IsTerminal() bool {
	return s != OrderStatusPending
}

type Order struct {
	ID              int64           `json:"id"`
	OrderNo         string          `json:"order_no"`
	UserID          int64           `json:"user_id"`
	PackageType     string          `json:"package_type"`
	Credits         int             `json:"credits"`
	OriginalPrice   decimal.Decimal `json:"original_price"`
	DiscountPercent int             `json:"discount_percent"`
	DiscountAmount  decimal.Decimal `json:"discount_amount"`
	FinalPrice      decimal.Decimal `json:"final_price"`
	PromoCode       *string         `json:"promo_code,omitempty"`
	Provider        string          `json:"provider"`
	PaymentURL      string          `json:"payment_url"`
	Status          OrderStatus     `json:"status"`
	TradeNo         *string         `json:"trade_no,omitempty"`
	PaidAt          *time.Time      `json:"paid_at,omitempty"`
	RetryOf         *string         `json:"retry_of,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// ExpiredAt reports whether a pending order has outlived ttl at now.
func (o *Order) ExpiredAt(now time.Time, ttl time.Duration) bool {
	return o.Status == OrderStatusPending && now.Sub(o.CreatedAt) > ttl
}

type CreateOrderRequest struct {
	PackageType string `json:"packageType" binding:"required"`
	PromoCode   string `json:"promoCode"`
	Provider    string `json:"provider"`
}

type RetryOrderRequest struct {
	OrderNo string `json:"orderNo" binding:"required"`
}

type OrderResponse struct {
	OrderNo         string           `json:"orderNo"`
	Status          OrderStatus      `json:"status"`
	PaymentURL      string           `json:"paymentUrl,omitempty"`
	PackageType     string           `json:"packageType,omitempty"`
	Credits         int              `json:"credits,omitempty"`
	OriginalPrice   *decimal.Decimal `json:"originalPrice,omitempty"`
	DiscountPercent int              `json:"discountPercent,omitempty"`
	DiscountAmount  *decimal.Decimal `json:"discountAmount,omitempty"`
	FinalPrice      *decimal.Decimal `json:"finalPrice,omitempty"`
	PromoCode       *string          `json:"promoCode,omitempty"`
	TradeNo         *string          `json:"tradeNo,omitempty"`
	PaidAt          *time.Time       `json:"paidAt,omitempty"`
	CreatedAt       *time.Time       `json:"createdAt,omitempty"`
	Reused          bool             `json:"reused,omitempty"`
}

// PublicView is what anyone holding the order number may see.
func (o *Order) PublicView() OrderResponse {
	return OrderResponse{OrderNo: o.OrderNo, Status: o.Status}
}

// OwnerView carries the full commercial terms.
func (o *Order) OwnerView() OrderResponse {
	created := o.CreatedAt
	return OrderResponse{
		OrderNo:         o.OrderNo,
		Status:          o.Status,
		PaymentURL:      o.PaymentURL,
		PackageType:     o.PackageType,
		Credits:         o.Credits,
		OriginalPrice:   &o.OriginalPrice,
		DiscountPercent: o.DiscountPercent,
		DiscountAmount:  &o.DiscountAmount,
		FinalPrice:      &o.FinalPrice,
		PromoCode:       o.PromoCode,
		TradeNo:         o.TradeNo,
		PaidAt:          o.PaidAt,
		CreatedAt:       &created,
	}
}
