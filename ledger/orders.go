package ledger

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"ledger-svc/apperr"
	"ledger-svc/gateway"
	"ledger-svc/metrics"
	"ledger-svc/models"
	"ledger-svc/pricing"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const orderColumns = "id, order_no, user_id, package_type, credits, original_price, discount_percent, discount_amount, final_price, " +
	"promo_code, provider, payment_url, status, trade_no, paid_at, retry_of, created_at, updated_at"

// NewOrderNo returns ORD, the UTC date and 16 upper-case hex characters.
func NewOrderNo(now time.Time) string {
	id := uuid.New()
	return "ORD" + now.UTC().Format("20060102") + strings.ToUpper(hex.EncodeToString(id[:8]))
}

type CreateOrderParams struct {
	UserID      int64
	PackageType string
	PromoCode   string
	Provider    string
	ClientIP    string
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(row rowScanner) (*models.Order, error) {
	var o models.Order
	err := row.Scan(
		&o.ID, &o.OrderNo, &o.UserID, &o.PackageType, &o.Credits,
		&o.OriginalPrice, &o.DiscountPercent, &o.DiscountAmount, &o.FinalPrice,
		&o.PromoCode, &o.Provider, &o.PaymentURL, &o.Status, &o.TradeNo, &o.PaidAt, &o.RetryOf,
		&o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *Service) loadOrder(ctx context.Context, orderNo string) (*models.Order, error) {
	o, err := scanOrder(s.db.QueryRowContext(ctx,
		"SELECT "+orderColumns+" FROM orders WHERE order_no = $1", orderNo))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.ErrOrderNotFound
		}
		return nil, fmt.Errorf("failed to load order: %w", err)
	}
	return o, nil
}

// CreateOrder prices packageType, persists a pending order with frozen terms
// and asks the provider for a payment URL. If the provider cannot be reached
// the order is marked failed and ErrGatewayUnavailable is returned.
func (s *Service) CreateOrder(ctx context.Context, p CreateOrderParams) (*models.Order, error) {
	pkg, ok := pricing.Lookup(p.PackageType)
	if !ok {
		return nil, apperr.ErrInvalidPackage
	}
	adapter, err := s.gateways.Get(p.Provider)
	if err != nil {
		return nil, err
	}

	discount := 0
	var promoCode *string
	if strings.TrimSpace(p.PromoCode) != "" {
		code, err := s.promos.Validate(ctx, p.PromoCode, p.ClientIP)
		if err != nil {
			return nil, err
		}
		discount = code.DiscountPercent
		promoCode = &code.Code
	}

	price, err := pricing.Calculate(pkg.Type, discount)
	if err != nil {
		return nil, err
	}

	now := s.now()
	o := &models.Order{
		OrderNo:         s.newOrderNo(now),
		UserID:          p.UserID,
		PackageType:     pkg.Type,
		Credits:         price.Credits,
		OriginalPrice:   price.OriginalPrice,
		DiscountPercent: price.DiscountPercent,
		DiscountAmount:  price.DiscountAmount,
		FinalPrice:      price.FinalPrice,
		PromoCode:       promoCode,
		Provider:        adapter.Name(),
		Status:          models.OrderStatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.insertOrder(ctx, o); err != nil {
		return nil, err
	}

	if err := s.attachPayment(ctx, adapter, o); err != nil {
		s.markFailed(ctx, o)
		return nil, err
	}

	metrics.RecordOrderCreated(o.PackageType, o.Provider)
	s.logger.Info("Order created",
		zap.String("order_no", o.OrderNo),
		zap.Int64("user_id", o.UserID),
		zap.String("package_type", o.PackageType),
		zap.String("final_price", o.FinalPrice.StringFixed(2)),
		zap.String("provider", o.Provider),
	)
	return o, nil
}

func (s *Service) insertOrder(ctx context.Context, o *models.Order) error {
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO orders (order_no, user_id, package_type, credits, original_price, discount_percent, discount_amount, final_price, promo_code, provider, status, retry_of, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $13) RETURNING id`,
		o.OrderNo, o.UserID, o.PackageType, o.Credits,
		o.OriginalPrice, o.DiscountPercent, o.DiscountAmount, o.FinalPrice,
		o.PromoCode, o.Provider, o.Status, o.RetryOf, o.CreatedAt,
	).Scan(&o.ID)
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}
	return nil
}

// attachPayment requests a payment handle for o and stores its URL.
func (s *Service) attachPayment(ctx context.Context, adapter gateway.Adapter, o *models.Order) error {
	pkg, _ := pricing.Lookup(o.PackageType)
	handle, err := adapter.CreatePayment(ctx, gateway.PaymentRequest{
		OrderNo: o.OrderNo,
		UserID:  o.UserID,
		Subject: pkg.Name,
		Amount:  o.FinalPrice,
	})
	if err != nil {
		s.logger.Error("Payment gateway rejected order",
			zap.String("order_no", o.OrderNo),
			zap.String("provider", o.Provider),
			zap.Error(err),
		)
		if errors.Is(err, apperr.ErrGatewayUnavailable) {
			return err
		}
		return fmt.Errorf("%w: %v", apperr.ErrGatewayUnavailable, err)
	}

	now := s.now()
	_, err = s.db.ExecContext(ctx,
		"UPDATE orders SET payment_url = $1, updated_at = $2 WHERE order_no = $3",
		handle.URL, now, o.OrderNo,
	)
	if err != nil {
		return fmt.Errorf("failed to store payment url: %w", err)
	}
	o.PaymentURL = handle.URL
	o.UpdatedAt = now
	return nil
}

func (s *Service) markFailed(ctx context.Context, o *models.Order) {
	_, err := s.db.ExecContext(ctx,
		"UPDATE orders SET status = 'failed', updated_at = $1 WHERE order_no = $2 AND status = 'pending'",
		s.now(), o.OrderNo,
	)
	if err != nil {
		s.logger.Error("Failed to mark order failed", zap.String("order_no", o.OrderNo), zap.Error(err))
		return
	}
	o.Status = models.OrderStatusFailed
}

// GetOrder loads an order. A pending order past the payment window is
// flipped to expired here; there is no background sweep.
func (s *Service) GetOrder(ctx context.Context, orderNo string) (*models.Order, error) {
	o, err := s.loadOrder(ctx, orderNo)
	if err != nil {
		return nil, err
	}
	if !o.ExpiredAt(s.now(), s.orderTTL) {
		return o, nil
	}

	now := s.now()
	res, err := s.db.ExecContext(ctx,
		"UPDATE orders SET status = 'expired', updated_at = $1 WHERE order_no = $2 AND status = 'pending'",
		now, o.OrderNo,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to expire order: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to expire order: %w", err)
	}
	if n == 0 {
		// A payment landed between the read and the update.
		return s.loadOrder(ctx, orderNo)
	}

	s.logger.Info("Order expired", zap.String("order_no", o.OrderNo))
	o.Status = models.OrderStatusExpired
	o.UpdatedAt = now
	return o, nil
}

// RetryOrder gives the owner a fresh payment URL. A pending order keeps its
// row; a failed or expired one is re-issued as a new pending order with the
// same terms. The bool reports whether the original order was reused.
func (s *Service) RetryOrder(ctx context.Context, userID int64, orderNo string) (*models.Order, bool, error) {
	o, err := s.GetOrder(ctx, orderNo)
	if err != nil {
		return nil, false, err
	}
	if o.UserID != userID {
		return nil, false, apperr.ErrForbidden
	}

	adapter, err := s.gateways.Get(o.Provider)
	if err != nil {
		return nil, false, err
	}

	if o.Status == models.OrderStatusPaid {
		return nil, false, apperr.ErrAlreadyPaid
	}
	if err := s.checkInheritedPromo(ctx, o); err != nil {
		return nil, false, err
	}

	if o.Status == models.OrderStatusPending {
		if err := s.attachPayment(ctx, adapter, o); err != nil {
			return nil, false, err
		}
		return o, true, nil
	}

	now := s.now()
	retryOf := o.OrderNo
	next := &models.Order{
		OrderNo:         s.newOrderNo(now),
		UserID:          o.UserID,
		PackageType:     o.PackageType,
		Credits:         o.Credits,
		OriginalPrice:   o.OriginalPrice,
		DiscountPercent: o.DiscountPercent,
		DiscountAmount:  o.DiscountAmount,
		FinalPrice:      o.FinalPrice,
		PromoCode:       o.PromoCode,
		Provider:        o.Provider,
		Status:          models.OrderStatusPending,
		RetryOf:         &retryOf,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.insertOrder(ctx, next); err != nil {
		return nil, false, err
	}
	if err := s.attachPayment(ctx, adapter, next); err != nil {
		s.markFailed(ctx, next)
		return nil, false, err
	}

	s.logger.Info("Order re-issued",
		zap.String("order_no", next.OrderNo),
		zap.String("retry_of", retryOf),
		zap.String("previous_status", string(o.Status)),
	)
	return next, false, nil
}

// checkInheritedPromo refuses to carry a discount onto a new payment once
// the order's promo code was consumed elsewhere.
func (s *Service) checkInheritedPromo(ctx context.Context, o *models.Order) error {
	if o.PromoCode == nil {
		return nil
	}
	p, err := s.promos.Get(ctx, *o.PromoCode)
	if err != nil {
		if errors.Is(err, apperr.ErrPromoNotFound) {
			return apperr.ErrInvalidPromo
		}
		return err
	}
	if p.IsUsed {
		s.logger.Warn("Retry refused, promo code already consumed",
			zap.String("order_no", o.OrderNo), zap.String("promo_code", p.Code))
		return apperr.ErrPromoAlreadyUsed
	}
	return nil
}
