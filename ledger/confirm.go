package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ledger-svc/apperr"
	"ledger-svc/database"
	"ledger-svc/metrics"
	"ledger-svc/models"
	"ledger-svc/pricing"

	"go.uber.org/zap"
)

// errLostRace aborts a confirmation whose conditional paid-transition found
// the order already paid by a concurrent confirmation.
var errLostRace = errors.New("order left pending state concurrently")

type ConfirmResult struct {
	Order     *models.Order
	Duplicate bool
}

// ConfirmPayment applies a verified payment to its order exactly once. The
// paid transition, the credit grant and the promo consumption commit
// together. Redelivered confirmations for a paid order succeed with
// Duplicate set and change nothing.
func (s *Service) ConfirmPayment(ctx context.Context, c models.PaymentConfirmation) (*ConfirmResult, error) {
	o, err := s.loadOrder(ctx, c.OrderNo)
	if err != nil {
		if errors.Is(err, apperr.ErrOrderNotFound) {
			s.logger.Warn("Payment for unknown order",
				zap.String("order_no", c.OrderNo),
				zap.String("provider", c.Provider),
				zap.String("trade_no", c.TradeNo),
			)
		}
		return nil, err
	}

	switch o.Status {
	case models.OrderStatusPaid:
		s.logger.Info("Duplicate payment confirmation",
			zap.String("order_no", o.OrderNo), zap.String("trade_no", c.TradeNo))
		return &ConfirmResult{Order: o, Duplicate: true}, nil
	case models.OrderStatusPending:
	default:
		s.logNotPayable(o.OrderNo, o.Status, c)
		return nil, apperr.ErrOrderNotPayable
	}

	if !pricing.AmountMatches(c.Amount, o.FinalPrice) {
		s.logger.Error("Payment amount mismatch",
			zap.String("order_no", o.OrderNo),
			zap.String("expected", o.FinalPrice.StringFixed(2)),
			zap.String("paid", c.Amount.String()),
			zap.String("trade_no", c.TradeNo),
		)
		return nil, apperr.ErrAmountMismatch
	}

	now := s.now()
	paidAt := c.PaidAt
	if paidAt.IsZero() {
		paidAt = now
	}

	var current models.OrderStatus
	err = database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			"UPDATE orders SET status = 'paid', trade_no = $1, paid_at = $2, updated_at = $3 WHERE order_no = $4 AND status = 'pending'",
			c.TradeNo, paidAt, now, o.OrderNo,
		)
		if err != nil {
			return fmt.Errorf("failed to mark order paid: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to mark order paid: %w", err)
		}
		if n == 0 {
			// Lost to a concurrent confirmation or to lazy expiry.
			var status string
			if err := tx.QueryRowContext(ctx, "SELECT status FROM orders WHERE order_no = $1", o.OrderNo).Scan(&status); err != nil {
				return fmt.Errorf("failed to reload order status: %w", err)
			}
			current = models.OrderStatus(status)
			if current == models.OrderStatusPaid {
				return errLostRace
			}
			return apperr.ErrOrderNotPayable
		}

		if err := creditUser(ctx, tx, o.UserID, o.Credits, now); err != nil {
			return err
		}

		if o.PromoCode != nil {
			consumed, err := s.promos.Consume(ctx, tx, *o.PromoCode, o.UserID, now)
			if err != nil {
				return err
			}
			if !consumed {
				s.logger.Warn("Promo code was already consumed by another order",
					zap.String("order_no", o.OrderNo), zap.String("promo_code", *o.PromoCode))
			}
		}
		return nil
	})
	if errors.Is(err, errLostRace) {
		s.logger.Info("Concurrent duplicate confirmation lost the race",
			zap.String("order_no", o.OrderNo), zap.String("trade_no", c.TradeNo))
		return &ConfirmResult{Order: o, Duplicate: true}, nil
	}
	if errors.Is(err, apperr.ErrOrderNotPayable) {
		s.logNotPayable(o.OrderNo, current, c)
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	o.Status = models.OrderStatusPaid
	o.TradeNo = &c.TradeNo
	o.PaidAt = &paidAt
	o.UpdatedAt = now

	metrics.RecordCredits("granted", o.Credits)
	s.logger.Info("Payment confirmed",
		zap.String("order_no", o.OrderNo),
		zap.Int64("user_id", o.UserID),
		zap.Int("credits", o.Credits),
		zap.String("provider", c.Provider),
		zap.String("trade_no", c.TradeNo),
	)
	s.publish(ctx, models.LedgerEvent{
		EventType:  models.EventOrderPaid,
		OrderNo:    o.OrderNo,
		UserID:     o.UserID,
		Credits:    o.Credits,
		TradeNo:    c.TradeNo,
		OccurredAt: now,
	})
	return &ConfirmResult{Order: o}, nil
}

func (s *Service) logNotPayable(orderNo string, status models.OrderStatus, c models.PaymentConfirmation) {
	s.logger.Error("Payment received for order that is no longer payable, reconcile manually",
		zap.String("order_no", orderNo),
		zap.String("status", string(status)),
		zap.String("provider", c.Provider),
		zap.String("trade_no", c.TradeNo),
		zap.String("amount", c.Amount.String()),
	)
}

// creditUser grants credits to userID. Identity lives outside the ledger,
// so the balance row is created on first purchase.
func creditUser(ctx context.Context, tx *sql.Tx, userID int64, credits int, now time.Time) error {
	res, err := tx.ExecContext(ctx,
		`INSERT INTO users (id, remaining_credits, total_purchased, created_at, updated_at) VALUES ($1, $2, $2, $3, $3)
		ON CONFLICT (id) DO UPDATE SET remaining_credits = users.remaining_credits + EXCLUDED.remaining_credits,
		total_purchased = users.total_purchased + EXCLUDED.total_purchased, updated_at = EXCLUDED.updated_at`,
		userID, credits, now,
	)
	if err != nil {
		return fmt.Errorf("failed to credit user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to credit user: %w", err)
	}
	if n == 0 {
		return apperr.ErrUserNotFound
	}
	return nil
}
