package ledger

import (
	"context"
	"errors"
	"fmt"

	"ledger-svc/apperr"
	"ledger-svc/gateway"
	"ledger-svc/metrics"
	"ledger-svc/models"

	"go.uber.org/zap"
)

// ProcessCallback authenticates a raw gateway callback, confirms the payment
// it carries and stores the callback with its outcome. The returned error
// explains rejected and failed outcomes; callers translate the outcome into
// the provider's acknowledgement.
func (s *Service) ProcessCallback(ctx context.Context, adapter gateway.Adapter, raw []byte, signature string) (models.NotificationOutcome, error) {
	n := models.PaymentNotification{
		Provider:   adapter.Name(),
		RawPayload: string(raw),
		CreatedAt:  s.now(),
	}

	outcome, err := s.processCallback(ctx, adapter, raw, signature, &n)
	n.Outcome = outcome
	if err != nil {
		n.Reason = err.Error()
	}

	if recErr := s.RecordNotification(ctx, n); recErr != nil {
		s.logger.Error("Failed to store payment notification",
			zap.String("provider", n.Provider),
			zap.String("order_no", n.OrderNo),
			zap.Error(recErr),
		)
	}
	metrics.RecordPaymentCallback(n.Provider, string(outcome))
	return outcome, err
}

func (s *Service) processCallback(ctx context.Context, adapter gateway.Adapter, raw []byte, signature string, n *models.PaymentNotification) (models.NotificationOutcome, error) {
	if !adapter.Verify(raw, signature) {
		s.logger.Warn("Gateway callback failed signature verification", zap.String("provider", adapter.Name()))
		return models.NotificationRejected, apperr.ErrInvalidSignature
	}

	conf, err := adapter.Normalize(raw)
	if errors.Is(err, gateway.ErrIgnoredEvent) {
		return models.NotificationIgnored, nil
	}
	if err != nil {
		return models.NotificationRejected, err
	}
	n.OrderNo = conf.OrderNo
	n.TradeNo = conf.TradeNo

	res, err := s.ConfirmPayment(ctx, conf)
	switch {
	case err == nil && res.Duplicate:
		return models.NotificationDuplicate, nil
	case err == nil:
		return models.NotificationConfirmed, nil
	case apperr.IsRetryable(err):
		return models.NotificationFailed, err
	default:
		return models.NotificationRejected, err
	}
}

// RecordNotification stores one inbound callback for reconciliation.
func (s *Service) RecordNotification(ctx context.Context, n models.PaymentNotification) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO payment_notifications (provider, order_no, trade_no, raw_payload, outcome, reason, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7)",
		n.Provider, n.OrderNo, n.TradeNo, n.RawPayload, string(n.Outcome), n.Reason, n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert payment notification: %w", err)
	}
	return nil
}
