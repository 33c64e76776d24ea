package promo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ledger-svc/apperr"
	"ledger-svc/metrics"
	"ledger-svc/models"
	"ledger-svc/pricing"
	"ledger-svc/ratelimit"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

const (
	promoColumns      = "code, discount_type, discount_percent, expires_at, is_used, used_by_user_id, used_at, created_at"
	uniqueViolation   = "23505"
	maxInsertAttempts = 5
)

type Store struct {
	db            *sql.DB
	limiter       ratelimit.Limiter
	logger        *zap.Logger
	lockoutLimit  int
	lockoutWindow time.Duration
	now           func() time.Time
	newCode       func() (string, error)
}

type Option func(*Store)

// WithLockout sets how many failed validations per client are tolerated
// inside the trailing window before every validation is refused.
func WithLockout(limit int, window time.Duration) Option {
	return func(s *Store) {
		s.lockoutLimit = limit
		s.lockoutWindow = window
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

func NewStore(db *sql.DB, limiter ratelimit.Limiter, logger *zap.Logger, opts ...Option) *Store {
	s := &Store{
		db:            db,
		limiter:       limiter,
		logger:        logger,
		lockoutLimit:  5,
		lockoutWindow: 15 * time.Minute,
		now:           time.Now,
		newCode:       NewCode,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Get(ctx context.Context, code string) (*models.PromoCode, error) {
	var p models.PromoCode
	err := s.db.QueryRowContext(ctx,
		"SELECT "+promoColumns+" FROM promo_codes WHERE code = $1",
		Normalize(code),
	).Scan(&p.Code, &p.DiscountType, &p.DiscountPercent, &p.ExpiresAt, &p.IsUsed, &p.UsedByUserID, &p.UsedAt, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.ErrPromoNotFound
		}
		return nil, fmt.Errorf("failed to load promo code: %w", err)
	}
	return &p, nil
}

// Validate resolves a redeemable code for clientIP. Clients that piled up
// too many failures in the lockout window are refused before the code is
// even looked up, so the code space cannot be enumerated.
func (s *Store) Validate(ctx context.Context, code, clientIP string) (*models.PromoCode, error) {
	code = Normalize(code)
	failKey := "promo_fail:" + clientIP

	failures, err := s.limiter.Count(ctx, failKey, s.lockoutWindow)
	if err != nil {
		s.logger.Warn("Promo limiter unavailable, skipping lockout check",
			zap.String("client_ip", clientIP), zap.Error(err))
		failures = 0
	}
	if failures >= s.lockoutLimit {
		s.recordAttempt(ctx, clientIP, code, false)
		metrics.RecordPromoValidation("locked")
		s.logger.Warn("Promo validation locked out",
			zap.String("client_ip", clientIP), zap.Int("failures", failures))
		return nil, apperr.ErrPromoLocked
	}

	var p *models.PromoCode
	if code != "" {
		p, err = s.Get(ctx, code)
		if err != nil && !errors.Is(err, apperr.ErrPromoNotFound) {
			return nil, err
		}
	}

	if p == nil || !p.Redeemable(s.now()) {
		if err := s.limiter.Hit(ctx, failKey, s.lockoutWindow); err != nil {
			s.logger.Warn("Failed to record promo failure", zap.String("client_ip", clientIP), zap.Error(err))
		}
		s.recordAttempt(ctx, clientIP, code, false)
		metrics.RecordPromoValidation("invalid")
		return nil, apperr.ErrInvalidPromo
	}

	s.recordAttempt(ctx, clientIP, code, true)
	metrics.RecordPromoValidation("valid")
	return p, nil
}

// Quote validates code and prices packageType with its discount.
func (s *Store) Quote(ctx context.Context, code, packageType, clientIP string) (models.PriceInfo, *models.PromoCode, error) {
	if _, ok := pricing.Lookup(packageType); !ok {
		return models.PriceInfo{}, nil, apperr.ErrInvalidPackage
	}

	p, err := s.Validate(ctx, code, clientIP)
	if err != nil {
		return models.PriceInfo{}, nil, err
	}

	info, err := pricing.Calculate(packageType, p.DiscountPercent)
	if err != nil {
		return models.PriceInfo{}, nil, err
	}
	return info, p, nil
}

// Generate creates count fresh codes of discountType expiring in
// expiresInDays. A colliding code is redrawn rather than failing the batch.
func (s *Store) Generate(ctx context.Context, discountType string, count, expiresInDays int) ([]string, error) {
	dt := models.DiscountType(discountType)
	percent, ok := dt.Percent()
	if !ok {
		return nil, apperr.ErrInvalidDiscountType
	}

	now := s.now()
	expiresAt := now.AddDate(0, 0, expiresInDays)

	codes := make([]string, 0, count)
	for i := 0; i < count; i++ {
		code, err := s.insertUnique(ctx, dt, percent, expiresAt, now)
		if err != nil {
			return codes, err
		}
		codes = append(codes, code)
	}

	s.logger.Info("Promo codes generated",
		zap.String("discount_type", discountType),
		zap.Int("count", len(codes)),
		zap.Time("expires_at", expiresAt),
	)
	return codes, nil
}

func (s *Store) insertUnique(ctx context.Context, dt models.DiscountType, percent int, expiresAt, now time.Time) (string, error) {
	for attempt := 1; attempt <= maxInsertAttempts; attempt++ {
		code, err := s.newCode()
		if err != nil {
			return "", err
		}

		_, err = s.db.ExecContext(ctx,
			"INSERT INTO promo_codes (code, discount_type, discount_percent, expires_at, created_at) VALUES ($1, $2, $3, $4, $5)",
			code, string(dt), percent, expiresAt, now,
		)
		if err == nil {
			return code, nil
		}

		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			s.logger.Debug("Promo code collision, redrawing", zap.Int("attempt", attempt))
			continue
		}
		return "", fmt.Errorf("failed to insert promo code: %w", err)
	}
	return "", apperr.ErrPromoExhausted
}

// Consume marks code used by userID. It only runs inside the payment
// confirmation transaction; false means another order already consumed it.
func (s *Store) Consume(ctx context.Context, tx *sql.Tx, code string, userID int64, at time.Time) (bool, error) {
	res, err := tx.ExecContext(ctx,
		"UPDATE promo_codes SET is_used = TRUE, used_by_user_id = $1, used_at = $2 WHERE code = $3 AND is_used = FALSE",
		userID, at, Normalize(code),
	)
	if err != nil {
		return false, fmt.Errorf("failed to consume promo code: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to consume promo code: %w", err)
	}
	return n == 1, nil
}

// Void deletes a code that was never used.
func (s *Store) Void(ctx context.Context, code string) error {
	code = Normalize(code)
	res, err := s.db.ExecContext(ctx, "DELETE FROM promo_codes WHERE code = $1 AND is_used = FALSE", code)
	if err != nil {
		return fmt.Errorf("failed to void promo code: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		s.logger.Info("Promo code voided", zap.String("code", code))
		return nil
	}

	if _, err := s.Get(ctx, code); err != nil {
		return err
	}
	return apperr.ErrPromoAlreadyUsed
}

// PruneAttempts removes attempt-log rows older than retention.
func (s *Store) PruneAttempts(ctx context.Context, retention time.Duration) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM promo_attempts WHERE created_at < $1", s.now().Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("failed to prune promo attempts: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) recordAttempt(ctx context.Context, clientIP, code string, success bool) {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO promo_attempts (client_ip, code, success, created_at) VALUES ($1, $2, $3, $4)",
		clientIP, code, success, s.now(),
	)
	if err != nil {
		s.logger.Warn("Failed to record promo attempt", zap.String("client_ip", clientIP), zap.Error(err))
	}
}
