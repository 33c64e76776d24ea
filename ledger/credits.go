package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"ledger-svc/apperr"
	"ledger-svc/database"
	"ledger-svc/metrics"
	"ledger-svc/models"

	"go.uber.org/zap"
)

const maxReportTypeLen = 32

// GetAccount returns the balance of userID. Users who never purchased have
// no row and a zero balance.
func (s *Service) GetAccount(ctx context.Context, userID int64) (*models.Account, error) {
	acc := &models.Account{UserID: userID}
	err := s.db.QueryRowContext(ctx,
		"SELECT remaining_credits, total_purchased FROM users WHERE id = $1", userID,
	).Scan(&acc.RemainingCredits, &acc.TotalPurchased)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to load account: %w", err)
	}
	return acc, nil
}

// Deduct spends one credit for a new report and opens its usage record.
// The balance never goes below zero: a user without credits gets
// ErrInsufficientCredits and nothing is written.
func (s *Service) Deduct(ctx context.Context, userID int64, reportType string) (*models.UsageLog, error) {
	reportType = strings.TrimSpace(reportType)
	if reportType == "" || len(reportType) > maxReportTypeLen {
		return nil, apperr.ErrInvalidReportType
	}

	now := s.now()
	u := &models.UsageLog{
		ReportID:        s.newID(),
		UserID:          userID,
		ReportType:      reportType,
		ReportStatus:    models.ReportStatusPending,
		CreditsDeducted: true,
		ImageStatus:     models.ImageStatusNone,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			"UPDATE users SET remaining_credits = remaining_credits - 1, updated_at = $1 WHERE id = $2 AND remaining_credits >= 1",
			now, userID,
		)
		if err != nil {
			return fmt.Errorf("failed to deduct credit: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to deduct credit: %w", err)
		}
		if n == 0 {
			return apperr.ErrInsufficientCredits
		}

		err = tx.QueryRowContext(ctx,
			`INSERT INTO usage_logs (report_id, user_id, report_type, report_status, credits_deducted, image_status, created_at, updated_at)
			VALUES ($1, $2, $3, 'pending', TRUE, 'none', $4, $4) RETURNING id`,
			u.ReportID, userID, reportType, now,
		).Scan(&u.ID)
		if err != nil {
			return fmt.Errorf("failed to insert usage log: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.RecordCredits("deducted", 1)
	s.logger.Info("Credit deducted",
		zap.Int64("user_id", userID),
		zap.String("report_id", u.ReportID),
		zap.String("report_type", reportType),
	)
	s.publish(ctx, models.LedgerEvent{
		EventType:  models.EventCreditsDeducted,
		ReportID:   u.ReportID,
		UserID:     userID,
		Credits:    1,
		OccurredAt: now,
	})
	return u, nil
}

// Refund returns the credit of a report that did not complete. Only the
// owner may refund, and each report is refunded at most once.
func (s *Service) Refund(ctx context.Context, userID int64, reportID string) error {
	return s.refund(ctx, reportID, &userID)
}

// RefundFailedReport is the report pipeline's refund path. It carries no
// caller identity, so ownership is not checked.
func (s *Service) RefundFailedReport(ctx context.Context, reportID string) error {
	return s.refund(ctx, reportID, nil)
}

func (s *Service) refund(ctx context.Context, reportID string, callerID *int64) error {
	now := s.now()
	var ownerID int64

	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		var (
			status   models.ReportStatus
			refunded bool
		)
		err := tx.QueryRowContext(ctx,
			"SELECT user_id, report_status, credits_refunded FROM usage_logs WHERE report_id = $1 FOR UPDATE",
			reportID,
		).Scan(&ownerID, &status, &refunded)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return apperr.ErrUsageNotFound
			}
			return fmt.Errorf("failed to load usage log: %w", err)
		}

		switch {
		case callerID != nil && *callerID != ownerID:
			return apperr.ErrForbidden
		case status == models.ReportStatusSuccess:
			return apperr.ErrReportCompleted
		case refunded:
			return apperr.ErrAlreadyRefunded
		}

		_, err = tx.ExecContext(ctx,
			"UPDATE usage_logs SET credits_refunded = TRUE, report_status = 'failed', refunded_at = $1, updated_at = $1 WHERE report_id = $2",
			now, reportID,
		)
		if err != nil {
			return fmt.Errorf("failed to flag refund: %w", err)
		}

		res, err := tx.ExecContext(ctx,
			"UPDATE users SET remaining_credits = remaining_credits + 1, updated_at = $1 WHERE id = $2",
			now, ownerID,
		)
		if err != nil {
			return fmt.Errorf("failed to refund credit: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to refund credit: %w", err)
		}
		if n == 0 {
			return apperr.ErrUserNotFound
		}
		return nil
	})
	if err != nil {
		return err
	}

	metrics.RecordCredits("refunded", 1)
	s.logger.Info("Credit refunded", zap.Int64("user_id", ownerID), zap.String("report_id", reportID))
	s.publish(ctx, models.LedgerEvent{
		EventType:  models.EventCreditsRefunded,
		ReportID:   reportID,
		UserID:     ownerID,
		Credits:    1,
		OccurredAt: now,
	})
	return nil
}

// CheckImageEligible reports whether a completed report of reportType may
// start another image generation attempt. It changes nothing.
func (s *Service) CheckImageEligible(ctx context.Context, userID int64, reportID, reportType string) (*models.ImageEligibility, error) {
	var (
		ownerID     int64
		storedType  string
		status      models.ReportStatus
		imageStatus models.ImageStatus
		retries     int
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT user_id, report_type, report_status, image_status, image_retry_count FROM usage_logs WHERE report_id = $1",
		reportID,
	).Scan(&ownerID, &storedType, &status, &imageStatus, &retries)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.ErrUsageNotFound
		}
		return nil, fmt.Errorf("failed to load usage log: %w", err)
	}
	if ownerID != userID {
		return nil, apperr.ErrForbidden
	}

	e := &models.ImageEligibility{ReportID: reportID}
	switch {
	case storedType != reportType:
		e.Reason = "report type mismatch"
	case status != models.ReportStatusSuccess:
		e.Reason = "report not completed"
	case imageStatus == models.ImageStatusSuccess:
		e.Reason = "image already generated"
	case retries >= models.MaxImageRetries:
		e.Reason = "image retry limit reached"
	default:
		e.Allowed = true
	}
	return e, nil
}

// MarkReportSuccess records that a report completed. A completed report can
// no longer be refunded. Repeated marks are no-ops.
func (s *Service) MarkReportSuccess(ctx context.Context, reportID string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE usage_logs SET report_status = 'success', updated_at = $1 WHERE report_id = $2 AND report_status = 'pending' AND credits_refunded = FALSE",
		s.now(), reportID,
	)
	if err != nil {
		return fmt.Errorf("failed to mark report success: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to mark report success: %w", err)
	}
	if n == 1 {
		return nil
	}

	var status models.ReportStatus
	err = s.db.QueryRowContext(ctx,
		"SELECT report_status FROM usage_logs WHERE report_id = $1", reportID,
	).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return apperr.ErrUsageNotFound
		}
		return fmt.Errorf("failed to load usage log: %w", err)
	}
	if status == models.ReportStatusSuccess {
		return nil
	}
	return apperr.ErrAlreadyRefunded
}

// RecordImageResult stores the outcome of one image generation attempt.
// Failures count against the retry limit.
func (s *Service) RecordImageResult(ctx context.Context, reportID string, success bool) error {
	query := "UPDATE usage_logs SET image_status = 'failed', image_retry_count = image_retry_count + 1, updated_at = $1 WHERE report_id = $2 AND image_status <> 'success'"
	if success {
		query = "UPDATE usage_logs SET image_status = 'success', updated_at = $1 WHERE report_id = $2"
	}

	res, err := s.db.ExecContext(ctx, query, s.now(), reportID)
	if err != nil {
		return fmt.Errorf("failed to record image result: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to record image result: %w", err)
	}
	if n == 0 && success {
		return apperr.ErrUsageNotFound
	}
	if n == 0 {
		s.logger.Warn("Image failure ignored", zap.String("report_id", reportID))
	}
	return nil
}
