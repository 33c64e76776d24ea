package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"ledger-svc/config"

	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

func InitDB(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(1 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := Migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("Database connection established",
		zap.String("host", cfg.Host),
		zap.String("dbname", cfg.Name),
	)
	return db, nil
}

// Migrate creates the ledger tables if they do not exist yet.
func Migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement %d: %w", i, err)
		}
	}
	return nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id BIGSERIAL PRIMARY KEY,
		email VARCHAR(255) UNIQUE,
		remaining_credits INTEGER NOT NULL DEFAULT 0,
		total_purchased INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS promo_codes (
		code VARCHAR(32) PRIMARY KEY,
		discount_type VARCHAR(32) NOT NULL,
		discount_percent INTEGER NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL,
		is_used BOOLEAN NOT NULL DEFAULT FALSE,
		used_by_user_id BIGINT,
		used_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS orders (
		id BIGSERIAL PRIMARY KEY,
		order_no VARCHAR(64) UNIQUE NOT NULL,
		user_id BIGINT NOT NULL,
		package_type VARCHAR(32) NOT NULL,
		credits INTEGER NOT NULL,
		original_price NUMERIC(10, 2) NOT NULL,
		discount_percent INTEGER NOT NULL DEFAULT 0,
		discount_amount NUMERIC(10, 2) NOT NULL DEFAULT 0,
		final_price NUMERIC(10, 2) NOT NULL,
		promo_code VARCHAR(32),
		provider VARCHAR(32) NOT NULL,
		payment_url TEXT NOT NULL DEFAULT '',
		status VARCHAR(16) NOT NULL DEFAULT 'pending',
		trade_no VARCHAR(128),
		paid_at TIMESTAMPTZ,
		retry_of VARCHAR(64),
		created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_user_id ON orders (user_id)`,
	`CREATE TABLE IF NOT EXISTS usage_logs (
		id BIGSERIAL PRIMARY KEY,
		report_id VARCHAR(64) UNIQUE NOT NULL,
		user_id BIGINT NOT NULL,
		report_type VARCHAR(32) NOT NULL,
		report_status VARCHAR(16) NOT NULL DEFAULT 'pending',
		credits_deducted BOOLEAN NOT NULL DEFAULT FALSE,
		credits_refunded BOOLEAN NOT NULL DEFAULT FALSE,
		image_status VARCHAR(16) NOT NULL DEFAULT 'none',
		image_retry_count INTEGER NOT NULL DEFAULT 0,
		refunded_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_usage_logs_user_id ON usage_logs (user_id)`,
	`CREATE TABLE IF NOT EXISTS promo_attempts (
		id BIGSERIAL PRIMARY KEY,
		client_ip VARCHAR(64) NOT NULL,
		code VARCHAR(64) NOT NULL,
		success BOOLEAN NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_promo_attempts_ip_time ON promo_attempts (client_ip, created_at)`,
	`CREATE TABLE IF NOT EXISTS payment_notifications (
		id BIGSERIAL PRIMARY KEY,
		provider VARCHAR(32) NOT NULL,
		order_no VARCHAR(64),
		trade_no VARCHAR(128),
		raw_payload TEXT NOT NULL,
		outcome VARCHAR(16) NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_payment_notifications_order_no ON payment_notifications (order_no)`,
}
