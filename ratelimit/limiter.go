// Package ratelimit holds the advisory sliding-window counters used for promo
// lockout and order-status throttling. Nothing in the ledger's correctness
// depends on them: callers fail open when a limiter errors.
package ratelimit

import (
	"context"
	"time"
)

type Limiter interface {
	// Hit records one event under key.
	Hit(ctx context.Context, key string, window time.Duration) error
	// Count returns how many events were recorded under key within the trailing window.
	Count(ctx context.Context, key string, window time.Duration) (int, error)
	// Allow records one event and reports whether the window count, including
	// this event, stays within limit.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}
