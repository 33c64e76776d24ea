// Package ledger owns every state change of orders, credit balances and
// usage records. Each read-then-write operation runs in one database
// transaction; events are published only after the transaction commits.
package ledger

import (
	"context"
	"database/sql"
	"time"

	"ledger-svc/gateway"
	"ledger-svc/models"
	"ledger-svc/promo"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Publisher receives ledger events after commit. Delivery is best effort.
type Publisher interface {
	Publish(ctx context.Context, event models.LedgerEvent) error
}

type Service struct {
	db         *sql.DB
	promos     *promo.Store
	gateways   *gateway.Registry
	publisher  Publisher
	logger     *zap.Logger
	orderTTL   time.Duration
	now        func() time.Time
	newID      func() string
	newOrderNo func(now time.Time) string
}

type Option func(*Service)

// WithOrderTTL sets how long a pending order stays payable.
func WithOrderTTL(ttl time.Duration) Option {
	return func(s *Service) {
		s.orderTTL = ttl
	}
}

func WithPublisher(p Publisher) Option {
	return func(s *Service) {
		s.publisher = p
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func NewService(db *sql.DB, promos *promo.Store, gateways *gateway.Registry, logger *zap.Logger, opts ...Option) *Service {
	s := &Service{
		db:         db,
		promos:     promos,
		gateways:   gateways,
		logger:     logger,
		orderTTL:   30 * time.Minute,
		now:        time.Now,
		newID:      uuid.NewString,
		newOrderNo: NewOrderNo,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) publish(ctx context.Context, event models.LedgerEvent) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Error("Failed to publish ledger event",
			zap.String("event_type", event.EventType),
			zap.Int64("user_id", event.UserID),
			zap.Error(err),
		)
	}
}
