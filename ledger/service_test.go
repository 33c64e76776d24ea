package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"ledger-svc/gateway"
	"ledger-svc/models"
	"ledger-svc/promo"
	"ledger-svc/ratelimit"

	"github.com/DATA-DOG/go-sqlmock"
	"go.uber.org/zap/zaptest"
)

var testNow = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

var orderRowColumns = []string{
	"id", "order_no", "user_id", "package_type", "credits", "original_price", "discount_percent", "discount_amount", "final_price",
	"promo_code", "provider", "payment_url", "status", "trade_no", "paid_at", "retry_of", "created_at", "updated_at",
}

type fakeAdapter struct {
	url       string
	createErr error
	created   []gateway.PaymentRequest
	verifyOK  bool
	conf      models.PaymentConfirmation
	normErr   error
}

func (f *fakeAdapter) Name() string { return "fake" }

func (f *fakeAdapter) CreatePayment(_ context.Context, req gateway.PaymentRequest) (*gateway.PaymentHandle, error) {
	f.created = append(f.created, req)
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &gateway.PaymentHandle{URL: f.url + "?order=" + req.OrderNo}, nil
}

func (f *fakeAdapter) Signature(_ *http.Request, _ []byte) string { return "sig" }

func (f *fakeAdapter) Verify(_ []byte, _ string) bool { return f.verifyOK }

func (f *fakeAdapter) Normalize(_ []byte) (models.PaymentConfirmation, error) {
	return f.conf, f.normErr
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.LedgerEvent
}

func (p *recordingPublisher) Publish(_ context.Context, ev models.LedgerEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

type testEnv struct {
	svc       *Service
	mock      sqlmock.Sqlmock
	db        *sql.DB
	adapter   *fakeAdapter
	publisher *recordingPublisher
}

func setupService(t *testing.T) *testEnv {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger := zaptest.NewLogger(t)
	clock := func() time.Time { return testNow }
	adapter := &fakeAdapter{url: "https://pay.example.com/submit", verifyOK: true}
	publisher := &recordingPublisher{}

	promos := promo.NewStore(db, ratelimit.NewMemoryLimiter(), logger, promo.WithClock(clock))
	svc := NewService(db, promos, gateway.NewRegistry("fake", adapter), logger,
		WithClock(clock),
		WithPublisher(publisher),
	)
	seq := 0
	svc.newOrderNo = func(time.Time) string {
		seq++
		return fmt.Sprintf("ORD20260301%016X", seq)
	}
	svc.newID = func() string { return "11111111-2222-3333-4444-555555555555" }

	return &testEnv{svc: svc, mock: mock, db: db, adapter: adapter, publisher: publisher}
}

func (e *testEnv) verify(t *testing.T) {
	t.Helper()
	if err := e.mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Database expectations were not met: %v", err)
	}
}

type orderFixture struct {
	orderNo   string
	userID    int64
	pkg       string
	credits   int
	original  string
	percent   int
	discount  string
	final     string
	promoCode interface{}
	status    models.OrderStatus
	createdAt time.Time
}

func pack6Order(status models.OrderStatus) orderFixture {
	return orderFixture{
		orderNo:   "ORD20260301AAAAAAAAAAAAAAAA",
		userID:    7,
		pkg:       "PACK_6",
		credits:   6,
		original:  "29.00",
		discount:  "0.00",
		final:     "29.00",
		status:    status,
		createdAt: testNow.Add(-5 * time.Minute),
	}
}

func (f orderFixture) rows() *sqlmock.Rows {
	return sqlmock.NewRows(orderRowColumns).AddRow(
		int64(1), f.orderNo, f.userID, f.pkg, f.credits, f.original, f.percent, f.discount, f.final,
		f.promoCode, "fake", "https://pay.example.com/submit", string(f.status), nil, nil, nil, f.createdAt, f.createdAt,
	)
}

func (e *testEnv) expectLoadOrder(f orderFixture) {
	e.mock.ExpectQuery("SELECT id, order_no, user_id, .+ FROM orders WHERE order_no").
		WithArgs(f.orderNo).
		WillReturnRows(f.rows())
}
