package handlers

import (
	"database/sql"
	"net/http"
	"testing"
	"time"

	"ledger-svc/config"
	"ledger-svc/gateway"
	"ledger-svc/ledger"
	"ledger-svc/middleware"
	"ledger-svc/promo"
	"ledger-svc/ratelimit"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

var (
	testSecret = []byte("test-secret")
	testNow    = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
)

const (
	epayPID    = "1001"
	epayKey    = "merchant-key"
	hookSecret = "whsec"
)

type testServer struct {
	router *gin.Engine
	mock   sqlmock.Sqlmock
	db     *sql.DB
}

func setupServer(t *testing.T) *testServer {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger := zaptest.NewLogger(t, zaptest.Level(zap.InfoLevel))
	clock := func() time.Time { return testNow }
	limiter := ratelimit.NewMemoryLimiter()

	registry := gateway.NewRegistry(gateway.EpayName,
		gateway.NewEpay(config.EpayConfig{
			Enabled: true,
			APIURL:  "https://pay.example.com",
			PID:     epayPID,
			Key:     epayKey,
			PayType: "alipay",
		}),
		gateway.NewCheckout(config.CheckoutConfig{
			Enabled:       true,
			APIURL:        "http://127.0.0.1:1",
			WebhookSecret: hookSecret,
			Currency:      "CNY",
			Timeout:       time.Second,
		}, logger),
	)
	promos := promo.NewStore(db, limiter, logger, promo.WithClock(clock), promo.WithLockout(1, 15*time.Minute))
	svc := ledger.NewService(db, promos, registry, logger, ledger.WithClock(clock))

	orders := NewOrderHandler(svc, limiter, 2, time.Minute, logger)
	credits := NewCreditsHandler(svc, logger)
	promoHandler := NewPromoHandler(promos, logger)
	notify := NewNotifyHandler(svc, registry, logger)

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/health", HealthCheck)
	router.GET("/notify/epay", notify.Epay)
	router.POST("/notify/epay", notify.Epay)
	router.POST("/webhooks/checkout", notify.Checkout)
	router.GET("/api/orders/:orderNo", middleware.OptionalAuth(testSecret), orders.GetOrderStatus)

	api := router.Group("/api", middleware.AuthMiddleware(testSecret))
	api.POST("/orders", orders.CreateOrder)
	api.POST("/orders/retry", orders.RetryOrder)
	api.POST("/promo/validate", promoHandler.Validate)
	api.GET("/credits", credits.GetAccount)
	api.POST("/credits/deduct", credits.Deduct)
	api.POST("/credits/refund", credits.Refund)
	api.GET("/reports/:reportId/image-eligibility", credits.ImageEligibility)

	admin := router.Group("/admin", middleware.AuthMiddleware(testSecret), middleware.RequireAdmin())
	admin.POST("/promo-codes", promoHandler.Generate)
	admin.DELETE("/promo-codes/:code", promoHandler.Void)

	return &testServer{router: router, mock: mock, db: db}
}

func bearerFor(t *testing.T, userID int64, role string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID,
		"role":    role,
		"exp":     time.Now().Add(time.Hour).Unix(),
	})
	s, err := token.SignedString(testSecret)
	if err != nil {
		t.Fatalf("Failed to sign token: %v", err)
	}
	return "Bearer " + s
}

func (s *testServer) verify(t *testing.T) {
	t.Helper()
	if err := s.mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Database expectations were not met: %v", err)
	}
}

func withAuth(req *http.Request, auth string) *http.Request {
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	return req
}
