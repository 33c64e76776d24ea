package handlers

import (
	"net/http"
	"time"

	"ledger-svc/apperr"
	"ledger-svc/ledger"
	"ledger-svc/middleware"
	"ledger-svc/models"
	"ledger-svc/ratelimit"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

type OrderHandler struct {
	ledger     *ledger.Service
	limiter    ratelimit.Limiter
	pollLimit  int
	pollWindow time.Duration
	logger     *zap.Logger
}

func NewOrderHandler(svc *ledger.Service, limiter ratelimit.Limiter, pollLimit int, pollWindow time.Duration, logger *zap.Logger) *OrderHandler {
	return &OrderHandler{
		ledger:     svc,
		limiter:    limiter,
		pollLimit:  pollLimit,
		pollWindow: pollWindow,
		logger:     logger,
	}
}

func (h *OrderHandler) CreateOrder(c *gin.Context) {
	ctx, span := otel.Tracer("ledger-service").Start(c.Request.Context(), "CreateOrder")
	defer span.End()

	userID, ok := requireUser(c)
	if !ok {
		return
	}

	var req models.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	span.SetAttributes(
		attribute.Int64("user_id", userID),
		attribute.String("package_type", req.PackageType),
		attribute.String("provider", req.Provider),
		attribute.Bool("promo", req.PromoCode != ""),
	)

	order, err := h.ledger.CreateOrder(ctx, ledger.CreateOrderParams{
		UserID:      userID,
		PackageType: req.PackageType,
		PromoCode:   req.PromoCode,
		Provider:    req.Provider,
		ClientIP:    c.ClientIP(),
	})
	if err != nil {
		respondError(c, h.logger, span, err)
		return
	}

	span.SetAttributes(attribute.String("order_no", order.OrderNo))
	c.JSON(http.StatusCreated, order.OwnerView())
}

func (h *OrderHandler) RetryOrder(c *gin.Context) {
	ctx, span := otel.Tracer("ledger-service").Start(c.Request.Context(), "RetryOrder")
	defer span.End()

	userID, ok := requireUser(c)
	if !ok {
		return
	}

	var req models.RetryOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	span.SetAttributes(attribute.String("order_no", req.OrderNo))

	order, reused, err := h.ledger.RetryOrder(ctx, userID, req.OrderNo)
	if err != nil {
		respondError(c, h.logger, span, err)
		return
	}

	view := order.OwnerView()
	view.Reused = reused
	c.JSON(http.StatusOK, view)
}

// GetOrderStatus serves status polling. Owners see the full order, anyone
// else only its status.
func (h *OrderHandler) GetOrderStatus(c *gin.Context) {
	ctx, span := otel.Tracer("ledger-service").Start(c.Request.Context(), "GetOrderStatus")
	defer span.End()

	orderNo := c.Param("orderNo")
	span.SetAttributes(attribute.String("order_no", orderNo))

	allowed, err := h.limiter.Allow(ctx, "order_poll:"+c.ClientIP()+":"+orderNo, h.pollLimit, h.pollWindow)
	if err != nil {
		h.logger.Warn("Poll limiter unavailable", zap.Error(err))
		allowed = true
	}
	if !allowed {
		respondError(c, h.logger, span, apperr.ErrTooManyPoll)
		return
	}

	order, err := h.ledger.GetOrder(ctx, orderNo)
	if err != nil {
		respondError(c, h.logger, span, err)
		return
	}

	if userID, ok := middleware.UserIDFrom(c); ok && userID == order.UserID {
		c.JSON(http.StatusOK, order.OwnerView())
		return
	}
	c.JSON(http.StatusOK, order.PublicView())
}
