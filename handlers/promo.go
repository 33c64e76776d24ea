package handlers

import (
	"net/http"

	"ledger-svc/models"
	"ledger-svc/promo"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

type PromoHandler struct {
	promos *promo.Store
	logger *zap.Logger
}

func NewPromoHandler(promos *promo.Store, logger *zap.Logger) *PromoHandler {
	return &PromoHandler{promos: promos, logger: logger}
}

func (h *PromoHandler) Validate(c *gin.Context) {
	ctx, span := otel.Tracer("ledger-service").Start(c.Request.Context(), "ValidatePromo")
	defer span.End()

	var req models.ValidatePromoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	info, _, err := h.promos.Quote(ctx, req.PromoCode, req.PackageType, c.ClientIP())
	if err != nil {
		respondError(c, h.logger, span, err)
		return
	}

	c.JSON(http.StatusOK, info)
}

func (h *PromoHandler) Generate(c *gin.Context) {
	ctx, span := otel.Tracer("ledger-service").Start(c.Request.Context(), "GeneratePromoCodes")
	defer span.End()

	var req models.GeneratePromoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	span.SetAttributes(
		attribute.String("discount_type", req.DiscountType),
		attribute.Int("count", req.Count),
	)

	codes, err := h.promos.Generate(ctx, req.DiscountType, req.Count, req.ExpiresInDays)
	if err != nil {
		respondError(c, h.logger, span, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"discountType":  req.DiscountType,
		"expiresInDays": req.ExpiresInDays,
		"codes":         codes,
	})
}

func (h *PromoHandler) Void(c *gin.Context) {
	ctx, span := otel.Tracer("ledger-service").Start(c.Request.Context(), "VoidPromoCode")
	defer span.End()

	code := c.Param("code")
	if err := h.promos.Void(ctx, code); err != nil {
		respondError(c, h.logger, span, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"voided": promo.Normalize(code)})
}
