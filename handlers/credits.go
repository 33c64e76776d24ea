package handlers

import (
	"net/http"

	"ledger-svc/ledger"
	"ledger-svc/models"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

type CreditsHandler struct {
	ledger *ledger.Service
	logger *zap.Logger
}

func NewCreditsHandler(svc *ledger.Service, logger *zap.Logger) *CreditsHandler {
	return &CreditsHandler{ledger: svc, logger: logger}
}

func (h *CreditsHandler) GetAccount(c *gin.Context) {
	ctx, span := otel.Tracer("ledger-service").Start(c.Request.Context(), "GetAccount")
	defer span.End()

	userID, ok := requireUser(c)
	if !ok {
		return
	}

	acc, err := h.ledger.GetAccount(ctx, userID)
	if err != nil {
		respondError(c, h.logger, span, err)
		return
	}
	c.JSON(http.StatusOK, acc)
}

func (h *CreditsHandler) Deduct(c *gin.Context) {
	ctx, span := otel.Tracer("ledger-service").Start(c.Request.Context(), "DeductCredit")
	defer span.End()

	userID, ok := requireUser(c)
	if !ok {
		return
	}

	var req models.DeductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	span.SetAttributes(attribute.Int64("user_id", userID), attribute.String("report_type", req.ReportType))

	usage, err := h.ledger.Deduct(ctx, userID, req.ReportType)
	if err != nil {
		respondError(c, h.logger, span, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"reportId": usage.ReportID})
}

func (h *CreditsHandler) Refund(c *gin.Context) {
	ctx, span := otel.Tracer("ledger-service").Start(c.Request.Context(), "RefundCredit")
	defer span.End()

	userID, ok := requireUser(c)
	if !ok {
		return
	}

	var req models.RefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	span.SetAttributes(attribute.String("report_id", req.ReportID))

	if err := h.ledger.Refund(ctx, userID, req.ReportID); err != nil {
		respondError(c, h.logger, span, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"reportId": req.ReportID, "refunded": true})
}

func (h *CreditsHandler) ImageEligibility(c *gin.Context) {
	ctx, span := otel.Tracer("ledger-service").Start(c.Request.Context(), "CheckImageEligible")
	defer span.End()

	userID, ok := requireUser(c)
	if !ok {
		return
	}

	reportType := c.Query("reportType")
	if reportType == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "reportType is required"})
		return
	}

	e, err := h.ledger.CheckImageEligible(ctx, userID, c.Param("reportId"), reportType)
	if err != nil {
		respondError(c, h.logger, span, err)
		return
	}
	c.JSON(http.StatusOK, e)
}
