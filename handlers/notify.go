package handlers

import (
	"errors"
	"io"
	"net/http"

	"ledger-svc/apperr"
	"ledger-svc/gateway"
	"ledger-svc/ledger"
	"ledger-svc/models"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const maxCallbackBody = 1 << 20

// NotifyHandler receives gateway callbacks. Responses follow each provider's
// acknowledgement contract and never carry error detail.
type NotifyHandler struct {
	ledger   *ledger.Service
	gateways *gateway.Registry
	logger   *zap.Logger
}

func NewNotifyHandler(svc *ledger.Service, gateways *gateway.Registry, logger *zap.Logger) *NotifyHandler {
	return &NotifyHandler{ledger: svc, gateways: gateways, logger: logger}
}

// Epay accepts the hash callback as a GET query or a form POST body. The
// gateway retries until it reads the literal "success".
func (h *NotifyHandler) Epay(c *gin.Context) {
	ctx, span := otel.Tracer("ledger-service").Start(c.Request.Context(), "EpayNotify")
	defer span.End()

	adapter, err := h.gateways.Get(gateway.EpayName)
	if err != nil {
		c.String(http.StatusNotFound, gateway.EpayAckFail)
		return
	}

	var raw []byte
	if c.Request.Method == http.MethodGet {
		raw = []byte(c.Request.URL.RawQuery)
	} else {
		raw, err = io.ReadAll(io.LimitReader(c.Request.Body, maxCallbackBody))
		if err != nil {
			c.String(http.StatusOK, gateway.EpayAckFail)
			return
		}
	}

	outcome, err := h.ledger.ProcessCallback(ctx, adapter, raw, adapter.Signature(c.Request, raw))
	span.SetAttributes(attribute.String("outcome", string(outcome)))
	h.logOutcome(adapter.Name(), outcome, err)

	switch outcome {
	case models.NotificationConfirmed, models.NotificationDuplicate, models.NotificationIgnored:
		c.String(http.StatusOK, gateway.EpayAckSuccess)
	default:
		c.String(http.StatusOK, gateway.EpayAckFail)
	}
}

// Checkout accepts the hosted checkout webhook. Only a bad signature and
// transient failures are answered with an error status; permanent
// rejections are acknowledged so the provider stops retrying.
func (h *NotifyHandler) Checkout(c *gin.Context) {
	ctx, span := otel.Tracer("ledger-service").Start(c.Request.Context(), "CheckoutWebhook")
	defer span.End()

	adapter, err := h.gateways.Get(gateway.CheckoutName)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown provider"})
		return
	}

	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxCallbackBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	outcome, err := h.ledger.ProcessCallback(ctx, adapter, raw, adapter.Signature(c.Request, raw))
	span.SetAttributes(attribute.String("outcome", string(outcome)))
	h.logOutcome(adapter.Name(), outcome, err)

	switch {
	case errors.Is(err, apperr.ErrInvalidSignature):
		c.Status(http.StatusUnauthorized)
	case outcome == models.NotificationFailed:
		span.RecordError(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "temporary failure"})
	default:
		c.JSON(http.StatusOK, gin.H{"received": true})
	}
}

func (h *NotifyHandler) logOutcome(provider string, outcome models.NotificationOutcome, err error) {
	fields := []zap.Field{zap.String("provider", provider), zap.String("outcome", string(outcome))}
	switch outcome {
	case models.NotificationFailed:
		h.logger.Error("Gateway callback failed", append(fields, zap.Error(err))...)
	case models.NotificationRejected:
		h.logger.Warn("Gateway callback rejected", append(fields, zap.Error(err))...)
	default:
		h.logger.Info("Gateway callback processed", fields...)
	}
}
