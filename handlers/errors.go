package handlers

import (
	"net/http"

	"ledger-svc/apperr"
	"ledger-svc/middleware"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// respondError writes the client-facing form of err. Classified errors carry
// their message and code; anything else is logged and reported as a 500.
func respondError(c *gin.Context, logger *zap.Logger, span trace.Span, err error) {
	e, ok := apperr.As(err)
	if !ok || e.Kind == apperr.KindInternal {
		span.RecordError(err)
		logger.Error("Request failed",
			zap.String("trace_id", middleware.GetTraceID(c.Request.Context())),
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	body := gin.H{"error": e.Message, "code": e.Code}
	switch e.Kind {
	case apperr.KindInsufficient:
		body["needPurchase"] = true
	case apperr.KindUpstream:
		span.RecordError(err)
		body["retryable"] = true
	}
	c.JSON(apperr.HTTPStatus(err), body)
}

func requireUser(c *gin.Context) (int64, bool) {
	userID, ok := middleware.UserIDFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
	}
	return userID, ok
}
