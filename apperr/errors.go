package apperr

import (
	"errors"
	"net/http"
)

type Kind string

const (
	KindValidation   Kind = "validation"
	KindAuthz        Kind = "authz"
	KindNotFound     Kind = "not_found"
	KindConflict     Kind = "conflict"
	KindUpstream     Kind = "upstream"
	KindRateLimit    Kind = "rate_limit"
	KindInsufficient Kind = "insufficient"
	KindInternal     Kind = "internal"
)

// Error is a classified ledger error. Sentinels below are compared by identity,
// so wrap them with fmt.Errorf("...: %w", err) rather than copying.
type Error struct {
	Kind    Kind
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func newErr(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg}
}

var (
	// Validation
	ErrInvalidPackage      = newErr(KindValidation, "invalid_package", "invalid package type")
	ErrInvalidPromo        = newErr(KindValidation, "invalid_promo", "invalid or expired promo code")
	ErrInvalidProvider     = newErr(KindValidation, "invalid_provider", "unsupported payment provider")
	ErrInvalidDiscountType = newErr(KindValidation, "invalid_discount_type", "invalid discount type")
	ErrInvalidReportType   = newErr(KindValidation, "invalid_report_type", "invalid report type")
	ErrAmountMismatch      = newErr(KindValidation, "amount_mismatch", "payment amount does not match order")
	ErrInvalidSignature    = newErr(KindValidation, "invalid_signature", "signature verification failed")
	ErrMalformedPayload    = newErr(KindValidation, "malformed_payload", "malformed gateway payload")

	// Authorization
	ErrUnauthorized = newErr(KindAuthz, "unauthorized", "authentication required")
	ErrForbidden    = newErr(KindAuthz, "forbidden", "not the owner of this resource")

	// Not found
	ErrOrderNotFound = newErr(KindNotFound, "order_not_found", "order not found")
	ErrUsageNotFound = newErr(KindNotFound, "usage_not_found", "usage record not found")
	ErrPromoNotFound = newErr(KindNotFound, "promo_not_found", "promo code not found")
	ErrUserNotFound  = newErr(KindNotFound, "user_not_found", "user not found")

	// Conflict
	ErrAlreadyPaid      = newErr(KindConflict, "already_paid", "order already paid")
	ErrOrderNotPayable  = newErr(KindConflict, "order_not_payable", "order is no longer payable")
	ErrAlreadyRefunded  = newErr(KindConflict, "already_refunded", "already refunded")
	ErrReportCompleted  = newErr(KindConflict, "report_completed", "report already completed, credit is not refundable")
	ErrPromoAlreadyUsed = newErr(KindConflict, "promo_used", "promo code already used")
	ErrPromoExhausted   = newErr(KindConflict, "promo_generation_exhausted", "could not generate a unique promo code")

	// Upstream
	ErrGatewayUnavailable = newErr(KindUpstream, "gateway_unavailable", "payment gateway unavailable, please retry")

	// Rate limiting
	ErrPromoLocked = newErr(KindRateLimit, "promo_locked", "too many invalid promo code attempts, try again later")
	ErrTooManyPoll = newErr(KindRateLimit, "rate_limited", "too many requests")

	// Insufficient balance
	ErrInsufficientCredits = newErr(KindInsufficient, "insufficient_credits", "insufficient credits")
)

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// As returns the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}

// HTTPStatus maps an error to the status code handlers respond with.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuthz:
		if errors.Is(err, ErrUnauthorized) {
			return http.StatusUnauthorized
		}
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindUpstream:
		return http.StatusBadGateway
	case KindRateLimit:
		return http.StatusTooManyRequests
	case KindInsufficient:
		return http.StatusPaymentRequired
	default:
		return http.StatusInternalServerError
	}
}

// IsRetryable reports whether the caller may retry the same request later.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindUpstream, KindInternal:
		return true
	}
	return false
}
