// Package gateway adapts payment providers to the ledger. Each adapter turns
// its provider's callback payload into a models.PaymentConfirmation; the
// ledger never sees provider-specific shapes.
package gateway

import (
	"context"
	"errors"
	"net/http"
	"sort"

	"ledger-svc/apperr"
	"ledger-svc/models"

	"github.com/shopspring/decimal"
)

// ErrIgnoredEvent marks an authentic callback that carries no payment to
// confirm. It is acknowledged to the provider and otherwise dropped.
var ErrIgnoredEvent = errors.New("gateway: event carries no payment confirmation")

type PaymentRequest struct {
	OrderNo string
	UserID  int64
	Subject string
	Amount  decimal.Decimal
}

type PaymentHandle struct {
	URL        string
	ExternalID string
}

type Adapter interface {
	Name() string
	CreatePayment(ctx context.Context, req PaymentRequest) (*PaymentHandle, error)
	// Signature extracts the signature material from an inbound callback.
	Signature(r *http.Request, raw []byte) string
	// Verify checks signature against the raw, unparsed callback bytes.
	Verify(raw []byte, signature string) bool
	// Normalize converts a verified payload. It returns ErrIgnoredEvent for
	// payloads that must be acknowledged without action.
	Normalize(raw []byte) (models.PaymentConfirmation, error)
}

type Registry struct {
	adapters map[string]Adapter
	fallback string
}

func NewRegistry(defaultProvider string, adapters ...Adapter) *Registry {
	r := &Registry{
		adapters: make(map[string]Adapter, len(adapters)),
		fallback: defaultProvider,
	}
	for _, a := range adapters {
		r.adapters[a.Name()] = a
	}
	return r
}

// Get returns the named adapter; an empty name selects the default provider.
func (r *Registry) Get(name string) (Adapter, error) {
	if name == "" {
		name = r.fallback
	}
	a, ok := r.adapters[name]
	if !ok {
		return nil, apperr.ErrInvalidProvider
	}
	return a, nil
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.adapters))
	for n := range r.adapters {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
