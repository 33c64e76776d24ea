package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"ledger-svc/apperr"
	"ledger-svc/circuitbreaker"
	"ledger-svc/config"
	"ledger-svc/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	CheckoutName            = "checkout"
	CheckoutSignatureHeader = "X-Signature"
	checkoutCompleted       = "checkout.completed"
)

// CheckoutEvent is the JSON webhook envelope of the hosted checkout provider.
type CheckoutEvent struct {
	ID        string `json:"id"`
	EventType string `json:"eventType"`
	CreatedAt int64  `json:"created_at"` // unix millis
	Object    struct {
		ID        string `json:"id"`
		RequestID string `json:"request_id"`
		Order     struct {
			ID       string `json:"id"`
			Amount   int64  `json:"amount"` // minor units
			Currency string `json:"currency"`
			Status   string `json:"status"`
		} `json:"order"`
	} `json:"object"`
}

func (ev CheckoutEvent) confirmation() (models.PaymentConfirmation, error) {
	if ev.EventType != checkoutCompleted || ev.Object.Order.Status != "paid" {
		return models.PaymentConfirmation{}, ErrIgnoredEvent
	}
	if ev.Object.RequestID == "" || ev.Object.Order.ID == "" {
		return models.PaymentConfirmation{}, apperr.ErrMalformedPayload
	}
	paidAt := time.UnixMilli(ev.CreatedAt).UTC()
	if ev.CreatedAt == 0 {
		paidAt = time.Now().UTC()
	}
	return models.PaymentConfirmation{
		Provider: CheckoutName,
		OrderNo:  ev.Object.RequestID,
		TradeNo:  ev.Object.Order.ID,
		Amount:   decimal.New(ev.Object.Order.Amount, -2),
		PaidAt:   paidAt,
	}, nil
}

type Checkout struct {
	cfg     config.CheckoutConfig
	client  *http.Client
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.Logger
}

func NewCheckout(cfg config.CheckoutConfig, logger *zap.Logger) *Checkout {
	return &Checkout{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		breaker: circuitbreaker.NewCircuitBreaker(CheckoutName, 5, 30*time.Second, logger),
		logger:  logger,
	}
}

func (c *Checkout) Name() string { return CheckoutName }

type createCheckoutRequest struct {
	RequestID  string            `json:"request_id"`
	Amount     int64             `json:"amount"`
	Currency   string            `json:"currency"`
	SuccessURL string            `json:"success_url,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

type createCheckoutResponse struct {
	ID          string `json:"id"`
	CheckoutURL string `json:"checkout_url"`
}

func (c *Checkout) CreatePayment(ctx context.Context, req PaymentRequest) (*PaymentHandle, error) {
	body, err := json.Marshal(createCheckoutRequest{
		RequestID:  req.OrderNo,
		Amount:     req.Amount.Shift(2).Round(0).IntPart(),
		Currency:   c.cfg.Currency,
		SuccessURL: c.cfg.SuccessURL,
		Metadata: map[string]string{
			"user_id": fmt.Sprint(req.UserID),
			"subject": req.Subject,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal checkout request: %w", err)
	}

	var out createCheckoutResponse
	err = c.breaker.Execute(ctx, func() error {
		return c.post(ctx, "/v1/checkouts", body, &out)
	})
	if err != nil {
		c.logger.Error("Checkout session creation failed",
			zap.String("order_no", req.OrderNo), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", apperr.ErrGatewayUnavailable, err)
	}
	if out.CheckoutURL == "" {
		return nil, fmt.Errorf("%w: empty checkout url", apperr.ErrGatewayUnavailable)
	}

	return &PaymentHandle{URL: out.CheckoutURL, ExternalID: out.ID}, nil
}

func (c *Checkout) post(ctx context.Context, path string, body []byte, out interface{}) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(c.cfg.APIURL, "/")+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.cfg.APIKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("checkout api returned %d: %s", resp.StatusCode, snippet)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Checkout) Signature(r *http.Request, _ []byte) string {
	return r.Header.Get(CheckoutSignatureHeader)
}

func (c *Checkout) Verify(raw []byte, signature string) bool {
	return VerifyHMAC(raw, c.cfg.WebhookSecret, signature)
}

func (c *Checkout) Normalize(raw []byte) (models.PaymentConfirmation, error) {
	var ev CheckoutEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return models.PaymentConfirmation{}, fmt.Errorf("%w: %v", apperr.ErrMalformedPayload, err)
	}
	return ev.confirmation()
}
