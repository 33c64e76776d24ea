package gateway

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"ledger-svc/apperr"
	"ledger-svc/config"
	"ledger-svc/models"

	"github.com/shopspring/decimal"
)

const (
	EpayName          = "epay"
	epayTradeSuccess  = "TRADE_SUCCESS"
	EpayAckSuccess    = "success"
	EpayAckFail       = "fail"
	epayDefaultSubmit = "/submit.php"
)

// EpayCallback is the form-encoded notification a legacy hash-callback
// gateway sends to the notify URL.
type EpayCallback struct {
	PID         string
	TradeNo     string
	OutTradeNo  string
	Type        string
	Name        string
	Money       string
	TradeStatus string
}

func parseEpayCallback(values url.Values) EpayCallback {
	return EpayCallback{
		PID:         values.Get("pid"),
		TradeNo:     values.Get("trade_no"),
		OutTradeNo:  values.Get("out_trade_no"),
		Type:        values.Get("type"),
		Name:        values.Get("name"),
		Money:       values.Get("money"),
		TradeStatus: values.Get("trade_status"),
	}
}

func (cb EpayCallback) confirmation(paidAt time.Time) (models.PaymentConfirmation, error) {
	if cb.TradeStatus != epayTradeSuccess {
		return models.PaymentConfirmation{}, ErrIgnoredEvent
	}
	if cb.OutTradeNo == "" || cb.TradeNo == "" {
		return models.PaymentConfirmation{}, apperr.ErrMalformedPayload
	}
	amount, err := decimal.NewFromString(cb.Money)
	if err != nil {
		return models.PaymentConfirmation{}, fmt.Errorf("%w: money %q", apperr.ErrMalformedPayload, cb.Money)
	}
	return models.PaymentConfirmation{
		Provider: EpayName,
		OrderNo:  cb.OutTradeNo,
		TradeNo:  cb.TradeNo,
		Amount:   amount,
		PaidAt:   paidAt,
	}, nil
}

type Epay struct {
	cfg config.EpayConfig
	now func() time.Time
}

func NewEpay(cfg config.EpayConfig) *Epay {
	return &Epay{cfg: cfg, now: time.Now}
}

func (e *Epay) Name() string { return EpayName }

// CreatePayment builds a signed redirect to the gateway's submit page; no
// upstream call is needed.
func (e *Epay) CreatePayment(_ context.Context, req PaymentRequest) (*PaymentHandle, error) {
	if e.cfg.APIURL == "" || e.cfg.PID == "" || e.cfg.Key == "" {
		return nil, fmt.Errorf("%w: epay is not configured", apperr.ErrGatewayUnavailable)
	}

	params := url.Values{}
	params.Set("pid", e.cfg.PID)
	params.Set("type", e.cfg.PayType)
	params.Set("out_trade_no", req.OrderNo)
	params.Set("notify_url", e.cfg.NotifyURL)
	params.Set("return_url", e.cfg.ReturnURL)
	params.Set("name", req.Subject)
	params.Set("money", req.Amount.StringFixed(2))
	params.Set("sign", SignParams(params, e.cfg.Key))
	params.Set("sign_type", "MD5")

	return &PaymentHandle{
		URL: strings.TrimRight(e.cfg.APIURL, "/") + epayDefaultSubmit + "?" + params.Encode(),
	}, nil
}

func (e *Epay) Signature(_ *http.Request, raw []byte) string {
	values, err := url.ParseQuery(string(raw))
	if err != nil {
		return ""
	}
	return values.Get("sign")
}

func (e *Epay) Verify(raw []byte, signature string) bool {
	values, err := url.ParseQuery(string(raw))
	if err != nil {
		return false
	}
	if values.Get("pid") != e.cfg.PID {
		return false
	}
	return VerifyParams(values, e.cfg.Key, signature)
}

func (e *Epay) Normalize(raw []byte) (models.PaymentConfirmation, error) {
	values, err := url.ParseQuery(string(raw))
	if err != nil {
		return models.PaymentConfirmation{}, fmt.Errorf("%w: %v", apperr.ErrMalformedPayload, err)
	}
	// The gateway does not report a payment time; receipt time stands in.
	return parseEpayCallback(values).confirmation(e.now())
}
