package ledger

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"ledger-svc/apperr"
	"ledger-svc/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
)

func confirmation(orderNo, amount string) models.PaymentConfirmation {
	return models.PaymentConfirmation{
		Provider: "fake",
		OrderNo:  orderNo,
		TradeNo:  "T-1001",
		Amount:   decimal.RequireFromString(amount),
		PaidAt:   testNow,
	}
}

func TestConfirmPayment_Pack6GrantsCredits(t *testing.T) {
	env := setupService(t)
	f := pack6Order(models.OrderStatusPending)

	env.expectLoadOrder(f)
	env.mock.ExpectBegin()
	env.mock.ExpectExec("UPDATE orders SET status = 'paid'").
		WithArgs("T-1001", testNow, testNow, f.orderNo).
		WillReturnResult(sqlmock.NewResult(0, 1))
	env.mock.ExpectExec("INSERT INTO users").
		WithArgs(int64(7), 6, testNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	env.mock.ExpectCommit()

	res, err := env.svc.ConfirmPayment(context.Background(), confirmation(f.orderNo, "29.00"))
	if err != nil {
		t.Fatalf("ConfirmPayment returned error: %v", err)
	}
	if res.Duplicate {
		t.Error("Expected first confirmation not to be a duplicate")
	}
	if res.Order.Status != models.OrderStatusPaid || res.Order.TradeNo == nil || *res.Order.TradeNo != "T-1001" {
		t.Errorf("Unexpected order after confirmation %+v", res.Order)
	}

	if len(env.publisher.events) != 1 {
		t.Fatalf("Expected one event, got %d", len(env.publisher.events))
	}
	ev := env.publisher.events[0]
	if ev.EventType != models.EventOrderPaid || ev.Credits != 6 || ev.UserID != 7 {
		t.Errorf("Unexpected event %+v", ev)
	}

	env.verify(t)
}

func TestConfirmPayment_ConsumesPromo(t *testing.T) {
	env := setupService(t)
	f := pack6Order(models.OrderStatusPending)
	f.percent = 50
	f.discount = "14.50"
	f.final = "14.50"
	f.promoCode = "HALF2345"

	env.expectLoadOrder(f)
	env.mock.ExpectBegin()
	env.mock.ExpectExec("UPDATE orders SET status = 'paid'").WillReturnResult(sqlmock.NewResult(0, 1))
	env.mock.ExpectExec("INSERT INTO users").WillReturnResult(sqlmock.NewResult(0, 1))
	env.mock.ExpectExec("UPDATE promo_codes SET is_used = TRUE").
		WithArgs(int64(7), testNow, "HALF2345").
		WillReturnResult(sqlmock.NewResult(0, 1))
	env.mock.ExpectCommit()

	if _, err := env.svc.ConfirmPayment(context.Background(), confirmation(f.orderNo, "14.50")); err != nil {
		t.Fatalf("ConfirmPayment returned error: %v", err)
	}

	env.verify(t)
}

func TestConfirmPayment_PromoRaceDoesNotLosePayment(t *testing.T) {
	env := setupService(t)
	f := pack6Order(models.OrderStatusPending)
	f.promoCode = "HALF2345"

	env.expectLoadOrder(f)
	env.mock.ExpectBegin()
	env.mock.ExpectExec("UPDATE orders SET status = 'paid'").WillReturnResult(sqlmock.NewResult(0, 1))
	env.mock.ExpectExec("INSERT INTO users").WillReturnResult(sqlmock.NewResult(0, 1))
	env.mock.ExpectExec("UPDATE promo_codes SET is_used = TRUE").WillReturnResult(sqlmock.NewResult(0, 0))
	env.mock.ExpectCommit()

	res, err := env.svc.ConfirmPayment(context.Background(), confirmation(f.orderNo, "29.00"))
	if err != nil || res.Duplicate {
		t.Errorf("Expected confirmed payment, got %+v, %v", res, err)
	}

	env.verify(t)
}

func TestConfirmPayment_AlreadyPaidIsIdempotent(t *testing.T) {
	env := setupService(t)
	f := pack6Order(models.OrderStatusPaid)
	env.expectLoadOrder(f)

	res, err := env.svc.ConfirmPayment(context.Background(), confirmation(f.orderNo, "29.00"))
	if err != nil {
		t.Fatalf("ConfirmPayment returned error: %v", err)
	}
	if !res.Duplicate {
		t.Error("Expected duplicate confirmation")
	}
	if len(env.publisher.events) != 0 {
		t.Error("Duplicate confirmation must not publish")
	}

	// No transaction expected.
	env.verify(t)
}

func TestConfirmPayment_ConcurrentDuplicateRollsBack(t *testing.T) {
	env := setupService(t)
	f := pack6Order(models.OrderStatusPending)

	env.expectLoadOrder(f)
	env.mock.ExpectBegin()
	env.mock.ExpectExec("UPDATE orders SET status = 'paid'").WillReturnResult(sqlmock.NewResult(0, 0))
	env.mock.ExpectQuery("SELECT status FROM orders WHERE order_no").
		WithArgs(f.orderNo).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("paid"))
	env.mock.ExpectRollback()

	res, err := env.svc.ConfirmPayment(context.Background(), confirmation(f.orderNo, "29.00"))
	if err != nil {
		t.Fatalf("ConfirmPayment returned error: %v", err)
	}
	if !res.Duplicate {
		t.Error("Expected losing confirmation to report a duplicate")
	}

	env.verify(t)
}

func TestConfirmPayment_ExpiredConcurrentlyIsNotPayable(t *testing.T) {
	env := setupService(t)
	f := pack6Order(models.OrderStatusPending)
	f.createdAt = testNow.Add(-31 * time.Minute)

	env.expectLoadOrder(f)
	env.mock.ExpectBegin()
	env.mock.ExpectExec("UPDATE orders SET status = 'paid'").WillReturnResult(sqlmock.NewResult(0, 0))
	env.mock.ExpectQuery("SELECT status FROM orders WHERE order_no").
		WithArgs(f.orderNo).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("expired"))
	env.mock.ExpectRollback()

	res, err := env.svc.ConfirmPayment(context.Background(), confirmation(f.orderNo, "29.00"))
	if !errors.Is(err, apperr.ErrOrderNotPayable) {
		t.Fatalf("Expected ErrOrderNotPayable, got %v", err)
	}
	if res != nil {
		t.Errorf("Expected no result for an expired order, got %+v", res)
	}

	env.verify(t)
}

func TestConfirmPayment_AmountMismatchLeavesState(t *testing.T) {
	env := setupService(t)
	f := pack6Order(models.OrderStatusPending)
	env.expectLoadOrder(f)

	_, err := env.svc.ConfirmPayment(context.Background(), confirmation(f.orderNo, "28.98"))
	if !errors.Is(err, apperr.ErrAmountMismatch) {
		t.Errorf("Expected ErrAmountMismatch, got %v", err)
	}

	// Only the lookup ran: no transaction, no credit.
	env.verify(t)
}

func TestConfirmPayment_WithinTolerance(t *testing.T) {
	env := setupService(t)
	f := pack6Order(models.OrderStatusPending)

	env.expectLoadOrder(f)
	env.mock.ExpectBegin()
	env.mock.ExpectExec("UPDATE orders SET status = 'paid'").WillReturnResult(sqlmock.NewResult(0, 1))
	env.mock.ExpectExec("INSERT INTO users").WillReturnResult(sqlmock.NewResult(0, 1))
	env.mock.ExpectCommit()

	if _, err := env.svc.ConfirmPayment(context.Background(), confirmation(f.orderNo, "28.99")); err != nil {
		t.Errorf("Expected 0.01 difference to be accepted, got %v", err)
	}

	env.verify(t)
}

func TestConfirmPayment_NotPayable(t *testing.T) {
	for _, status := range []models.OrderStatus{models.OrderStatusExpired, models.OrderStatusFailed} {
		env := setupService(t)
		f := pack6Order(status)
		env.expectLoadOrder(f)

		if _, err := env.svc.ConfirmPayment(context.Background(), confirmation(f.orderNo, "29.00")); !errors.Is(err, apperr.ErrOrderNotPayable) {
			t.Errorf("Expected ErrOrderNotPayable for %s, got %v", status, err)
		}
		env.verify(t)
	}
}

func TestConfirmPayment_UnknownOrder(t *testing.T) {
	env := setupService(t)
	env.mock.ExpectQuery("SELECT id, order_no").WillReturnError(sql.ErrNoRows)

	if _, err := env.svc.ConfirmPayment(context.Background(), confirmation("ORDNOPE", "29.00")); !errors.Is(err, apperr.ErrOrderNotFound) {
		t.Errorf("Expected ErrOrderNotFound, got %v", err)
	}
}

func TestConfirmPayment_CreditFailureRollsBack(t *testing.T) {
	env := setupService(t)
	f := pack6Order(models.OrderStatusPending)

	env.expectLoadOrder(f)
	env.mock.ExpectBegin()
	env.mock.ExpectExec("UPDATE orders SET status = 'paid'").WillReturnResult(sqlmock.NewResult(0, 1))
	env.mock.ExpectExec("INSERT INTO users").WillReturnError(errors.New("connection lost"))
	env.mock.ExpectRollback()

	_, err := env.svc.ConfirmPayment(context.Background(), confirmation(f.orderNo, "29.00"))
	if err == nil {
		t.Fatal("Expected error when crediting fails")
	}
	if !apperr.IsRetryable(err) {
		t.Error("Expected database failure to be retryable")
	}
	if len(env.publisher.events) != 0 {
		t.Error("Rolled back confirmation must not publish")
	}

	env.verify(t)
}
