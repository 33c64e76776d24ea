package promo

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"ledger-svc/apperr"
	"ledger-svc/ratelimit"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"go.uber.org/zap/zaptest"
)

var testNow = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

var promoRowColumns = []string{"code", "discount_type", "discount_percent", "expires_at", "is_used", "used_by_user_id", "used_at", "created_at"}

func setupStore(t *testing.T) (*Store, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock database: %v", err)
	}
	s := NewStore(db, ratelimit.NewMemoryLimiter(), zaptest.NewLogger(t),
		WithLockout(3, 15*time.Minute),
		WithClock(func() time.Time { return testNow }),
	)
	return s, mock, func() { db.Close() }
}

func promoRow(code string, used bool, expiresAt time.Time) *sqlmock.Rows {
	return sqlmock.NewRows(promoRowColumns).
		AddRow(code, "half", 50, expiresAt, used, nil, nil, testNow.Add(-24*time.Hour))
}

func TestValidate_Redeemable(t *testing.T) {
	s, mock, done := setupStore(t)
	defer done()

	mock.ExpectQuery("SELECT code, discount_type").
		WithArgs("HALF2345").
		WillReturnRows(promoRow("HALF2345", false, testNow.Add(time.Hour)))
	mock.ExpectExec("INSERT INTO promo_attempts").
		WithArgs("10.0.0.1", "HALF2345", true, testNow).
		WillReturnResult(sqlmock.NewResult(1, 1))

	p, err := s.Validate(context.Background(), " half2345 ", "10.0.0.1")
	if err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}
	if p.DiscountPercent != 50 {
		t.Errorf("Expected 50%% discount, got %d", p.DiscountPercent)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Database expectations were not met: %v", err)
	}
}

func TestValidate_RejectsUsedExpiredAndUnknown(t *testing.T) {
	s, mock, done := setupStore(t)
	defer done()

	mock.ExpectQuery("SELECT code, discount_type").
		WillReturnRows(promoRow("USEDCODE", true, testNow.Add(time.Hour)))
	mock.ExpectExec("INSERT INTO promo_attempts").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("SELECT code, discount_type").
		WillReturnRows(promoRow("OLDCODE2", false, testNow.Add(-time.Second)))
	mock.ExpectExec("INSERT INTO promo_attempts").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("SELECT code, discount_type").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec("INSERT INTO promo_attempts").WillReturnResult(sqlmock.NewResult(1, 1))

	for _, code := range []string{"USEDCODE", "OLDCODE2", "NOSUCH99"} {
		if _, err := s.Validate(context.Background(), code, "10.0.0.2"); !errors.Is(err, apperr.ErrInvalidPromo) {
			t.Errorf("Expected ErrInvalidPromo for %s, got %v", code, err)
		}
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Database expectations were not met: %v", err)
	}
}

func TestValidate_LockoutAfterFailures(t *testing.T) {
	s, mock, done := setupStore(t)
	defer done()

	for i := 0; i < 3; i++ {
		mock.ExpectQuery("SELECT code, discount_type").WillReturnError(sql.ErrNoRows)
		mock.ExpectExec("INSERT INTO promo_attempts").WillReturnResult(sqlmock.NewResult(1, 1))
	}
	// Locked out: no lookup, the attempt is still logged.
	mock.ExpectExec("INSERT INTO promo_attempts").
		WithArgs("10.0.0.3", "HALF2345", false, testNow).
		WillReturnResult(sqlmock.NewResult(1, 1))

	for i := 0; i < 3; i++ {
		_, _ = s.Validate(context.Background(), "WRONG000", "10.0.0.3")
	}

	if _, err := s.Validate(context.Background(), "HALF2345", "10.0.0.3"); !errors.Is(err, apperr.ErrPromoLocked) {
		t.Errorf("Expected ErrPromoLocked, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Database expectations were not met: %v", err)
	}
}

func TestValidate_AttemptLogFailureIsNotFatal(t *testing.T) {
	s, mock, done := setupStore(t)
	defer done()

	mock.ExpectQuery("SELECT code, discount_type").
		WillReturnRows(promoRow("HALF2345", false, testNow.Add(time.Hour)))
	mock.ExpectExec("INSERT INTO promo_attempts").WillReturnError(errors.New("disk full"))

	if _, err := s.Validate(context.Background(), "HALF2345", "10.0.0.4"); err != nil {
		t.Errorf("Expected success despite attempt log failure, got %v", err)
	}
}

func TestQuote_HalfOffPack(t *testing.T) {
	s, mock, done := setupStore(t)
	defer done()

	mock.ExpectQuery("SELECT code, discount_type").
		WillReturnRows(promoRow("HALF2345", false, testNow.Add(time.Hour)))
	mock.ExpectExec("INSERT INTO promo_attempts").WillReturnResult(sqlmock.NewResult(1, 1))

	info, _, err := s.Quote(context.Background(), "HALF2345", "PACK_6", "10.0.0.5")
	if err != nil {
		t.Fatalf("Quote returned error: %v", err)
	}
	if info.FinalPrice.StringFixed(2) != "14.50" || info.DiscountAmount.StringFixed(2) != "14.50" {
		t.Errorf("Unexpected price info %+v", info)
	}
	if info.Credits != 6 {
		t.Errorf("Expected 6 credits, got %d", info.Credits)
	}
}

func TestQuote_UnknownPackage(t *testing.T) {
	s, _, done := setupStore(t)
	defer done()

	if _, _, err := s.Quote(context.Background(), "HALF2345", "PACK_99", "10.0.0.5"); !errors.Is(err, apperr.ErrInvalidPackage) {
		t.Errorf("Expected ErrInvalidPackage, got %v", err)
	}
}

func TestGenerate_RetriesCollision(t *testing.T) {
	s, mock, done := setupStore(t)
	defer done()

	codes := []string{"AAAAAAAA", "AAAAAAAA", "BBBBBBBB"}
	s.newCode = func() (string, error) {
		c := codes[0]
		codes = codes[1:]
		return c, nil
	}

	expiresAt := testNow.AddDate(0, 0, 7)
	mock.ExpectExec("INSERT INTO promo_codes").
		WithArgs("AAAAAAAA", "thirty", 30, expiresAt, testNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO promo_codes").
		WithArgs("AAAAAAAA", "thirty", 30, expiresAt, testNow).
		WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectExec("INSERT INTO promo_codes").
		WithArgs("BBBBBBBB", "thirty", 30, expiresAt, testNow).
		WillReturnResult(sqlmock.NewResult(0, 1))

	got, err := s.Generate(context.Background(), "thirty", 2, 7)
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	if len(got) != 2 || got[0] != "AAAAAAAA" || got[1] != "BBBBBBBB" {
		t.Errorf("Unexpected codes %v", got)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Database expectations were not met: %v", err)
	}
}

func TestGenerate_Exhausted(t *testing.T) {
	s, mock, done := setupStore(t)
	defer done()

	s.newCode = func() (string, error) { return "AAAAAAAA", nil }
	for i := 0; i < maxInsertAttempts; i++ {
		mock.ExpectExec("INSERT INTO promo_codes").WillReturnError(&pq.Error{Code: "23505"})
	}

	if _, err := s.Generate(context.Background(), "half", 1, 7); !errors.Is(err, apperr.ErrPromoExhausted) {
		t.Errorf("Expected ErrPromoExhausted, got %v", err)
	}
}

func TestGenerate_UnknownDiscountType(t *testing.T) {
	s, _, done := setupStore(t)
	defer done()

	if _, err := s.Generate(context.Background(), "free", 1, 7); !errors.Is(err, apperr.ErrInvalidDiscountType) {
		t.Errorf("Expected ErrInvalidDiscountType, got %v", err)
	}
}

func TestConsume(t *testing.T) {
	s, mock, done := setupStore(t)
	defer done()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE promo_codes SET is_used = TRUE")).
		WithArgs(int64(7), testNow, "HALF2345").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE promo_codes SET is_used = TRUE")).
		WithArgs(int64(8), testNow, "HALF2345").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	tx, err := s.db.Begin()
	if err != nil {
		t.Fatalf("Begin returned error: %v", err)
	}
	ok, err := s.Consume(context.Background(), tx, "half2345", 7, testNow)
	if err != nil || !ok {
		t.Errorf("Expected first consume to succeed, got %v, %v", ok, err)
	}
	ok, err = s.Consume(context.Background(), tx, "HALF2345", 8, testNow)
	if err != nil || ok {
		t.Errorf("Expected second consume to report already used, got %v, %v", ok, err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit returned error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Database expectations were not met: %v", err)
	}
}

func TestVoid(t *testing.T) {
	s, mock, done := setupStore(t)
	defer done()

	mock.ExpectExec("DELETE FROM promo_codes").WithArgs("FREE2345").
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := s.Void(context.Background(), "FREE2345"); err != nil {
		t.Errorf("Expected void to succeed, got %v", err)
	}

	mock.ExpectExec("DELETE FROM promo_codes").WithArgs("USEDCODE").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT code, discount_type").
		WillReturnRows(promoRow("USEDCODE", true, testNow.Add(time.Hour)))
	if err := s.Void(context.Background(), "USEDCODE"); !errors.Is(err, apperr.ErrPromoAlreadyUsed) {
		t.Errorf("Expected ErrPromoAlreadyUsed, got %v", err)
	}

	mock.ExpectExec("DELETE FROM promo_codes").WithArgs("NOSUCH99").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT code, discount_type").WillReturnError(sql.ErrNoRows)
	if err := s.Void(context.Background(), "NOSUCH99"); !errors.Is(err, apperr.ErrPromoNotFound) {
		t.Errorf("Expected ErrPromoNotFound, got %v", err)
	}
}

func TestPruneAttempts(t *testing.T) {
	s, mock, done := setupStore(t)
	defer done()

	mock.ExpectExec("DELETE FROM promo_attempts").
		WithArgs(testNow.Add(-30 * 24 * time.Hour)).
		WillReturnResult(sqlmock.NewResult(0, 12))

	n, err := s.PruneAttempts(context.Background(), 30*24*time.Hour)
	if err != nil || n != 12 {
		t.Errorf("Expected 12 pruned rows, got %d, %v", n, err)
	}
}
