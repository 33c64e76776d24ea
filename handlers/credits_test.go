package handlers

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestGetAccount(t *testing.T) {
	s := setupServer(t)
	s.mock.ExpectQuery("SELECT remaining_credits, total_purchased FROM users").
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"remaining_credits", "total_purchased"}).AddRow(3, 6))

	req := httptest.NewRequest(http.MethodGet, "/api/credits", nil)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, withAuth(req, bearerFor(t, 7, "")))

	want := `{"userId":7,"remainingCredits":3,"totalPurchased":6}`
	if w.Code != http.StatusOK || w.Body.String() != want {
		t.Errorf("Expected %s, got %d: %s", want, w.Code, w.Body.String())
	}
	s.verify(t)
}

func TestDeduct_NeedPurchase(t *testing.T) {
	s := setupServer(t)
	s.mock.ExpectBegin()
	s.mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET remaining_credits = remaining_credits - 1")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	s.mock.ExpectRollback()

	req := httptest.NewRequest(http.MethodPost, "/api/credits/deduct", strings.NewReader(`{"reportType":"standard"}`))
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, withAuth(req, bearerFor(t, 7, "")))

	if w.Code != http.StatusPaymentRequired {
		t.Fatalf("Expected status %d, got %d", http.StatusPaymentRequired, w.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("Invalid JSON: %v", err)
	}
	if body["needPurchase"] != true {
		t.Errorf("Expected needPurchase flag, got %v", body)
	}
	s.verify(t)
}

func TestDeduct_Success(t *testing.T) {
	s := setupServer(t)
	s.mock.ExpectBegin()
	s.mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET remaining_credits = remaining_credits - 1")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	s.mock.ExpectQuery("INSERT INTO usage_logs").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))
	s.mock.ExpectCommit()

	req := httptest.NewRequest(http.MethodPost, "/api/credits/deduct", strings.NewReader(`{"reportType":"standard"}`))
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, withAuth(req, bearerFor(t, 7, "")))

	if w.Code != http.StatusCreated || !strings.Contains(w.Body.String(), `"reportId"`) {
		t.Errorf("Expected reportId, got %d: %s", w.Code, w.Body.String())
	}
	s.verify(t)
}

func TestRefund_AlreadyRefunded(t *testing.T) {
	s := setupServer(t)
	s.mock.ExpectBegin()
	s.mock.ExpectQuery("SELECT user_id, report_status, credits_refunded FROM usage_logs").
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "report_status", "credits_refunded"}).AddRow(int64(7), "failed", true))
	s.mock.ExpectRollback()

	req := httptest.NewRequest(http.MethodPost, "/api/credits/refund", strings.NewReader(`{"reportId":"r1"}`))
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, withAuth(req, bearerFor(t, 7, "")))

	if w.Code != http.StatusConflict || !strings.Contains(w.Body.String(), "already refunded") {
		t.Errorf("Expected 409 already refunded, got %d: %s", w.Code, w.Body.String())
	}
	s.verify(t)
}

func TestImageEligibility(t *testing.T) {
	s := setupServer(t)
	s.mock.ExpectQuery("SELECT user_id, report_type, report_status, image_status, image_retry_count FROM usage_logs").
		WithArgs("r1").
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "report_type", "report_status", "image_status", "image_retry_count"}).
			AddRow(int64(7), "standard", "success", "failed", 1))
	s.mock.ExpectQuery("SELECT user_id, report_type").WithArgs("r2").WillReturnError(sql.ErrNoRows)

	req := httptest.NewRequest(http.MethodGet, "/api/reports/r1/image-eligibility?reportType=standard", nil)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, withAuth(req, bearerFor(t, 7, "")))
	if w.Code != http.StatusOK || w.Body.String() != `{"reportId":"r1","allowed":true}` {
		t.Errorf("Unexpected response %d: %s", w.Code, w.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/api/reports/r2/image-eligibility?reportType=standard", nil)
	w = httptest.NewRecorder()
	s.router.ServeHTTP(w, withAuth(req, bearerFor(t, 7, "")))
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status %d, got %d", http.StatusNotFound, w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/reports/r1/image-eligibility", nil)
	w = httptest.NewRecorder()
	s.router.ServeHTTP(w, withAuth(req, bearerFor(t, 7, "")))
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status %d, got %d", http.StatusBadRequest, w.Code)
	}

	s.verify(t)
}
