package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestMiddlewareSetsSecurityHeaders(t *testing.T) {
	api, _ := newTestAPI(t, nil)
	handler := api.Handler()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	for header, want := range map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Referrer-Policy":        "strict-origin-when-cross-origin",
	} {
		if got := rec.Header().Get(header); got != want {
			t.Fatalf("%s: expected %q, got %q", header, want, got)
		}
	}
}

func TestOptionsPreflightReturns204(t *testing.T) {
	api, _ := newTestAPI(t, nil)
	handler := api.Handler()

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/checkout", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 for preflight, got %d", rec.Code)
	}
}

func TestLoginRateLimitReturns429(t *testing.T) {
	api, _ := newTestAPI(t, nil)
	handler := api.Handler()

	payload, _ := json.Marshal(map[string]string{"username": "admin", "password": "badpass"})

	// The loginLimiter allows 5 attempts per minute per client IP.
	var last int
	for i := 0; i < 6; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		last = rec.Code
	}

	if last != http.StatusTooManyRequests {
		t.Fatalf("expected 429 on the sixth attempt, got %d", last)
	}
}

func TestStaffAuthorizeRateLimitReturns429(t *testing.T) {
	api, _ := newTestAPI(t, nil)
	handler := api.Handler()
	token := loginAs(t, handler, "cashier", "cashier123")
	csrf := csrfToken(t, handler)

	// The staffLimiter allows 8 attempts per minute; the limiter fires before
	// any session lookup so no open session is needed.
	var last int
	for i := 0; i < 9; i++ {
		rec := doJSON(t, handler, http.MethodPost, "/api/v1/refund-session/authorize", token, csrf,
			map[string]string{"staff_id": "0000"})
		last = rec.Code
	}

	if last != http.StatusTooManyRequests {
		t.Fatalf("expected 429 on the ninth attempt, got %d", last)
	}
}

func TestCSRFRequiredForMutations(t *testing.T) {
	api, _ := newTestAPI(t, nil)
	handler := api.Handler()
	token := loginAs(t, handler, "cashier", "cashier123")

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/cart/discount", token, "", map[string]string{
		"kind":  "percentage",
		"value": "10",
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without CSRF token, got %d", rec.Code)
	}

	csrf := csrfToken(t, handler)
	rec = doJSON(t, handler, http.MethodPost, "/api/v1/cart/discount", token, csrf, map[string]string{
		"kind":  "percentage",
		"value": "10",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with CSRF token, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestCSRFNotRequiredForReads(t *testing.T) {
	api, _ := newTestAPI(t, nil)
	handler := api.Handler()
	token := loginAs(t, handler, "cashier", "cashier123")

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/cart", token, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected GET to pass without CSRF token, got %d", rec.Code)
	}
}

func TestJSONBodyTooLargeRejected(t *testing.T) {
	api, _ := newTestAPI(t, nil)
	handler := api.Handler()
	token := loginAs(t, handler, "cashier", "cashier123")
	csrf := csrfToken(t, handler)

	// 2 MB of padding blows through the 1 MB MaxBytesReader cap.
	huge := `{"product":{"id":"x","name":"` + strings.Repeat("a", 2<<20) + `"}}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/cart/lines", strings.NewReader(huge))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-CSRF-Token", csrf)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code < 400 {
		t.Fatalf("expected oversized body to be rejected, got %d", rec.Code)
	}
}

func TestInternalErrorsAreGeneric(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, http.StatusInternalServerError, errExposing{})

	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"] != "internal server error" {
		t.Fatalf("expected generic 5xx message, got %q", body["error"])
	}
}

type errExposing struct{}

func (errExposing) Error() string { return `pq: relation "offline_queue" does not exist` }
