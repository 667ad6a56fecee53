//go:build !integration

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"gym-membership/internal/config"
	"gym-membership/internal/domain"
	"gym-membership/internal/domain/model"
	"gym-membership/internal/usecase"
)

const testJWTSecret = "test-member-jwt-secret"

type testServer struct {
	checkout   *mockCheckoutUC
	settlement *mockSettlementUC
	limiter    *fakeLimiter
	auth       *AuthManager
	handler    http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{
		checkout:   &mockCheckoutUC{},
		settlement: &mockSettlementUC{},
		limiter:    &fakeLimiter{allow: true},
		auth:       NewAuthManager(testJWTSecret),
	}
	srv := NewServer(config.HTTPConfig{RequestTimeout: time.Second}, ts.checkout, ts.settlement, ts.auth, ts.limiter, false, newTestLogger())
	ts.handler = srv.Routes()
	return ts
}

func (ts *testServer) token(t *testing.T, userID string) string {
	t.Helper()
	tok, err := ts.auth.Mint(userID, "USER", time.Minute)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	return tok
}

func (ts *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t)
	if rec := ts.do(httptest.NewRequest(http.MethodGet, "/health", nil)); rec.Code != http.StatusOK {
		t.Fatalf("health: want 200, got %d", rec.Code)
	}
	if rec := ts.do(httptest.NewRequest(http.MethodGet, "/metrics", nil)); rec.Code != http.StatusOK {
		t.Fatalf("metrics: want 200, got %d", rec.Code)
	}
}

func TestCheckoutHandler(t *testing.T) {
	body := func(v any) *bytes.Reader {
		b, _ := json.Marshal(v)
		return bytes.NewReader(b)
	}

	t.Run("no token -> 401", func(t *testing.T) {
		ts := newTestServer(t)
		req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout", body(checkoutRequest{UserID: "u1", PriceID: "price_gold"}))
		if rec := ts.do(req); rec.Code != http.StatusUnauthorized {
			t.Fatalf("want 401, got %d", rec.Code)
		}
	})

	t.Run("token from another secret -> 401", func(t *testing.T) {
		ts := newTestServer(t)
		tok, _ := NewAuthManager("other-secret").Mint("u1", "USER", time.Minute)
		req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout", body(checkoutRequest{UserID: "u1", PriceID: "price_gold"}))
		req.Header.Set("Authorization", "Bearer "+tok)
		if rec := ts.do(req); rec.Code != http.StatusUnauthorized {
			t.Fatalf("want 401, got %d", rec.Code)
		}
	})

	t.Run("subject mismatch -> 403", func(t *testing.T) {
		ts := newTestServer(t)
		req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout", body(checkoutRequest{UserID: "u2", PriceID: "price_gold"}))
		req.Header.Set("Authorization", "Bearer "+ts.token(t, "u1"))
		if rec := ts.do(req); rec.Code != http.StatusForbidden {
			t.Fatalf("want 403, got %d", rec.Code)
		}
	})

	t.Run("created", func(t *testing.T) {
		ts := newTestServer(t)
		req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout", body(checkoutRequest{PriceID: "price_gold", SuccessPath: "/done"}))
		req.Header.Set("Authorization", "Bearer "+ts.token(t, "u1"))
		rec := ts.do(req)
		if rec.Code != http.StatusCreated {
			t.Fatalf("want 201, got %d body=%s", rec.Code, rec.Body.String())
		}
		var out checkoutResponse
		if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if out.CheckoutURL == "" || out.SessionID != "cs_1" || out.PurchaseID != "p1" {
			t.Fatalf("unexpected response %+v", out)
		}
		if ts.checkout.last.UserID != "u1" || ts.checkout.last.SuccessPath != "/done" {
			t.Errorf("request not forwarded: %+v", ts.checkout.last)
		}
	})

	t.Run("error mapping", func(t *testing.T) {
		tests := []struct {
			err  error
			code int
		}{
			{domain.ErrInvalidArgument, http.StatusBadRequest},
			{domain.ErrUserNotFound, http.StatusNotFound},
			{domain.ErrPlanNotFound, http.StatusNotFound},
			{domain.ErrAlreadyAtOrAboveTarget, http.StatusConflict},
			{fmt.Errorf("create session: %w", domain.ErrGatewayUnavailable), http.StatusBadGateway},
			{errors.New("boom"), http.StatusInternalServerError},
		}
		for _, tt := range tests {
			t.Run(tt.err.Error(), func(t *testing.T) {
				ts := newTestServer(t)
				ts.checkout.InitiateFunc = func(ctx context.Context, req usecase.CheckoutRequest) (*usecase.CheckoutResult, error) {
					return nil, tt.err
				}
				req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout", body(checkoutRequest{UserID: "u1", PriceID: "price_gold"}))
				req.Header.Set("Authorization", "Bearer "+ts.token(t, "u1"))
				if rec := ts.do(req); rec.Code != tt.code {
					t.Fatalf("want %d, got %d", tt.code, rec.Code)
				}
			})
		}
	})

	t.Run("malformed body -> 400", func(t *testing.T) {
		ts := newTestServer(t)
		req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout", strings.NewReader("{"))
		req.Header.Set("Authorization", "Bearer "+ts.token(t, "u1"))
		if rec := ts.do(req); rec.Code != http.StatusBadRequest {
			t.Fatalf("want 400, got %d", rec.Code)
		}
	})
}

func TestWebhookHandler(t *testing.T) {
	tests := []struct {
		name string
		ack  *usecase.WebhookAck
		err  error
		code int
	}{
		{"settled -> 200", &usecase.WebhookAck{Result: &model.ReconciliationResult{Outcome: model.OutcomeSettled}}, nil, http.StatusOK},
		{"unresolved -> 200", &usecase.WebhookAck{Result: &model.ReconciliationResult{Outcome: model.OutcomeUnresolved}}, nil, http.StatusOK},
		{"ignored -> 200", &usecase.WebhookAck{Ignored: true}, nil, http.StatusOK},
		{"bad signature -> 400", nil, domain.ErrInvalidSignature, http.StatusBadRequest},
		{"transient -> 500", &usecase.WebhookAck{}, fmt.Errorf("%w: db down", domain.ErrTransient), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			ts.settlement.HandleWebhookFunc = func(ctx context.Context, payload []byte, signature string) (*usecase.WebhookAck, error) {
				return tt.ack, tt.err
			}
			req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/webhook", strings.NewReader(`{"id":"evt_1"}`))
			req.Header.Set("Stripe-Signature", "t=1,v1=abc")
			rec := ts.do(req)
			if rec.Code != tt.code {
				t.Fatalf("want %d, got %d", tt.code, rec.Code)
			}
			if ts.settlement.lastSig != "t=1,v1=abc" {
				t.Errorf("signature header not forwarded: %q", ts.settlement.lastSig)
			}
		})
	}

	t.Run("oversized body rejected before reconciliation", func(t *testing.T) {
		ts := newTestServer(t)
		called := false
		ts.settlement.HandleWebhookFunc = func(ctx context.Context, payload []byte, signature string) (*usecase.WebhookAck, error) {
			called = true
			return &usecase.WebhookAck{}, nil
		}
		req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/webhook", bytes.NewReader(make([]byte, 65<<10)))
		if rec := ts.do(req); rec.Code != http.StatusRequestEntityTooLarge {
			t.Fatalf("want 413, got %d", rec.Code)
		}
		if called {
			t.Error("reconciliation must not run")
		}
	})
}

func TestVerifyHandler(t *testing.T) {
	t.Run("missing session id -> 400", func(t *testing.T) {
		ts := newTestServer(t)
		if rec := ts.do(httptest.NewRequest(http.MethodGet, "/api/v1/payments/verify", nil)); rec.Code != http.StatusBadRequest {
			t.Fatalf("want 400, got %d", rec.Code)
		}
	})

	t.Run("settled response shape", func(t *testing.T) {
		ts := newTestServer(t)
		ts.settlement.VerifyFunc = func(ctx context.Context, sessionID string) (*usecase.VerifyResult, error) {
			if sessionID != "cs_1" {
				t.Errorf("unexpected session %q", sessionID)
			}
			return &usecase.VerifyResult{
				Outcome: model.OutcomeSettled, Settled: true,
				PurchaseID: "p1", Status: model.PurchaseStatusPaid, TargetRole: model.RoleUserGold,
				UserID: "u1", UserRole: model.RoleUserGold, NewlyUpgraded: true,
			}, nil
		}
		rec := ts.do(httptest.NewRequest(http.MethodGet, "/api/v1/payments/verify?sessionId=cs_1", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("want 200, got %d", rec.Code)
		}
		var out struct {
			Settled  bool `json:"settled"`
			Purchase struct {
				ID         string `json:"id"`
				Status     string `json:"status"`
				TargetRole string `json:"targetRole"`
			} `json:"purchase"`
			User struct {
				ID   string `json:"id"`
				Role string `json:"role"`
			} `json:"user"`
			NewlyUpgraded bool `json:"newlyUpgraded"`
		}
		if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if !out.Settled || !out.NewlyUpgraded || out.Purchase.ID != "p1" || out.Purchase.Status != "PAID" ||
			out.Purchase.TargetRole != "USER_GOLD" || out.User.ID != "u1" || out.User.Role != "USER_GOLD" {
			t.Fatalf("unexpected body %+v", out)
		}
	})

	t.Run("session_id alias accepted", func(t *testing.T) {
		ts := newTestServer(t)
		if rec := ts.do(httptest.NewRequest(http.MethodGet, "/api/v1/payments/verify?session_id=cs_1", nil)); rec.Code != http.StatusOK {
			t.Fatalf("want 200, got %d", rec.Code)
		}
	})

	t.Run("status mapping", func(t *testing.T) {
		tests := []struct {
			name string
			res  *usecase.VerifyResult
			err  error
			code int
		}{
			{"unresolved -> 404", &usecase.VerifyResult{Outcome: model.OutcomeUnresolved}, nil, http.StatusNotFound},
			{"gateway down -> 503", nil, fmt.Errorf("retrieve: %w", domain.ErrGatewayUnavailable), http.StatusServiceUnavailable},
			{"transient -> 503", nil, fmt.Errorf("%w: tx", domain.ErrTransient), http.StatusServiceUnavailable},
			{"gateway rejected -> 502", nil, fmt.Errorf("retrieve: %w", domain.ErrGatewayRejected), http.StatusBadGateway},
			{"other -> 500", nil, errors.New("boom"), http.StatusInternalServerError},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				ts := newTestServer(t)
				ts.settlement.VerifyFunc = func(ctx context.Context, sessionID string) (*usecase.VerifyResult, error) {
					return tt.res, tt.err
				}
				if rec := ts.do(httptest.NewRequest(http.MethodGet, "/api/v1/payments/verify?sessionId=cs_1", nil)); rec.Code != tt.code {
					t.Fatalf("want %d, got %d", tt.code, rec.Code)
				}
			})
		}
	})

	t.Run("rate limited -> 429", func(t *testing.T) {
		ts := newTestServer(t)
		ts.limiter.allow = false
		req := httptest.NewRequest(http.MethodGet, "/api/v1/payments/verify?sessionId=cs_1", nil)
		req.RemoteAddr = "203.0.113.7:5555"
		if rec := ts.do(req); rec.Code != http.StatusTooManyRequests {
			t.Fatalf("want 429, got %d", rec.Code)
		}
		if ts.settlement.verifyCalls != 0 {
			t.Error("verify must not run when rate limited")
		}
		if len(ts.limiter.keys) != 1 || !strings.Contains(ts.limiter.keys[0], "203.0.113.7") {
			t.Errorf("unexpected limiter keys %v", ts.limiter.keys)
		}
	})

	t.Run("limiter error fails open", func(t *testing.T) {
		ts := newTestServer(t)
		ts.limiter.err = errors.New("redis down")
		if rec := ts.do(httptest.NewRequest(http.MethodGet, "/api/v1/payments/verify?sessionId=cs_1", nil)); rec.Code != http.StatusOK {
			t.Fatalf("want 200, got %d", rec.Code)
		}
	})
}

func TestListPurchasesHandler(t *testing.T) {
	ts := newTestServer(t)
	paidAt := time.Now()
	ts.settlement.ListFunc = func(ctx context.Context, userID string, limit int) ([]*model.Purchase, error) {
		return []*model.Purchase{
			{ID: "p2", Status: model.PurchaseStatusPaid, TargetRole: model.RoleUserGold, Amount: 4900, Currency: "USD", PaidAt: &paidAt},
			{ID: "p1", Status: model.PurchaseStatusCanceled, TargetRole: model.RoleUserBronze},
		}, nil
	}

	if rec := ts.do(httptest.NewRequest(http.MethodGet, "/api/v1/purchases", nil)); rec.Code != http.StatusUnauthorized {
		t.Fatalf("want 401, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/purchases?limit=10", nil)
	req.Header.Set("Authorization", "Bearer "+ts.token(t, "u1"))
	rec := ts.do(req)
	if rec.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", rec.Code)
	}
	var out struct {
		Items []purchaseView `json:"items"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Items) != 2 || out.Items[0].ID != "p2" || out.Items[0].PaidAt == nil {
		t.Fatalf("unexpected items %+v", out.Items)
	}
	if ts.settlement.lastUser != "u1" {
		t.Errorf("expected caller's purchases, got user %q", ts.settlement.lastUser)
	}
}

func TestDevPay(t *testing.T) {
	ts := newTestServer(t)
	payer := &fakePayer{}
	srv := NewServer(config.HTTPConfig{}, ts.checkout, ts.settlement, ts.auth, nil, true, newTestLogger()).WithDevPayer(payer)
	h := srv.Routes()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/dev/pay/cs_1?amount=4900", nil))
	if rec.Code != http.StatusOK || payer.paid["cs_1"] != 4900 {
		t.Fatalf("want paid session, got %d %v", rec.Code, payer.paid)
	}

	rec = httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/dev/pay/cs_1?amount=4900", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("dev route must not exist without a payer, got %d", rec.Code)
	}
}

func TestRecoverMiddleware(t *testing.T) {
	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { panic("boom") }), Recover(newTestLogger()))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("want 500, got %d", rec.Code)
	}
}

func TestTraceIDMiddleware(t *testing.T) {
	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}), TraceID())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "req-123")
	h.ServeHTTP(rec, req)
	if rec.Header().Get("X-Request-ID") != "req-123" {
		t.Errorf("expected request id echoed, got %q", rec.Header().Get("X-Request-ID"))
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("expected generated request id")
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", strings.Repeat("x", 65))
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); len(got) > 64 {
		t.Errorf("oversized request id must be replaced, got %q", got)
	}
}
