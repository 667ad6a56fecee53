//go:build !integration

package api

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"gym-membership/internal/domain/model"
	"gym-membership/internal/usecase"
)

func newTestLogger() *zerolog.Logger {
	logger := zerolog.Nop()
	return &logger
}

type mockCheckoutUC struct {
	InitiateFunc func(ctx context.Context, req usecase.CheckoutRequest) (*usecase.CheckoutResult, error)
	last         usecase.CheckoutRequest
}

func (m *mockCheckoutUC) Initiate(ctx context.Context, req usecase.CheckoutRequest) (*usecase.CheckoutResult, error) {
	m.last = req
	if m.InitiateFunc != nil {
		return m.InitiateFunc(ctx, req)
	}
	return &usecase.CheckoutResult{CheckoutURL: "https://pay.test/cs_1", SessionID: "cs_1", PurchaseID: "p1"}, nil
}

func (m *mockCheckoutUC) CancelStaleOrphans(ctx context.Context, olderThan time.Duration) (int, error) {
	return 0, nil
}

type mockSettlementUC struct {
	HandleWebhookFunc func(ctx context.Context, payload []byte, signature string) (*usecase.WebhookAck, error)
	VerifyFunc        func(ctx context.Context, sessionID string) (*usecase.VerifyResult, error)
	ListFunc          func(ctx context.Context, userID string, limit int) ([]*model.Purchase, error)

	verifyCalls int
	lastSig     string
	lastUser    string
}

func (m *mockSettlementUC) HandleWebhook(ctx context.Context, payload []byte, signature string) (*usecase.WebhookAck, error) {
	m.lastSig = signature
	if m.HandleWebhookFunc != nil {
		return m.HandleWebhookFunc(ctx, payload, signature)
	}
	return &usecase.WebhookAck{EventID: "evt_1", Result: &model.ReconciliationResult{Outcome: model.OutcomeSettled}}, nil
}

func (m *mockSettlementUC) Verify(ctx context.Context, sessionID string) (*usecase.VerifyResult, error) {
	m.verifyCalls++
	if m.VerifyFunc != nil {
		return m.VerifyFunc(ctx, sessionID)
	}
	return &usecase.VerifyResult{Outcome: model.OutcomeNotPaid}, nil
}

func (m *mockSettlementUC) ListPurchases(ctx context.Context, userID string, limit int) ([]*model.Purchase, error) {
	m.lastUser = userID
	if m.ListFunc != nil {
		return m.ListFunc(ctx, userID, limit)
	}
	return nil, nil
}

type fakeLimiter struct {
	allow bool
	err   error
	keys  []string
}

func (f *fakeLimiter) Allow(ctx context.Context, key string) (bool, error) {
	f.keys = append(f.keys, key)
	return f.allow, f.err
}

type fakePayer struct {
	paid map[string]int64
}

func (f *fakePayer) Pay(sessionID string, amount int64, currency string) error {
	if f.paid == nil {
		f.paid = map[string]int64{}
	}
	f.paid[sessionID] = amount
	return nil
}
