package payment

import (
	"context"
	"fmt"
	"sync"

	"gym-membership/internal/domain"
	"gym-membership/internal/domain/model"
	"gym-membership/internal/domain/ports/adapter"
)

var (
	_ adapter.PaymentGateway  = (*NoopPaymentGateway)(nil)
	_ adapter.WebhookVerifier = (*NoopPaymentGateway)(nil)
)

// NoopPaymentGateway is a simple in-memory gateway for dev mode and tests.
// Its webhook side trusts any well-formed payload.
type NoopPaymentGateway struct {
	mu       sync.Mutex
	seq      int64
	payBase  string
	sessions map[string]*model.ObservedEvent
}

// NewNoopPaymentGateway returns a gateway whose hosted pages live under payBase.
func NewNoopPaymentGateway(payBase string) *NoopPaymentGateway {
	if payBase == "" {
		payBase = "https://example.test/pay/"
	}
	return &NoopPaymentGateway{
		payBase:  payBase,
		sessions: make(map[string]*model.ObservedEvent),
	}
}

func (g *NoopPaymentGateway) Name() string { return "noop" }

func (g *NoopPaymentGateway) next() string {
	g.seq++
	return fmt.Sprintf("cs_noop_%d", g.seq)
}

func (g *NoopPaymentGateway) CreateCheckoutSession(ctx context.Context, params adapter.CheckoutSessionParams) (*adapter.CheckoutSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := g.next()
	g.sessions[id] = &model.ObservedEvent{
		SessionID:  id,
		State:      model.SessionOpen,
		PurchaseID: params.PurchaseID,
		UserID:     params.UserID,
		TargetRole: params.TargetRole,
	}
	return &adapter.CheckoutSession{ID: id, URL: g.payBase + id}, nil
}

func (g *NoopPaymentGateway) RetrieveSession(ctx context.Context, sessionID string) (*model.ObservedEvent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.sessions[sessionID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := *s
	out.Source = model.SourceVerify
	return &out, nil
}

// Pay marks a session as paid with the given amount.
func (g *NoopPaymentGateway) Pay(sessionID string, amount int64, currency string) error {
	return g.set(sessionID, func(s *model.ObservedEvent) {
		s.State = model.SessionPaid
		s.Amount = amount
		s.Currency = model.NormalizeCurrency(currency)
	})
}

// Expire closes a session without payment.
func (g *NoopPaymentGateway) Expire(sessionID string) error {
	return g.set(sessionID, func(s *model.ObservedEvent) { s.State = model.SessionExpired })
}

func (g *NoopPaymentGateway) set(sessionID string, fn func(*model.ObservedEvent)) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.sessions[sessionID]
	if !ok {
		return domain.ErrNotFound
	}
	fn(s)
	return nil
}

// ParseEvent decodes a checkout event without checking the signature.
func (g *NoopPaymentGateway) ParseEvent(payload []byte, _ string) (*model.ObservedEvent, bool, error) {
	return decodeEvent(payload)
}
