// File: internal/infra/adapters/payment/stripe_gateway.go
package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"gym-membership/internal/domain"
	"gym-membership/internal/domain/model"
	"gym-membership/internal/domain/ports/adapter"
)

var _ adapter.PaymentGateway = (*StripeGateway)(nil)

// StripeGateway implements adapter.PaymentGateway against the Stripe Checkout REST API
// (or any server speaking the same form-encoded protocol).
type StripeGateway struct {
	apiKey  string
	apiBase string
	client  *http.Client
}

func NewStripeGateway(apiKey, apiBase string, timeout time.Duration) (*StripeGateway, error) {
	if apiKey == "" {
		return nil, errors.New("stripe api key empty")
	}
	if apiBase == "" {
		apiBase = "https://api.stripe.com"
	}
	if _, err := url.Parse(apiBase); err != nil {
		return nil, fmt.Errorf("invalid api base: %w", err)
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &StripeGateway{
		apiKey:  apiKey,
		apiBase: strings.TrimRight(apiBase, "/"),
		client:  &http.Client{Timeout: timeout},
	}, nil
}

func (s *StripeGateway) Name() string { return model.GatewayStripe }

func (s *StripeGateway) endpoint(path string) string { return s.apiBase + path }

// checkoutSession is the subset of the Checkout Session object we read.
type checkoutSession struct {
	ID                string            `json:"id"`
	URL               string            `json:"url"`
	Status            string            `json:"status"`         // open | complete | expired
	PaymentStatus     string            `json:"payment_status"` // paid | unpaid | no_payment_required
	AmountTotal       int64             `json:"amount_total"`
	Currency          string            `json:"currency"`
	ClientReferenceID string            `json:"client_reference_id"`
	Metadata          map[string]string `json:"metadata"`
}

// observed converts a session object into a reconciliation input.
func (cs *checkoutSession) observed(source model.EventSource) *model.ObservedEvent {
	ev := &model.ObservedEvent{
		Source:     source,
		SessionID:  cs.ID,
		State:      sessionState(cs.Status, cs.PaymentStatus),
		Amount:     cs.AmountTotal,
		Currency:   model.NormalizeCurrency(cs.Currency),
		PurchaseID: cs.Metadata["purchaseId"],
		UserID:     cs.Metadata["userId"],
	}
	if ev.PurchaseID == "" {
		ev.PurchaseID = cs.ClientReferenceID
	}
	if r, err := model.ParseRole(cs.Metadata["targetRole"]); err == nil {
		ev.TargetRole = r
	}
	return ev
}

func sessionState(status, paymentStatus string) model.SessionState {
	switch {
	case paymentStatus == "paid":
		return model.SessionPaid
	case status == "expired":
		return model.SessionExpired
	default:
		return model.SessionOpen
	}
}

// CreateCheckoutSession calls POST /v1/checkout/sessions and returns the hosted page.
func (s *StripeGateway) CreateCheckoutSession(ctx context.Context, params adapter.CheckoutSessionParams) (*adapter.CheckoutSession, error) {
	form := url.Values{}
	form.Set("mode", "payment")
	form.Set("line_items[0][price]", params.PriceID)
	form.Set("line_items[0][quantity]", "1")
	form.Set("success_url", params.SuccessURL)
	form.Set("cancel_url", params.CancelURL)
	form.Set("client_reference_id", params.PurchaseID)
	if params.CustomerEmail != "" {
		form.Set("customer_email", params.CustomerEmail)
	}
	form.Set("metadata[purchaseId]", params.PurchaseID)
	form.Set("metadata[userId]", params.UserID)
	form.Set("metadata[targetRole]", string(params.TargetRole))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint("/v1/checkout/sessions"), strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Idempotency-Key", "checkout-"+params.PurchaseID)

	var out checkoutSession
	if err := s.do(req, &out); err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}
	if out.ID == "" || out.URL == "" {
		return nil, fmt.Errorf("create checkout session: %w: empty session", domain.ErrGatewayRejected)
	}
	return &adapter.CheckoutSession{ID: out.ID, URL: out.URL}, nil
}

// RetrieveSession calls GET /v1/checkout/sessions/{id}.
func (s *StripeGateway) RetrieveSession(ctx context.Context, sessionID string) (*model.ObservedEvent, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, domain.ErrInvalidArgument
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint("/v1/checkout/sessions/"+url.PathEscape(sessionID)), nil)
	if err != nil {
		return nil, err
	}
	var out checkoutSession
	if err := s.do(req, &out); err != nil {
		return nil, fmt.Errorf("retrieve session %s: %w", sessionID, err)
	}
	return out.observed(model.SourceVerify), nil
}

// do sends req with credentials and decodes a 2xx body into out.
func (s *StripeGateway) do(req *http.Request, out any) error {
	req.SetBasicAuth(s.apiKey, "")
	req.Header.Set("Accept", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	if err := statusError(resp); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode: %w", domain.ErrGatewayUnavailable, err)
	}
	return nil
}

func statusError(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	var body struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	_ = json.NewDecoder(io.LimitReader(resp.Body, 8<<10)).Decode(&body)
	msg := body.Error.Message
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, msg)
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= 500:
		return fmt.Errorf("%w: http %d: %s", domain.ErrGatewayUnavailable, resp.StatusCode, msg)
	default:
		return fmt.Errorf("%w: http %d: %s", domain.ErrGatewayRejected, resp.StatusCode, msg)
	}
}
