package adapter

import (
	"context"

	"gym-membership/internal/domain/model"
)

// CheckoutSessionParams is what we ask the gateway for when a user starts checkout.
type CheckoutSessionParams struct {
	PriceID       string
	SuccessURL    string
	CancelURL     string
	CustomerEmail string
	PurchaseID    string
	UserID        string
	TargetRole    model.Role
}

// CheckoutSession is the gateway's hosted payment page.
type CheckoutSession struct {
	ID  string
	URL string
}

// PaymentGateway is the hex port for the checkout provider.
type PaymentGateway interface {
	Name() string

	// CreateCheckoutSession opens a hosted checkout carrying our correlation metadata.
	CreateCheckoutSession(ctx context.Context, params CheckoutSessionParams) (*CheckoutSession, error)
	// RetrieveSession reads the live session state straight from the gateway.
	RetrieveSession(ctx context.Context, sessionID string) (*model.ObservedEvent, error)
}

// WebhookVerifier authenticates a pushed gateway payload and decodes it.
// ok is false for authentic events this system does not act on.
type WebhookVerifier interface {
	ParseEvent(payload []byte, signatureHeader string) (ev *model.ObservedEvent, ok bool, err error)
}
