package model

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"gym-membership/internal/domain"
)

type PurchaseStatus string

const (
	PurchaseStatusPending  PurchaseStatus = "PENDING"  // checkout started; awaiting gateway
	PurchaseStatusPaid     PurchaseStatus = "PAID"     // settled; terminal
	PurchaseStatusFailed   PurchaseStatus = "FAILED"   // gateway reported a failed payment
	PurchaseStatusCanceled PurchaseStatus = "CANCELED" // session expired or abandoned
)

// GatewayStripe tags purchases created through the Stripe-compatible checkout.
const GatewayStripe = "stripe"

// Purchase records a single membership-upgrade payment attempt.
type Purchase struct {
	ID         string
	UserID     string
	TargetRole Role
	Status     PurchaseStatus
	Amount     int64  // minor units
	Currency   string // upper-case ISO 4217
	Gateway    string
	ExternalID string // gateway session id; empty until checkout links it
	CreatedAt  time.Time
	UpdatedAt  time.Time
	PaidAt     *time.Time
}

// NewPurchase builds a PENDING purchase for the given plan.
func NewPurchase(userID string, plan *Plan, gateway string) (*Purchase, error) {
	if userID == "" || plan == nil || !IsPurchasable(plan.Role) || plan.Amount <= 0 {
		return nil, domain.ErrInvalidArgument
	}
	now := time.Now().UTC()
	return &Purchase{
		ID:         uuid.NewString(),
		UserID:     userID,
		TargetRole: plan.Role,
		Status:     PurchaseStatusPending,
		Amount:     plan.Amount,
		Currency:   NormalizeCurrency(plan.Currency),
		Gateway:    gateway,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

func (p *Purchase) IsZero() bool { return p == nil || p.ID == "" }
func (p *Purchase) IsPaid() bool { return p != nil && p.Status == PurchaseStatusPaid }
func (p *Purchase) IsClosed() bool {
	return p != nil && (p.Status == PurchaseStatusFailed || p.Status == PurchaseStatusCanceled)
}

// CanTransition reports whether from -> to is a legal forward move.
// Only PENDING purchases move, and only once.
func CanTransition(from, to PurchaseStatus) bool {
	if from != PurchaseStatusPending {
		return false
	}
	switch to {
	case PurchaseStatusPaid, PurchaseStatusFailed, PurchaseStatusCanceled:
		return true
	}
	return false
}

func NormalizeCurrency(c string) string { return strings.ToUpper(strings.TrimSpace(c)) }
