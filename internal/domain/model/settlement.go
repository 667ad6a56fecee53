package model

import "time"

// SessionState is the payment state the gateway reports for a checkout session.
type SessionState string

const (
	SessionOpen    SessionState = "open"    // not paid yet
	SessionPaid    SessionState = "paid"    // money received
	SessionFailed  SessionState = "failed"  // async payment failed
	SessionExpired SessionState = "expired" // session closed without payment
)

// EventSource tells which entry point produced an observed event.
type EventSource string

const (
	SourceWebhook EventSource = "webhook"
	SourceVerify  EventSource = "verify"
)

// ObservedEvent is what the gateway told us about a checkout session, either
// pushed through a signed webhook or pulled by a live session read.
type ObservedEvent struct {
	Source    EventSource
	EventID   string // gateway event id; empty for live reads
	SessionID string
	State     SessionState
	Amount    int64
	Currency  string

	// Correlation metadata embedded at checkout. May be empty.
	PurchaseID string
	UserID     string
	TargetRole Role
}

func (e *ObservedEvent) IsPaid() bool { return e != nil && e.State == SessionPaid }

// Outcome is the closed set of reconciliation results.
type Outcome string

const (
	OutcomeSettled          Outcome = "settled"           // this call moved the purchase to PAID
	OutcomeAlreadySettled   Outcome = "already_settled"   // purchase was PAID before, or we lost the race
	OutcomeNotPaid          Outcome = "not_paid"          // gateway does not report a completed payment
	OutcomeUnresolved       Outcome = "unresolved"        // no purchase matches the event
	OutcomeClosed           Outcome = "closed"            // purchase is FAILED/CANCELED; paid event ignored
	OutcomeTransientFailure Outcome = "transient_failure" // retry is safe
)

// ReconciliationResult describes what a single reconciliation did.
type ReconciliationResult struct {
	Outcome        Outcome
	PurchaseID     string
	UserID         string
	Status         PurchaseStatus // purchase status after the call
	TargetRole     Role
	ResultingRole  Role // user's role after the call; empty when no user was read
	NewlyPaid      bool
	NewlyUpgraded  bool
	AmountMismatch bool
}

// Settled reports whether the purchase is PAID after the call.
func (r *ReconciliationResult) Settled() bool {
	return r != nil && r.Status == PurchaseStatusPaid
}

// Settlement carries the gateway-observed values written when a purchase is paid.
type Settlement struct {
	SessionID string
	Amount    int64
	Currency  string
	PaidAt    time.Time
}

// PurchaseSettled is published once a purchase is newly marked PAID.
type PurchaseSettled struct {
	EventID       string    `json:"event_id"`
	PurchaseID    string    `json:"purchase_id"`
	UserID        string    `json:"user_id"`
	TargetRole    Role      `json:"target_role"`
	ResultingRole Role      `json:"resulting_role"`
	NewlyUpgraded bool      `json:"newly_upgraded"`
	Amount        int64     `json:"amount"`
	Currency      string    `json:"currency"`
	SessionID     string    `json:"session_id"`
	SettledAt     time.Time `json:"settled_at"`
}
