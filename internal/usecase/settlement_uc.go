package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"gym-membership/internal/domain"
	"gym-membership/internal/domain/model"
	"gym-membership/internal/domain/ports/adapter"
	"gym-membership/internal/domain/ports/repository"
	"gym-membership/internal/infra/logging"
	"gym-membership/internal/infra/metrics"
)

// Compile-time check
var _ SettlementUseCase = (*settlementUC)(nil)

// WebhookAck tells the HTTP layer what happened to an authenticated delivery.
type WebhookAck struct {
	EventID string
	Ignored bool // authentic but not an event we act on
	Result  *model.ReconciliationResult
}

// VerifyResult is the browser-facing view of a session after reconciliation.
type VerifyResult struct {
	Outcome       model.Outcome
	Settled       bool
	PurchaseID    string
	Status        model.PurchaseStatus
	TargetRole    model.Role
	UserID        string
	UserRole      model.Role
	NewlyUpgraded bool
}

// SettlementUseCase holds the two entry points into reconciliation plus the
// read side the member area uses.
type SettlementUseCase interface {
	// HandleWebhook authenticates a gateway push and reconciles it.
	HandleWebhook(ctx context.Context, payload []byte, signature string) (*WebhookAck, error)
	// Verify pulls the live session state from the gateway and reconciles it.
	Verify(ctx context.Context, sessionID string) (*VerifyResult, error)
	ListPurchases(ctx context.Context, userID string, limit int) ([]*model.Purchase, error)
}

type settlementUC struct {
	reconciler ReconcileUseCase
	gateway    adapter.PaymentGateway
	verifier   adapter.WebhookVerifier
	purchases  repository.PurchaseRepository
	users      repository.UserRepository
	log        *zerolog.Logger
}

func NewSettlementUseCase(
	reconciler ReconcileUseCase,
	gateway adapter.PaymentGateway,
	verifier adapter.WebhookVerifier,
	purchases repository.PurchaseRepository,
	users repository.UserRepository,
	logger *zerolog.Logger,
) *settlementUC {
	return &settlementUC{
		reconciler: reconciler,
		gateway:    gateway,
		verifier:   verifier,
		purchases:  purchases,
		users:      users,
		log:        logger,
	}
}

func (s *settlementUC) HandleWebhook(ctx context.Context, payload []byte, signature string) (*WebhookAck, error) {
	defer logging.TraceDuration(s.log, "SettlementUC.HandleWebhook")()

	ev, ok, err := s.verifier.ParseEvent(payload, signature)
	if err != nil {
		metrics.IncSettlement(string(model.SourceWebhook), "bad_signature")
		logging.With(ctx, s.log).Warn().Err(err).Msg("webhook rejected")
		if errors.Is(err, domain.ErrInvalidSignature) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidSignature, err)
	}
	if !ok {
		metrics.IncSettlement(string(model.SourceWebhook), "ignored")
		ack := &WebhookAck{Ignored: true}
		if ev != nil {
			ack.EventID = ev.EventID
		}
		return ack, nil
	}

	ev.Source = model.SourceWebhook
	// a transient error still carries the ack so the caller can log the outcome
	res, err := s.reconciler.Reconcile(ctx, ev)
	return &WebhookAck{EventID: ev.EventID, Result: res}, err
}

func (s *settlementUC) Verify(ctx context.Context, sessionID string) (*VerifyResult, error) {
	defer logging.TraceDuration(s.log, "SettlementUC.Verify")()

	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, domain.ErrInvalidArgument
	}

	ev, err := s.gateway.RetrieveSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			metrics.IncSettlement(string(model.SourceVerify), string(model.OutcomeUnresolved))
			return &VerifyResult{Outcome: model.OutcomeUnresolved}, nil
		}
		metrics.IncSettlement(string(model.SourceVerify), string(model.OutcomeTransientFailure))
		return nil, fmt.Errorf("retrieve session: %w", err)
	}
	ev.Source = model.SourceVerify

	res, err := s.reconciler.Reconcile(ctx, ev)
	if err != nil {
		return nil, err
	}

	out := &VerifyResult{
		Outcome:       res.Outcome,
		Settled:       res.Settled(),
		PurchaseID:    res.PurchaseID,
		Status:        res.Status,
		TargetRole:    res.TargetRole,
		UserID:        res.UserID,
		UserRole:      res.ResultingRole,
		NewlyUpgraded: res.NewlyUpgraded,
	}
	if out.Outcome == model.OutcomeUnresolved {
		return out, nil
	}
	if out.UserRole == "" && out.UserID != "" {
		if u, err := s.users.FindByID(ctx, repository.NoTX, out.UserID); err == nil {
			out.UserRole = u.Role
		} else {
			logging.With(ctx, s.log).Warn().Err(err).Msg("verify: load user role")
		}
	}
	return out, nil
}

func (s *settlementUC) ListPurchases(ctx context.Context, userID string, limit int) ([]*model.Purchase, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, domain.ErrInvalidArgument
	}
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.purchases.ListByUser(ctx, repository.NoTX, userID, limit)
}
