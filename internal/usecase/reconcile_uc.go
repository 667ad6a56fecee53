package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"gym-membership/internal/domain"
	"gym-membership/internal/domain/model"
	"gym-membership/internal/domain/ports/adapter"
	"gym-membership/internal/domain/ports/repository"
	"gym-membership/internal/infra/logging"
	"gym-membership/internal/infra/metrics"
)

// Compile-time check
var _ ReconcileUseCase = (*reconcileUC)(nil)

// ReconcileUseCase applies an observed gateway event to the purchase ledger and
// the user's role. It is safe to call any number of times, concurrently, for
// the same session.
type ReconcileUseCase interface {
	Reconcile(ctx context.Context, ev *model.ObservedEvent) (*model.ReconciliationResult, error)
}

type reconcileUC struct {
	purchases repository.PurchaseRepository
	users     repository.UserRepository
	tm        repository.TransactionManager
	plans     *PlanRegistry
	publisher adapter.EventPublisher
	log       *zerolog.Logger
	now       func() time.Time
}

func NewReconcileUseCase(
	purchases repository.PurchaseRepository,
	users repository.UserRepository,
	tm repository.TransactionManager,
	plans *PlanRegistry,
	publisher adapter.EventPublisher,
	logger *zerolog.Logger,
) *reconcileUC {
	return &reconcileUC{
		purchases: purchases,
		users:     users,
		tm:        tm,
		plans:     plans,
		publisher: publisher,
		log:       logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Reconcile never returns an error together with a non-transient outcome.
// On OutcomeTransientFailure the returned error wraps domain.ErrTransient and
// the ledger is left as it was.
func (r *reconcileUC) Reconcile(ctx context.Context, ev *model.ObservedEvent) (res *model.ReconciliationResult, err error) {
	defer logging.TraceDuration(r.log, "ReconcileUC.Reconcile")()
	if ev == nil {
		return nil, domain.ErrInvalidArgument
	}

	started := time.Now()
	ctx = logging.WithSessID(ctx, ev.SessionID)
	ctx, span := tracer.Start(ctx, "settlement.Reconcile",
		trace.WithAttributes(
			attribute.String("settlement.source", string(ev.Source)),
			attribute.String("settlement.state", string(ev.State)),
		),
	)
	defer func() {
		if res != nil {
			span.SetAttributes(attribute.String("settlement.outcome", string(res.Outcome)))
			metrics.IncSettlement(string(ev.Source), string(res.Outcome))
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		metrics.ObserveSettlement(string(ev.Source), started)
		span.End()
	}()

	p, err := r.resolve(ctx, ev)
	if err != nil {
		return r.transient(ctx, nil, fmt.Errorf("resolve purchase: %w", err))
	}
	if p == nil {
		logging.With(ctx, r.log).Warn().
			Str("source", string(ev.Source)).
			Str("event_id", ev.EventID).
			Str("meta_purchase_id", ev.PurchaseID).
			Msg("event matches no purchase; ignoring")
		return &model.ReconciliationResult{Outcome: model.OutcomeUnresolved}, nil
	}

	ctx = logging.WithPurchaseID(ctx, p.ID)
	span.SetAttributes(attribute.String("purchase.id", p.ID))
	lg := logging.With(ctx, r.log)

	if ev.TargetRole != "" && ev.TargetRole != p.TargetRole {
		lg.Warn().
			Str("meta_target_role", ev.TargetRole.String()).
			Str("target_role", p.TargetRole.String()).
			Msg("event metadata role differs from purchase; using purchase")
	}

	res = &model.ReconciliationResult{
		PurchaseID: p.ID,
		UserID:     p.UserID,
		Status:     p.Status,
		TargetRole: p.TargetRole,
	}

	switch {
	case p.IsPaid():
		// settled earlier; only the role recheck below remains
	case p.IsClosed():
		if ev.IsPaid() {
			lg.Error().Str("status", string(p.Status)).Msg("paid event for a closed purchase; needs manual review")
			res.Outcome = model.OutcomeClosed
			return res, nil
		}
		res.Outcome = model.OutcomeNotPaid
		return res, nil
	case !ev.IsPaid():
		return r.closeIfTerminal(ctx, p, ev, res)
	default:
		if !r.plans.Matches(p.TargetRole, ev.Amount, ev.Currency) {
			res.AmountMismatch = true
			metrics.IncAmountMismatch()
			lg.Warn().
				Int64("observed_amount", ev.Amount).
				Str("observed_currency", ev.Currency).
				Int64("expected_amount", p.Amount).
				Str("expected_currency", p.Currency).
				Msg("observed amount differs from plan; settling anyway")
		}
	}

	alreadyPaid := p.IsPaid()
	settlement := r.settlementFor(p, ev)

	var (
		newlyPaid, newlyUpgraded bool
		status                   = p.Status
		resulting                model.Role
	)
	err = r.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		newlyPaid, newlyUpgraded, status, resulting = false, false, p.Status, ""

		if !alreadyPaid {
			ok, err := r.purchases.MarkPaidIfPending(ctx, tx, p.ID, settlement)
			if err != nil {
				return fmt.Errorf("mark paid: %w", err)
			}
			if ok {
				newlyPaid, status = true, model.PurchaseStatusPaid
			} else {
				// lost the race; see where the winner left it
				cur, err := r.purchases.FindByID(ctx, tx, p.ID)
				if err != nil {
					return fmt.Errorf("reload purchase: %w", err)
				}
				status = cur.Status
				if !cur.IsPaid() {
					return nil
				}
			}
		}

		u, err := r.users.FindByID(ctx, tx, p.UserID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				logging.With(ctx, r.log).Error().Msg("purchase owner not found; skipping role upgrade")
				return nil
			}
			return fmt.Errorf("load user: %w", err)
		}
		resulting = u.Role
		if model.Rank(u.Role) < 0 {
			logging.With(ctx, r.log).Warn().Str("role", string(u.Role)).Msg("purchase owner has an unknown role; skipping role upgrade")
		}
		if !model.ShouldUpgrade(u.Role, p.TargetRole) {
			return nil
		}
		up, err := r.users.UpgradeRoleIfBelow(ctx, tx, u.ID, p.TargetRole)
		if err != nil {
			return fmt.Errorf("upgrade role: %w", err)
		}
		if up {
			newlyUpgraded, resulting = true, p.TargetRole
			return nil
		}
		// a concurrent writer moved the role between our read and write
		if u, err = r.users.FindByID(ctx, tx, p.UserID); err == nil {
			resulting = u.Role
		}
		return nil
	})
	if err != nil {
		return r.transient(ctx, res, err)
	}

	res.Status = status
	res.ResultingRole = resulting
	res.NewlyPaid = newlyPaid
	res.NewlyUpgraded = newlyUpgraded
	switch {
	case newlyPaid:
		res.Outcome = model.OutcomeSettled
	case status == model.PurchaseStatusPaid:
		res.Outcome = model.OutcomeAlreadySettled
	default:
		lg.Error().Str("status", string(status)).Msg("purchase closed concurrently with a paid event; needs manual review")
		res.Outcome = model.OutcomeClosed
	}

	if newlyPaid {
		metrics.IncPurchase(string(model.PurchaseStatusPaid))
		metrics.AddPaymentRevenue(settlement.Currency, settlement.Amount)
		lg.Info().
			Str("source", string(ev.Source)).
			Int64("amount", settlement.Amount).
			Str("currency", settlement.Currency).
			Msg("purchase settled")
		r.publish(ctx, res, settlement)
	}
	if newlyUpgraded {
		metrics.IncRoleUpgrade(p.TargetRole.String())
		lg.Info().Str("role", p.TargetRole.String()).Bool("repair", !newlyPaid).Msg("user role upgraded")
	}
	return res, nil
}

// resolve finds the purchase by gateway session first, then by the purchase id
// embedded in the session metadata. A nil purchase means unresolved.
func (r *reconcileUC) resolve(ctx context.Context, ev *model.ObservedEvent) (*model.Purchase, error) {
	if ev.SessionID != "" {
		p, err := r.purchases.FindByExternalID(ctx, repository.NoTX, ev.SessionID)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
	}
	if ev.PurchaseID == "" {
		return nil, nil
	}
	p, err := r.purchases.FindByID(ctx, repository.NoTX, ev.PurchaseID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	// metadata must not redirect a session onto a purchase linked to another one
	if p.ExternalID != "" && ev.SessionID != "" && p.ExternalID != ev.SessionID {
		logging.With(ctx, r.log).Warn().
			Str("purchase_id", p.ID).
			Msg("metadata purchase is linked to a different session")
		return nil, nil
	}
	return p, nil
}

// closeIfTerminal moves a PENDING purchase to CANCELED or FAILED when the
// gateway reports the session as expired or failed. Open sessions are left alone.
func (r *reconcileUC) closeIfTerminal(ctx context.Context, p *model.Purchase, ev *model.ObservedEvent, res *model.ReconciliationResult) (*model.ReconciliationResult, error) {
	res.Outcome = model.OutcomeNotPaid

	var to model.PurchaseStatus
	switch ev.State {
	case model.SessionExpired:
		to = model.PurchaseStatusCanceled
	case model.SessionFailed:
		to = model.PurchaseStatusFailed
	default:
		return res, nil
	}
	if !model.CanTransition(p.Status, to) {
		return res, nil
	}

	ok, err := r.purchases.CloseIfPending(ctx, repository.NoTX, p.ID, to)
	if err != nil {
		return r.transient(ctx, res, fmt.Errorf("close purchase: %w", err))
	}
	if ok {
		res.Status = to
		metrics.IncPurchase(string(to))
		logging.With(ctx, r.log).Info().Str("status", string(to)).Msg("purchase closed")
		return res, nil
	}
	if cur, err := r.purchases.FindByID(ctx, repository.NoTX, p.ID); err == nil {
		res.Status = cur.Status
	}
	return res, nil
}

func (r *reconcileUC) settlementFor(p *model.Purchase, ev *model.ObservedEvent) model.Settlement {
	s := model.Settlement{
		SessionID: ev.SessionID,
		Amount:    ev.Amount,
		Currency:  model.NormalizeCurrency(ev.Currency),
		PaidAt:    r.now(),
	}
	if s.Amount <= 0 {
		s.Amount = p.Amount
	}
	if s.Currency == "" {
		s.Currency = p.Currency
	}
	if s.SessionID == "" {
		s.SessionID = p.ExternalID
	}
	return s
}

func (r *reconcileUC) transient(ctx context.Context, res *model.ReconciliationResult, cause error) (*model.ReconciliationResult, error) {
	if res == nil {
		res = &model.ReconciliationResult{}
	}
	res.Outcome = model.OutcomeTransientFailure
	logging.With(ctx, r.log).Error().Err(cause).Msg("reconciliation failed; safe to retry")
	return res, fmt.Errorf("%w: %w", domain.ErrTransient, cause)
}

func (r *reconcileUC) publish(ctx context.Context, res *model.ReconciliationResult, s model.Settlement) {
	if r.publisher == nil {
		return
	}
	evt := model.PurchaseSettled{
		EventID:       ulid.Make().String(),
		PurchaseID:    res.PurchaseID,
		UserID:        res.UserID,
		TargetRole:    res.TargetRole,
		ResultingRole: res.ResultingRole,
		NewlyUpgraded: res.NewlyUpgraded,
		Amount:        s.Amount,
		Currency:      s.Currency,
		SessionID:     s.SessionID,
		SettledAt:     s.PaidAt,
	}
	if err := r.publisher.PublishPurchaseSettled(ctx, evt); err != nil {
		logging.With(ctx, r.log).Warn().Err(err).Msg("publish purchase settled event")
	}
}
