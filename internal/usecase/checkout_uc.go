package usecase

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
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

var tracer = otel.Tracer("gym-membership/usecase")

// Compile-time check
var _ CheckoutUseCase = (*checkoutUC)(nil)

// CheckoutRequest starts a membership upgrade. Paths are site-relative.
type CheckoutRequest struct {
	UserID      string
	PriceID     string
	SuccessPath string
	CancelPath  string
}

// CheckoutResult is where the user goes to pay.
type CheckoutResult struct {
	CheckoutURL string
	SessionID   string
	PurchaseID  string
}

type CheckoutUseCase interface {
	Initiate(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error)
	// CancelStaleOrphans cancels PENDING purchases that never got a gateway
	// session and are older than olderThan.
	CancelStaleOrphans(ctx context.Context, olderThan time.Duration) (int, error)
}

// CheckoutURLs holds the public site root and the fallback return paths.
type CheckoutURLs struct {
	BaseURL     string
	SuccessPath string
	CancelPath  string
}

type checkoutUC struct {
	users     repository.UserRepository
	purchases repository.PurchaseRepository
	plans     *PlanRegistry
	gateway   adapter.PaymentGateway
	urls      CheckoutURLs
	log       *zerolog.Logger
}

func NewCheckoutUseCase(
	users repository.UserRepository,
	purchases repository.PurchaseRepository,
	plans *PlanRegistry,
	gateway adapter.PaymentGateway,
	urls CheckoutURLs,
	logger *zerolog.Logger,
) *checkoutUC {
	urls.BaseURL = strings.TrimRight(urls.BaseURL, "/")
	return &checkoutUC{
		users:     users,
		purchases: purchases,
		plans:     plans,
		gateway:   gateway,
		urls:      urls,
		log:       logger,
	}
}

// Initiate validates the request, writes a PENDING purchase, opens a gateway
// session and links the two. A gateway failure leaves an orphan PENDING row.
func (c *checkoutUC) Initiate(ctx context.Context, req CheckoutRequest) (res *CheckoutResult, err error) {
	defer logging.TraceDuration(c.log, "CheckoutUC.Initiate")()

	ctx, span := tracer.Start(ctx, "checkout.Initiate",
		trace.WithAttributes(
			attribute.String("user.id", req.UserID),
			attribute.String("plan.price_id", req.PriceID),
		),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if strings.TrimSpace(req.UserID) == "" || strings.TrimSpace(req.PriceID) == "" {
		return nil, domain.ErrInvalidArgument
	}

	plan, err := c.plans.Lookup(req.PriceID)
	if err != nil {
		return nil, err
	}

	user, err := c.users.FindByID(ctx, repository.NoTX, req.UserID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("load user: %w", err)
	}
	if !model.ShouldUpgrade(user.Role, plan.Role) {
		return nil, domain.ErrAlreadyAtOrAboveTarget
	}

	p, err := model.NewPurchase(user.ID, plan, c.gateway.Name())
	if err != nil {
		return nil, err
	}
	if err := c.purchases.Create(ctx, repository.NoTX, p); err != nil {
		return nil, fmt.Errorf("create purchase: %w", err)
	}
	metrics.IncPurchase(string(model.PurchaseStatusPending))
	span.SetAttributes(attribute.String("purchase.id", p.ID))

	lg := logging.With(logging.WithPurchaseID(ctx, p.ID), c.log)

	sess, err := c.gateway.CreateCheckoutSession(ctx, adapter.CheckoutSessionParams{
		PriceID:       plan.PriceID,
		SuccessURL:    c.successURL(req.SuccessPath),
		CancelURL:     c.absURL(req.CancelPath, c.urls.CancelPath),
		CustomerEmail: user.Email,
		PurchaseID:    p.ID,
		UserID:        user.ID,
		TargetRole:    plan.Role,
	})
	if err != nil {
		lg.Error().Err(err).Msg("checkout session not created; purchase left pending")
		return nil, fmt.Errorf("create checkout session: %w", err)
	}

	if err := c.purchases.SetExternalID(ctx, repository.NoTX, p.ID, sess.ID); err != nil {
		lg.Error().Err(err).Str("session_id", sess.ID).Msg("link session to purchase")
		return nil, fmt.Errorf("link checkout session: %w", err)
	}

	lg.Info().
		Str("target_role", plan.Role.String()).
		Str("session_id", sess.ID).
		Int64("amount", plan.Amount).
		Str("currency", plan.Currency).
		Msg("checkout started")

	return &CheckoutResult{
		CheckoutURL: sess.URL,
		SessionID:   sess.ID,
		PurchaseID:  p.ID,
	}, nil
}

// minOrphanAge keeps the sweep clear of sessions the gateway may still complete.
const minOrphanAge = 25 * time.Hour

func (c *checkoutUC) CancelStaleOrphans(ctx context.Context, olderThan time.Duration) (int, error) {
	if olderThan < minOrphanAge {
		olderThan = minOrphanAge
	}
	n, err := c.purchases.CancelUnlinkedBefore(ctx, repository.NoTX, time.Now().Add(-olderThan), 200)
	if err != nil {
		return 0, fmt.Errorf("cancel orphans: %w", err)
	}
	for i := 0; i < n; i++ {
		metrics.IncPurchase(string(model.PurchaseStatusCanceled))
	}
	if n > 0 {
		logging.With(ctx, c.log).Info().Int("count", n).Msg("orphan purchases canceled")
	}
	return n, nil
}

func (c *checkoutUC) successURL(path string) string {
	u := c.absURL(path, c.urls.SuccessPath)
	sep := "?"
	if strings.Contains(u, "?") {
		sep = "&"
	}
	// the gateway substitutes the literal placeholder, so it must stay unescaped
	return u + sep + "session_id={CHECKOUT_SESSION_ID}"
}

func (c *checkoutUC) absURL(path, fallback string) string {
	if !isSiteRelative(path) {
		path = fallback
	}
	return c.urls.BaseURL + path
}

// isSiteRelative accepts "/x/y?z" but rejects absolute, protocol-relative and
// backslash-smuggled URLs.
func isSiteRelative(p string) bool {
	if p == "" || p[0] != '/' || strings.HasPrefix(p, "//") || strings.ContainsAny(p, "\\\r\n") {
		return false
	}
	u, err := url.Parse(p)
	if err != nil {
		return false
	}
	return u.Scheme == "" && u.Host == ""
}
