//go:build !integration

package usecase_test

import (
	"context"
	"testing"
	"time"

	"gym-membership/internal/domain/model"
	"gym-membership/internal/usecase"
)

const (
	priceBronze   = "price_bronze_monthly"
	priceGold     = "price_gold_monthly"
	pricePlatinum = "price_platinum_monthly"

	goldAmount = int64(4900)
)

type fixture struct {
	purchases *MockPurchaseRepo
	users     *MockUserRepo
	gateway   *MockPaymentGateway
	verifier  *MockWebhookVerifier
	publisher *MockPublisher
	tm        *MockTxManager
	plans     *usecase.PlanRegistry

	checkout   usecase.CheckoutUseCase
	reconciler usecase.ReconcileUseCase
	settlement usecase.SettlementUseCase
}

func newTestPlans(t *testing.T) *usecase.PlanRegistry {
	t.Helper()
	mk := func(price string, role model.Role, amount int64) *model.Plan {
		p, err := model.NewPlan(price, "", role, amount, "usd")
		if err != nil {
			t.Fatalf("plan %s: %v", price, err)
		}
		return p
	}
	reg, err := usecase.NewPlanRegistry(
		mk(priceBronze, model.RoleUserBronze, 1900),
		mk(priceGold, model.RoleUserGold, goldAmount),
		mk(pricePlatinum, model.RoleUserPlatinum, 9900),
	)
	if err != nil {
		t.Fatalf("plan registry: %v", err)
	}
	return reg
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		purchases: NewMockPurchaseRepo(),
		users:     NewMockUserRepo(),
		gateway:   NewMockPaymentGateway(),
		verifier:  &MockWebhookVerifier{},
		publisher: &MockPublisher{},
		tm:        NewMockTxManager(),
		plans:     newTestPlans(t),
	}
	log := newTestLogger()
	f.checkout = usecase.NewCheckoutUseCase(f.users, f.purchases, f.plans, f.gateway, usecase.CheckoutURLs{
		BaseURL:     "https://gym.example.com/",
		SuccessPath: "/membership/success",
		CancelPath:  "/membership/cancel",
	}, log)
	f.reconciler = usecase.NewReconcileUseCase(f.purchases, f.users, f.tm, f.plans, f.publisher, log)
	f.settlement = usecase.NewSettlementUseCase(f.reconciler, f.gateway, f.verifier, f.purchases, f.users, log)
	return f
}

func (f *fixture) addUser(t *testing.T, id string, role model.Role) *model.User {
	t.Helper()
	u, err := model.NewUser(id, id+"@example.com", role)
	if err != nil {
		t.Fatalf("new user: %v", err)
	}
	f.users.Put(u)
	return u
}

// addPurchase seeds a purchase linked to sessionID in the given status.
func (f *fixture) addPurchase(t *testing.T, userID, priceID, sessionID string, status model.PurchaseStatus) *model.Purchase {
	t.Helper()
	plan, err := f.plans.Lookup(priceID)
	if err != nil {
		t.Fatalf("lookup %s: %v", priceID, err)
	}
	p, err := model.NewPurchase(userID, plan, model.GatewayStripe)
	if err != nil {
		t.Fatalf("new purchase: %v", err)
	}
	p.ExternalID = sessionID
	p.Status = status
	if status == model.PurchaseStatusPaid {
		at := time.Now()
		p.PaidAt = &at
	}
	f.purchases.Put(p)
	return p
}

func paidEvent(source model.EventSource, sessionID string, amount int64) *model.ObservedEvent {
	return &model.ObservedEvent{
		Source:    source,
		SessionID: sessionID,
		State:     model.SessionPaid,
		Amount:    amount,
		Currency:  "usd",
	}
}

func mustPurchase(t *testing.T, f *fixture, id string) *model.Purchase {
	t.Helper()
	p, err := f.purchases.FindByID(context.Background(), nil, id)
	if err != nil {
		t.Fatalf("find purchase %s: %v", id, err)
	}
	return p
}
