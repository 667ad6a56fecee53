//go:build !integration

package usecase_test

import (
	"context"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"gym-membership/internal/domain"
	"gym-membership/internal/domain/model"
	"gym-membership/internal/domain/ports/adapter"
	"gym-membership/internal/domain/ports/repository"
)

// ---- Mock PurchaseRepository ----

// MockPurchaseRepo keeps purchases in memory. The conditional transitions take
// the mutex for the whole read-compare-write, like a row-level UPDATE ... WHERE.
type MockPurchaseRepo struct {
	mu   sync.Mutex
	data map[string]*model.Purchase

	writes int

	CreateFunc            func(ctx context.Context, tx repository.Tx, p *model.Purchase) error
	FindByExternalIDFunc  func(ctx context.Context, tx repository.Tx, externalID string) (*model.Purchase, error)
	SetExternalIDFunc     func(ctx context.Context, tx repository.Tx, id, externalID string) error
	MarkPaidIfPendingFunc func(ctx context.Context, tx repository.Tx, id string, s model.Settlement) (bool, error)
}

var _ repository.PurchaseRepository = (*MockPurchaseRepo)(nil)

func NewMockPurchaseRepo() *MockPurchaseRepo {
	return &MockPurchaseRepo{data: map[string]*model.Purchase{}}
}

func (r *MockPurchaseRepo) Create(ctx context.Context, tx repository.Tx, p *model.Purchase) error {
	if r.CreateFunc != nil {
		return r.CreateFunc(ctx, tx, p)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if _, ok := r.data[p.ID]; ok {
		return domain.ErrAlreadyExists
	}
	cp := *p
	r.data[p.ID] = &cp
	r.writes++
	return nil
}

func (r *MockPurchaseRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Purchase, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.data[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *MockPurchaseRepo) FindByExternalID(ctx context.Context, tx repository.Tx, externalID string) (*model.Purchase, error) {
	if r.FindByExternalIDFunc != nil {
		return r.FindByExternalIDFunc(ctx, tx, externalID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.data {
		if p.ExternalID != "" && p.ExternalID == externalID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *MockPurchaseRepo) ListByUser(ctx context.Context, tx repository.Tx, userID string, limit int) ([]*model.Purchase, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Purchase
	for _, p := range r.data {
		if p.UserID == userID {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MockPurchaseRepo) SetExternalID(ctx context.Context, tx repository.Tx, id, externalID string) error {
	if r.SetExternalIDFunc != nil {
		return r.SetExternalIDFunc(ctx, tx, id, externalID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.data[id]
	if !ok {
		return domain.ErrNotFound
	}
	for _, o := range r.data {
		if o.ID != id && o.ExternalID == externalID {
			return domain.ErrAlreadyExists
		}
	}
	p.ExternalID = externalID
	p.UpdatedAt = time.Now()
	r.writes++
	return nil
}

func (r *MockPurchaseRepo) MarkPaidIfPending(ctx context.Context, tx repository.Tx, id string, s model.Settlement) (bool, error) {
	if r.MarkPaidIfPendingFunc != nil {
		return r.MarkPaidIfPendingFunc(ctx, tx, id, s)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.data[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	if p.Status != model.PurchaseStatusPending {
		return false, nil
	}
	paidAt := s.PaidAt
	p.Status = model.PurchaseStatusPaid
	p.Amount = s.Amount
	p.Currency = s.Currency
	if p.ExternalID == "" {
		p.ExternalID = s.SessionID
	}
	p.PaidAt = &paidAt
	p.UpdatedAt = paidAt
	r.writes++
	return true, nil
}

func (r *MockPurchaseRepo) CloseIfPending(ctx context.Context, tx repository.Tx, id string, status model.PurchaseStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.data[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	if !model.CanTransition(p.Status, status) {
		return false, nil
	}
	p.Status = status
	p.UpdatedAt = time.Now()
	r.writes++
	return true, nil
}

func (r *MockPurchaseRepo) CancelUnlinkedBefore(ctx context.Context, tx repository.Tx, cutoff time.Time, limit int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, p := range r.data {
		if limit > 0 && n >= limit {
			break
		}
		if p.Status == model.PurchaseStatusPending && p.ExternalID == "" && p.CreatedAt.Before(cutoff) {
			p.Status = model.PurchaseStatusCanceled
			p.UpdatedAt = time.Now()
			r.writes++
			n++
		}
	}
	return n, nil
}

// Put seeds a purchase without counting it as a write.
func (r *MockPurchaseRepo) Put(p *model.Purchase) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *p
	r.data[p.ID] = &cp
}

func (r *MockPurchaseRepo) Writes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writes
}

func (r *MockPurchaseRepo) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.data)
}

// ---- Mock UserRepository ----

type MockUserRepo struct {
	mu   sync.Mutex
	data map[string]*model.User

	writes   int
	upgrades int

	FindByIDFunc           func(ctx context.Context, tx repository.Tx, id string) (*model.User, error)
	UpgradeRoleIfBelowFunc func(ctx context.Context, tx repository.Tx, id string, target model.Role) (bool, error)
}

var _ repository.UserRepository = (*MockUserRepo)(nil)

func NewMockUserRepo() *MockUserRepo {
	return &MockUserRepo{data: map[string]*model.User{}}
}

func (r *MockUserRepo) Save(ctx context.Context, tx repository.Tx, u *model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *u
	r.data[u.ID] = &cp
	r.writes++
	return nil
}

func (r *MockUserRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.User, error) {
	if r.FindByIDFunc != nil {
		return r.FindByIDFunc(ctx, tx, id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.data[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *MockUserRepo) UpgradeRoleIfBelow(ctx context.Context, tx repository.Tx, id string, target model.Role) (bool, error) {
	if r.UpgradeRoleIfBelowFunc != nil {
		return r.UpgradeRoleIfBelowFunc(ctx, tx, id, target)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.data[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	if !model.ShouldUpgrade(u.Role, target) {
		return false, nil
	}
	u.Role = target
	u.UpdatedAt = time.Now()
	r.writes++
	r.upgrades++
	return true, nil
}

func (r *MockUserRepo) Put(u *model.User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *u
	r.data[u.ID] = &cp
}

func (r *MockUserRepo) Role(id string) model.Role {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.data[id]; ok {
		return u.Role
	}
	return ""
}

func (r *MockUserRepo) Upgrades() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.upgrades
}

func (r *MockUserRepo) Writes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writes
}

// ---- Mock PaymentGateway / WebhookVerifier ----

type MockPaymentGateway struct {
	NameVal string

	mu       sync.Mutex
	Sessions map[string]*model.ObservedEvent
	Created  []adapter.CheckoutSessionParams

	CreateCheckoutSessionFunc func(ctx context.Context, params adapter.CheckoutSessionParams) (*adapter.CheckoutSession, error)
	RetrieveSessionFunc       func(ctx context.Context, sessionID string) (*model.ObservedEvent, error)
}

var _ adapter.PaymentGateway = (*MockPaymentGateway)(nil)

func NewMockPaymentGateway() *MockPaymentGateway {
	return &MockPaymentGateway{Sessions: map[string]*model.ObservedEvent{}}
}

func (m *MockPaymentGateway) Name() string {
	if m.NameVal == "" {
		return model.GatewayStripe
	}
	return m.NameVal
}

func (m *MockPaymentGateway) CreateCheckoutSession(ctx context.Context, params adapter.CheckoutSessionParams) (*adapter.CheckoutSession, error) {
	if m.CreateCheckoutSessionFunc != nil {
		return m.CreateCheckoutSessionFunc(ctx, params)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	id := "cs_test_" + uuid.NewString()
	m.Created = append(m.Created, params)
	m.Sessions[id] = &model.ObservedEvent{
		SessionID:  id,
		State:      model.SessionOpen,
		PurchaseID: params.PurchaseID,
		UserID:     params.UserID,
		TargetRole: params.TargetRole,
	}
	return &adapter.CheckoutSession{ID: id, URL: "https://checkout.example/pay/" + id}, nil
}

func (m *MockPaymentGateway) RetrieveSession(ctx context.Context, sessionID string) (*model.ObservedEvent, error) {
	if m.RetrieveSessionFunc != nil {
		return m.RetrieveSessionFunc(ctx, sessionID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	ev, ok := m.Sessions[sessionID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *ev
	return &cp, nil
}

// Pay flips a session to paid with the given amount.
func (m *MockPaymentGateway) Pay(sessionID string, amount int64, currency string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ev, ok := m.Sessions[sessionID]; ok {
		ev.State = model.SessionPaid
		ev.Amount = amount
		ev.Currency = currency
	}
}

type MockWebhookVerifier struct {
	ParseEventFunc func(payload []byte, signatureHeader string) (*model.ObservedEvent, bool, error)
}

var _ adapter.WebhookVerifier = (*MockWebhookVerifier)(nil)

func (m *MockWebhookVerifier) ParseEvent(payload []byte, signatureHeader string) (*model.ObservedEvent, bool, error) {
	if m.ParseEventFunc != nil {
		return m.ParseEventFunc(payload, signatureHeader)
	}
	return nil, false, nil
}

// ---- Mock EventPublisher ----

type MockPublisher struct {
	mu     sync.Mutex
	Events []model.PurchaseSettled
	Err    error
}

var _ adapter.EventPublisher = (*MockPublisher)(nil)

func (m *MockPublisher) PublishPurchaseSettled(ctx context.Context, evt model.PurchaseSettled) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Events = append(m.Events, evt)
	return m.Err
}

func (m *MockPublisher) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Events)
}

// ---- Mock TransactionManager ----

type MockTxManager struct {
	WithTxFunc func(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error
}

func NewMockTxManager() *MockTxManager {
	return &MockTxManager{}
}

var _ repository.TransactionManager = (*MockTxManager)(nil)

// WithTx runs fn immediately with NoTX unless WithTxFunc is set.
func (m *MockTxManager) WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	if m.WithTxFunc != nil {
		return m.WithTxFunc(ctx, txOpt, fn)
	}
	return fn(ctx, repository.NoTX)
}

// newTestLogger creates a silent zerolog.Logger for use in tests.
func newTestLogger() *zerolog.Logger {
	logger := zerolog.New(io.Discard)
	return &logger
}
