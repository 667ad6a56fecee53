package repository

import (
	"context"
	"time"

	"gym-membership/internal/domain/model"
)

// -----------------------------
// Purchases (ledger)
// -----------------------------

type PurchaseRepository interface {
	Create(ctx context.Context, tx Tx, p *model.Purchase) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.Purchase, error)
	FindByExternalID(ctx context.Context, tx Tx, externalID string) (*model.Purchase, error)
	ListByUser(ctx context.Context, tx Tx, userID string, limit int) ([]*model.Purchase, error)
	SetExternalID(ctx context.Context, tx Tx, id, externalID string) error
	// MarkPaidIfPending moves a purchase to PAID only while it is still PENDING.
	// It reports false when another writer got there first.
	MarkPaidIfPending(ctx context.Context, tx Tx, id string, s model.Settlement) (bool, error)
	// CloseIfPending moves a PENDING purchase to FAILED or CANCELED.
	CloseIfPending(ctx context.Context, tx Tx, id string, status model.PurchaseStatus) (bool, error)
	// CancelUnlinkedBefore cancels PENDING purchases that never got a gateway
	// session and were created before cutoff. It returns how many were canceled.
	CancelUnlinkedBefore(ctx context.Context, tx Tx, cutoff time.Time, limit int) (int, error)
}
