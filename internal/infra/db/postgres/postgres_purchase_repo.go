package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"gym-membership/internal/domain"
	"gym-membership/internal/domain/model"
	"gym-membership/internal/domain/ports/repository"
)

var _ repository.PurchaseRepository = (*purchaseRepo)(nil)

type purchaseRepo struct {
	pool *pgxpool.Pool
}

func NewPurchaseRepo(pool *pgxpool.Pool) *purchaseRepo {
	return &purchaseRepo{pool: pool}
}

const purchaseColumns = `id, user_id, target_role, status, amount, currency, gateway,
       COALESCE(external_id, ''), created_at, updated_at, paid_at`

func (r *purchaseRepo) Create(ctx context.Context, tx repository.Tx, p *model.Purchase) error {
	const q = `
INSERT INTO purchases (id, user_id, target_role, status, amount, currency, gateway, external_id, created_at, updated_at, paid_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,NULLIF($8,''),$9,$10,$11);`
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = now
	}
	_, err := execSQL(ctx, r.pool, tx, q,
		p.ID, p.UserID, string(p.TargetRole), string(p.Status), p.Amount, p.Currency, p.Gateway,
		p.ExternalID, p.CreatedAt, p.UpdatedAt, p.PaidAt)
	return mapWriteErr(err)
}

func (r *purchaseRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Purchase, error) {
	row, err := pickRow(ctx, r.pool, tx, `SELECT `+purchaseColumns+` FROM purchases WHERE id=$1;`, id)
	if err != nil {
		return nil, err
	}
	return scanPurchase(row)
}

func (r *purchaseRepo) FindByExternalID(ctx context.Context, tx repository.Tx, externalID string) (*model.Purchase, error) {
	if externalID == "" {
		return nil, domain.ErrNotFound
	}
	row, err := pickRow(ctx, r.pool, tx, `SELECT `+purchaseColumns+` FROM purchases WHERE external_id=$1;`, externalID)
	if err != nil {
		return nil, err
	}
	return scanPurchase(row)
}

func (r *purchaseRepo) ListByUser(ctx context.Context, tx repository.Tx, userID string, limit int) ([]*model.Purchase, error) {
	rows, err := queryRows(ctx, r.pool, tx,
		`SELECT `+purchaseColumns+` FROM purchases WHERE user_id=$1 ORDER BY created_at DESC LIMIT $2;`,
		userID, limit)
	if err != nil {
		return nil, mapWriteErr(err)
	}
	defer rows.Close()

	var out []*model.Purchase
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}

func (r *purchaseRepo) SetExternalID(ctx context.Context, tx repository.Tx, id, externalID string) error {
	cmd, err := execSQL(ctx, r.pool, tx,
		`UPDATE purchases SET external_id=$2, updated_at=NOW() WHERE id=$1;`, id, externalID)
	if err != nil {
		return mapWriteErr(err)
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// MarkPaidIfPending is the optimistic-concurrency write: only one caller can
// see RowsAffected()==1 for a given purchase.
func (r *purchaseRepo) MarkPaidIfPending(ctx context.Context, tx repository.Tx, id string, s model.Settlement) (bool, error) {
	const q = `
UPDATE purchases
   SET status = 'PAID',
       amount = $2,
       currency = $3,
       external_id = COALESCE(external_id, NULLIF($4,'')),
       paid_at = $5,
       updated_at = $5
 WHERE id = $1
   AND status = 'PENDING';`
	cmd, err := execSQL(ctx, r.pool, tx, q, id, s.Amount, s.Currency, s.SessionID, s.PaidAt)
	if err != nil {
		return false, mapWriteErr(err)
	}
	return cmd.RowsAffected() == 1, nil
}

func (r *purchaseRepo) CloseIfPending(ctx context.Context, tx repository.Tx, id string, status model.PurchaseStatus) (bool, error) {
	if !model.CanTransition(model.PurchaseStatusPending, status) || status == model.PurchaseStatusPaid {
		return false, domain.ErrInvalidArgument
	}
	cmd, err := execSQL(ctx, r.pool, tx,
		`UPDATE purchases SET status=$2, updated_at=NOW() WHERE id=$1 AND status='PENDING';`,
		id, string(status))
	if err != nil {
		return false, mapWriteErr(err)
	}
	return cmd.RowsAffected() == 1, nil
}

func (r *purchaseRepo) CancelUnlinkedBefore(ctx context.Context, tx repository.Tx, cutoff time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = 200
	}
	const q = `
UPDATE purchases
   SET status = 'CANCELED', updated_at = NOW()
 WHERE id IN (
       SELECT id FROM purchases
        WHERE status = 'PENDING'
          AND external_id IS NULL
          AND created_at < $1
        ORDER BY created_at
        LIMIT $2
        FOR UPDATE SKIP LOCKED)
   AND status = 'PENDING';`
	cmd, err := execSQL(ctx, r.pool, tx, q, cutoff, limit)
	if err != nil {
		return 0, mapWriteErr(err)
	}
	return int(cmd.RowsAffected()), nil
}

func scanPurchase(row pgx.Row) (*model.Purchase, error) {
	var (
		p            model.Purchase
		role, status string
		paidAt       *time.Time
	)
	err := row.Scan(&p.ID, &p.UserID, &role, &status, &p.Amount, &p.Currency, &p.Gateway,
		&p.ExternalID, &p.CreatedAt, &p.UpdatedAt, &paidAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	p.TargetRole = model.Role(role)
	p.Status = model.PurchaseStatus(status)
	p.PaidAt = paidAt
	return &p, nil
}
