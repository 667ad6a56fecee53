package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"gym-membership/internal/domain"
	"gym-membership/internal/domain/model"
	"gym-membership/internal/domain/ports/repository"
)

var _ repository.UserRepository = (*userRepo)(nil)

type userRepo struct {
	pool *pgxpool.Pool
}

func NewUserRepo(pool *pgxpool.Pool) *userRepo {
	return &userRepo{pool: pool}
}

func (r *userRepo) Save(ctx context.Context, tx repository.Tx, u *model.User) error {
	const q = `
INSERT INTO users (id, email, role, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (id) DO UPDATE SET email=$2, role=$3, updated_at=$5;`
	_, err := execSQL(ctx, r.pool, tx, q, u.ID, u.Email, string(u.Role), u.CreatedAt, u.UpdatedAt)
	return mapWriteErr(err)
}

// FindByID locks the row when called inside a transaction so concurrent
// settlements of the same user queue behind each other.
func (r *userRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.User, error) {
	q := `SELECT id, email, role, created_at, updated_at FROM users WHERE id=$1`
	if inTx(tx) {
		q += ` FOR UPDATE`
	}
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}
	var (
		u    model.User
		role string
	)
	if err := row.Scan(&u.ID, &u.Email, &role, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	u.Role = model.Role(role)
	return &u, nil
}

// UpgradeRoleIfBelow only matches rows whose current role ranks below target,
// so a concurrent or repeated call can never lower a role.
func (r *userRepo) UpgradeRoleIfBelow(ctx context.Context, tx repository.Tx, id string, target model.Role) (bool, error) {
	below := model.RolesBelow(target)
	if len(below) == 0 {
		return false, nil
	}
	roles := make([]string, len(below))
	for i, b := range below {
		roles[i] = string(b)
	}
	cmd, err := execSQL(ctx, r.pool, tx,
		`UPDATE users SET role=$2, updated_at=NOW() WHERE id=$1 AND role = ANY($3);`,
		id, string(target), roles)
	if err != nil {
		return false, mapWriteErr(err)
	}
	return cmd.RowsAffected() == 1, nil
}
