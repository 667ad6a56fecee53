package repository

import (
	"context"

	"gym-membership/internal/domain/model"
)

// -----------------------------
// Users
// -----------------------------

type UserRepository interface {
	Save(ctx context.Context, tx Tx, u *model.User) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.User, error)
	// UpgradeRoleIfBelow sets the user's role to target only while the stored
	// role ranks below it. It reports whether a row changed.
	UpgradeRoleIfBelow(ctx context.Context, tx Tx, id string, target model.Role) (bool, error)
}
