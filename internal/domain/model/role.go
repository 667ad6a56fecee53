package model

import (
	"strings"

	"gym-membership/internal/domain"
)

// Role is a user's membership or staff role.
type Role string

const (
	RoleUser         Role = "USER"
	RoleUserBronze   Role = "USER_BRONZE"
	RoleUserGold     Role = "USER_GOLD"
	RoleUserPlatinum Role = "USER_PLATINUM"
	RoleTrainer      Role = "TRAINER"
	RoleAdmin        Role = "ADMIN"
)

// roleOrder lists roles lowest first. Purchasable tiers sit below staff roles.
var roleOrder = []Role{
	RoleUser,
	RoleUserBronze,
	RoleUserGold,
	RoleUserPlatinum,
	RoleTrainer,
	RoleAdmin,
}

// Rank returns the position of r in the total role order, or -1 for unknown roles.
func Rank(r Role) int {
	for i, known := range roleOrder {
		if known == r {
			return i
		}
	}
	return -1
}

// ShouldUpgrade reports whether moving from current to target is a strict upgrade.
// Both checkout and settlement decide with this function.
// Unknown roles on either side never upgrade, matching RolesBelow.
func ShouldUpgrade(current, target Role) bool {
	c, t := Rank(current), Rank(target)
	if c < 0 || t < 0 {
		return false
	}
	return t > c
}

// IsPurchasable reports whether r can be bought through checkout.
func IsPurchasable(r Role) bool {
	switch r {
	case RoleUserBronze, RoleUserGold, RoleUserPlatinum:
		return true
	}
	return false
}

// RolesBelow returns every known role ranking strictly below target.
func RolesBelow(target Role) []Role {
	t := Rank(target)
	if t <= 0 {
		return nil
	}
	out := make([]Role, t)
	copy(out, roleOrder[:t])
	return out
}

// Roles returns all known roles, lowest first.
func Roles() []Role {
	out := make([]Role, len(roleOrder))
	copy(out, roleOrder)
	return out
}

func ParseRole(s string) (Role, error) {
	r := Role(strings.ToUpper(strings.TrimSpace(s)))
	if Rank(r) < 0 {
		return "", domain.ErrInvalidArgument
	}
	return r, nil
}

func (r Role) String() string { return string(r) }
