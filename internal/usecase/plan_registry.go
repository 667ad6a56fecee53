package usecase

import (
	"fmt"
	"sort"

	"gym-membership/internal/domain"
	"gym-membership/internal/domain/model"
)

// PlanRegistry is the static price id -> membership mapping loaded at start-up.
type PlanRegistry struct {
	byPrice map[string]*model.Plan
	byRole  map[model.Role][]*model.Plan
}

// NewPlanRegistry validates plans and indexes them. Duplicate price ids are rejected.
func NewPlanRegistry(plans ...*model.Plan) (*PlanRegistry, error) {
	r := &PlanRegistry{
		byPrice: make(map[string]*model.Plan, len(plans)),
		byRole:  make(map[model.Role][]*model.Plan),
	}
	for _, p := range plans {
		if p.IsZero() || !model.IsPurchasable(p.Role) {
			return nil, fmt.Errorf("plan registry: %w", domain.ErrInvalidArgument)
		}
		if _, dup := r.byPrice[p.PriceID]; dup {
			return nil, fmt.Errorf("plan registry: duplicate price id %q: %w", p.PriceID, domain.ErrAlreadyExists)
		}
		cp := *p
		r.byPrice[p.PriceID] = &cp
		r.byRole[p.Role] = append(r.byRole[p.Role], &cp)
	}
	return r, nil
}

// Lookup resolves a gateway price id. Unknown ids return ErrPlanNotFound.
func (r *PlanRegistry) Lookup(priceID string) (*model.Plan, error) {
	p, ok := r.byPrice[priceID]
	if !ok {
		return nil, domain.ErrPlanNotFound
	}
	cp := *p
	return &cp, nil
}

// ForRole lists every plan granting role.
func (r *PlanRegistry) ForRole(role model.Role) []*model.Plan {
	src := r.byRole[role]
	out := make([]*model.Plan, 0, len(src))
	for _, p := range src {
		cp := *p
		out = append(out, &cp)
	}
	return out
}

// Matches reports whether any plan for role charges exactly amount in currency.
func (r *PlanRegistry) Matches(role model.Role, amount int64, currency string) bool {
	currency = model.NormalizeCurrency(currency)
	for _, p := range r.byRole[role] {
		if p.Amount == amount && p.Currency == currency {
			return true
		}
	}
	return false
}

// List returns all plans ordered by role rank, then price id.
func (r *PlanRegistry) List() []*model.Plan {
	out := make([]*model.Plan, 0, len(r.byPrice))
	for _, p := range r.byPrice {
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		ri, rj := model.Rank(out[i].Role), model.Rank(out[j].Role)
		if ri != rj {
			return ri < rj
		}
		return out[i].PriceID < out[j].PriceID
	})
	return out
}
