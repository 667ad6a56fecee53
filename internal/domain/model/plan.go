package model

import "gym-membership/internal/domain"

// Plan maps a gateway price id to the membership it grants and what it costs.
type Plan struct {
	PriceID  string
	Name     string
	Role     Role
	Amount   int64 // minor units
	Currency string
}

func (p *Plan) IsZero() bool { return p == nil || p.PriceID == "" }

// NewPlan validates and constructs a plan.
func NewPlan(priceID, name string, role Role, amount int64, currency string) (*Plan, error) {
	if priceID == "" || !IsPurchasable(role) || amount <= 0 || currency == "" {
		return nil, domain.ErrInvalidArgument
	}
	if name == "" {
		name = string(role)
	}
	return &Plan{
		PriceID:  priceID,
		Name:     name,
		Role:     role,
		Amount:   amount,
		Currency: NormalizeCurrency(currency),
	}, nil
}
