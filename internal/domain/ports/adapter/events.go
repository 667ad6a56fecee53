package adapter

import (
	"context"

	"gym-membership/internal/domain/model"
)

// EventPublisher announces settlement facts to the rest of the platform.
type EventPublisher interface {
	PublishPurchaseSettled(ctx context.Context, evt model.PurchaseSettled) error
}
