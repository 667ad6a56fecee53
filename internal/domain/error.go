package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound           = errors.New("entity not found")
	ErrAlreadyExists      = errors.New("entity already exists")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrOperationFailed    = errors.New("database operation failed")
	ErrReadDatabaseRow    = errors.New("failed to read database row")
	ErrInvalidExecContext = errors.New("invalid execution context")

	// Checkout validation
	ErrUserNotFound           = errors.New("user not found")
	ErrPlanNotFound           = errors.New("unknown price id")
	ErrAlreadyAtOrAboveTarget = errors.New("user already at or above target role")
	ErrForbidden              = errors.New("forbidden")

	// Payment gateway
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	ErrGatewayRejected    = errors.New("payment gateway rejected request")
	ErrInvalidSignature   = errors.New("invalid webhook signature")

	// ErrTransient marks reconciliation failures that are safe to retry.
	ErrTransient = errors.New("transient failure")
)

// IsTransient reports whether err (or anything it wraps) may succeed on retry.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrGatewayUnavailable)
}
