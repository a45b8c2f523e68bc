package apperrors

import (
	"context"
	"errors"
)

// Standardized Exchange Errors
var (
	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrOrderRejected         = errors.New("order rejected")
	ErrRateLimitExceeded     = errors.New("rate limit exceeded")
	ErrNetwork               = errors.New("network error")
	ErrInvalidSymbol         = errors.New("invalid symbol")
	ErrAuthenticationFailed  = errors.New("authentication failed")
	ErrExchangeMaintenance   = errors.New("exchange maintenance")
	ErrInvalidOrderParameter = errors.New("invalid order parameter")
	ErrTimestampOutOfBounds  = errors.New("timestamp out of bounds")
	ErrOrderNotFound         = errors.New("order not found")
)

// Trading errors raised by the agent itself
var (
	// ErrDataUnavailable means market data or exchange metadata could not be obtained or is unusable.
	ErrDataUnavailable = errors.New("data unavailable")
	// ErrInsufficientReserve means the free quote balance does not exceed the reserve.
	ErrInsufficientReserve = errors.New("insufficient balance above reserve")
	// ErrBelowMinimum means the sized order violates minimum quantity or notional.
	ErrBelowMinimum = errors.New("order below exchange minimum")
	// ErrOrderFailed means a market order was not filled.
	ErrOrderFailed = errors.New("order failed")
	// ErrPersistenceFailed means a trade record could not be written.
	ErrPersistenceFailed = errors.New("trade record persistence failed")
	// ErrInvalidTransition means a position transition was requested from the wrong state.
	ErrInvalidTransition = errors.New("invalid position transition")
	ErrInvalidParameter  = errors.New("invalid parameter")
)

// IsTransient reports whether err is worth retrying on a read-only call.
func IsTransient(err error) bool {
	return errors.Is(err, ErrNetwork) ||
		errors.Is(err, ErrRateLimitExceeded) ||
		errors.Is(err, ErrExchangeMaintenance)
}

// IsOutcomeUnknown reports whether an order submission failed in a way that
// leaves open whether the exchange executed it.
func IsOutcomeUnknown(err error) bool {
	return errors.Is(err, ErrNetwork) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled)
}
