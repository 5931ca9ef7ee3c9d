package orders

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrOrderNotFound is returned when the referenced order does not exist.
	ErrOrderNotFound = errors.New("order not found")

	// ErrNotOrderOwner is returned when a user tries to act on an order they
	// do not own. Checked before any mutation.
	ErrNotOrderOwner = errors.New("order does not belong to requesting user")

	// ErrOrderNotCancellable is returned when a cancellation targets an order
	// that has already been filled or cancelled.
	ErrOrderNotCancellable = errors.New("order cannot be cancelled")
)

// ValidationError rejects a placement before any resource is touched.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// InsufficientFundsError reports a failed fiat lock for a buy order, carrying
// the shortfall so callers can display it.
type InsufficientFundsError struct {
	Required  decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient USD balance: required %s, available %s", e.Required, e.Available)
}

// InsufficientAssetError reports a failed asset lock for a sell order.
type InsufficientAssetError struct {
	Symbol    string
	Required  decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientAssetError) Error() string {
	return fmt.Sprintf("insufficient %s balance: required %s, available %s", e.Symbol, e.Required, e.Available)
}
