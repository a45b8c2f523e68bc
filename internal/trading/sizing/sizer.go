// Package sizing turns a free quote balance into an exchange-valid base quantity.
package sizing

import (
	"fmt"

	"spot_trader/internal/core"
	apperrors "spot_trader/pkg/errors"

	"github.com/shopspring/decimal"
)

// DisplayPrecision is the number of decimals used when a quantity is shown or logged.
const DisplayPrecision int32 = 6

// Result is an accepted order size
type Result struct {
	// Quantity is floored to the exchange step and is what gets submitted.
	Quantity decimal.Decimal
	Display  decimal.Decimal
	Notional decimal.Decimal
}

// Size spends everything above reserve at price, floored to the lot step.
// A rejected size carries ErrInsufficientReserve, ErrBelowMinimum or ErrDataUnavailable.
func Size(balance, price, reserve decimal.Decimal, c core.SymbolConstraints) (Result, error) {
	remainder := balance.Sub(reserve)
	if !remainder.IsPositive() {
		return Result{}, fmt.Errorf("%w: balance %s, reserve %s",
			apperrors.ErrInsufficientReserve, balance, reserve)
	}
	if !price.IsPositive() {
		return Result{}, fmt.Errorf("%w: price %s", apperrors.ErrDataUnavailable, price)
	}
	if !c.QuantityStep.IsPositive() {
		return Result{}, fmt.Errorf("%w: quantity step %s for %s",
			apperrors.ErrDataUnavailable, c.QuantityStep, c.Symbol)
	}

	// Integer number of steps affordable; QuoRem truncates, so qty*price never exceeds remainder.
	steps, _ := remainder.QuoRem(price.Mul(c.QuantityStep), 0)
	qty := steps.Mul(c.QuantityStep)
	notional := qty.Mul(price)

	if qty.LessThan(c.MinQuantity) || !qty.IsPositive() {
		return Result{}, fmt.Errorf("%w: quantity %s < min %s",
			apperrors.ErrBelowMinimum, qty, c.MinQuantity)
	}
	if notional.LessThan(c.MinNotional) {
		return Result{}, fmt.Errorf("%w: notional %s < min %s",
			apperrors.ErrBelowMinimum, notional, c.MinNotional)
	}

	return Result{
		Quantity: qty,
		Display:  qty.Round(DisplayPrecision),
		Notional: notional,
	}, nil
}
