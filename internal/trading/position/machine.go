// Package position owns the single long position and its Searching/Open lifecycle.
package position

import (
	"fmt"
	"time"

	"spot_trader/internal/core"
	apperrors "spot_trader/pkg/errors"

	"github.com/shopspring/decimal"
)

// State of the machine
type State int

const (
	Searching State = iota
	Open
)

func (s State) String() string {
	switch s {
	case Searching:
		return "searching"
	case Open:
		return "open"
	default:
		return "unknown"
	}
}

// Rules holds entry thresholds and exit distances
type Rules struct {
	Symbol string
	// RSILower and RSIUpper bound the entry band exclusively.
	RSILower          decimal.Decimal
	RSIUpper          decimal.Decimal
	StopLossPercent   decimal.Decimal
	TakeProfitPercent decimal.Decimal
}

// Validate checks the thresholds are consistent
func (r Rules) Validate() error {
	if r.Symbol == "" {
		return fmt.Errorf("%w: symbol required", apperrors.ErrInvalidParameter)
	}
	if !r.RSILower.LessThan(r.RSIUpper) {
		return fmt.Errorf("%w: rsi lower %s must be below upper %s", apperrors.ErrInvalidParameter, r.RSILower, r.RSIUpper)
	}
	if !r.StopLossPercent.IsPositive() || !r.StopLossPercent.LessThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("%w: stop loss percent %s must be in (0,1)", apperrors.ErrInvalidParameter, r.StopLossPercent)
	}
	if !r.TakeProfitPercent.IsPositive() {
		return fmt.Errorf("%w: take profit percent %s must be positive", apperrors.ErrInvalidParameter, r.TakeProfitPercent)
	}
	return nil
}

// Machine is the position state machine. It is not safe for concurrent use;
// a single control goroutine drives it.
type Machine struct {
	rules    Rules
	position core.Position
}

// NewMachine returns a machine in the Searching state
func NewMachine(rules Rules) (*Machine, error) {
	if err := rules.Validate(); err != nil {
		return nil, err
	}
	return &Machine{rules: rules}, nil
}

func (m *Machine) State() State {
	if m.position.IsOpen {
		return Open
	}
	return Searching
}

// Position returns a copy of the current position
func (m *Machine) Position() core.Position {
	return m.position
}

func (m *Machine) Rules() Rules {
	return m.rules
}

// ShouldEnter reports whether the snapshot is an uptrend with RSI strictly inside the band.
func (m *Machine) ShouldEnter(s core.IndicatorSnapshot) bool {
	if !s.RSI.Valid {
		return false
	}
	return s.EMAFast.GreaterThan(s.EMASlow) &&
		s.RSI.Decimal.GreaterThan(m.rules.RSILower) &&
		s.RSI.Decimal.LessThan(m.rules.RSIUpper)
}

// CheckExit returns the exit triggered by price, or ExitNone. The stop-loss
// is evaluated first, so it wins when both levels are touched.
func (m *Machine) CheckExit(price decimal.Decimal) core.ExitReason {
	if !m.position.IsOpen {
		return core.ExitNone
	}
	if price.LessThanOrEqual(m.position.StopLossPrice) {
		return core.ExitStopLoss
	}
	if price.GreaterThanOrEqual(m.position.TakeProfitPrice) {
		return core.ExitTakeProfit
	}
	return core.ExitNone
}

// Levels returns the stop-loss and take-profit prices for an entry.
func (m *Machine) Levels(entry decimal.Decimal) (stop, take decimal.Decimal) {
	one := decimal.NewFromInt(1)
	return entry.Mul(one.Sub(m.rules.StopLossPercent)), entry.Mul(one.Add(m.rules.TakeProfitPercent))
}

// Open records a filled BUY and moves to Open.
func (m *Machine) Open(entryPrice, quantity decimal.Decimal, orderID string, at time.Time) (core.TradeRecord, error) {
	if m.position.IsOpen {
		return core.TradeRecord{}, fmt.Errorf("%w: open while already open", apperrors.ErrInvalidTransition)
	}
	if !entryPrice.IsPositive() || !quantity.IsPositive() {
		return core.TradeRecord{}, fmt.Errorf("%w: entry %s quantity %s", apperrors.ErrInvalidParameter, entryPrice, quantity)
	}

	stop, take := m.Levels(entryPrice)
	m.position = core.Position{
		IsOpen:          true,
		EntryPrice:      entryPrice,
		Quantity:        quantity,
		StopLossPrice:   stop,
		TakeProfitPrice: take,
		OpenedAt:        at,
	}

	return core.TradeRecord{
		Timestamp:       at,
		Symbol:          m.rules.Symbol,
		Side:            core.SideBuy,
		Quantity:        quantity,
		EntryPrice:      entryPrice,
		StopLossPrice:   stop,
		TakeProfitPrice: take,
		OrderID:         orderID,
	}, nil
}

// Close records a filled SELL and returns to Searching with a zeroed position.
func (m *Machine) Close(exitPrice decimal.Decimal, reason core.ExitReason, orderID string, at time.Time) (core.TradeRecord, error) {
	if !m.position.IsOpen {
		return core.TradeRecord{}, fmt.Errorf("%w: close while searching", apperrors.ErrInvalidTransition)
	}

	p := m.position
	rec := core.TradeRecord{
		Timestamp:       at,
		Symbol:          m.rules.Symbol,
		Side:            core.SideSell,
		Quantity:        p.Quantity,
		EntryPrice:      p.EntryPrice,
		StopLossPrice:   p.StopLossPrice,
		TakeProfitPrice: p.TakeProfitPrice,
		ExitPrice:       decimal.NewNullDecimal(exitPrice),
		Result:          reason,
		OrderID:         orderID,
	}
	m.position = core.Position{}
	return rec, nil
}

// Restore reopens the position described by a BUY record from the trade log.
func (m *Machine) Restore(rec core.TradeRecord) error {
	if m.position.IsOpen {
		return fmt.Errorf("%w: restore while open", apperrors.ErrInvalidTransition)
	}
	if rec.Side != core.SideBuy || rec.Symbol != m.rules.Symbol {
		return fmt.Errorf("%w: cannot restore from %s %s record", apperrors.ErrInvalidParameter, rec.Symbol, rec.Side)
	}
	if !rec.EntryPrice.IsPositive() || !rec.Quantity.IsPositive() {
		return fmt.Errorf("%w: record has entry %s quantity %s", apperrors.ErrInvalidParameter, rec.EntryPrice, rec.Quantity)
	}

	stop, take := rec.StopLossPrice, rec.TakeProfitPrice
	if !stop.IsPositive() || !take.IsPositive() {
		stop, take = m.Levels(rec.EntryPrice)
	}
	m.position = core.Position{
		IsOpen:          true,
		EntryPrice:      rec.EntryPrice,
		Quantity:        rec.Quantity,
		StopLossPrice:   stop,
		TakeProfitPrice: take,
		OpenedAt:        rec.Timestamp,
	}
	return nil
}
