package mock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"spot_trader/internal/core"
	apperrors "spot_trader/pkg/errors"

	"github.com/shopspring/decimal"
)

// Operation names accepted by SetError
const (
	OpBalance     = "balance"
	OpCandles     = "candles"
	OpConstraints = "constraints"
	OpPrice       = "price"
	OpOrder       = "order"
	OpOrderLookup = "order_lookup"
	OpHealth      = "health"
)

// MockExchange implements IExchange for testing. Market orders fill
// immediately at the configured price and move balances accordingly.
type MockExchange struct {
	name           string
	balances       map[string]decimal.Decimal
	candles        map[string][]core.Candle
	constraints    map[string]*core.SymbolConstraints
	prices         map[string]decimal.Decimal
	errs           map[string]error
	orders         []core.MarketOrderRequest
	fills          map[string]core.Fill
	lostResponse   error
	orderIDCounter int64
	partialFill    decimal.NullDecimal
	calls          map[string]int
	mu             sync.RWMutex
}

func NewMockExchange(name string) *MockExchange {
	return &MockExchange{
		name:           name,
		balances:       make(map[string]decimal.Decimal),
		candles:        make(map[string][]core.Candle),
		constraints:    make(map[string]*core.SymbolConstraints),
		prices:         make(map[string]decimal.Decimal),
		errs:           make(map[string]error),
		fills:          make(map[string]core.Fill),
		calls:          make(map[string]int),
		orderIDCounter: 1000,
	}
}

func (m *MockExchange) GetName() string { return m.name }

func (m *MockExchange) SetBalance(asset string, free decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[asset] = free
}

// SetCandles replaces the kline history for symbol.
func (m *MockExchange) SetCandles(symbol string, candles []core.Candle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.candles[symbol] = candles
}

// SetCloses builds one-minute candles from closing prices, ending now.
func (m *MockExchange) SetCloses(symbol string, closes ...decimal.Decimal) {
	start := time.Now().Add(-time.Duration(len(closes)) * time.Minute).Truncate(time.Minute)
	candles := make([]core.Candle, len(closes))
	for i, c := range closes {
		open := start.Add(time.Duration(i) * time.Minute)
		candles[i] = core.Candle{
			OpenTime:  open,
			CloseTime: open.Add(time.Minute - time.Millisecond),
			Open:      c, High: c, Low: c, Close: c,
			Volume: decimal.NewFromInt(1000),
		}
	}
	m.SetCandles(symbol, candles)
}

func (m *MockExchange) SetConstraints(c core.SymbolConstraints) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.constraints[c.Symbol] = &c
}

func (m *MockExchange) SetPrice(symbol string, price decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prices[symbol] = price
}

// SetError makes every call of op fail with err until cleared with nil.
func (m *MockExchange) SetError(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.errs, op)
		return
	}
	m.errs[op] = err
}

// SetPartialFill makes the next orders report qty as executed quantity.
func (m *MockExchange) SetPartialFill(qty decimal.NullDecimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.partialFill = qty
}

// SetLostResponse makes orders execute but report err to the caller, as when
// the response is lost after the exchange has filled the order.
func (m *MockExchange) SetLostResponse(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lostResponse = err
}

// Orders returns every order submitted so far.
func (m *MockExchange) Orders() []core.MarketOrderRequest {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]core.MarketOrderRequest, len(m.orders))
	copy(out, m.orders)
	return out
}

// Calls returns how many times op was invoked.
func (m *MockExchange) Calls(op string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls[op]
}

func (m *MockExchange) enter(op string) error {
	m.calls[op]++
	return m.errs[op]
}

func (m *MockExchange) GetFreeBalance(ctx context.Context, asset string) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpBalance); err != nil {
		return decimal.Zero, err
	}
	return m.balances[asset], nil
}

func (m *MockExchange) GetRecentCandles(ctx context.Context, symbol, interval string, limit int) ([]core.Candle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpCandles); err != nil {
		return nil, err
	}
	all := m.candles[symbol]
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	out := make([]core.Candle, len(all))
	copy(out, all)
	return out, nil
}

func (m *MockExchange) GetSymbolConstraints(ctx context.Context, symbol string) (*core.SymbolConstraints, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpConstraints); err != nil {
		return nil, err
	}
	c, ok := m.constraints[symbol]
	if !ok {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrInvalidSymbol, symbol)
	}
	cp := *c
	return &cp, nil
}

func (m *MockExchange) GetLatestPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpPrice); err != nil {
		return decimal.Zero, err
	}
	if p, ok := m.prices[symbol]; ok {
		return p, nil
	}
	if cs := m.candles[symbol]; len(cs) > 0 {
		return cs[len(cs)-1].Close, nil
	}
	return decimal.Zero, fmt.Errorf("%w: no price for %s", apperrors.ErrDataUnavailable, symbol)
}

func (m *MockExchange) PlaceMarketOrder(ctx context.Context, req *core.MarketOrderRequest) (*core.Fill, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpOrder); err != nil {
		return nil, err
	}
	m.orders = append(m.orders, *req)

	price, ok := m.prices[req.Symbol]
	if !ok {
		if cs := m.candles[req.Symbol]; len(cs) > 0 {
			price = cs[len(cs)-1].Close
		}
	}

	executed := req.Quantity
	if m.partialFill.Valid {
		executed = m.partialFill.Decimal
	}
	quote := executed.Mul(price)

	if c, ok := m.constraints[req.Symbol]; ok {
		switch req.Side {
		case core.SideBuy:
			m.balances[c.QuoteAsset] = m.balances[c.QuoteAsset].Sub(quote)
			m.balances[c.BaseAsset] = m.balances[c.BaseAsset].Add(executed)
		case core.SideSell:
			m.balances[c.QuoteAsset] = m.balances[c.QuoteAsset].Add(quote)
			m.balances[c.BaseAsset] = m.balances[c.BaseAsset].Sub(executed)
		}
	}

	m.orderIDCounter++
	status := "FILLED"
	if executed.IsZero() {
		status = "EXPIRED"
	} else if executed.LessThan(req.Quantity) {
		status = "PARTIALLY_FILLED"
	}
	fill := core.Fill{
		OrderID:       m.orderIDCounter,
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Status:        status,
		ExecutedQty:   executed,
		QuoteQty:      quote,
		AvgPrice:      price,
		TransactTime:  time.Now(),
	}
	m.fills[req.ClientOrderID] = fill
	if m.lostResponse != nil {
		return nil, m.lostResponse
	}
	return &fill, nil
}

func (m *MockExchange) GetOrder(ctx context.Context, symbol, clientOrderID string) (*core.Fill, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpOrderLookup); err != nil {
		return nil, err
	}
	fill, ok := m.fills[clientOrderID]
	if !ok || fill.Symbol != symbol {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrOrderNotFound, clientOrderID)
	}
	return &fill, nil
}

func (m *MockExchange) CheckHealth(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enter(OpHealth)
}
