// Package binancespot provides the Binance Spot exchange implementation
package binancespot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"spot_trader/internal/config"
	"spot_trader/internal/core"
	apperrors "spot_trader/pkg/errors"
	"spot_trader/pkg/telemetry"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/failsafe-go/failsafe-go/timeout"
	"github.com/shopspring/decimal"
)

const (
	defaultSpotURL = "https://api.binance.com"
	testnetSpotURL = "https://testnet.binance.vision"

	defaultRequestTimeout = 10 * time.Second
	defaultRetryBackoff   = 250 * time.Millisecond
	maxRetryBackoff       = 2 * time.Second
)

// BinanceSpotExchange implements core.IExchange over the Binance Spot REST API
type BinanceSpotExchange struct {
	client *binance.Client
	logger core.ILogger

	// reads retry transient failures; orders only get the timeout
	reads  failsafe.Executor[any]
	orders failsafe.Executor[any]

	metrics *telemetry.MetricsHolder
}

// Options tune the resilience pipeline. Zero values fall back to the exchange config.
type Options struct {
	RetryBackoff time.Duration
}

// NewBinanceSpotExchange creates a new Binance Spot exchange instance
func NewBinanceSpotExchange(cfg *config.ExchangeConfig, logger core.ILogger, opts Options) *BinanceSpotExchange {
	client := binance.NewClient(cfg.APIKey.Reveal(), cfg.SecretKey.Reveal())
	client.BaseURL = baseURL(cfg)

	requestTimeout := time.Duration(cfg.RequestTimeoutSeconds) * time.Second
	if requestTimeout <= 0 {
		requestTimeout = defaultRequestTimeout
	}
	backoff := opts.RetryBackoff
	if backoff <= 0 {
		backoff = defaultRetryBackoff
	}
	maxBackoff := maxRetryBackoff
	if backoff > maxBackoff {
		maxBackoff = backoff
	}

	retryPolicy := retrypolicy.NewBuilder[any]().
		HandleIf(func(_ any, err error) bool {
			return apperrors.IsTransient(err) || errors.Is(err, timeout.ErrExceeded)
		}).
		WithBackoff(backoff, maxBackoff).
		WithMaxRetries(cfg.ReadRetries).
		ReturnLastFailure().
		Build()
	timeoutPolicy := timeout.New[any](requestTimeout)

	return &BinanceSpotExchange{
		client:  client,
		logger:  logger.WithField("component", "binance_spot"),
		reads:   failsafe.With[any](retryPolicy, timeoutPolicy),
		orders:  failsafe.With[any](timeoutPolicy),
		metrics: telemetry.GetGlobalMetrics(),
	}
}

func baseURL(cfg *config.ExchangeConfig) string {
	switch {
	case cfg.BaseURL != "":
		return cfg.BaseURL
	case cfg.Testnet:
		return testnetSpotURL
	default:
		return defaultSpotURL
	}
}

var _ core.IExchange = (*BinanceSpotExchange)(nil)

func (e *BinanceSpotExchange) GetName() string {
	return "binance_spot"
}

// SyncTime aligns request timestamps with the exchange clock.
func (e *BinanceSpotExchange) SyncTime(ctx context.Context) error {
	offset, err := read(ctx, e, "server_time", func(ctx context.Context) (int64, error) {
		return e.client.NewSetServerTimeService().Do(ctx)
	})
	if err != nil {
		return err
	}
	e.logger.Info("Synchronized with exchange clock", "offset_ms", offset)
	return nil
}

func (e *BinanceSpotExchange) GetFreeBalance(ctx context.Context, asset string) (decimal.Decimal, error) {
	account, err := read(ctx, e, "account", func(ctx context.Context) (*binance.Account, error) {
		return e.client.NewGetAccountService().Do(ctx)
	})
	if err != nil {
		return decimal.Zero, err
	}

	for _, b := range account.Balances {
		if b.Asset != asset {
			continue
		}
		free, err := decimal.NewFromString(b.Free)
		if err != nil {
			return decimal.Zero, fmt.Errorf("%w: balance %s=%q: %v", apperrors.ErrDataUnavailable, asset, b.Free, err)
		}
		return free, nil
	}
	return decimal.Zero, nil
}

func (e *BinanceSpotExchange) GetRecentCandles(ctx context.Context, symbol, interval string, limit int) ([]core.Candle, error) {
	klines, err := read(ctx, e, "klines", func(ctx context.Context) ([]*binance.Kline, error) {
		return e.client.NewKlinesService().Symbol(symbol).Interval(interval).Limit(limit).Do(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: klines %s %s: %w", apperrors.ErrDataUnavailable, symbol, interval, err)
	}

	candles := make([]core.Candle, 0, len(klines))
	for _, k := range klines {
		c, err := parseKline(k)
		if err != nil {
			return nil, fmt.Errorf("%w: kline %d: %v", apperrors.ErrDataUnavailable, k.OpenTime, err)
		}
		candles = append(candles, c)
	}
	return candles, nil
}

func parseKline(k *binance.Kline) (core.Candle, error) {
	c := core.Candle{
		OpenTime:  time.UnixMilli(k.OpenTime).UTC(),
		CloseTime: time.UnixMilli(k.CloseTime).UTC(),
	}
	fields := []struct {
		name string
		raw  string
		dst  *decimal.Decimal
	}{
		{"open", k.Open, &c.Open},
		{"high", k.High, &c.High},
		{"low", k.Low, &c.Low},
		{"close", k.Close, &c.Close},
		{"volume", k.Volume, &c.Volume},
	}
	for _, f := range fields {
		v, err := decimal.NewFromString(f.raw)
		if err != nil {
			return core.Candle{}, fmt.Errorf("%s %q: %w", f.name, f.raw, err)
		}
		*f.dst = v
	}
	return c, nil
}

// GetSymbolConstraints reads LOT_SIZE and NOTIONAL (or legacy MIN_NOTIONAL) for symbol.
func (e *BinanceSpotExchange) GetSymbolConstraints(ctx context.Context, symbol string) (*core.SymbolConstraints, error) {
	info, err := read(ctx, e, "exchange_info", func(ctx context.Context) (*binance.ExchangeInfo, error) {
		return e.client.NewExchangeInfoService().Symbol(symbol).Do(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: exchange info %s: %w", apperrors.ErrDataUnavailable, symbol, err)
	}

	for _, s := range info.Symbols {
		if s.Symbol != symbol {
			continue
		}
		return constraintsFromFilters(s.Symbol, s.BaseAsset, s.QuoteAsset, s.Filters)
	}
	return nil, fmt.Errorf("%w: %s", apperrors.ErrInvalidSymbol, symbol)
}

func constraintsFromFilters(symbol, baseAsset, quoteAsset string, filters []map[string]interface{}) (*core.SymbolConstraints, error) {
	c := &core.SymbolConstraints{
		Symbol:     symbol,
		BaseAsset:  baseAsset,
		QuoteAsset: quoteAsset,
	}

	var haveLot, haveNotional bool
	for _, f := range filters {
		switch f["filterType"] {
		case "LOT_SIZE":
			minQty, err1 := filterDecimal(f, "minQty")
			step, err2 := filterDecimal(f, "stepSize")
			if err := errors.Join(err1, err2); err != nil {
				return nil, fmt.Errorf("%w: %s LOT_SIZE: %v", apperrors.ErrDataUnavailable, symbol, err)
			}
			c.MinQuantity, c.QuantityStep = minQty, step
			haveLot = true
		case "NOTIONAL":
			v, err := filterDecimal(f, "minNotional")
			if err != nil {
				return nil, fmt.Errorf("%w: %s NOTIONAL: %v", apperrors.ErrDataUnavailable, symbol, err)
			}
			c.MinNotional = v
			haveNotional = true
		case "MIN_NOTIONAL":
			if haveNotional {
				continue
			}
			v, err := filterDecimal(f, "minNotional")
			if err != nil {
				return nil, fmt.Errorf("%w: %s MIN_NOTIONAL: %v", apperrors.ErrDataUnavailable, symbol, err)
			}
			c.MinNotional = v
		}
	}

	if !haveLot {
		return nil, fmt.Errorf("%w: %s has no LOT_SIZE filter", apperrors.ErrDataUnavailable, symbol)
	}
	return c, nil
}

func filterDecimal(f map[string]interface{}, key string) (decimal.Decimal, error) {
	raw, ok := f[key].(string)
	if !ok {
		return decimal.Zero, fmt.Errorf("missing %s", key)
	}
	return decimal.NewFromString(raw)
}

func (e *BinanceSpotExchange) GetLatestPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	prices, err := read(ctx, e, "ticker_price", func(ctx context.Context) ([]*binance.SymbolPrice, error) {
		return e.client.NewListPricesService().Symbol(symbol).Do(ctx)
	})
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: price %s: %w", apperrors.ErrDataUnavailable, symbol, err)
	}

	for _, p := range prices {
		if p.Symbol != "" && p.Symbol != symbol {
			continue
		}
		price, err := decimal.NewFromString(p.Price)
		if err != nil {
			return decimal.Zero, fmt.Errorf("%w: price %s=%q: %v", apperrors.ErrDataUnavailable, symbol, p.Price, err)
		}
		return price, nil
	}
	return decimal.Zero, fmt.Errorf("%w: no price for %s", apperrors.ErrDataUnavailable, symbol)
}

// PlaceMarketOrder submits one MARKET order. It is never retried: a lost
// response must not turn into a second fill.
func (e *BinanceSpotExchange) PlaceMarketOrder(ctx context.Context, req *core.MarketOrderRequest) (*core.Fill, error) {
	side := binance.SideTypeBuy
	if req.Side == core.SideSell {
		side = binance.SideTypeSell
	}

	start := time.Now()
	res, err := e.orders.WithContext(ctx).GetWithExecution(func(exec failsafe.Execution[any]) (any, error) {
		r, err := e.client.NewCreateOrderService().
			Symbol(req.Symbol).
			Side(side).
			Type(binance.OrderTypeMarket).
			Quantity(req.Quantity.String()).
			NewClientOrderID(req.ClientOrderID).
			NewOrderRespType(binance.NewOrderRespTypeFULL).
			Do(exec.Context())
		if err != nil {
			return nil, mapError(exec.Context(), err)
		}
		return r, nil
	})
	e.metrics.RecordExchangeLatency(ctx, "place_order", time.Since(start).Seconds())
	if err != nil {
		return nil, finalError(ctx, err)
	}

	fill, err := toFill(req, res.(*binance.CreateOrderResponse))
	if err != nil {
		return nil, err
	}
	return fill, nil
}

func toFill(req *core.MarketOrderRequest, r *binance.CreateOrderResponse) (*core.Fill, error) {
	executed, err := decimal.NewFromString(r.ExecutedQuantity)
	if err != nil {
		return nil, fmt.Errorf("%w: executedQty %q", apperrors.ErrDataUnavailable, r.ExecutedQuantity)
	}
	quote, err := decimal.NewFromString(r.CummulativeQuoteQuantity)
	if err != nil {
		quote = decimal.Zero
	}

	fill := &core.Fill{
		OrderID:       r.OrderID,
		ClientOrderID: r.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Status:        string(r.Status),
		ExecutedQty:   executed,
		QuoteQty:      quote,
		TransactTime:  time.UnixMilli(r.TransactTime).UTC(),
	}

	switch {
	case executed.IsPositive() && quote.IsPositive():
		fill.AvgPrice = quote.DivRound(executed, 16)
	case len(r.Fills) > 0:
		fill.AvgPrice, fill.QuoteQty = averageFillPrice(r.Fills)
	}
	return fill, nil
}

// averageFillPrice is the quantity-weighted price over partial fills.
func averageFillPrice(fills []*binance.Fill) (avg, quote decimal.Decimal) {
	qty := decimal.Zero
	for _, f := range fills {
		p, err1 := decimal.NewFromString(f.Price)
		q, err2 := decimal.NewFromString(f.Quantity)
		if err1 != nil || err2 != nil {
			continue
		}
		qty = qty.Add(q)
		quote = quote.Add(p.Mul(q))
	}
	if !qty.IsPositive() {
		return decimal.Zero, quote
	}
	return quote.DivRound(qty, 16), quote
}

// GetOrder queries an order by its client order id. It is a read and goes
// through the retrying pipeline; -2013 means the order was never accepted.
func (e *BinanceSpotExchange) GetOrder(ctx context.Context, symbol, clientOrderID string) (*core.Fill, error) {
	o, err := read(ctx, e, "get_order", func(ctx context.Context) (*binance.Order, error) {
		return e.client.NewGetOrderService().Symbol(symbol).OrigClientOrderID(clientOrderID).Do(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("order %s: %w", clientOrderID, err)
	}
	return orderToFill(o)
}

func orderToFill(o *binance.Order) (*core.Fill, error) {
	executed, err := decimal.NewFromString(o.ExecutedQuantity)
	if err != nil {
		return nil, fmt.Errorf("%w: executedQty %q", apperrors.ErrDataUnavailable, o.ExecutedQuantity)
	}
	quote, err := decimal.NewFromString(o.CummulativeQuoteQuantity)
	if err != nil {
		quote = decimal.Zero
	}

	side := core.SideBuy
	if o.Side == binance.SideTypeSell {
		side = core.SideSell
	}
	fill := &core.Fill{
		OrderID:       o.OrderID,
		ClientOrderID: o.ClientOrderID,
		Symbol:        o.Symbol,
		Side:          side,
		Status:        string(o.Status),
		ExecutedQty:   executed,
		QuoteQty:      quote,
		TransactTime:  time.UnixMilli(o.UpdateTime).UTC(),
	}
	if executed.IsPositive() {
		fill.AvgPrice = quote.DivRound(executed, 16)
	}
	return fill, nil
}

// CheckHealth pings the REST API.
func (e *BinanceSpotExchange) CheckHealth(ctx context.Context) error {
	_, err := read(ctx, e, "ping", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, e.client.NewPingService().Do(ctx)
	})
	return err
}

// read runs fn through the retrying read pipeline and records its latency.
func read[T any](ctx context.Context, e *BinanceSpotExchange, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	start := time.Now()
	res, err := e.reads.WithContext(ctx).GetWithExecution(func(exec failsafe.Execution[any]) (any, error) {
		if exec.Attempts() > 1 {
			e.logger.Warn("Retrying exchange request", "op", op, "attempt", exec.Attempts(), "error", exec.LastError())
		}
		v, err := fn(exec.Context())
		if err != nil {
			return nil, mapError(exec.Context(), err)
		}
		return v, nil
	})
	e.metrics.RecordExchangeLatency(ctx, op, time.Since(start).Seconds())
	if err != nil {
		return zero, finalError(ctx, err)
	}
	return res.(T), nil
}

// mapError translates go-binance failures into apperrors sentinels.
func mapError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	var apiErr *common.APIError
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("%w: %v", apperrors.ErrNetwork, err)
	}

	var sentinel error
	switch apiErr.Code {
	case -2015, -2014, -1022:
		sentinel = apperrors.ErrAuthenticationFailed
	case -1013, -1111, -1100, -1102:
		sentinel = apperrors.ErrInvalidOrderParameter
	case -2010:
		sentinel = apperrors.ErrInsufficientFunds
	case -1003, -1015:
		sentinel = apperrors.ErrRateLimitExceeded
	case -1021:
		sentinel = apperrors.ErrTimestampOutOfBounds
	case -1121:
		sentinel = apperrors.ErrInvalidSymbol
	case -1001, -1006, -1007:
		sentinel = apperrors.ErrNetwork
	case -1016:
		sentinel = apperrors.ErrExchangeMaintenance
	case -2013:
		sentinel = apperrors.ErrOrderNotFound
	default:
		return fmt.Errorf("binance error %d: %s", apiErr.Code, apiErr.Message)
	}
	return fmt.Errorf("%w: binance error %d: %s", sentinel, apiErr.Code, apiErr.Message)
}

// finalError prefers caller cancellation and reports an expired attempt as a network error.
func finalError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, timeout.ErrExceeded) {
		return fmt.Errorf("%w: %v", apperrors.ErrNetwork, err)
	}
	return err
}
