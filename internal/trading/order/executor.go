// Package order provides market order execution with rate limiting
package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"spot_trader/internal/core"
	apperrors "spot_trader/pkg/errors"
	"spot_trader/pkg/telemetry"
	"spot_trader/utils"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	clientOrderPrefix    = "st"
	defaultLookupTimeout = 10 * time.Second
)

// Config tunes the executor
type Config struct {
	Symbol string
	// RateLimit is orders per second; Burst is the bucket size.
	RateLimit float64
	Burst     int
}

// OrderExecutor implements the IOrderExecutor interface.
// Each Execute call submits at most one order and never retries.
type OrderExecutor struct {
	exchange    core.IExchange
	logger      core.ILogger
	symbol      string
	rateLimiter *rate.Limiter
	idGen       func(prefix, side string) string
	// lookupTimeout bounds the order query after a lost response.
	lookupTimeout time.Duration

	tracer  trace.Tracer
	metrics *telemetry.MetricsHolder
}

// NewOrderExecutor creates a new order executor instance
func NewOrderExecutor(exchange core.IExchange, cfg Config, logger core.ILogger) *OrderExecutor {
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 5
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}

	return &OrderExecutor{
		exchange:      exchange,
		logger:        logger.WithField("component", "order_executor"),
		symbol:        cfg.Symbol,
		rateLimiter:   rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.Burst),
		idGen:         utils.GenerateOrderID,
		lookupTimeout: defaultLookupTimeout,
		tracer:        telemetry.GetTracer("order-executor"),
		metrics:       telemetry.GetGlobalMetrics(),
	}
}

// Execute submits a market order for quantity base units and returns the fill.
// Any failure is reported as ErrOrderFailed wrapping the cause. When the
// submission fails with an unknown outcome the order is looked up once by
// client order id and a recovered fill is returned as a success.
func (oe *OrderExecutor) Execute(ctx context.Context, side core.Side, quantity decimal.Decimal) (*core.Fill, error) {
	if !quantity.IsPositive() {
		return nil, fmt.Errorf("%w: order quantity %s", apperrors.ErrInvalidParameter, quantity)
	}

	ctx, span := oe.tracer.Start(ctx, "Execute",
		trace.WithAttributes(
			attribute.String("symbol", oe.symbol),
			attribute.String("side", string(side)),
			attribute.String("quantity", quantity.String()),
		),
	)
	defer span.End()

	if err := oe.rateLimiter.Wait(ctx); err != nil {
		return nil, oe.fail(ctx, span, side, fmt.Errorf("rate limiter: %w", err))
	}

	req := &core.MarketOrderRequest{
		Symbol:        oe.symbol,
		Side:          side,
		Quantity:      quantity,
		ClientOrderID: oe.idGen(clientOrderPrefix, string(side)),
	}

	oe.logger.Info("Submitting market order",
		"symbol", req.Symbol,
		"side", side,
		"quantity", quantity,
		"client_order_id", req.ClientOrderID)

	fill, err := oe.exchange.PlaceMarketOrder(ctx, req)
	if err != nil {
		if !apperrors.IsOutcomeUnknown(err) {
			return nil, oe.fail(ctx, span, side, err)
		}
		recovered, ok := oe.lookup(ctx, req, err)
		if !ok {
			return nil, oe.fail(ctx, span, side, err)
		}
		fill = recovered
	}
	if fill == nil || !fill.ExecutedQty.IsPositive() {
		status := "UNKNOWN"
		if fill != nil {
			status = fill.Status
		}
		return nil, oe.fail(ctx, span, side, fmt.Errorf("%w: status %s with no executed quantity", apperrors.ErrOrderRejected, status))
	}

	oe.metrics.RecordOrder(ctx, string(side), "filled")
	oe.logger.Info("Market order filled",
		"symbol", fill.Symbol,
		"side", side,
		"order_id", fill.OrderID,
		"status", fill.Status,
		"executed_qty", fill.ExecutedQty,
		"avg_price", fill.AvgPrice)

	return fill, nil
}

// lookup asks the exchange once whether an order whose response was lost
// executed anyway. It never resubmits.
func (oe *OrderExecutor) lookup(ctx context.Context, req *core.MarketOrderRequest, cause error) (*core.Fill, bool) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), oe.lookupTimeout)
	defer cancel()

	fill, err := oe.exchange.GetOrder(ctx, req.Symbol, req.ClientOrderID)
	if err != nil {
		if !errors.Is(err, apperrors.ErrOrderNotFound) {
			oe.logger.Error("Order outcome unknown, lookup failed",
				"client_order_id", req.ClientOrderID,
				"submit_error", cause,
				"error", err)
		}
		return nil, false
	}
	if !fill.ExecutedQty.IsPositive() {
		return nil, false
	}

	oe.logger.Warn("Order response lost but the exchange executed it",
		"client_order_id", req.ClientOrderID,
		"order_id", fill.OrderID,
		"executed_qty", fill.ExecutedQty,
		"submit_error", cause)
	return fill, true
}

func (oe *OrderExecutor) fail(ctx context.Context, span trace.Span, side core.Side, cause error) error {
	span.RecordError(cause)
	span.SetStatus(codes.Error, cause.Error())
	oe.metrics.RecordOrder(ctx, string(side), "failed")
	oe.logger.Error("Market order failed",
		"symbol", oe.symbol,
		"side", side,
		"error", cause)
	return fmt.Errorf("%w: %w", apperrors.ErrOrderFailed, cause)
}
