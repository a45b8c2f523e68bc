// Package spot implements the single-position spot trading engine: it polls
// klines, evaluates EMA/RSI entries and fixed stop-loss/take-profit exits,
// and appends every fill to the trade log.
package spot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"spot_trader/internal/core"
	"spot_trader/internal/engine"
	"spot_trader/internal/trading/indicator"
	"spot_trader/internal/trading/position"
	"spot_trader/internal/trading/sizing"
	apperrors "spot_trader/pkg/errors"
	"spot_trader/pkg/telemetry"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const persistTimeout = 5 * time.Second

// Config holds the engine parameters
type Config struct {
	Symbol        string
	Interval      string
	CandleLimit   int
	Indicators    indicator.Params
	Rules         position.Rules
	ReservedQuote decimal.Decimal
	// ResumeOpenPosition reopens a trailing BUY from the trade log at Start.
	ResumeOpenPosition bool
}

// SpotEngine implements engine.Engine
type SpotEngine struct {
	cfg      Config
	exchange core.IExchange
	executor core.IOrderExecutor
	store    core.ITradeStore
	notifier core.INotifier
	machine  *position.Machine
	logger   core.ILogger

	// Exchange rules are fetched once per process run.
	constraints *core.SymbolConstraints

	lastTick atomic.Int64
	now      func() time.Time

	tracer  trace.Tracer
	metrics *telemetry.MetricsHolder
}

// NewSpotEngine creates a new engine in the Searching state. notifier may be nil.
func NewSpotEngine(
	cfg Config,
	exchange core.IExchange,
	executor core.IOrderExecutor,
	store core.ITradeStore,
	notifier core.INotifier,
	logger core.ILogger,
) (*SpotEngine, error) {
	if err := cfg.Indicators.Validate(); err != nil {
		return nil, err
	}
	if cfg.CandleLimit < cfg.Indicators.MinSamples() {
		return nil, fmt.Errorf("%w: candle limit %d below %d required samples",
			apperrors.ErrInvalidParameter, cfg.CandleLimit, cfg.Indicators.MinSamples())
	}
	cfg.Rules.Symbol = cfg.Symbol
	machine, err := position.NewMachine(cfg.Rules)
	if err != nil {
		return nil, err
	}

	return &SpotEngine{
		cfg:      cfg,
		exchange: exchange,
		executor: executor,
		store:    store,
		notifier: notifier,
		machine:  machine,
		logger:   logger.WithField("component", "spot_engine").WithField("symbol", cfg.Symbol),
		now:      time.Now,
		tracer:   telemetry.GetTracer("spot-engine"),
		metrics:  telemetry.GetGlobalMetrics(),
	}, nil
}

var _ engine.Engine = (*SpotEngine)(nil)

// Start restores an open position from the trade log when enabled.
func (e *SpotEngine) Start(ctx context.Context) error {
	e.logger.Info("Starting spot engine",
		"interval", e.cfg.Interval,
		"ema_fast", e.cfg.Indicators.FastPeriod,
		"ema_slow", e.cfg.Indicators.SlowPeriod,
		"rsi_period", e.cfg.Indicators.RSIPeriod,
		"stop_loss_percent", e.cfg.Rules.StopLossPercent,
		"take_profit_percent", e.cfg.Rules.TakeProfitPercent,
		"reserved_quote", e.cfg.ReservedQuote)

	if e.cfg.ResumeOpenPosition {
		last, err := e.store.LastTrade(ctx)
		if err != nil {
			return fmt.Errorf("failed to read trade log: %w", err)
		}
		if last != nil && last.Side == core.SideBuy && last.Symbol == e.cfg.Symbol {
			if err := e.machine.Restore(*last); err != nil {
				return fmt.Errorf("failed to restore position: %w", err)
			}
			p := e.machine.Position()
			e.logger.Info("Restored open position from trade log",
				"trade_id", last.ID,
				"entry_price", p.EntryPrice,
				"quantity", p.Quantity,
				"stop_loss", p.StopLossPrice,
				"take_profit", p.TakeProfitPrice)
		} else {
			e.logger.Info("No open position in trade log, starting fresh")
		}
	}

	e.metrics.SetPositionOpen(e.cfg.Symbol, e.machine.State() == position.Open)
	return nil
}

func (e *SpotEngine) Stop() error {
	p := e.machine.Position()
	if p.IsOpen {
		e.logger.Warn("Stopping with an open position",
			"entry_price", p.EntryPrice,
			"quantity", p.Quantity)
	} else {
		e.logger.Info("Stopping spot engine")
	}
	return nil
}

// Position returns a copy of the managed position
func (e *SpotEngine) Position() core.Position {
	return e.machine.Position()
}

func (e *SpotEngine) State() position.State {
	return e.machine.State()
}

// LastTick returns the completion time of the most recent tick, or zero.
func (e *SpotEngine) LastTick() time.Time {
	ns := e.lastTick.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// CheckHealth fails when no tick has completed within maxAge.
func (e *SpotEngine) CheckHealth(maxAge time.Duration) error {
	last := e.LastTick()
	if last.IsZero() {
		return fmt.Errorf("no tick completed yet")
	}
	if age := e.now().Sub(last); age > maxAge {
		return fmt.Errorf("last tick %s ago exceeds %s", age.Truncate(time.Second), maxAge)
	}
	return nil
}

// Tick runs one polling iteration.
func (e *SpotEngine) Tick(ctx context.Context) engine.TickResult {
	ctx, span := e.tracer.Start(ctx, "Tick",
		trace.WithAttributes(
			attribute.String("symbol", e.cfg.Symbol),
			attribute.String("state", e.machine.State().String()),
		),
	)
	defer span.End()

	res := e.tick(ctx)
	if res.Err != nil && ctx.Err() != nil && !transitioned(res.Action) {
		res = engine.Fatal(ctx.Err())
	}

	span.SetAttributes(
		attribute.String("action", string(res.Action)),
		attribute.String("status", res.Status.String()),
	)
	e.metrics.RecordTick(ctx, res.Status.String(), string(res.Action))
	e.lastTick.Store(e.now().UnixNano())
	return res
}

func (e *SpotEngine) tick(ctx context.Context) engine.TickResult {
	candles, err := e.exchange.GetRecentCandles(ctx, e.cfg.Symbol, e.cfg.Interval, e.cfg.CandleLimit)
	if err != nil {
		return engine.Retry(engine.ActionAborted, dataUnavailable("fetch candles", err))
	}

	snap, err := indicator.Compute(core.SamplesFromCandles(candles), e.cfg.Indicators)
	haveSignal := err == nil
	if haveSignal {
		e.logger.Info("Indicators",
			"close", snap.LastClose,
			"ema_fast", snap.EMAFast.Round(8),
			"ema_slow", snap.EMASlow.Round(8),
			"rsi", formatRSI(snap.RSI))
	} else {
		e.logger.Warn("Not enough price history for indicators", "samples", len(candles), "error", err)
	}

	if e.machine.State() == position.Open {
		return e.monitor(ctx)
	}

	if !haveSignal || !e.machine.ShouldEnter(snap) {
		return engine.OK(engine.ActionIdle)
	}
	return e.enter(ctx, snap)
}

func (e *SpotEngine) enter(ctx context.Context, snap core.IndicatorSnapshot) engine.TickResult {
	rules, err := e.symbolConstraints(ctx)
	if err != nil {
		return engine.Retry(engine.ActionAborted, err)
	}

	balance, err := e.exchange.GetFreeBalance(ctx, rules.QuoteAsset)
	if err != nil {
		e.logger.Warn("Balance unavailable, treating as zero", "asset", rules.QuoteAsset, "error", err)
		balance = decimal.Zero
	}

	size, err := sizing.Size(balance, snap.LastClose, e.cfg.ReservedQuote, *rules)
	if err != nil {
		e.logger.Warn("Entry signal skipped, order size rejected",
			"balance", balance,
			"price", snap.LastClose,
			"reserve", e.cfg.ReservedQuote,
			"reason", err)
		return engine.TickResult{Action: engine.ActionRejected, Status: engine.StatusOK, Err: err}
	}

	e.logger.Info("Entry signal, buying",
		"price", snap.LastClose,
		"quantity", size.Display,
		"notional", size.Notional)

	fill, err := e.executor.Execute(ctx, core.SideBuy, size.Quantity)
	if err != nil {
		return engine.Retry(engine.ActionOrderFailed, err)
	}

	qty := size.Quantity
	if fill.ExecutedQty.IsPositive() {
		qty = fill.ExecutedQty
	}

	rec, err := e.machine.Open(snap.LastClose, qty, strconv.FormatInt(fill.OrderID, 10), e.now())
	if err != nil {
		return engine.Retry(engine.ActionOrderFailed, err)
	}
	e.metrics.SetPositionOpen(e.cfg.Symbol, true)

	e.logger.Info("Position opened",
		"entry_price", rec.EntryPrice,
		"quantity", rec.Quantity,
		"stop_loss", rec.StopLossPrice,
		"take_profit", rec.TakeProfitPrice,
		"order_id", rec.OrderID)
	e.notify(ctx, "INFO", "Position opened", fmt.Sprintf("BUY %s %s @ %s", rec.Quantity, e.cfg.Symbol, rec.EntryPrice), recordFields(rec))

	if err := e.persist(ctx, rec); err != nil {
		return engine.TickResult{Action: engine.ActionOpened, Status: engine.StatusOK, Err: err}
	}
	return engine.OK(engine.ActionOpened)
}

func (e *SpotEngine) monitor(ctx context.Context) engine.TickResult {
	price, err := e.exchange.GetLatestPrice(ctx, e.cfg.Symbol)
	if err != nil {
		return engine.Retry(engine.ActionAborted, dataUnavailable("fetch price", err))
	}

	p := e.machine.Position()
	reason := e.machine.CheckExit(price)
	if reason == core.ExitNone {
		e.logger.Info("Holding position",
			"price", price,
			"entry_price", p.EntryPrice,
			"stop_loss", p.StopLossPrice,
			"take_profit", p.TakeProfitPrice)
		return engine.OK(engine.ActionHold)
	}

	e.logger.Info("Exit triggered, selling", "reason", string(reason), "price", price, "quantity", p.Quantity)

	fill, err := e.executor.Execute(ctx, core.SideSell, p.Quantity)
	if err != nil {
		e.logger.Error("Exit order failed, position stays open", "reason", string(reason), "error", err)
		return engine.Retry(engine.ActionOrderFailed, err)
	}

	rec, err := e.machine.Close(price, reason, strconv.FormatInt(fill.OrderID, 10), e.now())
	if err != nil {
		return engine.Retry(engine.ActionOrderFailed, err)
	}
	e.metrics.SetPositionOpen(e.cfg.Symbol, false)

	pnl := rec.RealizedPnL()
	pnlFloat, _ := pnl.Float64()
	e.metrics.AddRealizedPnL(ctx, e.cfg.Symbol, pnlFloat)

	e.logger.Info("Position closed",
		"result", string(rec.Result),
		"entry_price", rec.EntryPrice,
		"exit_price", rec.ExitPrice.Decimal,
		"quantity", rec.Quantity,
		"pnl", pnl,
		"order_id", rec.OrderID)

	level := "INFO"
	if reason == core.ExitStopLoss {
		level = "WARNING"
	}
	fields := recordFields(rec)
	fields["pnl"] = pnl.String()
	e.notify(ctx, level, "Position closed: "+string(reason),
		fmt.Sprintf("SELL %s %s @ %s (PnL %s)", rec.Quantity, e.cfg.Symbol, rec.ExitPrice.Decimal, pnl), fields)

	if err := e.persist(ctx, rec); err != nil {
		return engine.TickResult{Action: engine.ActionClosed, Status: engine.StatusOK, Err: err}
	}
	return engine.OK(engine.ActionClosed)
}

// persist appends rec to the trade log. A failure never reverts the transition;
// the full record is logged so it can be recovered by hand.
func (e *SpotEngine) persist(ctx context.Context, rec core.TradeRecord) error {
	// The fill already happened, so a shutdown signal must not drop its record.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	saved, err := e.store.AppendTrade(ctx, rec)
	if err == nil {
		e.metrics.RecordTrade(ctx, string(rec.Side))
		e.logger.Debug("Trade recorded", "trade_id", saved.ID, "side", string(saved.Side))
		return nil
	}

	e.metrics.RecordPersistFailure(ctx, string(rec.Side))
	fields := []interface{}{"error", err}
	for k, v := range recordFields(rec) {
		fields = append(fields, k, v)
	}
	e.logger.Error("Trade record persistence failed", fields...)
	e.notify(ctx, "CRITICAL", "Trade log write failed", err.Error(), recordFields(rec))
	return fmt.Errorf("%w: %w", apperrors.ErrPersistenceFailed, err)
}

func (e *SpotEngine) symbolConstraints(ctx context.Context) (*core.SymbolConstraints, error) {
	if e.constraints != nil {
		return e.constraints, nil
	}
	c, err := e.exchange.GetSymbolConstraints(ctx, e.cfg.Symbol)
	if err != nil {
		return nil, dataUnavailable("fetch symbol constraints", err)
	}
	e.logger.Info("Loaded symbol constraints",
		"min_qty", c.MinQuantity,
		"step_size", c.QuantityStep,
		"min_notional", c.MinNotional)
	e.constraints = c
	return c, nil
}

func (e *SpotEngine) notify(ctx context.Context, level, title, msg string, fields map[string]string) {
	if e.notifier == nil {
		return
	}
	e.notifier.Notify(ctx, level, title, msg, fields)
}

// transitioned reports whether the tick filled an order and moved the machine.
func transitioned(a engine.Action) bool {
	return a == engine.ActionOpened || a == engine.ActionClosed
}

func dataUnavailable(op string, err error) error {
	if errors.Is(err, apperrors.ErrDataUnavailable) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%w: %s: %w", apperrors.ErrDataUnavailable, op, err)
}

func formatRSI(v decimal.NullDecimal) string {
	if !v.Valid {
		return "undefined"
	}
	return v.Decimal.StringFixed(2)
}

func recordFields(rec core.TradeRecord) map[string]string {
	f := map[string]string{
		"timestamp":   rec.Timestamp.UTC().Format(time.RFC3339),
		"symbol":      rec.Symbol,
		"side":        string(rec.Side),
		"quantity":    rec.Quantity.String(),
		"entry_price": rec.EntryPrice.String(),
		"stop_loss":   rec.StopLossPrice.String(),
		"take_profit": rec.TakeProfitPrice.String(),
		"order_id":    rec.OrderID,
	}
	if rec.ExitPrice.Valid {
		f["exit_price"] = rec.ExitPrice.Decimal.String()
		f["result"] = string(rec.Result)
	}
	return f
}
