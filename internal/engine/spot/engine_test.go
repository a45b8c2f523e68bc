package spot

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"spot_trader/internal/core"
	"spot_trader/internal/engine"
	"spot_trader/internal/mock"
	"spot_trader/internal/trading/indicator"
	"spot_trader/internal/trading/order"
	"spot_trader/internal/trading/position"
	"spot_trader/internal/trading/sizing"
	apperrors "spot_trader/pkg/errors"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const symbol = "DOGEUSDT"

type mockLogger struct{}

func (m *mockLogger) Debug(msg string, fields ...interface{})              {}
func (m *mockLogger) Info(msg string, fields ...interface{})               {}
func (m *mockLogger) Warn(msg string, fields ...interface{})               {}
func (m *mockLogger) Error(msg string, fields ...interface{})              {}
func (m *mockLogger) Fatal(msg string, fields ...interface{})              {}
func (m *mockLogger) WithField(key string, value interface{}) core.ILogger { return m }
func (m *mockLogger) WithFields(fields map[string]interface{}) core.ILogger {
	return m
}

type notification struct {
	level string
	title string
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notification
}

func (r *recordingNotifier) Notify(ctx context.Context, level, title, message string, fields map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, notification{level: level, title: title})
}

func (r *recordingNotifier) levels() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.sent))
	for i, n := range r.sent {
		out[i] = n.level
	}
	return out
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// uptrend alternates +0.002 / -0.001 so the fast EMA leads and RSI sits near 66.7.
func uptrend(n int) []decimal.Decimal {
	out := make([]decimal.Decimal, n)
	price := d("1.000")
	for i := 0; i < n; i++ {
		out[i] = price
		if i%2 == 0 {
			price = price.Add(d("0.002"))
		} else {
			price = price.Sub(d("0.001"))
		}
	}
	return out
}

func downtrend(n int) []decimal.Decimal {
	out := make([]decimal.Decimal, n)
	price := d("2.000")
	for i := 0; i < n; i++ {
		out[i] = price
		if i%2 == 0 {
			price = price.Sub(d("0.002"))
		} else {
			price = price.Add(d("0.001"))
		}
	}
	return out
}

func flat(n int, v string) []decimal.Decimal {
	out := make([]decimal.Decimal, n)
	for i := range out {
		out[i] = d(v)
	}
	return out
}

func testConfig() Config {
	return Config{
		Symbol:      symbol,
		Interval:    "1m",
		CandleLimit: 100,
		Indicators:  indicator.Params{FastPeriod: 9, SlowPeriod: 21, RSIPeriod: 14},
		Rules: position.Rules{
			RSILower:          d("30"),
			RSIUpper:          d("70"),
			StopLossPercent:   d("0.01"),
			TakeProfitPercent: d("0.02"),
		},
		ReservedQuote: d("20"),
	}
}

func dogeRules() core.SymbolConstraints {
	return core.SymbolConstraints{
		Symbol: symbol, BaseAsset: "DOGE", QuoteAsset: "USDT",
		MinQuantity: d("1"), QuantityStep: d("1"), MinNotional: d("5"),
	}
}

type fixture struct {
	ex       *mock.MockExchange
	store    *MemoryStore
	notifier *recordingNotifier
	engine   *SpotEngine
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	ex := mock.NewMockExchange("mock")
	ex.SetConstraints(dogeRules())
	ex.SetBalance("USDT", d("120"))

	store := NewMemoryStore()
	notifier := &recordingNotifier{}
	executor := order.NewOrderExecutor(ex, order.Config{Symbol: symbol, RateLimit: 1000, Burst: 100}, &mockLogger{})

	eng, err := NewSpotEngine(cfg, ex, executor, store, notifier, &mockLogger{})
	require.NoError(t, err)
	require.NoError(t, eng.Start(context.Background()))

	return &fixture{ex: ex, store: store, notifier: notifier, engine: eng}
}

func (f *fixture) trades(t *testing.T) []core.TradeRecord {
	t.Helper()
	trades, err := f.store.ListTrades(context.Background(), 0)
	require.NoError(t, err)
	return trades
}

// openAt seeds the trade log with a BUY and restarts the engine with resume enabled.
func openAt(t *testing.T, entry, qty string) *fixture {
	t.Helper()
	cfg := testConfig()
	cfg.ResumeOpenPosition = true

	ex := mock.NewMockExchange("mock")
	ex.SetConstraints(dogeRules())
	ex.SetCloses(symbol, flat(100, entry)...)

	store := NewMemoryStore()
	_, err := store.AppendTrade(context.Background(), core.TradeRecord{
		Timestamp: time.Now(), Symbol: symbol, Side: core.SideBuy,
		Quantity: d(qty), EntryPrice: d(entry),
	})
	require.NoError(t, err)

	notifier := &recordingNotifier{}
	executor := order.NewOrderExecutor(ex, order.Config{Symbol: symbol, RateLimit: 1000, Burst: 100}, &mockLogger{})
	eng, err := NewSpotEngine(cfg, ex, executor, store, notifier, &mockLogger{})
	require.NoError(t, err)
	require.NoError(t, eng.Start(context.Background()))
	require.Equal(t, position.Open, eng.State())

	return &fixture{ex: ex, store: store, notifier: notifier, engine: eng}
}

func TestNewSpotEngine_RejectsBadConfig(t *testing.T) {
	cfg := testConfig()
	cfg.CandleLimit = 10
	_, err := NewSpotEngine(cfg, mock.NewMockExchange("m"), nil, NewMemoryStore(), nil, &mockLogger{})
	assert.ErrorIs(t, err, apperrors.ErrInvalidParameter)

	cfg = testConfig()
	cfg.Rules.StopLossPercent = decimal.Zero
	_, err = NewSpotEngine(cfg, mock.NewMockExchange("m"), nil, NewMemoryStore(), nil, &mockLogger{})
	assert.ErrorIs(t, err, apperrors.ErrInvalidParameter)
}

func TestTick_EntrySignalOpensPosition(t *testing.T) {
	f := newFixture(t, testConfig())
	closes := uptrend(100)
	f.ex.SetCloses(symbol, closes...)
	last := closes[len(closes)-1]

	res := f.engine.Tick(context.Background())
	require.NoError(t, res.Err)
	assert.Equal(t, engine.ActionOpened, res.Action)
	assert.Equal(t, engine.StatusOK, res.Status)
	assert.Equal(t, position.Open, f.engine.State())

	want, err := sizing.Size(d("120"), last, d("20"), dogeRules())
	require.NoError(t, err)

	orders := f.ex.Orders()
	require.Len(t, orders, 1)
	assert.Equal(t, core.SideBuy, orders[0].Side)
	assert.True(t, orders[0].Quantity.Equal(want.Quantity))

	trades := f.trades(t)
	require.Len(t, trades, 1)
	rec := trades[0]
	assert.Equal(t, core.SideBuy, rec.Side)
	assert.True(t, rec.EntryPrice.Equal(last))
	assert.True(t, rec.Quantity.Equal(want.Quantity))
	assert.True(t, rec.StopLossPrice.Equal(last.Mul(d("0.99"))))
	assert.True(t, rec.TakeProfitPrice.Equal(last.Mul(d("1.02"))))
	assert.False(t, rec.ExitPrice.Valid)
	assert.Equal(t, []string{"INFO"}, f.notifier.levels())
}

func TestTick_NoEntryWithoutSignal(t *testing.T) {
	tests := []struct {
		name   string
		closes []decimal.Decimal
	}{
		{"downtrend", downtrend(100)},
		{"flat market has undefined rsi", flat(100, "0.08")},
		{"too little history", uptrend(10)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, testConfig())
			f.ex.SetCloses(symbol, tt.closes...)

			res := f.engine.Tick(context.Background())
			assert.Equal(t, engine.ActionIdle, res.Action)
			assert.Equal(t, engine.StatusOK, res.Status)
			assert.Equal(t, position.Searching, f.engine.State())
			assert.Empty(t, f.ex.Orders())
			assert.Equal(t, 0, f.ex.Calls(mock.OpBalance))
			assert.Empty(t, f.trades(t))
		})
	}
}

func TestTick_SizingRejectionLeavesStateUnchanged(t *testing.T) {
	f := newFixture(t, testConfig())
	f.ex.SetCloses(symbol, uptrend(100)...)
	f.ex.SetBalance("USDT", d("20"))

	res := f.engine.Tick(context.Background())
	assert.Equal(t, engine.ActionRejected, res.Action)
	assert.Equal(t, engine.StatusOK, res.Status)
	assert.ErrorIs(t, res.Err, apperrors.ErrInsufficientReserve)
	assert.Equal(t, position.Searching, f.engine.State())
	assert.Empty(t, f.ex.Orders())
}

func TestTick_BalanceFailureTreatedAsZero(t *testing.T) {
	f := newFixture(t, testConfig())
	f.ex.SetCloses(symbol, uptrend(100)...)
	f.ex.SetError(mock.OpBalance, apperrors.ErrNetwork)

	res := f.engine.Tick(context.Background())
	assert.Equal(t, engine.ActionRejected, res.Action)
	assert.ErrorIs(t, res.Err, apperrors.ErrInsufficientReserve)
	assert.Empty(t, f.ex.Orders())
}

func TestTick_BuyFailureIsMissedEntry(t *testing.T) {
	f := newFixture(t, testConfig())
	f.ex.SetCloses(symbol, uptrend(100)...)
	f.ex.SetError(mock.OpOrder, apperrors.ErrInsufficientFunds)

	res := f.engine.Tick(context.Background())
	assert.Equal(t, engine.ActionOrderFailed, res.Action)
	assert.Equal(t, engine.StatusRetry, res.Status)
	assert.ErrorIs(t, res.Err, apperrors.ErrOrderFailed)
	assert.Equal(t, position.Searching, f.engine.State())
	assert.Empty(t, f.trades(t))
}

func TestTick_CandleFailureAbortsTick(t *testing.T) {
	f := newFixture(t, testConfig())
	f.ex.SetError(mock.OpCandles, apperrors.ErrNetwork)

	res := f.engine.Tick(context.Background())
	assert.Equal(t, engine.ActionAborted, res.Action)
	assert.Equal(t, engine.StatusRetry, res.Status)
	assert.ErrorIs(t, res.Err, apperrors.ErrDataUnavailable)
	assert.ErrorIs(t, res.Err, apperrors.ErrNetwork)
}

func TestTick_ConstraintsFailureAbortsEntry(t *testing.T) {
	f := newFixture(t, testConfig())
	f.ex.SetCloses(symbol, uptrend(100)...)
	f.ex.SetError(mock.OpConstraints, errors.New("exchange info down"))

	res := f.engine.Tick(context.Background())
	assert.Equal(t, engine.StatusRetry, res.Status)
	assert.ErrorIs(t, res.Err, apperrors.ErrDataUnavailable)
	assert.Empty(t, f.ex.Orders())
}

func TestTick_ConstraintsCachedPerRun(t *testing.T) {
	f := newFixture(t, testConfig())
	closes := uptrend(100)
	f.ex.SetCloses(symbol, closes...)

	require.Equal(t, engine.ActionOpened, f.engine.Tick(context.Background()).Action)
	f.ex.SetPrice(symbol, closes[len(closes)-1].Mul(d("1.05")))
	require.Equal(t, engine.ActionClosed, f.engine.Tick(context.Background()).Action)
	require.Equal(t, engine.ActionOpened, f.engine.Tick(context.Background()).Action)

	assert.Equal(t, 1, f.ex.Calls(mock.OpConstraints))
}

func TestTick_ExitPriority(t *testing.T) {
	tests := []struct {
		price  string
		action engine.Action
		result core.ExitReason
	}{
		{"0.98", engine.ActionClosed, core.ExitStopLoss},
		{"1.03", engine.ActionClosed, core.ExitTakeProfit},
		{"1.00", engine.ActionHold, core.ExitNone},
	}
	for _, tt := range tests {
		t.Run(tt.price, func(t *testing.T) {
			f := openAt(t, "1.00", "10")
			f.ex.SetPrice(symbol, d(tt.price))

			res := f.engine.Tick(context.Background())
			require.NoError(t, res.Err)
			assert.Equal(t, tt.action, res.Action)

			trades := f.trades(t)
			if tt.result == core.ExitNone {
				assert.Len(t, trades, 1)
				assert.Equal(t, position.Open, f.engine.State())
				assert.Empty(t, f.ex.Orders())
				return
			}

			require.Len(t, trades, 2)
			sell := trades[1]
			assert.Equal(t, core.SideSell, sell.Side)
			assert.Equal(t, tt.result, sell.Result)
			assert.True(t, sell.ExitPrice.Decimal.Equal(d(tt.price)))
			assert.True(t, sell.EntryPrice.Equal(d("1.00")))
			assert.True(t, sell.StopLossPrice.Equal(d("0.99")))
			assert.True(t, sell.TakeProfitPrice.Equal(d("1.02")))
			assert.True(t, sell.Quantity.Equal(d("10")))
			assert.Equal(t, position.Searching, f.engine.State())
			assert.Equal(t, core.Position{}, f.engine.Position())

			orders := f.ex.Orders()
			require.Len(t, orders, 1)
			assert.Equal(t, core.SideSell, orders[0].Side)
			assert.True(t, orders[0].Quantity.Equal(d("10")))
		})
	}
}

func TestTick_StopLossNotifiesWarning(t *testing.T) {
	f := openAt(t, "1.00", "10")
	f.ex.SetPrice(symbol, d("0.95"))
	f.engine.Tick(context.Background())
	assert.Equal(t, []string{"WARNING"}, f.notifier.levels())
}

func TestTick_FailedSellStaysOpenAndRetries(t *testing.T) {
	f := openAt(t, "1.00", "10")
	f.ex.SetPrice(symbol, d("0.98"))
	f.ex.SetError(mock.OpOrder, apperrors.ErrNetwork)

	res := f.engine.Tick(context.Background())
	assert.Equal(t, engine.ActionOrderFailed, res.Action)
	assert.Equal(t, engine.StatusRetry, res.Status)
	assert.Equal(t, position.Open, f.engine.State())
	assert.Len(t, f.trades(t), 1)

	f.ex.SetError(mock.OpOrder, nil)
	res = f.engine.Tick(context.Background())
	assert.Equal(t, engine.ActionClosed, res.Action)
	assert.Equal(t, position.Searching, f.engine.State())

	trades := f.trades(t)
	require.Len(t, trades, 2)
	assert.Equal(t, core.ExitStopLoss, trades[1].Result)
}

func TestTick_PriceFailureWhileOpenAborts(t *testing.T) {
	f := openAt(t, "1.00", "10")
	f.ex.SetError(mock.OpPrice, apperrors.ErrRateLimitExceeded)

	res := f.engine.Tick(context.Background())
	assert.Equal(t, engine.ActionAborted, res.Action)
	assert.Equal(t, engine.StatusRetry, res.Status)
	assert.ErrorIs(t, res.Err, apperrors.ErrDataUnavailable)
	assert.Equal(t, position.Open, f.engine.State())
}

func TestTick_MonitorsExitWithShortHistory(t *testing.T) {
	f := openAt(t, "1.00", "10")
	f.ex.SetCloses(symbol, flat(3, "1.00")...)
	f.ex.SetPrice(symbol, d("1.10"))

	res := f.engine.Tick(context.Background())
	assert.Equal(t, engine.ActionClosed, res.Action)
	assert.Equal(t, core.ExitTakeProfit, f.trades(t)[1].Result)
}

func TestTick_PartialFillUsesExecutedQuantity(t *testing.T) {
	f := newFixture(t, testConfig())
	f.ex.SetCloses(symbol, uptrend(100)...)
	f.ex.SetPartialFill(decimal.NewNullDecimal(d("40")))

	res := f.engine.Tick(context.Background())
	require.Equal(t, engine.ActionOpened, res.Action)
	assert.True(t, f.engine.Position().Quantity.Equal(d("40")))
	assert.True(t, f.trades(t)[0].Quantity.Equal(d("40")))
}

func TestTick_PersistenceFailureKeepsTransition(t *testing.T) {
	f := newFixture(t, testConfig())
	f.ex.SetCloses(symbol, uptrend(100)...)
	f.store.SetError(errors.New("disk full"))

	res := f.engine.Tick(context.Background())
	assert.Equal(t, engine.ActionOpened, res.Action)
	assert.Equal(t, engine.StatusOK, res.Status)
	assert.ErrorIs(t, res.Err, apperrors.ErrPersistenceFailed)
	assert.Equal(t, position.Open, f.engine.State())
	assert.Contains(t, f.notifier.levels(), "CRITICAL")
}

func TestTick_CancelledContextIsFatal(t *testing.T) {
	f := newFixture(t, testConfig())
	f.ex.SetError(mock.OpCandles, context.Canceled)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := f.engine.Tick(ctx)
	assert.Equal(t, engine.StatusFatal, res.Status)
	assert.ErrorIs(t, res.Err, context.Canceled)
}

func TestStart_ResumeIgnoresClosedLog(t *testing.T) {
	cfg := testConfig()
	cfg.ResumeOpenPosition = true

	store := NewMemoryStore()
	ctx := context.Background()
	_, _ = store.AppendTrade(ctx, core.TradeRecord{Symbol: symbol, Side: core.SideBuy, Quantity: d("1"), EntryPrice: d("1")})
	_, _ = store.AppendTrade(ctx, core.TradeRecord{Symbol: symbol, Side: core.SideSell, Quantity: d("1"), EntryPrice: d("1"),
		ExitPrice: decimal.NewNullDecimal(d("1.02")), Result: core.ExitTakeProfit})

	eng, err := NewSpotEngine(cfg, mock.NewMockExchange("m"), nil, store, nil, &mockLogger{})
	require.NoError(t, err)
	require.NoError(t, eng.Start(ctx))
	assert.Equal(t, position.Searching, eng.State())
}

func TestStart_ResumeDisabledStartsSearching(t *testing.T) {
	store := NewMemoryStore()
	_, _ = store.AppendTrade(context.Background(), core.TradeRecord{Symbol: symbol, Side: core.SideBuy, Quantity: d("1"), EntryPrice: d("1")})

	eng, err := NewSpotEngine(testConfig(), mock.NewMockExchange("m"), nil, store, nil, &mockLogger{})
	require.NoError(t, err)
	require.NoError(t, eng.Start(context.Background()))
	assert.Equal(t, position.Searching, eng.State())
}

func TestCheckHealth(t *testing.T) {
	f := newFixture(t, testConfig())
	assert.Error(t, f.engine.CheckHealth(time.Minute))

	f.ex.SetCloses(symbol, flat(100, "1")...)
	f.engine.Tick(context.Background())
	assert.NoError(t, f.engine.CheckHealth(time.Minute))

	f.engine.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	assert.Error(t, f.engine.CheckHealth(time.Minute))
}

// Across any sequence of ticks and failures the trade log alternates
// BUY, SELL, BUY, ... and every SELL refers to the preceding BUY.
func TestTick_RecordsAlternate(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	f := newFixture(t, testConfig())
	f.ex.SetBalance("USDT", d("1000000"))
	closes := uptrend(100)
	f.ex.SetCloses(symbol, closes...)
	entry := closes[len(closes)-1]

	moves := []string{"0.97", "0.995", "1.0", "1.01", "1.025"}
	for i := 0; i < 300; i++ {
		f.ex.SetPrice(symbol, entry.Mul(d(moves[rng.Intn(len(moves))])))
		if rng.Intn(5) == 0 {
			f.ex.SetError(mock.OpOrder, apperrors.ErrNetwork)
		} else {
			f.ex.SetError(mock.OpOrder, nil)
		}
		if rng.Intn(7) == 0 {
			f.ex.SetError(mock.OpCandles, apperrors.ErrNetwork)
		} else {
			f.ex.SetError(mock.OpCandles, nil)
		}

		res := f.engine.Tick(context.Background())
		require.NotEqual(t, engine.StatusFatal, res.Status)
	}

	trades := f.trades(t)
	require.NotEmpty(t, trades)
	for i, rec := range trades {
		if i%2 == 0 {
			require.Equal(t, core.SideBuy, rec.Side, "record %d", i)
			require.False(t, rec.ExitPrice.Valid)
			continue
		}
		require.Equal(t, core.SideSell, rec.Side, "record %d", i)
		buy := trades[i-1]
		assert.True(t, rec.EntryPrice.Equal(buy.EntryPrice))
		assert.True(t, rec.Quantity.Equal(buy.Quantity))
		assert.NotEqual(t, core.ExitNone, rec.Result)
	}

	opens := (len(trades) + 1) / 2
	closed := len(trades) / 2
	assert.Equal(t, opens-closed == 1, f.engine.State() == position.Open)
}

// cancelAfterFill cancels the tick context as soon as the order has filled,
// the way a shutdown signal landing mid-order would.
type cancelAfterFill struct {
	inner  core.IOrderExecutor
	cancel context.CancelFunc
}

func (c *cancelAfterFill) Execute(ctx context.Context, side core.Side, qty decimal.Decimal) (*core.Fill, error) {
	fill, err := c.inner.Execute(ctx, side, qty)
	c.cancel()
	return fill, err
}

func newSQLiteEngine(t *testing.T, cfg Config, ex *mock.MockExchange, cancel context.CancelFunc) (*SpotEngine, *SQLStore) {
	t.Helper()
	store, _ := createTestStore(t)
	executor := &cancelAfterFill{
		inner:  order.NewOrderExecutor(ex, order.Config{Symbol: symbol, RateLimit: 1000, Burst: 100}, &mockLogger{}),
		cancel: cancel,
	}
	eng, err := NewSpotEngine(cfg, ex, executor, store, nil, &mockLogger{})
	require.NoError(t, err)
	require.NoError(t, eng.Start(context.Background()))
	return eng, store
}

func TestTick_ShutdownDuringBuyStillRecordsTrade(t *testing.T) {
	ex := mock.NewMockExchange("mock")
	ex.SetConstraints(dogeRules())
	ex.SetBalance("USDT", d("120"))
	ex.SetCloses(symbol, uptrend(100)...)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	eng, store := newSQLiteEngine(t, testConfig(), ex, cancel)

	res := eng.Tick(ctx)
	require.Error(t, ctx.Err())
	assert.Equal(t, engine.ActionOpened, res.Action)
	assert.Equal(t, engine.StatusOK, res.Status)
	assert.NoError(t, res.Err)
	assert.Equal(t, position.Open, eng.State())

	trades, err := store.ListTrades(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, core.SideBuy, trades[0].Side)
}

func TestTick_ShutdownDuringSellStillRecordsTrade(t *testing.T) {
	ex := mock.NewMockExchange("mock")
	ex.SetConstraints(dogeRules())
	ex.SetBalance("USDT", d("120"))
	ex.SetCloses(symbol, uptrend(100)...)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	eng, store := newSQLiteEngine(t, testConfig(), ex, func() {})

	require.Equal(t, engine.ActionOpened, eng.Tick(context.Background()).Action)
	eng.executor.(*cancelAfterFill).cancel = cancel
	ex.SetPrice(symbol, eng.Position().EntryPrice.Mul(d("0.98")))

	res := eng.Tick(ctx)
	require.Error(t, ctx.Err())
	assert.Equal(t, engine.ActionClosed, res.Action)
	assert.NotEqual(t, engine.StatusFatal, res.Status)
	assert.Equal(t, position.Searching, eng.State())

	trades, err := store.ListTrades(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, core.SideSell, trades[1].Side)
	assert.Equal(t, core.ExitStopLoss, trades[1].Result)
}

func TestTick_ShutdownWithFailedWriteKeepsOpenedAction(t *testing.T) {
	f := newFixture(t, testConfig())
	f.ex.SetCloses(symbol, uptrend(100)...)
	f.store.SetError(errors.New("disk full"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.engine.executor = &cancelAfterFill{inner: f.engine.executor, cancel: cancel}

	res := f.engine.Tick(ctx)
	assert.Equal(t, engine.ActionOpened, res.Action)
	assert.Equal(t, engine.StatusOK, res.Status)
	assert.ErrorIs(t, res.Err, apperrors.ErrPersistenceFailed)
}

func TestTick_LostBuyResponseOpensOnce(t *testing.T) {
	f := newFixture(t, testConfig())
	f.ex.SetCloses(symbol, uptrend(100)...)
	f.ex.SetLostResponse(apperrors.ErrNetwork)

	res := f.engine.Tick(context.Background())
	assert.Equal(t, engine.ActionOpened, res.Action)
	assert.Equal(t, position.Open, f.engine.State())

	// the next tick monitors instead of buying again
	f.engine.Tick(context.Background())
	assert.Len(t, f.ex.Orders(), 1)
	assert.Len(t, f.trades(t), 1)
}
