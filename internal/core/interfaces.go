package core

import (
	"context"

	"github.com/shopspring/decimal"
)

// IExchange defines the spot exchange operations the agent depends on
type IExchange interface {
	GetName() string

	// GetFreeBalance returns the free (unlocked) balance of asset; zero when the asset is absent.
	GetFreeBalance(ctx context.Context, asset string) (decimal.Decimal, error)
	// GetRecentCandles returns up to limit klines, oldest first.
	GetRecentCandles(ctx context.Context, symbol, interval string, limit int) ([]Candle, error)
	GetSymbolConstraints(ctx context.Context, symbol string) (*SymbolConstraints, error)
	GetLatestPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
	PlaceMarketOrder(ctx context.Context, req *MarketOrderRequest) (*Fill, error)
	// GetOrder looks up an order by client order id; ErrOrderNotFound when the exchange never accepted it.
	GetOrder(ctx context.Context, symbol, clientOrderID string) (*Fill, error)

	CheckHealth(ctx context.Context) error
}

// IOrderExecutor submits exactly one market order per call
type IOrderExecutor interface {
	Execute(ctx context.Context, side Side, quantity decimal.Decimal) (*Fill, error)
}

// ITradeStore is the append-only trade log
type ITradeStore interface {
	// AppendTrade persists rec and returns it with its assigned ID.
	AppendTrade(ctx context.Context, rec TradeRecord) (TradeRecord, error)
	// ListTrades returns the newest limit records in insertion order; limit <= 0 returns all.
	ListTrades(ctx context.Context, limit int) ([]TradeRecord, error)
	// LastTrade returns the most recent record or nil if the log is empty.
	LastTrade(ctx context.Context) (*TradeRecord, error)
	Ping(ctx context.Context) error
	Close() error
}

// INotifier delivers out-of-band notifications
type INotifier interface {
	Notify(ctx context.Context, level, title, message string, fields map[string]string)
}

// ILogger defines the interface for logging
type ILogger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
	WithField(key string, value interface{}) ILogger
	WithFields(fields map[string]interface{}) ILogger
}
