package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of a market order
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// ExitReason is the outcome written on a SELL trade record
type ExitReason string

const (
	ExitNone       ExitReason = ""
	ExitStopLoss   ExitReason = "Stop Loss"
	ExitTakeProfit ExitReason = "Take Profit"
)

// Candle is one kline as returned by the exchange
type Candle struct {
	OpenTime  time.Time
	CloseTime time.Time
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    decimal.Decimal
}

// PriceSample is a single closing price, ordered oldest to newest in a series
type PriceSample struct {
	Timestamp time.Time
	Close     decimal.Decimal
}

// SamplesFromCandles converts klines into closing price samples keyed by close time.
func SamplesFromCandles(candles []Candle) []PriceSample {
	samples := make([]PriceSample, 0, len(candles))
	for _, c := range candles {
		samples = append(samples, PriceSample{Timestamp: c.CloseTime, Close: c.Close})
	}
	return samples
}

// IndicatorSnapshot holds the indicator values at the newest sample.
// RSI is not Valid when it is mathematically undefined (flat window).
type IndicatorSnapshot struct {
	EMAFast   decimal.Decimal
	EMASlow   decimal.Decimal
	RSI       decimal.NullDecimal
	LastClose decimal.Decimal
	Timestamp time.Time
}

// SymbolConstraints are the exchange trading rules for one symbol
type SymbolConstraints struct {
	Symbol       string
	BaseAsset    string
	QuoteAsset   string
	MinQuantity  decimal.Decimal
	QuantityStep decimal.Decimal
	MinNotional  decimal.Decimal
}

// MarketOrderRequest is an immediate-fill order for the base asset
type MarketOrderRequest struct {
	Symbol        string
	Side          Side
	Quantity      decimal.Decimal
	ClientOrderID string
}

// Fill is the exchange acknowledgement of a market order
type Fill struct {
	OrderID       int64
	ClientOrderID string
	Symbol        string
	Side          Side
	Status        string
	ExecutedQty   decimal.Decimal
	QuoteQty      decimal.Decimal
	AvgPrice      decimal.Decimal
	TransactTime  time.Time
}

// Position is the single long position managed by the agent.
// A closed position has every numeric field at zero.
type Position struct {
	IsOpen          bool
	EntryPrice      decimal.Decimal
	Quantity        decimal.Decimal
	StopLossPrice   decimal.Decimal
	TakeProfitPrice decimal.Decimal
	OpenedAt        time.Time
}

// TradeRecord is one row of the append-only trade log
type TradeRecord struct {
	ID              int64
	Timestamp       time.Time
	Symbol          string
	Side            Side
	Quantity        decimal.Decimal
	EntryPrice      decimal.Decimal
	StopLossPrice   decimal.Decimal
	TakeProfitPrice decimal.Decimal
	ExitPrice       decimal.NullDecimal
	Result          ExitReason
	OrderID         string
}

// RealizedPnL returns (exit - entry) * quantity for a SELL record; zero otherwise.
func (r TradeRecord) RealizedPnL() decimal.Decimal {
	if r.Side != SideSell || !r.ExitPrice.Valid {
		return decimal.Zero
	}
	return r.ExitPrice.Decimal.Sub(r.EntryPrice).Mul(r.Quantity)
}
