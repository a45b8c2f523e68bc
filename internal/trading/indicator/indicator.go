// Package indicator derives trend and momentum indicators from closing prices.
package indicator

import (
	"fmt"

	"spot_trader/internal/core"
	apperrors "spot_trader/pkg/errors"

	"github.com/shopspring/decimal"
)

// Precision is the number of fractional digits kept on intermediate values.
const Precision int32 = 16

var (
	one     = decimal.NewFromInt(1)
	hundred = decimal.NewFromInt(100)
)

// Params configures Compute
type Params struct {
	FastPeriod int
	SlowPeriod int
	RSIPeriod  int
}

// Validate checks that every period is usable.
func (p Params) Validate() error {
	if p.FastPeriod < 1 || p.SlowPeriod < 1 || p.RSIPeriod < 1 {
		return fmt.Errorf("%w: indicator periods must be >= 1 (fast=%d slow=%d rsi=%d)",
			apperrors.ErrInvalidParameter, p.FastPeriod, p.SlowPeriod, p.RSIPeriod)
	}
	return nil
}

// MinSamples is the smallest series Compute accepts.
func (p Params) MinSamples() int {
	return p.RSIPeriod + 1
}

// Compute returns the indicator values at the newest sample of samples.
// It fails with ErrDataUnavailable when the series is shorter than MinSamples.
func Compute(samples []core.PriceSample, params Params) (core.IndicatorSnapshot, error) {
	if err := params.Validate(); err != nil {
		return core.IndicatorSnapshot{}, err
	}
	if len(samples) < params.MinSamples() {
		return core.IndicatorSnapshot{}, fmt.Errorf("%w: %d samples, need %d",
			apperrors.ErrDataUnavailable, len(samples), params.MinSamples())
	}

	closes := make([]decimal.Decimal, len(samples))
	for i, s := range samples {
		closes[i] = s.Close
	}
	last := samples[len(samples)-1]

	return core.IndicatorSnapshot{
		EMAFast:   LastEMA(closes, params.FastPeriod),
		EMASlow:   LastEMA(closes, params.SlowPeriod),
		RSI:       RSI(closes, params.RSIPeriod),
		LastClose: last.Close,
		Timestamp: last.Timestamp,
	}, nil
}

// EMA returns the exponential moving average series of closes with
// smoothing 2/(period+1), seeded with the first close.
func EMA(closes []decimal.Decimal, period int) []decimal.Decimal {
	if len(closes) == 0 || period < 1 {
		return nil
	}
	alpha := decimal.NewFromInt(2).DivRound(decimal.NewFromInt(int64(period)+1), Precision)
	keep := one.Sub(alpha)

	out := make([]decimal.Decimal, len(closes))
	out[0] = closes[0]
	for i := 1; i < len(closes); i++ {
		out[i] = alpha.Mul(closes[i]).Add(keep.Mul(out[i-1])).Round(Precision)
	}
	return out
}

// LastEMA returns the newest value of EMA(closes, period), or zero for an empty series.
func LastEMA(closes []decimal.Decimal, period int) decimal.Decimal {
	series := EMA(closes, period)
	if len(series) == 0 {
		return decimal.Zero
	}
	return series[len(series)-1]
}

// RSI returns the relative strength index over the last period price changes
// using simple means of gains and losses. The result is not Valid when the
// window holds no movement at all or the series is too short.
func RSI(closes []decimal.Decimal, period int) decimal.NullDecimal {
	if period < 1 || len(closes) < period+1 {
		return decimal.NullDecimal{}
	}

	sumGain, sumLoss := decimal.Zero, decimal.Zero
	for i := len(closes) - period; i < len(closes); i++ {
		d := closes[i].Sub(closes[i-1])
		switch d.Sign() {
		case 1:
			sumGain = sumGain.Add(d)
		case -1:
			sumLoss = sumLoss.Sub(d)
		}
	}

	if sumLoss.IsZero() {
		if sumGain.IsZero() {
			return decimal.NullDecimal{}
		}
		return decimal.NewNullDecimal(hundred)
	}

	// 100 - 100/(1+G/L) == 100*G/(G+L); the period cancels out of the means.
	rsi := hundred.Mul(sumGain).DivRound(sumGain.Add(sumLoss), Precision)
	if rsi.GreaterThan(hundred) {
		rsi = hundred
	}
	if rsi.IsNegative() {
		rsi = decimal.Zero
	}
	return decimal.NewNullDecimal(rsi)
}
