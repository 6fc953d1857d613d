// Package moneymath is the only package allowed to construct a
// decimal.Decimal from a float64 (SPEC_FULL §9). Every other package
// receives Decimals already parsed from strings at the boundary
// (exchange JSON, SQLite TEXT columns). It wraps shopspring/decimal
// with the two rounding operations spec §4.1 requires and a zero-safe
// division used by the reference-price calculator.
package moneymath

import (
	"errors"

	"github.com/shopspring/decimal"
)

// ErrDivideByZero is returned by DivSafe so call sites that compute a
// reference price before the first fill can fall back to ATH instead
// of panicking (spec §4.1).
var ErrDivideByZero = errors.New("moneymath: division by zero")

// RoundToTickDown floors price to the nearest multiple of tick. Used for
// sell limit price bounds and anywhere a rounded-down price is required.
func RoundToTickDown(price, tick decimal.Decimal) decimal.Decimal {
	return floorToStep(price, tick)
}

// RoundToTickUp ceils price to the nearest multiple of tick. Used for
// buy limit price bounds, where rounding up keeps the IOC marketable
// without underpaying the slippage guard.
func RoundToTickUp(price, tick decimal.Decimal) decimal.Decimal {
	return ceilToStep(price, tick)
}

// RoundToStepDown floors qty to the nearest multiple of step. Every
// exchange-bound quantity is floored, never rounded up, so an order
// never requests more than was computed (spec §4.1).
func RoundToStepDown(qty, step decimal.Decimal) decimal.Decimal {
	return floorToStep(qty, step)
}

func floorToStep(v, step decimal.Decimal) decimal.Decimal {
	if step.IsZero() {
		return v
	}
	units := v.DivRound(step, 0)
	if units.Mul(step).GreaterThan(v) {
		units = units.Sub(decimal.NewFromInt(1))
	}
	return units.Mul(step)
}

func ceilToStep(v, step decimal.Decimal) decimal.Decimal {
	if step.IsZero() {
		return v
	}
	units := v.DivRound(step, 0)
	if units.Mul(step).LessThan(v) {
		units = units.Add(decimal.NewFromInt(1))
	}
	return units.Mul(step)
}

// DivSafe divides a/b using banker's rounding to the given scale,
// returning ErrDivideByZero when b is zero instead of panicking.
func DivSafe(a, b decimal.Decimal, scale int32) (decimal.Decimal, error) {
	if b.IsZero() {
		return decimal.Zero, ErrDivideByZero
	}
	return a.Div(b).RoundBank(scale), nil
}

// WeightedReferencePrice computes cost_accum_usdt / btc_accum_net,
// falling back to ath as spec §4.1/§4.3 prescribe when btc_accum_net is
// zero (i.e. before the first fill of a cycle).
func WeightedReferencePrice(costAccumUSDT, btcAccumNet, ath decimal.Decimal) decimal.Decimal {
	ref, err := DivSafe(costAccumUSDT, btcAccumNet, 8)
	if err != nil {
		return ath
	}
	return ref
}
