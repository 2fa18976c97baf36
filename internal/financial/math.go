// Package financial provides deterministic decimal arithmetic for every
// ratio, threshold, and statistical computation in the signal pipeline.
//
// github.com/shopspring/decimal is used throughout; float64 never appears in
// a comparison against a configured threshold. Working precision is fixed at
// 8 fractional digits, matching the spec's minimum.
package financial

import (
	"github.com/shopspring/decimal"
)

// WorkingPrecision is the number of fractional digits carried through
// intermediate ratio and mean/stddev computations.
const WorkingPrecision = 8

// SafeAdd adds two decimals. It exists as a named operation (rather than
// calling a.Add(b) inline everywhere) so every quantity accumulation in the
// codebase goes through one auditable path.
func SafeAdd(a, b decimal.Decimal) decimal.Decimal {
	return a.Add(b)
}

// MultiplyQuantities multiplies two quantities, rounding to WorkingPrecision.
func MultiplyQuantities(a, b decimal.Decimal) decimal.Decimal {
	return a.Mul(b).Round(WorkingPrecision)
}

// DivideQuantities divides a by b. It returns (zero, false) when b is zero
// instead of panicking or returning +Inf — callers must explicitly decide
// what "no ratio" means in their context (spec §4.1).
func DivideQuantities(a, b decimal.Decimal) (decimal.Decimal, bool) {
	if b.IsZero() {
		return decimal.Zero, false
	}
	return a.DivRound(b, WorkingPrecision), true
}

// CalculateSpread returns |p2 - p1| rounded to decimals fractional digits.
func CalculateSpread(p1, p2 decimal.Decimal, decimals int32) decimal.Decimal {
	return p2.Sub(p1).Abs().Round(decimals)
}

// CalculateMidPrice returns (bid+ask)/2 rounded to decimals fractional digits.
func CalculateMidPrice(bid, ask decimal.Decimal, decimals int32) decimal.Decimal {
	return bid.Add(ask).DivRound(decimal.NewFromInt(2), decimals+2).Round(decimals)
}

// CalculateAbs returns the absolute value of x.
func CalculateAbs(x decimal.Decimal) decimal.Decimal {
	return x.Abs()
}

// CalculateMean returns the arithmetic mean of xs. It returns (zero, false)
// on an empty slice — callers must propagate the absence rather than treat
// an empty sample as a mean of zero (spec §4.1).
func CalculateMean(xs []decimal.Decimal) (decimal.Decimal, bool) {
	if len(xs) == 0 {
		return decimal.Zero, false
	}
	sum := decimal.Zero
	for _, x := range xs {
		sum = sum.Add(x)
	}
	mean, _ := DivideQuantities(sum, decimal.NewFromInt(int64(len(xs))))
	return mean, true
}

// CalculateStdDev returns the population standard deviation of xs. It
// returns (zero, false) on an empty slice, same contract as CalculateMean.
func CalculateStdDev(xs []decimal.Decimal) (decimal.Decimal, bool) {
	mean, ok := CalculateMean(xs)
	if !ok {
		return decimal.Zero, false
	}

	sumSquares := decimal.Zero
	for _, x := range xs {
		diff := x.Sub(mean)
		sumSquares = sumSquares.Add(diff.Mul(diff))
	}

	variance, _ := DivideQuantities(sumSquares, decimal.NewFromInt(int64(len(xs))))
	return sqrtDecimal(variance), true
}

// sqrtDecimal computes a square root to WorkingPrecision using Newton's
// method, since shopspring/decimal has no native Sqrt. Converging from the
// float64 approximation is safe here because stddev inputs are bounded
// market quantities, not security-sensitive values requiring bit-exact
// precision.
func sqrtDecimal(x decimal.Decimal) decimal.Decimal {
	if x.IsNegative() {
		return decimal.Zero
	}
	if x.IsZero() {
		return decimal.Zero
	}

	guess := decimal.NewFromFloat(x.InexactFloat64()).Pow(decimal.NewFromFloat(0.5))
	two := decimal.NewFromInt(2)

	for i := 0; i < 20; i++ {
		if guess.IsZero() {
			break
		}
		next := guess.Add(x.DivRound(guess, WorkingPrecision+4)).DivRound(two, WorkingPrecision+4)
		if next.Sub(guess).Abs().LessThan(decimal.New(1, -int32(WorkingPrecision))) {
			guess = next
			break
		}
		guess = next
	}
	return guess.Round(WorkingPrecision)
}

// ClampUnit clamps v to [0, 1], the confidence-boost clamping rule resolved
// in spec §9: every write site clamps immediately, not just at final
// emission.
func ClampUnit(v decimal.Decimal) decimal.Decimal {
	if v.LessThan(decimal.Zero) {
		return decimal.Zero
	}
	if v.GreaterThan(decimal.NewFromInt(1)) {
		return decimal.NewFromInt(1)
	}
	return v
}

// Min returns the smaller of a and b.
func Min(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

// Max returns the larger of a and b.
func Max(a, b decimal.Decimal) decimal.Decimal {
	if a.GreaterThan(b) {
		return a
	}
	return b
}
