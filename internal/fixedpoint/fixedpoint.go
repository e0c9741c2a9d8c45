package fixedpoint

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"sync"
)

// Precision constants. These are part of the external contract: any consumer
// of the engine's outputs must scale values identically.
const (
	// PricePrecision scales oracle and AMM-derived prices (quote per base).
	PricePrecision int64 = 1_000_000

	// QuotePrecision scales quote-asset amounts (collateral, PnL, fees).
	QuotePrecision int64 = 1_000_000

	// BasePrecision scales base-asset amounts and AMM reserves.
	BasePrecision int64 = 1_000_000_000

	// PegPrecision scales the AMM peg multiplier.
	PegPrecision int64 = 1_000_000

	// FundingRatePrecision scales cumulative funding rates.
	FundingRatePrecision int64 = 1_000_000_000

	// FundingRateBuffer is the extra resolution funding rates carry over
	// quote amounts: rate-per-base in funding precision equals
	// quote-per-base in quote precision times this buffer.
	FundingRateBuffer int64 = 1_000

	// MarginPrecision scales margin ratios (500 = 5%).
	MarginPrecision int64 = 10_000

	// SpotWeightPrecision scales spot asset and liability weights.
	SpotWeightPrecision int64 = 10_000

	// PercentagePrecision scales generic percentages (fees, divergence caps).
	PercentagePrecision int64 = 1_000_000

	// LiquidationPctPrecision scales the initial-liquidation eligibility pct.
	LiquidationPctPrecision int64 = 10_000
)

// BaseToQuoteRatio converts between base/reserve units and quote units.
const BaseToQuoteRatio = BasePrecision / QuotePrecision

var (
	// ErrMathOverflow means a result did not fit in 64 bits. The engine
	// fails loudly on overflow; wrapping is never a valid outcome.
	ErrMathOverflow = errors.New("arithmetic overflow")

	// ErrDivisionByZero means a scaling divisor was zero.
	ErrDivisionByZero = errors.New("division by zero")
)

// RoundingMode selects how division resolves a non-zero remainder.
// Amounts owed by a user round up (Ceil) and amounts owed to a user round
// down (Floor) so that rounding never advantages the account being charged.
type RoundingMode int

const (
	// Trunc rounds toward zero (the default for sign-symmetric values).
	Trunc RoundingMode = iota
	// Floor rounds toward negative infinity.
	Floor
	// Ceil rounds toward positive infinity.
	Ceil
)

// bigPool recycles big.Int scratch values used for 128-bit intermediates.
var bigPool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getBig() *big.Int {
	return bigPool.Get().(*big.Int)
}

func putBig(v *big.Int) {
	v.SetInt64(0)
	bigPool.Put(v)
}

// Mul returns a*b, widening through big.Int so intermediate overflow is
// detected rather than wrapped.
func Mul(a, b int64) (int64, error) {
	w := getBig()
	defer putBig(w)
	w.Mul(big.NewInt(a), big.NewInt(b))
	if !w.IsInt64() {
		return 0, fmt.Errorf("%w: %d * %d", ErrMathOverflow, a, b)
	}
	return w.Int64(), nil
}

// Add returns a+b with overflow detection.
func Add(a, b int64) (int64, error) {
	if (b > 0 && a > math.MaxInt64-b) || (b < 0 && a < math.MinInt64-b) {
		return 0, fmt.Errorf("%w: %d + %d", ErrMathOverflow, a, b)
	}
	return a + b, nil
}

// Sub returns a-b with overflow detection.
func Sub(a, b int64) (int64, error) {
	if (b < 0 && a > math.MaxInt64+b) || (b > 0 && a < math.MinInt64+b) {
		return 0, fmt.Errorf("%w: %d - %d", ErrMathOverflow, a, b)
	}
	return a - b, nil
}

// Div divides num by denom under the given rounding mode.
func Div(num, denom int64, mode RoundingMode) (int64, error) {
	if denom == 0 {
		return 0, ErrDivisionByZero
	}
	q := num / denom
	r := num % denom
	if r == 0 {
		return q, nil
	}
	switch mode {
	case Floor:
		if (r < 0) != (denom < 0) {
			q--
		}
	case Ceil:
		if (r < 0) == (denom < 0) {
			q++
		}
	}
	return q, nil
}

// MulDiv computes a*b/denom with a widened intermediate, applying the
// rounding mode to the final narrowing division.
func MulDiv(a, b, denom int64, mode RoundingMode) (int64, error) {
	if denom == 0 {
		return 0, ErrDivisionByZero
	}
	num := getBig()
	defer putBig(num)
	num.Mul(big.NewInt(a), big.NewInt(b))
	return DivBig(num, big.NewInt(denom), mode)
}

// DivBig divides two big.Ints under the rounding mode and narrows to int64.
func DivBig(num, denom *big.Int, mode RoundingMode) (int64, error) {
	if denom.Sign() == 0 {
		return 0, ErrDivisionByZero
	}
	q := getBig()
	r := getBig()
	defer putBig(q)
	defer putBig(r)

	q.QuoRem(num, denom, r)

	if r.Sign() != 0 {
		switch mode {
		case Floor:
			if (r.Sign() < 0) != (denom.Sign() < 0) {
				q.Sub(q, big.NewInt(1))
			}
		case Ceil:
			if (r.Sign() < 0) == (denom.Sign() < 0) {
				q.Add(q, big.NewInt(1))
			}
		}
	}

	if !q.IsInt64() {
		return 0, fmt.Errorf("%w: quotient exceeds 64 bits", ErrMathOverflow)
	}
	return q.Int64(), nil
}

// BaseToQuote converts a base-asset amount at a price to a quote amount.
// The sign of the result follows the sign of base.
func BaseToQuote(base, price int64, mode RoundingMode) (int64, error) {
	return MulDiv(base, price, BasePrecision, mode)
}

// QuoteToBase converts a quote amount at a price to a base-asset amount.
func QuoteToBase(quote, price int64, mode RoundingMode) (int64, error) {
	if price == 0 {
		return 0, ErrDivisionByZero
	}
	return MulDiv(quote, BasePrecision, price, mode)
}

// ReserveToQuote converts an AMM reserve delta, through the peg multiplier,
// into quote units.
func ReserveToQuote(reserveDelta, peg int64, mode RoundingMode) (int64, error) {
	return MulDiv(reserveDelta, peg, PegPrecision*BaseToQuoteRatio, mode)
}

// ApplyWeight scales a collateral value by a spot weight.
func ApplyWeight(value, weight int64, mode RoundingMode) (int64, error) {
	return MulDiv(value, weight, SpotWeightPrecision, mode)
}

// ApplyMarginRatio scales a notional value by a margin ratio.
func ApplyMarginRatio(notional, ratio int64, mode RoundingMode) (int64, error) {
	return MulDiv(notional, ratio, MarginPrecision, mode)
}

// ApplyPercentage scales a value by a percentage-precision factor.
func ApplyPercentage(value, pct int64, mode RoundingMode) (int64, error) {
	return MulDiv(value, pct, PercentagePrecision, mode)
}

// FundingPayment converts a position's base amount and a cumulative funding
// delta into a quote payment. Truncation toward zero; the market-wide settle
// posts the residual to the fee pool so conservation holds.
func FundingPayment(base, rateDelta int64) (int64, error) {
	return MulDiv(base, rateDelta, BasePrecision*FundingRateBuffer, Trunc)
}

// AbsInt64 returns |v|, failing on the one unrepresentable case.
func AbsInt64(v int64) (int64, error) {
	if v == math.MinInt64 {
		return 0, fmt.Errorf("%w: abs(MinInt64)", ErrMathOverflow)
	}
	if v < 0 {
		return -v, nil
	}
	return v, nil
}
