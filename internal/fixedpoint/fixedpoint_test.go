package fixedpoint_test

import (
	"errors"
	"math"
	"testing"

	fp "PerpRisk/internal/fixedpoint"
)

// ============================================================================
// Test: Div rounding modes
// ============================================================================

func TestDiv_Trunc(t *testing.T) {
	cases := []struct {
		num, denom, want int64
	}{
		{7, 2, 3},
		{-7, 2, -3},
		{7, -2, -3},
		{-7, -2, 3},
		{6, 2, 3},
	}
	for _, c := range cases {
		got, err := fp.Div(c.num, c.denom, fp.Trunc)
		if err != nil {
			t.Fatalf("Div(%d, %d): %v", c.num, c.denom, err)
		}
		if got != c.want {
			t.Errorf("Div(%d, %d, Trunc) = %d, want %d", c.num, c.denom, got, c.want)
		}
	}
}

func TestDiv_Floor(t *testing.T) {
	cases := []struct {
		num, denom, want int64
	}{
		{7, 2, 3},
		{-7, 2, -4},
		{7, -2, -4},
		{-7, -2, 3},
	}
	for _, c := range cases {
		got, err := fp.Div(c.num, c.denom, fp.Floor)
		if err != nil {
			t.Fatalf("Div(%d, %d): %v", c.num, c.denom, err)
		}
		if got != c.want {
			t.Errorf("Div(%d, %d, Floor) = %d, want %d", c.num, c.denom, got, c.want)
		}
	}
}

func TestDiv_Ceil(t *testing.T) {
	cases := []struct {
		num, denom, want int64
	}{
		{7, 2, 4},
		{-7, 2, -3},
		{7, -2, -3},
		{-7, -2, 4},
	}
	for _, c := range cases {
		got, err := fp.Div(c.num, c.denom, fp.Ceil)
		if err != nil {
			t.Fatalf("Div(%d, %d): %v", c.num, c.denom, err)
		}
		if got != c.want {
			t.Errorf("Div(%d, %d, Ceil) = %d, want %d", c.num, c.denom, got, c.want)
		}
	}
}

func TestDiv_ByZero(t *testing.T) {
	_, err := fp.Div(1, 0, fp.Trunc)
	if !errors.Is(err, fp.ErrDivisionByZero) {
		t.Errorf("got %v, want ErrDivisionByZero", err)
	}
}

// ============================================================================
// Test: overflow detection
// ============================================================================

func TestMul_Overflow(t *testing.T) {
	_, err := fp.Mul(math.MaxInt64, 2)
	if !errors.Is(err, fp.ErrMathOverflow) {
		t.Errorf("got %v, want ErrMathOverflow", err)
	}
}

func TestAdd_Overflow(t *testing.T) {
	_, err := fp.Add(math.MaxInt64, 1)
	if !errors.Is(err, fp.ErrMathOverflow) {
		t.Errorf("got %v, want ErrMathOverflow", err)
	}
	if got, err := fp.Add(math.MaxInt64, -1); err != nil || got != math.MaxInt64-1 {
		t.Errorf("Add(MaxInt64, -1) = %d, %v", got, err)
	}
}

func TestSub_Overflow(t *testing.T) {
	_, err := fp.Sub(math.MinInt64, 1)
	if !errors.Is(err, fp.ErrMathOverflow) {
		t.Errorf("got %v, want ErrMathOverflow", err)
	}
}

func TestMulDiv_WideIntermediate(t *testing.T) {
	// a*b overflows int64 but the quotient narrows back.
	got, err := fp.MulDiv(math.MaxInt64, 1000, 1000, fp.Trunc)
	if err != nil {
		t.Fatalf("MulDiv: %v", err)
	}
	if got != math.MaxInt64 {
		t.Errorf("got %d, want %d", got, int64(math.MaxInt64))
	}
}

func TestMulDiv_QuotientOverflow(t *testing.T) {
	_, err := fp.MulDiv(math.MaxInt64, 2, 1, fp.Trunc)
	if !errors.Is(err, fp.ErrMathOverflow) {
		t.Errorf("got %v, want ErrMathOverflow", err)
	}
}

func TestAbsInt64(t *testing.T) {
	if got, _ := fp.AbsInt64(-5); got != 5 {
		t.Errorf("got %d, want 5", got)
	}
	if got, _ := fp.AbsInt64(5); got != 5 {
		t.Errorf("got %d, want 5", got)
	}
	_, err := fp.AbsInt64(math.MinInt64)
	if !errors.Is(err, fp.ErrMathOverflow) {
		t.Errorf("got %v, want ErrMathOverflow", err)
	}
}

// ============================================================================
// Test: unit conversions
// ============================================================================

func TestBaseToQuote(t *testing.T) {
	// 17.5 base at price 1.0.
	got, err := fp.BaseToQuote(17_500_000_000, fp.PricePrecision, fp.Floor)
	if err != nil {
		t.Fatalf("BaseToQuote: %v", err)
	}
	if got != 17_500_000 {
		t.Errorf("got %d, want 17500000", got)
	}

	// 17.5 base at price 0.1.
	got, err = fp.BaseToQuote(17_500_000_000, 100_000, fp.Floor)
	if err != nil {
		t.Fatalf("BaseToQuote: %v", err)
	}
	if got != 1_750_000 {
		t.Errorf("got %d, want 1750000", got)
	}
}

func TestBaseToQuote_SignFollowsBase(t *testing.T) {
	pos, _ := fp.BaseToQuote(1_000_000_001, fp.PricePrecision, fp.Floor)
	neg, _ := fp.BaseToQuote(-1_000_000_001, fp.PricePrecision, fp.Floor)
	if pos != 1_000_000 {
		t.Errorf("long leg got %d, want 1000000", pos)
	}
	// Floor pushes a negative remainder further from zero.
	if neg != -1_000_001 {
		t.Errorf("short leg got %d, want -1000001", neg)
	}
}

func TestQuoteToBase_RoundTrip(t *testing.T) {
	base, err := fp.QuoteToBase(1_750_000, 100_000, fp.Trunc)
	if err != nil {
		t.Fatalf("QuoteToBase: %v", err)
	}
	if base != 17_500_000_000 {
		t.Errorf("got %d, want 17500000000", base)
	}
}

func TestReserveToQuote(t *testing.T) {
	// Unit peg: a reserve delta converts by the base/quote ratio alone.
	got, err := fp.ReserveToQuote(17_500_006_126, fp.PegPrecision, fp.Ceil)
	if err != nil {
		t.Fatalf("ReserveToQuote: %v", err)
	}
	if got != 17_500_007 {
		t.Errorf("got %d, want 17500007", got)
	}

	// Doubled peg doubles the quote value.
	got, err = fp.ReserveToQuote(1_000_000_000, 2*fp.PegPrecision, fp.Trunc)
	if err != nil {
		t.Fatalf("ReserveToQuote: %v", err)
	}
	if got != 2_000_000 {
		t.Errorf("got %d, want 2000000", got)
	}
}

func TestApplyPercentage_FeeCeil(t *testing.T) {
	// 0.1% of 17,500,007 rounds the fee up.
	got, err := fp.ApplyPercentage(17_500_007, 1_000, fp.Ceil)
	if err != nil {
		t.Fatalf("ApplyPercentage: %v", err)
	}
	if got != 17_501 {
		t.Errorf("got %d, want 17501", got)
	}
}

func TestApplyMarginRatio(t *testing.T) {
	got, err := fp.ApplyMarginRatio(1_750_000, 500, fp.Ceil)
	if err != nil {
		t.Fatalf("ApplyMarginRatio: %v", err)
	}
	if got != 87_500 {
		t.Errorf("got %d, want 87500", got)
	}
}

// ============================================================================
// Test: funding payment
// ============================================================================

func TestFundingPayment(t *testing.T) {
	// 17.5 base under a cumulative delta of 8,333 truncates to 145.
	got, err := fp.FundingPayment(17_500_000_000, 8_333)
	if err != nil {
		t.Fatalf("FundingPayment: %v", err)
	}
	if got != 145 {
		t.Errorf("got %d, want 145", got)
	}
}

func TestFundingPayment_ShortSideSign(t *testing.T) {
	long, _ := fp.FundingPayment(17_500_000_000, 8_333)
	short, _ := fp.FundingPayment(-17_500_000_000, 8_333)
	if short != -long {
		t.Errorf("short payment %d should mirror long payment %d", short, long)
	}
}
