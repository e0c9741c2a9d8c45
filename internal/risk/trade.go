package risk

import (
	"errors"
	"fmt"

	fp "PerpRisk/internal/fixedpoint"
	"PerpRisk/internal/state"
)

// ErrInsufficientCollateral rejects a risk-increasing fill that would leave
// the account under its initial margin requirement.
var ErrInsufficientCollateral = errors.New("insufficient collateral for initial margin")

// Fill is the position-level outcome of one executed trade.
type Fill struct {
	BaseDelta  int64 // signed, BasePrecision
	QuoteDelta int64 // signed, QuotePrecision, excluding fees
	Fee        int64 // QuotePrecision, >= 0
}

// ApplyFill books a fill onto a position. Same-direction deltas grow the
// entry and break-even legs; opposite-direction deltas release them
// proportionally to the base closed. Flips through zero must be split by
// the caller into a close and an open.
func ApplyFill(p *state.PerpPosition, f Fill) error {
	newBase, err := fp.Add(p.BaseAssetAmount, f.BaseDelta)
	if err != nil {
		return err
	}
	if p.BaseAssetAmount != 0 && newBase != 0 &&
		(p.BaseAssetAmount > 0) != (newBase > 0) {
		return fmt.Errorf("fill flips position through zero: base %d delta %d", p.BaseAssetAmount, f.BaseDelta)
	}

	increasing := p.BaseAssetAmount == 0 || (f.BaseDelta >= 0) == (p.BaseAssetAmount > 0)
	switch {
	case increasing:
		entry, err := fp.Add(p.QuoteEntryAmount, f.QuoteDelta)
		if err != nil {
			return err
		}
		breakEven, err := fp.Add(p.QuoteBreakEvenAmount, f.QuoteDelta-f.Fee)
		if err != nil {
			return err
		}
		p.QuoteEntryAmount = entry
		p.QuoteBreakEvenAmount = breakEven
	case newBase == 0:
		p.QuoteEntryAmount = 0
		p.QuoteBreakEvenAmount = 0
	default:
		closed, err := fp.AbsInt64(f.BaseDelta)
		if err != nil {
			return err
		}
		held, err := fp.AbsInt64(p.BaseAssetAmount)
		if err != nil {
			return err
		}
		entryReleased, err := fp.MulDiv(p.QuoteEntryAmount, closed, held, fp.Trunc)
		if err != nil {
			return err
		}
		breakEvenReleased, err := fp.MulDiv(p.QuoteBreakEvenAmount, closed, held, fp.Trunc)
		if err != nil {
			return err
		}
		p.QuoteEntryAmount -= entryReleased
		p.QuoteBreakEvenAmount -= breakEvenReleased
	}

	quote, err := fp.Add(p.QuoteAssetAmount, f.QuoteDelta-f.Fee)
	if err != nil {
		return err
	}
	p.BaseAssetAmount = newBase
	p.QuoteAssetAmount = quote
	return nil
}

// UpdateOpenInterest moves the market's long/short aggregates for a fill
// on one user's position. oldBase/newBase are the position before and
// after.
func UpdateOpenInterest(m *state.PerpMarket, oldBase, newBase int64) {
	if oldBase > 0 {
		m.Amm.BaseAssetAmountLong -= oldBase
	} else {
		m.Amm.BaseAssetAmountShort -= oldBase
	}
	if newBase > 0 {
		m.Amm.BaseAssetAmountLong += newBase
	} else {
		m.Amm.BaseAssetAmountShort += newBase
	}
}

// OpenPosition fills a taker order against the reserve curve: swaps the
// base amount, charges the taker fee into the fee pool, books the fill and
// re-checks initial margin against guard-rail-validated oracles at
// nowSlot. baseAmount is unsigned; direction picks the
// side.
func OpenPosition(u *state.UserAccount, reg *state.Registry, marketIndex uint16, dir state.PositionDirection, baseAmount int64, nowSlot uint64) (Fill, error) {
	if baseAmount <= 0 {
		return Fill{}, fmt.Errorf("open position: non-positive base amount %d", baseAmount)
	}
	if err := u.AssertCanIncreaseRisk(); err != nil {
		return Fill{}, err
	}
	m, err := reg.PerpMarket(marketIndex)
	if err != nil {
		return Fill{}, err
	}
	p, err := u.ForcePerpPosition(marketIndex)
	if err != nil {
		return Fill{}, err
	}
	// Checkpoint funding before the fill so the new exposure only accrues
	// from here on.
	if _, err := SettleFunding(p, m); err != nil {
		return Fill{}, err
	}

	var (
		swapDir   state.SwapDirection
		baseDelta int64
	)
	if dir == state.DirectionLong {
		swapDir = state.SwapRemoveBase
		baseDelta = baseAmount
	} else {
		swapDir = state.SwapAddBase
		baseDelta = -baseAmount
	}
	prevPos, prevAmm := *p, m.Amm
	quoteAmount, err := m.SwapBase(baseAmount, swapDir)
	if err != nil {
		return Fill{}, err
	}
	quoteDelta := -quoteAmount
	if dir == state.DirectionShort {
		quoteDelta = quoteAmount
	}

	fee, err := fp.ApplyPercentage(quoteAmount, m.TakerFee, fp.Ceil)
	if err != nil {
		return Fill{}, err
	}

	oldBase := p.BaseAssetAmount
	fill := Fill{BaseDelta: baseDelta, QuoteDelta: quoteDelta, Fee: fee}
	if err := ApplyFill(p, fill); err != nil {
		return Fill{}, err
	}
	UpdateOpenInterest(m, oldBase, p.BaseAssetAmount)
	m.Amm.FeePool += fee

	ok, err := MeetsInitialMarginRequirement(u, reg, nowSlot)
	if err != nil {
		*p, m.Amm = prevPos, prevAmm
		return Fill{}, err
	}
	if !ok {
		*p, m.Amm = prevPos, prevAmm
		return Fill{}, fmt.Errorf("%w: authority %s market %d", ErrInsufficientCollateral, u.Authority, marketIndex)
	}
	if oldBase == 0 {
		m.NumberOfUsers++
	}
	return fill, nil
}
