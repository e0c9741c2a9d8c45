package risk

import (
	"fmt"

	fp "PerpRisk/internal/fixedpoint"
	"PerpRisk/internal/state"
)

// LpShareValue marks staked shares as their proportional claim on both AMM
// reserves: shares/TotalLpShares of the quote reserve through the peg, plus
// the same fraction of the base reserve at the oracle. Computed fresh from
// the live reserves every time, so the value moves with the curve. Every
// rounding step truncates toward zero, never flattering the holder.
func LpShareValue(m *state.PerpMarket, oraclePrice, shares int64) (int64, error) {
	if shares <= 0 {
		return 0, nil
	}
	if m.Amm.TotalLpShares <= 0 || shares > m.Amm.TotalLpShares {
		return 0, fmt.Errorf("lp share value: %d shares against total %d in market %d",
			shares, m.Amm.TotalLpShares, m.MarketIndex)
	}
	baseShare, err := fp.MulDiv(m.Amm.BaseAssetReserve, shares, m.Amm.TotalLpShares, fp.Trunc)
	if err != nil {
		return 0, err
	}
	quoteShare, err := fp.MulDiv(m.Amm.QuoteAssetReserve, shares, m.Amm.TotalLpShares, fp.Trunc)
	if err != nil {
		return 0, err
	}
	baseValue, err := fp.BaseToQuote(baseShare, oraclePrice, fp.Trunc)
	if err != nil {
		return 0, err
	}
	quoteValue, err := fp.ReserveToQuote(quoteShare, m.Amm.PegMultiplier, fp.Trunc)
	if err != nil {
		return 0, err
	}
	return fp.Add(baseValue, quoteValue)
}

// AddPerpLpShares stakes liquidity shares into a market's curve. This is a
// risk-increasing action: it is refused outright for accounts in
// liquidation or bankruptcy, and re-checks initial margin against a
// guard-rail-validated oracle at nowSlot, rolling back on failure.
func AddPerpLpShares(u *state.UserAccount, reg *state.Registry, marketIndex uint16, shares int64, nowSlot uint64) error {
	if shares <= 0 {
		return fmt.Errorf("add lp shares: non-positive amount %d", shares)
	}
	if err := u.AssertCanIncreaseRisk(); err != nil {
		return err
	}
	m, err := reg.PerpMarket(marketIndex)
	if err != nil {
		return err
	}
	p, err := u.ForcePerpPosition(marketIndex)
	if err != nil {
		return err
	}
	total, err := fp.Add(m.Amm.TotalLpShares, shares)
	if err != nil {
		return err
	}
	held, err := fp.Add(p.LpShares, shares)
	if err != nil {
		return err
	}
	prevTotal, prevHeld := m.Amm.TotalLpShares, p.LpShares
	m.Amm.TotalLpShares = total
	p.LpShares = held

	ok, err := MeetsInitialMarginRequirement(u, reg, nowSlot)
	if err != nil {
		m.Amm.TotalLpShares, p.LpShares = prevTotal, prevHeld
		return err
	}
	if !ok {
		m.Amm.TotalLpShares, p.LpShares = prevTotal, prevHeld
		return fmt.Errorf("%w: authority %s market %d", ErrInsufficientCollateral, u.Authority, marketIndex)
	}
	return nil
}

// RemovePerpLpShares unwinds staked shares. Always allowed; reducing risk
// is never gated.
func RemovePerpLpShares(u *state.UserAccount, reg *state.Registry, marketIndex uint16, shares int64) error {
	if shares <= 0 {
		return fmt.Errorf("remove lp shares: non-positive amount %d", shares)
	}
	m, err := reg.PerpMarket(marketIndex)
	if err != nil {
		return err
	}
	p := u.GetPerpPosition(marketIndex)
	if p == nil || p.LpShares < shares {
		return fmt.Errorf("remove lp shares: user %s holds fewer than %d in market %d", u.Authority, shares, marketIndex)
	}
	p.LpShares -= shares
	m.Amm.TotalLpShares -= shares
	return nil
}
