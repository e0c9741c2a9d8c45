package risk

import (
	"fmt"

	fp "PerpRisk/internal/fixedpoint"
	"PerpRisk/internal/state"
)

// MarginCategory selects which weight/ratio schedule a margin computation
// uses. Initial gates risk-increasing actions; Maintenance gates
// liquidation.
type MarginCategory int

const (
	Initial MarginCategory = iota
	Maintenance
)

func (c MarginCategory) String() string {
	if c == Initial {
		return "initial"
	}
	return "maintenance"
}

func assetWeight(m *state.SpotMarket, cat MarginCategory) int64 {
	if cat == Initial {
		return m.AssetWeightInitial
	}
	return m.AssetWeightMaintenance
}

func liabilityWeight(m *state.SpotMarket, cat MarginCategory) int64 {
	if cat == Initial {
		return m.LiabilityWeightInitial
	}
	return m.LiabilityWeightMaintenance
}

func baseMarginRatio(m *state.PerpMarket, cat MarginCategory) int64 {
	if cat == Initial {
		return m.MarginRatioInitial
	}
	return m.MarginRatioMaintenance
}

// spotCollateral values one spot balance at its oracle and weights it.
// Deposits are haircut toward zero; borrows are inflated away from zero, so
// weighting never flatters the account.
func spotCollateral(p *state.SpotPosition, m *state.SpotMarket, oracle int64, cat MarginCategory) (int64, error) {
	value, err := fp.MulDiv(p.ScaledBalance, oracle, fp.PricePrecision, fp.Trunc)
	if err != nil {
		return 0, err
	}
	if value >= 0 {
		return fp.ApplyWeight(value, assetWeight(m, cat), fp.Trunc)
	}
	return fp.ApplyWeight(value, liabilityWeight(m, cat), fp.Floor)
}

// perpPnl is the position's quote value marked to the oracle, rounding
// the base leg down.
func perpPnl(base, quote, oracle int64) (int64, error) {
	marked, err := fp.BaseToQuote(base, oracle, fp.Floor)
	if err != nil {
		return 0, err
	}
	return fp.Add(quote, marked)
}

// TotalCollateral is the weighted quote value of everything the account
// holds: spot balances at their oracles under asset/liability weights, plus
// unrealized perp PnL marked to each market's oracle. Pure; reads only the
// supplied registry snapshot.
func TotalCollateral(u *state.UserAccount, reg *state.Registry, cat MarginCategory) (int64, error) {
	var total int64

	for i := range u.SpotPositions {
		p := &u.SpotPositions[i]
		if p.IsAvailable() {
			continue
		}
		m, err := reg.SpotMarket(p.MarketIndex)
		if err != nil {
			return 0, err
		}
		oracle, err := reg.SpotOracle(p.MarketIndex)
		if err != nil {
			return 0, err
		}
		weighted, err := spotCollateral(p, m, oracle.Price, cat)
		if err != nil {
			return 0, fmt.Errorf("spot market %d: %w", p.MarketIndex, err)
		}
		total, err = fp.Add(total, weighted)
		if err != nil {
			return 0, err
		}
	}

	for i := range u.PerpPositions {
		p := &u.PerpPositions[i]
		if p.IsAvailable() || p.BaseAssetAmount == 0 && p.QuoteAssetAmount == 0 && p.LpShares == 0 {
			continue
		}
		oracle, err := reg.Oracle(p.MarketIndex)
		if err != nil {
			return 0, err
		}
		pnl, err := perpPnl(p.BaseAssetAmount, p.QuoteAssetAmount, oracle.Price)
		if err != nil {
			return 0, fmt.Errorf("perp market %d: %w", p.MarketIndex, err)
		}
		total, err = fp.Add(total, pnl)
		if err != nil {
			return 0, err
		}
		if p.LpShares > 0 {
			m, err := reg.PerpMarket(p.MarketIndex)
			if err != nil {
				return 0, err
			}
			lpValue, err := LpShareValue(m, oracle.Price, p.LpShares)
			if err != nil {
				return 0, fmt.Errorf("perp market %d lp shares: %w", p.MarketIndex, err)
			}
			total, err = fp.Add(total, lpValue)
			if err != nil {
				return 0, err
			}
		}
	}

	return total, nil
}

// MarginRequirement is the quote margin the account's perp exposure
// demands: per market, |base| notional at the oracle times the size-tiered
// margin ratio, with every rounding step away from zero.
func MarginRequirement(u *state.UserAccount, reg *state.Registry, cat MarginCategory) (int64, error) {
	var total int64

	for i := range u.PerpPositions {
		p := &u.PerpPositions[i]
		if p.IsAvailable() || p.BaseAssetAmount == 0 {
			continue
		}
		m, err := reg.PerpMarket(p.MarketIndex)
		if err != nil {
			return 0, err
		}
		oracle, err := reg.Oracle(p.MarketIndex)
		if err != nil {
			return 0, err
		}
		magnitude, err := fp.AbsInt64(p.BaseAssetAmount)
		if err != nil {
			return 0, err
		}
		notional, err := fp.BaseToQuote(magnitude, oracle.Price, fp.Ceil)
		if err != nil {
			return 0, err
		}
		ratio := m.MarginRatio(magnitude, baseMarginRatio(m, cat))
		req, err := fp.ApplyMarginRatio(notional, ratio, fp.Ceil)
		if err != nil {
			return 0, fmt.Errorf("perp market %d: %w", p.MarketIndex, err)
		}
		total, err = fp.Add(total, req)
		if err != nil {
			return 0, err
		}
	}

	return total, nil
}

// validatePerpOracles runs guard rails over every perp oracle the account's
// margin depends on. One failing oracle fails the whole computation; a
// price the rails reject is unusable, never approximated.
func validatePerpOracles(u *state.UserAccount, reg *state.Registry, nowSlot uint64) error {
	for i := range u.PerpPositions {
		p := &u.PerpPositions[i]
		if p.IsAvailable() || p.BaseAssetAmount == 0 && p.QuoteAssetAmount == 0 && p.LpShares == 0 {
			continue
		}
		if _, err := reg.ValidatedOracle(p.MarketIndex, nowSlot); err != nil {
			return err
		}
	}
	return nil
}

// MeetsMaintenanceMarginRequirement reports whether the account clears the
// maintenance bar at nowSlot. Oracles failing guard rails fail closed. The
// breach test is strict: equality still passes.
func MeetsMaintenanceMarginRequirement(u *state.UserAccount, reg *state.Registry, nowSlot uint64) (bool, error) {
	if err := validatePerpOracles(u, reg, nowSlot); err != nil {
		return false, err
	}
	tc, err := TotalCollateral(u, reg, Maintenance)
	if err != nil {
		return false, err
	}
	mr, err := MarginRequirement(u, reg, Maintenance)
	if err != nil {
		return false, err
	}
	return tc >= mr, nil
}

// MeetsInitialMarginRequirement gates risk-increasing actions at nowSlot.
// Oracles failing guard rails fail closed.
func MeetsInitialMarginRequirement(u *state.UserAccount, reg *state.Registry, nowSlot uint64) (bool, error) {
	if err := validatePerpOracles(u, reg, nowSlot); err != nil {
		return false, err
	}
	tc, err := TotalCollateral(u, reg, Initial)
	if err != nil {
		return false, err
	}
	mr, err := MarginRequirement(u, reg, Initial)
	if err != nil {
		return false, err
	}
	return tc >= mr, nil
}
