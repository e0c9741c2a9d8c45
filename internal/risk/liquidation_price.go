package risk

import (
	"errors"
	"fmt"
	"math/big"

	fp "PerpRisk/internal/fixedpoint"
	"PerpRisk/internal/state"
)

// ErrLiquidationPriceNotApplicable means no finite positive oracle price in
// the target market can trip the maintenance bar: the position is flat, or
// its collateral and margin terms move in lockstep.
var ErrLiquidationPriceNotApplicable = errors.New("liquidation price not applicable")

// LiquidationPrice solves for the target market's oracle price at which the
// account exactly meets the maintenance bar, holding every other market's
// oracle fixed. sizeDelta is applied hypothetically at the current oracle
// before solving (0 for the position as held). The result may sit on the
// already-liquidatable side of the current oracle; that is an answer, not
// an error. Longs round up, shorts round down, so the returned price is
// always on or past the trigger.
func LiquidationPrice(u *state.UserAccount, reg *state.Registry, marketIndex uint16, sizeDelta int64) (int64, error) {
	m, err := reg.PerpMarket(marketIndex)
	if err != nil {
		return 0, err
	}
	oracle, err := reg.Oracle(marketIndex)
	if err != nil {
		return 0, err
	}

	var base, quote int64
	if p := u.GetPerpPosition(marketIndex); p != nil {
		if p.LpShares != 0 {
			return 0, fmt.Errorf("%w: market %d position holds lp shares", ErrLiquidationPriceNotApplicable, marketIndex)
		}
		base = p.BaseAssetAmount
		quote = p.QuoteAssetAmount
	}

	if sizeDelta != 0 {
		base, err = fp.Add(base, sizeDelta)
		if err != nil {
			return 0, err
		}
		cost, err := fp.BaseToQuote(sizeDelta, oracle.Price, fp.Trunc)
		if err != nil {
			return 0, err
		}
		quote, err = fp.Sub(quote, cost)
		if err != nil {
			return 0, err
		}
	}

	if base == 0 {
		return 0, fmt.Errorf("%w: market %d position is flat", ErrLiquidationPriceNotApplicable, marketIndex)
	}

	fixedCollateral, fixedMargin, err := riskTermsExcluding(u, reg, marketIndex)
	if err != nil {
		return 0, err
	}
	fixedCollateral, err = fp.Add(fixedCollateral, quote)
	if err != nil {
		return 0, err
	}

	magnitude, err := fp.AbsInt64(base)
	if err != nil {
		return 0, err
	}
	ratio := m.MarginRatio(magnitude, m.MarginRatioMaintenance)

	// Collateral moves by base×P/BasePrecision, the requirement by
	// |base|×ratio×P/(BasePrecision×MarginPrecision). Equate and solve:
	//   P = (M0 − C0)×BasePrecision×MarginPrecision
	//       / (base×MarginPrecision − |base|×ratio)
	denom := new(big.Int).Sub(
		new(big.Int).Mul(big.NewInt(base), big.NewInt(fp.MarginPrecision)),
		new(big.Int).Mul(big.NewInt(magnitude), big.NewInt(ratio)),
	)
	if denom.Sign() == 0 {
		return 0, fmt.Errorf("%w: market %d margin ratio cancels exposure", ErrLiquidationPriceNotApplicable, marketIndex)
	}

	num := new(big.Int).Mul(
		big.NewInt(fixedMargin-fixedCollateral),
		big.NewInt(fp.BasePrecision*fp.MarginPrecision),
	)

	mode := fp.Ceil
	if base < 0 {
		mode = fp.Floor
	}
	price, err := fp.DivBig(num, denom, mode)
	if err != nil {
		return 0, err
	}
	if price < 0 {
		return 0, fmt.Errorf("%w: market %d solves to negative price", ErrLiquidationPriceNotApplicable, marketIndex)
	}
	return price, nil
}

// riskTermsExcluding is the maintenance collateral and margin requirement
// contributed by everything except the excluded perp market. The excluded
// market's quote leg is added back by the caller.
func riskTermsExcluding(u *state.UserAccount, reg *state.Registry, exclude uint16) (int64, int64, error) {
	var collateral, margin int64

	for i := range u.SpotPositions {
		p := &u.SpotPositions[i]
		if p.IsAvailable() {
			continue
		}
		sm, err := reg.SpotMarket(p.MarketIndex)
		if err != nil {
			return 0, 0, err
		}
		oracle, err := reg.SpotOracle(p.MarketIndex)
		if err != nil {
			return 0, 0, err
		}
		weighted, err := spotCollateral(p, sm, oracle.Price, Maintenance)
		if err != nil {
			return 0, 0, err
		}
		collateral, err = fp.Add(collateral, weighted)
		if err != nil {
			return 0, 0, err
		}
	}

	for i := range u.PerpPositions {
		p := &u.PerpPositions[i]
		if p.IsAvailable() || p.MarketIndex == exclude {
			continue
		}
		oracle, err := reg.Oracle(p.MarketIndex)
		if err != nil {
			return 0, 0, err
		}
		pnl, err := perpPnl(p.BaseAssetAmount, p.QuoteAssetAmount, oracle.Price)
		if err != nil {
			return 0, 0, err
		}
		collateral, err = fp.Add(collateral, pnl)
		if err != nil {
			return 0, 0, err
		}
		if p.BaseAssetAmount == 0 {
			continue
		}
		pm, err := reg.PerpMarket(p.MarketIndex)
		if err != nil {
			return 0, 0, err
		}
		magnitude, err := fp.AbsInt64(p.BaseAssetAmount)
		if err != nil {
			return 0, 0, err
		}
		notional, err := fp.BaseToQuote(magnitude, oracle.Price, fp.Ceil)
		if err != nil {
			return 0, 0, err
		}
		req, err := fp.ApplyMarginRatio(notional, pm.MarginRatio(magnitude, pm.MarginRatioMaintenance), fp.Ceil)
		if err != nil {
			return 0, 0, err
		}
		margin, err = fp.Add(margin, req)
		if err != nil {
			return 0, 0, err
		}
	}

	return collateral, margin, nil
}
