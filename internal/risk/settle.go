package risk

import (
	"fmt"

	fp "PerpRisk/internal/fixedpoint"
	"PerpRisk/internal/state"
)

// SettlePnl realizes the position's mark-to-oracle quote value into the
// quote spot balance and re-bases QuoteAssetAmount to the marked value of
// the remaining exposure. Funding settles first. Book-keeping only: total
// collateral and the liquidation price are unchanged.
func SettlePnl(u *state.UserAccount, reg *state.Registry, marketIndex uint16) (int64, error) {
	m, err := reg.PerpMarket(marketIndex)
	if err != nil {
		return 0, err
	}
	oracle, err := reg.Oracle(marketIndex)
	if err != nil {
		return 0, err
	}

	p := u.GetPerpPosition(marketIndex)
	if p == nil || !p.IsOpen() {
		return 0, nil
	}

	if _, err := SettleFunding(p, m); err != nil {
		return 0, err
	}

	marked, err := fp.BaseToQuote(p.BaseAssetAmount, oracle.Price, fp.Floor)
	if err != nil {
		return 0, fmt.Errorf("settle pnl market %d: %w", marketIndex, err)
	}
	pnl, err := fp.Add(p.QuoteAssetAmount, marked)
	if err != nil {
		return 0, err
	}

	spot, err := u.ForceSpotPosition(state.QuoteSpotMarketIndex)
	if err != nil {
		return 0, err
	}
	balance, err := fp.Add(spot.ScaledBalance, pnl)
	if err != nil {
		return 0, err
	}
	spot.ScaledBalance = balance
	p.QuoteAssetAmount = -marked

	if p.BaseAssetAmount == 0 {
		p.QuoteAssetAmount = 0
		p.QuoteEntryAmount = 0
		p.QuoteBreakEvenAmount = 0
		p.LastCumulativeFundingRate = 0
	}
	return pnl, nil
}
