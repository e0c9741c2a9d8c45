package risk

import (
	"fmt"
	"sort"

	fp "PerpRisk/internal/fixedpoint"
	"PerpRisk/internal/state"
)

// UpdateFundingRate advances both cumulative funding tracks from the
// mark/oracle TWAP premium. The per-period rate is the premium divided by
// the number of funding periods per day, truncated. Both tracks move
// together here; they diverge only through social-loss distribution or an
// explicitly skewed settlement.
func UpdateFundingRate(m *state.PerpMarket, oracleTwap, markTwap int64, now int64) (int64, error) {
	if oracleTwap <= 0 {
		return 0, fmt.Errorf("funding update: non-positive oracle twap %d", oracleTwap)
	}

	periodsPerDay := int64(24)
	if m.Amm.FundingPeriod > 0 {
		periodsPerDay = 86_400 / m.Amm.FundingPeriod
		if periodsPerDay <= 0 {
			periodsPerDay = 1
		}
	}

	premium, err := fp.MulDiv(markTwap-oracleTwap, fp.FundingRatePrecision, oracleTwap, fp.Trunc)
	if err != nil {
		return 0, err
	}
	rate, err := fp.Div(premium, periodsPerDay, fp.Trunc)
	if err != nil {
		return 0, err
	}

	long, err := fp.Add(m.Amm.CumulativeFundingRateLong, rate)
	if err != nil {
		return 0, err
	}
	short, err := fp.Add(m.Amm.CumulativeFundingRateShort, rate)
	if err != nil {
		return 0, err
	}
	m.Amm.CumulativeFundingRateLong = long
	m.Amm.CumulativeFundingRateShort = short
	m.Amm.LastFundingRateTs = now
	return rate, nil
}

// SettleFunding applies the funding accrued since the position's last
// settlement and advances its funding checkpoint to the current cumulative
// rate for the position's side. Positive payments charge the position
// (longs under a positive delta); negative payments credit it. A flat
// position just re-checkpoints.
func SettleFunding(p *state.PerpPosition, m *state.PerpMarket) (int64, error) {
	var cum int64
	if p.BaseAssetAmount >= 0 {
		cum = m.Amm.CumulativeFundingRateLong
	} else {
		cum = m.Amm.CumulativeFundingRateShort
	}

	if p.BaseAssetAmount == 0 {
		p.LastCumulativeFundingRate = cum
		return 0, nil
	}

	delta, err := fp.Sub(cum, p.LastCumulativeFundingRate)
	if err != nil {
		return 0, err
	}
	if delta == 0 {
		return 0, nil
	}

	payment, err := fp.FundingPayment(p.BaseAssetAmount, delta)
	if err != nil {
		return 0, err
	}

	quote, err := fp.Sub(p.QuoteAssetAmount, payment)
	if err != nil {
		return 0, err
	}
	p.QuoteAssetAmount = quote
	p.LastCumulativeFundingRate = cum
	return payment, nil
}

// FundingSettlement is the outcome of settling one market's open positions.
// Conservation: TotalPaid == TotalReceived + Residual; the truncation
// residual is posted to the market fee pool, never dropped.
type FundingSettlement struct {
	MarketIndex   int
	TotalPaid     int64
	TotalReceived int64
	Residual      int64
	Payments      map[string]int64
}

// SettleMarketFunding settles funding for every open position in the
// market across the supplied accounts, in deterministic authority order,
// and posts the rounding residual to the fee pool.
func SettleMarketFunding(reg *state.Registry, m *state.PerpMarket) (*FundingSettlement, error) {
	authorities := make([]string, 0, len(reg.Users))
	for a := range reg.Users {
		authorities = append(authorities, a)
	}
	sort.Strings(authorities)

	settlement := &FundingSettlement{
		MarketIndex: int(m.MarketIndex),
		Payments:    make(map[string]int64),
	}

	for _, a := range authorities {
		u := reg.Users[a]
		p := u.GetPerpPosition(m.MarketIndex)
		if p == nil || !p.IsOpen() {
			continue
		}
		payment, err := SettleFunding(p, m)
		if err != nil {
			return nil, fmt.Errorf("settle funding for %s: %w", a, err)
		}
		if payment == 0 {
			continue
		}
		settlement.Payments[a] = payment
		if payment > 0 {
			settlement.TotalPaid += payment
		} else {
			settlement.TotalReceived += -payment
		}
	}

	// Truncation on both sides makes the residual signed: when the paying
	// side loses more to truncation than the receiving side, the fee pool
	// backstops the difference, bounded by what the pool holds.
	settlement.Residual = settlement.TotalPaid - settlement.TotalReceived
	m.Amm.FeePool += settlement.Residual
	if m.Amm.FeePool < 0 {
		m.Amm.FeePool = 0
	}
	return settlement, nil
}
