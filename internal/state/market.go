package state

import (
	"fmt"
	"math/big"

	fp "PerpRisk/internal/fixedpoint"
)

// ContractTier ranks a perp market's insurance eligibility. Higher tiers
// settle insurance claims ahead of speculative markets.
type ContractTier int32

const (
	ContractTierA ContractTier = iota
	ContractTierB
	ContractTierC
	ContractTierSpeculative
)

func (t ContractTier) String() string {
	switch t {
	case ContractTierA:
		return "A"
	case ContractTierB:
		return "B"
	case ContractTierC:
		return "C"
	case ContractTierSpeculative:
		return "Speculative"
	default:
		return "Unknown"
	}
}

// SwapDirection says whether a swap removes base from the AMM (a buyer)
// or adds base to it (a seller).
type SwapDirection int

const (
	SwapRemoveBase SwapDirection = iota
	SwapAddBase
)

// AMM is the virtual reserve curve backing a perp market. The invariant
// baseAssetReserve * quoteAssetReserve == k is conserved across swaps;
// peg changes and fee/social-loss settlement are the only sanctioned k/peg
// mutations.
type AMM struct {
	BaseAssetReserve  int64 // BasePrecision reserve units
	QuoteAssetReserve int64 // BasePrecision reserve units
	PegMultiplier     int64 // PegPrecision

	CumulativeFundingRateLong  int64 // FundingRatePrecision
	CumulativeFundingRateShort int64
	LastFundingRateTs          int64
	FundingPeriod              int64 // seconds

	FeePool         int64 // QuotePrecision
	TotalSocialLoss int64 // QuotePrecision

	// Open-interest aggregates: long is >= 0, short is <= 0.
	BaseAssetAmountLong  int64
	BaseAssetAmountShort int64

	TotalLpShares int64

	// 5-minute oracle TWAP for guard-rail checks.
	LastOracleTwap   int64
	LastOracleTwapTs int64

	// BaseSpread widens bid/ask around the reserve price, PercentagePrecision.
	BaseSpread int64
}

// InsuranceClaim bounds how much insurance a market may draw.
// Invariant: QuoteSettledInsurance <= QuoteMaxInsurance.
type InsuranceClaim struct {
	QuoteMaxInsurance              int64 // QuotePrecision
	QuoteSettledInsurance          int64
	RevenueWithdrawSinceLastSettle int64
	MaxRevenueWithdrawPerPeriod    int64
}

// AvailableCapacity is the remaining insurance headroom for this market.
func (c InsuranceClaim) AvailableCapacity() int64 {
	if c.QuoteSettledInsurance >= c.QuoteMaxInsurance {
		return 0
	}
	return c.QuoteMaxInsurance - c.QuoteSettledInsurance
}

// PerpMarket is one perpetual market's shared state. It is read-only to all
// users referencing the market index except through the sanctioned state
// transitions (swaps, funding updates, liquidation settlement).
type PerpMarket struct {
	MarketIndex uint16
	Tier        ContractTier

	Amm            AMM
	InsuranceClaim InsuranceClaim

	MarginRatioInitial     int64 // MarginPrecision
	MarginRatioMaintenance int64

	// Size tiering: position base amounts at or above a threshold take the
	// corresponding additive ratio bump. Zero thresholds disable a tier.
	SizeTierBaseThresholds [2]int64 // BasePrecision
	SizeTierRatioBumps     [2]int64 // MarginPrecision

	TakerFee         int64 // PercentagePrecision
	LiquidatorFee    int64 // PercentagePrecision
	IfLiquidationFee int64 // PercentagePrecision

	// InitialPctToLiquidate is the share of the position immediately
	// eligible when liquidation starts, LiquidationPctPrecision.
	InitialPctToLiquidate int64
	// LiquidationDuration is how many slots until the full position
	// becomes eligible.
	LiquidationDuration uint64

	NumberOfUsers int32
}

// ReservePrice is the AMM mark price implied by reserves and peg.
func (m *PerpMarket) ReservePrice() (int64, error) {
	if m.Amm.BaseAssetReserve == 0 {
		return 0, fp.ErrDivisionByZero
	}
	num := new(big.Int).Mul(
		big.NewInt(m.Amm.QuoteAssetReserve),
		big.NewInt(m.Amm.PegMultiplier),
	)
	return fp.DivBig(num, big.NewInt(m.Amm.BaseAssetReserve), fp.Trunc)
}

// BidPrice is the reserve price shaded down by half the base spread.
func (m *PerpMarket) BidPrice() (int64, error) {
	reserve, err := m.ReservePrice()
	if err != nil {
		return 0, err
	}
	return fp.MulDiv(reserve, fp.PercentagePrecision-m.Amm.BaseSpread/2, fp.PercentagePrecision, fp.Floor)
}

// AskPrice is the reserve price shaded up by half the base spread.
func (m *PerpMarket) AskPrice() (int64, error) {
	reserve, err := m.ReservePrice()
	if err != nil {
		return 0, err
	}
	return fp.MulDiv(reserve, fp.PercentagePrecision+m.Amm.BaseSpread/2, fp.PercentagePrecision, fp.Ceil)
}

// MidPrice is the midpoint of bid and ask.
func (m *PerpMarket) MidPrice() (int64, error) {
	bid, err := m.BidPrice()
	if err != nil {
		return 0, err
	}
	ask, err := m.AskPrice()
	if err != nil {
		return 0, err
	}
	return (bid + ask) / 2, nil
}

// SwapBase swaps baseAmount against the reserves, conserving k, and returns
// the quote amount in QuotePrecision. Removing base (a buyer) pays a
// ceiling-rounded quote amount; adding base (a seller) receives a
// floor-rounded amount, so rounding never favors the swapper.
func (m *PerpMarket) SwapBase(baseAmount int64, dir SwapDirection) (int64, error) {
	if baseAmount <= 0 {
		return 0, fmt.Errorf("swap base amount must be positive, got %d", baseAmount)
	}

	k := new(big.Int).Mul(
		big.NewInt(m.Amm.BaseAssetReserve),
		big.NewInt(m.Amm.QuoteAssetReserve),
	)

	var newBase int64
	switch dir {
	case SwapRemoveBase:
		newBase = m.Amm.BaseAssetReserve - baseAmount
		if newBase <= 0 {
			return 0, fmt.Errorf("swap exceeds base reserve: %d > %d", baseAmount, m.Amm.BaseAssetReserve)
		}
	case SwapAddBase:
		var err error
		newBase, err = fp.Add(m.Amm.BaseAssetReserve, baseAmount)
		if err != nil {
			return 0, err
		}
	}

	// Quote reserve rounding runs against the swapper: up when the pool's
	// quote must grow (buyer pays), down when it shrinks (seller receives).
	roundMode := fp.Ceil
	if dir == SwapAddBase {
		roundMode = fp.Floor
	}
	newQuote, err := fp.DivBig(k, big.NewInt(newBase), roundMode)
	if err != nil {
		return 0, err
	}

	reserveDelta := newQuote - m.Amm.QuoteAssetReserve
	if reserveDelta < 0 {
		reserveDelta = -reserveDelta
	}
	quoteAmount, err := fp.ReserveToQuote(reserveDelta, m.Amm.PegMultiplier, roundMode)
	if err != nil {
		return 0, err
	}

	m.Amm.BaseAssetReserve = newBase
	m.Amm.QuoteAssetReserve = newQuote
	return quoteAmount, nil
}

// OpenInterestBase is total open interest in base units across both sides.
func (m *PerpMarket) OpenInterestBase() int64 {
	return m.Amm.BaseAssetAmountLong - m.Amm.BaseAssetAmountShort
}

// ApplySocialLoss spreads an unrecoverable quote loss across the remaining
// open interest by shifting both cumulative funding tracks apart. Returns
// the per-side cumulative funding delta applied. The ceiling on the
// per-base amount guarantees the next settlement recovers at least loss.
func (m *PerpMarket) ApplySocialLoss(loss int64) (int64, error) {
	if loss <= 0 {
		return 0, nil
	}
	oi := m.OpenInterestBase()
	if oi <= 0 {
		return 0, fmt.Errorf("no open interest to socialize %d against", loss)
	}

	perBase, err := fp.MulDiv(loss, fp.BasePrecision, oi, fp.Ceil)
	if err != nil {
		return 0, err
	}
	delta, err := fp.Mul(perBase, fp.FundingRateBuffer)
	if err != nil {
		return 0, err
	}

	long, err := fp.Add(m.Amm.CumulativeFundingRateLong, delta)
	if err != nil {
		return 0, err
	}
	short, err := fp.Sub(m.Amm.CumulativeFundingRateShort, delta)
	if err != nil {
		return 0, err
	}
	m.Amm.CumulativeFundingRateLong = long
	m.Amm.CumulativeFundingRateShort = short
	m.Amm.TotalSocialLoss += loss
	return delta, nil
}

// UpdateOracleTwap folds an oracle observation into the 5-minute TWAP using
// a time-weighted blend. The first observation seeds the TWAP directly.
func (m *PerpMarket) UpdateOracleTwap(o OracleSnapshot, now int64) error {
	const twapWindow = int64(300) // seconds

	if m.Amm.LastOracleTwap == 0 || now <= m.Amm.LastOracleTwapTs {
		m.Amm.LastOracleTwap = o.Price
		m.Amm.LastOracleTwapTs = now
		return nil
	}

	elapsed := now - m.Amm.LastOracleTwapTs
	if elapsed > twapWindow {
		elapsed = twapWindow
	}
	weighted, err := fp.MulDiv(m.Amm.LastOracleTwap, twapWindow-elapsed, twapWindow, fp.Trunc)
	if err != nil {
		return err
	}
	recent, err := fp.MulDiv(o.Price, elapsed, twapWindow, fp.Trunc)
	if err != nil {
		return err
	}
	m.Amm.LastOracleTwap = weighted + recent
	m.Amm.LastOracleTwapTs = now
	return nil
}

// MarginRatio returns the margin ratio for a position of the given base
// magnitude under a category ratio, applying the size tiers. Larger
// positions take strictly higher ratios once they cross a tier threshold.
func (m *PerpMarket) MarginRatio(baseMagnitude int64, baseRatio int64) int64 {
	ratio := baseRatio
	for i, threshold := range m.SizeTierBaseThresholds {
		if threshold > 0 && baseMagnitude >= threshold {
			ratio += m.SizeTierRatioBumps[i]
		}
	}
	return ratio
}
