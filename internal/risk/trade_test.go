package risk_test

import (
	"errors"
	"testing"

	fp "PerpRisk/internal/fixedpoint"
	"PerpRisk/internal/risk"
	"PerpRisk/internal/state"
	"PerpRisk/internal/testutil"
)

// ============================================================================
// Test: ApplyFill
// ============================================================================

func TestApplyFill_Increase(t *testing.T) {
	p := &state.PerpPosition{MarketIndex: 0}
	err := risk.ApplyFill(p, risk.Fill{
		BaseDelta:  17_500_000_000,
		QuoteDelta: -17_500_007,
		Fee:        17_501,
	})
	if err != nil {
		t.Fatalf("ApplyFill: %v", err)
	}
	if p.BaseAssetAmount != 17_500_000_000 {
		t.Errorf("base got %d", p.BaseAssetAmount)
	}
	if p.QuoteAssetAmount != -17_517_508 {
		t.Errorf("quote got %d, want -17517508", p.QuoteAssetAmount)
	}
	if p.QuoteEntryAmount != -17_500_007 {
		t.Errorf("entry got %d, want -17500007", p.QuoteEntryAmount)
	}
	if p.QuoteBreakEvenAmount != -17_517_508 {
		t.Errorf("break-even got %d, want -17517508", p.QuoteBreakEvenAmount)
	}
}

func TestApplyFill_PartialReduceReleasesProportionally(t *testing.T) {
	p := &state.PerpPosition{
		MarketIndex:          0,
		BaseAssetAmount:      10_000_000_000,
		QuoteAssetAmount:     -10_000_000,
		QuoteEntryAmount:     -10_000_000,
		QuoteBreakEvenAmount: -10_010_000,
	}
	// Close 40% of the position, receiving 4.2 quote.
	err := risk.ApplyFill(p, risk.Fill{BaseDelta: -4_000_000_000, QuoteDelta: 4_200_000})
	if err != nil {
		t.Fatalf("ApplyFill: %v", err)
	}
	if p.BaseAssetAmount != 6_000_000_000 {
		t.Errorf("base got %d", p.BaseAssetAmount)
	}
	if p.QuoteEntryAmount != -6_000_000 {
		t.Errorf("entry got %d, want -6000000", p.QuoteEntryAmount)
	}
	if p.QuoteBreakEvenAmount != -6_006_000 {
		t.Errorf("break-even got %d, want -6006000", p.QuoteBreakEvenAmount)
	}
	if p.QuoteAssetAmount != -5_800_000 {
		t.Errorf("quote got %d, want -5800000", p.QuoteAssetAmount)
	}
}

func TestApplyFill_FullCloseZeroesEntryLegs(t *testing.T) {
	p := &state.PerpPosition{
		MarketIndex:          0,
		BaseAssetAmount:      10_000_000_000,
		QuoteAssetAmount:     -10_000_000,
		QuoteEntryAmount:     -10_000_000,
		QuoteBreakEvenAmount: -10_010_000,
	}
	err := risk.ApplyFill(p, risk.Fill{BaseDelta: -10_000_000_000, QuoteDelta: 9_500_000})
	if err != nil {
		t.Fatalf("ApplyFill: %v", err)
	}
	if p.BaseAssetAmount != 0 {
		t.Errorf("base got %d, want 0", p.BaseAssetAmount)
	}
	if p.QuoteEntryAmount != 0 || p.QuoteBreakEvenAmount != 0 {
		t.Errorf("entry legs got %d/%d, want 0/0", p.QuoteEntryAmount, p.QuoteBreakEvenAmount)
	}
	// The realized loss stays on the quote leg.
	if p.QuoteAssetAmount != -500_000 {
		t.Errorf("quote got %d, want -500000", p.QuoteAssetAmount)
	}
}

func TestApplyFill_RejectsFlipThroughZero(t *testing.T) {
	p := &state.PerpPosition{MarketIndex: 0, BaseAssetAmount: 1_000_000_000}
	err := risk.ApplyFill(p, risk.Fill{BaseDelta: -2_000_000_000, QuoteDelta: 2_000_000})
	if err == nil {
		t.Error("expected error flipping through zero")
	}
}

// ============================================================================
// Test: OpenPosition
// ============================================================================

func TestOpenPosition_Long(t *testing.T) {
	reg := testutil.NewScenarioRegistry()
	m := reg.PerpMarkets[testutil.ScenarioMarketIndex]
	u := reg.EnsureUser("alice")
	if err := u.Deposit(state.QuoteSpotMarketIndex, 10_000_000); err != nil {
		t.Fatalf("Deposit: %v", err)
	}

	fill, err := risk.OpenPosition(u, reg, testutil.ScenarioMarketIndex, state.DirectionLong, 17_500_000_000, 2)
	if err != nil {
		t.Fatalf("OpenPosition: %v", err)
	}
	if fill.BaseDelta != 17_500_000_000 {
		t.Errorf("base delta got %d", fill.BaseDelta)
	}
	if fill.QuoteDelta != -17_500_007 {
		t.Errorf("quote delta got %d, want -17500007", fill.QuoteDelta)
	}
	if fill.Fee != 17_501 {
		t.Errorf("fee got %d, want 17501", fill.Fee)
	}

	p := u.GetPerpPosition(testutil.ScenarioMarketIndex)
	if p == nil {
		t.Fatal("expected a position")
	}
	if p.QuoteAssetAmount != -17_517_508 {
		t.Errorf("quote got %d, want -17517508", p.QuoteAssetAmount)
	}
	if m.Amm.BaseAssetAmountLong != 17_500_000_000 {
		t.Errorf("long open interest got %d", m.Amm.BaseAssetAmountLong)
	}
	if m.Amm.FeePool != 17_501 {
		t.Errorf("fee pool got %d, want 17501", m.Amm.FeePool)
	}
	if m.NumberOfUsers != 1 {
		t.Errorf("user count got %d, want 1", m.NumberOfUsers)
	}
}

func TestOpenPosition_Short(t *testing.T) {
	reg := testutil.NewScenarioRegistry()
	m := reg.PerpMarkets[testutil.ScenarioMarketIndex]
	u := reg.EnsureUser("alice")
	if err := u.Deposit(state.QuoteSpotMarketIndex, 10_000_000); err != nil {
		t.Fatalf("Deposit: %v", err)
	}

	fill, err := risk.OpenPosition(u, reg, testutil.ScenarioMarketIndex, state.DirectionShort, 17_500_000_000, 2)
	if err != nil {
		t.Fatalf("OpenPosition: %v", err)
	}
	if fill.BaseDelta != -17_500_000_000 {
		t.Errorf("base delta got %d", fill.BaseDelta)
	}
	if fill.QuoteDelta != 17_499_993 {
		t.Errorf("quote delta got %d, want 17499993", fill.QuoteDelta)
	}
	if m.Amm.BaseAssetAmountShort != -17_500_000_000 {
		t.Errorf("short open interest got %d", m.Amm.BaseAssetAmountShort)
	}
}

func TestOpenPosition_InsufficientCollateralRollsBack(t *testing.T) {
	reg := testutil.NewScenarioRegistry()
	m := reg.PerpMarkets[testutil.ScenarioMarketIndex]
	u := reg.EnsureUser("alice")
	if err := u.Deposit(state.QuoteSpotMarketIndex, 1_000_000); err != nil {
		t.Fatalf("Deposit: %v", err)
	}

	baseBefore := m.Amm.BaseAssetReserve
	quoteBefore := m.Amm.QuoteAssetReserve
	_, err := risk.OpenPosition(u, reg, testutil.ScenarioMarketIndex, state.DirectionLong, 17_500_000_000, 2)
	if !errors.Is(err, risk.ErrInsufficientCollateral) {
		t.Fatalf("got %v, want ErrInsufficientCollateral", err)
	}

	// The swap and the position unwind together.
	if m.Amm.BaseAssetReserve != baseBefore || m.Amm.QuoteAssetReserve != quoteBefore {
		t.Error("reserves should roll back on a rejected fill")
	}
	if p := u.GetPerpPosition(testutil.ScenarioMarketIndex); p != nil {
		t.Errorf("position should roll back, got base %d", p.BaseAssetAmount)
	}
	if m.NumberOfUsers != 0 {
		t.Errorf("user count got %d, want 0", m.NumberOfUsers)
	}
}

func TestOpenPosition_RejectedWhileLiquidating(t *testing.T) {
	reg := testutil.NewScenarioRegistry()
	u := reg.EnsureUser("alice")
	if err := u.Deposit(state.QuoteSpotMarketIndex, 10_000_000); err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	u.EnterLiquidation(10)

	_, err := risk.OpenPosition(u, reg, testutil.ScenarioMarketIndex, state.DirectionLong, 1_000_000_000, 2)
	if !errors.Is(err, state.ErrRiskIncreaseWhileLiquidating) {
		t.Errorf("got %v, want ErrRiskIncreaseWhileLiquidating", err)
	}
}

func TestOpenPosition_RejectsStaleOracle(t *testing.T) {
	reg := testutil.NewScenarioRegistry()
	m := reg.PerpMarkets[testutil.ScenarioMarketIndex]
	u := reg.EnsureUser("alice")
	if err := u.Deposit(state.QuoteSpotMarketIndex, 10_000_000); err != nil {
		t.Fatalf("Deposit: %v", err)
	}

	// The fixture snapshot is at slot 1 and the rails allow 100 slots;
	// at slot 501 the price is unusable and the fill must fail closed.
	baseBefore := m.Amm.BaseAssetReserve
	quoteBefore := m.Amm.QuoteAssetReserve
	_, err := risk.OpenPosition(u, reg, testutil.ScenarioMarketIndex, state.DirectionLong, 17_500_000_000, 501)
	if !errors.Is(err, state.ErrInvalidOracleData) {
		t.Fatalf("got %v, want ErrInvalidOracleData", err)
	}

	if m.Amm.BaseAssetReserve != baseBefore || m.Amm.QuoteAssetReserve != quoteBefore {
		t.Error("reserves should roll back on a rejected fill")
	}
	if p := u.GetPerpPosition(testutil.ScenarioMarketIndex); p != nil {
		t.Errorf("position should roll back, got base %d", p.BaseAssetAmount)
	}
	if m.NumberOfUsers != 0 {
		t.Errorf("user count got %d, want 0", m.NumberOfUsers)
	}
	if m.Amm.FeePool != 0 {
		t.Errorf("fee pool should roll back, got %d", m.Amm.FeePool)
	}
}

// ============================================================================
// Test: LP shares
// ============================================================================

func TestAddRemovePerpLpShares(t *testing.T) {
	reg := testutil.NewScenarioRegistry()
	m := reg.PerpMarkets[testutil.ScenarioMarketIndex]
	u := reg.EnsureUser("alice")

	if err := risk.AddPerpLpShares(u, reg, testutil.ScenarioMarketIndex, 5_000_000_000, 2); err != nil {
		t.Fatalf("AddPerpLpShares: %v", err)
	}
	if m.Amm.TotalLpShares != 5_000_000_000 {
		t.Errorf("total shares got %d", m.Amm.TotalLpShares)
	}

	if err := risk.RemovePerpLpShares(u, reg, testutil.ScenarioMarketIndex, 2_000_000_000); err != nil {
		t.Fatalf("RemovePerpLpShares: %v", err)
	}
	p := u.GetPerpPosition(testutil.ScenarioMarketIndex)
	if p == nil || p.LpShares != 3_000_000_000 {
		t.Fatalf("held shares got %v", p)
	}
	if m.Amm.TotalLpShares != 3_000_000_000 {
		t.Errorf("total shares got %d", m.Amm.TotalLpShares)
	}

	if err := risk.RemovePerpLpShares(u, reg, testutil.ScenarioMarketIndex, 4_000_000_000); err == nil {
		t.Error("expected error removing more shares than held")
	}
}

func TestAddPerpLpShares_RejectedWhileBankrupt(t *testing.T) {
	reg := testutil.NewScenarioRegistry()
	u := reg.EnsureUser("alice")
	u.AddStatus(state.UserStatusBankrupt)

	err := risk.AddPerpLpShares(u, reg, testutil.ScenarioMarketIndex, 1_000_000_000, 2)
	if !errors.Is(err, state.ErrRiskIncreaseWhileBankrupt) {
		t.Errorf("got %v, want ErrRiskIncreaseWhileBankrupt", err)
	}
}

func TestAddPerpLpShares_RejectsStaleOracle(t *testing.T) {
	reg := testutil.NewScenarioRegistry()
	m := reg.PerpMarkets[testutil.ScenarioMarketIndex]
	u := reg.EnsureUser("alice")

	err := risk.AddPerpLpShares(u, reg, testutil.ScenarioMarketIndex, 5_000_000_000, 501)
	if !errors.Is(err, state.ErrInvalidOracleData) {
		t.Fatalf("got %v, want ErrInvalidOracleData", err)
	}
	if m.Amm.TotalLpShares != 0 {
		t.Errorf("total shares should roll back, got %d", m.Amm.TotalLpShares)
	}
	if p := u.GetPerpPosition(testutil.ScenarioMarketIndex); p != nil {
		t.Errorf("held shares should roll back, got %d", p.LpShares)
	}
}

// ============================================================================
// Test: LP share valuation
// ============================================================================

func TestLpShareValue_ProportionalClaim(t *testing.T) {
	reg := testutil.NewScenarioRegistry()
	m := reg.PerpMarkets[testutil.ScenarioMarketIndex]
	m.Amm.TotalLpShares = 10_000_000_000

	// 10% of both 5e16 reserves at a unit peg and a 1.0 oracle: each leg
	// is worth 5_000_000_000_000 quote.
	v, err := risk.LpShareValue(m, fp.PricePrecision, 1_000_000_000)
	if err != nil {
		t.Fatalf("LpShareValue: %v", err)
	}
	if v != 10_000_000_000_000 {
		t.Errorf("got %d, want 10000000000000", v)
	}

	// Halving the oracle halves the base leg only.
	v, err = risk.LpShareValue(m, fp.PricePrecision/2, 1_000_000_000)
	if err != nil {
		t.Fatalf("LpShareValue: %v", err)
	}
	if v != 7_500_000_000_000 {
		t.Errorf("got %d, want 7500000000000", v)
	}

	if _, err := risk.LpShareValue(m, fp.PricePrecision, 20_000_000_000); err == nil {
		t.Error("expected error valuing more shares than the total supply")
	}
}

func TestLpShareValue_TracksLiveReserves(t *testing.T) {
	reg := testutil.NewScenarioRegistry()
	m := reg.PerpMarkets[testutil.ScenarioMarketIndex]
	m.Amm.TotalLpShares = 10_000_000_000

	before, err := risk.LpShareValue(m, fp.PricePrecision, 1_000_000_000)
	if err != nil {
		t.Fatalf("LpShareValue: %v", err)
	}

	// The claim follows the curve: growing the base reserve grows the
	// same stake's value.
	m.Amm.BaseAssetReserve *= 2
	after, err := risk.LpShareValue(m, fp.PricePrecision, 1_000_000_000)
	if err != nil {
		t.Fatalf("LpShareValue: %v", err)
	}
	if after != before+5_000_000_000_000 {
		t.Errorf("got %d, want %d", after, before+5_000_000_000_000)
	}
}

func TestTotalCollateral_IncludesLpShareValue(t *testing.T) {
	reg := testutil.NewScenarioRegistry()
	m := reg.PerpMarkets[testutil.ScenarioMarketIndex]
	u := reg.EnsureUser("alice")
	if err := u.Deposit(state.QuoteSpotMarketIndex, 10_000_000); err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	p, err := u.ForcePerpPosition(testutil.ScenarioMarketIndex)
	if err != nil {
		t.Fatalf("ForcePerpPosition: %v", err)
	}
	p.LpShares = 1_000_000_000
	m.Amm.TotalLpShares = 10_000_000_000

	tc, err := risk.TotalCollateral(u, reg, risk.Initial)
	if err != nil {
		t.Fatalf("TotalCollateral: %v", err)
	}
	if tc != 10_000_000+10_000_000_000_000 {
		t.Errorf("got %d, want deposit plus the 10%% reserve claim", tc)
	}
}

// ============================================================================
// Test: SettlePnl
// ============================================================================

func TestSettlePnl_RealizesToSpot(t *testing.T) {
	reg := testutil.NewScenarioRegistry()
	u := seedScenarioPosition(t, reg)

	pnl, err := risk.SettlePnl(u, reg, testutil.ScenarioMarketIndex)
	if err != nil {
		t.Fatalf("SettlePnl: %v", err)
	}
	if pnl != -17_653 {
		t.Errorf("pnl got %d, want -17653", pnl)
	}
	if got := u.QuoteBalance(); got != 9_982_347 {
		t.Errorf("spot balance got %d, want 9982347", got)
	}

	p := u.GetPerpPosition(testutil.ScenarioMarketIndex)
	if p.QuoteAssetAmount != -17_500_000 {
		t.Errorf("re-based quote got %d, want -17500000", p.QuoteAssetAmount)
	}

	tc, err := risk.TotalCollateral(u, reg, risk.Maintenance)
	if err != nil {
		t.Fatalf("TotalCollateral: %v", err)
	}
	if tc != 9_982_347 {
		t.Errorf("collateral moved on settle: got %d, want 9982347", tc)
	}
}

func TestSettlePnl_FlatPositionIsNoop(t *testing.T) {
	reg := testutil.NewScenarioRegistry()
	u := reg.EnsureUser("alice")
	if err := u.Deposit(state.QuoteSpotMarketIndex, 10_000_000); err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	pnl, err := risk.SettlePnl(u, reg, testutil.ScenarioMarketIndex)
	if err != nil || pnl != 0 {
		t.Errorf("got pnl %d err %v, want 0, nil", pnl, err)
	}
}
