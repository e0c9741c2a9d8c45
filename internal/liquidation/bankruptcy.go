package liquidation

import (
	"fmt"

	fp "PerpRisk/internal/fixedpoint"
	"PerpRisk/internal/event"
	"PerpRisk/internal/risk"
	"PerpRisk/internal/state"
)

// LiquidatePerpPnlForDeposit trades the user's deposit collateral against
// their negative perp quote PnL: the liquidator takes the deposit and
// assumes an equal slice of the loss. When the user runs out of both base
// exposure and deposits with quote still owed, the account tips into
// bankruptcy.
func (e *Engine) LiquidatePerpPnlForDeposit(authority, liquidator string, perpMarketIndex, spotMarketIndex uint16, maxPnlTransfer int64, now int64, slot uint64) (*event.LiquidationRecord, error) {
	if maxPnlTransfer <= 0 {
		return nil, fmt.Errorf("pnl for deposit: non-positive max transfer %d", maxPnlTransfer)
	}
	u, err := e.reg.User(authority)
	if err != nil {
		return nil, err
	}
	liq, err := e.reg.User(liquidator)
	if err != nil {
		return nil, err
	}
	if err := liq.AssertCanIncreaseRisk(); err != nil {
		return nil, fmt.Errorf("liquidator: %w", err)
	}
	m, err := e.reg.PerpMarket(perpMarketIndex)
	if err != nil {
		return nil, err
	}
	oracle, err := e.reg.ValidatedOracle(perpMarketIndex, slot)
	if err != nil {
		return nil, err
	}
	assetOracle, err := e.reg.SpotOracle(spotMarketIndex)
	if err != nil {
		return nil, err
	}
	if _, err := e.reg.SpotMarket(spotMarketIndex); err != nil {
		return nil, err
	}

	pos := u.GetPerpPosition(perpMarketIndex)
	if pos == nil || pos.BaseAssetAmount != 0 || pos.QuoteAssetAmount >= 0 {
		return nil, fmt.Errorf("%w: user %s has no negative quote pnl in perp market %d", ErrNothingToLiquidate, authority, perpMarketIndex)
	}
	if _, err := risk.SettleFunding(pos, m); err != nil {
		return nil, err
	}

	tc, err := risk.TotalCollateral(u, e.reg, risk.Maintenance)
	if err != nil {
		return nil, err
	}
	mr, err := risk.MarginRequirement(u, e.reg, risk.Maintenance)
	if err != nil {
		return nil, err
	}
	if tc >= mr && !u.IsBeingLiquidated() {
		return nil, fmt.Errorf("%w: user %s collateral %d requirement %d", ErrSufficientCollateral, authority, tc, mr)
	}
	liquidationID := u.EnterLiquidation(slot)

	deposit := u.GetSpotPosition(spotMarketIndex)
	if deposit == nil || deposit.ScaledBalance <= 0 {
		return nil, fmt.Errorf("%w: user %s has no deposit in spot market %d", ErrNothingToLiquidate, authority, spotMarketIndex)
	}

	depositValue, err := fp.MulDiv(deposit.ScaledBalance, assetOracle.Price, fp.PricePrecision, fp.Trunc)
	if err != nil {
		return nil, err
	}

	pnlTransfer := -pos.QuoteAssetAmount
	if maxPnlTransfer < pnlTransfer {
		pnlTransfer = maxPnlTransfer
	}
	if depositValue < pnlTransfer {
		pnlTransfer = depositValue
	}
	assetTransfer, err := fp.MulDiv(pnlTransfer, fp.PricePrecision, assetOracle.Price, fp.Ceil)
	if err != nil {
		return nil, err
	}
	if deposit.ScaledBalance < assetTransfer {
		assetTransfer = deposit.ScaledBalance
	}

	deposit.ScaledBalance -= assetTransfer
	liqDeposit, err := liq.ForceSpotPosition(spotMarketIndex)
	if err != nil {
		return nil, err
	}
	liqDeposit.ScaledBalance += assetTransfer

	liqPos, err := liq.ForcePerpPosition(perpMarketIndex)
	if err != nil {
		return nil, err
	}
	if _, err := risk.SettleFunding(liqPos, m); err != nil {
		return nil, err
	}
	pos.QuoteAssetAmount += pnlTransfer
	liqPos.QuoteAssetAmount -= pnlTransfer

	if pos.QuoteAssetAmount == 0 {
		pos.QuoteEntryAmount = 0
		pos.QuoteBreakEvenAmount = 0
		pos.LastCumulativeFundingRate = 0
	}

	if u.IsBankrupt() {
		u.AddStatus(state.UserStatusBankrupt)
	}

	rec := &event.LiquidationRecord{
		ID:                e.newRecordID(),
		Ts:                now,
		Slot:              slot,
		Authority:         authority,
		Liquidator:        liquidator,
		LiquidationID:     liquidationID,
		Type:              event.LiquidationTypeLiquidatePerpPnlForDeposit,
		MarginRequirement: mr,
		TotalCollateral:   tc,
		LiquidatePerpPnlForDeposit: &event.PerpPnlForDepositDetails{
			PerpMarketIndex:   perpMarketIndex,
			SpotMarketIndex:   spotMarketIndex,
			MarketOraclePrice: oracle.Price,
			PnlTransfer:       pnlTransfer,
			AssetPrice:        assetOracle.Price,
			AssetTransfer:     assetTransfer,
		},
	}
	e.recorder.RecordLiquidation(rec)

	e.log.Info().
		Str("authority", authority).
		Str("liquidator", liquidator).
		Int64("pnl_transfer", pnlTransfer).
		Int64("asset_transfer", assetTransfer).
		Bool("bankrupt", u.IsBankruptStatus()).
		Msg("perp pnl traded for deposit")
	return rec, nil
}

// ResolvePerpBankruptcy retires a bankrupt account's remaining negative
// quote in one market through the waterfall: market fee pool, then the
// insurance vault up to the market's claim capacity, then socialization
// into the cumulative funding tracks. Conservation holds exactly:
// shortfall = feePoolDraw + ifPayment + socialized. On success both status
// flags clear and the position slot is released.
func (e *Engine) ResolvePerpBankruptcy(authority string, marketIndex uint16, now int64, slot uint64) (*event.LiquidationRecord, error) {
	u, err := e.reg.User(authority)
	if err != nil {
		return nil, err
	}
	if !u.IsBankruptStatus() {
		return nil, fmt.Errorf("%w: user %s", ErrNotBankrupt, authority)
	}
	m, err := e.reg.PerpMarket(marketIndex)
	if err != nil {
		return nil, err
	}

	pos := u.GetPerpPosition(marketIndex)
	if pos == nil || pos.BaseAssetAmount != 0 || pos.QuoteAssetAmount >= 0 {
		return nil, fmt.Errorf("%w: user %s perp market %d holds no bankrupt pnl", ErrNothingToLiquidate, authority, marketIndex)
	}

	shortfall := -pos.QuoteAssetAmount
	remaining := shortfall

	feePoolDraw := m.Amm.FeePool
	if feePoolDraw > remaining {
		feePoolDraw = remaining
	}
	if feePoolDraw < 0 {
		feePoolDraw = 0
	}
	m.Amm.FeePool -= feePoolDraw
	remaining -= feePoolDraw

	ifPayment := e.reg.InsuranceVault
	if capacity := m.InsuranceClaim.AvailableCapacity(); capacity < ifPayment {
		ifPayment = capacity
	}
	if ifPayment > remaining {
		ifPayment = remaining
	}
	if ifPayment < 0 {
		ifPayment = 0
	}
	e.reg.InsuranceVault -= ifPayment
	m.InsuranceClaim.QuoteSettledInsurance += ifPayment
	remaining -= ifPayment

	var fundingDelta int64
	if remaining > 0 {
		if m.OpenInterestBase() == 0 {
			return nil, fmt.Errorf("%w: user %s market %d shortfall %d with no open interest", ErrInsufficientCollateralForCoverage, authority, marketIndex, remaining)
		}
		fundingDelta, err = m.ApplySocialLoss(remaining)
		if err != nil {
			return nil, err
		}
	}

	*pos = state.PerpPosition{}
	u.ExitLiquidation()

	rec := &event.LiquidationRecord{
		ID:            e.newRecordID(),
		Ts:            now,
		Slot:          slot,
		Authority:     authority,
		LiquidationID: u.NextLiquidationID - 1,
		Type:          event.LiquidationTypePerpBankruptcy,
		PerpBankruptcy: &event.PerpBankruptcyDetails{
			MarketIndex:                marketIndex,
			Pnl:                        -shortfall,
			IfPayment:                  ifPayment,
			CumulativeFundingRateDelta: fundingDelta,
		},
	}
	e.recorder.RecordLiquidation(rec)

	e.log.Info().
		Str("authority", authority).
		Uint16("market_index", marketIndex).
		Int64("shortfall", shortfall).
		Int64("fee_pool_draw", feePoolDraw).
		Int64("insurance_payment", ifPayment).
		Int64("socialized", remaining).
		Msg("perp bankruptcy resolved")
	return rec, nil
}
