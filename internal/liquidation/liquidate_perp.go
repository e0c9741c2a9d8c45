package liquidation

import (
	"fmt"

	fp "PerpRisk/internal/fixedpoint"
	"PerpRisk/internal/event"
	"PerpRisk/internal/risk"
	"PerpRisk/internal/state"
)

// SetUserStatusToBeingLiquidated flags an account whose maintenance margin
// is strictly breached and opens a liquidation episode. Idempotent within
// an episode: re-flagging returns the episode's existing id.
func (e *Engine) SetUserStatusToBeingLiquidated(authority string, now int64, slot uint64) (uint16, error) {
	u, err := e.reg.User(authority)
	if err != nil {
		return 0, err
	}

	meets, err := risk.MeetsMaintenanceMarginRequirement(u, e.reg, slot)
	if err != nil {
		return 0, err
	}
	if meets {
		return 0, fmt.Errorf("%w: user %s", ErrSufficientCollateral, authority)
	}

	id := u.EnterLiquidation(slot)
	e.log.Info().
		Str("authority", authority).
		Uint16("liquidation_id", id).
		Uint64("slot", slot).
		Msg("user flagged for liquidation")
	return id, nil
}

// eligibleBase is how much of the position's base magnitude the episode
// ramp has released: the initial share immediately, the rest linearly over
// LiquidationDuration slots.
func eligibleBase(m *state.PerpMarket, magnitude int64, startSlot, nowSlot uint64) (int64, error) {
	pct := m.InitialPctToLiquidate
	if pct <= 0 || pct > fp.LiquidationPctPrecision {
		pct = fp.LiquidationPctPrecision
	}
	if m.LiquidationDuration > 0 && nowSlot > startSlot {
		elapsed := nowSlot - startSlot
		if elapsed >= m.LiquidationDuration {
			pct = fp.LiquidationPctPrecision
		} else {
			ramp, err := fp.MulDiv(fp.LiquidationPctPrecision-pct, int64(elapsed), int64(m.LiquidationDuration), fp.Trunc)
			if err != nil {
				return 0, err
			}
			pct += ramp
		}
	} else if m.LiquidationDuration == 0 {
		pct = fp.LiquidationPctPrecision
	}
	return fp.MulDiv(magnitude, pct, fp.LiquidationPctPrecision, fp.Ceil)
}

// LiquidatePerp force-closes up to maxBaseAmount of the user's position in
// one market at the validated oracle price, transferring it to the
// liquidator. Funding settles first, the user's resting orders in the
// market are canceled, and the fill is emitted exactly as the matching
// engine would book it.
func (e *Engine) LiquidatePerp(authority, liquidator string, marketIndex uint16, maxBaseAmount int64, now int64, slot uint64) (*event.LiquidationRecord, error) {
	if maxBaseAmount <= 0 {
		return nil, fmt.Errorf("liquidate perp: non-positive max base %d", maxBaseAmount)
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
	m, err := e.reg.PerpMarket(marketIndex)
	if err != nil {
		return nil, err
	}
	oracle, err := e.reg.ValidatedOracle(marketIndex, slot)
	if err != nil {
		return nil, err
	}

	pos := u.GetPerpPosition(marketIndex)
	if pos != nil {
		if _, err := risk.SettleFunding(pos, m); err != nil {
			return nil, err
		}
	}

	tc, err := risk.TotalCollateral(u, e.reg, risk.Maintenance)
	if err != nil {
		return nil, err
	}
	mr, err := risk.MarginRequirement(u, e.reg, risk.Maintenance)
	if err != nil {
		return nil, err
	}
	if tc >= mr {
		if u.IsBeingLiquidated() && !u.IsBankruptStatus() {
			// Margin recovered mid-episode; release the account.
			u.ExitLiquidation()
			return nil, nil
		}
		return nil, fmt.Errorf("%w: user %s collateral %d requirement %d", ErrSufficientCollateral, authority, tc, mr)
	}

	liquidationID := u.EnterLiquidation(slot)
	canceled := u.CancelOrdersInMarket(marketIndex)

	if pos == nil || pos.BaseAssetAmount == 0 {
		return nil, fmt.Errorf("%w: user %s perp market %d", ErrNothingToLiquidate, authority, marketIndex)
	}

	magnitude, err := fp.AbsInt64(pos.BaseAssetAmount)
	if err != nil {
		return nil, err
	}
	eligible, err := eligibleBase(m, magnitude, u.LiquidationStartSlot, slot)
	if err != nil {
		return nil, err
	}
	fillBase := maxBaseAmount
	if eligible < fillBase {
		fillBase = eligible
	}
	if magnitude < fillBase {
		fillBase = magnitude
	}

	// The user's proceeds round against them: down when the fill pays the
	// user (closing a long), up when it charges them (closing a short).
	userLong := pos.BaseAssetAmount > 0
	quoteMode := fp.Floor
	if !userLong {
		quoteMode = fp.Ceil
	}
	quoteFill, err := fp.BaseToQuote(fillBase, oracle.Price, quoteMode)
	if err != nil {
		return nil, err
	}

	liquidatorFee, err := fp.ApplyPercentage(quoteFill, m.LiquidatorFee, fp.Floor)
	if err != nil {
		return nil, err
	}
	ifFee, err := fp.ApplyPercentage(quoteFill, m.IfLiquidationFee, fp.Floor)
	if err != nil {
		return nil, err
	}

	liqPos, err := liq.ForcePerpPosition(marketIndex)
	if err != nil {
		return nil, err
	}
	if _, err := risk.SettleFunding(liqPos, m); err != nil {
		return nil, err
	}

	entryBefore, err := fp.AbsInt64(pos.QuoteEntryAmount)
	if err != nil {
		return nil, err
	}

	userBaseDelta, userQuoteDelta := -fillBase, quoteFill
	if !userLong {
		userBaseDelta, userQuoteDelta = fillBase, -quoteFill
	}

	userBaseBefore := pos.BaseAssetAmount
	liqBaseBefore := liqPos.BaseAssetAmount
	if err := risk.ApplyFill(pos, risk.Fill{
		BaseDelta:  userBaseDelta,
		QuoteDelta: userQuoteDelta,
		Fee:        liquidatorFee + ifFee,
	}); err != nil {
		return nil, err
	}
	if err := risk.ApplyFill(liqPos, risk.Fill{
		BaseDelta:  -userBaseDelta,
		QuoteDelta: -userQuoteDelta + liquidatorFee,
	}); err != nil {
		return nil, err
	}
	risk.UpdateOpenInterest(m, userBaseBefore, pos.BaseAssetAmount)
	risk.UpdateOpenInterest(m, liqBaseBefore, liqPos.BaseAssetAmount)
	e.reg.InsuranceVault += ifFee

	meetsAfter, err := risk.MeetsMaintenanceMarginRequirement(u, e.reg, slot)
	if err != nil {
		return nil, err
	}
	if meetsAfter && !u.IsBankruptStatus() {
		u.ExitLiquidation()
	}

	fillID := e.nextFillID()
	takerDir := state.DirectionShort
	makerDir := state.DirectionLong
	if !userLong {
		takerDir, makerDir = state.DirectionLong, state.DirectionShort
	}
	liquidatorName := liquidator
	e.recorder.RecordOrderAction(&event.OrderActionRecord{
		ID:                            e.newRecordID(),
		Ts:                            now,
		Slot:                          slot,
		MarketIndex:                   marketIndex,
		MarketType:                    event.MarketTypePerp,
		Action:                        event.OrderActionFill,
		FillRecordID:                  fillID,
		BaseAssetAmountFilled:         fillBase,
		QuoteAssetAmountFilled:        quoteFill,
		TakerFee:                      liquidatorFee + ifFee,
		Taker:                         authority,
		TakerDirection:                takerDir,
		TakerExistingQuoteEntryAmount: entryBefore,
		Maker:                         &liquidatorName,
		MakerDirection:                &makerDir,
	})

	rec := &event.LiquidationRecord{
		ID:                e.newRecordID(),
		Ts:                now,
		Slot:              slot,
		Authority:         authority,
		Liquidator:        liquidator,
		LiquidationID:     liquidationID,
		Type:              event.LiquidationTypeLiquidatePerp,
		MarginRequirement: mr,
		TotalCollateral:   tc,
		CanceledOrderIDs:  canceled,
		LiquidatePerp: &event.LiquidatePerpDetails{
			MarketIndex:      marketIndex,
			OraclePrice:      oracle.Price,
			BaseAssetAmount:  userBaseDelta,
			QuoteAssetAmount: quoteFill,
			LpShares:         pos.LpShares,
			FillRecordID:     fillID,
			LiquidatorFee:    liquidatorFee,
			IfFee:            ifFee,
		},
	}
	e.recorder.RecordLiquidation(rec)

	e.log.Info().
		Str("authority", authority).
		Str("liquidator", liquidator).
		Uint16("market_index", marketIndex).
		Int64("base_filled", fillBase).
		Int64("quote_filled", quoteFill).
		Int64("oracle_price", oracle.Price).
		Msg("perp position liquidated")
	return rec, nil
}
