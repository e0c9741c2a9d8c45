package testutil

import (
	fp "PerpRisk/internal/fixedpoint"
	"PerpRisk/internal/state"
)

// Canonical single-market fixture used across engine tests: a unit-pegged
// curve with 5e16 reserves on both legs, 10x initial / 20x maintenance
// leverage, 0.1% taker fee, and a 1.0 oracle.
const (
	ScenarioMarketIndex uint16 = 0
	ScenarioReserve     int64  = 50_000_000 * fp.BasePrecision
	ScenarioOraclePrice int64  = fp.PricePrecision
)

// NewScenarioRegistry builds the fixture registry with one perp market,
// the quote spot market, and a live oracle at 1.0.
func NewScenarioRegistry() *state.Registry {
	reg := state.NewRegistry()

	reg.PerpMarkets[ScenarioMarketIndex] = &state.PerpMarket{
		MarketIndex: ScenarioMarketIndex,
		Tier:        state.ContractTierA,
		Amm: state.AMM{
			BaseAssetReserve:  ScenarioReserve,
			QuoteAssetReserve: ScenarioReserve,
			PegMultiplier:     fp.PegPrecision,
			FundingPeriod:     3600,
			LastOracleTwap:    ScenarioOraclePrice,
		},
		InsuranceClaim: state.InsuranceClaim{
			QuoteMaxInsurance: 1_000_000,
		},
		MarginRatioInitial:     1_000,
		MarginRatioMaintenance: 500,
		TakerFee:               1_000, // 0.1% in PercentagePrecision
		InitialPctToLiquidate:  fp.LiquidationPctPrecision,
	}

	reg.SpotMarkets[state.QuoteSpotMarketIndex] = &state.SpotMarket{
		MarketIndex:                state.QuoteSpotMarketIndex,
		AssetWeightInitial:         fp.SpotWeightPrecision,
		AssetWeightMaintenance:     fp.SpotWeightPrecision,
		LiabilityWeightInitial:     fp.SpotWeightPrecision,
		LiabilityWeightMaintenance: fp.SpotWeightPrecision,
	}

	reg.Oracles[ScenarioMarketIndex] = state.OracleSnapshot{
		Price: ScenarioOraclePrice,
		Slot:  1,
	}

	return reg
}
