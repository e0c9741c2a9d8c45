package state

import "errors"

var (
	// ErrInvalidOracleData means the oracle snapshot failed a guard-rail
	// check (stale, low confidence, diverged). Margin paths fail closed.
	ErrInvalidOracleData = errors.New("invalid oracle data")

	// ErrRiskIncreaseWhileLiquidating rejects risk-increasing actions for
	// an account in liquidation.
	ErrRiskIncreaseWhileLiquidating = errors.New("risk-increasing action while being liquidated")

	// ErrRiskIncreaseWhileBankrupt rejects risk-increasing actions for a
	// bankrupt account.
	ErrRiskIncreaseWhileBankrupt = errors.New("risk-increasing action while bankrupt")

	// ErrNoPositionSlot means the account's fixed-capacity position array
	// has no free slot for a new market.
	ErrNoPositionSlot = errors.New("no free position slot")

	// ErrMarketNotFound means a market index has no record in the registry.
	ErrMarketNotFound = errors.New("market not found")

	// ErrOracleNotFound means no oracle snapshot was supplied for a market.
	ErrOracleNotFound = errors.New("oracle snapshot not found")
)
