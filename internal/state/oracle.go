package state

import (
	"fmt"

	fp "PerpRisk/internal/fixedpoint"
)

// OracleSnapshot is a point-in-time oracle observation supplied by the
// caller. Snapshots are superseded by newer ones; no history is kept here.
type OracleSnapshot struct {
	Price      int64 // PricePrecision
	Confidence int64 // PricePrecision
	Slot       uint64
}

// OracleGuardRails gate whether an oracle price is usable for margin.
// A price that fails any check is rejected; the engine never silently
// substitutes a stale value.
type OracleGuardRails struct {
	// ConfidenceIntervalMaxSize is the widest acceptable confidence
	// interval, as a fraction of price in PercentagePrecision.
	ConfidenceIntervalMaxSize int64

	// SlotsBeforeStale is how many slots old a snapshot may be.
	SlotsBeforeStale uint64

	// TooVolatileRatio caps the multiple by which the price may differ
	// from the 5-minute TWAP in either direction.
	TooVolatileRatio int64

	// OracleTwapPercentDivergence caps |price - twap| / twap in
	// PercentagePrecision.
	OracleTwapPercentDivergence int64
}

// DefaultOracleGuardRails mirrors the published settlement parameters.
func DefaultOracleGuardRails() OracleGuardRails {
	return OracleGuardRails{
		ConfidenceIntervalMaxSize:   100_000,
		SlotsBeforeStale:            100,
		TooVolatileRatio:            11,
		OracleTwapPercentDivergence: 100 * fp.PercentagePrecision,
	}
}

// ValidateOracle checks a snapshot against the guard rails and the market's
// 5-minute TWAP. Every failure wraps ErrInvalidOracleData with the failing
// check so callers can fail closed with a reason.
func ValidateOracle(o OracleSnapshot, rails OracleGuardRails, nowSlot uint64, twap int64) error {
	if o.Price <= 0 {
		return fmt.Errorf("%w: non-positive price %d", ErrInvalidOracleData, o.Price)
	}

	if nowSlot > o.Slot && nowSlot-o.Slot > rails.SlotsBeforeStale {
		return fmt.Errorf("%w: stale by %d slots (max %d)",
			ErrInvalidOracleData, nowSlot-o.Slot, rails.SlotsBeforeStale)
	}

	// Confidence interval as a fraction of price.
	confPct, err := fp.MulDiv(o.Confidence, fp.PercentagePrecision, o.Price, fp.Ceil)
	if err != nil {
		return err
	}
	if confPct > rails.ConfidenceIntervalMaxSize {
		return fmt.Errorf("%w: confidence %d exceeds max %d",
			ErrInvalidOracleData, confPct, rails.ConfidenceIntervalMaxSize)
	}

	if twap > 0 {
		if rails.TooVolatileRatio > 0 {
			if o.Price > twap*rails.TooVolatileRatio || o.Price*rails.TooVolatileRatio < twap {
				return fmt.Errorf("%w: price %d too volatile vs twap %d",
					ErrInvalidOracleData, o.Price, twap)
			}
		}
		if rails.OracleTwapPercentDivergence > 0 {
			diff := o.Price - twap
			if diff < 0 {
				diff = -diff
			}
			divergence, err := fp.MulDiv(diff, fp.PercentagePrecision, twap, fp.Ceil)
			if err != nil {
				return err
			}
			if divergence > rails.OracleTwapPercentDivergence {
				return fmt.Errorf("%w: twap divergence %d exceeds max %d",
					ErrInvalidOracleData, divergence, rails.OracleTwapPercentDivergence)
			}
		}
	}

	return nil
}
