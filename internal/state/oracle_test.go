package state_test

import (
	"errors"
	"testing"

	"PerpRisk/internal/state"
)

// ============================================================================
// Test: oracle guard rails
// ============================================================================

func TestValidateOracle_Accepts(t *testing.T) {
	o := state.OracleSnapshot{Price: 1_000_000, Confidence: 500, Slot: 100}
	err := state.ValidateOracle(o, state.DefaultOracleGuardRails(), 150, 1_000_000)
	if err != nil {
		t.Errorf("valid snapshot rejected: %v", err)
	}
}

func TestValidateOracle_NonPositivePrice(t *testing.T) {
	o := state.OracleSnapshot{Price: 0, Slot: 100}
	err := state.ValidateOracle(o, state.DefaultOracleGuardRails(), 100, 1_000_000)
	if !errors.Is(err, state.ErrInvalidOracleData) {
		t.Errorf("got %v, want ErrInvalidOracleData", err)
	}
}

func TestValidateOracle_Stale(t *testing.T) {
	rails := state.DefaultOracleGuardRails()
	o := state.OracleSnapshot{Price: 1_000_000, Slot: 100}

	if err := state.ValidateOracle(o, rails, 200, 1_000_000); err != nil {
		t.Errorf("snapshot at the staleness bound rejected: %v", err)
	}
	err := state.ValidateOracle(o, rails, 201, 1_000_000)
	if !errors.Is(err, state.ErrInvalidOracleData) {
		t.Errorf("got %v, want ErrInvalidOracleData", err)
	}
}

func TestValidateOracle_WideConfidence(t *testing.T) {
	// Confidence of 11% of price against a 10% cap.
	o := state.OracleSnapshot{Price: 1_000_000, Confidence: 110_000, Slot: 100}
	err := state.ValidateOracle(o, state.DefaultOracleGuardRails(), 100, 1_000_000)
	if !errors.Is(err, state.ErrInvalidOracleData) {
		t.Errorf("got %v, want ErrInvalidOracleData", err)
	}
}

func TestValidateOracle_TooVolatileUp(t *testing.T) {
	o := state.OracleSnapshot{Price: 12_000_000, Slot: 100}
	err := state.ValidateOracle(o, state.DefaultOracleGuardRails(), 100, 1_000_000)
	if !errors.Is(err, state.ErrInvalidOracleData) {
		t.Errorf("got %v, want ErrInvalidOracleData", err)
	}
}

func TestValidateOracle_TooVolatileDown(t *testing.T) {
	// 1/12th of TWAP breaches the 11x ratio.
	o := state.OracleSnapshot{Price: 83_000, Slot: 100}
	err := state.ValidateOracle(o, state.DefaultOracleGuardRails(), 100, 1_000_000)
	if !errors.Is(err, state.ErrInvalidOracleData) {
		t.Errorf("got %v, want ErrInvalidOracleData", err)
	}
}

func TestValidateOracle_CrashWithinRatio(t *testing.T) {
	// A 90% crash still sits inside the 11x volatility ratio and the
	// divergence cap, so margin can act on it.
	o := state.OracleSnapshot{Price: 100_000, Slot: 100}
	err := state.ValidateOracle(o, state.DefaultOracleGuardRails(), 100, 1_000_000)
	if err != nil {
		t.Errorf("crash price rejected: %v", err)
	}
}

func TestValidateOracle_SkipsTwapChecksWithoutTwap(t *testing.T) {
	o := state.OracleSnapshot{Price: 1_000_000, Slot: 100}
	if err := state.ValidateOracle(o, state.DefaultOracleGuardRails(), 100, 0); err != nil {
		t.Errorf("unseeded twap should skip divergence checks, got %v", err)
	}
}
