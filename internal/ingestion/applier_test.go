package ingestion_test

import (
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"PerpRisk/internal/ingestion"
	"PerpRisk/internal/liquidation"
	"PerpRisk/internal/observability"
	"PerpRisk/internal/state"
	"PerpRisk/internal/testutil"
)

// Metrics register on the process-global registry, so the package shares
// one instance across tests.
var testMetrics = observability.NewMetrics()

func newTestApplier(reg *state.Registry) *ingestion.Applier {
	var mu sync.RWMutex
	engine := liquidation.NewEngine(reg, nil, zerolog.Nop())
	return ingestion.NewApplier(reg, engine, &mu, testMetrics, zerolog.Nop())
}

// ============================================================================
// Test: apply dispatch
// ============================================================================

func TestApply_DepositCreatesUser(t *testing.T) {
	reg := testutil.NewScenarioRegistry()
	a := newTestApplier(reg)

	err := a.Apply(&ingestion.DepositInput{Authority: "alice", MarketIndex: 0, Amount: 10_000_000, Seq: 1})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	u, err := reg.User("alice")
	if err != nil {
		t.Fatalf("User: %v", err)
	}
	if got := u.QuoteBalance(); got != 10_000_000 {
		t.Errorf("balance got %d, want 10000000", got)
	}
}

func TestApply_OracleUpdateFoldsTwap(t *testing.T) {
	reg := testutil.NewScenarioRegistry()
	a := newTestApplier(reg)

	err := a.Apply(&ingestion.OracleUpdateInput{
		MarketIndex: testutil.ScenarioMarketIndex,
		Price:       1_100_000,
		Slot:        5,
		Seq:         2,
		Ts:          1_700_000_000_000_000,
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	o, err := reg.Oracle(testutil.ScenarioMarketIndex)
	if err != nil {
		t.Fatalf("Oracle: %v", err)
	}
	if o.Price != 1_100_000 || o.Slot != 5 {
		t.Errorf("snapshot got %+v", o)
	}
	m := reg.PerpMarkets[testutil.ScenarioMarketIndex]
	if m.Amm.LastOracleTwapTs != 1_700_000_000 {
		t.Errorf("twap ts got %d, want 1700000000", m.Amm.LastOracleTwapTs)
	}
}

func TestApply_TradeFillOpensPosition(t *testing.T) {
	reg := testutil.NewScenarioRegistry()
	a := newTestApplier(reg)

	if err := a.Apply(&ingestion.DepositInput{Authority: "alice", Amount: 10_000_000, Seq: 1}); err != nil {
		t.Fatalf("Apply deposit: %v", err)
	}
	err := a.Apply(&ingestion.TradeFillInput{
		Authority:   "alice",
		MarketIndex: testutil.ScenarioMarketIndex,
		Direction:   "long",
		BaseAmount:  17_500_000_000,
		Slot:        2,
		Seq:         2,
	})
	if err != nil {
		t.Fatalf("Apply fill: %v", err)
	}

	u, _ := reg.User("alice")
	p := u.GetPerpPosition(testutil.ScenarioMarketIndex)
	if p == nil || p.BaseAssetAmount != 17_500_000_000 {
		t.Fatalf("position got %+v", p)
	}
	if p.QuoteAssetAmount != -17_517_508 {
		t.Errorf("quote got %d, want -17517508", p.QuoteAssetAmount)
	}
}

func TestApply_FundingPipeline(t *testing.T) {
	reg := testutil.NewScenarioRegistry()
	a := newTestApplier(reg)

	if err := a.Apply(&ingestion.DepositInput{Authority: "alice", Amount: 10_000_000, Seq: 1}); err != nil {
		t.Fatalf("Apply deposit: %v", err)
	}
	if err := a.Apply(&ingestion.TradeFillInput{Authority: "alice", Direction: "long", BaseAmount: 17_500_000_000, Slot: 2, Seq: 2}); err != nil {
		t.Fatalf("Apply fill: %v", err)
	}
	if err := a.Apply(&ingestion.FundingUpdateInput{OracleTwap: 1_000_000, MarkTwap: 1_000_200, Seq: 3, Ts: 1_700_000_000_000_000}); err != nil {
		t.Fatalf("Apply funding update: %v", err)
	}
	if err := a.Apply(&ingestion.FundingSettleInput{Seq: 4, Ts: 1_700_000_100_000_000}); err != nil {
		t.Fatalf("Apply funding settle: %v", err)
	}

	u, _ := reg.User("alice")
	p := u.GetPerpPosition(testutil.ScenarioMarketIndex)
	if p.QuoteAssetAmount != -17_517_653 {
		t.Errorf("quote got %d, want -17517653", p.QuoteAssetAmount)
	}
	m := reg.PerpMarkets[testutil.ScenarioMarketIndex]
	if m.Amm.FeePool != 17_646 {
		t.Errorf("fee pool got %d, want 17646", m.Amm.FeePool)
	}
}

func TestApply_LiquidationFlow(t *testing.T) {
	reg := testutil.NewScenarioRegistry()
	a := newTestApplier(reg)

	steps := []ingestion.Input{
		&ingestion.DepositInput{Authority: "alice", Amount: 10_000_000, Seq: 1},
		&ingestion.DepositInput{Authority: "bob", Amount: 100_000_000, Seq: 2},
		&ingestion.TradeFillInput{Authority: "alice", Direction: "long", BaseAmount: 17_500_000_000, Slot: 2, Seq: 3},
		&ingestion.OracleUpdateInput{Price: 100_000, Slot: 10, Seq: 4, Ts: 1_700_000_000_000_000},
		&ingestion.FlagLiquidationInput{Authority: "alice", Slot: 10, Seq: 5, Ts: 1_700_000_000_000_000},
		&ingestion.LiquidatePerpInput{Authority: "alice", Liquidator: "bob", MaxBase: 17_500_000_000, Slot: 10, Seq: 6, Ts: 1_700_000_100_000_000},
		&ingestion.LiquidatePnlInput{Authority: "alice", Liquidator: "bob", MaxPnlTransfer: 100_000_000, Slot: 11, Seq: 7, Ts: 1_700_000_200_000_000},
		&ingestion.ResolveBankruptcyInput{Authority: "alice", Slot: 12, Seq: 8, Ts: 1_700_000_300_000_000},
	}
	for _, in := range steps {
		if err := a.Apply(in); err != nil {
			t.Fatalf("Apply %s: %v", in.InputType(), err)
		}
	}

	u, _ := reg.User("alice")
	if u.Status != 0 {
		t.Errorf("status got %v, want clear", u.Status)
	}
	m := reg.PerpMarkets[testutil.ScenarioMarketIndex]
	if m.Amm.TotalSocialLoss == 0 {
		t.Error("expected socialized loss after bankruptcy")
	}
}

func TestApply_RejectsUnknownMarket(t *testing.T) {
	reg := testutil.NewScenarioRegistry()
	a := newTestApplier(reg)

	err := a.Apply(&ingestion.FundingSettleInput{MarketIndex: 99, Seq: 1})
	if !errors.Is(err, state.ErrMarketNotFound) {
		t.Errorf("got %v, want ErrMarketNotFound", err)
	}
}
