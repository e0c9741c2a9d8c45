package ingestion

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"PerpRisk/internal/liquidation"
	"PerpRisk/internal/observability"
	"PerpRisk/internal/risk"
	"PerpRisk/internal/state"
)

// Applier is the single writer over the risk state. It drains the raw
// input channel, parses, dispatches into the engine, and acks. Apply
// errors are deterministic rejections, not transient faults: the message
// is acked and counted, never redelivered.
type Applier struct {
	reg     *state.Registry
	engine  *liquidation.Engine
	metrics *observability.Metrics
	log     zerolog.Logger

	// mu is shared with the query server: writes here, read locks there.
	mu *sync.RWMutex

	subjects []SubjectConfig
	lastSeq  int64
}

func NewApplier(reg *state.Registry, engine *liquidation.Engine, mu *sync.RWMutex, metrics *observability.Metrics, log zerolog.Logger) *Applier {
	return &Applier{
		reg:      reg,
		engine:   engine,
		mu:       mu,
		metrics:  metrics,
		log:      log,
		subjects: DefaultSubjects(),
	}
}

// inputTypeFor resolves an input type from a concrete subject by matching
// the configured wildcard prefixes.
func (a *Applier) inputTypeFor(subject string) (string, bool) {
	for _, cfg := range a.subjects {
		prefix := strings.TrimSuffix(cfg.Subject, ">")
		if strings.HasPrefix(subject, prefix) {
			return cfg.InputType, true
		}
	}
	return "", false
}

// Run drains the channel until the context is canceled or the channel
// closes.
func (a *Applier) Run(ctx context.Context, inputs <-chan RawEvent) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-inputs:
			if !ok {
				return nil
			}
			a.handle(raw)
		}
	}
}

func (a *Applier) handle(raw RawEvent) {
	inputType, ok := a.inputTypeFor(raw.Subject)
	if !ok {
		a.metrics.EventsRejected.WithLabelValues("unknown", "subject").Inc()
		a.log.Warn().Str("subject", raw.Subject).Msg("no input type for subject")
		raw.AckFunc()
		return
	}

	in, err := ParseRawEvent(raw, inputType)
	if err != nil {
		a.metrics.EventsRejected.WithLabelValues(inputType, "parse").Inc()
		a.log.Warn().Err(err).Str("subject", raw.Subject).Msg("input parse failed")
		raw.AckFunc()
		return
	}

	start := time.Now()
	a.mu.Lock()
	err = a.Apply(in)
	a.mu.Unlock()
	if err != nil {
		a.metrics.EventsRejected.WithLabelValues(inputType, "apply").Inc()
		a.log.Warn().Err(err).
			Str("input_type", inputType).
			Int64("sequence", in.Sequence()).
			Msg("input rejected")
		raw.AckFunc()
		return
	}
	a.metrics.EventDuration.WithLabelValues(inputType).Observe(time.Since(start).Seconds())
	a.metrics.EventsApplied.WithLabelValues(inputType).Inc()
	a.lastSeq = in.Sequence()
	a.metrics.ApplySequence.Set(float64(a.lastSeq))
	raw.AckFunc()
}

// Apply dispatches one typed input into the engine. Exported so replay and
// tests can drive the loop without NATS.
func (a *Applier) Apply(in Input) error {
	switch v := in.(type) {
	case *DepositInput:
		u := a.reg.EnsureUser(v.Authority)
		return u.Deposit(v.MarketIndex, v.Amount)

	case *OracleUpdateInput:
		m, err := a.reg.PerpMarket(v.MarketIndex)
		if err != nil {
			return err
		}
		snap := state.OracleSnapshot{Price: v.Price, Confidence: v.Confidence, Slot: v.Slot}
		a.reg.Oracles[v.MarketIndex] = snap
		return m.UpdateOracleTwap(snap, v.Ts/1_000_000)

	case *TradeFillInput:
		u := a.reg.EnsureUser(v.Authority)
		dir := state.DirectionLong
		if v.Direction == "short" {
			dir = state.DirectionShort
		}
		_, err := risk.OpenPosition(u, a.reg, v.MarketIndex, dir, v.BaseAmount, v.Slot)
		return err

	case *FundingUpdateInput:
		m, err := a.reg.PerpMarket(v.MarketIndex)
		if err != nil {
			return err
		}
		_, err = risk.UpdateFundingRate(m, v.OracleTwap, v.MarkTwap, v.Ts/1_000_000)
		return err

	case *FundingSettleInput:
		m, err := a.reg.PerpMarket(v.MarketIndex)
		if err != nil {
			return err
		}
		settlement, err := risk.SettleMarketFunding(a.reg, m)
		if err != nil {
			return err
		}
		label := strconv.Itoa(settlement.MarketIndex)
		a.metrics.FundingEpochsSettled.WithLabelValues(label).Inc()
		a.metrics.FundingPositionsSettled.WithLabelValues(label).Add(float64(len(settlement.Payments)))
		a.metrics.FundingTotalPaid.WithLabelValues(label).Add(float64(settlement.TotalPaid))
		a.metrics.FundingTotalReceived.WithLabelValues(label).Add(float64(settlement.TotalReceived))
		a.metrics.FundingRoundingResidual.WithLabelValues(label).Set(float64(settlement.Residual))
		return nil

	case *FlagLiquidationInput:
		_, err := a.engine.SetUserStatusToBeingLiquidated(v.Authority, v.Ts/1_000_000, v.Slot)
		if err == nil {
			a.metrics.LiquidationsTriggered.WithLabelValues("all").Inc()
		}
		return err

	case *LiquidatePerpInput:
		rec, err := a.engine.LiquidatePerp(v.Authority, v.Liquidator, v.MarketIndex, v.MaxBase, v.Ts/1_000_000, v.Slot)
		if err != nil {
			return err
		}
		if rec != nil {
			a.metrics.LiquidationFills.WithLabelValues(strconv.Itoa(int(v.MarketIndex))).Inc()
		}
		return nil

	case *LiquidatePnlInput:
		_, err := a.engine.LiquidatePerpPnlForDeposit(v.Authority, v.Liquidator, v.PerpMarketIndex, v.SpotMarketIndex, v.MaxPnlTransfer, v.Ts/1_000_000, v.Slot)
		return err

	case *ResolveBankruptcyInput:
		if _, err := a.engine.ResolvePerpBankruptcy(v.Authority, v.MarketIndex, v.Ts/1_000_000, v.Slot); err != nil {
			return err
		}
		label := strconv.Itoa(int(v.MarketIndex))
		a.metrics.BankruptciesResolved.WithLabelValues(label).Inc()
		if m, merr := a.reg.PerpMarket(v.MarketIndex); merr == nil {
			a.metrics.SocialLossTotal.WithLabelValues(label).Set(float64(m.Amm.TotalSocialLoss))
		}
		a.metrics.InsuranceVaultBalance.Set(float64(a.reg.InsuranceVault))
		return nil

	default:
		return fmt.Errorf("unhandled input type %T", in)
	}
}

// LastSequence is the last applied upstream sequence.
func (a *Applier) LastSequence() int64 { return a.lastSeq }
