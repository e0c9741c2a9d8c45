package ingestion

import (
	"encoding/json"
	"fmt"
)

// ParseRawEvent converts a RawEvent (JSON bytes + input type string) into a
// typed Input. The shell validates and converts before anything reaches
// the single-writer apply loop. Field names use snake_case to match
// upstream producers.
func ParseRawEvent(raw RawEvent, inputType string) (Input, error) {
	switch inputType {
	case "Deposit":
		return parseDeposit(raw.Data)
	case "OracleUpdate":
		return parseOracleUpdate(raw.Data)
	case "TradeFill":
		return parseTradeFill(raw.Data)
	case "FundingUpdate":
		return parseFundingUpdate(raw.Data)
	case "FundingSettle":
		return parseFundingSettle(raw.Data)
	case "FlagLiquidation":
		return parseFlagLiquidation(raw.Data)
	case "LiquidatePerp":
		return parseLiquidatePerp(raw.Data)
	case "LiquidatePnlForDeposit":
		return parseLiquidatePnl(raw.Data)
	case "ResolveBankruptcy":
		return parseResolveBankruptcy(raw.Data)
	default:
		return nil, fmt.Errorf("unknown input type: %s", inputType)
	}
}

type depositJSON struct {
	Authority   string `json:"authority"`
	MarketIndex uint16 `json:"market_index"`
	Amount      int64  `json:"amount"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parseDeposit(data []byte) (*DepositInput, error) {
	var j depositJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse Deposit: %w", err)
	}
	if j.Authority == "" {
		return nil, fmt.Errorf("parse Deposit: empty authority")
	}
	if j.Amount <= 0 {
		return nil, fmt.Errorf("parse Deposit: non-positive amount %d", j.Amount)
	}
	return &DepositInput{
		Authority:   j.Authority,
		MarketIndex: j.MarketIndex,
		Amount:      j.Amount,
		Seq:         j.Sequence,
		Ts:          j.TimestampUs,
	}, nil
}

type oracleUpdateJSON struct {
	MarketIndex uint16 `json:"market_index"`
	Price       int64  `json:"price"`
	Confidence  int64  `json:"confidence"`
	Slot        uint64 `json:"slot"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parseOracleUpdate(data []byte) (*OracleUpdateInput, error) {
	var j oracleUpdateJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse OracleUpdate: %w", err)
	}
	return &OracleUpdateInput{
		MarketIndex: j.MarketIndex,
		Price:       j.Price,
		Confidence:  j.Confidence,
		Slot:        j.Slot,
		Seq:         j.Sequence,
		Ts:          j.TimestampUs,
	}, nil
}

type tradeFillJSON struct {
	Authority   string `json:"authority"`
	MarketIndex uint16 `json:"market_index"`
	Side        string `json:"side"` // "long" or "short"
	BaseAmount  int64  `json:"base_amount"`
	Slot        uint64 `json:"slot"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parseTradeFill(data []byte) (*TradeFillInput, error) {
	var j tradeFillJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse TradeFill: %w", err)
	}
	if j.Side != "long" && j.Side != "short" {
		return nil, fmt.Errorf("parse TradeFill: bad side %q", j.Side)
	}
	if j.BaseAmount <= 0 {
		return nil, fmt.Errorf("parse TradeFill: non-positive base amount %d", j.BaseAmount)
	}
	return &TradeFillInput{
		Authority:   j.Authority,
		MarketIndex: j.MarketIndex,
		Direction:   j.Side,
		BaseAmount:  j.BaseAmount,
		Slot:        j.Slot,
		Seq:         j.Sequence,
		Ts:          j.TimestampUs,
	}, nil
}

type fundingUpdateJSON struct {
	MarketIndex uint16 `json:"market_index"`
	OracleTwap  int64  `json:"oracle_twap"`
	MarkTwap    int64  `json:"mark_twap"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parseFundingUpdate(data []byte) (*FundingUpdateInput, error) {
	var j fundingUpdateJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse FundingUpdate: %w", err)
	}
	if j.OracleTwap <= 0 {
		return nil, fmt.Errorf("parse FundingUpdate: non-positive oracle twap %d", j.OracleTwap)
	}
	return &FundingUpdateInput{
		MarketIndex: j.MarketIndex,
		OracleTwap:  j.OracleTwap,
		MarkTwap:    j.MarkTwap,
		Seq:         j.Sequence,
		Ts:          j.TimestampUs,
	}, nil
}

type fundingSettleJSON struct {
	MarketIndex uint16 `json:"market_index"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parseFundingSettle(data []byte) (*FundingSettleInput, error) {
	var j fundingSettleJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse FundingSettle: %w", err)
	}
	return &FundingSettleInput{
		MarketIndex: j.MarketIndex,
		Seq:         j.Sequence,
		Ts:          j.TimestampUs,
	}, nil
}

type flagLiquidationJSON struct {
	Authority   string `json:"authority"`
	Slot        uint64 `json:"slot"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parseFlagLiquidation(data []byte) (*FlagLiquidationInput, error) {
	var j flagLiquidationJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse FlagLiquidation: %w", err)
	}
	if j.Authority == "" {
		return nil, fmt.Errorf("parse FlagLiquidation: empty authority")
	}
	return &FlagLiquidationInput{
		Authority: j.Authority,
		Slot:      j.Slot,
		Seq:       j.Sequence,
		Ts:        j.TimestampUs,
	}, nil
}

type liquidatePerpJSON struct {
	Authority   string `json:"authority"`
	Liquidator  string `json:"liquidator"`
	MarketIndex uint16 `json:"market_index"`
	MaxBase     int64  `json:"max_base"`
	Slot        uint64 `json:"slot"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parseLiquidatePerp(data []byte) (*LiquidatePerpInput, error) {
	var j liquidatePerpJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse LiquidatePerp: %w", err)
	}
	if j.Authority == "" || j.Liquidator == "" {
		return nil, fmt.Errorf("parse LiquidatePerp: missing authority or liquidator")
	}
	if j.MaxBase <= 0 {
		return nil, fmt.Errorf("parse LiquidatePerp: non-positive max base %d", j.MaxBase)
	}
	return &LiquidatePerpInput{
		Authority:   j.Authority,
		Liquidator:  j.Liquidator,
		MarketIndex: j.MarketIndex,
		MaxBase:     j.MaxBase,
		Slot:        j.Slot,
		Seq:         j.Sequence,
		Ts:          j.TimestampUs,
	}, nil
}

type liquidatePnlJSON struct {
	Authority       string `json:"authority"`
	Liquidator      string `json:"liquidator"`
	PerpMarketIndex uint16 `json:"perp_market_index"`
	SpotMarketIndex uint16 `json:"spot_market_index"`
	MaxPnlTransfer  int64  `json:"max_pnl_transfer"`
	Slot            uint64 `json:"slot"`
	Sequence        int64  `json:"sequence"`
	TimestampUs     int64  `json:"timestamp_us"`
}

func parseLiquidatePnl(data []byte) (*LiquidatePnlInput, error) {
	var j liquidatePnlJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse LiquidatePnlForDeposit: %w", err)
	}
	if j.Authority == "" || j.Liquidator == "" {
		return nil, fmt.Errorf("parse LiquidatePnlForDeposit: missing authority or liquidator")
	}
	if j.MaxPnlTransfer <= 0 {
		return nil, fmt.Errorf("parse LiquidatePnlForDeposit: non-positive max transfer %d", j.MaxPnlTransfer)
	}
	return &LiquidatePnlInput{
		Authority:       j.Authority,
		Liquidator:      j.Liquidator,
		PerpMarketIndex: j.PerpMarketIndex,
		SpotMarketIndex: j.SpotMarketIndex,
		MaxPnlTransfer:  j.MaxPnlTransfer,
		Slot:            j.Slot,
		Seq:             j.Sequence,
		Ts:              j.TimestampUs,
	}, nil
}

type resolveBankruptcyJSON struct {
	Authority   string `json:"authority"`
	MarketIndex uint16 `json:"market_index"`
	Slot        uint64 `json:"slot"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parseResolveBankruptcy(data []byte) (*ResolveBankruptcyInput, error) {
	var j resolveBankruptcyJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse ResolveBankruptcy: %w", err)
	}
	if j.Authority == "" {
		return nil, fmt.Errorf("parse ResolveBankruptcy: empty authority")
	}
	return &ResolveBankruptcyInput{
		Authority:   j.Authority,
		MarketIndex: j.MarketIndex,
		Slot:        j.Slot,
		Seq:         j.Sequence,
		Ts:          j.TimestampUs,
	}, nil
}
