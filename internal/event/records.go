package event

import (
	"github.com/google/uuid"

	"PerpRisk/internal/state"
)

// MarketType discriminates which ledger a record refers to.
type MarketType int32

const (
	MarketTypePerp MarketType = iota
	MarketTypeSpot
)

func (t MarketType) String() string {
	if t == MarketTypeSpot {
		return "Spot"
	}
	return "Perp"
}

// LiquidationType discriminates the payload of a LiquidationRecord.
type LiquidationType int32

const (
	LiquidationTypeUnknown LiquidationType = iota
	LiquidationTypeLiquidatePerp
	LiquidationTypeLiquidatePerpPnlForDeposit
	LiquidationTypePerpBankruptcy
	LiquidationTypeSpotBankruptcy
)

func (t LiquidationType) String() string {
	switch t {
	case LiquidationTypeLiquidatePerp:
		return "LiquidatePerp"
	case LiquidationTypeLiquidatePerpPnlForDeposit:
		return "LiquidatePerpPnlForDeposit"
	case LiquidationTypePerpBankruptcy:
		return "PerpBankruptcy"
	case LiquidationTypeSpotBankruptcy:
		return "SpotBankruptcy"
	default:
		return "Unknown"
	}
}

// LiquidatePerpDetails is the forced-fill payload: how much base was taken
// over, at what oracle price, and what the liquidator and insurance fund
// earned on the way through.
type LiquidatePerpDetails struct {
	MarketIndex      uint16
	OraclePrice      int64
	BaseAssetAmount  int64 // signed, the amount transferred off the user
	QuoteAssetAmount int64 // quote magnitude of the fill
	LpShares         int64
	FillRecordID     uint64
	LiquidatorFee    int64
	IfFee            int64
}

// PerpPnlForDepositDetails records deposit collateral traded against
// negative perp quote PnL.
type PerpPnlForDepositDetails struct {
	PerpMarketIndex   uint16
	SpotMarketIndex   uint16
	MarketOraclePrice int64
	PnlTransfer       int64
	AssetPrice        int64
	AssetTransfer     int64
}

// PerpBankruptcyDetails records the bankruptcy waterfall for one market:
// the shortfall, the insurance draw, and the cumulative-funding-rate shift
// that socialized the remainder.
type PerpBankruptcyDetails struct {
	MarketIndex                uint16
	Pnl                        int64 // negative quote being resolved
	IfPayment                  int64
	ClawbackUser               *string
	ClawbackAmount             *int64
	CumulativeFundingRateDelta int64
}

// LiquidationRecord is emitted once per liquidation-engine action. Exactly
// one details pointer is set, matching LiquidationType.
type LiquidationRecord struct {
	ID            uuid.UUID
	Ts            int64
	Slot          uint64
	Authority     string
	Liquidator    string
	LiquidationID uint16
	Type          LiquidationType

	// Risk terms at the moment the action ran.
	MarginRequirement int64
	TotalCollateral   int64
	MarginFreed       int64

	CanceledOrderIDs []uint32

	LiquidatePerp              *LiquidatePerpDetails
	LiquidatePerpPnlForDeposit *PerpPnlForDepositDetails
	PerpBankruptcy             *PerpBankruptcyDetails
}

// OrderAction discriminates OrderActionRecord payloads. Liquidation fills
// only ever produce Fill actions; the rest mirror the order lifecycle.
type OrderAction int32

const (
	OrderActionPlace OrderAction = iota
	OrderActionCancel
	OrderActionFill
	OrderActionExpire
)

func (a OrderAction) String() string {
	switch a {
	case OrderActionPlace:
		return "Place"
	case OrderActionCancel:
		return "Cancel"
	case OrderActionFill:
		return "Fill"
	case OrderActionExpire:
		return "Expire"
	default:
		return "Unknown"
	}
}

// OrderActionRecord mirrors one fill as the authoritative layer would book
// it. Taker fields describe the liquidated user; maker fields the
// counterparty, nil when the curve itself took the other side.
type OrderActionRecord struct {
	ID           uuid.UUID
	Ts           int64
	Slot         uint64
	MarketIndex  uint16
	MarketType   MarketType
	Action       OrderAction
	FillRecordID uint64

	BaseAssetAmountFilled  int64
	QuoteAssetAmountFilled int64
	TakerFee               int64
	MakerFee               int64

	Taker          string
	TakerDirection state.PositionDirection
	// Entry magnitude held before the fill, for cost-basis reconciliation.
	TakerExistingQuoteEntryAmount int64

	Maker          *string
	MakerDirection *state.PositionDirection
}
