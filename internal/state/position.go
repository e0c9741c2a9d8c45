package state

// PositionDirection is the side of an order or fill.
type PositionDirection int32

const (
	DirectionLong PositionDirection = iota
	DirectionShort
)

func (d PositionDirection) String() string {
	if d == DirectionShort {
		return "short"
	}
	return "long"
}

// Opposite returns the other side.
func (d PositionDirection) Opposite() PositionDirection {
	if d == DirectionLong {
		return DirectionShort
	}
	return DirectionLong
}

// PerpPosition is one user's exposure in one perp market. The sign of
// BaseAssetAmount encodes long (+) / short (-) / flat (0).
type PerpPosition struct {
	MarketIndex uint16

	BaseAssetAmount  int64 // BasePrecision, signed
	QuoteAssetAmount int64 // QuotePrecision, signed

	// QuoteEntryAmount is the quote paid/received opening the current
	// exposure, excluding fees. QuoteBreakEvenAmount includes them.
	QuoteEntryAmount     int64
	QuoteBreakEvenAmount int64

	LastCumulativeFundingRate int64 // FundingRatePrecision
	LpShares                  int64
	OpenOrders                int32
}

// IsAvailable reports whether the slot carries no state and can be reused.
func (p *PerpPosition) IsAvailable() bool {
	return p.BaseAssetAmount == 0 &&
		p.QuoteAssetAmount == 0 &&
		p.QuoteEntryAmount == 0 &&
		p.LpShares == 0 &&
		p.OpenOrders == 0
}

// IsOpen reports whether the position has base exposure.
func (p *PerpPosition) IsOpen() bool {
	return p.BaseAssetAmount != 0
}

// SideSign is +1 for long, -1 for short, 0 for flat.
func (p *PerpPosition) SideSign() int64 {
	switch {
	case p.BaseAssetAmount > 0:
		return 1
	case p.BaseAssetAmount < 0:
		return -1
	default:
		return 0
	}
}

// Direction maps the base sign to a direction; flat reads as long.
func (p *PerpPosition) Direction() PositionDirection {
	if p.BaseAssetAmount < 0 {
		return DirectionShort
	}
	return DirectionLong
}

// SpotPosition is one user's balance in one spot market. ScaledBalance is
// positive for deposits and negative for borrows.
type SpotPosition struct {
	MarketIndex        uint16
	ScaledBalance      int64 // QuotePrecision for the quote market
	CumulativeDeposits int64
}

// IsAvailable reports whether the slot carries no state.
func (p *SpotPosition) IsAvailable() bool {
	return p.ScaledBalance == 0 && p.CumulativeDeposits == 0
}

// SpotMarket carries the weights applied to a spot balance when computing
// collateral. Maintenance asset weights are always >= initial asset weights
// (maintenance is the more permissive schedule); liability weights are
// >= SpotWeightPrecision and ordered the other way.
type SpotMarket struct {
	MarketIndex uint16

	AssetWeightInitial     int64 // SpotWeightPrecision
	AssetWeightMaintenance int64

	LiabilityWeightInitial     int64
	LiabilityWeightMaintenance int64
}

// QuoteSpotMarketIndex is the spot market holding quote collateral.
const QuoteSpotMarketIndex uint16 = 0

// OrderStatus is the lifecycle state of a resting order.
type OrderStatus int32

const (
	OrderStatusInit OrderStatus = iota
	OrderStatusOpen
	OrderStatusFilled
	OrderStatusCanceled
)

func (s OrderStatus) String() string {
	switch s {
	case OrderStatusOpen:
		return "open"
	case OrderStatusFilled:
		return "filled"
	case OrderStatusCanceled:
		return "canceled"
	default:
		return "init"
	}
}

// Order is a resting order slot on a user account. Only the fields the
// engine needs for cancellation bookkeeping are modeled.
type Order struct {
	OrderID         uint32
	MarketIndex     uint16
	Status          OrderStatus
	Direction       PositionDirection
	BaseAssetAmount int64
}
