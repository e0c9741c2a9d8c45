package state

import "fmt"

// Slot capacities match the authoritative account layout.
const (
	MaxPerpPositions = 8
	MaxSpotPositions = 8
	MaxOrders        = 32
)

// UserStatus is a bitmask over an account's liquidation lifecycle. An
// account with no bits set is active. Transitions within one liquidation
// episode are monotone: Active -> BeingLiquidated -> (Active | Bankrupt)
// -> Active once bankruptcy resolution clears the flags.
type UserStatus uint8

const (
	UserStatusBeingLiquidated UserStatus = 1 << 0
	UserStatusBankrupt        UserStatus = 1 << 1
)

func (s UserStatus) String() string {
	switch {
	case s&UserStatusBankrupt != 0:
		return "Bankrupt"
	case s&UserStatusBeingLiquidated != 0:
		return "BeingLiquidated"
	default:
		return "Active"
	}
}

// UserAccount owns its position slots exclusively. Absent market slot means
// a flat/zero position.
type UserAccount struct {
	Authority string

	PerpPositions [MaxPerpPositions]PerpPosition
	SpotPositions [MaxSpotPositions]SpotPosition
	Orders        [MaxOrders]Order

	Status UserStatus

	// NextLiquidationID is monotone; each liquidation episode consumes one.
	NextLiquidationID uint16

	// LiquidationStartSlot anchors the eligible-portion ramp for the
	// current episode. Zero outside an episode.
	LiquidationStartSlot uint64
}

// NewUserAccount returns an empty account with the liquidation-id counter
// seeded at one, matching the authoritative account initializer.
func NewUserAccount(authority string) *UserAccount {
	return &UserAccount{
		Authority:         authority,
		NextLiquidationID: 1,
	}
}

// IsBeingLiquidated reports whether the liquidation bit is set.
func (u *UserAccount) IsBeingLiquidated() bool {
	return u.Status&UserStatusBeingLiquidated != 0
}

// IsBankruptStatus reports whether the bankruptcy bit is set.
func (u *UserAccount) IsBankruptStatus() bool {
	return u.Status&UserStatusBankrupt != 0
}

// AddStatus sets a status bit.
func (u *UserAccount) AddStatus(s UserStatus) {
	u.Status |= s
}

// RemoveStatus clears a status bit.
func (u *UserAccount) RemoveStatus(s UserStatus) {
	u.Status &^= s
}

// EnterLiquidation sets the liquidation bit and consumes a liquidation id.
// If the account is already in liquidation the current episode's id is
// returned without consuming another.
func (u *UserAccount) EnterLiquidation(slot uint64) uint16 {
	if u.IsBeingLiquidated() {
		return u.NextLiquidationID - 1
	}
	u.AddStatus(UserStatusBeingLiquidated)
	u.LiquidationStartSlot = slot
	id := u.NextLiquidationID
	u.NextLiquidationID++
	return id
}

// ExitLiquidation clears the episode flags and ramp anchor.
func (u *UserAccount) ExitLiquidation() {
	u.RemoveStatus(UserStatusBeingLiquidated | UserStatusBankrupt)
	u.LiquidationStartSlot = 0
}

// AssertCanIncreaseRisk rejects risk-increasing actions (new positions,
// LP share adds) for accounts in liquidation or bankruptcy, tagged with
// the blocking status.
func (u *UserAccount) AssertCanIncreaseRisk() error {
	if u.IsBankruptStatus() {
		return fmt.Errorf("%w: user %s", ErrRiskIncreaseWhileBankrupt, u.Authority)
	}
	if u.IsBeingLiquidated() {
		return fmt.Errorf("%w: user %s", ErrRiskIncreaseWhileLiquidating, u.Authority)
	}
	return nil
}

// GetPerpPosition returns the occupied slot for a market, or nil.
func (u *UserAccount) GetPerpPosition(marketIndex uint16) *PerpPosition {
	for i := range u.PerpPositions {
		p := &u.PerpPositions[i]
		if p.MarketIndex == marketIndex && !p.IsAvailable() {
			return p
		}
	}
	return nil
}

// ForcePerpPosition returns the slot for a market, claiming a free slot if
// the account has no position there.
func (u *UserAccount) ForcePerpPosition(marketIndex uint16) (*PerpPosition, error) {
	if p := u.GetPerpPosition(marketIndex); p != nil {
		return p, nil
	}
	for i := range u.PerpPositions {
		p := &u.PerpPositions[i]
		if p.IsAvailable() {
			*p = PerpPosition{MarketIndex: marketIndex}
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: perp market %d", ErrNoPositionSlot, marketIndex)
}

// GetSpotPosition returns the occupied spot slot for a market, or nil.
func (u *UserAccount) GetSpotPosition(marketIndex uint16) *SpotPosition {
	for i := range u.SpotPositions {
		p := &u.SpotPositions[i]
		if p.MarketIndex == marketIndex && !p.IsAvailable() {
			return p
		}
	}
	return nil
}

// ForceSpotPosition returns the spot slot for a market, claiming a free
// slot if needed.
func (u *UserAccount) ForceSpotPosition(marketIndex uint16) (*SpotPosition, error) {
	if p := u.GetSpotPosition(marketIndex); p != nil {
		return p, nil
	}
	for i := range u.SpotPositions {
		p := &u.SpotPositions[i]
		if p.IsAvailable() {
			*p = SpotPosition{MarketIndex: marketIndex}
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: spot market %d", ErrNoPositionSlot, marketIndex)
}

// Deposit credits a spot balance and its cumulative-deposit counter.
func (u *UserAccount) Deposit(marketIndex uint16, amount int64) error {
	p, err := u.ForceSpotPosition(marketIndex)
	if err != nil {
		return err
	}
	p.ScaledBalance += amount
	p.CumulativeDeposits += amount
	return nil
}

// QuoteBalance is the user's quote spot balance (zero when no slot).
func (u *UserAccount) QuoteBalance() int64 {
	if p := u.GetSpotPosition(QuoteSpotMarketIndex); p != nil {
		return p.ScaledBalance
	}
	return 0
}

// CancelOrdersInMarket cancels all open orders in a market and returns the
// canceled order ids. After entering liquidation every order in the target
// market must read as not open.
func (u *UserAccount) CancelOrdersInMarket(marketIndex uint16) []uint32 {
	var canceled []uint32
	for i := range u.Orders {
		o := &u.Orders[i]
		if o.Status == OrderStatusOpen && o.MarketIndex == marketIndex {
			o.Status = OrderStatusCanceled
			canceled = append(canceled, o.OrderID)
			if p := u.GetPerpPosition(marketIndex); p != nil && p.OpenOrders > 0 {
				p.OpenOrders--
			}
		}
	}
	return canceled
}

// HasOpenOrders reports any open order across all markets.
func (u *UserAccount) HasOpenOrders() bool {
	for i := range u.Orders {
		if u.Orders[i].Status == OrderStatusOpen {
			return true
		}
	}
	return false
}

// IsBankrupt reports whether the account's remaining state is a bare
// liability: no base exposure, no LP shares, no open orders, no deposits,
// and a negative quote amount somewhere.
func (u *UserAccount) IsBankrupt() bool {
	hasLiability := false

	for i := range u.SpotPositions {
		p := &u.SpotPositions[i]
		if p.ScaledBalance > 0 {
			return false
		}
		if p.ScaledBalance < 0 {
			hasLiability = true
		}
	}

	for i := range u.PerpPositions {
		p := &u.PerpPositions[i]
		if p.BaseAssetAmount != 0 || p.QuoteAssetAmount > 0 || p.LpShares > 0 || p.OpenOrders > 0 {
			return false
		}
		if p.QuoteAssetAmount < 0 {
			hasLiability = true
		}
	}

	return hasLiability
}
