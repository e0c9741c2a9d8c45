package state

import "fmt"

// Registry is the caller-owned container of market records, spot markets,
// oracle snapshots, and user accounts. Every engine operation reads its
// inputs from a registry passed by reference; there is no process-wide
// singleton. Ownership: the registry's creator serializes mutation (the
// ingestion loop in the daemon); the engine itself holds no locks.
type Registry struct {
	PerpMarkets map[uint16]*PerpMarket
	SpotMarkets map[uint16]*SpotMarket

	// Oracles keys perp market index -> latest snapshot. SpotOracles
	// likewise for spot markets; the quote market has a fixed unit price
	// when absent.
	Oracles     map[uint16]OracleSnapshot
	SpotOracles map[uint16]OracleSnapshot

	Users map[string]*UserAccount

	GuardRails OracleGuardRails

	// InsuranceVault is the staked insurance balance available across
	// markets, bounded per-market by each market's InsuranceClaim.
	InsuranceVault int64
}

// NewRegistry returns an empty registry with default guard rails.
func NewRegistry() *Registry {
	return &Registry{
		PerpMarkets: make(map[uint16]*PerpMarket),
		SpotMarkets: make(map[uint16]*SpotMarket),
		Oracles:     make(map[uint16]OracleSnapshot),
		SpotOracles: make(map[uint16]OracleSnapshot),
		Users:       make(map[string]*UserAccount),
		GuardRails:  DefaultOracleGuardRails(),
	}
}

// PerpMarket returns the market record for an index.
func (r *Registry) PerpMarket(marketIndex uint16) (*PerpMarket, error) {
	m, ok := r.PerpMarkets[marketIndex]
	if !ok {
		return nil, fmt.Errorf("%w: perp %d", ErrMarketNotFound, marketIndex)
	}
	return m, nil
}

// SpotMarket returns the spot market record for an index.
func (r *Registry) SpotMarket(marketIndex uint16) (*SpotMarket, error) {
	m, ok := r.SpotMarkets[marketIndex]
	if !ok {
		return nil, fmt.Errorf("%w: spot %d", ErrMarketNotFound, marketIndex)
	}
	return m, nil
}

// Oracle returns the latest snapshot for a perp market.
func (r *Registry) Oracle(marketIndex uint16) (OracleSnapshot, error) {
	o, ok := r.Oracles[marketIndex]
	if !ok {
		return OracleSnapshot{}, fmt.Errorf("%w: perp %d", ErrOracleNotFound, marketIndex)
	}
	return o, nil
}

// SpotOracle returns the latest snapshot for a spot market. The quote spot
// market defaults to a unit price when no snapshot was supplied.
func (r *Registry) SpotOracle(marketIndex uint16) (OracleSnapshot, error) {
	if o, ok := r.SpotOracles[marketIndex]; ok {
		return o, nil
	}
	if marketIndex == QuoteSpotMarketIndex {
		return OracleSnapshot{Price: 1_000_000}, nil
	}
	return OracleSnapshot{}, fmt.Errorf("%w: spot %d", ErrOracleNotFound, marketIndex)
}

// EnsureUser returns the account for an authority, creating it if absent.
func (r *Registry) EnsureUser(authority string) *UserAccount {
	if u, ok := r.Users[authority]; ok {
		return u
	}
	u := NewUserAccount(authority)
	r.Users[authority] = u
	return u
}

// User returns the account for an authority.
func (r *Registry) User(authority string) (*UserAccount, error) {
	u, ok := r.Users[authority]
	if !ok {
		return nil, fmt.Errorf("user %s not found", authority)
	}
	return u, nil
}

// ValidatedOracle returns the perp oracle only if it passes guard rails
// against the market's 5-minute TWAP; margin paths fail closed on error.
func (r *Registry) ValidatedOracle(marketIndex uint16, nowSlot uint64) (OracleSnapshot, error) {
	o, err := r.Oracle(marketIndex)
	if err != nil {
		return OracleSnapshot{}, err
	}
	m, err := r.PerpMarket(marketIndex)
	if err != nil {
		return OracleSnapshot{}, err
	}
	if err := ValidateOracle(o, r.GuardRails, nowSlot, m.Amm.LastOracleTwap); err != nil {
		return OracleSnapshot{}, fmt.Errorf("market %d: %w", marketIndex, err)
	}
	return o, nil
}
