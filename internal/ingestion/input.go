package ingestion

// Input is one command from the authoritative execution layer. The apply
// loop replays these against the risk state in subject order.
type Input interface {
	// InputType returns the wire discriminator.
	InputType() string
	// Sequence returns the upstream ordering key.
	Sequence() int64
}

// DepositInput credits spot collateral.
type DepositInput struct {
	Authority   string
	MarketIndex uint16
	Amount      int64
	Seq         int64
	Ts          int64
}

func (i *DepositInput) InputType() string { return "Deposit" }
func (i *DepositInput) Sequence() int64   { return i.Seq }

// OracleUpdateInput carries a new oracle snapshot for one perp market.
type OracleUpdateInput struct {
	MarketIndex uint16
	Price       int64
	Confidence  int64
	Slot        uint64
	Seq         int64
	Ts          int64
}

func (i *OracleUpdateInput) InputType() string { return "OracleUpdate" }
func (i *OracleUpdateInput) Sequence() int64   { return i.Seq }

// TradeFillInput mirrors an authoritative taker fill against the curve.
type TradeFillInput struct {
	Authority   string
	MarketIndex uint16
	Direction   string // "long" or "short"
	BaseAmount  int64
	Slot        uint64
	Seq         int64
	Ts          int64
}

func (i *TradeFillInput) InputType() string { return "TradeFill" }
func (i *TradeFillInput) Sequence() int64   { return i.Seq }

// FundingUpdateInput advances a market's cumulative funding from TWAPs.
type FundingUpdateInput struct {
	MarketIndex uint16
	OracleTwap  int64
	MarkTwap    int64
	Seq         int64
	Ts          int64
}

func (i *FundingUpdateInput) InputType() string { return "FundingUpdate" }
func (i *FundingUpdateInput) Sequence() int64   { return i.Seq }

// FundingSettleInput settles accrued funding market-wide.
type FundingSettleInput struct {
	MarketIndex uint16
	Seq         int64
	Ts          int64
}

func (i *FundingSettleInput) InputType() string { return "FundingSettle" }
func (i *FundingSettleInput) Sequence() int64   { return i.Seq }

// FlagLiquidationInput marks an account BeingLiquidated.
type FlagLiquidationInput struct {
	Authority string
	Slot      uint64
	Seq       int64
	Ts        int64
}

func (i *FlagLiquidationInput) InputType() string { return "FlagLiquidation" }
func (i *FlagLiquidationInput) Sequence() int64   { return i.Seq }

// LiquidatePerpInput force-closes base exposure at the oracle.
type LiquidatePerpInput struct {
	Authority   string
	Liquidator  string
	MarketIndex uint16
	MaxBase     int64
	Slot        uint64
	Seq         int64
	Ts          int64
}

func (i *LiquidatePerpInput) InputType() string { return "LiquidatePerp" }
func (i *LiquidatePerpInput) Sequence() int64   { return i.Seq }

// LiquidatePnlInput trades deposit collateral against negative quote PnL.
type LiquidatePnlInput struct {
	Authority       string
	Liquidator      string
	PerpMarketIndex uint16
	SpotMarketIndex uint16
	MaxPnlTransfer  int64
	Slot            uint64
	Seq             int64
	Ts              int64
}

func (i *LiquidatePnlInput) InputType() string { return "LiquidatePnlForDeposit" }
func (i *LiquidatePnlInput) Sequence() int64   { return i.Seq }

// ResolveBankruptcyInput runs the bankruptcy waterfall.
type ResolveBankruptcyInput struct {
	Authority   string
	MarketIndex uint16
	Slot        uint64
	Seq         int64
	Ts          int64
}

func (i *ResolveBankruptcyInput) InputType() string { return "ResolveBankruptcy" }
func (i *ResolveBankruptcyInput) Sequence() int64   { return i.Seq }
