package liquidation

import (
	"errors"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"PerpRisk/internal/event"
	"PerpRisk/internal/state"
)

var (
	// ErrSufficientCollateral rejects a liquidation attempt against an
	// account that still meets its maintenance bar.
	ErrSufficientCollateral = errors.New("account meets maintenance margin requirement")

	// ErrNothingToLiquidate means the target market holds no exposure the
	// requested action could act on.
	ErrNothingToLiquidate = errors.New("nothing to liquidate in market")

	// ErrNotBankrupt rejects bankruptcy resolution for an account whose
	// bankruptcy bit is not set.
	ErrNotBankrupt = errors.New("account is not bankrupt")

	// ErrInsufficientCollateralForCoverage means a bankruptcy shortfall
	// remains after the fee pool and insurance, and no open interest
	// exists to socialize it against.
	ErrInsufficientCollateralForCoverage = errors.New("insufficient collateral to cover bankruptcy")
)

// Recorder receives the records the engine emits. Implementations must not
// mutate the records.
type Recorder interface {
	RecordLiquidation(*event.LiquidationRecord)
	RecordOrderAction(*event.OrderActionRecord)
}

// MemoryRecorder buffers records in order; used by tests and as a default.
type MemoryRecorder struct {
	Liquidations []*event.LiquidationRecord
	OrderActions []*event.OrderActionRecord
}

func (r *MemoryRecorder) RecordLiquidation(rec *event.LiquidationRecord) {
	r.Liquidations = append(r.Liquidations, rec)
}

func (r *MemoryRecorder) RecordOrderAction(rec *event.OrderActionRecord) {
	r.OrderActions = append(r.OrderActions, rec)
}

// TeeRecorder fans every record out to each underlying recorder in order.
type TeeRecorder struct {
	recorders []Recorder
}

func NewTeeRecorder(recorders ...Recorder) *TeeRecorder {
	return &TeeRecorder{recorders: recorders}
}

func (t *TeeRecorder) RecordLiquidation(rec *event.LiquidationRecord) {
	for _, r := range t.recorders {
		r.RecordLiquidation(rec)
	}
}

func (t *TeeRecorder) RecordOrderAction(rec *event.OrderActionRecord) {
	for _, r := range t.recorders {
		r.RecordOrderAction(rec)
	}
}

// Engine drives liquidation and bankruptcy transitions over one registry.
// It is single-writer: the apply loop owns it, nothing here locks.
type Engine struct {
	reg      *state.Registry
	recorder Recorder
	log      zerolog.Logger

	nextFillRecordID uint64
}

// NewEngine wires an engine over the registry. A nil recorder buffers into
// an in-memory recorder reachable via Recorder().
func NewEngine(reg *state.Registry, recorder Recorder, log zerolog.Logger) *Engine {
	if recorder == nil {
		recorder = &MemoryRecorder{}
	}
	return &Engine{
		reg:              reg,
		recorder:         recorder,
		log:              log,
		nextFillRecordID: 1,
	}
}

// Registry exposes the engine's state container to the query layer.
func (e *Engine) Registry() *state.Registry { return e.reg }

// Recorder returns the configured record sink.
func (e *Engine) Recorder() Recorder { return e.recorder }

func (e *Engine) nextFillID() uint64 {
	id := e.nextFillRecordID
	e.nextFillRecordID++
	return id
}

func (e *Engine) newRecordID() uuid.UUID {
	return uuid.New()
}
