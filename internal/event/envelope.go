package event

import "encoding/json"

// Kind discriminates outbound record envelopes.
type Kind string

const (
	KindLiquidationRecord Kind = "liquidation_record"
	KindOrderActionRecord Kind = "order_action_record"
)

// Envelope wraps every record published downstream. Sequence is assigned
// by the single-writer apply loop and is gapless per process run.
type Envelope struct {
	Sequence int64           `json:"sequence"`
	Kind     Kind            `json:"kind"`
	Ts       int64           `json:"ts"`
	Payload  json.RawMessage `json:"payload"`
}
