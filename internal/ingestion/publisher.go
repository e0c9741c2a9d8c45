package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"PerpRisk/internal/event"
	"PerpRisk/internal/observability"
)

// OutboundPublisher republishes engine records to NATS for downstream
// consumers. Subjects follow the pattern risk.records.{kind}.
type OutboundPublisher struct {
	js        jetstream.JetStream
	inputChan <-chan event.Envelope
	log       zerolog.Logger
}

func NewOutboundPublisher(js jetstream.JetStream, inputChan <-chan event.Envelope, log zerolog.Logger) *OutboundPublisher {
	return &OutboundPublisher{
		js:        js,
		inputChan: inputChan,
		log:       log,
	}
}

// Run starts the outbound publisher loop. Publish failures are non-fatal:
// downstream consumers can read the history store directly.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case env, ok := <-op.inputChan:
			if !ok {
				return nil
			}
			if err := op.publish(ctx, env); err != nil {
				op.log.Warn().Err(err).Int64("sequence", env.Sequence).Msg("outbound publish failed")
			}
		}
	}
}

func (op *OutboundPublisher) publish(ctx context.Context, env event.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	subject := fmt.Sprintf("risk.records.%s", env.Kind)
	_, err = op.js.Publish(ctx, subject, data)
	return err
}

// EnvelopeRecorder wraps engine records in outbound envelopes and hands
// them to the publisher channel. Sends never block the apply loop: when the
// queue is full the envelope is dropped and counted, and downstream catches
// up from the history store.
type EnvelopeRecorder struct {
	out     chan<- event.Envelope
	seq     atomic.Int64
	metrics *observability.Metrics
	log     zerolog.Logger
}

func NewEnvelopeRecorder(out chan<- event.Envelope, metrics *observability.Metrics, log zerolog.Logger) *EnvelopeRecorder {
	return &EnvelopeRecorder{out: out, metrics: metrics, log: log}
}

func (r *EnvelopeRecorder) RecordLiquidation(rec *event.LiquidationRecord) {
	r.send(event.KindLiquidationRecord, rec.Ts, rec)
}

func (r *EnvelopeRecorder) RecordOrderAction(rec *event.OrderActionRecord) {
	r.send(event.KindOrderActionRecord, rec.Ts, rec)
}

func (r *EnvelopeRecorder) send(kind event.Kind, ts int64, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		r.log.Error().Err(err).Str("kind", string(kind)).Msg("marshal outbound record")
		return
	}
	env := event.Envelope{
		Sequence: r.seq.Add(1),
		Kind:     kind,
		Ts:       ts,
		Payload:  data,
	}
	select {
	case r.out <- env:
		r.metrics.OutboundEnvelopes.Inc()
	default:
		r.metrics.OutboundDropped.Inc()
		r.log.Warn().Int64("sequence", env.Sequence).Str("kind", string(kind)).Msg("outbound queue full, envelope dropped")
	}
}

// EnsureOutboundStream creates the outbound records stream.
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream, log zerolog.Logger) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      "RISK_RECORDS",
		Subjects:  []string{"risk.records.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	log.Info().Msg("ensured outbound stream RISK_RECORDS")
	return nil
}
