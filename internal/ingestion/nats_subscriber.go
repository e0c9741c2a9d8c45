package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// NATSSubscriber subscribes to the execution layer's JetStream subjects
// and feeds inputs into the single-writer apply loop via inputChan.
type NATSSubscriber struct {
	js        jetstream.JetStream
	inputChan chan<- RawEvent
	consumers []jetstream.ConsumeContext
	log       zerolog.Logger
}

// RawEvent is the parsed-but-untyped input from NATS, ready for the shell
// to validate and convert into a typed Input.
type RawEvent struct {
	Subject   string
	Data      []byte
	Timestamp time.Time
	AckFunc   func() // Call to ACK the NATS message after successful processing
	NakFunc   func() // Call to NAK on failure (will be redelivered)
}

// SubjectConfig maps NATS subjects to input types.
type SubjectConfig struct {
	Subject      string
	InputType    string
	ConsumerName string
	StreamName   string
}

// DefaultSubjects returns the standard subject layout. Each input type has
// its own durable consumer so redelivery of one type never stalls another.
func DefaultSubjects() []SubjectConfig {
	return []SubjectConfig{
		{Subject: "risk.deposits.>", InputType: "Deposit", ConsumerName: "risk-deposits", StreamName: "RISK_ACCOUNTS"},
		{Subject: "risk.fills.>", InputType: "TradeFill", ConsumerName: "risk-fills", StreamName: "RISK_FILLS"},
		{Subject: "risk.oracles.>", InputType: "OracleUpdate", ConsumerName: "risk-oracles", StreamName: "RISK_ORACLES"},
		{Subject: "risk.funding.update.>", InputType: "FundingUpdate", ConsumerName: "risk-funding-update", StreamName: "RISK_FUNDING"},
		{Subject: "risk.funding.settle.>", InputType: "FundingSettle", ConsumerName: "risk-funding-settle", StreamName: "RISK_FUNDING"},
		{Subject: "risk.liquidations.flag.>", InputType: "FlagLiquidation", ConsumerName: "risk-liq-flag", StreamName: "RISK_LIQUIDATIONS"},
		{Subject: "risk.liquidations.perp.>", InputType: "LiquidatePerp", ConsumerName: "risk-liq-perp", StreamName: "RISK_LIQUIDATIONS"},
		{Subject: "risk.liquidations.pnl.>", InputType: "LiquidatePnlForDeposit", ConsumerName: "risk-liq-pnl", StreamName: "RISK_LIQUIDATIONS"},
		{Subject: "risk.bankruptcies.>", InputType: "ResolveBankruptcy", ConsumerName: "risk-bankruptcies", StreamName: "RISK_LIQUIDATIONS"},
	}
}

func NewNATSSubscriber(js jetstream.JetStream, inputChan chan<- RawEvent, log zerolog.Logger) *NATSSubscriber {
	return &NATSSubscriber{
		js:        js,
		inputChan: inputChan,
		log:       log,
	}
}

// Subscribe creates JetStream consumers for all configured subjects.
// Consumers use explicit ACK, max_deliver=5, ack_wait=30s.
func (ns *NATSSubscriber) Subscribe(ctx context.Context, subjects []SubjectConfig) error {
	for _, cfg := range subjects {
		consumer, err := ns.js.CreateOrUpdateConsumer(ctx, cfg.StreamName, jetstream.ConsumerConfig{
			Durable:       cfg.ConsumerName,
			FilterSubject: cfg.Subject,
			AckPolicy:     jetstream.AckExplicitPolicy,
			AckWait:       30 * time.Second,
			MaxDeliver:    5,
			DeliverPolicy: jetstream.DeliverAllPolicy,
		})
		if err != nil {
			return fmt.Errorf("create consumer %s: %w", cfg.ConsumerName, err)
		}

		consumerContext, err := consumer.Consume(func(msg jetstream.Msg) {
			raw := RawEvent{
				Subject:   msg.Subject(),
				Data:      msg.Data(),
				Timestamp: time.Now(),
				AckFunc:   func() { msg.Ack() },
				NakFunc:   func() { msg.Nak() },
			}

			select {
			case ns.inputChan <- raw:
				// Queued for the apply loop.
			case <-ctx.Done():
				msg.Nak()
			}
		})
		if err != nil {
			return fmt.Errorf("consume %s: %w", cfg.ConsumerName, err)
		}

		ns.consumers = append(ns.consumers, consumerContext)
		ns.log.Info().Str("subject", cfg.Subject).Str("consumer", cfg.ConsumerName).Msg("subscribed")
	}

	return nil
}

// EnsureStreams creates the required JetStream streams if they don't
// exist. Streams use FileStorage, retention=Limits, max_age=72h.
func EnsureStreams(ctx context.Context, js jetstream.JetStream, log zerolog.Logger) error {
	streams := []jetstream.StreamConfig{
		{
			Name:      "RISK_ACCOUNTS",
			Subjects:  []string{"risk.deposits.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      "RISK_FILLS",
			Subjects:  []string{"risk.fills.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      "RISK_ORACLES",
			Subjects:  []string{"risk.oracles.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      "RISK_FUNDING",
			Subjects:  []string{"risk.funding.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      "RISK_LIQUIDATIONS",
			Subjects:  []string{"risk.liquidations.>", "risk.bankruptcies.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
	}

	for _, cfg := range streams {
		if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("create stream %s: %w", cfg.Name, err)
		}
		log.Info().Str("stream", cfg.Name).Msg("ensured stream")
	}

	return nil
}

// Stop gracefully stops all consumers.
func (ns *NATSSubscriber) Stop() {
	for _, cc := range ns.consumers {
		cc.Stop()
	}
	ns.log.Info().Msg("NATS subscribers stopped")
}

// ConnectNATS establishes a NATS connection and returns a JetStream
// context.
func ConnectNATS(url string, log zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}

	return nc, js, nil
}
