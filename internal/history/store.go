package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog"

	"PerpRisk/internal/event"
	"PerpRisk/internal/observability"
)

// Store persists engine records to Postgres. Writes are idempotent on the
// record id so redelivered inputs never duplicate history.
type Store struct {
	db  *sql.DB
	log zerolog.Logger
}

// Open connects with sane pool defaults and pings.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

func NewStore(db *sql.DB, log zerolog.Logger) *Store {
	return &Store{db: db, log: log}
}

// WriteLiquidationRecord inserts one record; the typed payload lands in a
// JSONB column alongside the indexed key fields.
func (s *Store) WriteLiquidationRecord(ctx context.Context, rec *event.LiquidationRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal liquidation record: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO risk_history.liquidation_records
			(id, ts, slot, authority, liquidator, liquidation_id, record_type, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING`,
		rec.ID, rec.Ts, int64(rec.Slot), rec.Authority, rec.Liquidator,
		int32(rec.LiquidationID), rec.Type.String(), payload,
	)
	if err != nil {
		return fmt.Errorf("insert liquidation record: %w", err)
	}
	return nil
}

// WriteOrderActionRecord inserts one fill record.
func (s *Store) WriteOrderActionRecord(ctx context.Context, rec *event.OrderActionRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal order action record: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO risk_history.order_action_records
			(id, ts, slot, market_index, action, fill_record_id, taker, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING`,
		rec.ID, rec.Ts, int64(rec.Slot), int32(rec.MarketIndex),
		rec.Action.String(), int64(rec.FillRecordID), rec.Taker, payload,
	)
	if err != nil {
		return fmt.Errorf("insert order action record: %w", err)
	}
	return nil
}

// LiquidationRecords returns an authority's records, newest first.
func (s *Store) LiquidationRecords(ctx context.Context, authority string, limit int) ([]*event.LiquidationRecord, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT payload FROM risk_history.liquidation_records
		WHERE authority = $1 ORDER BY ts DESC, slot DESC LIMIT $2`,
		authority, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query liquidation records: %w", err)
	}
	defer rows.Close()

	var out []*event.LiquidationRecord
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var rec event.LiquidationRecord
		if err := json.Unmarshal(payload, &rec); err != nil {
			return nil, fmt.Errorf("decode liquidation record: %w", err)
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

// Sink adapts the store to the engine's recorder contract. Write failures
// are logged and counted, never propagated into the apply path: history is
// a projection, not the source of truth.
type Sink struct {
	store   *Store
	metrics *observability.Metrics
	log     zerolog.Logger
	timeout time.Duration
}

func NewSink(store *Store, metrics *observability.Metrics, log zerolog.Logger) *Sink {
	return &Sink{
		store:   store,
		metrics: metrics,
		log:     log,
		timeout: 5 * time.Second,
	}
}

func (s *Sink) RecordLiquidation(rec *event.LiquidationRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.store.WriteLiquidationRecord(ctx, rec); err != nil {
		s.metrics.HistoryWriteErrors.Inc()
		s.log.Error().Err(err).Str("record_id", rec.ID.String()).Msg("liquidation record write failed")
		return
	}
	s.metrics.HistoryRecordsWritten.Inc()
}

func (s *Sink) RecordOrderAction(rec *event.OrderActionRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.store.WriteOrderActionRecord(ctx, rec); err != nil {
		s.metrics.HistoryWriteErrors.Inc()
		s.log.Error().Err(err).Str("record_id", rec.ID.String()).Msg("order action record write failed")
		return
	}
	s.metrics.HistoryRecordsWritten.Inc()
}
