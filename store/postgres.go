package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"phantomflow/logger"
	"phantomflow/models"
)

const phantomsSchema = `
CREATE TABLE IF NOT EXISTS phantoms (
	id            BIGSERIAL PRIMARY KEY,
	detected_at   TIMESTAMPTZ NOT NULL,
	sip_timestamp TIMESTAMPTZ NOT NULL,
	trf_timestamp TIMESTAMPTZ,
	price         DOUBLE PRECISION NOT NULL,
	size          BIGINT NOT NULL,
	conditions    JSONB,
	exchange      INTEGER NOT NULL,
	sequence      BIGINT NOT NULL,
	trf_id        INTEGER,
	distance      DOUBLE PRECISION,
	prev_low      DOUBLE PRECISION,
	prev_high     DOUBLE PRECISION,
	day_low       DOUBLE PRECISION,
	day_high      DOUBLE PRECISION,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// PhantomStore persists phantom records to PostgreSQL.
type PhantomStore struct {
	db      *sqlx.DB
	timeout time.Duration
	log     *logger.Log
}

// NewPhantomStore connects to PostgreSQL and ensures the phantoms table
// exists.
func NewPhantomStore(ctx context.Context, dsn string, timeout time.Duration) (*PhantomStore, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)

	s := &PhantomStore{
		db:      db,
		timeout: timeout,
		log:     logger.GetLogger(),
	}
	if err := s.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *PhantomStore) ensureSchema(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if _, err := s.db.ExecContext(ctx, phantomsSchema); err != nil {
		return fmt.Errorf("failed to ensure phantoms table: %w", err)
	}
	return nil
}

// Insert persists one phantom record. Timestamps arrive as epoch milliseconds
// and convert server-side; a zero TRF timestamp stores NULL.
func (s *PhantomStore) Insert(ctx context.Context, rec models.PhantomRecord) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	conditionsJSON, err := json.Marshal(rec.Conditions)
	if err != nil {
		return fmt.Errorf("failed to marshal conditions: %w", err)
	}

	var trfMillis interface{}
	if rec.TRFTimestamp != 0 {
		trfMillis = rec.TRFTimestamp
	}

	query := `
		INSERT INTO phantoms (
			detected_at, sip_timestamp, trf_timestamp, price, size, conditions,
			exchange, sequence, trf_id, distance,
			prev_low, prev_high, day_low, day_high
		) VALUES (
			$1, to_timestamp($2/1000.0), to_timestamp($3/1000.0), $4, $5, $6,
			$7, $8, $9, $10, $11, $12, $13, $14
		)`

	var dayLow, dayHigh interface{}
	if rec.DayRange.Set {
		dayLow = rec.DayRange.Low
		dayHigh = rec.DayRange.High
	}

	_, err = s.db.ExecContext(ctx, query,
		rec.DetectedAt, rec.SIPTimestamp, trfMillis, rec.Price, rec.Size, conditionsJSON,
		rec.Exchange, rec.Sequence, rec.TRFID, rec.Distance,
		rec.PrevRange.Low, rec.PrevRange.High, dayLow, dayHigh)
	if err != nil {
		return fmt.Errorf("failed to insert phantom record: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *PhantomStore) Close() error {
	return s.db.Close()
}
