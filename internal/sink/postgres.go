package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/i474232898/seller-order-enrichment/internal/enrich"
)

const createTableSQL = `
	CREATE TABLE IF NOT EXISTS seller_order_enriched (
		order_id                          TEXT PRIMARY KEY,
		seller_id                         TEXT,
		order_purchase_timestamp          TIMESTAMPTZ,
		order_delivered_customer_date     TIMESTAMPTZ,
		delivery_location_latitude        DOUBLE PRECISION,
		delivery_location_longitude       DOUBLE PRECISION,
		total_order_value                 NUMERIC(14, 2),
		market_sentiment_on_purchase_date DOUBLE PRECISION,
		market_date_used                  DATE,
		delivery_date_mean_temp           DOUBLE PRECISION,
		delivery_date_precipitation_sum   DOUBLE PRECISION,
		updated_at                        TIMESTAMPTZ NOT NULL DEFAULT now()
	)`

const upsertSQL = `
	INSERT INTO seller_order_enriched (
		order_id, seller_id, order_purchase_timestamp, order_delivered_customer_date,
		delivery_location_latitude, delivery_location_longitude, total_order_value,
		market_sentiment_on_purchase_date, market_date_used,
		delivery_date_mean_temp, delivery_date_precipitation_sum)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	ON CONFLICT (order_id) DO UPDATE SET
		seller_id = EXCLUDED.seller_id,
		order_purchase_timestamp = EXCLUDED.order_purchase_timestamp,
		order_delivered_customer_date = EXCLUDED.order_delivered_customer_date,
		delivery_location_latitude = EXCLUDED.delivery_location_latitude,
		delivery_location_longitude = EXCLUDED.delivery_location_longitude,
		total_order_value = EXCLUDED.total_order_value,
		market_sentiment_on_purchase_date = EXCLUDED.market_sentiment_on_purchase_date,
		market_date_used = EXCLUDED.market_date_used,
		delivery_date_mean_temp = EXCLUDED.delivery_date_mean_temp,
		delivery_date_precipitation_sum = EXCLUDED.delivery_date_precipitation_sum,
		updated_at = now()`

// PostgresSink upserts rows into seller_order_enriched in one transaction.
type PostgresSink struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewPostgresSink wraps an open connection. timeout bounds a whole Write.
func NewPostgresSink(db *sqlx.DB, timeout time.Duration) *PostgresSink {
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &PostgresSink{db: db, timeout: timeout}
}

func (s *PostgresSink) Name() string { return "postgres:seller_order_enriched" }

// EnsureSchema creates the output table when it does not exist.
func (s *PostgresSink) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, createTableSQL); err != nil {
		return fmt.Errorf("create seller_order_enriched: %w", err)
	}
	return nil
}

// Write upserts every row or none. Rows without an order_id cannot be keyed
// and fail the batch. A batch repeating an order_id also fails, before any
// statement runs, since Postgres refuses to upsert the same key twice in one
// statement batch.
func (s *PostgresSink) Write(ctx context.Context, rows []enrich.EnrichedOrderRecord) error {
	if len(rows) == 0 {
		return nil
	}
	seen := make(map[string]int, len(rows))
	for i, row := range rows {
		if first, ok := seen[row.OrderID]; ok && row.OrderID != "" {
			return fmt.Errorf("rows %d and %d: duplicate order_id %q", first, i, row.OrderID)
		}
		seen[row.OrderID] = i
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, upsertSQL)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for i, row := range rows {
		if row.OrderID == "" {
			return fmt.Errorf("row %d: missing order_id", i)
		}
		_, err := stmt.ExecContext(ctx,
			row.OrderID, nullString(row.SellerID), row.PurchasedAt, row.DeliveredAt,
			row.Latitude, row.Longitude, row.TotalOrderValue,
			row.MarketSentiment, dateValue(row.MarketDateUsed),
			row.MeanTemp, row.PrecipitationSum)
		if err != nil {
			return fmt.Errorf("failed to upsert order %s: %w", row.OrderID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func dateValue(d *enrich.Date) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}
