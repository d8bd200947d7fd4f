package archive

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

const createTicksTable = `
	CREATE TABLE IF NOT EXISTS price_ticks (
		token_id     String,
		symbol       String,
		version      UInt64,
		price        Float64,
		market_cap   Float64,
		volume       Float64,
		holders      Int64,
		buys         Int64,
		sells        Int64,
		recorded_at  DateTime64(3)
	) ENGINE = MergeTree()
	ORDER BY (token_id, recorded_at)
`

// ClickHouseOptions configures the archive connection.
type ClickHouseOptions struct {
	Addr     string
	Database string
	Username string
	Password string
}

// ClickHouseWriter writes ticks to the price_ticks table.
type ClickHouseWriter struct {
	conn driver.Conn
}

// NewClickHouseWriter connects, pings and creates the ticks table if needed.
func NewClickHouseWriter(ctx context.Context, opts ClickHouseOptions) (*ClickHouseWriter, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{opts.Addr},
		Auth: clickhouse.Auth{
			Database: opts.Database,
			Username: opts.Username,
			Password: opts.Password,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("open clickhouse connection: %w", err)
	}

	// Verify connection
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping clickhouse: %w", err)
	}

	if err := conn.Exec(ctx, createTicksTable); err != nil {
		conn.Close()
		return nil, fmt.Errorf("create price_ticks: %w", err)
	}

	return &ClickHouseWriter{conn: conn}, nil
}

// WriteTicks inserts ticks in one batch.
func (w *ClickHouseWriter) WriteTicks(ctx context.Context, ticks []Tick) error {
	if len(ticks) == 0 {
		return nil
	}

	batch, err := w.conn.PrepareBatch(ctx, `
		INSERT INTO price_ticks (
			token_id, symbol, version, price, market_cap, volume, holders, buys, sells, recorded_at
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, t := range ticks {
		err = batch.Append(
			t.TokenID, t.Symbol, t.Version, t.Price, t.MarketCap, t.Volume,
			t.Holders, t.Buys, t.Sells, t.RecordedAt,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// CountTicks returns the number of archived ticks for a token.
func (w *ClickHouseWriter) CountTicks(ctx context.Context, tokenID string) (uint64, error) {
	var n uint64
	row := w.conn.QueryRow(ctx, `SELECT count() FROM price_ticks WHERE token_id = ?`, tokenID)
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("count ticks: %w", err)
	}
	return n, nil
}

// Close closes the connection.
func (w *ClickHouseWriter) Close() error {
	return w.conn.Close()
}
