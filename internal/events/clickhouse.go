package events

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/portfolio-ledger/internal/config"
	"github.com/portfolio-ledger/internal/logging"
	"github.com/portfolio-ledger/internal/retry"
)

// ClickHouseSink appends events to an append-only audit table, the surface
// used for audit and replay. Writes are retried with backoff; a write that
// still fails is logged and dropped rather than failing the operation.
type ClickHouseSink struct {
	conn  driver.Conn
	retry *retry.Config
}

// NewClickHouseSink connects to ClickHouse and ensures the audit table exists.
func NewClickHouseSink(cfg *config.ClickHouseConfig) (*ClickHouseSink, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%s", cfg.Host, cfg.Port)},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.User,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout:     10 * time.Second,
		MaxOpenConns:    5,
		MaxIdleConns:    2,
		ConnMaxLifetime: time.Hour,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	sink := &ClickHouseSink{conn: conn, retry: retry.DefaultConfig()}
	if err := sink.ensureSchema(ctx); err != nil {
		return nil, err
	}

	return sink, nil
}

func (s *ClickHouseSink) ensureSchema(ctx context.Context) error {
	err := s.conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS engine_events (
			id           String,
			kind         LowCardinality(String),
			portfolio_id UInt64,
			timestamp    DateTime64(3, 'UTC'),
			asset        String,
			amount       String,
			total_value  String,
			old_bps      Int64,
			new_bps      Int64,
			total_return Int64,
			sharpe_ratio Int64
		)
		ENGINE = MergeTree()
		ORDER BY (portfolio_id, timestamp)
	`)
	if err != nil {
		return fmt.Errorf("failed to create engine_events table: %w", err)
	}
	return nil
}

// Close closes the ClickHouse connection.
func (s *ClickHouseSink) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

// Emit implements Emitter.
func (s *ClickHouseSink) Emit(ctx context.Context, event Event) {
	asset := ""
	if event.Asset != nil {
		asset = event.Asset.Hex()
	}
	amount := ""
	if event.Amount != nil {
		amount = event.Amount.String()
	}
	totalValue := ""
	if event.TotalValue != nil {
		totalValue = event.TotalValue.String()
	}
	var oldBps, newBps, totalReturn, sharpe int64
	if event.OldBps != nil {
		oldBps = *event.OldBps
	}
	if event.NewBps != nil {
		newBps = *event.NewBps
	}
	if event.TotalReturn != nil {
		totalReturn = *event.TotalReturn
	}
	if event.SharpeRatio != nil {
		sharpe = *event.SharpeRatio
	}

	err := retry.Do(ctx, s.retry, func(ctx context.Context, attempt int) error {
		return s.conn.Exec(ctx, `
			INSERT INTO engine_events (
				id, kind, portfolio_id, timestamp, asset, amount,
				total_value, old_bps, new_bps, total_return, sharpe_ratio
			)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			event.ID,
			string(event.Kind),
			event.PortfolioID,
			event.Timestamp,
			asset,
			amount,
			totalValue,
			oldBps,
			newBps,
			totalReturn,
			sharpe,
		)
	})
	if err != nil {
		logging.FromContext(ctx).WithError(err).WithFields(map[string]interface{}{
			"eventId": event.ID,
			"kind":    string(event.Kind),
		}).Error("Failed to write audit event")
	}
}
