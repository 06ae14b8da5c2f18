// Package archive batch-writes the normalized events of each pipeline run
// into ClickHouse as an audit trail. Archival is best effort and never
// affects the run outcome.
package archive

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/bugscout/bugscout/internal/config"
	"github.com/bugscout/bugscout/internal/event"
)

// ClickHouse archives normalized telemetry events.
type ClickHouse struct {
	conn driver.Conn
}

// New connects to ClickHouse and verifies the connection.
func New(cfg config.ClickHouseConfig) (*ClickHouse, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("open clickhouse: %w", err)
	}
	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("ping clickhouse: %w", err)
	}
	return &ClickHouse{conn: conn}, nil
}

// InsertEvents writes one run's normalized events in a single prepared batch.
func (c *ClickHouse) InsertEvents(ctx context.Context, runID string, events []event.NormalizedEvent) error {
	if len(events) == 0 {
		return nil
	}

	batch, err := c.conn.PrepareBatch(ctx, `
		INSERT INTO telemetry_events (
			run_id, event_id, session_key, actor_id, kind, timestamp,
			message, error_type, url, element, selector
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare archive batch: %w", err)
	}

	for _, e := range events {
		err := batch.Append(
			runID, e.EventID, e.SessionKey, e.ActorID, string(e.Kind), e.Timestamp,
			e.Detail.Message, e.Detail.Type, e.Detail.URL, e.Detail.Element, e.Detail.Selector,
		)
		if err != nil {
			return fmt.Errorf("append archive row: %w", err)
		}
	}

	return batch.Send()
}

// Close closes the ClickHouse connection.
func (c *ClickHouse) Close() error {
	return c.conn.Close()
}
