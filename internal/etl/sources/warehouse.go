package sources

import (
	"context"
	"fmt"

	"saasloader/internal/dbclient"
	"saasloader/internal/etl"
)

// ── Warehouse Query Source ─────────────────────────────────
// Streams the result of a query against a configured connection (SQL or
// MongoDB) page by page through the dbclient cursor.

// DBProvider opens connectors by connection ID. The runner injects it at startup.
type DBProvider interface {
	OpenConnector(ctx context.Context, connID string) (dbclient.Connector, error)
}

var dbProvider DBProvider

// SetDBProvider is called by the runner at startup.
func SetDBProvider(p DBProvider) { dbProvider = p }

const warehousePageSize = 500

type warehouseSource struct{}

func init() { etl.RegisterSource(&warehouseSource{}) }

func (s *warehouseSource) Spec() etl.SourceSpec {
	return etl.SourceSpec{
		Type:  "warehouse_query",
		Label: "Warehouse Query",
		ConfigFields: []etl.ConfigField{
			{Key: "connection_id", Label: "Connection", Type: "string", Required: true},
			{Key: "query", Label: "Query", Type: "textarea", Required: true, Help: "SQL, or a JSON find/aggregate document for MongoDB"},
		},
	}
}

func openQuery(ctx context.Context, cfg etl.SourceConfig) (dbclient.Connector, string, error) {
	connID := cfgString(cfg, "connection_id", "")
	query := cfgString(cfg, "query", "")
	if connID == "" || query == "" {
		return nil, "", fmt.Errorf("connection_id and query are required")
	}
	if dbProvider == nil {
		return nil, "", fmt.Errorf("database provider not initialized")
	}
	c, err := dbProvider.OpenConnector(ctx, connID)
	if err != nil {
		return nil, "", err
	}
	return c, query, nil
}

func (s *warehouseSource) Discover(ctx context.Context, cfg etl.SourceConfig) (*etl.Schema, error) {
	c, query, err := openQuery(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	page, err := c.Execute(ctx, query, 1)
	if err != nil {
		return nil, err
	}
	return headerSchema(page.Columns), nil
}

func (s *warehouseSource) Read(ctx context.Context, cfg etl.SourceConfig) (<-chan etl.Record, <-chan error) {
	out := make(chan etl.Record, 100)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		c, query, err := openQuery(ctx, cfg)
		if err != nil {
			errCh <- err
			return
		}
		defer c.Close()

		page, err := c.Execute(ctx, query, warehousePageSize)
		if err != nil {
			errCh <- fmt.Errorf("execute: %w", err)
			return
		}
		if !emitPage(ctx, out, page) {
			return
		}
		for page.HasMore {
			page, err = c.FetchMore(ctx, warehousePageSize)
			if err != nil {
				errCh <- fmt.Errorf("fetch more: %w", err)
				return
			}
			if !emitPage(ctx, out, page) {
				return
			}
		}
	}()

	return out, errCh
}

func emitPage(ctx context.Context, out chan<- etl.Record, page *dbclient.QueryPage) bool {
	for _, row := range page.Rows {
		data := make(map[string]any, len(page.Columns))
		for i, col := range page.Columns {
			if i < len(row) {
				data[col] = row[i]
			}
		}
		select {
		case out <- etl.Record{Data: data}:
		case <-ctx.Done():
			return false
		}
	}
	return true
}
