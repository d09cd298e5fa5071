package service

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"saasloader/internal/dbclient"
	"saasloader/internal/domain"
	"saasloader/internal/etl"
)

// ── Connection checks ──────────────────────────────────────

// ErrNotDatabase is returned for connections that are SaaS APIs or object
// stores rather than databases.
var ErrNotDatabase = errors.New("not a database connection")

// ConnectionCheck is the outcome of pinging one connection.
type ConnectionCheck struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	OK      bool   `json:"ok"`
	Skipped bool   `json:"skipped,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (s *TaskService) openDatabase(ctx context.Context, id string) (dbclient.Connector, error) {
	conn, err := s.cfg.Connection(id)
	if err != nil {
		return nil, err
	}
	d := conn.Driver()
	if !d.IsSQL() && d != domain.DatabaseDriverMongoDB {
		return nil, fmt.Errorf("connection %s (%s): %w", id, conn.Type, ErrNotDatabase)
	}
	return dbclient.NewConnector(ctx, conn)
}

// TestConnection opens a database connection and pings it.
func (s *TaskService) TestConnection(ctx context.Context, id string) error {
	c, err := s.openDatabase(ctx, id)
	if err != nil {
		return err
	}
	defer c.Close()
	if err := c.TestConnection(ctx); err != nil {
		return fmt.Errorf("connection %s: %w", id, err)
	}
	return nil
}

// CheckConnections pings every database connection in id order. API and
// object store connections are reported as skipped.
func (s *TaskService) CheckConnections(ctx context.Context) []ConnectionCheck {
	ids := make([]string, 0, len(s.cfg.Connections))
	for id := range s.cfg.Connections {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]ConnectionCheck, 0, len(ids))
	for _, id := range ids {
		check := ConnectionCheck{ID: id, Type: s.cfg.Connections[id].Type}
		err := s.TestConnection(ctx, id)
		switch {
		case errors.Is(err, ErrNotDatabase):
			check.Skipped = true
		case err != nil:
			check.Error = err.Error()
			s.logger.Warn("connection check failed", "connection", id, "error", err)
		default:
			check.OK = true
		}
		out = append(out, check)
	}
	return out
}

// DescribeConnection lists the tables and columns a database connection sees.
func (s *TaskService) DescribeConnection(ctx context.Context, id string) (*dbclient.SchemaInfo, error) {
	c, err := s.openDatabase(ctx, id)
	if err != nil {
		return nil, err
	}
	defer c.Close()
	return c.Introspect(ctx)
}

// ── Source preview ─────────────────────────────────────────

// SourcePreview is the discovered schema and the first records of a source.
type SourcePreview struct {
	Schema  *etl.Schema      `json:"schema"`
	Records []map[string]any `json:"records"`
}

// PreviewSource reads at most limit records from a sync source without
// writing anything.
func (s *TaskService) PreviewSource(ctx context.Context, sourceType string, cfg etl.SourceConfig, limit int) (*SourcePreview, error) {
	if limit <= 0 {
		limit = 10
	}
	records, schema, err := (&etl.Engine{}).Preview(ctx, sourceType, cfg, limit)
	if err != nil {
		return nil, err
	}
	out := &SourcePreview{Schema: schema, Records: make([]map[string]any, 0, len(records))}
	for _, r := range records {
		out.Records = append(out.Records, r.Data)
	}
	return out, nil
}
