package operators

import (
	"context"
	"time"

	"saasloader/internal/hooks/hubspot"
)

// ── Warehouse → HubSpot ────────────────────────────────────

type hubspotParams struct {
	s3Query         `yaml:",inline"`
	WarehouseConnID string         `yaml:"warehouse_conn_id"`
	HubSpotConnID   string         `yaml:"hubspot_conn_id"`
	SQLParams       map[string]any `yaml:"sql_params"`
}

type warehouseToHubSpot struct{ p hubspotParams }

func init() {
	define("warehouse_to_hubspot",
		"Run a SQL file from S3 against the warehouse and upsert the rows as HubSpot contacts",
		hubspotParams{
			s3Query:         s3Query{AWSConnID: "aws_default"},
			WarehouseConnID: "database_default",
			HubSpotConnID:   "hubspot_default",
		},
		func(p *hubspotParams) (Operator, error) {
			if err := p.validate(); err != nil {
				return nil, err
			}
			return &warehouseToHubSpot{p: *p}, nil
		})
}

func (o *warehouseToHubSpot) Run(ctx context.Context, env *Env) (*Result, error) {
	log := env.logger()
	conn, err := env.connection(o.p.HubSpotConnID)
	if err != nil {
		return nil, err
	}
	client, err := hubspot.New(conn, env.httpOptions()...)
	if err != nil {
		return nil, err
	}
	query, err := o.p.read(ctx, env)
	if err != nil {
		return nil, err
	}
	_, rows, err := queryMaps(ctx, env, o.p.WarehouseConnID, query, o.p.SQLParams)
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		for k, v := range row {
			if t, ok := v.(time.Time); ok {
				row[k] = t.UnixMilli()
			}
		}
	}

	res := &Result{RowsRead: len(rows)}
	stats, err := client.UpsertContacts(ctx, rows)
	if err != nil {
		return nil, err
	}
	res.wrote("hubspot.contacts", stats.Upserted)
	log.Info("hubspot upsert complete", "batches", stats.Batches, "fallbacks", stats.Fallbacks,
		"upserted", stats.Upserted, "failed", stats.Failed)
	return res, nil
}
