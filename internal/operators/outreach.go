package operators

import (
	"context"
	"fmt"

	"saasloader/internal/etl"
	"saasloader/internal/hooks/outreach"
	"saasloader/internal/oauth"
)

// ── Outreach → warehouse ───────────────────────────────────

type outreachParams struct {
	OutreachConnID  string   `yaml:"outreach_conn_id"`
	WarehouseConnID string   `yaml:"warehouse_conn_id"`
	Resource        string   `yaml:"resource"`
	TargetTable     string   `yaml:"target_table"`
	PrimaryKey      string   `yaml:"primary_key"`
	FieldList       []string `yaml:"ordered_field_list"`
	FilterField     string   `yaml:"filter_field"`
	FilterStatement string   `yaml:"filter_statement"`
	Sort            string   `yaml:"sort"`
	PageLimit       int      `yaml:"page_limit"`
	PageOffset      int      `yaml:"page_offset"`
	CredentialTable string   `yaml:"credential_table"`
}

type outreachToWarehouse struct{ p outreachParams }

func init() {
	define("outreach_to_warehouse",
		"Refresh Outreach credentials and merge one resource into a warehouse table",
		outreachParams{
			OutreachConnID:  "outreach_default",
			WarehouseConnID: "redshift_default",
			PageLimit:       outreach.DefaultPageSize,
			CredentialTable: "outreach.oauth_credentials",
		},
		func(p *outreachParams) (Operator, error) {
			if err := required("resource", p.Resource, "target_table", p.TargetTable,
				"primary_key", p.PrimaryKey, "credential_table", p.CredentialTable); err != nil {
				return nil, err
			}
			if len(p.FieldList) == 0 {
				return nil, fmt.Errorf("ordered_field_list is required")
			}
			return &outreachToWarehouse{p: *p}, nil
		})
}

func (o *outreachToWarehouse) Run(ctx context.Context, env *Env) (*Result, error) {
	conn, err := env.connection(o.p.OutreachConnID)
	if err != nil {
		return nil, err
	}
	client, err := outreach.New(conn, env.httpOptions()...)
	if err != nil {
		return nil, err
	}
	wh, err := env.Resources.Warehouse(ctx, o.p.WarehouseConnID)
	if err != nil {
		return nil, fmt.Errorf("open warehouse %s: %w", o.p.WarehouseConnID, err)
	}

	creds := &oauth.CredentialTable{
		DB:        wh.DB(),
		Driver:    wh.Driver(),
		Table:     o.p.CredentialTable,
		KeyColumn: "client_id",
		Now:       env.Now,
	}
	tok, err := oauth.Refresh(ctx, creds, client.Refresher(), client.ClientID, outreach.CredentialColumns)
	if err != nil {
		return nil, err
	}
	client.SetAccessToken(tok.AccessToken)

	records, err := client.RetrieveAll(ctx, o.p.Resource, outreach.Query{
		FilterField:     o.p.FilterField,
		FilterStatement: o.p.FilterStatement,
		Sort:            o.p.Sort,
		PageLimit:       o.p.PageLimit,
		PageOffset:      o.p.PageOffset,
	})
	if err != nil {
		return nil, err
	}

	res := &Result{RowsRead: len(records)}
	if len(records) == 0 {
		env.logger().Info("no records returned", "resource", o.p.Resource)
		return res, nil
	}
	target := mergeTarget(o.p.TargetTable, o.p.PrimaryKey)
	if err := env.upsert(ctx, o.p.WarehouseConnID, etl.CappedLiterals, target, etl.BatchFromMaps(o.p.FieldList, records), res); err != nil {
		return nil, err
	}
	return res, nil
}
