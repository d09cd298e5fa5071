package operators

import (
	"context"
	"fmt"

	"saasloader/internal/etl"
	"saasloader/internal/hooks/youcanbookme"
)

// ── YouCanBookMe → warehouse ───────────────────────────────

type youcanbookmeParams struct {
	YouCanBookMeConnID string   `yaml:"youcanbookme_conn_id"`
	WarehouseConnID    string   `yaml:"warehouse_conn_id"`
	Fields             []string `yaml:"fields"`
	TargetTable        string   `yaml:"target_table"`
	PrimaryKey         string   `yaml:"primary_key"`
}

type youcanbookmeToWarehouse struct{ p youcanbookmeParams }

func init() {
	define("youcanbookme_to_warehouse",
		"Merge YouCanBookMe profiles into a warehouse table",
		youcanbookmeParams{
			YouCanBookMeConnID: "youcanbookme_default",
			WarehouseConnID:    "redshift_default",
			PrimaryKey:         "id",
		},
		func(p *youcanbookmeParams) (Operator, error) {
			if err := required("target_table", p.TargetTable, "primary_key", p.PrimaryKey); err != nil {
				return nil, err
			}
			if len(p.Fields) == 0 {
				return nil, fmt.Errorf("fields is required")
			}
			return &youcanbookmeToWarehouse{p: *p}, nil
		})
}

func (o *youcanbookmeToWarehouse) Run(ctx context.Context, env *Env) (*Result, error) {
	conn, err := env.connection(o.p.YouCanBookMeConnID)
	if err != nil {
		return nil, err
	}
	client, err := youcanbookme.New(conn, env.httpOptions()...)
	if err != nil {
		return nil, err
	}
	profiles, err := client.RetrieveProfiles(ctx, o.p.Fields)
	if err != nil {
		return nil, err
	}

	res := &Result{RowsRead: len(profiles)}
	target := mergeTarget(o.p.TargetTable, o.p.PrimaryKey)
	if err := env.upsert(ctx, o.p.WarehouseConnID, etl.CappedLiterals, target, etl.BatchFromMaps(o.p.Fields, profiles), res); err != nil {
		return nil, err
	}
	return res, nil
}
