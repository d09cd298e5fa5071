package operators

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"saasloader/internal/etl"
	"saasloader/internal/hooks/httpx"
	"saasloader/internal/hooks/zuora"
)

// ── Zuora → warehouse ──────────────────────────────────────

type zuoraParams struct {
	ZuoraConnID     string   `yaml:"zuora_conn_id"`
	WarehouseConnID string   `yaml:"warehouse_conn_id"`
	Query           string   `yaml:"query"`
	TargetTable     string   `yaml:"target_table"`
	PrimaryKey      string   `yaml:"primary_key"`
	FieldList       []string `yaml:"field_list"`
	UseREST         bool     `yaml:"use_rest_api"`
}

type zuoraToWarehouse struct{ p zuoraParams }

func init() {
	define("zuora_to_warehouse",
		"Run a ZOQL query over REST or SOAP and merge the records into a warehouse table",
		zuoraParams{
			ZuoraConnID:     "zuora_default",
			WarehouseConnID: "redshift_default",
			UseREST:         true,
		},
		func(p *zuoraParams) (Operator, error) {
			if err := required("query", p.Query, "target_table", p.TargetTable, "primary_key", p.PrimaryKey); err != nil {
				return nil, err
			}
			if len(p.FieldList) == 0 {
				return nil, fmt.Errorf("field_list is required")
			}
			return &zuoraToWarehouse{p: *p}, nil
		})
}

func (o *zuoraToWarehouse) querier(env *Env) (zuora.Querier, error) {
	conn, err := env.connection(o.p.ZuoraConnID)
	if err != nil {
		return nil, err
	}
	if o.p.UseREST {
		return zuora.NewREST(conn, env.httpOptions()...)
	}
	return zuora.NewSOAP(conn, env.httpOptions()...)
}

func (o *zuoraToWarehouse) Run(ctx context.Context, env *Env) (*Result, error) {
	log := env.logger()
	client, err := o.querier(env)
	if err != nil {
		return nil, err
	}

	log.Info("querying zuora", "rest", o.p.UseREST)
	records, err := client.Query(ctx, o.p.Query)
	if err != nil {
		return nil, err
	}

	res := &Result{RowsRead: len(records)}
	// Zuora answers an empty aggregate with a single blank record.
	if len(records) == 0 || (len(records) == 1 && httpx.String(records[0]["Id"]) == "") {
		log.Info("no records needed to be updated")
		res.Skipped = true
		return res, nil
	}
	target := mergeTarget(o.p.TargetTable, o.p.PrimaryKey)
	if err := env.upsert(ctx, o.p.WarehouseConnID, etl.QuoteStrippedLiterals, target, etl.BatchFromMaps(o.p.FieldList, records), res); err != nil {
		return nil, err
	}
	return res, nil
}

// amount reads a monetary value that arrives as a JSON number or a string.
func amount(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case int:
		return float64(x), nil
	case nil:
		return 0, fmt.Errorf("missing amount")
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(httpx.String(v)), 64)
	if err != nil {
		return 0, fmt.Errorf("parse amount %v: %w", v, err)
	}
	return f, nil
}

// zoqlString quotes s for use inside a ZOQL string literal.
func zoqlString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `\'`) + "'"
}
