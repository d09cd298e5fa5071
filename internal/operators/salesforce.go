package operators

import (
	"context"
	"strings"
	"time"

	"saasloader/internal/hooks/salesforce"
)

// ── Warehouse → Salesforce ─────────────────────────────────

const salesforceTimeLayout = "2006-01-02T15:04:05.000Z"

type salesforceParams struct {
	s3Query          `yaml:",inline"`
	WarehouseConnID  string            `yaml:"warehouse_conn_id"`
	SalesforceConnID string            `yaml:"salesforce_conn_id"`
	Object           string            `yaml:"salesforce_object"`
	UpsertField      string            `yaml:"upsert_field"`
	NoNullList       []string          `yaml:"no_null_list"`
	LookupMapping    map[string]string `yaml:"lookup_mapping"`
	SQLParams        map[string]any    `yaml:"sql_params"`
}

type salesforceUpsert struct {
	p       salesforceParams
	noNull  map[string]bool
	lookups map[string]string
}

func init() {
	define("salesforce_upsert",
		"Run a SQL file from S3 against the warehouse and upsert the rows into a Salesforce object",
		salesforceParams{
			s3Query:          s3Query{AWSConnID: "aws_default"},
			WarehouseConnID:  "database_default",
			SalesforceConnID: "salesforce_default",
		},
		func(p *salesforceParams) (Operator, error) {
			if err := p.validate(); err != nil {
				return nil, err
			}
			if err := required("salesforce_object", p.Object, "upsert_field", p.UpsertField); err != nil {
				return nil, err
			}
			op := &salesforceUpsert{p: *p, noNull: map[string]bool{}, lookups: map[string]string{}}
			for _, f := range p.NoNullList {
				op.noNull[strings.ToLower(f)] = true
			}
			for k, v := range p.LookupMapping {
				op.lookups[strings.ToLower(k)] = strings.ToLower(v)
			}
			return op, nil
		})
}

// shape converts a warehouse row into a Salesforce record. Nulls in the
// no-null list are dropped so they do not blank existing values, a null
// relationship (__r) clears its lookup field (__c), and mapped lookup
// columns become {externalField: value} references.
func (o *salesforceUpsert) shape(row map[string]any) map[string]any {
	rec := make(map[string]any, len(row))
	for col, v := range row {
		switch {
		case v == nil && o.noNull[strings.ToLower(col)]:
		case v == nil && strings.HasSuffix(col, "__r"):
			rec[strings.TrimSuffix(col, "__r")+"__c"] = nil
		default:
			if t, ok := v.(time.Time); ok {
				v = t.UTC().Format(salesforceTimeLayout)
			}
			if ext, ok := o.lookups[strings.ToLower(col)]; ok {
				rec[col] = map[string]any{ext: v}
				continue
			}
			rec[col] = v
		}
	}
	return rec
}

func (o *salesforceUpsert) Run(ctx context.Context, env *Env) (*Result, error) {
	log := env.logger()
	conn, err := env.connection(o.p.SalesforceConnID)
	if err != nil {
		return nil, err
	}
	client, err := salesforce.New(conn, env.httpOptions()...)
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
	records := make([]map[string]any, len(rows))
	for i, row := range rows {
		records[i] = o.shape(row)
	}

	log.Info("salesforce upsert starting", "object", o.p.Object, "records", len(records))
	results, err := client.Upsert(ctx, o.p.Object, o.p.UpsertField, records)
	if err != nil {
		return nil, err
	}
	res := &Result{RowsRead: len(rows)}
	ok := 0
	for i, r := range results {
		if r.Success {
			ok++
			continue
		}
		log.Error("salesforce rejected record", "object", o.p.Object, "index", i, "errors", strings.Join(r.Errors, "; "))
	}
	res.wrote(o.p.Object, ok)
	log.Info("salesforce upsert complete", "object", o.p.Object, "upserted", ok, "failed", len(results)-ok)
	return res, nil
}
