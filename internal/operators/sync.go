package operators

import (
	"context"
	"fmt"

	"saasloader/internal/domain"
	"saasloader/internal/etl"
	_ "saasloader/internal/etl/sources"
)

// ── Generic sync ───────────────────────────────────────────
// Any registered etl source, run through the transform chain, into a
// warehouse table or a MongoDB collection.

var literalPresets = map[string]etl.LiteralOptions{
	"capped":                etl.CappedLiterals,
	"uncapped":              etl.UncappedLiterals,
	"quote_stripped":        etl.QuoteStrippedLiterals,
	"capped_quote_stripped": etl.CappedQuoteStrippedLiterals,
}

type syncParams struct {
	etl.SyncJob       `yaml:",inline"`
	DestinationConnID string `yaml:"destination_conn_id"`
	Literals          string `yaml:"literals"`
	Owner             string `yaml:"owner"`
}

type syncOperator struct {
	p   syncParams
	lit etl.LiteralOptions
}

func init() {
	define("sync",
		"Read any registered source, apply transforms and write to a warehouse table or MongoDB collection",
		syncParams{
			SyncJob:  etl.SyncJob{Mode: etl.LoadMerge},
			Literals: "capped",
		},
		func(p *syncParams) (Operator, error) {
			if err := required("source_type", p.SourceType, "table", p.Table, "destination_conn_id", p.DestinationConnID); err != nil {
				return nil, err
			}
			if _, err := etl.GetSource(p.SourceType); err != nil {
				return nil, err
			}
			mode, err := etl.ParseLoadMode(string(p.Mode))
			if err != nil {
				return nil, err
			}
			p.Mode = mode
			lit, ok := literalPresets[p.Literals]
			if !ok {
				return nil, fmt.Errorf("unknown literals preset %q", p.Literals)
			}
			return &syncOperator{p: *p, lit: lit}, nil
		})
}

func (o *syncOperator) destination(ctx context.Context, env *Env) (etl.Destination, error) {
	conn, err := env.connection(o.p.DestinationConnID)
	if err != nil {
		return nil, err
	}
	if conn.Driver() == domain.DatabaseDriverMongoDB {
		db, err := env.Resources.Mongo(ctx, o.p.DestinationConnID)
		if err != nil {
			return nil, fmt.Errorf("open mongo %s: %w", o.p.DestinationConnID, err)
		}
		return &etl.MongoWriter{DB: db, Logger: env.logger()}, nil
	}
	wh, err := env.Resources.Warehouse(ctx, o.p.DestinationConnID)
	if err != nil {
		return nil, fmt.Errorf("open warehouse %s: %w", o.p.DestinationConnID, err)
	}
	return &etl.WarehouseWriter{
		DB:       wh.DB(),
		Driver:   wh.Driver(),
		Literals: o.lit,
		Locker:   env.Locker,
		Logger:   env.logger(),
	}, nil
}

// ownedDestination stamps the configured owner on every target.
type ownedDestination struct {
	etl.Destination
	owner string
}

func (d ownedDestination) Write(ctx context.Context, t etl.Target, b *etl.Batch) (int, error) {
	if t.Owner == "" {
		t.Owner = d.owner
	}
	return d.Destination.Write(ctx, t, b)
}

func (o *syncOperator) Run(ctx context.Context, env *Env) (*Result, error) {
	dest, err := o.destination(ctx, env)
	if err != nil {
		return nil, err
	}
	if o.p.Owner != "" {
		dest = ownedDestination{Destination: dest, owner: o.p.Owner}
	}
	job := o.p.SyncJob
	engine := &etl.Engine{Dest: dest}
	sr, err := engine.RunSync(ctx, &job)
	if err != nil {
		return nil, err
	}
	res := &Result{RowsRead: sr.RowsRead}
	res.wrote(job.Target().QualifiedName(), sr.RowsWritten)
	env.logger().Info("sync complete", "source", job.SourceType, "read", sr.RowsRead, "written", sr.RowsWritten, "took", sr.Duration)
	return res, nil
}
