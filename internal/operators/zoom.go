package operators

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"saasloader/internal/etl"
	"saasloader/internal/hooks/httpx"
	"saasloader/internal/hooks/zoom"
)

// ── Zoom webinars → warehouse ──────────────────────────────
// Snapshot load: the target table is rebuilt from scratch on every run.

type zoomTarget string

const (
	zoomWebinar     zoomTarget = "webinar"
	zoomRegistrant  zoomTarget = "registrant"
	zoomParticipant zoomTarget = "participant"
)

type zoomParams struct {
	ZoomConnID      string     `yaml:"zoom_conn_id"`
	WarehouseConnID string     `yaml:"warehouse_conn_id"`
	UserID          string     `yaml:"user_id"`
	Schema          string     `yaml:"schema"`
	Target          zoomTarget `yaml:"target_table"`
	FieldList       []string   `yaml:"field_list"`
	Owner           string     `yaml:"owner"`
	Concurrency     int        `yaml:"concurrency"`
}

type zoomToWarehouse struct{ p zoomParams }

func init() {
	define("zoom_webinar_to_warehouse",
		"Snapshot Zoom webinars, registrants or participants of a user into a warehouse table",
		zoomParams{
			ZoomConnID:      "zoom_default",
			WarehouseConnID: "redshift_default",
			Owner:           "airflow",
			Concurrency:     4,
		},
		func(p *zoomParams) (Operator, error) {
			if err := required("user_id", p.UserID); err != nil {
				return nil, err
			}
			switch p.Target {
			case zoomWebinar, zoomRegistrant, zoomParticipant:
			default:
				return nil, fmt.Errorf("target_table must be webinar, registrant or participant, got %q", p.Target)
			}
			if len(p.FieldList) == 0 {
				return nil, fmt.Errorf("field_list is required")
			}
			if p.Concurrency < 1 {
				p.Concurrency = 1
			}
			return &zoomToWarehouse{p: *p}, nil
		})
}

func (o *zoomToWarehouse) Run(ctx context.Context, env *Env) (*Result, error) {
	conn, err := env.connection(o.p.ZoomConnID)
	if err != nil {
		return nil, err
	}
	client, err := zoom.New(conn, env.httpOptions()...)
	if err != nil {
		return nil, err
	}

	webinars, err := client.ListWebinars(ctx, o.p.UserID)
	if err != nil {
		return nil, fmt.Errorf("list webinars: %w", err)
	}

	var rows []map[string]any
	switch o.p.Target {
	case zoomWebinar:
		rows = webinars
	case zoomRegistrant:
		rows, err = perWebinar(ctx, webinars, o.p.Concurrency, client.ListRegistrants)
	case zoomParticipant:
		rows, err = perWebinar(ctx, webinars, o.p.Concurrency, client.ListParticipants)
	}
	if err != nil {
		return nil, err
	}

	res := &Result{RowsRead: len(rows)}
	target := etl.Target{
		Schema: o.p.Schema,
		Table:  string(o.p.Target),
		Mode:   etl.LoadReplace,
		Owner:  o.p.Owner,
	}
	batch := etl.BatchFromMaps(o.p.FieldList, rows)
	if err := env.upsert(ctx, o.p.WarehouseConnID, etl.CappedLiterals, target, batch, res); err != nil {
		return nil, err
	}
	return res, nil
}

// perWebinar fetches a child listing for every webinar concurrently and
// concatenates the results in webinar order, tagging each row with its
// webinar_id.
func perWebinar(ctx context.Context, webinars []map[string]any, limit int,
	list func(context.Context, string) ([]map[string]any, error)) ([]map[string]any, error) {

	results := make([][]map[string]any, len(webinars))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, w := range webinars {
		id := httpx.String(w["id"])
		g.Go(func() error {
			items, err := list(gctx, id)
			if err != nil {
				return fmt.Errorf("webinar %s: %w", id, err)
			}
			for _, item := range items {
				item["webinar_id"] = w["id"]
			}
			results[i] = items
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []map[string]any
	for _, r := range results {
		out = append(out, r...)
	}
	return out, nil
}
