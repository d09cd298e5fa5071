package operators

import (
	"context"
	"fmt"

	"saasloader/internal/etl"
	"saasloader/internal/hooks/surveygizmo"
)

// ── SurveyGizmo → warehouse ────────────────────────────────

var (
	sgSurveyColumns   = []string{"id", "title", "partial", "deleted", "complete"}
	sgQuestionColumns = []string{"id", "survey_id", "question_title", "type"}
	sgOptionColumns   = []string{"id", "question_id", "survey_id", "value"}
	sgResponseColumns = []string{"id", "response_id", "survey_id", "question_id", "option_id", "answer_text", "submitted_at"}
)

type surveyFilter struct {
	Field    string `yaml:"field"`
	Operator string `yaml:"operator"`
	Value    string `yaml:"value"`
}

type surveygizmoParams struct {
	SurveyGizmoConnID string        `yaml:"surveygizmo_conn_id"`
	WarehouseConnID   string        `yaml:"warehouse_conn_id"`
	SurveyIDs         []string      `yaml:"survey_ids"`
	Schema            string        `yaml:"schema"`
	Filter            *surveyFilter `yaml:"filter"`
}

type surveygizmoToWarehouse struct{ p surveygizmoParams }

func init() {
	define("surveygizmo_to_warehouse",
		"Merge SurveyGizmo surveys, questions, options and responses into the warehouse",
		surveygizmoParams{
			SurveyGizmoConnID: "surveygizmo_default",
			WarehouseConnID:   "redshift_default",
			Schema:            "surveygizmo",
		},
		func(p *surveygizmoParams) (Operator, error) {
			if len(p.SurveyIDs) == 0 {
				return nil, fmt.Errorf("survey_ids is required")
			}
			return &surveygizmoToWarehouse{p: *p}, nil
		})
}

func (o *surveygizmoToWarehouse) Run(ctx context.Context, env *Env) (*Result, error) {
	conn, err := env.connection(o.p.SurveyGizmoConnID)
	if err != nil {
		return nil, err
	}
	client, err := surveygizmo.New(conn, env.httpOptions()...)
	if err != nil {
		return nil, err
	}
	var filter *surveygizmo.Filter
	if o.p.Filter != nil {
		filter = &surveygizmo.Filter{Field: o.p.Filter.Field, Operator: o.p.Filter.Operator, Value: o.p.Filter.Value}
	}

	var surveys, questions, options, responses []map[string]any
	for _, id := range o.p.SurveyIDs {
		s, q, opts, err := client.GetSurveyData(ctx, id)
		if err != nil {
			return nil, err
		}
		r, err := client.GetResponses(ctx, id, filter)
		if err != nil {
			return nil, err
		}
		surveys = append(surveys, s...)
		questions = append(questions, q...)
		options = append(options, opts...)
		responses = append(responses, r...)
		env.logger().Info("survey fetched", "survey", id, "questions", len(q), "responses", len(r))
	}

	res := &Result{RowsRead: len(surveys) + len(questions) + len(options) + len(responses)}
	loads := []struct {
		table   string
		columns []string
		rows    []map[string]any
	}{
		{"survey", sgSurveyColumns, surveys},
		{"question", sgQuestionColumns, questions},
		{"option", sgOptionColumns, options},
		{"response", sgResponseColumns, responses},
	}
	for _, l := range loads {
		target := mergeTarget(qualify(o.p.Schema, l.table), "id")
		if err := env.upsert(ctx, o.p.WarehouseConnID, etl.CappedLiterals, target, etl.BatchFromMaps(l.columns, l.rows), res); err != nil {
			return nil, err
		}
	}
	return res, nil
}
