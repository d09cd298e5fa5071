package operators

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"math"
	"unicode/utf8"
)

// ── S3 SQL script → warehouse → Lambda → S3 ────────────────

type lambdaParams struct {
	s3Query         `yaml:",inline"`
	WarehouseConnID string `yaml:"warehouse_conn_id"`
	DestBucket      string `yaml:"dest_s3_bucket"`
	DestKey         string `yaml:"dest_s3_key"`
	FunctionName    string `yaml:"function_name"`
	Region          string `yaml:"aws_region"`
	Delimiter       string `yaml:"file_delimiter"`
}

type s3QueryToLambda struct {
	p     lambdaParams
	comma rune
}

func init() {
	define("s3_query_to_lambda",
		"Run a SQL file from S3 against the warehouse, send the rows through a Lambda function and store its answer in S3 as delimited text",
		lambdaParams{
			s3Query:         s3Query{AWSConnID: "aws_default"},
			WarehouseConnID: "redshift_default",
			Delimiter:       "|",
		},
		func(p *lambdaParams) (Operator, error) {
			if err := p.validate(); err != nil {
				return nil, err
			}
			if err := required("dest_s3_bucket", p.DestBucket, "dest_s3_key", p.DestKey, "function_name", p.FunctionName); err != nil {
				return nil, err
			}
			comma, n := utf8.DecodeRuneInString(p.Delimiter)
			if n == 0 || n != len(p.Delimiter) {
				return nil, fmt.Errorf("file_delimiter must be a single character, got %q", p.Delimiter)
			}
			return &s3QueryToLambda{p: *p, comma: comma}, nil
		})
}

func (o *s3QueryToLambda) Run(ctx context.Context, env *Env) (*Result, error) {
	log := env.logger()
	query, err := o.p.read(ctx, env)
	if err != nil {
		return nil, err
	}
	wh, err := env.Resources.Warehouse(ctx, o.p.WarehouseConnID)
	if err != nil {
		return nil, fmt.Errorf("open warehouse %s: %w", o.p.WarehouseConnID, err)
	}
	_, rows, err := wh.QueryRows(ctx, query)
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		for j, v := range row {
			row[j] = finite(v)
		}
	}
	if rows == nil {
		rows = [][]any{}
	}
	payload, err := json.Marshal(map[string]any{"input": rows})
	if err != nil {
		return nil, fmt.Errorf("encode lambda payload: %w", err)
	}

	fn, err := env.Resources.Lambda(ctx, o.p.AWSConnID, o.p.Region)
	if err != nil {
		return nil, fmt.Errorf("open lambda %s: %w", o.p.AWSConnID, err)
	}
	log.Info("invoking lambda", "function", o.p.FunctionName, "rows", len(rows))
	answer, err := fn.Invoke(ctx, o.p.FunctionName, payload)
	if err != nil {
		return nil, err
	}
	header, records, err := decodeRecords(answer)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", o.p.FunctionName, err)
	}
	if len(records) == 0 {
		log.Warn("lambda returned no records", "function", o.p.FunctionName)
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Comma = o.comma
	if len(header) > 0 {
		w.Write(header)
	}
	w.WriteAll(records)
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("write delimited file: %w", err)
	}

	store, err := env.Resources.ObjectStore(ctx, o.p.AWSConnID)
	if err != nil {
		return nil, fmt.Errorf("open object store %s: %w", o.p.AWSConnID, err)
	}
	if err := store.PutObject(ctx, o.p.DestBucket, o.p.DestKey, buf.Bytes()); err != nil {
		return nil, err
	}
	res := &Result{RowsRead: len(rows)}
	res.wrote("s3://"+o.p.DestBucket+"/"+o.p.DestKey, len(records))
	return res, nil
}

// finite maps infinities to 0 and NaN to null, which JSON cannot carry.
func finite(v any) any {
	f, ok := v.(float64)
	switch {
	case !ok:
		return v
	case math.IsInf(f, 0):
		return 0
	case math.IsNaN(f):
		return nil
	}
	return v
}

// decodeRecords reads a JSON array of objects. The first object's keys, in
// document order, become the header; later objects are laid out to match.
func decodeRecords(data []byte) ([]string, [][]string, error) {
	var objects []json.RawMessage
	if err := json.Unmarshal(data, &objects); err != nil {
		return nil, nil, fmt.Errorf("response is not a JSON array: %w", err)
	}
	var (
		header  []string
		records [][]string
	)
	for i, raw := range objects {
		keys, values, err := orderedObject(raw)
		if err != nil {
			return nil, nil, fmt.Errorf("record %d: %w", i, err)
		}
		if i == 0 {
			header = keys
		}
		row := make([]string, len(header))
		for j, k := range header {
			row[j] = values[k]
		}
		records = append(records, row)
	}
	return header, records, nil
}

func orderedObject(raw json.RawMessage) ([]string, map[string]string, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, nil, fmt.Errorf("expected an object, got %s", raw)
	}
	var keys []string
	values := map[string]string{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, nil, err
		}
		key := tok.(string)
		var v json.RawMessage
		if err := dec.Decode(&v); err != nil {
			return nil, nil, fmt.Errorf("%s: %w", key, err)
		}
		if _, seen := values[key]; !seen {
			keys = append(keys, key)
		}
		values[key] = cellText(v)
	}
	return keys, values, nil
}

func cellText(v json.RawMessage) string {
	switch {
	case string(v) == "null":
		return ""
	case len(v) > 0 && v[0] == '"':
		var s string
		if json.Unmarshal(v, &s) == nil {
			return s
		}
	}
	return string(v)
}
