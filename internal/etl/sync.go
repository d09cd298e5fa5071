package etl

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// ── SyncJob ────────────────────────────────────────────────
// Orchestrates: source.Read → transform chain → destination.Write.
// Backs the generic "sync" operator; the SaaS loaders build their
// batches directly.
//
// Pattern: Airbyte sync / Singer tap→target pipeline.

// SyncJob holds the configuration for a single generic sync.
type SyncJob struct {
	ID         string            `json:"id" yaml:"-"`
	SourceType string            `json:"sourceType" yaml:"source_type"`
	SourceCfg  SourceConfig      `json:"sourceConfig" yaml:"source"`
	Transforms []TransformConfig `json:"transforms,omitempty" yaml:"transforms"`
	Schema     string            `json:"schema" yaml:"schema"`
	Table      string            `json:"table" yaml:"table"`
	PrimaryKey []string          `json:"primaryKey" yaml:"primary_key"`
	Columns    []string          `json:"columns,omitempty" yaml:"columns"` // destination column order
	Mode       LoadMode          `json:"mode" yaml:"mode"`
	DedupeKey  string            `json:"dedupeKey,omitempty" yaml:"dedupe_key"`
}

// Target returns the destination descriptor of the job.
func (j *SyncJob) Target() Target {
	return Target{Schema: j.Schema, Table: j.Table, PrimaryKey: j.PrimaryKey, Mode: j.Mode}
}

// TransformConfig is a declarative transform definition.
type TransformConfig struct {
	Type   string         `json:"type" yaml:"type"` // "filter" | "where" | "rename" | "select" | "compute" | "sort" | "limit" | "type_cast" | "flatten"
	Config map[string]any `json:"config" yaml:"config"`
}

// SyncResult is the outcome of running a sync job.
type SyncResult struct {
	JobID       string        `json:"jobId"`
	Status      string        `json:"status"` // "success" | "error"
	RowsRead    int           `json:"rowsRead"`
	RowsWritten int           `json:"rowsWritten"`
	Duration    time.Duration `json:"duration"`
	Error       string        `json:"error,omitempty"`
}

// ── Engine ─────────────────────────────────────────────────
// The Engine orchestrates sync execution.

// Engine runs sync jobs using the registered sources and a destination.
type Engine struct {
	Dest Destination
}

func fail(result *SyncResult, start time.Time, err error) (*SyncResult, error) {
	result.Status = "error"
	result.Error = err.Error()
	result.Duration = time.Since(start)
	return result, err
}

// RunSync executes a sync job end-to-end.
func (e *Engine) RunSync(ctx context.Context, job *SyncJob) (*SyncResult, error) {
	start := time.Now()
	result := &SyncResult{JobID: job.ID}

	// 1. Resolve source from registry.
	source, err := GetSource(job.SourceType)
	if err != nil {
		return fail(result, start, err)
	}

	// 2. Build transformer chain before touching the source so bad
	// expressions fail fast.
	transformers, err := BuildTransformers(job.Transforms, job.DedupeKey)
	if err != nil {
		return fail(result, start, err)
	}

	// 3. Discover schema.
	schema, err := source.Discover(ctx, job.SourceCfg)
	if err != nil {
		return fail(result, start, fmt.Errorf("discover: %w", err))
	}

	// 4. Collect + transform records.
	recCh, errCh := source.Read(ctx, job.SourceCfg)
	var records []Record
	for rec := range recCh {
		result.RowsRead++
		transformed, keep := ApplyTransformers(rec, transformers)
		if keep {
			records = append(records, transformed)
		}
	}
	records = ApplyBatchSort(records, transformers)

	if err := <-errCh; err != nil {
		return fail(result, start, fmt.Errorf("read: %w", err))
	}

	// 5. Column order: explicit list, else derived from the records.
	columns := job.Columns
	if len(columns) == 0 {
		columns = deriveSchemaFromRecords(records, schema).FieldNames()
	}

	// 6. Write to destination.
	written, err := e.Dest.Write(ctx, job.Target(), NewBatch(columns, records...))
	if err != nil {
		return fail(result, start, fmt.Errorf("write: %w", err))
	}

	result.Status = "success"
	result.RowsWritten = written
	result.Duration = time.Since(start)
	return result, nil
}

// Preview executes only the source read phase and returns up to maxRows records.
func (e *Engine) Preview(ctx context.Context, sourceType string, cfg SourceConfig, maxRows int) ([]Record, *Schema, error) {
	source, err := GetSource(sourceType)
	if err != nil {
		return nil, nil, err
	}

	schema, err := source.Discover(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("discover: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	recCh, errCh := source.Read(ctx, cfg)

	var records []Record
	for rec := range recCh {
		records = append(records, rec)
		if len(records) >= maxRows {
			cancel()
			break
		}
	}

	// Drain remaining and check for errors.
	go func() {
		for range recCh {
		}
	}()
	if err := <-errCh; err != nil && ctx.Err() == nil {
		return records, schema, err
	}

	return records, schema, nil
}

// BuildTransformers converts declarative TransformConfig into Transformer instances.
func BuildTransformers(configs []TransformConfig, dedupeKey string) ([]Transformer, error) {
	var ts []Transformer

	for _, tc := range configs {
		switch tc.Type {
		case "filter":
			field, _ := tc.Config["field"].(string)
			op, _ := tc.Config["op"].(string)
			if field == "" || op == "" {
				return nil, fmt.Errorf("filter needs field and op")
			}
			ts = append(ts, &FilterTransform{Field: field, Op: op, Value: tc.Config["value"]})

		case "where":
			cond, _ := tc.Config["condition"].(string)
			w, err := NewWhereTransform(cond)
			if err != nil {
				return nil, err
			}
			ts = append(ts, w)

		case "rename":
			mapping, ok := tc.Config["mapping"].(map[string]any)
			if !ok {
				return nil, fmt.Errorf("rename needs a mapping")
			}
			m := make(map[string]string)
			for k, v := range mapping {
				m[k] = fmt.Sprint(v)
			}
			ts = append(ts, &RenameTransform{Mapping: m})

		case "select":
			ts = append(ts, &SelectTransform{Fields: stringList(tc.Config["fields"])})

		case "compute":
			columns, _ := tc.Config["columns"].([]any)
			var cols []ComputeColumn
			for _, c := range columns {
				cm, ok := c.(map[string]any)
				if !ok {
					continue
				}
				name, _ := cm["name"].(string)
				expression, _ := cm["expression"].(string)
				if name == "" || expression == "" {
					continue
				}
				col, err := NewComputeColumn(name, expression)
				if err != nil {
					return nil, err
				}
				cols = append(cols, col)
			}
			if len(cols) > 0 {
				ts = append(ts, &ComputeTransform{Columns: cols})
			}

		case "sort":
			field, _ := tc.Config["field"].(string)
			direction, _ := tc.Config["direction"].(string)
			if direction == "" {
				direction = "asc"
			}
			if field != "" {
				ts = append(ts, &SortTransform{Field: field, Direction: direction})
			}

		case "limit":
			if count := int(toFloat(tc.Config["count"])); count > 0 {
				ts = append(ts, NewLimitTransform(count))
			}

		case "type_cast":
			field, _ := tc.Config["field"].(string)
			castType, _ := tc.Config["cast_type"].(string)
			if field != "" && castType != "" {
				ts = append(ts, &TypeCastTransform{Field: field, CastType: castType})
			}

		case "flatten":
			sourceField, _ := tc.Config["source_field"].(string)
			fieldsRaw, _ := tc.Config["fields"].([]any)
			fields := make(map[string]string)
			for _, f := range fieldsRaw {
				if fm, ok := f.(map[string]any); ok {
					path, _ := fm["path"].(string)
					alias, _ := fm["alias"].(string)
					if path != "" {
						fields[path] = alias
					}
				}
			}
			if sourceField != "" && len(fields) > 0 {
				ft, err := NewFlattenTransform(sourceField, fields)
				if err != nil {
					return nil, err
				}
				ts = append(ts, ft)
			}

		default:
			return nil, fmt.Errorf("unknown transform type: %q", tc.Type)
		}
	}

	// Dedupe is always applied last if a key is specified.
	if dedupeKey != "" {
		ts = append(ts, NewDedupeTransform(dedupeKey))
	}

	return ts, nil
}

func stringList(v any) []string {
	switch x := v.(type) {
	case []string:
		return x
	case []any:
		out := make([]string, 0, len(x))
		for _, e := range x {
			out = append(out, fmt.Sprint(e))
		}
		return out
	}
	return nil
}

// deriveSchemaFromRecords builds a schema from the keys present in transformed
// records. Source field order comes first, then new keys in sorted order.
func deriveSchemaFromRecords(records []Record, sourceSchema *Schema) *Schema {
	typeMap := make(map[string]string)
	var ordered []string
	if sourceSchema != nil {
		for _, f := range sourceSchema.Fields {
			typeMap[f.Name] = f.Type
			ordered = append(ordered, f.Name)
		}
	}

	present := make(map[string]bool)
	for _, r := range records {
		for k := range r.Data {
			present[k] = true
		}
	}

	var fields []Field
	seen := make(map[string]bool)
	for _, name := range ordered {
		if present[name] {
			fields = append(fields, Field{Name: name, Type: typeMap[name]})
			seen[name] = true
		}
	}
	var extra []string
	for k := range present {
		if !seen[k] {
			extra = append(extra, k)
		}
	}
	sort.Strings(extra)
	for _, name := range extra {
		fields = append(fields, Field{Name: name, Type: "text"})
	}

	return &Schema{Fields: fields}
}
