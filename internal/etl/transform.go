package etl

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/itchyny/gojq"
)

// ── Transformer ────────────────────────────────────────────
// Transformers modify records in-flight between source and destination.
// Each takes a record and returns a (possibly modified) record and whether
// to keep it.
//
// Pattern: Benthos processor chain.

// Transformer processes a single record.
// Returns (transformed record, keep). If keep is false, the record is dropped.
type Transformer interface {
	Transform(Record) (Record, bool)
}

// TransformerFunc adapts a plain function to the Transformer interface.
type TransformerFunc func(Record) (Record, bool)

func (f TransformerFunc) Transform(r Record) (Record, bool) { return f(r) }

// ── Built-in Transforms ────────────────────────────────────

// FilterTransform drops records where the given field does not match the value.
type FilterTransform struct {
	Field string
	Op    string // "eq" | "neq" | "gt" | "lt" | "contains"
	Value any
}

func (t *FilterTransform) Transform(r Record) (Record, bool) {
	v, ok := r.Data[t.Field]
	if !ok {
		return r, false
	}
	switch t.Op {
	case "eq":
		return r, fmt.Sprint(v) == fmt.Sprint(t.Value)
	case "neq":
		return r, fmt.Sprint(v) != fmt.Sprint(t.Value)
	case "contains":
		return r, strings.Contains(fmt.Sprint(v), fmt.Sprint(t.Value))
	case "gt":
		return r, toFloat(v) > toFloat(t.Value)
	case "lt":
		return r, toFloat(v) < toFloat(t.Value)
	default:
		return r, true
	}
}

// WhereTransform keeps records for which a boolean expression holds.
// Record fields are the expression environment, e.g. `status == "active" && score > 3`.
type WhereTransform struct {
	program *vm.Program
}

// NewWhereTransform compiles a boolean expression.
func NewWhereTransform(condition string) (*WhereTransform, error) {
	p, err := expr.Compile(condition, expr.AsBool(), expr.AllowUndefinedVariables())
	if err != nil {
		return nil, fmt.Errorf("where %q: %w", condition, err)
	}
	return &WhereTransform{program: p}, nil
}

func (t *WhereTransform) Transform(r Record) (Record, bool) {
	out, err := expr.Run(t.program, r.Data)
	if err != nil {
		return r, false
	}
	keep, _ := out.(bool)
	return r, keep
}

// RenameTransform renames fields in a record.
type RenameTransform struct {
	Mapping map[string]string // oldName → newName
}

func (t *RenameTransform) Transform(r Record) (Record, bool) {
	for old, renamed := range t.Mapping {
		if v, ok := r.Data[old]; ok {
			r.Data[renamed] = v
			delete(r.Data, old)
		}
	}
	return r, true
}

// SelectTransform keeps only the specified fields.
type SelectTransform struct {
	Fields []string
}

func (t *SelectTransform) Transform(r Record) (Record, bool) {
	filtered := make(map[string]any, len(t.Fields))
	for _, f := range t.Fields {
		if v, ok := r.Data[f]; ok {
			filtered[f] = v
		}
	}
	r.Data = filtered
	return r, true
}

// DedupeTransform drops records with duplicate values for the given key.
type DedupeTransform struct {
	Key  string
	seen map[string]bool
}

func NewDedupeTransform(key string) *DedupeTransform {
	return &DedupeTransform{Key: key, seen: make(map[string]bool)}
}

func (t *DedupeTransform) Transform(r Record) (Record, bool) {
	v := fmt.Sprint(r.Data[t.Key])
	if t.seen[v] {
		return r, false
	}
	t.seen[v] = true
	return r, true
}

// ComputeTransform adds or overwrites fields using expressions evaluated
// against the record, e.g. `first_name + " " + last_name` or `amount * 100`.
type ComputeTransform struct {
	Columns []ComputeColumn
}

type ComputeColumn struct {
	Name    string
	program *vm.Program
}

// NewComputeColumn compiles the expression for one computed column.
func NewComputeColumn(name, expression string) (ComputeColumn, error) {
	p, err := expr.Compile(expression, expr.AllowUndefinedVariables())
	if err != nil {
		return ComputeColumn{}, fmt.Errorf("compute %s: %w", name, err)
	}
	return ComputeColumn{Name: name, program: p}, nil
}

func (t *ComputeTransform) Transform(r Record) (Record, bool) {
	for _, col := range t.Columns {
		v, err := expr.Run(col.program, r.Data)
		if err != nil {
			v = nil
		}
		r.Data[col.Name] = v
	}
	return r, true
}

// FlattenTransform lifts values out of a nested field using jq paths.
// Fields maps a jq path (".address.city") to the output column name.
type FlattenTransform struct {
	SourceField string
	Fields      map[string]string
	queries     map[string]*gojq.Code
}

// NewFlattenTransform compiles every path.
func NewFlattenTransform(source string, fields map[string]string) (*FlattenTransform, error) {
	t := &FlattenTransform{SourceField: source, Fields: fields, queries: map[string]*gojq.Code{}}
	for path := range fields {
		code, err := compileJQ(path)
		if err != nil {
			return nil, err
		}
		t.queries[path] = code
	}
	return t, nil
}

func (t *FlattenTransform) Transform(r Record) (Record, bool) {
	nested, ok := r.Data[t.SourceField]
	if !ok {
		return r, true
	}
	nested = normalizeJSON(nested)
	for path, alias := range t.Fields {
		if alias == "" {
			alias = strings.ReplaceAll(strings.TrimPrefix(path, "."), ".", "_")
		}
		vals := RunJQ(t.queries[path], nested)
		switch len(vals) {
		case 0:
			r.Data[alias] = nil
		case 1:
			r.Data[alias] = vals[0]
		default:
			r.Data[alias] = vals
		}
	}
	return r, true
}

// SortTransform sorts all collected records by a field.
// This is a batch transform; the engine applies it after the streaming phase.
type SortTransform struct {
	Field     string
	Direction string // "asc" | "desc"
}

func (t *SortTransform) Transform(r Record) (Record, bool) {
	return r, true
}

// LimitTransform caps the number of records.
type LimitTransform struct {
	Count int
	seen  int
}

func NewLimitTransform(count int) *LimitTransform {
	return &LimitTransform{Count: count}
}

func (t *LimitTransform) Transform(r Record) (Record, bool) {
	t.seen++
	return r, t.seen <= t.Count
}

// TypeCastTransform converts a field's value to a target type.
type TypeCastTransform struct {
	Field    string
	CastType string // "number" | "string" | "bool"
}

func (t *TypeCastTransform) Transform(r Record) (Record, bool) {
	v, ok := r.Data[t.Field]
	if !ok {
		return r, true
	}
	switch t.CastType {
	case "number":
		r.Data[t.Field] = toFloat(v)
	case "string":
		r.Data[t.Field] = fmt.Sprint(v)
	case "bool":
		r.Data[t.Field] = toBool(v)
	}
	return r, true
}

func toBool(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		lower := strings.ToLower(b)
		return lower == "true" || lower == "yes" || lower == "1"
	case float64:
		return b != 0
	case int:
		return b != 0
	default:
		return false
	}
}

// ── jq helpers ─────────────────────────────────────────────

func compileJQ(query string) (*gojq.Code, error) {
	parsed, err := gojq.Parse(query)
	if err != nil {
		return nil, fmt.Errorf("parse jq %q: %w", query, err)
	}
	code, err := gojq.Compile(parsed)
	if err != nil {
		return nil, fmt.Errorf("compile jq %q: %w", query, err)
	}
	return code, nil
}

// CompileJQ is exported for sources that extract rows with a jq query.
func CompileJQ(query string) (*gojq.Code, error) { return compileJQ(query) }

// RunJQ collects every non-error output of code applied to v.
func RunJQ(code *gojq.Code, v any) []any {
	var out []any
	iter := code.Run(v)
	for {
		x, ok := iter.Next()
		if !ok {
			break
		}
		if _, isErr := x.(error); isErr {
			continue
		}
		out = append(out, x)
	}
	return out
}

// normalizeJSON converts arbitrary Go values to the map/slice/float shapes gojq accepts.
func normalizeJSON(v any) any {
	switch v.(type) {
	case map[string]any, []any, string, float64, bool, nil:
		return v
	}
	b, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if json.Unmarshal(b, &out) != nil {
		return v
	}
	return out
}

// ── Batch Transforms ──────────────────────────────────────

// ApplyBatchSort sorts records if a SortTransform exists in the chain.
func ApplyBatchSort(records []Record, ts []Transformer) []Record {
	for _, t := range ts {
		if st, ok := t.(*SortTransform); ok && st.Field != "" {
			sorted := make([]Record, len(records))
			copy(sorted, records)
			dir := 1
			if st.Direction == "desc" {
				dir = -1
			}
			sort.SliceStable(sorted, func(i, j int) bool {
				return compareValues(sorted[i].Data[st.Field], sorted[j].Data[st.Field])*dir < 0
			})
			return sorted
		}
	}
	return records
}

func compareValues(a, b any) int {
	fa, aOk := toFloatSafe(a)
	fb, bOk := toFloatSafe(b)
	if aOk && bOk {
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

// ── Helpers ────────────────────────────────────────────────

// ApplyTransformers runs a chain of transformers on a record.
func ApplyTransformers(r Record, ts []Transformer) (Record, bool) {
	for _, t := range ts {
		var keep bool
		r, keep = t.Transform(r)
		if !keep {
			return r, false
		}
	}
	return r, true
}

func toFloatSafe(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func toFloat(v any) float64 {
	f, _ := toFloatSafe(v)
	return f
}
