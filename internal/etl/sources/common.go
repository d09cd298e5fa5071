package sources

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"saasloader/internal/etl"
)

// ── Shared helpers ─────────────────────────────────────────

func cfgString(cfg etl.SourceConfig, key, def string) string {
	if v, ok := cfg[key]; ok && v != nil {
		if s := fmt.Sprint(v); s != "" {
			return s
		}
	}
	return def
}

func cfgBool(cfg etl.SourceConfig, key string, def bool) bool {
	switch v := cfg[key].(type) {
	case bool:
		return v
	case string:
		return strings.ToLower(v) != "false"
	}
	return def
}

// toRecords converts a decoded JSON value into a slice of Records.
func toRecords(raw any) []etl.Record {
	switch v := raw.(type) {
	case []any:
		records := make([]etl.Record, 0, len(v))
		for _, item := range v {
			if m, ok := item.(map[string]any); ok {
				records = append(records, etl.Record{Data: flattenMap(m)})
			}
		}
		return records
	case map[string]any:
		// Single object → single record.
		return []etl.Record{{Data: flattenMap(v)}}
	default:
		return nil
	}
}

// flattenMap keeps scalar values and serializes nested objects/arrays as JSON strings.
func flattenMap(m map[string]any) map[string]any {
	flat := make(map[string]any, len(m))
	for k, v := range m {
		switch v.(type) {
		case string, float64, bool, nil, json.Number:
			flat[k] = v
		default:
			b, _ := json.Marshal(v)
			flat[k] = string(b)
		}
	}
	return flat
}

// inferSchema infers a Schema from a slice of Records, fields sorted by name.
func inferSchema(records []etl.Record) *etl.Schema {
	fieldSet := make(map[string]string) // name → type
	for _, rec := range records {
		for k, v := range rec.Data {
			if _, exists := fieldSet[k]; !exists {
				fieldSet[k] = inferType(v)
			}
		}
	}

	names := make([]string, 0, len(fieldSet))
	for name := range fieldSet {
		names = append(names, name)
	}
	sort.Strings(names)

	schema := &etl.Schema{}
	for _, name := range names {
		schema.Fields = append(schema.Fields, etl.Field{Name: name, Type: fieldSet[name]})
	}
	return schema
}

func inferType(v any) string {
	if v == nil {
		return "text"
	}
	if _, ok := v.(json.Number); ok {
		return "number"
	}
	switch reflect.TypeOf(v).Kind() {
	case reflect.Float64, reflect.Float32, reflect.Int, reflect.Int64:
		return "number"
	case reflect.Bool:
		return "boolean"
	default:
		return "text"
	}
}

// readDelimited parses delimited text. Without a header row, columns are
// named col_1, col_2, ...
func readDelimited(r io.Reader, delimiter string, hasHeader bool) ([]string, [][]string, error) {
	reader := csv.NewReader(r)
	if delimiter != "" {
		reader.Comma = []rune(delimiter)[0]
	}
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("parse csv: %w", err)
	}
	if len(records) == 0 {
		return nil, nil, fmt.Errorf("empty csv input")
	}

	if hasHeader {
		return records[0], records[1:], nil
	}
	headers := make([]string, len(records[0]))
	for i := range headers {
		headers[i] = fmt.Sprintf("col_%d", i+1)
	}
	return headers, records, nil
}

// rowsToRecords pairs each row with the headers, inferring scalar types.
func rowsToRecords(headers []string, rows [][]string) []etl.Record {
	out := make([]etl.Record, 0, len(rows))
	for _, row := range rows {
		data := make(map[string]any, len(headers))
		for j, h := range headers {
			if j < len(row) {
				data[h] = inferCSVValue(row[j])
			}
		}
		out = append(out, etl.Record{Data: data})
	}
	return out
}

// inferCSVValue tries to parse a string as a number or bool.
func inferCSVValue(s string) any {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	switch strings.ToLower(s) {
	case "true", "yes":
		return true
	case "false", "no":
		return false
	}
	return s
}

func headerSchema(headers []string) *etl.Schema {
	schema := &etl.Schema{Fields: make([]etl.Field, len(headers))}
	for i, h := range headers {
		schema.Fields[i] = etl.Field{Name: h, Type: "text"}
	}
	return schema
}

// emit streams records until done or ctx is cancelled.
func emit(out chan<- etl.Record, done <-chan struct{}, records []etl.Record) bool {
	for _, rec := range records {
		select {
		case out <- rec:
		case <-done:
			return false
		}
	}
	return true
}
