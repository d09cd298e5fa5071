package etl

// ── Record ─────────────────────────────────────────────────
// Common intermediate data format.
// All sources and API hooks emit Records, all destinations consume Records.

// Field describes a single column in a dataset.
type Field struct {
	Name string `json:"name"`
	Type string `json:"type"` // "text" | "number" | "boolean" | "datetime"
}

// Schema describes the shape of records coming from a source.
type Schema struct {
	Fields []Field `json:"fields"`
}

// FieldNames returns an ordered list of field names.
func (s *Schema) FieldNames() []string {
	names := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		names[i] = f.Name
	}
	return names
}

// Record is a single row of data flowing through the pipeline.
type Record struct {
	Data map[string]any `json:"data"`
}

// NewRecord wraps a map as a Record.
func NewRecord(data map[string]any) Record {
	if data == nil {
		data = map[string]any{}
	}
	return Record{Data: data}
}

// ── Batch ──────────────────────────────────────────────────
// A Batch is the unit handed to a destination: one table's worth of rows
// with a fixed column order. Warehouse inserts are positional, so Columns
// must follow the destination table's column order.

// Batch is an ordered set of records sharing one column list.
type Batch struct {
	Columns []string
	Records []Record
}

// NewBatch creates a batch with the given column order.
func NewBatch(columns []string, records ...Record) *Batch {
	return &Batch{Columns: columns, Records: records}
}

// BatchFromMaps builds a batch from plain maps.
func BatchFromMaps(columns []string, rows []map[string]any) *Batch {
	b := &Batch{Columns: columns, Records: make([]Record, 0, len(rows))}
	for _, r := range rows {
		b.Records = append(b.Records, NewRecord(r))
	}
	return b
}

// Add appends a record.
func (b *Batch) Add(r Record) {
	b.Records = append(b.Records, r)
}

// Len returns the number of records.
func (b *Batch) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Records)
}

// Row returns the i-th record's values in column order. Missing keys come
// back as nil and are written as NULL.
func (b *Batch) Row(i int) []any {
	rec := b.Records[i]
	out := make([]any, len(b.Columns))
	for j, c := range b.Columns {
		out[j] = rec.Data[c]
	}
	return out
}

// Schema derives a schema from the column list.
func (b *Batch) Schema() *Schema {
	fields := make([]Field, len(b.Columns))
	for i, c := range b.Columns {
		fields[i] = Field{Name: c, Type: "text"}
	}
	return &Schema{Fields: fields}
}
