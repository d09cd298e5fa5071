package operators

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/aws/aws-sdk-go-v2/aws"

	"saasloader/internal/etl"
)

// ── S3 SQL script → warehouse ──────────────────────────────

type s3QueryParams struct {
	WarehouseConnID string `yaml:"warehouse_conn_id"`
	AWSConnID       string `yaml:"aws_conn_id"`
	Bucket          string `yaml:"s3_bucket"`
	Key             string `yaml:"s3_key"`
	ProcessName     string `yaml:"process_name"`
	Autocommit      bool   `yaml:"autocommit"`
}

type s3QueryToWarehouse struct{ p s3QueryParams }

func init() {
	define("s3_query_to_warehouse",
		"Execute a SQL script stored in S3 against the warehouse",
		s3QueryParams{
			WarehouseConnID: "redshift_default",
			AWSConnID:       "aws_default",
			ProcessName:     "SQL",
			Autocommit:      true,
		},
		func(p *s3QueryParams) (Operator, error) {
			if err := required("s3_bucket", p.Bucket, "s3_key", p.Key); err != nil {
				return nil, err
			}
			return &s3QueryToWarehouse{p: *p}, nil
		})
}

func (o *s3QueryToWarehouse) Run(ctx context.Context, env *Env) (*Result, error) {
	log := env.logger()
	script, err := s3Query{AWSConnID: o.p.AWSConnID, Bucket: o.p.Bucket, Key: o.p.Key}.read(ctx, env)
	if err != nil {
		return nil, err
	}
	wh, err := env.Resources.Warehouse(ctx, o.p.WarehouseConnID)
	if err != nil {
		return nil, fmt.Errorf("open warehouse %s: %w", o.p.WarehouseConnID, err)
	}
	log.Info("executing query", "process", o.p.ProcessName, "autocommit", o.p.Autocommit)
	if err := wh.ExecScript(ctx, script, o.p.Autocommit); err != nil {
		return nil, fmt.Errorf("%s: %w", o.p.ProcessName, err)
	}
	log.Info("query complete", "process", o.p.ProcessName)
	return &Result{}, nil
}

// ── S3 delimited file → warehouse ──────────────────────────

type s3FileParams struct {
	WarehouseConnID string `yaml:"warehouse_conn_id"`
	AWSConnID       string `yaml:"aws_conn_id"`
	Bucket          string `yaml:"s3_bucket"`
	Key             string `yaml:"s3_key"`
	Delimiter       string `yaml:"file_delimiter"`
	TargetTable     string `yaml:"target_table"`
	PrimaryKey      string `yaml:"primary_key"`
}

type upsertS3File struct {
	p     s3FileParams
	comma rune
}

func init() {
	define("upsert_s3_file_to_warehouse",
		"Merge a delimited file with a header row from S3 into a warehouse table",
		s3FileParams{
			WarehouseConnID: "redshift_default",
			AWSConnID:       "aws_default",
			Delimiter:       ",",
		},
		func(p *s3FileParams) (Operator, error) {
			if err := required("s3_bucket", p.Bucket, "s3_key", p.Key,
				"target_table", p.TargetTable, "primary_key", p.PrimaryKey); err != nil {
				return nil, err
			}
			comma, size := utf8.DecodeRuneInString(p.Delimiter)
			if size == 0 || size != len(p.Delimiter) {
				return nil, fmt.Errorf("file_delimiter must be a single character, got %q", p.Delimiter)
			}
			return &upsertS3File{p: *p, comma: comma}, nil
		})
}

// parseDelimited reads a header row followed by data rows. Every value
// stays a string. Header names only label the batch columns; repeated
// names get a numeric suffix so no value is lost.
func parseDelimited(data []byte, comma rune) (*etl.Batch, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.Comma = comma
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("file is empty")
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	header = uniqueNames(header)
	batch := etl.NewBatch(header)
	for line := 2; ; line++ {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			return batch, nil
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		row := make(map[string]any, len(header))
		for i, col := range header {
			if i < len(rec) {
				row[col] = rec[i]
			}
		}
		batch.Add(etl.NewRecord(row))
	}
}

func uniqueNames(names []string) []string {
	seen := make(map[string]int, len(names))
	out := make([]string, len(names))
	for i, n := range names {
		seen[n]++
		if seen[n] > 1 {
			n = fmt.Sprintf("%s_%d", n, seen[n])
		}
		out[i] = n
	}
	return out
}

func (o *upsertS3File) Run(ctx context.Context, env *Env) (*Result, error) {
	store, err := env.Resources.ObjectStore(ctx, o.p.AWSConnID)
	if err != nil {
		return nil, fmt.Errorf("open object store %s: %w", o.p.AWSConnID, err)
	}
	data, err := store.ReadKey(ctx, o.p.Bucket, o.p.Key)
	if err != nil {
		return nil, err
	}
	batch, err := parseDelimited(data, o.comma)
	if err != nil {
		return nil, fmt.Errorf("s3://%s/%s: %w", o.p.Bucket, o.p.Key, err)
	}

	res := &Result{RowsRead: len(batch.Records)}
	env.logger().Info("upserting file", "records", len(batch.Records), "target", o.p.TargetTable)
	// Columns follow the table's order, whatever the header says.
	target := mergeTarget(o.p.TargetTable, o.p.PrimaryKey)
	target.Positional = true
	if err := env.upsert(ctx, o.p.WarehouseConnID, etl.CappedQuoteStrippedLiterals, target, batch, res); err != nil {
		return nil, err
	}
	return res, nil
}

// ── Warehouse → S3 UNLOAD ──────────────────────────────────

// Unload describes one Redshift UNLOAD statement.
type Unload struct {
	Query       string // select text, unescaped
	Bucket      string
	Key         string // full object prefix, e.g. "exports/users_query_"
	Credentials aws.Credentials
	IAMRole     string // used instead of Credentials when set
	Options     []string
}

// UnloadStatement renders u as SQL. Single quotes in the query are escaped
// with a backslash as UNLOAD requires.
func UnloadStatement(u Unload) string {
	var b strings.Builder
	fmt.Fprintf(&b, "UNLOAD ('%s')\nTO 's3://%s/%s'\n", strings.ReplaceAll(u.Query, "'", `\'`), u.Bucket, u.Key)
	if u.IAMRole != "" {
		fmt.Fprintf(&b, "iam_role '%s'", u.IAMRole)
	} else {
		fmt.Fprintf(&b, "with credentials\n'aws_access_key_id=%s;aws_secret_access_key=%s", u.Credentials.AccessKeyID, u.Credentials.SecretAccessKey)
		if u.Credentials.SessionToken != "" {
			fmt.Fprintf(&b, ";token=%s", u.Credentials.SessionToken)
		}
		b.WriteByte('\'')
	}
	for _, opt := range u.Options {
		b.WriteString("\n")
		b.WriteString(opt)
	}
	b.WriteString(";")
	return b.String()
}

// withParallelOff appends PARALLEL OFF unless an equivalent option exists.
func withParallelOff(options []string) []string {
	for _, o := range options {
		if strings.EqualFold(strings.Join(strings.Fields(o), " "), "PARALLEL OFF") {
			return options
		}
	}
	return append(append([]string{}, options...), "PARALLEL OFF")
}

// headerQuery selects the column names as a single literal row.
func headerQuery(headers []string) string {
	quoted := make([]string, len(headers))
	for i, h := range headers {
		quoted[i] = "'" + strings.ReplaceAll(h, "'", "") + "'"
	}
	return "select " + strings.Join(quoted, ", ")
}

type unloadParams struct {
	s3Query         `yaml:",inline"`
	WarehouseConnID string   `yaml:"warehouse_conn_id"`
	DestBucket      string   `yaml:"dest_s3_bucket"`
	DestKey         string   `yaml:"dest_s3_key"`
	UnloadOptions   []string `yaml:"unload_options"`
	Headers         []string `yaml:"headers"`
	IAMRole         string   `yaml:"iam_role"`
	Autocommit      bool     `yaml:"autocommit"`
}

type warehouseToS3Unload struct{ p unloadParams }

func init() {
	define("warehouse_to_s3_unload",
		"UNLOAD a query stored in S3 from Redshift to S3, optionally with a header file",
		unloadParams{
			s3Query:         s3Query{AWSConnID: "aws_default"},
			WarehouseConnID: "redshift_default",
		},
		func(p *unloadParams) (Operator, error) {
			if err := p.validate(); err != nil {
				return nil, err
			}
			if err := required("dest_s3_bucket", p.DestBucket, "dest_s3_key", p.DestKey); err != nil {
				return nil, err
			}
			if len(p.Headers) > 0 {
				p.UnloadOptions = withParallelOff(p.UnloadOptions)
			}
			return &warehouseToS3Unload{p: *p}, nil
		})
}

func (o *warehouseToS3Unload) Run(ctx context.Context, env *Env) (*Result, error) {
	log := env.logger()
	wh, err := env.Resources.Warehouse(ctx, o.p.WarehouseConnID)
	if err != nil {
		return nil, fmt.Errorf("open warehouse %s: %w", o.p.WarehouseConnID, err)
	}
	if !wh.Driver().PostgresFamily() {
		return nil, fmt.Errorf("UNLOAD needs a redshift connection, %s is %s", o.p.WarehouseConnID, wh.Driver())
	}
	store, err := env.Resources.ObjectStore(ctx, o.p.AWSConnID)
	if err != nil {
		return nil, fmt.Errorf("open object store %s: %w", o.p.AWSConnID, err)
	}
	query, err := o.p.read(ctx, env)
	if err != nil {
		return nil, err
	}

	var creds aws.Credentials
	if o.p.IAMRole == "" {
		if creds, err = store.Credentials(ctx); err != nil {
			return nil, fmt.Errorf("resolve aws credentials: %w", err)
		}
	}

	type part struct{ kind, query string }
	parts := []part{{"query", query}}
	if len(o.p.Headers) > 0 {
		parts = []part{{"header", headerQuery(o.p.Headers)}, {"query", query}}
	}
	res := &Result{}
	for _, pt := range parts {
		key := fmt.Sprintf("%s_%s_", o.p.DestKey, pt.kind)
		stmt := UnloadStatement(Unload{
			Query:       pt.query,
			Bucket:      o.p.DestBucket,
			Key:         key,
			Credentials: creds,
			IAMRole:     o.p.IAMRole,
			Options:     o.p.UnloadOptions,
		})
		log.Info("executing UNLOAD", "destination", "s3://"+o.p.DestBucket+"/"+key)
		if err := wh.ExecScript(ctx, stmt, o.p.Autocommit); err != nil {
			return nil, fmt.Errorf("unload %s: %w", pt.kind, err)
		}
		res.wrote("s3://"+o.p.DestBucket+"/"+key, 0)
	}
	log.Info("UNLOAD complete")
	return res, nil
}
