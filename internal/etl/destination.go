package etl

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"saasloader/internal/domain"
)

// ── Destination ────────────────────────────────────────────
// A Destination writes a Batch into a target table.
//
// Pattern: Singer target protocol.

// LoadMode determines how records are written to the destination.
type LoadMode string

const (
	LoadMerge   LoadMode = "merge"   // delete rows matching the key, insert fresh
	LoadReplace LoadMode = "replace" // build a staging copy and swap it in
	LoadAppend  LoadMode = "append"  // add rows without deleting existing
)

// ParseLoadMode validates a mode string. Empty means merge.
func ParseLoadMode(s string) (LoadMode, error) {
	switch LoadMode(strings.ToLower(s)) {
	case "", LoadMerge:
		return LoadMerge, nil
	case LoadReplace:
		return LoadReplace, nil
	case LoadAppend:
		return LoadAppend, nil
	}
	return "", fmt.Errorf("unknown load mode: %q", s)
}

// Target describes the destination table of a batch.
type Target struct {
	Schema     string
	Table      string
	PrimaryKey []string
	Mode       LoadMode
	Owner      string // replace mode only, postgres family

	// Positional inserts values in batch column order without naming the
	// columns, so a batch from a file header matches the table by position.
	Positional bool
}

// QualifiedName returns schema.table, or the bare table without a schema.
func (t Target) QualifiedName() string {
	if t.Schema == "" {
		return t.Table
	}
	return t.Schema + "." + t.Table
}

func (t Target) validate() error {
	if t.Table == "" {
		return fmt.Errorf("target table is required")
	}
	if t.Mode == LoadMerge && len(t.PrimaryKey) == 0 {
		return fmt.Errorf("merge into %s requires a primary key", t.QualifiedName())
	}
	return nil
}

// Destination writes records to a target system.
type Destination interface {
	Write(ctx context.Context, target Target, batch *Batch) (int, error)
}

// TableLocker serializes writers on the same target.
type TableLocker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// ── Warehouse Destination ──────────────────────────────────
// Implements the staging-table upsert:
//
//	create staging → insert tuples → delete matches → insert from staging → drop
//
// or, in replace mode, builds a permanent staging copy and renames it over
// the destination. All statements run in one transaction.

// WarehouseWriter implements Destination for SQL warehouses.
type WarehouseWriter struct {
	DB        *sql.DB
	Driver    domain.DatabaseDriver
	Literals  LiteralOptions
	Locker    TableLocker // optional
	ChunkSize int         // rows per staging INSERT, 0 = one statement
	Logger    *slog.Logger
}

func (w *WarehouseWriter) Write(ctx context.Context, target Target, batch *Batch) (int, error) {
	if target.Mode == "" {
		target.Mode = LoadMerge
	}
	if err := target.validate(); err != nil {
		return 0, err
	}
	if batch.Len() == 0 {
		w.logger().Info("empty batch, nothing to load", "table", target.QualifiedName())
		return 0, nil
	}
	if len(batch.Columns) == 0 {
		return 0, fmt.Errorf("batch for %s has no columns", target.QualifiedName())
	}

	if w.Locker != nil {
		unlock, err := w.Locker.Lock(ctx, "table:"+target.QualifiedName())
		if err != nil {
			return 0, fmt.Errorf("lock %s: %w", target.QualifiedName(), err)
		}
		defer unlock()
	}

	stmts, err := w.Statements(target, batch)
	if err != nil {
		return 0, err
	}

	w.logger().Info("upserting records", "rows", batch.Len(), "table", target.QualifiedName(), "mode", target.Mode)

	tx, err := w.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	for _, s := range stmts {
		if _, err := tx.ExecContext(ctx, s); err != nil {
			tx.Rollback()
			return 0, fmt.Errorf("upsert %s: %w", target.QualifiedName(), err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}

	w.logger().Info("upsert complete", "table", target.QualifiedName())
	return batch.Len(), nil
}

// Statements renders the SQL executed for a batch, in order.
func (w *WarehouseWriter) Statements(target Target, batch *Batch) ([]string, error) {
	if target.Mode == "" {
		target.Mode = LoadMerge
	}
	d := w.dialect()
	if d == nil {
		return nil, fmt.Errorf("unsupported warehouse driver: %s", w.Driver)
	}
	dest := target.QualifiedName()
	suffix := strings.ReplaceAll(uuid.New().String(), "-", "")[:12]

	switch target.Mode {
	case LoadAppend:
		return w.inserts(dest, target, batch), nil

	case LoadReplace:
		staging := dest + "_staging_" + suffix
		stmts := []string{d.createCopy(staging, dest)}
		stmts = append(stmts, w.inserts(staging, target, batch)...)
		stmts = append(stmts,
			"drop table if exists "+dest,
			d.rename(staging, target),
		)
		if target.Owner != "" && w.Driver.PostgresFamily() {
			stmts = append(stmts, fmt.Sprintf("alter table %s owner to %s", dest, target.Owner))
		}
		return stmts, nil

	case LoadMerge:
		staging := "stg_" + target.Table + "_" + suffix
		stmts := []string{d.createTemp(staging, dest)}
		stmts = append(stmts, w.inserts(staging, target, batch)...)
		stmts = append(stmts,
			d.deleteMatches(dest, target.Table, staging, target.PrimaryKey),
			fmt.Sprintf("insert into %s select * from %s", dest, staging),
			d.dropTemp(staging),
		)
		return stmts, nil
	}
	return nil, fmt.Errorf("unknown load mode: %q", target.Mode)
}

// inserts renders the multi-row INSERT statements for a batch.
func (w *WarehouseWriter) inserts(table string, target Target, batch *Batch) []string {
	chunk := w.ChunkSize
	if chunk <= 0 {
		chunk = batch.Len()
	}
	head := fmt.Sprintf("insert into %s (%s) values ", table, strings.Join(batch.Columns, ", "))
	if target.Positional {
		head = fmt.Sprintf("insert into %s values ", table)
	}

	var stmts []string
	for start := 0; start < batch.Len(); start += chunk {
		end := min(start+chunk, batch.Len())
		tuples := make([]string, 0, end-start)
		for i := start; i < end; i++ {
			tuples = append(tuples, w.Literals.Tuple(batch.Row(i)))
		}
		stmts = append(stmts, head+strings.Join(tuples, ","))
	}
	return stmts
}

func (w *WarehouseWriter) logger() *slog.Logger {
	if w.Logger != nil {
		return w.Logger
	}
	return slog.Default()
}

// ── Statement variants ─────────────────────────────────────
// The procedure is the same on every warehouse; only the DDL spelling of
// "staging table shaped like the destination" and the delete-join differ.

type upsertDialect struct {
	createTemp    func(staging, dest string) string
	createCopy    func(staging, dest string) string
	dropTemp      func(staging string) string
	rename        func(staging string, t Target) string
	deleteMatches func(dest, table, staging string, keys []string) string
}

func (w *WarehouseWriter) dialect() *upsertDialect {
	switch {
	case w.Driver.PostgresFamily():
		return &upsertDialect{
			createTemp: func(s, d string) string { return fmt.Sprintf("create temp table %s (like %s)", s, d) },
			createCopy: func(s, d string) string { return fmt.Sprintf("create table %s (like %s)", s, d) },
			dropTemp:   func(s string) string { return "drop table " + s },
			rename: func(s string, t Target) string {
				return fmt.Sprintf("alter table %s rename to %s", s, t.Table)
			},
			deleteMatches: func(dest, _, s string, keys []string) string {
				return fmt.Sprintf("delete from %s using %s where %s", dest, s, keyJoin(dest, s, keys))
			},
		}
	case w.Driver == domain.DatabaseDriverMySQL:
		return &upsertDialect{
			createTemp: func(s, d string) string { return fmt.Sprintf("create temporary table %s like %s", s, d) },
			createCopy: func(s, d string) string { return fmt.Sprintf("create table %s like %s", s, d) },
			dropTemp:   func(s string) string { return "drop temporary table " + s },
			rename: func(s string, t Target) string {
				return fmt.Sprintf("rename table %s to %s", s, t.QualifiedName())
			},
			deleteMatches: func(dest, _, s string, keys []string) string {
				return fmt.Sprintf("delete tgt from %s as tgt join %s on %s", dest, s, keyJoin("tgt", s, keys))
			},
		}
	case w.Driver == domain.DatabaseDriverSQLite:
		return &upsertDialect{
			createTemp: func(s, d string) string { return fmt.Sprintf("create temp table %s as select * from %s where 0", s, d) },
			createCopy: func(s, d string) string { return fmt.Sprintf("create table %s as select * from %s where 0", s, d) },
			dropTemp:   func(s string) string { return "drop table " + s },
			rename: func(s string, t Target) string {
				return fmt.Sprintf("alter table %s rename to %s", s, t.Table)
			},
			deleteMatches: func(dest, table, s string, keys []string) string {
				return fmt.Sprintf("delete from %s where exists (select 1 from %s where %s)", dest, s, keyJoin(table, s, keys))
			},
		}
	}
	return nil
}

func keyJoin(left, right string, keys []string) string {
	conds := make([]string, len(keys))
	for i, k := range keys {
		conds[i] = fmt.Sprintf("%s.%s = %s.%s", left, k, right, k)
	}
	return strings.Join(conds, " and ")
}

// ── MongoDB Destination ────────────────────────────────────

// MongoWriter implements Destination for a MongoDB database. The target
// table names the collection; the schema is ignored.
type MongoWriter struct {
	DB     *mongo.Database
	Logger *slog.Logger
}

func (w *MongoWriter) Write(ctx context.Context, target Target, batch *Batch) (int, error) {
	if target.Mode == "" {
		target.Mode = LoadMerge
	}
	if err := target.validate(); err != nil {
		return 0, err
	}
	if batch.Len() == 0 {
		return 0, nil
	}
	coll := w.DB.Collection(target.Table)

	docs := make([]bson.D, batch.Len())
	for i := range batch.Records {
		row := batch.Row(i)
		doc := make(bson.D, 0, len(row))
		for j, c := range batch.Columns {
			doc = append(doc, bson.E{Key: c, Value: row[j]})
		}
		docs[i] = doc
	}

	switch target.Mode {
	case LoadReplace:
		if _, err := coll.DeleteMany(ctx, bson.D{}); err != nil {
			return 0, fmt.Errorf("clear %s: %w", target.Table, err)
		}
		fallthrough
	case LoadAppend:
		many := make([]any, len(docs))
		for i, d := range docs {
			many[i] = d
		}
		res, err := coll.InsertMany(ctx, many)
		if err != nil {
			return 0, fmt.Errorf("insert %s: %w", target.Table, err)
		}
		return len(res.InsertedIDs), nil
	}

	models := make([]mongo.WriteModel, 0, len(docs))
	for i, d := range docs {
		filter := bson.D{}
		for _, k := range target.PrimaryKey {
			filter = append(filter, bson.E{Key: k, Value: batch.Records[i].Data[k]})
		}
		models = append(models, mongo.NewReplaceOneModel().SetFilter(filter).SetReplacement(d).SetUpsert(true))
	}
	res, err := coll.BulkWrite(ctx, models)
	if err != nil {
		return 0, fmt.Errorf("upsert %s: %w", target.Table, err)
	}
	if w.Logger != nil {
		w.Logger.Info("mongo upsert complete", "collection", target.Table,
			"matched", res.MatchedCount, "upserted", res.UpsertedCount)
	}
	return batch.Len(), nil
}
