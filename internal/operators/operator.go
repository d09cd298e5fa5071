// Package operators implements the task types a config file can schedule.
// Each operator pulls from one system and pushes into another: SaaS APIs
// into the warehouse, warehouse query results into SaaS APIs, and S3
// objects into the warehouse or an inbox.
package operators

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"gopkg.in/yaml.v3"

	"saasloader/internal/cloud"
	"saasloader/internal/dbclient"
	"saasloader/internal/domain"
	"saasloader/internal/etl"
	"saasloader/internal/hooks/httpx"
	"saasloader/internal/mail"
)

// ── Operator ───────────────────────────────────────────────

// Operator is one configured unit of work. Operators hold only their
// parameters; every client is built inside Run.
type Operator interface {
	Run(ctx context.Context, env *Env) (*Result, error)
}

// Result summarizes a run.
type Result struct {
	RowsRead    int            `json:"rowsRead"`
	RowsWritten int            `json:"rowsWritten"`
	Tables      map[string]int `json:"tables,omitempty"` // rows written per destination
	Skipped     bool           `json:"skipped,omitempty"`
}

func (r *Result) wrote(table string, n int) {
	if r.Tables == nil {
		r.Tables = map[string]int{}
	}
	r.Tables[table] += n
	r.RowsWritten += n
}

// ObjectStore is the slice of S3 the operators use.
type ObjectStore interface {
	ReadKey(ctx context.Context, bucket, key string) ([]byte, error)
	ListKeys(ctx context.Context, bucket, prefix string) ([]string, error)
	PutObject(ctx context.Context, bucket, key string, body []byte) error
	Credentials(ctx context.Context) (aws.Credentials, error)
}

// FunctionInvoker runs a Lambda function synchronously.
type FunctionInvoker interface {
	Invoke(ctx context.Context, function string, payload []byte) ([]byte, error)
}

// SnapshotManager creates and prunes warehouse cluster snapshots.
type SnapshotManager interface {
	Create(ctx context.Context, id, cluster string, tags map[string]string) (*cloud.Snapshot, error)
	Delete(ctx context.Context, f cloud.SnapshotFilter) ([]string, error)
}

// Resources opens the systems a run touches, by connection id. The caller
// owns what it returns and releases it after the run.
type Resources interface {
	Warehouse(ctx context.Context, connID string) (*dbclient.SQLConnector, error)
	ObjectStore(ctx context.Context, connID string) (ObjectStore, error)
	Mongo(ctx context.Context, connID string) (*mongo.Database, error)
	Lambda(ctx context.Context, connID, region string) (FunctionInvoker, error)
	Snapshots(ctx context.Context, connID string) (SnapshotManager, error)
}

// Env carries everything an operator may reach for.
type Env struct {
	Logger      *slog.Logger
	Connections domain.ConnectionResolver
	Resources   Resources
	Locker      etl.TableLocker
	Mailer      mail.Sender
	HTTP        []httpx.Option
	Now         func() time.Time
}

func (e *Env) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func (e *Env) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Env) httpOptions() []httpx.Option {
	return append([]httpx.Option{httpx.WithLogger(e.logger())}, e.HTTP...)
}

func (e *Env) connection(id string) (*domain.Connection, error) {
	if e.Connections == nil {
		return nil, fmt.Errorf("no connections configured")
	}
	return e.Connections.Connection(id)
}

// upsert writes batch through the staging-table procedure.
func (e *Env) upsert(ctx context.Context, connID string, lit etl.LiteralOptions, target etl.Target, batch *etl.Batch, res *Result) error {
	wh, err := e.Resources.Warehouse(ctx, connID)
	if err != nil {
		return fmt.Errorf("open warehouse %s: %w", connID, err)
	}
	w := &etl.WarehouseWriter{
		DB:       wh.DB(),
		Driver:   wh.Driver(),
		Literals: lit,
		Locker:   e.Locker,
		Logger:   e.logger(),
	}
	n, err := w.Write(ctx, target, batch)
	if err != nil {
		return err
	}
	res.wrote(target.QualifiedName(), n)
	return nil
}

// ── Registry ───────────────────────────────────────────────
// Compile-time registration via init() in each operator file.

// Factory builds an operator from a task's params.
type Factory func(params map[string]any) (Operator, error)

// Info describes a registered operator type.
type Info struct {
	Type        string `json:"type"`
	Description string `json:"description"`
}

type registration struct {
	info    Info
	factory Factory
}

var (
	registryMu sync.RWMutex
	registry   = map[string]registration{}
)

// Register adds an operator type. Called from init().
func Register(typ, description string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[typ] = registration{info: Info{Type: typ, Description: description}, factory: f}
}

// New builds an operator of the given type.
func New(typ string, params map[string]any) (Operator, error) {
	registryMu.RLock()
	reg, ok := registry[typ]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown operator type: %q", typ)
	}
	op, err := reg.factory(params)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", typ, err)
	}
	return op, nil
}

// List returns every registered operator, sorted by type.
func List() []Info {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]Info, 0, len(registry))
	for _, r := range registry {
		out = append(out, r.info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}

// define registers an operator whose params decode into P. defaults seeds
// P before decoding, so only keys present in the task override it.
func define[P any](typ, description string, defaults P, build func(*P) (Operator, error)) {
	Register(typ, description, func(params map[string]any) (Operator, error) {
		p := defaults
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		return build(&p)
	})
}

// decodeParams maps a task's params onto a struct through its yaml tags.
// Unknown keys are rejected.
func decodeParams(params map[string]any, out any) error {
	if len(params) == 0 {
		return nil
	}
	raw, err := yaml.Marshal(params)
	if err != nil {
		return fmt.Errorf("encode params: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("invalid params: %w", err)
	}
	return nil
}

// ── Helpers ────────────────────────────────────────────────

// splitTable turns "schema.table" into its parts.
func splitTable(name string) (schema, table string) {
	if i := strings.LastIndex(name, "."); i >= 0 {
		return name[:i], name[i+1:]
	}
	return "", name
}

func qualify(schema, table string) string {
	if schema == "" {
		return table
	}
	return schema + "." + table
}

func mergeTarget(table string, keys ...string) etl.Target {
	schema, name := splitTable(table)
	return etl.Target{Schema: schema, Table: name, PrimaryKey: keys, Mode: etl.LoadMerge}
}

// required reports the first empty field among name/value pairs.
func required(pairs ...string) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		if strings.TrimSpace(pairs[i+1]) == "" {
			return fmt.Errorf("%s is required", pairs[i])
		}
	}
	return nil
}

// addressList accepts either a YAML sequence or a comma separated string.
type addressList []string

func (a *addressList) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind == yaml.ScalarNode {
		*a = mail.SplitAddresses(n.Value)
		return nil
	}
	var list []string
	if err := n.Decode(&list); err != nil {
		return err
	}
	*a = list
	return nil
}

// sleep waits d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
