package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"go.mongodb.org/mongo-driver/v2/mongo"

	"saasloader/internal/cloud"
	"saasloader/internal/dbclient"
	"saasloader/internal/domain"
	"saasloader/internal/etl/sources"
	"saasloader/internal/objectstore"
	"saasloader/internal/operators"
)

// RunResources is what one task run opens. Close releases everything.
type RunResources interface {
	operators.Resources
	Close() error
}

// ── Per-run pool ───────────────────────────────────────────

// pool opens each connection at most once per run and closes them together
// when the run ends.
type pool struct {
	conns  domain.ConnectionResolver
	logger *slog.Logger

	mu         sync.Mutex
	warehouses map[string]*dbclient.SQLConnector
	stores     map[string]*objectstore.Store
	mongos     map[string]*mongo.Client
}

func newPool(conns domain.ConnectionResolver, logger *slog.Logger) *pool {
	return &pool{
		conns:      conns,
		logger:     logger,
		warehouses: map[string]*dbclient.SQLConnector{},
		stores:     map[string]*objectstore.Store{},
		mongos:     map[string]*mongo.Client{},
	}
}

func (p *pool) Warehouse(_ context.Context, connID string) (*dbclient.SQLConnector, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if wh, ok := p.warehouses[connID]; ok {
		return wh, nil
	}
	conn, err := p.conns.Connection(connID)
	if err != nil {
		return nil, err
	}
	if !conn.Driver().IsSQL() {
		return nil, fmt.Errorf("connection %s is %q, not a SQL warehouse", connID, conn.Type)
	}
	wh, err := dbclient.OpenSQL(conn)
	if err != nil {
		return nil, err
	}
	p.warehouses[connID] = wh
	return wh, nil
}

func (p *pool) ObjectStore(ctx context.Context, connID string) (operators.ObjectStore, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok := p.stores[connID]; ok {
		return s, nil
	}
	conn, err := p.conns.Connection(connID)
	if err != nil {
		return nil, err
	}
	s, err := objectstore.New(ctx, conn, p.logger)
	if err != nil {
		return nil, err
	}
	p.stores[connID] = s
	return s, nil
}

func (p *pool) Mongo(ctx context.Context, connID string) (*mongo.Database, error) {
	conn, err := p.conns.Connection(connID)
	if err != nil {
		return nil, err
	}
	_, dbName := dbclient.BuildMongoURI(conn)

	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.mongos[connID]; ok {
		return c.Database(dbName), nil
	}
	client, db, err := dbclient.OpenMongo(ctx, conn)
	if err != nil {
		return nil, err
	}
	p.mongos[connID] = client
	return db, nil
}

func (p *pool) Lambda(ctx context.Context, connID, region string) (operators.FunctionInvoker, error) {
	conn, err := p.conns.Connection(connID)
	if err != nil {
		return nil, err
	}
	return cloud.NewInvoker(ctx, conn, region, p.logger)
}

func (p *pool) Snapshots(ctx context.Context, connID string) (operators.SnapshotManager, error) {
	conn, err := p.conns.Connection(connID)
	if err != nil {
		return nil, err
	}
	return cloud.NewSnapshots(ctx, conn, p.logger)
}

func (p *pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var errs []error
	for id, wh := range p.warehouses {
		if err := wh.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", id, err))
		}
	}
	for id, c := range p.mongos {
		if err := c.Disconnect(context.Background()); err != nil {
			errs = append(errs, fmt.Errorf("disconnect %s: %w", id, err))
		}
	}
	clear(p.warehouses)
	clear(p.mongos)
	clear(p.stores)
	return errors.Join(errs...)
}

// ── Source providers ───────────────────────────────────────
// The generic sources open their own connections; the sources package owns
// closing them.

type sourceProvider struct {
	conns  domain.ConnectionResolver
	logger *slog.Logger
}

func (p *sourceProvider) OpenConnector(ctx context.Context, connID string) (dbclient.Connector, error) {
	conn, err := p.conns.Connection(connID)
	if err != nil {
		return nil, err
	}
	return dbclient.NewConnector(ctx, conn)
}

func (p *sourceProvider) OpenObjectStore(ctx context.Context, connID string) (sources.ObjectReader, error) {
	conn, err := p.conns.Connection(connID)
	if err != nil {
		return nil, err
	}
	return objectstore.New(ctx, conn, p.logger)
}
