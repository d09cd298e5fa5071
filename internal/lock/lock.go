// Package lock serializes writers on the same warehouse table, within one
// process or across hosts.
package lock

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Locker acquires a named lock, blocking until it is held or ctx is done.
// The returned release func is safe to call more than once.
type Locker interface {
	Lock(ctx context.Context, key string) (release func(), err error)
}

// ErrLocked is wrapped in errors returned when ctx ends before the lock is acquired.
var ErrLocked = errors.New("lock held")

// ── Local ──────────────────────────────────────────────────

// Local is an in-process Locker.
type Local struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

func NewLocal() *Local {
	return &Local{locks: map[string]chan struct{}{}}
}

func (l *Local) slot(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.locks[key]
	if !ok {
		ch = make(chan struct{}, 1)
		l.locks[key] = ch
	}
	return ch
}

func (l *Local) Lock(ctx context.Context, key string) (func(), error) {
	ch := l.slot(key)
	select {
	case ch <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("lock %s: %w: %w", key, ErrLocked, ctx.Err())
	}
	var once sync.Once
	return func() { once.Do(func() { <-ch }) }, nil
}

// ── Postgres advisory ──────────────────────────────────────

// PGAdvisory uses session-level pg_advisory_lock on a dedicated connection.
// The key is hashed to the int64 lock id.
type PGAdvisory struct {
	DB *sql.DB
}

func (l *PGAdvisory) Lock(ctx context.Context, key string) (func(), error) {
	id := hashKey(key)
	conn, err := l.DB.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("lock connection for %s: %w", key, err)
	}
	if _, err := conn.ExecContext(ctx, "select pg_advisory_lock($1)", id); err != nil {
		conn.Close()
		return nil, fmt.Errorf("lock %s: %w", key, err)
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			// ctx may already be cancelled when the caller releases.
			conn.ExecContext(context.Background(), "select pg_advisory_unlock($1)", id)
			conn.Close()
		})
	}, nil
}

func hashKey(key string) int64 {
	h := fnv.New64a()
	h.Write([]byte(key))
	return int64(h.Sum64())
}

// ── Redis ──────────────────────────────────────────────────

const (
	DefaultRedisTTL  = 30 * time.Minute
	DefaultRedisPoll = 100 * time.Millisecond
	redisPrefix      = "saasloader:lock:"
)

// Only the holder's token may delete the key.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`)

// Redis is a Locker shared by every process using the same Redis. TTL bounds
// how long a crashed holder keeps the lock.
type Redis struct {
	Client redis.UniversalClient
	TTL    time.Duration
	Poll   time.Duration
}

func (l *Redis) Lock(ctx context.Context, key string) (func(), error) {
	ttl := l.TTL
	if ttl <= 0 {
		ttl = DefaultRedisTTL
	}
	poll := l.Poll
	if poll <= 0 {
		poll = DefaultRedisPoll
	}
	rkey := redisPrefix + key
	token := uuid.NewString()

	for {
		ok, err := l.Client.SetNX(ctx, rkey, token, ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("lock %s: %w", key, err)
		}
		if ok {
			break
		}
		t := time.NewTimer(poll)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, fmt.Errorf("lock %s: %w: %w", key, ErrLocked, ctx.Err())
		case <-t.C:
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			releaseScript.Run(context.Background(), l.Client, []string{rkey}, token)
		})
	}, nil
}
