package store

import (
	"context"
	"embed"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Migrations holds the goose migrations creating the Postgres keyspace.
//
//go:embed migrations/*.sql
var Migrations embed.FS

// DBTX is the subset of *pgxpool.Pool used by Postgres.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres is a Store on two tables: smpp_counters for counters and smpp_kv
// for values with an optional expiry. Expired rows are invisible to reads and
// removed by Purge.
type Postgres struct {
	db    DBTX
	close func()
}

// NewPostgres uses db for all queries. Close is a no-op.
func NewPostgres(db DBTX) *Postgres {
	return &Postgres{db: db, close: func() {}}
}

// ConnectPostgres opens a pool and pings the database.
func ConnectPostgres(ctx context.Context, url string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Postgres{db: pool, close: pool.Close}, nil
}

const (
	sqlIncr = `INSERT INTO smpp_counters (key, value) VALUES ($1, 1)
ON CONFLICT (key) DO UPDATE SET value = smpp_counters.value + 1
RETURNING value`

	sqlResetCounter = `INSERT INTO smpp_counters (key, value) VALUES ($1, 0)
ON CONFLICT (key) DO UPDATE SET value = 0`

	sqlGet = `SELECT value FROM smpp_kv
WHERE key = $1 AND (expires_at IS NULL OR expires_at > now())`

	sqlSet = `INSERT INTO smpp_kv (key, value, expires_at)
VALUES ($1, $2, now() + $3::bigint * interval '1 millisecond')
ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at`

	sqlSetNX = `INSERT INTO smpp_kv (key, value, expires_at)
VALUES ($1, $2, now() + $3::bigint * interval '1 millisecond')
ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at
WHERE smpp_kv.expires_at IS NOT NULL AND smpp_kv.expires_at <= now()`

	sqlDelete = `DELETE FROM smpp_kv WHERE key = $1`

	sqlPurge = `DELETE FROM smpp_kv WHERE expires_at IS NOT NULL AND expires_at <= now()`
)

func (p *Postgres) Incr(ctx context.Context, key string) (int64, error) {
	var v int64
	err := p.db.QueryRow(ctx, sqlIncr, key).Scan(&v)
	return v, err
}

func (p *Postgres) ResetCounter(ctx context.Context, key string) error {
	_, err := p.db.Exec(ctx, sqlResetCounter, key)
	return err
}

func (p *Postgres) Get(ctx context.Context, key string) ([]byte, error) {
	var b []byte
	err := p.db.QueryRow(ctx, sqlGet, key).Scan(&b)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return b, err
}

func (p *Postgres) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_, err := p.db.Exec(ctx, sqlSet, key, value, ttlMillis(ttl))
	return err
}

func (p *Postgres) Delete(ctx context.Context, key string) error {
	_, err := p.db.Exec(ctx, sqlDelete, key)
	return err
}

func (p *Postgres) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	tag, err := p.db.Exec(ctx, sqlSetNX, key, value, ttlMillis(ttl))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (p *Postgres) Purge(ctx context.Context) (int, error) {
	tag, err := p.db.Exec(ctx, sqlPurge)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (p *Postgres) Close() error {
	p.close()
	return nil
}

// ttlMillis returns nil for no expiry so expires_at stays NULL.
func ttlMillis(ttl time.Duration) *int64 {
	if ttl <= 0 {
		return nil
	}
	ms := ttl.Milliseconds()
	return &ms
}

var (
	_ Store  = (*Postgres)(nil)
	_ Purger = (*Postgres)(nil)
	_ DBTX   = (*pgxpool.Pool)(nil)
)
