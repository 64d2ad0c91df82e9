package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schema string

const currentSchemaVersion = 1

// Backend persists encoded containers by key.
type Backend interface {
	// Load returns every stored container.
	Load(ctx context.Context) (map[string][]byte, error)
	// Put upserts one container.
	Put(ctx context.Context, key string, value []byte) error
	Close() error
}

// SQLiteBackend keeps containers in a single key/value table.
type SQLiteBackend struct {
	db *sql.DB
}

// OpenSQLite opens a database at the given path.
func OpenSQLite(path string) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// :memory: databases are per connection
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}

	b := &SQLiteBackend{db: db}
	if err := b.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return b, nil
}

func (b *SQLiteBackend) migrate() error {
	var version int
	err := b.db.QueryRow("SELECT version FROM schema_version LIMIT 1").Scan(&version)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		// Table doesn't exist, create fresh schema
		if _, err := b.db.Exec(schema); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
		return nil
	}

	if version == currentSchemaVersion {
		return nil
	}

	// Forward-only: containers are self-describing, so only the envelope is rebuilt.
	if _, err := b.db.Exec(`
		DROP TABLE IF EXISTS schema_version;
	`); err != nil {
		return fmt.Errorf("drop version: %w", err)
	}
	if _, err := b.db.Exec(schema); err != nil {
		return fmt.Errorf("recreate schema: %w", err)
	}
	return nil
}

func (b *SQLiteBackend) Load(ctx context.Context) (map[string][]byte, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT key, value FROM containers`)
	if err != nil {
		return nil, fmt.Errorf("query containers: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]byte)
	for rows.Next() {
		var key string
		var value []byte
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scan container: %w", err)
		}
		out[key] = value
	}
	return out, rows.Err()
}

func (b *SQLiteBackend) Put(ctx context.Context, key string, value []byte) error {
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO containers (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, time.Now().UnixMilli())
	return err
}

func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}

// DefaultRedisHash is the hash all containers live under.
const DefaultRedisHash = "heartline:containers"

// RedisBackend keeps containers as fields of one hash.
type RedisBackend struct {
	client *redis.Client
	hash   string
}

// OpenRedis connects to the server described by url and pings it.
func OpenRedis(ctx context.Context, url string) (*RedisBackend, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedisBackend(client, DefaultRedisHash), nil
}

// NewRedisBackend wraps an existing client.
func NewRedisBackend(client *redis.Client, hash string) *RedisBackend {
	return &RedisBackend{client: client, hash: hash}
}

func (b *RedisBackend) Load(ctx context.Context) (map[string][]byte, error) {
	fields, err := b.client.HGetAll(ctx, b.hash).Result()
	if err != nil {
		return nil, fmt.Errorf("hgetall %s: %w", b.hash, err)
	}
	out := make(map[string][]byte, len(fields))
	for k, v := range fields {
		out[k] = []byte(v)
	}
	return out, nil
}

func (b *RedisBackend) Put(ctx context.Context, key string, value []byte) error {
	return b.client.HSet(ctx, b.hash, key, value).Err()
}

func (b *RedisBackend) Close() error {
	return b.client.Close()
}
