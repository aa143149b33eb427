package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
)

// KeyValueStore persists CACHE field values across reloads.
type KeyValueStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

type memoryFieldCache struct {
	mu     sync.RWMutex
	values map[string]string
}

func newMemoryFieldCache() *memoryFieldCache {
	return &memoryFieldCache{values: make(map[string]string)}
}

func (c *memoryFieldCache) Get(_ context.Context, key string) (string, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.values[key]
	return v, ok, nil
}

func (c *memoryFieldCache) Set(_ context.Context, key, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = value
	return nil
}

// sqlFieldCache keeps CACHE values in the field_cache table.
type sqlFieldCache struct {
	db     *sql.DB
	engine string
}

func newSQLFieldCache(db *sql.DB, engine string) *sqlFieldCache {
	return &sqlFieldCache{db: db, engine: engine}
}

func (c *sqlFieldCache) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	query := rebind(c.engine, "SELECT cache_value FROM field_cache WHERE cache_key = ?")
	err := c.db.QueryRowContext(ctx, query, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read field cache: %w", err)
	}
	return value, true, nil
}

func (c *sqlFieldCache) Set(ctx context.Context, key, value string) error {
	var query string
	switch c.engine {
	case "postgresql", "postgres", "pgx":
		query = `
			INSERT INTO field_cache (cache_key, cache_value, modified)
			VALUES ($1, $2, CURRENT_TIMESTAMP)
			ON CONFLICT (cache_key) DO UPDATE SET cache_value = EXCLUDED.cache_value, modified = CURRENT_TIMESTAMP
		`
	case "mysql", "mariadb":
		query = `
			INSERT INTO field_cache (cache_key, cache_value, modified)
			VALUES (?, ?, CURRENT_TIMESTAMP)
			ON DUPLICATE KEY UPDATE cache_value = VALUES(cache_value), modified = CURRENT_TIMESTAMP
		`
	case "sqlite", "sqlite3", "sqlite-pure", "modernc":
		query = `
			INSERT INTO field_cache (cache_key, cache_value, modified)
			VALUES (?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT (cache_key) DO UPDATE SET cache_value = excluded.cache_value, modified = CURRENT_TIMESTAMP
		`
	default:
		return fmt.Errorf("unsupported database engine: %s", c.engine)
	}
	if _, err := c.db.ExecContext(ctx, query, key, value); err != nil {
		return fmt.Errorf("failed to write field cache: %w", err)
	}
	return nil
}
