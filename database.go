package main

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

func isPostgres(engine string) bool {
	return engine == "postgresql" || engine == "postgres" || engine == "pgx"
}

func isMySQL(engine string) bool {
	return engine == "mysql" || engine == "mariadb"
}

func isSQLite(engine string) bool {
	switch engine {
	case "sqlite", "sqlite3", "sqlite-pure", "modernc":
		return true
	}
	return false
}

// rebind rewrites ? placeholders to $n for the Postgres drivers.
func rebind(engine, query string) string {
	if !isPostgres(engine) {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// dataSource returns the driver name and DSN for the configured engine.
func dataSource(config *Config) (string, string, error) {
	switch config.DBEngine {
	case "postgresql", "postgres":
		// lib/pq registers as "postgres"
		return "postgres", fmt.Sprintf(
			"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
			config.DBHost, config.DBPort, config.DBUser, config.DBPass, config.DBName, config.DBSSLMode,
		), nil
	case "pgx":
		return "pgx", fmt.Sprintf(
			"postgres://%s:%s@%s:%s/%s?sslmode=%s",
			config.DBUser, config.DBPass, config.DBHost, config.DBPort, config.DBName, config.DBSSLMode,
		), nil
	case "mysql", "mariadb":
		return "mysql", fmt.Sprintf(
			"%s:%s@tcp(%s:%s)/%s?parseTime=true",
			config.DBUser, config.DBPass, config.DBHost, config.DBPort, config.DBName,
		), nil
	case "sqlite", "sqlite3":
		return "sqlite3", config.DBPath, nil
	case "sqlite-pure", "modernc":
		return "sqlite", config.DBPath, nil
	}
	return "", "", fmt.Errorf("unsupported database engine: %s", config.DBEngine)
}

// connectDB establishes a connection to the local database
func connectDB(config *Config, logger *zap.Logger) (*sql.DB, error) {
	logger.Info("Connecting to database",
		zap.String("engine", config.DBEngine),
		zap.String("host", config.DBHost),
		zap.String("port", config.DBPort),
		zap.String("db", config.DBName))

	driverName, dsn, err := dataSource(config)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	if isSQLite(config.DBEngine) {
		// SQLite allows a single writer.
		db.SetMaxOpenConns(1)
	}
	return db, nil
}

// migrate creates or upgrades every local table.
func (s *Service) migrate() error {
	if err := s.initFieldCacheTable(); err != nil {
		return err
	}
	return s.initTableViewsTable()
}

// initFieldCacheTable creates the field_cache table backing CACHE fields
func (s *Service) initFieldCacheTable() error {
	log := s.logger.Named("database")
	var query string
	switch {
	case isPostgres(s.config.DBEngine):
		query = `
			CREATE TABLE IF NOT EXISTS field_cache (
				cache_key VARCHAR(512) PRIMARY KEY,
				cache_value TEXT NOT NULL,
				modified TIMESTAMP DEFAULT CURRENT_TIMESTAMP
			)
		`
	case isMySQL(s.config.DBEngine):
		query = `
			CREATE TABLE IF NOT EXISTS field_cache (
				cache_key VARCHAR(512) PRIMARY KEY,
				cache_value TEXT NOT NULL,
				modified TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP
			)
		`
	case isSQLite(s.config.DBEngine):
		query = `
			CREATE TABLE IF NOT EXISTS field_cache (
				cache_key TEXT PRIMARY KEY,
				cache_value TEXT NOT NULL,
				modified TIMESTAMP DEFAULT CURRENT_TIMESTAMP
			)
		`
	default:
		return fmt.Errorf("unsupported database engine: %s", s.config.DBEngine)
	}

	if _, err := s.db.Exec(query); err != nil {
		log.Error("Error creating field_cache table", zap.Error(err))
		return fmt.Errorf("failed to create field_cache table: %w", err)
	}
	log.Info("Created/verified field_cache table")
	return nil
}

// initTableViewsTable creates the table_views table if it doesn't exist
func (s *Service) initTableViewsTable() error {
	log := s.logger.Named("database")
	log.Info("Initializing table_views table", zap.String("engine", s.config.DBEngine))

	var statements []string
	switch {
	case isPostgres(s.config.DBEngine):
		statements = []string{`
			CREATE TABLE IF NOT EXISTS table_views (
				id SERIAL PRIMARY KEY,
				form_id VARCHAR(64) NOT NULL,
				name VARCHAR(255) NOT NULL,
				description TEXT,
				column_order JSONB NOT NULL DEFAULT '[]'::jsonb,
				column_sizing JSONB NOT NULL DEFAULT '{}'::jsonb,
				column_visibility JSONB NOT NULL DEFAULT '{}'::jsonb,
				sort_field VARCHAR(255),
				sort_reverse BOOLEAN DEFAULT FALSE,
				is_global BOOLEAN DEFAULT FALSE,
				owner_id VARCHAR(255),
				username VARCHAR(255),
				created TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
				modified TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
				deleted_at TIMESTAMP
			)`,
			`CREATE INDEX IF NOT EXISTS idx_table_views_form ON table_views(form_id)`,
			`CREATE INDEX IF NOT EXISTS idx_table_views_owner ON table_views(owner_id)`,
		}
	case isMySQL(s.config.DBEngine):
		statements = []string{`
			CREATE TABLE IF NOT EXISTS table_views (
				id INT AUTO_INCREMENT PRIMARY KEY,
				form_id VARCHAR(64) NOT NULL,
				name VARCHAR(255) NOT NULL,
				description TEXT,
				column_order JSON NOT NULL,
				column_sizing JSON NOT NULL,
				column_visibility JSON NOT NULL,
				sort_field VARCHAR(255),
				sort_reverse BOOLEAN DEFAULT FALSE,
				is_global BOOLEAN DEFAULT FALSE,
				owner_id VARCHAR(255),
				username VARCHAR(255),
				created TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
				modified TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
				deleted_at TIMESTAMP NULL,
				INDEX idx_form (form_id),
				INDEX idx_owner (owner_id)
			)`,
		}
	case isSQLite(s.config.DBEngine):
		statements = []string{`
			CREATE TABLE IF NOT EXISTS table_views (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				form_id TEXT NOT NULL,
				name TEXT NOT NULL,
				description TEXT,
				column_order TEXT NOT NULL DEFAULT '[]',
				column_sizing TEXT NOT NULL DEFAULT '{}',
				column_visibility TEXT NOT NULL DEFAULT '{}',
				sort_field TEXT,
				sort_reverse INTEGER DEFAULT 0,
				is_global INTEGER DEFAULT 0,
				owner_id TEXT,
				username TEXT,
				created TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
				modified TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
				deleted_at TIMESTAMP
			)`,
			`CREATE INDEX IF NOT EXISTS idx_table_views_form ON table_views(form_id)`,
			`CREATE INDEX IF NOT EXISTS idx_table_views_owner ON table_views(owner_id)`,
		}
	default:
		log.Error("Unsupported database engine", zap.String("engine", s.config.DBEngine))
		return fmt.Errorf("unsupported database engine: %s", s.config.DBEngine)
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			log.Error("Error creating table_views table", zap.Error(err))
			return fmt.Errorf("failed to create table_views table: %w", err)
		}
	}

	// Columns added after the first release.
	var migrations []string
	switch {
	case isPostgres(s.config.DBEngine):
		migrations = []string{
			"ALTER TABLE table_views ADD COLUMN IF NOT EXISTS sort_field VARCHAR(255)",
			"ALTER TABLE table_views ADD COLUMN IF NOT EXISTS sort_reverse BOOLEAN DEFAULT FALSE",
		}
	case isSQLite(s.config.DBEngine):
		// SQLite has no ADD COLUMN IF NOT EXISTS
		var count int
		err := s.db.QueryRow("SELECT COUNT(*) FROM pragma_table_info('table_views') WHERE name IN ('sort_field', 'sort_reverse')").Scan(&count)
		if err == nil && count < 2 {
			migrations = []string{
				"ALTER TABLE table_views ADD COLUMN sort_field TEXT",
				"ALTER TABLE table_views ADD COLUMN sort_reverse INTEGER DEFAULT 0",
			}
		}
	}
	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			// Log but don't fail - column might already exist
			log.Warn("Migration query may have failed", zap.String("query", m), zap.Error(err))
		}
	}

	log.Info("Created/verified table_views table")
	return nil
}
