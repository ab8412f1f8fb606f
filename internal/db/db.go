package db

import (
	"database/sql"
	"fmt"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// DB represents a PostgreSQL database connection
type DB struct {
	client *sql.DB
}

// Config holds PostgreSQL connection configuration
type Config struct {
	Host         string        // Database host
	Port         string        // Database port
	User         string        // Database user
	Password     string        // Database password
	Database     string        // Database name
	SSLMode      string        // SSL mode (disable, require, verify-ca, verify-full)
	MaxIdleConns int           // Maximum number of idle connections
	MaxOpenConns int           // Maximum number of open connections
	MaxLifetime  time.Duration // Maximum lifetime of a connection
	DatabaseURL  string        // Original DATABASE_URL if used
}

// ConnectionString returns the PostgreSQL connection string
func (c *Config) ConnectionString() string {
	// If we have a DatabaseURL, use it directly
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}

	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// New creates a new PostgreSQL database connection
func New(config *Config) (*DB, error) {
	if config.DatabaseURL == "" {
		if config.Host == "" {
			return nil, fmt.Errorf("database host is required")
		}
		if config.Port == "" {
			return nil, fmt.Errorf("database port is required")
		}
		if config.User == "" {
			return nil, fmt.Errorf("database user is required")
		}
		if config.Database == "" {
			return nil, fmt.Errorf("database name is required")
		}
	}

	// Set defaults for optional fields
	if config.SSLMode == "" {
		config.SSLMode = "disable"
	}
	if config.MaxIdleConns == 0 {
		config.MaxIdleConns = 10
	}
	if config.MaxOpenConns == 0 {
		config.MaxOpenConns = 30
	}
	if config.MaxLifetime == 0 {
		config.MaxLifetime = 20 * time.Minute
	}

	client, err := sql.Open("pgx", config.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	// Configure connection pool
	client.SetMaxOpenConns(config.MaxOpenConns)
	client.SetMaxIdleConns(config.MaxIdleConns)
	client.SetConnMaxLifetime(config.MaxLifetime)

	// Test connection
	if err := client.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	// Initialise schema
	if err := setupSchema(client); err != nil {
		return nil, fmt.Errorf("failed to setup schema: %w", err)
	}

	return &DB{client: client}, nil
}

// InitFromEnv creates a PostgreSQL connection using environment variables
func InitFromEnv() (*DB, error) {
	if url := os.Getenv("DATABASE_URL"); url != "" {
		return New(&Config{DatabaseURL: url})
	}

	config := &Config{
		Host:     os.Getenv("POSTGRES_HOST"),
		Port:     os.Getenv("POSTGRES_PORT"),
		User:     os.Getenv("POSTGRES_USER"),
		Password: os.Getenv("POSTGRES_PASSWORD"),
		Database: os.Getenv("POSTGRES_DB"),
		SSLMode:  os.Getenv("POSTGRES_SSL_MODE"),
	}

	// Use defaults if not set
	if config.Host == "" {
		config.Host = "localhost"
	}
	if config.Port == "" {
		config.Port = "5432"
	}
	if config.User == "" {
		config.User = "postgres"
	}
	if config.Database == "" {
		config.Database = "staging_portal"
	}

	return New(config)
}

// setupSchema creates the backlog and archive tables in PostgreSQL
func setupSchema(db *sql.DB) error {
	// Backlog of articles awaiting human extraction.
	// pre_check_complete is TEXT because upstream writers have historically
	// stored both booleans and the string "TRUE"; a single truthy parser is
	// applied everywhere it is read.
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS articles (
			id TEXT PRIMARY KEY,
			title TEXT,
			permalink_url TEXT,
			published_at TIMESTAMPTZ,
			author TEXT,
			publication TEXT,
			summary TEXT,
			source TEXT,
			source_url TEXT,
			subscription_source TEXT,
			clients TEXT,
			focus_industry TEXT,
			extraction_path INTEGER NOT NULL DEFAULT 1,
			dedupe_status TEXT,
			pre_check_complete TEXT NOT NULL DEFAULT 'false',
			pre_check_complete_at TIMESTAMPTZ,
			duplicate_syndicate_status TEXT,
			extraction_complete BOOLEAN,
			claimed_at TIMESTAMPTZ,
			served_to TEXT,
			retry_count INTEGER NOT NULL DEFAULT 0,
			failure_reason TEXT,
			failed_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			last_modified TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create articles table: %w", err)
	}

	// Archive of finalised extractions, one row per article
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS extractions (
			id TEXT PRIMARY KEY,
			article_id TEXT NOT NULL REFERENCES articles(id),
			headline TEXT,
			author TEXT,
			body TEXT,
			publication TEXT,
			published_on TEXT,
			story_link TEXT,
			search TEXT,
			source TEXT,
			clients TEXT,
			focus_industry TEXT,
			worker_id TEXT,
			duration_sec INTEGER,
			submitted_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create extractions table: %w", err)
	}

	// Optimised index for candidate reads: only unclaimed stage-2 rows matter
	_, err = db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_articles_assignable
		ON articles (created_at DESC)
		WHERE extraction_path = 2 AND claimed_at IS NULL
	`)
	if err != nil {
		return fmt.Errorf("failed to create assignable articles index: %w", err)
	}

	// Index for expiry sweeps over held claims
	_, err = db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_articles_claimed
		ON articles (claimed_at)
		WHERE claimed_at IS NOT NULL
	`)
	if err != nil {
		return fmt.Errorf("failed to create claimed articles index: %w", err)
	}

	// Back-reference lookup; deliberately not UNIQUE (the archive upsert is
	// check-then-write inside a transaction)
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_extractions_article_id ON extractions(article_id)`)
	if err != nil {
		return fmt.Errorf("failed to create extractions article_id index: %w", err)
	}

	return nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.client.Close()
}

// GetDB returns the underlying database connection
func (db *DB) GetDB() *sql.DB {
	return db.client
}
