// Package domain defines the core interfaces and types for Loadguard.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for persisting adjudication outputs.
type Repository interface {
	// SaveOutputs stores every result of one processing run under the same process ID.
	SaveOutputs(ctx context.Context, batch *OutputBatch) error

	// ListOutputs returns all runs, newest first.
	ListOutputs(ctx context.Context) ([]*OutputBatch, error)

	// ListResults returns every stored result in the order it was adjudicated.
	ListResults(ctx context.Context) ([]*StoredOutput, error)

	// GetOutputs returns a single run by process ID.
	GetOutputs(ctx context.Context, processID string) (*OutputBatch, error)

	// Statistics returns accepted/rejected totals across all runs.
	Statistics(ctx context.Context) (*OutputStatistics, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// OutputBatch is one processing run: an uploaded file, a single API load, or a worker message.
type OutputBatch struct {
	ProcessID string             `json:"id"`
	Timestamp time.Time          `json:"timestamp"`
	Filename  string             `json:"filename"`
	Results   []ProcessingResult `json:"outputs"`
}

// StoredOutput is a persisted result together with its run metadata.
type StoredOutput struct {
	ProcessID string
	Timestamp time.Time
	Filename  string
	Result    ProcessingResult
}

// OutputStatistics are the persisted accept/reject totals.
type OutputStatistics struct {
	TotalProcessed int `json:"total_processed"`
	Accepted       int `json:"accepted"`
	Rejected       int `json:"rejected"`
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `json:"driver" yaml:"driver"`

	// SQLite specific
	SQLitePath string `json:"sqlitePath" yaml:"sqlite_path"`

	// PostgreSQL specific
	PostgresHost     string `json:"postgresHost" yaml:"postgres_host"`
	PostgresPort     int    `json:"postgresPort" yaml:"postgres_port"`
	PostgresUser     string `json:"postgresUser" yaml:"postgres_user"`
	PostgresPassword string `json:"-" yaml:"postgres_password"`
	PostgresDB       string `json:"postgresDB" yaml:"postgres_db"`
	PostgresSSLMode  string `json:"postgresSSLMode" yaml:"postgres_ssl_mode"`

	// Connection pool settings
	MaxOpenConns    int           `json:"maxOpenConns" yaml:"max_open_conns"`
	MaxIdleConns    int           `json:"maxIdleConns" yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"connMaxLifetime" yaml:"conn_max_lifetime"`
}
