package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
type Repository interface {
	// Transaction operations
	SaveTransaction(ctx context.Context, tx *Transaction) error
	GetTransaction(ctx context.Context, txID string) (*Transaction, error)

	// Per-card history for the scoring context
	RecentByCard(ctx context.Context, cardNumber string, since time.Time, limit int) ([]*Transaction, error)
	CountByCard(ctx context.Context, cardNumber string, since time.Time) (int64, error)

	// Decision records
	SaveDecision(ctx context.Context, rec *DecisionRecord) error
	GetDecision(ctx context.Context, txID string) (*DecisionRecord, error)
	ListDecisions(ctx context.Context, filter DecisionFilter) ([]*DecisionRecord, error)

	// Alerts
	SaveAlert(ctx context.Context, alert *Alert) error
	ListAlerts(ctx context.Context, filter AlertFilter) ([]*Alert, error)
	UpdateAlertStatus(ctx context.Context, alertID string, status AlertStatus) error

	// Aggregate statistics over scored traffic
	Stats(ctx context.Context) (*EngineStats, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
