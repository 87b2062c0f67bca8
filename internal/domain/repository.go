package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
type Repository interface {
	// Reference and booking data. Save methods fill in the generated ID.
	SaveLane(ctx context.Context, lane *Lane) error
	SaveShipment(ctx context.Context, s *Shipment) error
	SaveInvoice(ctx context.Context, inv *Invoice) error
	ListShipmentIDs(ctx context.Context) ([]int64, error)

	// Audit reads.
	GetShipmentRecord(ctx context.Context, shipmentID int64) (*ShipmentRecord, error)
	CountDuplicateInvoices(ctx context.Context, trackingNumber string, excludeInvoiceID int64) (int64, error)
	ListExceptions(ctx context.Context, shipmentID int64) ([]*AuditException, error)

	// Audit writes. SaveException is append-only.
	SaveException(ctx context.Context, ex *AuditException) error
	UpdateShipmentStatus(ctx context.Context, shipmentID int64, status ShipmentStatus) error

	// Dashboard reads, scoped to shipments or exceptions created at or
	// after since.
	WindowMetrics(ctx context.Context, since time.Time) (*Metrics, error)
	ExceptionsByType(ctx context.Context, since time.Time) (map[ExceptionType]TypeBreakdown, error)
	LaneActivity(ctx context.Context, limit int) ([]LaneActivity, error)
	ExceptionTrend(ctx context.Context, since time.Time) ([]TrendPoint, error)
	RecentExceptions(ctx context.Context, limit int) ([]ExceptionListing, error)

	// Daily summaries.
	DailyRollup(ctx context.Context, day time.Time) (*DailySummary, error)
	ReplaceDailySummaries(ctx context.Context, since time.Time, summaries []*DailySummary) error
	ListDailySummaries(ctx context.Context, since time.Time) ([]*DailySummary, error)

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
