// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-logistics/kestrel/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

const dayFormat = "2006-01-02"

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas(r.driver) {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveLane stores a shipping lane and fills in its generated ID.
func (r *SQLRepository) SaveLane(ctx context.Context, lane *domain.Lane) error {
	if lane.Origin == "" || lane.Destination == "" {
		return fmt.Errorf("%w: lane origin and destination are required", ErrInvalidInput)
	}

	query := `
		INSERT INTO shipping_lanes (
			origin, destination, carrier_code, base_rate, fuel_surcharge_pct, transit_days
		) VALUES (?, ?, ?, ?, ?, ?)
	`

	id, err := r.insertID(ctx, query,
		lane.Origin, lane.Destination, lane.CarrierCode,
		lane.BaseRate, lane.FuelSurchargePercent, lane.TransitDays,
	)
	if err != nil {
		return err
	}
	lane.ID = id
	return nil
}

// SaveShipment stores a shipment and fills in its generated ID.
func (r *SQLRepository) SaveShipment(ctx context.Context, s *domain.Shipment) error {
	if s.LaneID <= 0 {
		return fmt.Errorf("%w: shipment lane id is required", ErrInvalidInput)
	}
	if s.TrackingNumber == "" {
		return fmt.Errorf("%w: shipment tracking number is required", ErrInvalidInput)
	}
	if s.Status == "" {
		s.Status = domain.ShipmentPending
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO shipments (
			lane_id, tracking_number, weight, volume, declared_value,
			expected_delivery, actual_delivery, status, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	id, err := r.insertID(ctx, query,
		s.LaneID, s.TrackingNumber, s.Weight, s.Volume, s.DeclaredValue,
		nullTime(s.ExpectedDelivery), nullTime(s.ActualDelivery),
		s.Status, s.CreatedAt,
	)
	if err != nil {
		return err
	}
	s.ID = id
	return nil
}

// SaveInvoice stores an invoice and fills in its generated ID.
func (r *SQLRepository) SaveInvoice(ctx context.Context, inv *domain.Invoice) error {
	if inv.ShipmentID <= 0 {
		return fmt.Errorf("%w: invoice shipment id is required", ErrInvalidInput)
	}
	if inv.PaymentStatus == "" {
		inv.PaymentStatus = domain.PaymentPending
	}

	charges, _ := json.Marshal(inv.AdditionalCharges)

	query := `
		INSERT INTO invoices (
			shipment_id, invoice_number, billed_weight, billed_amount,
			fuel_surcharge, additional_charges, invoice_date, due_date, payment_status
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	id, err := r.insertID(ctx, query,
		inv.ShipmentID, inv.InvoiceNumber, inv.BilledWeight, inv.BilledAmount,
		inv.FuelSurcharge, string(charges), inv.InvoiceDate, inv.DueDate, inv.PaymentStatus,
	)
	if err != nil {
		return err
	}
	inv.ID = id
	return nil
}

// ListShipmentIDs returns every shipment id in ascending order.
func (r *SQLRepository) ListShipmentIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM shipments ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetShipmentRecord loads a shipment joined with its lane and, when one
// exists, its most recent invoice.
func (r *SQLRepository) GetShipmentRecord(ctx context.Context, shipmentID int64) (*domain.ShipmentRecord, error) {
	query := `
		SELECT s.id, s.lane_id, s.tracking_number, s.weight, s.volume, s.declared_value,
			   s.expected_delivery, s.actual_delivery, s.status, s.created_at,
			   l.base_rate, l.origin, l.destination, l.carrier_code
		FROM shipments s
		JOIN shipping_lanes l ON l.id = s.lane_id
		WHERE s.id = ?
	`

	var rec domain.ShipmentRecord
	var expected, actual sql.NullTime

	err := r.db.QueryRowContext(ctx, r.rebind(query), shipmentID).Scan(
		&rec.ID, &rec.LaneID, &rec.TrackingNumber,
		&rec.Weight, &rec.Volume, &rec.DeclaredValue,
		&expected, &actual, &rec.Status, &rec.CreatedAt,
		&rec.BaseRate, &rec.Origin, &rec.Destination, &rec.CarrierCode,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if expected.Valid {
		t := expected.Time
		rec.ExpectedDelivery = &t
	}
	if actual.Valid {
		t := actual.Time
		rec.ActualDelivery = &t
	}

	inv, err := r.latestInvoice(ctx, shipmentID)
	if err != nil {
		return nil, err
	}
	rec.Invoice = inv

	return &rec, nil
}

func (r *SQLRepository) latestInvoice(ctx context.Context, shipmentID int64) (*domain.Invoice, error) {
	query := `
		SELECT id, shipment_id, invoice_number, billed_weight, billed_amount,
			   fuel_surcharge, additional_charges, invoice_date, due_date, payment_status
		FROM invoices
		WHERE shipment_id = ?
		ORDER BY id DESC
		LIMIT 1
	`

	var inv domain.Invoice
	var charges string
	var dueDate sql.NullTime

	err := r.db.QueryRowContext(ctx, r.rebind(query), shipmentID).Scan(
		&inv.ID, &inv.ShipmentID, &inv.InvoiceNumber,
		&inv.BilledWeight, &inv.BilledAmount, &inv.FuelSurcharge,
		&charges, &inv.InvoiceDate, &dueDate, &inv.PaymentStatus,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if dueDate.Valid {
		inv.DueDate = dueDate.Time
	}
	if charges != "" && charges != "null" {
		json.Unmarshal([]byte(charges), &inv.AdditionalCharges)
	}

	return &inv, nil
}

// CountDuplicateInvoices counts invoices billed against the same tracking
// number, excluding the invoice under audit.
func (r *SQLRepository) CountDuplicateInvoices(ctx context.Context, trackingNumber string, excludeInvoiceID int64) (int64, error) {
	if trackingNumber == "" {
		return 0, fmt.Errorf("%w: tracking number is required", ErrInvalidInput)
	}

	query := `
		SELECT COUNT(*)
		FROM invoices i
		JOIN shipments s ON s.id = i.shipment_id
		WHERE s.tracking_number = ? AND i.id != ?
	`

	var count int64
	err := r.db.QueryRowContext(ctx, r.rebind(query), trackingNumber, excludeInvoiceID).Scan(&count)
	return count, err
}

// SaveException appends an audit exception and fills in its generated ID.
// Existing rows are never updated; re-audits accumulate.
func (r *SQLRepository) SaveException(ctx context.Context, ex *domain.AuditException) error {
	if ex.ShipmentID <= 0 {
		return fmt.Errorf("%w: exception shipment id is required", ErrInvalidInput)
	}

	details, err := json.Marshal(ex.Details)
	if err != nil {
		return fmt.Errorf("marshal exception details: %w", err)
	}
	if ex.CreatedAt.IsZero() {
		ex.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO audit_exceptions (
			shipment_id, exception_type, severity_score, details,
			potential_savings, status, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	id, err := r.insertID(ctx, query,
		ex.ShipmentID, ex.Type, ex.SeverityScore, string(details),
		ex.PotentialSavings, ex.Status, ex.CreatedAt,
	)
	if err != nil {
		return err
	}
	ex.ID = id
	return nil
}

// ListExceptions returns all exceptions for a shipment, oldest first.
func (r *SQLRepository) ListExceptions(ctx context.Context, shipmentID int64) ([]*domain.AuditException, error) {
	query := `
		SELECT id, shipment_id, exception_type, severity_score, details,
			   potential_savings, status, created_at
		FROM audit_exceptions
		WHERE shipment_id = ?
		ORDER BY id
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), shipmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var exceptions []*domain.AuditException
	for rows.Next() {
		ex, err := scanException(rows)
		if err != nil {
			return nil, err
		}
		exceptions = append(exceptions, ex)
	}
	return exceptions, rows.Err()
}

// UpdateShipmentStatus sets the status of one shipment.
func (r *SQLRepository) UpdateShipmentStatus(ctx context.Context, shipmentID int64, status domain.ShipmentStatus) error {
	query := `UPDATE shipments SET status = ? WHERE id = ?`

	result, err := r.db.ExecContext(ctx, r.rebind(query), status, shipmentID)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// WindowMetrics aggregates the raw dashboard counters for shipments
// created at or after since and exceptions raised at or after since.
// Derived percentages are left to the metrics service.
func (r *SQLRepository) WindowMetrics(ctx context.Context, since time.Time) (*domain.Metrics, error) {
	var m domain.Metrics

	shipmentQuery := `
		SELECT COUNT(*),
			   COALESCE(SUM(CASE WHEN status = 'delayed' THEN 1 ELSE 0 END), 0),
			   COALESCE(SUM(CASE WHEN status = 'exception' THEN 1 ELSE 0 END), 0)
		FROM shipments
		WHERE created_at >= ?
	`
	if err := r.db.QueryRowContext(ctx, r.rebind(shipmentQuery), since).Scan(
		&m.TotalShipments, &m.DelayedShipments, &m.ExceptionShipments,
	); err != nil {
		return nil, err
	}

	spendQuery := `
		SELECT COALESCE(SUM(i.billed_amount), 0)
		FROM invoices i
		JOIN shipments s ON s.id = i.shipment_id
		WHERE s.created_at >= ?
	`
	if err := r.db.QueryRowContext(ctx, r.rebind(spendQuery), since).Scan(&m.TotalSpend); err != nil {
		return nil, err
	}

	exceptionQuery := `
		SELECT COUNT(*), COALESCE(SUM(e.potential_savings), 0)
		FROM audit_exceptions e
		JOIN shipments s ON s.id = e.shipment_id
		WHERE s.created_at >= ?
	`
	if err := r.db.QueryRowContext(ctx, r.rebind(exceptionQuery), since).Scan(
		&m.TotalExceptions, &m.PotentialSavings,
	); err != nil {
		return nil, err
	}

	return &m, nil
}

// ExceptionsByType aggregates window exceptions per rule type.
func (r *SQLRepository) ExceptionsByType(ctx context.Context, since time.Time) (map[domain.ExceptionType]domain.TypeBreakdown, error) {
	query := `
		SELECT exception_type, COUNT(*), COALESCE(SUM(potential_savings), 0)
		FROM audit_exceptions
		WHERE created_at >= ?
		GROUP BY exception_type
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	breakdown := make(map[domain.ExceptionType]domain.TypeBreakdown)
	for rows.Next() {
		var t domain.ExceptionType
		var b domain.TypeBreakdown
		if err := rows.Scan(&t, &b.Count, &b.Savings); err != nil {
			return nil, err
		}
		breakdown[t] = b
	}
	return breakdown, rows.Err()
}

// LaneActivity returns the busiest lanes with their shipment, exception
// and savings totals.
func (r *SQLRepository) LaneActivity(ctx context.Context, limit int) ([]domain.LaneActivity, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT l.id, l.origin, l.destination,
			   COUNT(DISTINCT s.id),
			   COUNT(e.id),
			   COALESCE(SUM(e.potential_savings), 0)
		FROM shipping_lanes l
		LEFT JOIN shipments s ON s.lane_id = l.id
		LEFT JOIN audit_exceptions e ON e.shipment_id = s.id
		GROUP BY l.id, l.origin, l.destination
		ORDER BY 4 DESC, l.id
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lanes []domain.LaneActivity
	for rows.Next() {
		var la domain.LaneActivity
		if err := rows.Scan(
			&la.LaneID, &la.Origin, &la.Destination,
			&la.ShipmentCount, &la.ExceptionCount, &la.LaneSavings,
		); err != nil {
			return nil, err
		}
		lanes = append(lanes, la)
	}
	return lanes, rows.Err()
}

// ExceptionTrend returns per-day exception counts and savings for
// exceptions raised at or after since. Days without exceptions are
// absent; the metrics service zero-fills them.
func (r *SQLRepository) ExceptionTrend(ctx context.Context, since time.Time) ([]domain.TrendPoint, error) {
	day := r.dayExpr("created_at")
	query := fmt.Sprintf(`
		SELECT %s, COUNT(*), COALESCE(SUM(potential_savings), 0)
		FROM audit_exceptions
		WHERE created_at >= ?
		GROUP BY %s
		ORDER BY 1
	`, day, day)

	rows, err := r.db.QueryContext(ctx, r.rebind(query), since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []domain.TrendPoint
	for rows.Next() {
		var p domain.TrendPoint
		if err := rows.Scan(&p.Date, &p.Count, &p.Savings); err != nil {
			return nil, err
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

// RecentExceptions returns the newest exceptions joined with their
// shipment's tracking number and lane.
func (r *SQLRepository) RecentExceptions(ctx context.Context, limit int) ([]domain.ExceptionListing, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT e.id, e.shipment_id, e.exception_type, e.severity_score, e.details,
			   e.potential_savings, e.status, e.created_at,
			   s.tracking_number, l.origin, l.destination
		FROM audit_exceptions e
		JOIN shipments s ON s.id = e.shipment_id
		JOIN shipping_lanes l ON l.id = s.lane_id
		ORDER BY e.created_at DESC, e.id DESC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var listings []domain.ExceptionListing
	for rows.Next() {
		var li domain.ExceptionListing
		var details string
		if err := rows.Scan(
			&li.ID, &li.ShipmentID, &li.Type, &li.SeverityScore, &details,
			&li.PotentialSavings, &li.Status, &li.CreatedAt,
			&li.TrackingNumber, &li.Origin, &li.Destination,
		); err != nil {
			return nil, err
		}
		li.Details = decodeEvidence(li.Type, details)
		listings = append(listings, li)
	}
	return listings, rows.Err()
}

// DailyRollup computes the summary for a single calendar day directly
// from the fact tables.
func (r *SQLRepository) DailyRollup(ctx context.Context, day time.Time) (*domain.DailySummary, error) {
	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	dayEnd := dayStart.AddDate(0, 0, 1)

	s := &domain.DailySummary{SummaryDate: dayStart}

	shipmentQuery := `
		SELECT COUNT(*)
		FROM shipments
		WHERE created_at >= ? AND created_at < ?
	`
	if err := r.db.QueryRowContext(ctx, r.rebind(shipmentQuery), dayStart, dayEnd).Scan(&s.TotalShipments); err != nil {
		return nil, err
	}

	exceptionQuery := `
		SELECT COUNT(*), COALESCE(SUM(potential_savings), 0)
		FROM audit_exceptions
		WHERE created_at >= ? AND created_at < ?
	`
	if err := r.db.QueryRowContext(ctx, r.rebind(exceptionQuery), dayStart, dayEnd).Scan(
		&s.TotalExceptions, &s.TotalPotentialSavings,
	); err != nil {
		return nil, err
	}

	spendQuery := `
		SELECT COALESCE(SUM(billed_amount), 0)
		FROM invoices
		WHERE invoice_date >= ? AND invoice_date < ?
	`
	if err := r.db.QueryRowContext(ctx, r.rebind(spendQuery), dayStart, dayEnd).Scan(&s.TotalSpend); err != nil {
		return nil, err
	}

	return s, nil
}

// ReplaceDailySummaries atomically swaps the summary rows from since
// onward for the freshly computed set. Recomputation is idempotent.
func (r *SQLRepository) ReplaceDailySummaries(ctx context.Context, since time.Time, summaries []*domain.DailySummary) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	deleteQuery := `DELETE FROM audit_summary_daily WHERE summary_date >= ?`
	if _, err := tx.ExecContext(ctx, r.rebind(deleteQuery), since.UTC().Format(dayFormat)); err != nil {
		return err
	}

	insertQuery := `
		INSERT INTO audit_summary_daily (
			summary_date, total_shipments, total_exceptions,
			total_potential_savings, total_spend
		) VALUES (?, ?, ?, ?, ?)
	`
	for _, s := range summaries {
		if _, err := tx.ExecContext(ctx, r.rebind(insertQuery),
			s.SummaryDate.UTC().Format(dayFormat),
			s.TotalShipments, s.TotalExceptions,
			s.TotalPotentialSavings, s.TotalSpend,
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// ListDailySummaries returns stored summaries from since onward, oldest
// first.
func (r *SQLRepository) ListDailySummaries(ctx context.Context, since time.Time) ([]*domain.DailySummary, error) {
	query := `
		SELECT summary_date, total_shipments, total_exceptions,
			   total_potential_savings, total_spend
		FROM audit_summary_daily
		WHERE summary_date >= ?
		ORDER BY summary_date
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), since.UTC().Format(dayFormat))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summaries []*domain.DailySummary
	for rows.Next() {
		var s domain.DailySummary
		var day string
		if err := rows.Scan(
			&day, &s.TotalShipments, &s.TotalExceptions,
			&s.TotalPotentialSavings, &s.TotalSpend,
		); err != nil {
			return nil, err
		}
		s.SummaryDate, err = time.ParseInLocation(dayFormat, day, time.UTC)
		if err != nil {
			return nil, fmt.Errorf("parse summary date %q: %w", day, err)
		}
		summaries = append(summaries, &s)
	}
	return summaries, rows.Err()
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// insertID runs an INSERT and returns the generated row id. lib/pq does
// not support LastInsertId, so postgres goes through RETURNING instead.
func (r *SQLRepository) insertID(ctx context.Context, query string, args ...any) (int64, error) {
	if r.driver == "postgres" {
		var id int64
		err := r.db.QueryRowContext(ctx, r.rebind(query+" RETURNING id"), args...).Scan(&id)
		return id, err
	}

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// dayExpr renders a timestamp column as a YYYY-MM-DD string in the
// dialect at hand.
func (r *SQLRepository) dayExpr(column string) string {
	if r.driver == "postgres" {
		return fmt.Sprintf("to_char(%s, 'YYYY-MM-DD')", column)
	}
	return fmt.Sprintf("strftime('%%Y-%%m-%%d', %s)", column)
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}

func scanException(rows *sql.Rows) (*domain.AuditException, error) {
	var ex domain.AuditException
	var details string

	if err := rows.Scan(
		&ex.ID, &ex.ShipmentID, &ex.Type, &ex.SeverityScore, &details,
		&ex.PotentialSavings, &ex.Status, &ex.CreatedAt,
	); err != nil {
		return nil, err
	}

	ex.Details = decodeEvidence(ex.Type, details)
	return &ex, nil
}

// decodeEvidence reads persisted evidence back as generic fields keyed
// exactly as stored.
func decodeEvidence(t domain.ExceptionType, raw string) domain.Evidence {
	stored := domain.StoredEvidence{Type: t}
	if raw != "" {
		json.Unmarshal([]byte(raw), &stored.Fields)
	}
	return stored
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
