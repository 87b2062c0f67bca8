package repository

import "fmt"

// Schema definitions for the audit database.
// Compatible with both SQLite and PostgreSQL; the auto-increment primary
// key is the one spot the dialects disagree, so it is substituted per
// driver.

const schemaLanes = `
CREATE TABLE IF NOT EXISTS shipping_lanes (
    id %s,
    origin TEXT NOT NULL,
    destination TEXT NOT NULL,
    carrier_code TEXT NOT NULL,
    base_rate REAL NOT NULL,
    fuel_surcharge_pct REAL NOT NULL DEFAULT 0,
    transit_days INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_lanes_carrier ON shipping_lanes(carrier_code);
`

const schemaShipments = `
CREATE TABLE IF NOT EXISTS shipments (
    id %s,
    lane_id INTEGER NOT NULL,
    tracking_number TEXT NOT NULL,
    weight REAL NOT NULL,
    volume REAL NOT NULL DEFAULT 0,
    declared_value REAL NOT NULL DEFAULT 0,
    expected_delivery TIMESTAMP,
    actual_delivery TIMESTAMP,
    status TEXT NOT NULL DEFAULT 'pending',
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_shipments_lane ON shipments(lane_id);
CREATE INDEX IF NOT EXISTS idx_shipments_tracking ON shipments(tracking_number);
CREATE INDEX IF NOT EXISTS idx_shipments_status ON shipments(status);
CREATE INDEX IF NOT EXISTS idx_shipments_created ON shipments(created_at);
`

const schemaInvoices = `
CREATE TABLE IF NOT EXISTS invoices (
    id %s,
    shipment_id INTEGER NOT NULL,
    invoice_number TEXT NOT NULL,
    billed_weight REAL NOT NULL DEFAULT 0,
    billed_amount REAL NOT NULL,
    fuel_surcharge REAL NOT NULL DEFAULT 0,
    additional_charges TEXT,
    invoice_date TIMESTAMP NOT NULL,
    due_date TIMESTAMP,
    payment_status TEXT NOT NULL DEFAULT 'pending'
);

CREATE INDEX IF NOT EXISTS idx_invoices_shipment ON invoices(shipment_id);
CREATE INDEX IF NOT EXISTS idx_invoices_number ON invoices(invoice_number);
`

const schemaExceptions = `
CREATE TABLE IF NOT EXISTS audit_exceptions (
    id %s,
    shipment_id INTEGER NOT NULL,
    exception_type TEXT NOT NULL,
    severity_score INTEGER NOT NULL,
    details TEXT NOT NULL,
    potential_savings REAL NOT NULL DEFAULT 0,
    status TEXT NOT NULL DEFAULT 'new',
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_exceptions_shipment ON audit_exceptions(shipment_id);
CREATE INDEX IF NOT EXISTS idx_exceptions_type ON audit_exceptions(exception_type);
CREATE INDEX IF NOT EXISTS idx_exceptions_created ON audit_exceptions(created_at);
`

const schemaDailySummaries = `
CREATE TABLE IF NOT EXISTS audit_summary_daily (
    summary_date TEXT PRIMARY KEY,
    total_shipments INTEGER NOT NULL DEFAULT 0,
    total_exceptions INTEGER NOT NULL DEFAULT 0,
    total_potential_savings REAL NOT NULL DEFAULT 0,
    total_spend REAL NOT NULL DEFAULT 0
);
`

// AllSchemas returns all schema statements for the given driver, in
// dependency order.
func AllSchemas(driver string) []string {
	id := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if driver == "postgres" {
		id = "BIGSERIAL PRIMARY KEY"
	}

	templates := []string{
		schemaLanes,
		schemaShipments,
		schemaInvoices,
		schemaExceptions,
	}

	schemas := make([]string, 0, len(templates)+1)
	for _, t := range templates {
		schemas = append(schemas, fmt.Sprintf(t, id))
	}
	return append(schemas, schemaDailySummaries)
}
