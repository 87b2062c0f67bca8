package domain

import (
	"encoding/json"
	"time"
)

// Metrics holds the dashboard KPIs for a trailing window.
type Metrics struct {
	TotalShipments     int64   `json:"total_shipments"`
	TotalSpend         float64 `json:"total_spend"`
	TotalExceptions    int64   `json:"total_exceptions"`
	PotentialSavings   float64 `json:"potential_savings"`
	DelayedShipments   int64   `json:"delayed_shipments"`
	ExceptionShipments int64   `json:"exception_shipments"`
	SavingsPercentage  float64 `json:"savings_percentage"`
	ExceptionRate      float64 `json:"exception_rate"`
}

// TypeBreakdown aggregates exceptions of one type within the window.
type TypeBreakdown struct {
	Count   int64   `json:"count"`
	Savings float64 `json:"savings"`
}

// LaneActivity is the per-lane rollup shown on the dashboard.
type LaneActivity struct {
	LaneID         int64   `json:"id"`
	Origin         string  `json:"origin"`
	Destination    string  `json:"destination"`
	ShipmentCount  int64   `json:"shipment_count"`
	ExceptionCount int64   `json:"exception_count"`
	LaneSavings    float64 `json:"lane_savings"`
}

// TrendPoint is one day of exception activity. Days with no exceptions
// appear with zero values so charts stay contiguous.
type TrendPoint struct {
	Date    string  `json:"date"` // YYYY-MM-DD
	Count   int64   `json:"count"`
	Savings float64 `json:"savings"`
}

// ExceptionListing is an exception joined with its shipment's tracking
// number and lane, for the dashboard's recent-exceptions table.
type ExceptionListing struct {
	AuditException
	TrackingNumber string `json:"trackingNumber"`
	Origin         string `json:"origin"`
	Destination    string `json:"destination"`
}

// UnmarshalJSON decodes both the embedded exception and the joined
// shipment fields; the exception's promoted decoder would otherwise
// drop the latter.
func (l *ExceptionListing) UnmarshalJSON(data []byte) error {
	if err := json.Unmarshal(data, &l.AuditException); err != nil {
		return err
	}
	var aux struct {
		TrackingNumber string `json:"trackingNumber"`
		Origin         string `json:"origin"`
		Destination    string `json:"destination"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	l.TrackingNumber = aux.TrackingNumber
	l.Origin = aux.Origin
	l.Destination = aux.Destination
	return nil
}

// DailySummary is the derived per-day rollup keyed by summary date.
// Purely derived state: safe to fully recompute from shipments, invoices
// and exceptions at any time.
type DailySummary struct {
	SummaryDate           time.Time `json:"summaryDate"`
	TotalShipments        int64     `json:"totalShipments"`
	TotalExceptions       int64     `json:"totalExceptions"`
	TotalPotentialSavings float64   `json:"totalPotentialSavings"`
	TotalSpend            float64   `json:"totalSpend"`
}

// Dashboard is the composite payload served to the dashboard UI.
type Dashboard struct {
	Metrics          *Metrics                        `json:"metrics"`
	Lanes            []LaneActivity                  `json:"lanes"`
	ExceptionsByType map[ExceptionType]TypeBreakdown `json:"exceptions_by_type"`
	Trend            []TrendPoint                    `json:"trend"`
	Exceptions       []ExceptionListing              `json:"exceptions"`
}
