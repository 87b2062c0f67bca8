// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"time"
)

// ShipmentStatus is the lifecycle state of a shipment.
type ShipmentStatus string

const (
	ShipmentPending   ShipmentStatus = "pending"
	ShipmentDelivered ShipmentStatus = "delivered"
	ShipmentDelayed   ShipmentStatus = "delayed"
	ShipmentException ShipmentStatus = "exception"
)

// PaymentStatus is the settlement state of an invoice.
type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentDisputed PaymentStatus = "disputed"
)

// Lane is a contracted origin/destination/carrier route.
// Reference data: created at lane setup, rarely mutated.
type Lane struct {
	ID                   int64   `json:"id"`
	Origin               string  `json:"origin"`
	Destination          string  `json:"destination"`
	CarrierCode          string  `json:"carrierCode"`
	BaseRate             float64 `json:"baseRate"`
	FuelSurchargePercent float64 `json:"fuelSurchargePercent"`
	TransitDays          int     `json:"transitDays"`
}

// Shipment is one physical movement on a lane.
type Shipment struct {
	ID             int64          `json:"id"`
	LaneID         int64          `json:"laneId"`
	TrackingNumber string         `json:"trackingNumber"`
	Weight         float64        `json:"weight"`
	Volume         float64        `json:"volume"`
	DeclaredValue  float64        `json:"declaredValue"`

	// Delivery dates are nil until the corresponding event happens.
	ExpectedDelivery *time.Time `json:"expectedDelivery,omitempty"`
	ActualDelivery   *time.Time `json:"actualDelivery,omitempty"`

	Status    ShipmentStatus `json:"status"`
	CreatedAt time.Time      `json:"createdAt"`
}

// Invoice is the carrier's bill for one shipment. Immutable once created;
// corrections surface as new invoices or audit exceptions, never overwrites.
type Invoice struct {
	ID                int64              `json:"id"`
	ShipmentID        int64              `json:"shipmentId"`
	InvoiceNumber     string             `json:"invoiceNumber"`
	BilledWeight      float64            `json:"billedWeight"`
	BilledAmount      float64            `json:"billedAmount"`
	FuelSurcharge     float64            `json:"fuelSurcharge"`
	AdditionalCharges map[string]float64 `json:"additionalCharges,omitempty"`
	InvoiceDate       time.Time          `json:"invoiceDate"`
	DueDate           time.Time          `json:"dueDate"`
	PaymentStatus     PaymentStatus      `json:"paymentStatus"`
}

// ShipmentRecord is the joined snapshot the audit rules evaluate: the
// shipment, its lane pricing fields, and its most recent invoice when one
// exists. DuplicateInvoices is the count of other invoices sharing the
// tracking number, filled in by the engine before rules run so the rules
// themselves stay free of storage access.
type ShipmentRecord struct {
	Shipment

	// Lane fields needed by the rules.
	BaseRate    float64 `json:"baseRate"`
	Origin      string  `json:"origin"`
	Destination string  `json:"destination"`
	CarrierCode string  `json:"carrierCode"`

	// Invoice is nil for shipments not yet billed; invoice-dependent rules
	// then produce no candidates.
	Invoice *Invoice `json:"invoice,omitempty"`

	DuplicateInvoices int64 `json:"duplicateInvoices"`
}
