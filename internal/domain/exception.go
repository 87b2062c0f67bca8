package domain

import (
	"encoding/json"
	"time"
)

// ExceptionType tags the audit rule that produced an exception.
type ExceptionType string

const (
	ExceptionWeightDiscrepancy ExceptionType = "weight_discrepancy"
	ExceptionLateDelivery      ExceptionType = "late_delivery"
	ExceptionRateAbuse         ExceptionType = "rate_abuse"
	ExceptionDuplicateInvoice  ExceptionType = "duplicate_invoice"
	ExceptionFuelSurcharge     ExceptionType = "fuel_surcharge_error"
)

// ExceptionStatus is the review-workflow state of an exception.
// Transitions past "new" are driven by the external review workflow.
type ExceptionStatus string

const (
	ExceptionNew      ExceptionStatus = "new"
	ExceptionReviewed ExceptionStatus = "reviewed"
	ExceptionDisputed ExceptionStatus = "disputed"
	ExceptionResolved ExceptionStatus = "resolved"
)

// Evidence is the rule-specific supporting detail attached to an exception.
// Each concrete evidence type marshals to a flat JSON object so downstream
// renderers can iterate its keys.
type Evidence interface {
	Kind() ExceptionType
}

// WeightEvidence supports a weight discrepancy exception.
type WeightEvidence struct {
	ActualWeight     float64 `json:"actual_weight"`
	BilledWeight     float64 `json:"billed_weight"`
	Difference       float64 `json:"difference"`
	ToleranceApplied float64 `json:"tolerance_applied"`
	RatePerUnit      float64 `json:"rate_per_unit"`
}

func (WeightEvidence) Kind() ExceptionType { return ExceptionWeightDiscrepancy }

// LateDeliveryEvidence supports a late delivery exception.
type LateDeliveryEvidence struct {
	Expected       time.Time `json:"expected"`
	Actual         time.Time `json:"actual"`
	DaysLate       float64   `json:"days_late"`
	CreditEligible bool      `json:"credit_eligible"`
	Carrier        string    `json:"carrier"`
}

func (LateDeliveryEvidence) Kind() ExceptionType { return ExceptionLateDelivery }

// RateAbuseEvidence supports a rate abuse exception.
type RateAbuseEvidence struct {
	ExpectedRate     float64 `json:"expected_rate"`
	BilledAmount     float64 `json:"billed_amount"`
	ThresholdApplied float64 `json:"threshold_applied"`
	Overcharge       float64 `json:"overcharge"`
}

func (RateAbuseEvidence) Kind() ExceptionType { return ExceptionRateAbuse }

// DuplicateInvoiceEvidence supports a duplicate invoice exception.
type DuplicateInvoiceEvidence struct {
	Tracking       string `json:"tracking"`
	DuplicateCount int64  `json:"duplicate_count"`
	CurrentInvoice int64  `json:"current_invoice"`
}

func (DuplicateInvoiceEvidence) Kind() ExceptionType { return ExceptionDuplicateInvoice }

// FuelSurchargeEvidence supports a fuel surcharge exception.
type FuelSurchargeEvidence struct {
	Charged     float64 `json:"charged"`
	ExpectedMax float64 `json:"expected_max"`
	Overcharge  float64 `json:"overcharge"`
}

func (FuelSurchargeEvidence) Kind() ExceptionType { return ExceptionFuelSurcharge }

// StoredEvidence is evidence read back from the repository, keyed exactly as
// persisted. The owning exception's Type carries the tag.
type StoredEvidence struct {
	Type   ExceptionType
	Fields map[string]any
}

func (e StoredEvidence) Kind() ExceptionType { return e.Type }

func (e StoredEvidence) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.Fields)
}

// AuditException is a detected billing or delivery discrepancy on one
// shipment. Created exclusively by the rule engine; never auto-deleted.
type AuditException struct {
	ID               int64           `json:"id"`
	ShipmentID       int64           `json:"shipmentId"`
	Type             ExceptionType   `json:"exceptionType"`
	SeverityScore    int             `json:"severityScore"`
	Details          Evidence        `json:"details"`
	PotentialSavings float64         `json:"potentialSavings"`
	Status           ExceptionStatus `json:"status"`
	CreatedAt        time.Time       `json:"createdAt"`
}

// UnmarshalJSON decodes the evidence payload into StoredEvidence, since
// Details is an interface and cannot be decoded directly.
func (e *AuditException) UnmarshalJSON(data []byte) error {
	type alias AuditException
	aux := struct {
		*alias
		Details json.RawMessage `json:"details"`
	}{alias: (*alias)(e)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if len(aux.Details) > 0 && string(aux.Details) != "null" {
		fields := make(map[string]any)
		if err := json.Unmarshal(aux.Details, &fields); err != nil {
			return err
		}
		e.Details = StoredEvidence{Type: e.Type, Fields: fields}
	}
	return nil
}

// AuditResult summarizes one shipment's audit run.
type AuditResult struct {
	ShipmentID            int64             `json:"shipment_id"`
	Tracking              string            `json:"tracking"`
	ExceptionsFound       int               `json:"exceptions_found"`
	Exceptions            []*AuditException `json:"exceptions"`
	TotalPotentialSavings float64           `json:"total_potential_savings"`
	AuditTimestamp        time.Time         `json:"audit_timestamp"`
}

// BatchEntry is one element of a batch audit's output. Exactly one of
// Result and Error is set; entries keep the order of the requested ids.
type BatchEntry struct {
	ShipmentID int64        `json:"shipment_id"`
	Result     *AuditResult `json:"result,omitempty"`
	Error      string       `json:"error,omitempty"`
}
