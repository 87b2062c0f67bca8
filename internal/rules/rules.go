package rules

import (
	"time"

	"github.com/opensource-logistics/kestrel/internal/domain"
)

// Rule is one independent audit check. Evaluate is pure: it inspects the
// loaded record and returns zero or more candidate exceptions without
// touching storage. A rule that lacks the inputs it needs stays silent
// rather than firing or erroring.
type Rule interface {
	Type() domain.ExceptionType
	Evaluate(rec *domain.ShipmentRecord) []*domain.AuditException
}

// maxFuelShare is the largest fraction of the billed amount a fuel
// surcharge may legitimately represent.
const maxFuelShare = 0.25

// AllRules returns the full rule set in its fixed evaluation order.
func AllRules(cfg domain.AuditConfig) []Rule {
	return []Rule{
		weightRule{tolerance: cfg.WeightTolerance},
		lateDeliveryRule{thresholdDays: cfg.LateThresholdDays},
		rateAbuseRule{threshold: cfg.RateThreshold},
		duplicateInvoiceRule{},
		fuelSurchargeRule{},
	}
}

// newException assembles a candidate exception. Savings are clamped to
// zero and rounded here, once.
func newException(shipmentID int64, severity int, savings float64, ev domain.Evidence) *domain.AuditException {
	if savings < 0 {
		savings = 0
	}
	return &domain.AuditException{
		ShipmentID:       shipmentID,
		Type:             ev.Kind(),
		SeverityScore:    severity,
		Details:          ev,
		PotentialSavings: round2(savings),
		Status:           domain.ExceptionNew,
		CreatedAt:        time.Now().UTC(),
	}
}

// weightRule flags invoices whose billed weight exceeds the actual
// shipment weight by more than the configured tolerance. The overcharge
// is priced at the lane base rate per hundredweight.
type weightRule struct {
	tolerance float64
}

func (weightRule) Type() domain.ExceptionType { return domain.ExceptionWeightDiscrepancy }

func (r weightRule) Evaluate(rec *domain.ShipmentRecord) []*domain.AuditException {
	if rec.Invoice == nil {
		return nil
	}
	actual := rec.Weight
	billed := rec.Invoice.BilledWeight
	if billed <= actual*(1+r.tolerance) {
		return nil
	}
	ratePerUnit := rec.BaseRate / 100
	overcharge := (billed - actual) * ratePerUnit
	ev := domain.WeightEvidence{
		ActualWeight:     actual,
		BilledWeight:     billed,
		Difference:       round2(billed - actual),
		ToleranceApplied: r.tolerance,
		RatePerUnit:      round2(ratePerUnit),
	}
	return []*domain.AuditException{
		newException(rec.ID, Severity(overcharge), overcharge, ev),
	}
}

// lateDeliveryRule fires when a delivered shipment arrived at least the
// threshold number of days past its expected delivery. Lateness is
// fractional, measured in 86400-second days.
type lateDeliveryRule struct {
	thresholdDays float64
}

func (lateDeliveryRule) Type() domain.ExceptionType { return domain.ExceptionLateDelivery }

func (r lateDeliveryRule) Evaluate(rec *domain.ShipmentRecord) []*domain.AuditException {
	if rec.ExpectedDelivery == nil || rec.ActualDelivery == nil {
		return nil
	}
	daysLate := rec.ActualDelivery.Sub(*rec.ExpectedDelivery).Seconds() / 86400
	if daysLate < r.thresholdDays {
		return nil
	}
	var billed float64
	if rec.Invoice != nil {
		billed = rec.Invoice.BilledAmount
	}
	credit := ServiceCredit(daysLate, billed)
	ev := domain.LateDeliveryEvidence{
		Expected:       rec.ExpectedDelivery.UTC(),
		Actual:         rec.ActualDelivery.UTC(),
		DaysLate:       round1(daysLate),
		CreditEligible: credit > 0,
		Carrier:        rec.CarrierCode,
	}
	return []*domain.AuditException{
		newException(rec.ID, lateSeverity(daysLate), credit, ev),
	}
}

// rateAbuseRule flags invoices billed above the lane base rate plus the
// configured threshold. Only the portion above the allowed ceiling is
// recoverable.
type rateAbuseRule struct {
	threshold float64
}

func (rateAbuseRule) Type() domain.ExceptionType { return domain.ExceptionRateAbuse }

func (r rateAbuseRule) Evaluate(rec *domain.ShipmentRecord) []*domain.AuditException {
	if rec.Invoice == nil {
		return nil
	}
	expectedMax := rec.BaseRate * (1 + r.threshold)
	billed := rec.Invoice.BilledAmount
	if billed <= expectedMax {
		return nil
	}
	overcharge := billed - expectedMax
	ev := domain.RateAbuseEvidence{
		ExpectedRate:     rec.BaseRate,
		BilledAmount:     billed,
		ThresholdApplied: r.threshold,
		Overcharge:       round2(overcharge),
	}
	return []*domain.AuditException{
		newException(rec.ID, 8, overcharge, ev),
	}
}

// duplicateInvoiceRule fires when any other invoice exists for the same
// tracking number. The whole billed amount of the current invoice is
// treated as recoverable.
type duplicateInvoiceRule struct{}

func (duplicateInvoiceRule) Type() domain.ExceptionType { return domain.ExceptionDuplicateInvoice }

func (duplicateInvoiceRule) Evaluate(rec *domain.ShipmentRecord) []*domain.AuditException {
	if rec.Invoice == nil || rec.DuplicateInvoices == 0 {
		return nil
	}
	ev := domain.DuplicateInvoiceEvidence{
		Tracking:       rec.TrackingNumber,
		DuplicateCount: rec.DuplicateInvoices,
		CurrentInvoice: rec.Invoice.ID,
	}
	return []*domain.AuditException{
		newException(rec.ID, 10, rec.Invoice.BilledAmount, ev),
	}
}

// fuelSurchargeRule flags fuel surcharges above the allowed share of the
// billed amount.
type fuelSurchargeRule struct{}

func (fuelSurchargeRule) Type() domain.ExceptionType { return domain.ExceptionFuelSurcharge }

func (fuelSurchargeRule) Evaluate(rec *domain.ShipmentRecord) []*domain.AuditException {
	if rec.Invoice == nil {
		return nil
	}
	expectedMax := rec.Invoice.BilledAmount * maxFuelShare
	charged := rec.Invoice.FuelSurcharge
	if charged <= expectedMax {
		return nil
	}
	overcharge := charged - expectedMax
	ev := domain.FuelSurchargeEvidence{
		Charged:     charged,
		ExpectedMax: round2(expectedMax),
		Overcharge:  round2(overcharge),
	}
	return []*domain.AuditException{
		newException(rec.ID, 7, overcharge, ev),
	}
}
