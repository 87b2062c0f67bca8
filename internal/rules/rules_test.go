package rules

import (
	"testing"
	"time"

	"github.com/opensource-logistics/kestrel/internal/domain"
)

func testRecord(inv *domain.Invoice) *domain.ShipmentRecord {
	rec := &domain.ShipmentRecord{
		BaseRate:    500,
		Origin:      "CHI",
		Destination: "ATL",
		CarrierCode: "RDWY",
		Invoice:     inv,
	}
	rec.ID = 42
	rec.TrackingNumber = "TRK-RULE"
	rec.Weight = 1200
	rec.Status = domain.ShipmentDelivered
	return rec
}

func TestWeightRule(t *testing.T) {
	rule := weightRule{tolerance: 0.10}

	t.Run("WithinTolerance", func(t *testing.T) {
		rec := testRecord(&domain.Invoice{BilledWeight: 1320, BilledAmount: 500})
		if got := rule.Evaluate(rec); got != nil {
			t.Errorf("expected no exception at exactly tolerance, got %+v", got)
		}
	})

	t.Run("OverTolerance", func(t *testing.T) {
		rec := testRecord(&domain.Invoice{BilledWeight: 1400, BilledAmount: 500})

		got := rule.Evaluate(rec)
		if len(got) != 1 {
			t.Fatalf("expected 1 exception, got %d", len(got))
		}

		ex := got[0]
		if ex.Type != domain.ExceptionWeightDiscrepancy {
			t.Errorf("expected weight_discrepancy, got %s", ex.Type)
		}
		// (1400 - 1200) * (500 / 100) = 1000
		if ex.PotentialSavings != 1000 {
			t.Errorf("expected savings 1000, got %.2f", ex.PotentialSavings)
		}
		if ex.SeverityScore != 10 {
			t.Errorf("expected severity 10, got %d", ex.SeverityScore)
		}

		ev, ok := ex.Details.(domain.WeightEvidence)
		if !ok {
			t.Fatalf("expected WeightEvidence, got %T", ex.Details)
		}
		if ev.Difference != 200 {
			t.Errorf("expected difference 200, got %.2f", ev.Difference)
		}
		if ev.RatePerUnit != 5 {
			t.Errorf("expected rate per unit 5, got %.2f", ev.RatePerUnit)
		}
	})

	t.Run("NoInvoice", func(t *testing.T) {
		if got := rule.Evaluate(testRecord(nil)); got != nil {
			t.Errorf("expected no exception without invoice, got %+v", got)
		}
	})
}

func TestLateDeliveryRule(t *testing.T) {
	rule := lateDeliveryRule{thresholdDays: 1}
	expected := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	t.Run("MissingDates", func(t *testing.T) {
		rec := testRecord(&domain.Invoice{BilledAmount: 400})
		rec.ExpectedDelivery = &expected
		if got := rule.Evaluate(rec); got != nil {
			t.Errorf("expected no exception without actual delivery, got %+v", got)
		}

		rec.ExpectedDelivery = nil
		actual := expected.AddDate(0, 0, 5)
		rec.ActualDelivery = &actual
		if got := rule.Evaluate(rec); got != nil {
			t.Errorf("expected no exception without expected delivery, got %+v", got)
		}
	})

	t.Run("UnderThreshold", func(t *testing.T) {
		rec := testRecord(&domain.Invoice{BilledAmount: 400})
		actual := expected.Add(12 * time.Hour)
		rec.ExpectedDelivery = &expected
		rec.ActualDelivery = &actual

		if got := rule.Evaluate(rec); got != nil {
			t.Errorf("expected no exception half a day late, got %+v", got)
		}
	})

	t.Run("TwoDaysLate", func(t *testing.T) {
		rec := testRecord(&domain.Invoice{BilledAmount: 400})
		actual := expected.AddDate(0, 0, 2)
		rec.ExpectedDelivery = &expected
		rec.ActualDelivery = &actual

		got := rule.Evaluate(rec)
		if len(got) != 1 {
			t.Fatalf("expected 1 exception, got %d", len(got))
		}

		ex := got[0]
		// half credit on 400
		if ex.PotentialSavings != 200 {
			t.Errorf("expected savings 200, got %.2f", ex.PotentialSavings)
		}
		if ex.SeverityScore != 3 {
			t.Errorf("expected severity 3, got %d", ex.SeverityScore)
		}

		ev := ex.Details.(domain.LateDeliveryEvidence)
		if ev.DaysLate != 2 {
			t.Errorf("expected 2 days late, got %.1f", ev.DaysLate)
		}
		if !ev.CreditEligible {
			t.Error("expected credit eligible")
		}
		if ev.Carrier != "RDWY" {
			t.Errorf("expected carrier RDWY, got %s", ev.Carrier)
		}
	})

	t.Run("LateWithoutInvoice", func(t *testing.T) {
		rec := testRecord(nil)
		actual := expected.AddDate(0, 0, 4)
		rec.ExpectedDelivery = &expected
		rec.ActualDelivery = &actual

		got := rule.Evaluate(rec)
		if len(got) != 1 {
			t.Fatalf("expected 1 exception, got %d", len(got))
		}
		if got[0].PotentialSavings != 0 {
			t.Errorf("expected zero savings with no billed amount, got %.2f", got[0].PotentialSavings)
		}
		if ev := got[0].Details.(domain.LateDeliveryEvidence); ev.CreditEligible {
			t.Error("expected not credit eligible with no billed amount")
		}
	})

	t.Run("SeverityCapped", func(t *testing.T) {
		rec := testRecord(&domain.Invoice{BilledAmount: 400})
		actual := expected.AddDate(0, 0, 14)
		rec.ExpectedDelivery = &expected
		rec.ActualDelivery = &actual

		got := rule.Evaluate(rec)
		if got[0].SeverityScore != 10 {
			t.Errorf("expected severity capped at 10, got %d", got[0].SeverityScore)
		}
	})
}

func TestRateAbuseRule(t *testing.T) {
	rule := rateAbuseRule{threshold: 0.20}

	t.Run("AtCeiling", func(t *testing.T) {
		rec := testRecord(&domain.Invoice{BilledAmount: 600})
		if got := rule.Evaluate(rec); got != nil {
			t.Errorf("expected no exception at exactly the ceiling, got %+v", got)
		}
	})

	t.Run("OverCeiling", func(t *testing.T) {
		rec := testRecord(&domain.Invoice{BilledAmount: 750})

		got := rule.Evaluate(rec)
		if len(got) != 1 {
			t.Fatalf("expected 1 exception, got %d", len(got))
		}

		ex := got[0]
		// 750 - 500*1.2 = 150
		if ex.PotentialSavings != 150 {
			t.Errorf("expected savings 150, got %.2f", ex.PotentialSavings)
		}
		if ex.SeverityScore != 8 {
			t.Errorf("expected fixed severity 8, got %d", ex.SeverityScore)
		}
	})
}

func TestDuplicateInvoiceRule(t *testing.T) {
	rule := duplicateInvoiceRule{}

	t.Run("NoDuplicates", func(t *testing.T) {
		rec := testRecord(&domain.Invoice{ID: 7, BilledAmount: 900})
		if got := rule.Evaluate(rec); got != nil {
			t.Errorf("expected no exception without duplicates, got %+v", got)
		}
	})

	t.Run("Duplicates", func(t *testing.T) {
		rec := testRecord(&domain.Invoice{ID: 7, BilledAmount: 900})
		rec.DuplicateInvoices = 2

		got := rule.Evaluate(rec)
		if len(got) != 1 {
			t.Fatalf("expected 1 exception, got %d", len(got))
		}

		ex := got[0]
		if ex.SeverityScore != 10 {
			t.Errorf("expected severity 10, got %d", ex.SeverityScore)
		}
		// full billed amount recoverable
		if ex.PotentialSavings != 900 {
			t.Errorf("expected savings 900, got %.2f", ex.PotentialSavings)
		}

		ev := ex.Details.(domain.DuplicateInvoiceEvidence)
		if ev.DuplicateCount != 2 || ev.Tracking != "TRK-RULE" {
			t.Errorf("unexpected evidence: %+v", ev)
		}
	})
}

func TestFuelSurchargeRule(t *testing.T) {
	rule := fuelSurchargeRule{}

	t.Run("AtLimit", func(t *testing.T) {
		rec := testRecord(&domain.Invoice{BilledAmount: 400, FuelSurcharge: 100})
		if got := rule.Evaluate(rec); got != nil {
			t.Errorf("expected no exception at exactly the limit, got %+v", got)
		}
	})

	t.Run("OverLimit", func(t *testing.T) {
		rec := testRecord(&domain.Invoice{BilledAmount: 400, FuelSurcharge: 130})

		got := rule.Evaluate(rec)
		if len(got) != 1 {
			t.Fatalf("expected 1 exception, got %d", len(got))
		}

		ex := got[0]
		if ex.SeverityScore != 7 {
			t.Errorf("expected severity 7, got %d", ex.SeverityScore)
		}
		// 130 - 400*0.25 = 30
		if ex.PotentialSavings != 30 {
			t.Errorf("expected savings 30, got %.2f", ex.PotentialSavings)
		}

		ev := ex.Details.(domain.FuelSurchargeEvidence)
		if ev.ExpectedMax != 100 {
			t.Errorf("expected max 100, got %.2f", ev.ExpectedMax)
		}
	})
}

func TestAllRulesOrder(t *testing.T) {
	rules := AllRules(domain.DefaultAuditConfig())
	if len(rules) != 5 {
		t.Fatalf("expected 5 rules, got %d", len(rules))
	}

	want := []domain.ExceptionType{
		domain.ExceptionWeightDiscrepancy,
		domain.ExceptionLateDelivery,
		domain.ExceptionRateAbuse,
		domain.ExceptionDuplicateInvoice,
		domain.ExceptionFuelSurcharge,
	}
	for i, rule := range rules {
		if rule.Type() != want[i] {
			t.Errorf("rule %d: expected %s, got %s", i, want[i], rule.Type())
		}
	}
}
