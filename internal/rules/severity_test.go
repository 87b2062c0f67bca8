package rules

import "testing"

func TestSeverity(t *testing.T) {
	cases := []struct {
		amount float64
		want   int
	}{
		{0, 1},
		{24.99, 1},
		{25, 2},
		{49.99, 2},
		{50, 4},
		{99.99, 4},
		{100, 6},
		{200, 6},
		{249.99, 6},
		{250, 8},
		{499.99, 8},
		{500, 10},
		{12000, 10},
	}

	for _, tc := range cases {
		if got := Severity(tc.amount); got != tc.want {
			t.Errorf("Severity(%.2f) = %d, want %d", tc.amount, got, tc.want)
		}
	}
}

func TestSeverityMonotonic(t *testing.T) {
	prev := 0
	for amount := 0.0; amount <= 600; amount += 0.5 {
		got := Severity(amount)
		if got < prev {
			t.Fatalf("Severity(%.2f) = %d dropped below %d", amount, got, prev)
		}
		prev = got
	}
}

func TestServiceCredit(t *testing.T) {
	cases := []struct {
		daysLate float64
		billed   float64
		want     float64
	}{
		{0.5, 100, 0},
		{0.99, 100, 0},
		{1, 100, 25},
		{1.5, 100, 25},
		{2, 100, 50},
		{2.99, 100, 50},
		{3, 100, 100},
		{10, 100, 100},
		{3, 0, 0},
	}

	for _, tc := range cases {
		if got := ServiceCredit(tc.daysLate, tc.billed); got != tc.want {
			t.Errorf("ServiceCredit(%.2f, %.2f) = %.2f, want %.2f", tc.daysLate, tc.billed, got, tc.want)
		}
	}
}

func TestLateSeverity(t *testing.T) {
	cases := []struct {
		daysLate float64
		want     int
	}{
		{1, 2},    // ceil(1.5)
		{1.5, 3},  // ceil(2.25)
		{4, 6},    // ceil(6)
		{6.7, 10}, // capped
		{20, 10},
	}

	for _, tc := range cases {
		if got := lateSeverity(tc.daysLate); got != tc.want {
			t.Errorf("lateSeverity(%.2f) = %d, want %d", tc.daysLate, got, tc.want)
		}
	}
}
