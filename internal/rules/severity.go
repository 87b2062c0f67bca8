// Package rules provides the freight invoice audit rule engine.
package rules

import "math"

// Severity maps a monetary overcharge to an urgency score in [1,10].
// Monotonic non-decreasing in amount; bucket lower bounds are inclusive.
func Severity(amount float64) int {
	switch {
	case amount >= 500:
		return 10
	case amount >= 250:
		return 8
	case amount >= 100:
		return 6
	case amount >= 50:
		return 4
	case amount >= 25:
		return 2
	default:
		return 1
	}
}

// ServiceCredit returns the contractual refund owed for a late delivery.
// Tier boundaries at exactly 1, 2 and 3 days belong to the higher tier.
func ServiceCredit(daysLate, billedAmount float64) float64 {
	switch {
	case daysLate >= 3:
		return billedAmount
	case daysLate >= 2:
		return billedAmount * 0.5
	case daysLate >= 1:
		return billedAmount * 0.25
	default:
		return 0
	}
}

// lateSeverity scales lateness into [1,10].
func lateSeverity(daysLate float64) int {
	s := int(math.Ceil(daysLate * 1.5))
	if s > 10 {
		s = 10
	}
	if s < 1 {
		s = 1
	}
	return s
}

// round2 rounds currency to 2 decimal places. Applied once, at the point
// an exception is produced, so intermediate formula steps don't compound
// rounding error.
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
