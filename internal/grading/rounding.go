package grading

import "math"

// round2 rounds half to even at 2 decimal places. Every strategy and the
// aggregator apply this same rule, so per-answer scores always add up to
// the stored total.
func round2(x float64) float64 {
	return math.RoundToEven(x*100) / 100
}
