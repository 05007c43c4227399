// Package fairness audits payout tables against the binomial landing model
// of a fair-coin Plinko board.
package fairness

import "math"

// MaxN is the largest row count whose coefficients fit the uint64 recurrence.
const MaxN = 60

// BinomialRow returns C(n,0..n) using c[k+1] = c[k]*(n-k)/(k+1).
// It returns nil for n outside [0, MaxN].
func BinomialRow(n int) []uint64 {
	if n < 0 || n > MaxN {
		return nil
	}

	row := make([]uint64, n+1)
	row[0] = 1
	for k := 0; k < n; k++ {
		// c[k]*(n-k) is always divisible by k+1.
		row[k+1] = row[k] * uint64(n-k) / uint64(k+1)
	}
	return row
}

// Probabilities returns the slot landing probabilities for an n-row board.
func Probabilities(n int) []float64 {
	row := BinomialRow(n)
	if row == nil {
		return nil
	}

	out := make([]float64, len(row))
	for k, c := range row {
		out[k] = math.Ldexp(float64(c), -n)
	}
	return out
}
