package fairness

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/MJE43/plinko-fair/internal/payout"
)

// DefaultCeiling is the house-edge policy limit on expected return, in percent.
var DefaultCeiling = decimal.NewFromInt(99)

var hundred = decimal.NewFromInt(100)

// ExpectedReturn computes sum(multiplier[k] * C(n,k) / 2^n) as a percentage.
// The result is exact: 2^-n terminates in decimal.
func ExpectedReturn(table *payout.Table, rows int, risk payout.Risk) (decimal.Decimal, error) {
	multipliers, err := table.Multipliers(rows, risk)
	if err != nil {
		return decimal.Zero, err
	}

	coeffs := BinomialRow(rows)
	if coeffs == nil {
		return decimal.Zero, fmt.Errorf("fairness: rows %d outside [0,%d]", rows, MaxN)
	}
	if len(coeffs) != len(multipliers) {
		return decimal.Zero, fmt.Errorf("fairness: %d multipliers for %d slots", len(multipliers), len(coeffs))
	}

	weighted := decimal.Zero
	for k, m := range multipliers {
		weighted = weighted.Add(m.Mul(decimal.NewFromInt(int64(coeffs[k]))))
	}

	outcomes := decimal.NewFromInt(int64(1) << uint(rows))
	return weighted.Mul(hundred).DivRound(outcomes, 24), nil
}

// Check is the verdict for one (rows, risk) combination.
type Check struct {
	Rows           int             `json:"rows"`
	Risk           payout.Risk     `json:"risk"`
	ExpectedReturn decimal.Decimal `json:"expected_return"`
	Pass           bool            `json:"pass"`
	Err            error           `json:"-"`
	Error          string          `json:"error,omitempty"`
}

// Report collects every check of a ValidateAll run.
type Report struct {
	Ceiling decimal.Decimal `json:"ceiling"`
	Checks  []Check         `json:"checks"`
}

// OK reports whether every combination passed.
func (r Report) OK() bool {
	return len(r.Failures()) == 0
}

// Failures returns the checks that exceeded the ceiling or could not be computed.
func (r Report) Failures() []Check {
	var out []Check
	for _, c := range r.Checks {
		if !c.Pass {
			out = append(out, c)
		}
	}
	return out
}

// Max returns the computed check with the highest expected return.
func (r Report) Max() (Check, bool) {
	var best Check
	found := false
	for _, c := range r.Checks {
		if c.Err != nil {
			continue
		}
		if !found || c.ExpectedReturn.GreaterThan(best.ExpectedReturn) {
			best = c
			found = true
		}
	}
	return best, found
}

// ValidateAll checks every supported board against ceiling. A failing or
// missing combination is recorded and the remaining ones are still checked.
func ValidateAll(table *payout.Table, ceiling decimal.Decimal) Report {
	report := Report{Ceiling: ceiling}

	for _, risk := range payout.Risks() {
		for rows := payout.MinRows; rows <= payout.MaxRows; rows++ {
			check := Check{Rows: rows, Risk: risk}

			rtp, err := ExpectedReturn(table, rows, risk)
			if err != nil {
				check.Err = err
				check.Error = err.Error()
			} else {
				check.ExpectedReturn = rtp
				check.Pass = rtp.LessThanOrEqual(ceiling)
			}

			report.Checks = append(report.Checks, check)
		}
	}

	return report
}
