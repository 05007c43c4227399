// Package payout holds the curated Plinko multiplier tables keyed by board
// size and risk level.
package payout

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidRisk is returned for unknown risk names.
var ErrInvalidRisk = errors.New("invalid plinko risk")

// Risk selects one of the curated multiplier curves.
type Risk string

const (
	RiskLow    Risk = "low"
	RiskNormal Risk = "normal"
	RiskHigh   Risk = "high"
)

// Risks returns every supported risk level in display order.
func Risks() []Risk {
	return []Risk{RiskLow, RiskNormal, RiskHigh}
}

// ParseRisk normalises user and config input. "medium" is accepted for normal.
func ParseRisk(s string) (Risk, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return RiskLow, nil
	case "normal", "medium":
		return RiskNormal, nil
	case "high":
		return RiskHigh, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidRisk, s)
	}
}

func (r Risk) String() string { return string(r) }
