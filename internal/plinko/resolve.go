package plinko

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/MJE43/plinko-fair/internal/payout"
)

const (
	DefaultRows = 16
	DefaultRisk = payout.RiskNormal
)

// ErrInvalidRows is returned for board sizes without a payout table.
var ErrInvalidRows = errors.New("plinko: invalid row count")

// Result is the display and payout view of a resolved path.
type Result struct {
	Rows       int             `json:"rows"`
	Risk       payout.Risk     `json:"risk"`
	Directions []string        `json:"directions"`
	PrizeIndex int             `json:"prize_index"`
	Multiplier decimal.Decimal `json:"multiplier"`
}

// Resolve looks the path's slot up in the payout table.
func Resolve(table *payout.Table, rows int, risk payout.Risk, path Path) (Result, error) {
	if err := ValidateRows(rows); err != nil {
		return Result{}, err
	}
	if len(path) != rows {
		return Result{}, fmt.Errorf("plinko: path has %d decisions, board has %d rows", len(path), rows)
	}

	prizeIndex := path.Sum()
	multiplier, err := table.Multiplier(rows, risk, prizeIndex)
	if err != nil {
		return Result{}, err
	}

	return Result{
		Rows:       rows,
		Risk:       risk,
		Directions: path.Directions(),
		PrizeIndex: prizeIndex,
		Multiplier: multiplier,
	}, nil
}

// ValidateRows checks a board size against the supported payout range.
func ValidateRows(rows int) error {
	if rows < payout.MinRows || rows > payout.MaxRows {
		return fmt.Errorf("%w: must be between %d and %d, got %d", ErrInvalidRows, payout.MinRows, payout.MaxRows, rows)
	}
	return nil
}

// ParseRows parses a board size from user input. Empty means DefaultRows.
func ParseRows(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return DefaultRows, nil
	}
	rows, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidRows, s)
	}
	if err := ValidateRows(rows); err != nil {
		return 0, err
	}
	return rows, nil
}

// ParseRisk parses a risk level from user input. Empty means DefaultRisk.
func ParseRisk(s string) (payout.Risk, error) {
	if strings.TrimSpace(s) == "" {
		return DefaultRisk, nil
	}
	return payout.ParseRisk(s)
}
