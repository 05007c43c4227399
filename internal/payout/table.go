package payout

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

const (
	MinRows = 8
	MaxRows = 16
)

var (
	// ErrConfig marks a payout table that must not be used.
	ErrConfig = errors.New("payout: invalid table configuration")
	// ErrCardinality marks an entry whose length is not rows+1.
	ErrCardinality = errors.New("payout: multiplier count must equal rows+1")
	// ErrNoTable is returned by lookups outside the configured board.
	ErrNoTable = errors.New("payout: no table for selection")
)

//go:embed tables.json
var defaultTablesJSON []byte

// Table maps (rows, risk) to slot multipliers. It is immutable after load.
type Table struct {
	entries map[Risk]map[int][]decimal.Decimal
}

// rawTables is the on-disk shape shared by the JSON and YAML loaders:
// risk -> rows -> multipliers.
type rawTables map[string]map[int][]float64

// Default parses and validates the embedded curated tables.
func Default() (*Table, error) {
	return LoadJSON(defaultTablesJSON)
}

// MustDefault is Default for package-level initialisation. The embedded data
// is part of the build, so a failure here is a broken binary.
func MustDefault() *Table {
	t, err := Default()
	if err != nil {
		panic(fmt.Sprintf("failed to load plinko payout tables: %v", err))
	}
	return t
}

// LoadJSON parses tables in the embedded JSON layout.
func LoadJSON(data []byte) (*Table, error) {
	raw := rawTables{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: parse json: %v", ErrConfig, err)
	}
	return build(raw)
}

// LoadYAML parses an operator supplied override file.
func LoadYAML(data []byte) (*Table, error) {
	raw := rawTables{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: parse yaml: %v", ErrConfig, err)
	}
	return build(raw)
}

// LoadFile picks the parser from the file extension.
func LoadFile(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrConfig, path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return LoadJSON(data)
	case ".yaml", ".yml":
		return LoadYAML(data)
	default:
		return nil, fmt.Errorf("%w: unsupported table file extension %q", ErrConfig, filepath.Ext(path))
	}
}

func build(raw rawTables) (*Table, error) {
	t := &Table{entries: make(map[Risk]map[int][]decimal.Decimal, len(raw))}

	for riskKey, rows := range raw {
		risk, err := ParseRisk(riskKey)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConfig, err)
		}
		if _, dup := t.entries[risk]; dup {
			return nil, fmt.Errorf("%w: risk %q defined twice", ErrConfig, risk)
		}

		t.entries[risk] = make(map[int][]decimal.Decimal, len(rows))
		for rowCount, multipliers := range rows {
			if rowCount < MinRows || rowCount > MaxRows {
				return nil, fmt.Errorf("%w: risk %s rows %d outside [%d,%d]", ErrConfig, risk, rowCount, MinRows, MaxRows)
			}

			expected := rowCount + 1
			if len(multipliers) != expected {
				return nil, fmt.Errorf("%w: risk %s rows %d: expected %d entries, got %d", ErrCardinality, risk, rowCount, expected, len(multipliers))
			}

			converted := make([]decimal.Decimal, expected)
			for i, m := range multipliers {
				if m < 0 {
					return nil, fmt.Errorf("%w: risk %s rows %d slot %d: negative multiplier %v", ErrConfig, risk, rowCount, i, m)
				}
				converted[i] = decimal.NewFromFloat(m)
			}
			t.entries[risk][rowCount] = converted
		}
	}

	for _, risk := range Risks() {
		for rows := MinRows; rows <= MaxRows; rows++ {
			if _, ok := t.entries[risk][rows]; !ok {
				return nil, fmt.Errorf("%w: missing table for risk %s rows %d", ErrConfig, risk, rows)
			}
		}
	}

	return t, nil
}

// Multipliers returns a copy of the slot multipliers for a board.
func (t *Table) Multipliers(rows int, risk Risk) ([]decimal.Decimal, error) {
	entry, err := t.lookup(rows, risk)
	if err != nil {
		return nil, err
	}
	out := make([]decimal.Decimal, len(entry))
	copy(out, entry)
	return out, nil
}

// Multiplier returns the payout for one slot.
func (t *Table) Multiplier(rows int, risk Risk, slot int) (decimal.Decimal, error) {
	entry, err := t.lookup(rows, risk)
	if err != nil {
		return decimal.Zero, err
	}
	if slot < 0 || slot >= len(entry) {
		return decimal.Zero, fmt.Errorf("payout: slot %d out of bounds for rows %d", slot, rows)
	}
	return entry[slot], nil
}

// Rows lists the configured row counts in ascending order.
func (t *Table) Rows() []int {
	seen := map[int]struct{}{}
	for _, byRows := range t.entries {
		for rows := range byRows {
			seen[rows] = struct{}{}
		}
	}
	out := make([]int, 0, len(seen))
	for rows := range seen {
		out = append(out, rows)
	}
	sort.Ints(out)
	return out
}

func (t *Table) lookup(rows int, risk Risk) ([]decimal.Decimal, error) {
	byRows, ok := t.entries[risk]
	if !ok {
		return nil, fmt.Errorf("%w: unknown risk %q", ErrNoTable, risk)
	}
	entry, ok := byRows[rows]
	if !ok {
		return nil, fmt.Errorf("%w: risk %s rows %d", ErrNoTable, risk, rows)
	}
	return entry, nil
}
