// Package plinko turns a round digest into a drop path and payout slot.
package plinko

import (
	"strings"

	"github.com/MJE43/plinko-fair/internal/digest"
)

const (
	Left  = 0
	Right = 1
)

// Path is the ordered left/right decision per row.
type Path []int

// Sum is the number of right decisions, which is the slot index.
func (p Path) Sum() int {
	total := 0
	for _, d := range p {
		total += d
	}
	return total
}

// Directions renders the path as "left"/"right" labels.
func (p Path) Directions() []string {
	out := make([]string, len(p))
	for i, d := range p {
		out[i] = "left"
		if d == Right {
			out[i] = "right"
		}
	}
	return out
}

// String renders the path as a compact 0/1 string.
func (p Path) String() string {
	var b strings.Builder
	b.Grow(len(p))
	for _, d := range p {
		b.WriteByte(byte('0' + d))
	}
	return b.String()
}

// MapToSlot derives one decision per row and reduces them to a slot.
//
// Row i reads the 2-hex-character window at hex offset (i*2) mod 64, i.e.
// digest byte i mod 32. Values above 127 go right. Boards with more than 32
// rows wrap around and reuse bytes from the start of the digest.
// rows <= 0 yields an empty path and slot 0.
func MapToSlot(d digest.Digest, rows int) (Path, int) {
	if rows <= 0 {
		return Path{}, 0
	}

	path := make(Path, rows)
	slot := 0
	for i := 0; i < rows; i++ {
		offset := (i * 2) % digest.HexSize
		b := d[offset/2]

		decision := Left
		if b > 127 {
			decision = Right
		}
		path[i] = decision
		slot += decision
	}
	return path, slot
}
