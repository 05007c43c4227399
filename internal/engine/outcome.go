// Package engine derives round outcomes from a committed server seed, a
// client seed and a per-round nonce.
package engine

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/MJE43/plinko-fair/internal/digest"
	"github.com/MJE43/plinko-fair/internal/plinko"
)

// MaxRows bounds a single outcome's path. The digest is reused cyclically
// past 32 rows, so this is a sanity limit, not a board-size check.
const MaxRows = 64

var (
	// ErrRowsOutOfRange is returned when rows falls outside [0, MaxRows].
	ErrRowsOutOfRange = errors.New("engine: rows out of range")
	// ErrNoncePersist is returned when the incremented nonce could not be
	// recorded. The round must not proceed.
	ErrNoncePersist = errors.New("engine: failed to persist nonce")
)

// RoundState is the full seed/nonce record for one session, including the
// unrevealed server seed. It never leaves the trust boundary.
type RoundState struct {
	SessionID      string    `json:"session_id"`
	ServerSeed     string    `json:"-"`
	ServerSeedHash string    `json:"server_seed_hash"`
	ClientSeed     string    `json:"client_seed"`
	Nonce          uint64    `json:"nonce"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Outcome is the audit record of one round.
type Outcome struct {
	Nonce     uint64        `json:"nonce"`
	Rows      int           `json:"rows"`
	Digest    digest.Digest `json:"-"`
	DigestHex string        `json:"digest"`
	Path      plinko.Path   `json:"path"`
	SlotIndex int           `json:"slot_index"`
}

// Message builds the hashed round message: serverSeed, then clientSeed,
// then ":" and the decimal nonce. Verifiers depend on this exact layout.
func Message(serverSeed, clientSeed string, nonce uint64) string {
	return serverSeed + clientSeed + ":" + strconv.FormatUint(nonce, 10)
}

// Compute is the pure verification function. Identical inputs always
// produce an identical Outcome.
func Compute(serverSeed, clientSeed string, nonce uint64, rows int, enc digest.Encoding) (Outcome, error) {
	if rows < 0 || rows > MaxRows {
		return Outcome{}, fmt.Errorf("%w: %d not in [0, %d]", ErrRowsOutOfRange, rows, MaxRows)
	}

	d, err := digest.SumText(Message(serverSeed, clientSeed, nonce), enc)
	if err != nil {
		return Outcome{}, fmt.Errorf("engine: encode round message: %w", err)
	}

	path, slot := plinko.MapToSlot(d, rows)
	return Outcome{
		Nonce:     nonce,
		Rows:      rows,
		Digest:    d,
		DigestHex: d.Hex(),
		Path:      path,
		SlotIndex: slot,
	}, nil
}

// Advance consumes the next nonce of state and computes its outcome. The
// returned state carries the incremented nonce; the input is left as is.
// The nonce advances even when the computation fails.
func Advance(state RoundState, rows int, enc digest.Encoding) (RoundState, Outcome, error) {
	next := state
	next.Nonce++
	next.UpdatedAt = time.Now().UTC()

	out, err := Compute(next.ServerSeed, next.ClientSeed, next.Nonce, rows, enc)
	if err != nil {
		return next, Outcome{}, err
	}
	return next, out, nil
}
