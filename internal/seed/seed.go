// Package seed generates server and client seeds and publishes server seed
// commitments.
package seed

import (
	crand "crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/MJE43/plinko-fair/internal/digest"
)

const (
	serverSeedBytes = 32
	clientSeedBytes = 8
)

// GenerateServerSeed returns 32 random bytes as lowercase hex.
func GenerateServerSeed() (string, error) {
	return randomHex(serverSeedBytes)
}

// GenerateClientSeed returns a short random seed for players who did not pick one.
func GenerateClientSeed() (string, error) {
	return randomHex(clientSeedBytes)
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := crand.Read(b); err != nil {
		return "", fmt.Errorf("read random seed: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Commit returns the hex digest of serverSeed, published before any round is played.
func Commit(serverSeed string, enc digest.Encoding) (string, error) {
	d, err := digest.SumText(serverSeed, enc)
	if err != nil {
		return "", err
	}
	return d.Hex(), nil
}

// VerifyCommitment reports whether a revealed seed matches its published commitment.
func VerifyCommitment(serverSeed, commitment string, enc digest.Encoding) bool {
	got, err := Commit(serverSeed, enc)
	if err != nil {
		return false
	}
	want := strings.ToLower(strings.TrimSpace(commitment))
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}
