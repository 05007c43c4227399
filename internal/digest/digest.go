// Package digest implements the 256-bit streaming hash (FIPS 180-4 SHA-256)
// that every round commitment is built on.
//
// The implementation is self-contained so that the verification contract
// can be audited line by line against the published standard. Output is
// independent of host endianness and never touches floating point.
package digest

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"hash"
	"math/bits"
)

const (
	// Size is the digest length in bytes.
	Size = 32
	// BlockSize is the compression block length in bytes.
	BlockSize = 64
	// HexSize is the length of the lowercase hex form.
	HexSize = Size * 2
)

// First 32 bits of the fractional parts of the square roots of the first 8 primes.
var initState = [8]uint32{
	0x6a09e667, 0xbb67ae85, 0x3c6ef372, 0xa54ff53a, 0x510e527f, 0x9b05688c, 0x1f83d9ab, 0x5be0cd19,
}

// First 32 bits of the fractional parts of the cube roots of the first 64 primes.
var roundK = [64]uint32{
	0x428a2f98, 0x71374491, 0xb5c0fbcf, 0xe9b5dba5, 0x3956c25b, 0x59f111f1, 0x923f82a4, 0xab1c5ed5,
	0xd807aa98, 0x12835b01, 0x243185be, 0x550c7dc3, 0x72be5d74, 0x80deb1fe, 0x9bdc06a7, 0xc19bf174,
	0xe49b69c1, 0xefbe4786, 0x0fc19dc6, 0x240ca1cc, 0x2de92c6f, 0x4a7484aa, 0x5cb0a9dc, 0x76f988da,
	0x983e5152, 0xa831c66d, 0xb00327c8, 0xbf597fc7, 0xc6e00bf3, 0xd5a79147, 0x06ca6351, 0x14292967,
	0x27b70a85, 0x2e1b2138, 0x4d2c6dfc, 0x53380d13, 0x650a7354, 0x766a0abb, 0x81c2c92e, 0x92722c85,
	0xa2bfe8a1, 0xa81a664b, 0xc24b8b70, 0xc76c51a3, 0xd192e819, 0xd6990624, 0xf40e3585, 0x106aa070,
	0x19a4c116, 0x1e376c08, 0x2748774c, 0x34b0bcb5, 0x391c0cb3, 0x4ed8aa4a, 0x5b9cca4f, 0x682e6ff3,
	0x748f82ee, 0x78a5636f, 0x84c87814, 0x8cc70208, 0x90befffa, 0xa4506ceb, 0xbef9a3f7, 0xc67178f2,
}

// Digest is an immutable 32-byte fingerprint.
type Digest [Size]byte

// Hex returns the 64-character lowercase hex form used in audit records.
func (d Digest) Hex() string {
	return hex.EncodeToString(d[:])
}

func (d Digest) String() string {
	return d.Hex()
}

// MarshalText encodes the digest as lowercase hex so JSON output matches Hex.
func (d Digest) MarshalText() ([]byte, error) {
	return []byte(d.Hex()), nil
}

// UnmarshalText parses a hex digest.
func (d *Digest) UnmarshalText(text []byte) error {
	parsed, err := ParseHex(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// ParseHex decodes a 64-character hex string. Upper case input is accepted.
func ParseHex(s string) (Digest, error) {
	var d Digest
	if len(s) != HexSize {
		return d, fmt.Errorf("digest: hex length %d, want %d", len(s), HexSize)
	}
	if _, err := hex.Decode(d[:], []byte(s)); err != nil {
		return d, fmt.Errorf("digest: decode hex: %w", err)
	}
	return d, nil
}

// Sum returns the digest of data.
func Sum(data []byte) Digest {
	var h Hasher
	h.Reset()
	h.Write(data)
	return h.checkSum()
}

// SumHex is Sum followed by Hex.
func SumHex(data []byte) string {
	return Sum(data).Hex()
}

// Hasher is the streaming form. The zero value is not ready for use; call New or Reset.
type Hasher struct {
	h   [8]uint32
	buf [BlockSize]byte
	nx  int
	len uint64
}

var _ hash.Hash = (*Hasher)(nil)

// New returns a Hasher in its initial state.
func New() *Hasher {
	h := new(Hasher)
	h.Reset()
	return h
}

func (h *Hasher) Reset() {
	h.h = initState
	h.nx = 0
	h.len = 0
}

func (h *Hasher) Size() int { return Size }

func (h *Hasher) BlockSize() int { return BlockSize }

// Write absorbs p. It never returns an error.
func (h *Hasher) Write(p []byte) (int, error) {
	n := len(p)
	h.len += uint64(n)
	if h.nx > 0 {
		c := copy(h.buf[h.nx:], p)
		h.nx += c
		if h.nx == BlockSize {
			compress(&h.h, h.buf[:])
			h.nx = 0
		}
		p = p[c:]
	}
	for len(p) >= BlockSize {
		compress(&h.h, p[:BlockSize])
		p = p[BlockSize:]
	}
	if len(p) > 0 {
		h.nx = copy(h.buf[:], p)
	}
	return n, nil
}

// Sum appends the current digest to in without changing the hasher state.
func (h *Hasher) Sum(in []byte) []byte {
	dup := *h
	d := dup.checkSum()
	return append(in, d[:]...)
}

// Digest returns the current digest without changing the hasher state.
func (h *Hasher) Digest() Digest {
	dup := *h
	return dup.checkSum()
}

func (h *Hasher) checkSum() Digest {
	bitLen := h.len << 3

	// 0x80, zeros up to 56 mod 64, then the big-endian bit length.
	var pad [BlockSize + 8]byte
	pad[0] = 0x80
	rem := h.len % BlockSize
	padLen := uint64(56) - rem
	if rem >= 56 {
		padLen = BlockSize + 56 - rem
	}
	binary.BigEndian.PutUint64(pad[padLen:], bitLen)
	h.Write(pad[:padLen+8])

	if h.nx != 0 {
		panic("digest: padding left a partial block")
	}

	var out Digest
	for i, s := range h.h {
		binary.BigEndian.PutUint32(out[i*4:], s)
	}
	return out
}

func compress(state *[8]uint32, block []byte) {
	var w [64]uint32
	for i := 0; i < 16; i++ {
		w[i] = binary.BigEndian.Uint32(block[i*4:])
	}
	for i := 16; i < 64; i++ {
		w[i] = smallSigma1(w[i-2]) + w[i-7] + smallSigma0(w[i-15]) + w[i-16]
	}

	a, b, c, d := state[0], state[1], state[2], state[3]
	e, f, g, h := state[4], state[5], state[6], state[7]

	for i := 0; i < 64; i++ {
		t1 := h + bigSigma1(e) + ch(e, f, g) + roundK[i] + w[i]
		t2 := bigSigma0(a) + maj(a, b, c)
		h = g
		g = f
		f = e
		e = d + t1
		d = c
		c = b
		b = a
		a = t1 + t2
	}

	state[0] += a
	state[1] += b
	state[2] += c
	state[3] += d
	state[4] += e
	state[5] += f
	state[6] += g
	state[7] += h
}

func rotr(x uint32, n int) uint32 { return bits.RotateLeft32(x, -n) }

func ch(x, y, z uint32) uint32  { return (x & y) ^ (^x & z) }
func maj(x, y, z uint32) uint32 { return (x & y) ^ (x & z) ^ (y & z) }

func bigSigma0(x uint32) uint32   { return rotr(x, 2) ^ rotr(x, 13) ^ rotr(x, 22) }
func bigSigma1(x uint32) uint32   { return rotr(x, 6) ^ rotr(x, 11) ^ rotr(x, 25) }
func smallSigma0(x uint32) uint32 { return rotr(x, 7) ^ rotr(x, 18) ^ (x >> 3) }
func smallSigma1(x uint32) uint32 { return rotr(x, 17) ^ rotr(x, 19) ^ (x >> 10) }
