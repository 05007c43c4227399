package digest

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// Encoding selects how a text message becomes hash input bytes.
type Encoding string

const (
	// EncodingLatin1 maps every code point up to 0xFF to a single byte and
	// rejects anything above. This is the byte-per-character layout public
	// verifiers reproduce.
	EncodingLatin1 Encoding = "latin1"
	// EncodingUTF8 hashes the UTF-8 bytes of the message.
	EncodingUTF8 Encoding = "utf8"
)

// ErrUnencodable is returned when a message cannot be represented in the
// selected encoding.
var ErrUnencodable = errors.New("digest: text not representable in encoding")

// ParseEncoding accepts the config spellings of an Encoding. Empty means Latin-1.
func ParseEncoding(s string) (Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "latin1", "latin-1", "iso-8859-1":
		return EncodingLatin1, nil
	case "utf8", "utf-8":
		return EncodingUTF8, nil
	default:
		return "", fmt.Errorf("digest: unknown encoding %q", s)
	}
}

// EncodeText converts s to hash input bytes.
func EncodeText(s string, enc Encoding) ([]byte, error) {
	switch enc {
	case EncodingLatin1, "":
		return encodeLatin1(s)
	case EncodingUTF8:
		if !utf8.ValidString(s) {
			return nil, fmt.Errorf("%w: invalid utf-8", ErrUnencodable)
		}
		return []byte(s), nil
	default:
		return nil, fmt.Errorf("digest: unknown encoding %q", enc)
	}
}

// SumText encodes s and hashes it.
func SumText(s string, enc Encoding) (Digest, error) {
	b, err := EncodeText(s, enc)
	if err != nil {
		return Digest{}, err
	}
	return Sum(b), nil
}

func encodeLatin1(s string) ([]byte, error) {
	out := make([]byte, 0, len(s))
	for i, r := range s {
		b, ok := charmap.ISO8859_1.EncodeRune(r)
		if !ok {
			return nil, fmt.Errorf("%w: rune %U at byte offset %d", ErrUnencodable, r, i)
		}
		out = append(out, b)
	}
	return out, nil
}
