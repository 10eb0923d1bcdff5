// Package identity derives lookup keys from national identity numbers.
//
// The raw number is consumed once and never stored, logged, or returned; only
// the keyed digest and the trailing four digits leave this package.
package identity

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// NationalIDLength is the number of digits in a national identity number.
const NationalIDLength = 12

// ErrInvalidFormat is returned when the input is not a NationalIDLength-digit number.
var ErrInvalidFormat = errors.New("invalid identity format")

// Fingerprint is the persisted stand-in for a national identity number.
type Fingerprint struct {
	Digest   string
	LastFour string
}

// Masked renders the display form, e.g. XXXX-XXXX-1234.
func (f Fingerprint) Masked() string {
	return "XXXX-XXXX-" + f.LastFour
}

// Short returns a digest prefix suitable for logs and traces.
func (f Fingerprint) Short() string {
	if len(f.Digest) <= 16 {
		return f.Digest
	}
	return f.Digest[:16]
}

func (f Fingerprint) IsZero() bool {
	return f.Digest == ""
}

// Hasher computes fingerprints. It holds a process-wide pepper and is safe for
// concurrent use.
type Hasher struct {
	pepper []byte
}

// NewHasher creates a Hasher. An empty pepper yields unkeyed BLAKE2b-256.
func NewHasher(pepper []byte) (*Hasher, error) {
	if len(pepper) > blake2b.Size {
		return nil, fmt.Errorf("identity pepper longer than %d bytes", blake2b.Size)
	}
	key := make([]byte, len(pepper))
	copy(key, pepper)
	return &Hasher{pepper: key}, nil
}

// Fingerprint validates rawID and derives its digest and display suffix.
func (h *Hasher) Fingerprint(rawID string) (Fingerprint, error) {
	normalized, err := Normalize(rawID)
	if err != nil {
		return Fingerprint{}, err
	}
	mac, err := blake2b.New256(h.pepper)
	if err != nil {
		return Fingerprint{}, fmt.Errorf("init blake2b: %w", err)
	}
	mac.Write([]byte(normalized))
	return Fingerprint{
		Digest:   hex.EncodeToString(mac.Sum(nil)),
		LastFour: normalized[NationalIDLength-4:],
	}, nil
}

// Normalize strips surrounding whitespace and single group separators (space
// or hyphen) and checks the remaining characters are exactly NationalIDLength digits.
func Normalize(rawID string) (string, error) {
	trimmed := strings.TrimSpace(rawID)
	var b strings.Builder
	b.Grow(NationalIDLength)
	prevSep := true
	for _, r := range trimmed {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
			prevSep = false
		case (r == ' ' || r == '-') && !prevSep:
			prevSep = true
		default:
			return "", ErrInvalidFormat
		}
	}
	out := b.String()
	if prevSep || len(out) != NationalIDLength {
		return "", ErrInvalidFormat
	}
	return out, nil
}
