// Package sessioncode generates and normalizes the short, human-shareable
// codes hosts present to viewers. Generation follows the same
// crypto/rand-backed approach the teacher's internal/crypto package uses for
// nonces — uniqueness against the live registry is the caller's concern
// (see internal/registry).
package sessioncode

import (
	"crypto/rand"
	"strings"
)

// Alphabet excludes visually ambiguous characters: 0, O, I, 1, L.
const Alphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// Length is the fixed session code length.
const Length = 6

// Generate draws a cryptographically random code from Alphabet.
func Generate() (string, error) {
	raw := make([]byte, Length)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	out := make([]byte, Length)
	for i, b := range raw {
		out[i] = Alphabet[int(b)%len(Alphabet)]
	}
	return string(out), nil
}

// Normalize upper-cases and trims whitespace. Idempotent: Normalize(Normalize(x)) == Normalize(x).
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
