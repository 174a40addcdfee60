// Package invitecode generates and validates the short human-shareable
// codes that key open pairs.
package invitecode

import (
	"crypto/rand"
	"math/big"
	"strings"
)

const (
	// Length is the fixed code length.
	Length = 6
	// Alphabet excludes visually ambiguous glyphs (0/O, 1/I).
	Alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
)

// Generate draws a fresh code uniformly from the alphabet.
func Generate() string {
	code := make([]byte, Length)
	for i := range code {
		n, _ := rand.Int(rand.Reader, big.NewInt(int64(len(Alphabet))))
		code[i] = Alphabet[n.Int64()]
	}
	return string(code)
}

// Normalize uppercases the input, strips everything outside the alphabet
// and truncates to Length. Idempotent.
func Normalize(raw string) string {
	upper := strings.ToUpper(raw)
	var b strings.Builder
	b.Grow(Length)
	for _, r := range upper {
		if b.Len() == Length {
			break
		}
		if strings.ContainsRune(Alphabet, r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// IsValid reports whether code has exactly Length characters, all drawn
// from the alphabet.
func IsValid(code string) bool {
	if len(code) != Length {
		return false
	}
	for _, r := range code {
		if !strings.ContainsRune(Alphabet, r) {
			return false
		}
	}
	return true
}
