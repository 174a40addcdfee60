package invitecode

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate(t *testing.T) {
	for i := 0; i < 1000; i++ {
		code := Generate()
		require.Len(t, code, Length)
		for _, r := range code {
			require.True(t, strings.ContainsRune(Alphabet, r), "unexpected character %q in %q", r, code)
		}
		require.True(t, IsValid(code))
	}
}

func TestGenerateExcludesAmbiguousGlyphs(t *testing.T) {
	assert.NotContains(t, Alphabet, "0")
	assert.NotContains(t, Alphabet, "O")
	assert.NotContains(t, Alphabet, "1")
	assert.NotContains(t, Alphabet, "I")
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"k7p2q9 ", "K7P2Q9"},
		{"  a b c d e f  ", "ABCDEF"},
		{"k7p2q9extra", "K7P2Q9"},
		{"0o1i", ""},
		{"k-7_p.2q9", "K7P2Q9"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Normalize(tt.raw), "Normalize(%q)", tt.raw)
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{"k7p2q9 ", "weird 0O1I input", Generate(), "abcdefgh"}
	for _, raw := range inputs {
		once := Normalize(raw)
		assert.Equal(t, once, Normalize(once), "Normalize(%q) not idempotent", raw)
	}
}

func TestNormalizedOutputValidIfFullLength(t *testing.T) {
	for i := 0; i < 200; i++ {
		code := strings.ToLower(Generate()) + " "
		normalized := Normalize(code)
		require.True(t, IsValid(normalized))
	}
}

func TestIsValid(t *testing.T) {
	assert.True(t, IsValid("K7P2Q9"))
	assert.False(t, IsValid("K7P2Q"))   // too short
	assert.False(t, IsValid("K7P2Q9A")) // too long
	assert.False(t, IsValid("K7P2Q0"))  // 0 not in alphabet
	assert.False(t, IsValid("k7p2q9"))  // lowercase
	assert.False(t, IsValid(""))
}
