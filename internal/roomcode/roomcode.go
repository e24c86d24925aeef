package roomcode

import (
	"crypto/rand"
	"math/big"
	"strings"
)

// alphabet omits 0/O and 1/I so codes survive being read aloud or
// scribbled on a whiteboard.
const alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// Length of every room code.
const Length = 6

// Generate returns a new random room code.
func Generate() string {
	var sb strings.Builder
	sb.Grow(Length)
	max := big.NewInt(int64(len(alphabet)))
	for i := 0; i < Length; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand only fails if the OS entropy source is broken
			panic(err)
		}
		sb.WriteByte(alphabet[n.Int64()])
	}
	return sb.String()
}

// Normalize upper-cases and trims a user-supplied code so lookups are
// case-insensitive.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Valid reports whether code is a well-formed room code after
// normalization.
func Valid(code string) bool {
	if len(code) != Length {
		return false
	}
	for i := 0; i < len(code); i++ {
		if !strings.ContainsRune(alphabet, rune(code[i])) {
			return false
		}
	}
	return true
}
