package promo

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

// Alphabet omits characters that are easy to confuse when typed: 0/O, 1/I/L.
const Alphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

const CodeLength = 8

// NewCode draws a random code from Alphabet.
func NewCode() (string, error) {
	var sb strings.Builder
	sb.Grow(CodeLength)
	max := big.NewInt(int64(len(Alphabet)))
	for i := 0; i < CodeLength; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("promo: read random: %w", err)
		}
		sb.WriteByte(Alphabet[n.Int64()])
	}
	return sb.String(), nil
}

// Normalize upper-cases and trims user input so codes compare exactly.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
