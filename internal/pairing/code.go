package pairing

import (
	"crypto/rand"
	"fmt"
	"strings"
)

// codeAlphabet excludes visually ambiguous characters (0/O, 1/I/L) so codes
// survive being read off a TV screen and typed on a phone.
const codeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// newCode generates a random pairing code of the given length
func newCode(length int) (string, error) {
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate pairing code: %w", err)
	}

	for i, b := range buf {
		buf[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(buf), nil
}

// NormalizeCode trims and uppercases a presented code
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// isWellFormedCode checks the canonical code format before any store
// lookup, so malformed input is rejected cheaply
func isWellFormedCode(code string, length int) bool {
	if len(code) != length {
		return false
	}
	for i := 0; i < len(code); i++ {
		if !strings.ContainsRune(codeAlphabet, rune(code[i])) {
			return false
		}
	}
	return true
}
