// Package cardnum generates and validates card identifiers: 16-digit
// Luhn-checked card numbers, 3-digit security codes and 4-digit PINs.
// The package is stateless; collision handling against existing cards
// belongs to the caller.
package cardnum

import (
	"crypto/rand"
	"fmt"
	"strings"
)

// Length is the fixed card number length.
const Length = 16

// PrefixLength is the fixed issuer prefix length.
const PrefixLength = 6

// Generate produces a card number of the form prefix + 9 random digits
// + 1 Luhn check digit. The prefix must be exactly 6 digits.
func Generate(prefix string) (string, error) {
	if len(prefix) != PrefixLength || !isDigits(prefix) {
		return "", fmt.Errorf("prefix must be %d digits: %q", PrefixLength, prefix)
	}

	random := make([]byte, Length-PrefixLength-1)
	if _, err := rand.Read(random); err != nil {
		return "", fmt.Errorf("failed to generate random digits: %w", err)
	}

	var builder strings.Builder
	builder.WriteString(prefix)
	for _, b := range random {
		builder.WriteByte(b%10 + '0')
	}

	body := builder.String()
	return body + string(checkDigit(body)), nil
}

// Validate reports whether s is exactly 16 numeric digits with a valid
// Luhn checksum. Used both as a self-check on generated numbers and on
// numbers presented externally before any lookup.
func Validate(s string) bool {
	if len(s) != Length || !isDigits(s) {
		return false
	}
	body := s[:Length-1]
	return s[Length-1] == checkDigit(body)
}

// GenerateSecurityCode produces a 3-digit code. No checksum.
func GenerateSecurityCode() (string, error) {
	return randomDigits(3)
}

// GeneratePIN produces a 4-digit PIN.
func GeneratePIN() (string, error) {
	return randomDigits(4)
}

// checkDigit computes the Luhn check digit for body: double every
// second digit from the right, subtract 9 when the doubled value
// exceeds 9, sum, then (10 - sum mod 10) mod 10.
func checkDigit(body string) byte {
	sum := 0
	double := true
	for i := len(body) - 1; i >= 0; i-- {
		d := int(body[i] - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return byte((10-sum%10)%10) + '0'
}

func randomDigits(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random digits: %w", err)
	}
	var builder strings.Builder
	for _, v := range b {
		builder.WriteByte(v%10 + '0')
	}
	return builder.String(), nil
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
