package types

import (
	"fmt"
	"regexp"
)

// NationalID represents a Saudi national/iqama identification number (10 digits).
// The first digit distinguishes citizens (1) from residents (2); the last digit
// is a Luhn checksum over the preceding nine.
type NationalID string

var nationalIDRegex = regexp.MustCompile(`^[12]\d{9}$`)

// ParseNationalID validates and parses a national ID string
func ParseNationalID(s string) (NationalID, error) {
	if !nationalIDRegex.MatchString(s) {
		return "", fmt.Errorf("national ID must be 10 digits starting with 1 or 2")
	}

	id := NationalID(s)
	if !id.IsValid() {
		return "", fmt.Errorf("invalid national ID checksum")
	}

	return id, nil
}

// String returns the string representation
func (n NationalID) String() string {
	return string(n)
}

// Masked returns a masked version for display (first 3 digits visible)
func (n NationalID) Masked() string {
	if len(n) < 10 {
		return "**********"
	}
	return string(n)[:3] + "*******"
}

// IsValid validates the Luhn checksum
func (n NationalID) IsValid() bool {
	if len(n) != 10 {
		return false
	}

	sum := 0
	for i, c := range n {
		d := int(c - '0')
		if d < 0 || d > 9 {
			return false
		}
		// Double every digit in an odd position counted from the right
		if (10-i)%2 == 0 {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
	}

	return sum%10 == 0
}

// IsZero checks if the national ID is empty
func (n NationalID) IsZero() bool {
	return n == ""
}
