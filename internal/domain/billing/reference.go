package billing

import (
	"fmt"
	"strings"
)

var checkDigitWeights = [...]int{7, 3, 1}

// CheckDigit returns the check digit for a string of decimal digits. Digits
// are weighted 7, 3, 1 repeating from the rightmost one; the check digit
// brings the weighted sum up to the next multiple of ten.
func CheckDigit(digits string) int {
	sum := 0
	for i := 0; i < len(digits); i++ {
		d := int(digits[len(digits)-1-i] - '0')
		sum += d * checkDigitWeights[i%len(checkDigitWeights)]
	}
	return (10 - sum%10) % 10
}

// AppendCheckDigit returns digits followed by their check digit.
func AppendCheckDigit(digits string) string {
	return fmt.Sprintf("%s%d", digits, CheckDigit(digits))
}

// GenerateReferenceNumber builds the payment reference for a membership's
// bill in a given year: the id, the last two digits of the year and a check
// digit. Ids must be positive.
func GenerateReferenceNumber(membershipID int64, year int) string {
	return AppendCheckDigit(fmt.Sprintf("%d%02d", membershipID, year%100))
}

// NormalizeReference strips the spaces and leading zeros banks add when
// printing references.
func NormalizeReference(ref string) string {
	ref = strings.ReplaceAll(strings.TrimSpace(ref), " ", "")
	return strings.TrimLeft(ref, "0")
}

// ValidReferenceNumber reports whether ref is all digits, at least four long
// and ends in a correct check digit.
func ValidReferenceNumber(ref string) bool {
	if len(ref) < 4 {
		return false
	}
	for i := 0; i < len(ref); i++ {
		if ref[i] < '0' || ref[i] > '9' {
			return false
		}
	}
	body, last := ref[:len(ref)-1], int(ref[len(ref)-1]-'0')
	return CheckDigit(body) == last
}
