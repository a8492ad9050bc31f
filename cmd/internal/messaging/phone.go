package messaging

import "strings"

const (
	minPhoneDigits = 6
	maxPhoneDigits = 15
)

// NormalizePhone strips everything but digits. A leading international "00" is
// dropped; with a default country code a leading national "0" is replaced by it.
//
//	NormalizePhone("+383 44-123-456", "") == "38344123456"
//	NormalizePhone("044 123 456", "383") == "38344123456"
func NormalizePhone(raw, defaultCountryCode string) (string, error) {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()

	switch {
	case strings.HasPrefix(digits, "00"):
		digits = digits[2:]
	case strings.HasPrefix(digits, "0") && defaultCountryCode != "":
		digits = strings.Trim(defaultCountryCode, "+ ") + digits[1:]
	}

	if len(digits) < minPhoneDigits || len(digits) > maxPhoneDigits {
		return "", ErrInvalidPhone
	}
	return digits, nil
}
