package utils

import "strings"

// NormalizePhone rewrites Cameroonian numbers to +237XXXXXXXXX. Anything it
// does not recognise is returned as bare digits.
func NormalizePhone(phone string) string {
	var digits strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	d := digits.String()

	switch {
	case strings.HasPrefix(d, "237") && len(d) == 12:
		return "+" + d
	case len(d) == 9:
		return "+237" + d
	}
	return d
}

// ValidCameroonMobile accepts +2376XXXXXXXX after normalisation.
func ValidCameroonMobile(phone string) bool {
	n := NormalizePhone(phone)
	return len(n) == 13 && strings.HasPrefix(n, "+2376")
}

// MaskSensitive keeps the first visible characters and stars the rest.
func MaskSensitive(data string, visible int) string {
	if len(data) <= visible {
		return strings.Repeat("*", len(data))
	}
	return data[:visible] + strings.Repeat("*", len(data)-visible)
}
