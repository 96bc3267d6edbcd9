package utils

import (
	"strings"

	"github.com/shopspring/decimal"
)

// FormatAmount renders 102500 as "102,500 XAF".
func FormatAmount(amount decimal.Decimal, currency string) string {
	s := amount.Round(0).StringFixed(0)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")

	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	out := b.String()
	if neg {
		out = "-" + out
	}
	if currency == "" {
		return out
	}
	return out + " " + currency
}
