package services

import (
	"strings"

	"github.com/shopspring/decimal"
)

var currencySymbols = map[Currency]string{
	CurrencyRUB: "₽",
	CurrencyUSD: "$",
	CurrencyEUR: "€",
	CurrencyCNY: "¥",
}

// FormatMoney formats an amount the way estimates are printed: digits
// grouped by three with spaces, a comma before exactly 2 decimal places,
// and the currency symbol last (e.g., 1 234 567,89 ₽).
func FormatMoney(amount decimal.Decimal, currency Currency) string {
	negative := amount.IsNegative()
	raw := amount.Abs().StringFixed(2)

	parts := strings.SplitN(raw, ".", 2)
	result := groupThousands(parts[0]) + "," + parts[1]
	if negative {
		result = "-" + result
	}

	symbol, ok := currencySymbols[currency]
	if !ok {
		symbol = string(currency)
	}
	if symbol == "" {
		return result
	}
	return result + " " + symbol
}

// FormatQuantity prints a volume with up to 4 decimal places and no trailing zeros.
func FormatQuantity(q decimal.Decimal) string {
	return q.Round(4).String()
}

// groupThousands inserts a space between every 3 digits counted from the right.
func groupThousands(s string) string {
	n := len(s)
	if n <= 3 {
		return s
	}

	var b strings.Builder
	head := n % 3
	if head > 0 {
		b.WriteString(s[:head])
	}
	for i := head; i < n; i += 3 {
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}
