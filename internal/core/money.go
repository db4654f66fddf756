// Package core provides amount parsing and formatting utilities.
//
// Amounts are whole rupiah held as int64; there is no minor unit.
package core

import (
	"strconv"
	"strings"
	"unicode"
)

// ParseAmount converts a user-entered amount string to whole rupiah.
//
// It tolerates thousand separators in both dot (10.000) and comma
// (10,000) conventions by stripping them. Only positive integer
// amounts are accepted.
//
// Examples:
//
//	ParseAmount("10000")  -> 10000, nil
//	ParseAmount("10.000") -> 10000, nil
//	ParseAmount("10,000") -> 10000, nil
//	ParseAmount("-5")     -> 0, ErrInvalidAmount
func ParseAmount(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrInvalidAmount
	}
	if strings.HasPrefix(s, "+") || strings.HasPrefix(s, "-") {
		return 0, ErrInvalidAmount
	}
	s = strings.ReplaceAll(s, ".", "")
	s = strings.ReplaceAll(s, ",", "")
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return 0, ErrInvalidAmount
		}
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	if v <= 0 {
		return 0, ErrInvalidAmount
	}
	return v, nil
}

// FormatRupiah renders an amount with dot thousand separators,
// e.g. 1250000 -> "Rp1.250.000".
func FormatRupiah(amount int64) string {
	neg := amount < 0
	if neg {
		amount = -amount
	}
	digits := strconv.FormatInt(amount, 10)
	var b strings.Builder
	for i, d := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(d)
	}
	if neg {
		return "-Rp" + b.String()
	}
	return "Rp" + b.String()
}
