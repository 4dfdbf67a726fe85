// Package core provides money parsing and handling utilities.
//
// Amounts are shopspring decimals rounded to cents. Both dot (12.34) and
// comma (12,34) decimal separators are accepted on input.
package core

import (
	"strings"

	"github.com/shopspring/decimal"
)

// ParseDecimal parses a signed decimal string and rounds it half-up to two
// places. A comma is read as the decimal separator only when no dot is
// present.
//
// Examples:
//
//	ParseDecimal("12.34")  -> 12.34
//	ParseDecimal("-5,5")   -> -5.50
//	ParseDecimal("1.005")  -> 1.01
func ParseDecimal(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, NewValidationError("amount", "Amount is required")
	}
	if !strings.Contains(s, ".") {
		s = strings.Replace(s, ",", ".", 1)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, NewValidationError("amount", "invalid amount "+s)
	}
	return d.Round(2), nil
}

// ParseAmount parses a strictly positive amount.
func ParseAmount(s string) (decimal.Decimal, error) {
	d, err := ParseDecimal(s)
	if err != nil {
		return decimal.Zero, err
	}
	if !d.IsPositive() {
		return decimal.Zero, NewValidationError("amount", "Amount must be greater than 0")
	}
	return d, nil
}
