package enums

import (
	"fmt"
	"strings"
)

// Currency is an ISO 4217 code. Amounts are always stored in minor units.
type Currency string

const (
	CurrencyEGP Currency = "EGP"
	CurrencyUSD Currency = "USD"
)

// minorDigits is the exponent between major and minor units per currency.
var minorDigits = map[Currency]int32{
	CurrencyEGP: 2,
	CurrencyUSD: 2,
}

func (c Currency) String() string { return string(c) }

func (c Currency) IsValid() bool {
	_, ok := minorDigits[c]
	return ok
}

// MinorDigits reports how many decimal places the minor unit carries.
func (c Currency) MinorDigits() int32 {
	if d, ok := minorDigits[c]; ok {
		return d
	}
	return 2
}

// ParseCurrency accepts codes in any case, e.g. "egp".
func ParseCurrency(value string) (Currency, error) {
	c := Currency(strings.ToUpper(strings.TrimSpace(value)))
	if !c.IsValid() {
		return "", fmt.Errorf("unsupported currency %q", value)
	}
	return c, nil
}
