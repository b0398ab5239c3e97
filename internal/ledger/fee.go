package ledger

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ParseFeeRatio parses a platform fee ratio such as "0.10". Valid ratios are in [0, 1).
func ParseFeeRatio(raw string) (decimal.Decimal, error) {
	ratio, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse fee ratio %q: %w", raw, err)
	}
	if err := validateRatio(ratio); err != nil {
		return decimal.Zero, err
	}
	return ratio, nil
}

func validateRatio(ratio decimal.Decimal) error {
	if ratio.IsNegative() || ratio.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("fee ratio %s must be in [0, 1)", ratio.String())
	}
	return nil
}

// SplitFee returns floor(amount * ratio) as the platform fee and the rest as payout.
func SplitFee(amountCents int64, ratio decimal.Decimal) (feeCents, payoutCents int64) {
	fee := decimal.NewFromInt(amountCents).Mul(ratio).Floor().IntPart()
	return fee, amountCents - fee
}

// FormatAmount renders minor units as a major-unit string, e.g. 270000 -> "2700.00".
func FormatAmount(amountCents int64) string {
	return decimal.New(amountCents, -2).StringFixed(2)
}
