package enums

import "fmt"

// TransactionType classifies a ledger entry.
type TransactionType string

const (
	TransactionTypeTopUp   TransactionType = "topup"
	TransactionTypeHold    TransactionType = "hold"
	TransactionTypeCapture TransactionType = "capture"
	TransactionTypeRelease TransactionType = "release"
	TransactionTypePayout  TransactionType = "payout"
	TransactionTypeRefund  TransactionType = "refund"
	TransactionTypeFee     TransactionType = "fee"
)

var validTransactionTypes = []TransactionType{
	TransactionTypeTopUp,
	TransactionTypeHold,
	TransactionTypeCapture,
	TransactionTypeRelease,
	TransactionTypePayout,
	TransactionTypeRefund,
	TransactionTypeFee,
}

// IsValid reports whether the value matches a known transaction type.
func (t TransactionType) IsValid() bool {
	for _, candidate := range validTransactionTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseTransactionType converts raw input into TransactionType.
func ParseTransactionType(value string) (TransactionType, error) {
	for _, candidate := range validTransactionTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid transaction type %q", value)
}

// TransactionDirection says whether an entry credits or debits its wallet.
type TransactionDirection string

const (
	DirectionIn  TransactionDirection = "in"
	DirectionOut TransactionDirection = "out"
)

// IsValid reports whether the direction is in or out.
func (d TransactionDirection) IsValid() bool {
	return d == DirectionIn || d == DirectionOut
}

// Sign returns +1 for credits and -1 for debits.
func (d TransactionDirection) Sign() int64 {
	if d == DirectionOut {
		return -1
	}
	return 1
}

// TransactionStatus tracks provider-side settlement of an entry.
type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "pending"
	TransactionStatusSucceeded TransactionStatus = "succeeded"
	TransactionStatusFailed    TransactionStatus = "failed"
)

var validTransactionStatuses = []TransactionStatus{
	TransactionStatusPending,
	TransactionStatusSucceeded,
	TransactionStatusFailed,
}

// IsValid reports whether the value matches a known transaction status.
func (s TransactionStatus) IsValid() bool {
	for _, candidate := range validTransactionStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// HoldState is the consume-once marker carried by hold entries.
type HoldState string

const (
	HoldStateActive   HoldState = "active"
	HoldStateReleased HoldState = "released"
	HoldStateCaptured HoldState = "captured"
)

// Consumed reports whether a capture or release already claimed the hold.
func (h HoldState) Consumed() bool {
	return h == HoldStateReleased || h == HoldStateCaptured
}
