package enums

import "fmt"

// WalletOwnerType identifies who a wallet belongs to.
type WalletOwnerType string

const (
	WalletOwnerCustomer  WalletOwnerType = "customer"
	WalletOwnerCraftsman WalletOwnerType = "craftsman"
)

var validWalletOwnerTypes = []WalletOwnerType{
	WalletOwnerCustomer,
	WalletOwnerCraftsman,
}

// String implements fmt.Stringer.
func (v WalletOwnerType) String() string {
	return string(v)
}

// IsValid reports whether the value is a known WalletOwnerType.
func (v WalletOwnerType) IsValid() bool {
	for _, candidate := range validWalletOwnerTypes {
		if candidate == v {
			return true
		}
	}
	return false
}

// ParseWalletOwnerType converts raw input into WalletOwnerType.
func ParseWalletOwnerType(value string) (WalletOwnerType, error) {
	for _, candidate := range validWalletOwnerTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid wallet owner type %q", value)
}
