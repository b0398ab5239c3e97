package ledger

import (
	"github.com/google/uuid"

	pkgerrors "github.com/herfa-app/herfa-backend/pkg/errors"
)

func errInsufficientBalance(walletID uuid.UUID, amountCents int64) error {
	return pkgerrors.New(pkgerrors.CodeInsufficientBalance, "wallet balance is insufficient").
		WithDetails(map[string]any{"wallet_id": walletID, "amount_cents": amountCents})
}

func errInvalidHold(holdID uuid.UUID) error {
	return pkgerrors.New(pkgerrors.CodeInvalidHold, "hold transaction not found").
		WithDetails(map[string]any{"hold_transaction_id": holdID})
}

func errHoldAlreadySettled(holdID uuid.UUID) error {
	return pkgerrors.New(pkgerrors.CodeHoldAlreadySettled, "hold already released or captured").
		WithDetails(map[string]any{"hold_transaction_id": holdID})
}

func errWalletNotFound(walletID uuid.UUID) error {
	return pkgerrors.New(pkgerrors.CodeNotFound, "wallet not found").
		WithDetails(map[string]any{"wallet_id": walletID})
}

// errCreditMissed reports a credit that matched no wallet row even though the
// wallet was read inside the same transaction.
func errCreditMissed(walletID uuid.UUID, details map[string]any) error {
	fields := map[string]any{"wallet_id": walletID}
	for k, v := range details {
		fields[k] = v
	}
	return pkgerrors.New(pkgerrors.CodeDataIntegrity, "credit matched no wallet").WithDetails(fields)
}

func errDuplicateTopup(providerRef string, existing uuid.UUID) error {
	details := map[string]any{"provider_ref": providerRef}
	if existing != uuid.Nil {
		details["transaction_id"] = existing
	}
	return pkgerrors.New(pkgerrors.CodeDuplicateTopup, "top-up already credited").WithDetails(details)
}
