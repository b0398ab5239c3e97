package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/herfa-app/herfa-backend/api/responses"
	"github.com/herfa-app/herfa-backend/api/validators"
	"github.com/herfa-app/herfa-backend/internal/ledger"
	"github.com/herfa-app/herfa-backend/pkg/db/models"
	"github.com/herfa-app/herfa-backend/pkg/enums"
	pkgerrors "github.com/herfa-app/herfa-backend/pkg/errors"
	"github.com/herfa-app/herfa-backend/pkg/logger"
	"github.com/herfa-app/herfa-backend/pkg/pagination"
	"github.com/herfa-app/herfa-backend/pkg/types"
)

// WalletReader is the read side of the ledger exposed over HTTP.
type WalletReader interface {
	GetWalletByOwner(ctx context.Context, ownerType enums.WalletOwnerType, ownerID uuid.UUID) (*models.Wallet, error)
	ListTransactions(ctx context.Context, walletID uuid.UUID, params pagination.Params) (*types.CursorPage[models.Transaction], error)
}

type walletView struct {
	ID           *string `json:"id"`
	OwnerType    string  `json:"owner_type"`
	BalanceCents int64   `json:"balance_cents"`
	Balance      string  `json:"balance"`
	Currency     string  `json:"currency"`
}

type transactionView struct {
	ID                string     `json:"id"`
	Type              string     `json:"type"`
	AmountCents       int64      `json:"amount_cents"`
	Amount            string     `json:"amount"`
	Currency          string     `json:"currency"`
	Direction         string     `json:"direction"`
	Status            string     `json:"status"`
	AppointmentID     *uuid.UUID `json:"appointment_id,omitempty"`
	HoldTransactionID *uuid.UUID `json:"hold_transaction_id,omitempty"`
	HoldState         *string    `json:"hold_state,omitempty"`
	ProviderRef       *string    `json:"provider_ref,omitempty"`
	OrderID           *string    `json:"order_id,omitempty"`
	SettledAt         *time.Time `json:"settled_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}

func newTransactionView(t models.Transaction) transactionView {
	view := transactionView{
		ID:                t.ID.String(),
		Type:              string(t.Type),
		AmountCents:       t.AmountCents,
		Amount:            ledger.FormatAmount(t.AmountCents),
		Currency:          string(t.Currency),
		Direction:         string(t.Direction),
		Status:            string(t.Status),
		AppointmentID:     t.AppointmentID,
		HoldTransactionID: t.HoldTransactionID,
		ProviderRef:       t.ProviderRef,
		OrderID:           t.OrderID,
		SettledAt:         t.SettledAt,
		CreatedAt:         t.CreatedAt,
	}
	if t.HoldState != nil {
		state := string(*t.HoldState)
		view.HoldState = &state
	}
	return view
}

func walletOwner(role enums.UserRole) (enums.WalletOwnerType, error) {
	switch role {
	case enums.UserRoleCustomer:
		return enums.WalletOwnerCustomer, nil
	case enums.UserRoleCraftsman:
		return enums.WalletOwnerCraftsman, nil
	}
	return "", pkgerrors.New(pkgerrors.CodeForbidden, "role has no wallet")
}

// callerWallet resolves the caller's wallet. A nil wallet means none was created yet.
func callerWallet(r *http.Request, reader WalletReader) (*models.Wallet, enums.WalletOwnerType, error) {
	userID, role, err := requestActor(r)
	if err != nil {
		return nil, "", err
	}
	ownerType, err := walletOwner(role)
	if err != nil {
		return nil, "", err
	}
	wallet, err := reader.GetWalletByOwner(r.Context(), ownerType, userID)
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			return nil, ownerType, nil
		}
		return nil, "", err
	}
	return wallet, ownerType, nil
}

// GetWallet returns the caller's balance. Owners without a wallet see a zero balance.
func GetWallet(reader WalletReader, currency enums.Currency, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if reader == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "ledger unavailable"))
			return
		}
		wallet, ownerType, err := callerWallet(r, reader)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		view := walletView{
			OwnerType: string(ownerType),
			Balance:   ledger.FormatAmount(0),
			Currency:  string(currency),
		}
		if wallet != nil {
			id := wallet.ID.String()
			view.ID = &id
			view.BalanceCents = wallet.BalanceCents
			view.Balance = ledger.FormatAmount(wallet.BalanceCents)
			view.Currency = string(wallet.Currency)
		}
		responses.WriteSuccess(w, view)
	}
}

// ListWalletTransactions pages the caller's ledger entries, newest first.
func ListWalletTransactions(reader WalletReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if reader == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "ledger unavailable"))
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		wallet, _, err := callerWallet(r, reader)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if wallet == nil {
			responses.WriteSuccess(w, types.CursorPage[transactionView]{Items: []transactionView{}})
			return
		}

		page, err := reader.ListTransactions(r.Context(), wallet.ID, pagination.Params{
			Limit:  limit,
			Cursor: validators.QueryString(r, "cursor"),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		views := make([]transactionView, 0, len(page.Items))
		for _, t := range page.Items {
			views = append(views, newTransactionView(t))
		}
		responses.WriteSuccess(w, types.CursorPage[transactionView]{Items: views, NextCursor: page.NextCursor})
	}
}
