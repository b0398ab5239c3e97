package paymobwebhook

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/herfa-app/herfa-backend/internal/ledger"
	"github.com/herfa-app/herfa-backend/internal/notifications"
	"github.com/herfa-app/herfa-backend/pkg/db/models"
	"github.com/herfa-app/herfa-backend/pkg/enums"
	pkgerrors "github.com/herfa-app/herfa-backend/pkg/errors"
	"github.com/herfa-app/herfa-backend/pkg/logger"
	"github.com/herfa-app/herfa-backend/pkg/outbox"
	"github.com/herfa-app/herfa-backend/pkg/outbox/payloads"
)

const (
	topUpTitle        = "Wallet Top-up Successful"
	topUpBodyTemplate = "Your wallet has been topped up with %s %s"
)

// Outcome of a processed callback.
type Outcome string

const (
	OutcomeCredited  Outcome = "credited"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeFailed    Outcome = "failed"
	OutcomePending   Outcome = "pending"
)

type Result struct {
	Outcome     Outcome
	Transaction *models.Transaction
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type notifier interface {
	NotifyAll(ctx context.Context, reqs ...notifications.Request)
}

type Service interface {
	HandleCallback(ctx context.Context, cb *Callback) (*Result, error)
}

type ServiceParams struct {
	Ledger   ledger.Service
	Tx       txRunner
	Outbox   outboxPublisher
	Notifier notifier
	Logger   *logger.Logger
}

type service struct {
	ledger   ledger.Service
	tx       txRunner
	outbox   outboxPublisher
	notifier notifier
	logg     *logger.Logger
}

func NewService(params ServiceParams) (Service, error) {
	switch {
	case params.Ledger == nil:
		return nil, fmt.Errorf("ledger required")
	case params.Tx == nil:
		return nil, fmt.Errorf("transaction runner required")
	case params.Outbox == nil:
		return nil, fmt.Errorf("outbox publisher required")
	case params.Notifier == nil:
		return nil, fmt.Errorf("notifier required")
	case params.Logger == nil:
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		ledger:   params.Ledger,
		tx:       params.Tx,
		outbox:   params.Outbox,
		notifier: params.Notifier,
		logg:     params.Logger,
	}, nil
}

// HandleCallback credits the customer wallet for a successful payment. A
// callback for a transaction already credited is acknowledged as a duplicate.
func (s *service) HandleCallback(ctx context.Context, cb *Callback) (*Result, error) {
	if cb == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "callback is required")
	}
	ctx = s.logg.WithFields(ctx, map[string]any{
		"provider_ref": cb.EventID(),
		"order_id":     cb.Obj.Order.ID.String(),
	})
	if cb.Obj.Pending {
		s.logg.Info(ctx, "paymob transaction still pending")
		return &Result{Outcome: OutcomePending}, nil
	}
	if !cb.Obj.Success {
		s.logg.Warn(ctx, "paymob transaction failed")
		return &Result{Outcome: OutcomeFailed}, nil
	}

	userID, err := cb.UserID()
	if err != nil {
		return nil, err
	}
	ctx = s.logg.WithUserID(ctx, userID.String())

	var txn *models.Transaction
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		txn, err = s.ledger.WithTx(tx).TopUp(ctx, ledger.TopUpInput{
			OwnerType:   enums.WalletOwnerCustomer,
			OwnerID:     userID,
			AmountCents: cb.Obj.AmountCents,
			ProviderRef: cb.EventID(),
			OrderID:     cb.Obj.Order.ID.String(),
		})
		if err != nil {
			return err
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventWalletToppedUp,
			AggregateType: enums.AggregateWallet,
			AggregateID:   txn.WalletID,
			Version:       1,
			Data: payloads.WalletToppedUpEvent{
				WalletID:      txn.WalletID,
				TransactionID: txn.ID,
				AmountCents:   txn.AmountCents,
				ProviderRef:   cb.EventID(),
				OrderID:       cb.Obj.Order.ID.String(),
			},
		})
	})
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeDuplicateTopup) {
			s.logg.Info(ctx, "paymob transaction already credited")
			return &Result{Outcome: OutcomeDuplicate}, nil
		}
		return nil, err
	}

	s.logg.Info(s.logg.WithWalletID(ctx, txn.WalletID.String()), "wallet topped up")
	s.notifier.NotifyAll(ctx, notifications.Request{
		UserID: userID,
		Type:   enums.NotificationTypeWalletTopUp,
		Title:  topUpTitle,
		Body:   fmt.Sprintf(topUpBodyTemplate, ledger.FormatAmount(txn.AmountCents), txn.Currency),
		Data:   map[string]any{"transactionId": txn.ID.String()},
	})
	return &Result{Outcome: OutcomeCredited, Transaction: txn}, nil
}
