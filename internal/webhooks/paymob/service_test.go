package paymobwebhook

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/herfa-app/herfa-backend/internal/ledger"
	"github.com/herfa-app/herfa-backend/internal/notifications"
	dbpkg "github.com/herfa-app/herfa-backend/pkg/db"
	"github.com/herfa-app/herfa-backend/pkg/db/dbtest"
	"github.com/herfa-app/herfa-backend/pkg/db/models"
	"github.com/herfa-app/herfa-backend/pkg/enums"
	pkgerrors "github.com/herfa-app/herfa-backend/pkg/errors"
	"github.com/herfa-app/herfa-backend/pkg/logger"
	"github.com/herfa-app/herfa-backend/pkg/outbox"
)

type recordingNotifier struct {
	mu   sync.Mutex
	reqs []notifications.Request
}

func (r *recordingNotifier) NotifyAll(_ context.Context, reqs ...notifications.Request) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reqs = append(r.reqs, reqs...)
}

type fixture struct {
	svc      Service
	ledger   ledger.Service
	notifier *recordingNotifier
	count    func(eventType enums.OutboxEventType) int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	conn := dbtest.Open(t)
	led, err := ledger.NewService(conn, ledger.NewRepository(conn), ledger.Options{})
	require.NoError(t, err)
	notifier := &recordingNotifier{}
	svc, err := NewService(ServiceParams{
		Ledger:   led,
		Tx:       dbpkg.Wrap(conn),
		Outbox:   outbox.NewService(outbox.NewRepository(conn), nil),
		Notifier: notifier,
		Logger:   logger.New(logger.Options{ServiceName: "paymob-test", Output: io.Discard}),
	})
	require.NoError(t, err)
	return &fixture{
		svc:      svc,
		ledger:   led,
		notifier: notifier,
		count: func(eventType enums.OutboxEventType) int64 {
			var n int64
			require.NoError(t, conn.Model(&models.OutboxEvent{}).Where("event_type = ?", eventType).Count(&n).Error)
			return n
		},
	}
}

func callback(id string, userID uuid.UUID, amount int64, success bool) *Callback {
	return &Callback{
		Type: "TRANSACTION",
		Obj: Transaction{
			ID:          json.Number(id),
			Success:     success,
			AmountCents: amount,
			Order:       Order{ID: "7001", MerchantOrderID: userID.String() + "_1718000000"},
		},
	}
}

func TestHandleCallbackCreditsWallet(t *testing.T) {
	f := newFixture(t)
	userID := uuid.New()

	result, err := f.svc.HandleCallback(context.Background(), callback("880001", userID, 15000, true))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCredited, result.Outcome)
	require.NotNil(t, result.Transaction)
	assert.Equal(t, "880001", *result.Transaction.ProviderRef)
	assert.Equal(t, "7001", *result.Transaction.OrderID)

	wallet, err := f.ledger.GetWalletByOwner(context.Background(), enums.WalletOwnerCustomer, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(15000), wallet.BalanceCents)
	assert.Equal(t, int64(1), f.count(enums.EventWalletToppedUp))

	require.Len(t, f.notifier.reqs, 1)
	req := f.notifier.reqs[0]
	assert.Equal(t, userID, req.UserID)
	assert.Equal(t, enums.NotificationTypeWalletTopUp, req.Type)
	assert.Equal(t, "Wallet Top-up Successful", req.Title)
	assert.Equal(t, "Your wallet has been topped up with 150.00 EGP", req.Body)
	assert.Equal(t, result.Transaction.ID.String(), req.Data["transactionId"])
}

func TestHandleCallbackDuplicateIsAcknowledged(t *testing.T) {
	f := newFixture(t)
	userID := uuid.New()

	_, err := f.svc.HandleCallback(context.Background(), callback("880002", userID, 5000, true))
	require.NoError(t, err)
	result, err := f.svc.HandleCallback(context.Background(), callback("880002", userID, 5000, true))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, result.Outcome)

	wallet, err := f.ledger.GetWalletByOwner(context.Background(), enums.WalletOwnerCustomer, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), wallet.BalanceCents)
	assert.Equal(t, int64(1), f.count(enums.EventWalletToppedUp))
	assert.Len(t, f.notifier.reqs, 1)
}

func TestHandleCallbackFailedPaymentCreditsNothing(t *testing.T) {
	f := newFixture(t)
	userID := uuid.New()

	result, err := f.svc.HandleCallback(context.Background(), callback("880003", userID, 5000, false))
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, result.Outcome)

	_, err = f.ledger.GetWalletByOwner(context.Background(), enums.WalletOwnerCustomer, userID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
	assert.Empty(t, f.notifier.reqs)
}

func TestHandleCallbackPendingIsDeferred(t *testing.T) {
	f := newFixture(t)
	cb := callback("880004", uuid.New(), 5000, false)
	cb.Obj.Pending = true

	result, err := f.svc.HandleCallback(context.Background(), cb)
	require.NoError(t, err)
	assert.Equal(t, OutcomePending, result.Outcome)
	assert.Zero(t, f.count(enums.EventWalletToppedUp))
}

func TestHandleCallbackRejectsBadInput(t *testing.T) {
	f := newFixture(t)

	cb := callback("880005", uuid.New(), 5000, true)
	cb.Obj.Order.MerchantOrderID = "order-42"
	_, err := f.svc.HandleCallback(context.Background(), cb)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = f.svc.HandleCallback(context.Background(), callback("880006", uuid.New(), 0, true))
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	assert.Zero(t, f.count(enums.EventWalletToppedUp))
	assert.Empty(t, f.notifier.reqs)
}
