package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/herfa-app/herfa-backend/pkg/db/dbtest"
	"github.com/herfa-app/herfa-backend/pkg/db/models"
	"github.com/herfa-app/herfa-backend/pkg/enums"
	pkgerrors "github.com/herfa-app/herfa-backend/pkg/errors"
	"github.com/herfa-app/herfa-backend/pkg/metrics"
	"github.com/herfa-app/herfa-backend/pkg/pagination"
)

var tenPercent = decimal.RequireFromString("0.10")

type fixture struct {
	db  *gorm.DB
	svc Service
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	conn := dbtest.Open(t)
	svc, err := NewService(conn, NewRepository(conn), Options{
		Metrics: metrics.NewLedgerMetrics(prometheus.NewRegistry()),
	})
	require.NoError(t, err)
	return fixture{db: conn, svc: svc}
}

// fundedWallet creates a customer wallet credited through a top-up.
func (f fixture) fundedWallet(t *testing.T, amountCents int64) *models.Wallet {
	t.Helper()
	ownerID := uuid.New()
	_, err := f.svc.TopUp(context.Background(), TopUpInput{
		OwnerType:   enums.WalletOwnerCustomer,
		OwnerID:     ownerID,
		AmountCents: amountCents,
		ProviderRef: "seed-" + uuid.NewString(),
	})
	require.NoError(t, err)
	wallet, err := f.svc.GetWalletByOwner(context.Background(), enums.WalletOwnerCustomer, ownerID)
	require.NoError(t, err)
	return wallet
}

func (f fixture) craftsmanWallet(t *testing.T) *models.Wallet {
	t.Helper()
	wallet, err := f.svc.EnsureWallet(context.Background(), enums.WalletOwnerCraftsman, uuid.New())
	require.NoError(t, err)
	return wallet
}

func (f fixture) balance(t *testing.T, walletID uuid.UUID) int64 {
	t.Helper()
	balance, err := f.svc.GetBalance(context.Background(), walletID)
	require.NoError(t, err)
	return balance
}

func (f fixture) assertReconciled(t *testing.T, walletID uuid.UUID) {
	t.Helper()
	report, err := f.svc.Reconcile(context.Background(), walletID)
	require.NoError(t, err)
	assert.Equal(t, report.BalanceCents, report.LedgerSumCents)
}

func requireCode(t *testing.T, err error, code pkgerrors.Code) {
	t.Helper()
	require.Error(t, err)
	require.Truef(t, pkgerrors.IsCode(err, code), "expected %s, got %v", code, err)
}

func TestNewServiceValidation(t *testing.T) {
	if _, err := NewService(nil, &repository{}, Options{}); err == nil {
		t.Fatalf("expected missing db error")
	}
	conn := dbtest.Open(t)
	if _, err := NewService(conn, nil, Options{}); err == nil {
		t.Fatalf("expected missing repo error")
	}
	if _, err := NewService(conn, NewRepository(conn), Options{Currency: "XYZ"}); err == nil {
		t.Fatalf("expected invalid currency error")
	}
}

func TestCreateWalletRejectsDuplicate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ownerID := uuid.New()

	wallet, err := f.svc.CreateWallet(ctx, enums.WalletOwnerCustomer, ownerID)
	require.NoError(t, err)
	assert.Zero(t, wallet.BalanceCents)
	assert.Equal(t, enums.CurrencyEGP, wallet.Currency)

	_, err = f.svc.CreateWallet(ctx, enums.WalletOwnerCustomer, ownerID)
	requireCode(t, err, pkgerrors.CodeDuplicateWallet)

	// Same owner id under the other role is a distinct wallet.
	_, err = f.svc.CreateWallet(ctx, enums.WalletOwnerCraftsman, ownerID)
	require.NoError(t, err)
}

func TestEnsureWalletIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ownerID := uuid.New()

	first, err := f.svc.EnsureWallet(ctx, enums.WalletOwnerCraftsman, ownerID)
	require.NoError(t, err)
	second, err := f.svc.EnsureWallet(ctx, enums.WalletOwnerCraftsman, ownerID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	_, err = f.svc.EnsureWallet(ctx, "merchant", ownerID)
	requireCode(t, err, pkgerrors.CodeValidation)
}

func TestPlaceHoldAndRelease(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	wallet := f.fundedWallet(t, 1000)

	hold, err := f.svc.PlaceHold(ctx, wallet.ID, 500, uuid.New())
	require.NoError(t, err)
	require.NotNil(t, hold.HoldState)
	assert.Equal(t, enums.HoldStateActive, *hold.HoldState)
	assert.EqualValues(t, 500, f.balance(t, wallet.ID))

	release, err := f.svc.ReleaseHold(ctx, hold.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.TransactionTypeRelease, release.Type)
	assert.Equal(t, enums.DirectionIn, release.Direction)
	assert.Equal(t, hold.ID, *release.HoldTransactionID)
	assert.EqualValues(t, 1000, f.balance(t, wallet.ID))

	stored, err := f.svc.GetHold(ctx, hold.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.HoldStateReleased, *stored.HoldState)
	assert.NotNil(t, stored.SettledAt)

	_, err = f.svc.ReleaseHold(ctx, hold.ID)
	requireCode(t, err, pkgerrors.CodeHoldAlreadySettled)
	assert.EqualValues(t, 1000, f.balance(t, wallet.ID))
	f.assertReconciled(t, wallet.ID)
}

func TestPlaceHoldInsufficientBalanceLeavesBalance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	wallet := f.fundedWallet(t, 10000)

	_, err := f.svc.PlaceHold(ctx, wallet.ID, 3000, uuid.New())
	require.NoError(t, err)
	assert.EqualValues(t, 7000, f.balance(t, wallet.ID))

	_, err = f.svc.PlaceHold(ctx, wallet.ID, 8000, uuid.New())
	requireCode(t, err, pkgerrors.CodeInsufficientBalance)
	assert.EqualValues(t, 7000, f.balance(t, wallet.ID))

	var holds int64
	require.NoError(t, f.db.Model(&models.Transaction{}).
		Where("wallet_id = ? AND type = ?", wallet.ID, enums.TransactionTypeHold).
		Count(&holds).Error)
	assert.EqualValues(t, 1, holds)
	f.assertReconciled(t, wallet.ID)
}

func TestPlaceHoldValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.PlaceHold(ctx, uuid.New(), 0, uuid.Nil)
	requireCode(t, err, pkgerrors.CodeValidation)

	_, err = f.svc.PlaceHold(ctx, uuid.New(), 100, uuid.Nil)
	requireCode(t, err, pkgerrors.CodeNotFound)
}

func TestCaptureAndSplit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	customer := f.fundedWallet(t, 10000)
	craftsman := f.craftsmanWallet(t)

	hold, err := f.svc.PlaceHold(ctx, customer.ID, 3000, uuid.New())
	require.NoError(t, err)

	result, err := f.svc.CaptureAndSplit(ctx, hold.ID, tenPercent, craftsman.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 3000, result.AmountCents)
	assert.EqualValues(t, 300, result.PlatformFeeCents)
	assert.EqualValues(t, 2700, result.PayoutCents)

	assert.Equal(t, enums.TransactionTypeCapture, result.Capture.Type)
	assert.Equal(t, enums.DirectionIn, result.Capture.Direction)
	assert.EqualValues(t, 3000, result.Capture.AmountCents)
	require.NotNil(t, result.Fee)
	assert.Equal(t, enums.TransactionTypeFee, result.Fee.Type)
	assert.Equal(t, enums.DirectionOut, result.Fee.Direction)
	assert.EqualValues(t, 300, result.Fee.AmountCents)

	assert.EqualValues(t, 2700, f.balance(t, craftsman.ID))
	assert.EqualValues(t, 7000, f.balance(t, customer.ID))
	f.assertReconciled(t, craftsman.ID)
	f.assertReconciled(t, customer.ID)

	_, err = f.svc.CaptureAndSplit(ctx, hold.ID, tenPercent, craftsman.ID)
	requireCode(t, err, pkgerrors.CodeHoldAlreadySettled)
	_, err = f.svc.ReleaseHold(ctx, hold.ID)
	requireCode(t, err, pkgerrors.CodeHoldAlreadySettled)
	assert.EqualValues(t, 2700, f.balance(t, craftsman.ID))
}

func TestCaptureAndSplitFloorsFee(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	customer := f.fundedWallet(t, 999)
	craftsman := f.craftsmanWallet(t)

	hold, err := f.svc.PlaceHold(ctx, customer.ID, 999, uuid.New())
	require.NoError(t, err)
	result, err := f.svc.CaptureAndSplit(ctx, hold.ID, tenPercent, craftsman.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 99, result.PlatformFeeCents)
	assert.EqualValues(t, 900, result.PayoutCents)
	f.assertReconciled(t, craftsman.ID)
}

func TestCaptureRejectsInvalidInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	customer := f.fundedWallet(t, 1000)
	craftsman := f.craftsmanWallet(t)

	_, err := f.svc.CaptureAndSplit(ctx, uuid.New(), tenPercent, craftsman.ID)
	requireCode(t, err, pkgerrors.CodeInvalidHold)

	var topUp models.Transaction
	require.NoError(t, f.db.Where("wallet_id = ? AND type = ?", customer.ID, enums.TransactionTypeTopUp).First(&topUp).Error)
	_, err = f.svc.ReleaseHold(ctx, topUp.ID)
	requireCode(t, err, pkgerrors.CodeInvalidHold)

	hold, err := f.svc.PlaceHold(ctx, customer.ID, 100, uuid.Nil)
	require.NoError(t, err)
	_, err = f.svc.CaptureAndSplit(ctx, hold.ID, decimal.NewFromInt(1), craftsman.ID)
	requireCode(t, err, pkgerrors.CodeValidation)
	_, err = f.svc.CaptureAndSplit(ctx, hold.ID, tenPercent, uuid.New())
	requireCode(t, err, pkgerrors.CodeNotFound)

	// Rejected captures must not consume the hold.
	stored, err := f.svc.GetHold(ctx, hold.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.HoldStateActive, *stored.HoldState)
}

func TestConcurrentSettlementConsumesHoldOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	customer := f.fundedWallet(t, 5000)
	craftsman := f.craftsmanWallet(t)
	hold, err := f.svc.PlaceHold(ctx, customer.ID, 5000, uuid.New())
	require.NoError(t, err)

	const attempts = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		settled   int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var err error
			if i%2 == 0 {
				_, err = f.svc.ReleaseHold(ctx, hold.ID)
			} else {
				_, err = f.svc.CaptureAndSplit(ctx, hold.ID, tenPercent, craftsman.ID)
			}
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case pkgerrors.IsCode(err, pkgerrors.CodeHoldAlreadySettled):
				settled++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, attempts-1, settled)

	var consumers int64
	require.NoError(t, f.db.Model(&models.Transaction{}).
		Where("hold_transaction_id = ? AND type IN ?", hold.ID, []enums.TransactionType{enums.TransactionTypeRelease, enums.TransactionTypeCapture}).
		Count(&consumers).Error)
	assert.EqualValues(t, 1, consumers)

	total := f.balance(t, customer.ID) + f.balance(t, craftsman.ID)
	assert.Contains(t, []int64{5000, 4500}, total)
	f.assertReconciled(t, customer.ID)
	f.assertReconciled(t, craftsman.ID)
}

func TestConcurrentHoldsNeverOverdraw(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	wallet := f.fundedWallet(t, 10000)

	const attempts = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		placed   int
		rejected int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.PlaceHold(ctx, wallet.ID, 3000, uuid.New())
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				placed++
			case pkgerrors.IsCode(err, pkgerrors.CodeInsufficientBalance):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, placed)
	assert.Equal(t, attempts-3, rejected)
	assert.Equal(t, int64(1000), f.balance(t, wallet.ID))

	var holds int64
	require.NoError(t, f.db.Model(&models.Transaction{}).
		Where("wallet_id = ? AND type = ?", wallet.ID, enums.TransactionTypeHold).
		Count(&holds).Error)
	assert.EqualValues(t, 3, holds)
	f.assertReconciled(t, wallet.ID)
}

// vanishingCredits reports every credit as matching no wallet row.
type vanishingCredits struct {
	Repository
}

func (v vanishingCredits) WithTx(tx *gorm.DB) Repository {
	return vanishingCredits{Repository: v.Repository.WithTx(tx)}
}

func (vanishingCredits) Credit(context.Context, uuid.UUID, int64) (bool, error) {
	return false, nil
}

func TestMissedCreditIsDataIntegrity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	customer := f.fundedWallet(t, 5000)
	craftsman := f.craftsmanWallet(t)
	hold, err := f.svc.PlaceHold(ctx, customer.ID, 3000, uuid.New())
	require.NoError(t, err)

	broken, err := NewService(f.db, vanishingCredits{Repository: NewRepository(f.db)}, Options{})
	require.NoError(t, err)

	_, err = broken.CaptureAndSplit(ctx, hold.ID, tenPercent, craftsman.ID)
	requireCode(t, err, pkgerrors.CodeDataIntegrity)
	_, err = broken.ReleaseHold(ctx, hold.ID)
	requireCode(t, err, pkgerrors.CodeDataIntegrity)
	_, err = broken.TopUp(ctx, TopUpInput{
		OwnerType:   enums.WalletOwnerCustomer,
		OwnerID:     customer.OwnerID,
		AmountCents: 100,
		ProviderRef: "lost-credit",
	})
	requireCode(t, err, pkgerrors.CodeDataIntegrity)

	stored, err := f.svc.GetHold(ctx, hold.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.HoldStateActive, *stored.HoldState, "failed settlement must roll back")
	assert.Equal(t, int64(2000), f.balance(t, customer.ID))
	assert.Zero(t, f.balance(t, craftsman.ID))
	f.assertReconciled(t, customer.ID)
	f.assertReconciled(t, craftsman.ID)
}

func TestTopUpDeduplicatesProviderRef(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ownerID := uuid.New()
	input := TopUpInput{
		OwnerType:   enums.WalletOwnerCustomer,
		OwnerID:     ownerID,
		AmountCents: 2500,
		ProviderRef: "r1",
		OrderID:     "order-77",
	}

	first, err := f.svc.TopUp(ctx, input)
	require.NoError(t, err)
	assert.Equal(t, "r1", *first.ProviderRef)
	assert.Equal(t, "order-77", *first.OrderID)

	_, err = f.svc.TopUp(ctx, input)
	requireCode(t, err, pkgerrors.CodeDuplicateTopup)

	wallet, err := f.svc.GetWalletByOwner(ctx, enums.WalletOwnerCustomer, ownerID)
	require.NoError(t, err)
	assert.EqualValues(t, 2500, wallet.BalanceCents)
	f.assertReconciled(t, wallet.ID)
}

func TestTopUpValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	base := TopUpInput{OwnerType: enums.WalletOwnerCustomer, OwnerID: uuid.New(), AmountCents: 10, ProviderRef: "x"}

	bad := base
	bad.AmountCents = -5
	_, err := f.svc.TopUp(ctx, bad)
	requireCode(t, err, pkgerrors.CodeValidation)

	bad = base
	bad.ProviderRef = "  "
	_, err = f.svc.TopUp(ctx, bad)
	requireCode(t, err, pkgerrors.CodeValidation)
}

func TestWithTxRollsBackWithOuterTransaction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	wallet := f.fundedWallet(t, 1000)
	boom := errors.New("outer failure")

	err := f.db.Transaction(func(tx *gorm.DB) error {
		if _, err := f.svc.WithTx(tx).PlaceHold(ctx, wallet.ID, 400, uuid.New()); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.EqualValues(t, 1000, f.balance(t, wallet.ID))

	var holds int64
	require.NoError(t, f.db.Model(&models.Transaction{}).Where("type = ?", enums.TransactionTypeHold).Count(&holds).Error)
	assert.Zero(t, holds)
}

func TestWithTxFailedCallKeepsOuterTransactionUsable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	wallet := f.fundedWallet(t, 1000)

	err := f.db.Transaction(func(tx *gorm.DB) error {
		ledger := f.svc.WithTx(tx)
		if _, err := ledger.PlaceHold(ctx, wallet.ID, 5000, uuid.Nil); !pkgerrors.IsCode(err, pkgerrors.CodeInsufficientBalance) {
			return errors.New("expected insufficient balance")
		}
		_, err := ledger.PlaceHold(ctx, wallet.ID, 600, uuid.Nil)
		return err
	})
	require.NoError(t, err)
	assert.EqualValues(t, 400, f.balance(t, wallet.ID))
}

func TestListTransactionsPaginates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	wallet := f.fundedWallet(t, 1000)
	for i := 0; i < 4; i++ {
		_, err := f.svc.PlaceHold(ctx, wallet.ID, 100, uuid.Nil)
		require.NoError(t, err)
	}

	seen := map[uuid.UUID]bool{}
	cursor := ""
	pages := 0
	for {
		page, err := f.svc.ListTransactions(ctx, wallet.ID, pagination.Params{Limit: 2, Cursor: cursor})
		require.NoError(t, err)
		pages++
		for _, item := range page.Items {
			assert.False(t, seen[item.ID], "duplicate row across pages")
			seen[item.ID] = true
		}
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}
	assert.Len(t, seen, 5)
	assert.Equal(t, 3, pages)

	_, err := f.svc.ListTransactions(ctx, wallet.ID, pagination.Params{Cursor: "not-base64!"})
	requireCode(t, err, pkgerrors.CodeValidation)
}

func TestReconcileDetectsDivergence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	wallet := f.fundedWallet(t, 1000)

	require.NoError(t, f.db.Model(&models.Wallet{}).Where("id = ?", wallet.ID).
		Update("balance_cents", 1200).Error)

	report, err := f.svc.Reconcile(ctx, wallet.ID)
	requireCode(t, err, pkgerrors.CodeDataIntegrity)
	assert.EqualValues(t, 1200, report.BalanceCents)
	assert.EqualValues(t, 1000, report.LedgerSumCents)

	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.False(t, pkgerrors.MetadataFor(typed.Code()).Retryable)
}

func TestBalanceMatchesLedgerAfterMixedSequence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	customer := f.fundedWallet(t, 20000)
	craftsman := f.craftsmanWallet(t)

	holds := make([]*models.Transaction, 0, 5)
	for _, amount := range []int64{1500, 2500, 3333, 700, 4000} {
		hold, err := f.svc.PlaceHold(ctx, customer.ID, amount, uuid.New())
		require.NoError(t, err)
		holds = append(holds, hold)
	}
	_, err := f.svc.ReleaseHold(ctx, holds[0].ID)
	require.NoError(t, err)
	_, err = f.svc.CaptureAndSplit(ctx, holds[1].ID, tenPercent, craftsman.ID)
	require.NoError(t, err)
	_, err = f.svc.CaptureAndSplit(ctx, holds[2].ID, decimal.RequireFromString("0.15"), craftsman.ID)
	require.NoError(t, err)
	_, err = f.svc.ReleaseHold(ctx, holds[3].ID)
	require.NoError(t, err)
	_, err = f.svc.TopUp(ctx, TopUpInput{OwnerType: enums.WalletOwnerCraftsman, OwnerID: craftsman.OwnerID, AmountCents: 50, ProviderRef: "r-mixed"})
	require.NoError(t, err)

	f.assertReconciled(t, customer.ID)
	f.assertReconciled(t, craftsman.ID)
	assert.EqualValues(t, 20000-2500-3333-4000, f.balance(t, customer.ID))
	// 2500 - 250 + 3333 - 499 + 50
	assert.EqualValues(t, 5134, f.balance(t, craftsman.ID))
}

func TestWalletsUpdatedSince(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	wallet := f.fundedWallet(t, 100)

	ids, err := f.svc.WalletsUpdatedSince(ctx, wallet.CreatedAt.Add(-1), 10)
	require.NoError(t, err)
	assert.Contains(t, ids, wallet.ID)
}
