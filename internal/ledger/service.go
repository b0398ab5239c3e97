package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	dbpkg "github.com/herfa-app/herfa-backend/pkg/db"
	"github.com/herfa-app/herfa-backend/pkg/db/models"
	"github.com/herfa-app/herfa-backend/pkg/enums"
	pkgerrors "github.com/herfa-app/herfa-backend/pkg/errors"
	"github.com/herfa-app/herfa-backend/pkg/logger"
	"github.com/herfa-app/herfa-backend/pkg/metrics"
	"github.com/herfa-app/herfa-backend/pkg/pagination"
	"github.com/herfa-app/herfa-backend/pkg/types"
)

const (
	walletOwnerConstraint = "ux_wallets_owner"
	topUpRefConstraint    = "ux_transactions_topup_provider_ref"
	holdConsumerIndex     = "ux_transactions_hold_consumer"

	opCreateWallet = "create_wallet"
	opPlaceHold    = "place_hold"
	opReleaseHold  = "release_hold"
	opCapture      = "capture_and_split"
	opTopUp        = "topup"
)

// Service is the wallet ledger. Every balance change is paired with an
// appended transaction row inside one database transaction.
type Service interface {
	WithTx(tx *gorm.DB) Service
	CreateWallet(ctx context.Context, ownerType enums.WalletOwnerType, ownerID uuid.UUID) (*models.Wallet, error)
	EnsureWallet(ctx context.Context, ownerType enums.WalletOwnerType, ownerID uuid.UUID) (*models.Wallet, error)
	PlaceHold(ctx context.Context, walletID uuid.UUID, amountCents int64, appointmentID uuid.UUID) (*models.Transaction, error)
	ReleaseHold(ctx context.Context, holdID uuid.UUID) (*models.Transaction, error)
	CaptureAndSplit(ctx context.Context, holdID uuid.UUID, feeRatio decimal.Decimal, payeeWalletID uuid.UUID) (*CaptureResult, error)
	TopUp(ctx context.Context, input TopUpInput) (*models.Transaction, error)
	GetHold(ctx context.Context, holdID uuid.UUID) (*models.Transaction, error)
	GetBalance(ctx context.Context, walletID uuid.UUID) (int64, error)
	GetWalletByOwner(ctx context.Context, ownerType enums.WalletOwnerType, ownerID uuid.UUID) (*models.Wallet, error)
	ListTransactions(ctx context.Context, walletID uuid.UUID, params pagination.Params) (*types.CursorPage[models.Transaction], error)
	Reconcile(ctx context.Context, walletID uuid.UUID) (*ReconcileReport, error)
	WalletsUpdatedSince(ctx context.Context, since time.Time, limit int) ([]uuid.UUID, error)
}

// TopUpInput is a trusted credit produced by the payment provider.
type TopUpInput struct {
	OwnerType   enums.WalletOwnerType
	OwnerID     uuid.UUID
	AmountCents int64
	ProviderRef string
	OrderID     string
}

// CaptureResult reports the rows appended by a capture and the resulting split.
type CaptureResult struct {
	Capture          models.Transaction
	Fee              *models.Transaction
	AmountCents      int64
	PlatformFeeCents int64
	PayoutCents      int64
}

// ReconcileReport compares the cached balance with the transaction log.
type ReconcileReport struct {
	WalletID       uuid.UUID
	BalanceCents   int64
	LedgerSumCents int64
}

// Options configures a ledger service.
type Options struct {
	Currency enums.Currency
	Metrics  *metrics.LedgerMetrics
	Logger   *logger.Logger
	Now      func() time.Time
}

type service struct {
	db       *gorm.DB
	repo     Repository
	currency enums.Currency
	metrics  *metrics.LedgerMetrics
	logg     *logger.Logger
	now      func() time.Time
}

// NewService wires a ledger service with the provided database and repository.
func NewService(db *gorm.DB, repo Repository, opts Options) (Service, error) {
	if db == nil {
		return nil, fmt.Errorf("ledger database required")
	}
	if repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	currency := opts.Currency
	if currency == "" {
		currency = enums.CurrencyEGP
	}
	if !currency.IsValid() {
		return nil, fmt.Errorf("invalid ledger currency %q", currency)
	}
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &service{
		db:       db,
		repo:     repo,
		currency: currency,
		metrics:  opts.Metrics,
		logg:     opts.Logger,
		now:      now,
	}, nil
}

// WithTx returns a ledger whose operations join tx. Each operation still runs
// in its own savepoint, so a failed call leaves the outer transaction usable.
func (s *service) WithTx(tx *gorm.DB) Service {
	if tx == nil {
		return s
	}
	clone := *s
	clone.db = tx
	clone.repo = s.repo.WithTx(tx)
	return &clone
}

func (s *service) inTx(ctx context.Context, fn func(tx *gorm.DB, repo Repository) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(tx, s.repo.WithTx(tx))
	})
}

func (s *service) CreateWallet(ctx context.Context, ownerType enums.WalletOwnerType, ownerID uuid.UUID) (*models.Wallet, error) {
	if err := validateOwner(ownerType, ownerID); err != nil {
		return nil, err
	}
	wallet := &models.Wallet{OwnerType: ownerType, OwnerID: ownerID, Currency: s.currency}
	err := s.inTx(ctx, func(_ *gorm.DB, repo Repository) error {
		return repo.CreateWallet(ctx, wallet)
	})
	if err != nil {
		if dbpkg.IsUniqueViolation(err, walletOwnerConstraint) {
			return nil, s.fail(opCreateWallet, pkgerrors.New(pkgerrors.CodeDuplicateWallet, "wallet already exists for owner").
				WithDetails(map[string]any{"owner_type": ownerType, "owner_id": ownerID}))
		}
		return nil, s.fail(opCreateWallet, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create wallet"))
	}
	s.metrics.IncOperation(opCreateWallet)
	return wallet, nil
}

func (s *service) EnsureWallet(ctx context.Context, ownerType enums.WalletOwnerType, ownerID uuid.UUID) (*models.Wallet, error) {
	if err := validateOwner(ownerType, ownerID); err != nil {
		return nil, err
	}
	var wallet *models.Wallet
	err := s.inTx(ctx, func(tx *gorm.DB, repo Repository) error {
		var err error
		wallet, err = s.ensureWallet(ctx, tx, repo, ownerType, ownerID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return wallet, nil
}

// ensureWallet creates inside a savepoint so a lost creation race can be
// recovered by re-reading without aborting the caller's transaction.
func (s *service) ensureWallet(ctx context.Context, tx *gorm.DB, repo Repository, ownerType enums.WalletOwnerType, ownerID uuid.UUID) (*models.Wallet, error) {
	existing, err := repo.FindWalletByOwner(ctx, ownerType, ownerID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load wallet")
	}
	if existing != nil {
		return existing, nil
	}
	wallet := &models.Wallet{OwnerType: ownerType, OwnerID: ownerID, Currency: s.currency}
	err = tx.Transaction(func(sp *gorm.DB) error {
		return s.repo.WithTx(sp).CreateWallet(ctx, wallet)
	})
	if err == nil {
		s.metrics.IncOperation(opCreateWallet)
		return wallet, nil
	}
	if !dbpkg.IsUniqueViolation(err, walletOwnerConstraint) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create wallet")
	}
	existing, err = repo.FindWalletByOwner(ctx, ownerType, ownerID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reload wallet")
	}
	if existing == nil {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "wallet creation raced but wallet not visible")
	}
	return existing, nil
}

func (s *service) PlaceHold(ctx context.Context, walletID uuid.UUID, amountCents int64, appointmentID uuid.UUID) (*models.Transaction, error) {
	if amountCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "hold amount must be positive")
	}
	if walletID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "wallet id is required")
	}
	var hold *models.Transaction
	err := s.inTx(ctx, func(_ *gorm.DB, repo Repository) error {
		ok, err := repo.DebitIfSufficient(ctx, walletID, amountCents)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "debit wallet")
		}
		if !ok {
			wallet, err := repo.FindWalletByID(ctx, walletID)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load wallet")
			}
			if wallet == nil {
				return errWalletNotFound(walletID)
			}
			return errInsufficientBalance(walletID, amountCents)
		}
		active := enums.HoldStateActive
		hold = &models.Transaction{
			WalletID:    walletID,
			Type:        enums.TransactionTypeHold,
			AmountCents: amountCents,
			Currency:    s.currency,
			Direction:   enums.DirectionOut,
			Status:      enums.TransactionStatusSucceeded,
			HoldState:   &active,
		}
		if appointmentID != uuid.Nil {
			hold.AppointmentID = &appointmentID
		}
		if err := repo.InsertTransaction(ctx, hold); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "insert hold")
		}
		return nil
	})
	if err != nil {
		return nil, s.fail(opPlaceHold, err)
	}
	s.metrics.IncOperation(opPlaceHold)
	return hold, nil
}

func (s *service) ReleaseHold(ctx context.Context, holdID uuid.UUID) (*models.Transaction, error) {
	var release *models.Transaction
	err := s.inTx(ctx, func(_ *gorm.DB, repo Repository) error {
		hold, err := s.consumeHold(ctx, repo, holdID, enums.HoldStateReleased)
		if err != nil {
			return err
		}
		release = &models.Transaction{
			WalletID:          hold.WalletID,
			Type:              enums.TransactionTypeRelease,
			AmountCents:       hold.AmountCents,
			Currency:          hold.Currency,
			Direction:         enums.DirectionIn,
			Status:            enums.TransactionStatusSucceeded,
			AppointmentID:     hold.AppointmentID,
			HoldTransactionID: &hold.ID,
		}
		if err := repo.InsertTransaction(ctx, release); err != nil {
			if dbpkg.IsUniqueViolation(err, holdConsumerIndex) {
				return errHoldAlreadySettled(holdID)
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "insert release")
		}
		ok, err := repo.Credit(ctx, hold.WalletID, hold.AmountCents)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "credit wallet")
		}
		if !ok {
			return errCreditMissed(hold.WalletID, map[string]any{"hold_transaction_id": holdID})
		}
		return nil
	})
	if err != nil {
		return nil, s.fail(opReleaseHold, err)
	}
	s.metrics.IncOperation(opReleaseHold)
	return release, nil
}

func (s *service) CaptureAndSplit(ctx context.Context, holdID uuid.UUID, feeRatio decimal.Decimal, payeeWalletID uuid.UUID) (*CaptureResult, error) {
	if err := validateRatio(feeRatio); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, err.Error())
	}
	if payeeWalletID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payee wallet id is required")
	}
	var result *CaptureResult
	err := s.inTx(ctx, func(_ *gorm.DB, repo Repository) error {
		payee, err := repo.FindWalletByID(ctx, payeeWalletID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load payee wallet")
		}
		if payee == nil {
			return errWalletNotFound(payeeWalletID)
		}
		hold, err := s.consumeHold(ctx, repo, holdID, enums.HoldStateCaptured)
		if err != nil {
			return err
		}

		feeCents, payoutCents := SplitFee(hold.AmountCents, feeRatio)
		result = &CaptureResult{
			Capture: models.Transaction{
				WalletID:          payee.ID,
				Type:              enums.TransactionTypeCapture,
				AmountCents:       hold.AmountCents,
				Currency:          hold.Currency,
				Direction:         enums.DirectionIn,
				Status:            enums.TransactionStatusSucceeded,
				AppointmentID:     hold.AppointmentID,
				HoldTransactionID: &hold.ID,
			},
			AmountCents:      hold.AmountCents,
			PlatformFeeCents: feeCents,
			PayoutCents:      payoutCents,
		}
		if err := repo.InsertTransaction(ctx, &result.Capture); err != nil {
			if dbpkg.IsUniqueViolation(err, holdConsumerIndex) {
				return errHoldAlreadySettled(holdID)
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "insert capture")
		}
		if feeCents > 0 {
			result.Fee = &models.Transaction{
				WalletID:          payee.ID,
				Type:              enums.TransactionTypeFee,
				AmountCents:       feeCents,
				Currency:          hold.Currency,
				Direction:         enums.DirectionOut,
				Status:            enums.TransactionStatusSucceeded,
				AppointmentID:     hold.AppointmentID,
				HoldTransactionID: &hold.ID,
			}
			if err := repo.InsertTransaction(ctx, result.Fee); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "insert fee")
			}
		}
		if payoutCents > 0 {
			ok, err := repo.Credit(ctx, payee.ID, payoutCents)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "credit payee")
			}
			if !ok {
				return errCreditMissed(payee.ID, map[string]any{"hold_transaction_id": holdID})
			}
		}
		return nil
	})
	if err != nil {
		return nil, s.fail(opCapture, err)
	}
	s.metrics.IncOperation(opCapture)
	if s.logg != nil {
		logCtx := s.logg.WithWalletID(ctx, payeeWalletID.String())
		logCtx = s.logg.WithFields(logCtx, map[string]any{
			"hold_transaction_id": holdID.String(),
			"amount_cents":        result.AmountCents,
			"platform_fee_cents":  result.PlatformFeeCents,
			"payout_cents":        result.PayoutCents,
		})
		s.logg.Info(logCtx, "hold captured")
	}
	return result, nil
}

// consumeHold validates the hold row and flips it out of the active state.
func (s *service) consumeHold(ctx context.Context, repo Repository, holdID uuid.UUID, to enums.HoldState) (*models.Transaction, error) {
	if holdID == uuid.Nil {
		return nil, errInvalidHold(holdID)
	}
	hold, err := repo.FindTransaction(ctx, holdID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load hold")
	}
	if hold == nil || hold.Type != enums.TransactionTypeHold || hold.HoldState == nil {
		return nil, errInvalidHold(holdID)
	}
	ok, err := repo.ConsumeHold(ctx, holdID, to, s.now())
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "consume hold")
	}
	if !ok {
		return nil, errHoldAlreadySettled(holdID)
	}
	return hold, nil
}

func (s *service) TopUp(ctx context.Context, input TopUpInput) (*models.Transaction, error) {
	if err := validateOwner(input.OwnerType, input.OwnerID); err != nil {
		return nil, err
	}
	if input.AmountCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "top-up amount must be positive")
	}
	providerRef := strings.TrimSpace(input.ProviderRef)
	if providerRef == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "provider reference is required")
	}

	var topUp *models.Transaction
	err := s.inTx(ctx, func(tx *gorm.DB, repo Repository) error {
		existing, err := repo.FindTopUpByProviderRef(ctx, providerRef)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lookup provider reference")
		}
		if existing != nil {
			return errDuplicateTopup(providerRef, existing.ID)
		}
		wallet, err := s.ensureWallet(ctx, tx, repo, input.OwnerType, input.OwnerID)
		if err != nil {
			return err
		}
		topUp = &models.Transaction{
			WalletID:    wallet.ID,
			Type:        enums.TransactionTypeTopUp,
			AmountCents: input.AmountCents,
			Currency:    wallet.Currency,
			Direction:   enums.DirectionIn,
			Status:      enums.TransactionStatusSucceeded,
			ProviderRef: &providerRef,
		}
		if orderID := strings.TrimSpace(input.OrderID); orderID != "" {
			topUp.OrderID = &orderID
		}
		if err := repo.InsertTransaction(ctx, topUp); err != nil {
			if dbpkg.IsUniqueViolation(err, topUpRefConstraint) {
				return errDuplicateTopup(providerRef, uuid.Nil)
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "insert top-up")
		}
		ok, err := repo.Credit(ctx, wallet.ID, input.AmountCents)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "credit wallet")
		}
		if !ok {
			return errCreditMissed(wallet.ID, map[string]any{"provider_ref": providerRef})
		}
		return nil
	})
	if err != nil {
		return nil, s.fail(opTopUp, err)
	}
	s.metrics.IncOperation(opTopUp)
	return topUp, nil
}

func (s *service) GetHold(ctx context.Context, holdID uuid.UUID) (*models.Transaction, error) {
	hold, err := s.repo.FindTransaction(ctx, holdID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load hold")
	}
	if hold == nil || hold.Type != enums.TransactionTypeHold {
		return nil, errInvalidHold(holdID)
	}
	return hold, nil
}

func (s *service) GetBalance(ctx context.Context, walletID uuid.UUID) (int64, error) {
	wallet, err := s.repo.FindWalletByID(ctx, walletID)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load wallet")
	}
	if wallet == nil {
		return 0, errWalletNotFound(walletID)
	}
	return wallet.BalanceCents, nil
}

func (s *service) GetWalletByOwner(ctx context.Context, ownerType enums.WalletOwnerType, ownerID uuid.UUID) (*models.Wallet, error) {
	if err := validateOwner(ownerType, ownerID); err != nil {
		return nil, err
	}
	wallet, err := s.repo.FindWalletByOwner(ctx, ownerType, ownerID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load wallet")
	}
	if wallet == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "wallet not found").
			WithDetails(map[string]any{"owner_type": ownerType, "owner_id": ownerID})
	}
	return wallet, nil
}

func (s *service) ListTransactions(ctx context.Context, walletID uuid.UUID, params pagination.Params) (*types.CursorPage[models.Transaction], error) {
	items, next, err := pagination.Fetch(params, func(cursor *pagination.Cursor, limit int) ([]models.Transaction, error) {
		return s.repo.ListTransactions(ctx, walletID, cursor, limit)
	})
	if errors.Is(err, pagination.ErrInvalidCursor) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list transactions")
	}
	return &types.CursorPage[models.Transaction]{Items: items, NextCursor: next}, nil
}

// Reconcile never corrects a divergence; it reports it as DATA_INTEGRITY.
func (s *service) Reconcile(ctx context.Context, walletID uuid.UUID) (*ReconcileReport, error) {
	wallet, err := s.repo.FindWalletByID(ctx, walletID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load wallet")
	}
	if wallet == nil {
		return nil, errWalletNotFound(walletID)
	}
	sum, err := s.repo.SumSucceeded(ctx, walletID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "sum transactions")
	}
	report := &ReconcileReport{WalletID: walletID, BalanceCents: wallet.BalanceCents, LedgerSumCents: sum}
	if sum != wallet.BalanceCents {
		s.metrics.AddIntegrityViolations(1)
		return report, pkgerrors.New(pkgerrors.CodeDataIntegrity, "wallet balance diverges from transaction log").
			WithDetails(map[string]any{
				"wallet_id":        walletID,
				"balance_cents":    wallet.BalanceCents,
				"ledger_sum_cents": sum,
			})
	}
	return report, nil
}

func (s *service) WalletsUpdatedSince(ctx context.Context, since time.Time, limit int) ([]uuid.UUID, error) {
	if limit <= 0 {
		limit = pagination.MaxLimit
	}
	ids, err := s.repo.ListWalletIDsUpdatedSince(ctx, since, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list wallets")
	}
	return ids, nil
}

func (s *service) fail(op string, err error) error {
	code := pkgerrors.CodeInternal
	if typed := pkgerrors.As(err); typed != nil {
		code = typed.Code()
	}
	s.metrics.IncFailure(op, string(code))
	return err
}

func validateOwner(ownerType enums.WalletOwnerType, ownerID uuid.UUID) error {
	if !ownerType.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid wallet owner type %q", ownerType))
	}
	if ownerID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "owner id is required")
	}
	return nil
}
