package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/herfa-app/herfa-backend/pkg/db/models"
	"github.com/herfa-app/herfa-backend/pkg/enums"
	"github.com/herfa-app/herfa-backend/pkg/pagination"
)

// Repository manages persistence for wallets and ledger transactions.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateWallet(ctx context.Context, wallet *models.Wallet) error
	FindWalletByID(ctx context.Context, id uuid.UUID) (*models.Wallet, error)
	FindWalletByOwner(ctx context.Context, ownerType enums.WalletOwnerType, ownerID uuid.UUID) (*models.Wallet, error)
	DebitIfSufficient(ctx context.Context, walletID uuid.UUID, amountCents int64) (bool, error)
	Credit(ctx context.Context, walletID uuid.UUID, amountCents int64) (bool, error)
	InsertTransaction(ctx context.Context, txn *models.Transaction) error
	FindTransaction(ctx context.Context, id uuid.UUID) (*models.Transaction, error)
	FindTopUpByProviderRef(ctx context.Context, providerRef string) (*models.Transaction, error)
	ConsumeHold(ctx context.Context, holdID uuid.UUID, to enums.HoldState, at time.Time) (bool, error)
	ListTransactions(ctx context.Context, walletID uuid.UUID, cursor *pagination.Cursor, limit int) ([]models.Transaction, error)
	SumSucceeded(ctx context.Context, walletID uuid.UUID) (int64, error)
	ListWalletIDsUpdatedSince(ctx context.Context, since time.Time, limit int) ([]uuid.UUID, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreateWallet(ctx context.Context, wallet *models.Wallet) error {
	return r.db.WithContext(ctx).Create(wallet).Error
}

func (r *repository) FindWalletByID(ctx context.Context, id uuid.UUID) (*models.Wallet, error) {
	var wallet models.Wallet
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&wallet).Error
	return firstOrNil(&wallet, err)
}

func (r *repository) FindWalletByOwner(ctx context.Context, ownerType enums.WalletOwnerType, ownerID uuid.UUID) (*models.Wallet, error) {
	var wallet models.Wallet
	err := r.db.WithContext(ctx).
		Where("owner_type = ? AND owner_id = ?", ownerType, ownerID).
		First(&wallet).Error
	return firstOrNil(&wallet, err)
}

// DebitIfSufficient subtracts amountCents in one conditional statement and
// reports false when the wallet is missing or short.
func (r *repository) DebitIfSufficient(ctx context.Context, walletID uuid.UUID, amountCents int64) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Wallet{}).
		Where("id = ? AND balance_cents >= ?", walletID, amountCents).
		Updates(map[string]any{
			"balance_cents": gorm.Expr("balance_cents - ?", amountCents),
			"updated_at":    time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) Credit(ctx context.Context, walletID uuid.UUID, amountCents int64) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Wallet{}).
		Where("id = ?", walletID).
		Updates(map[string]any{
			"balance_cents": gorm.Expr("balance_cents + ?", amountCents),
			"updated_at":    time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) InsertTransaction(ctx context.Context, txn *models.Transaction) error {
	return r.db.WithContext(ctx).Create(txn).Error
}

func (r *repository) FindTransaction(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	var txn models.Transaction
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&txn).Error
	return firstOrNil(&txn, err)
}

func (r *repository) FindTopUpByProviderRef(ctx context.Context, providerRef string) (*models.Transaction, error) {
	var txn models.Transaction
	err := r.db.WithContext(ctx).
		Where("type = ? AND provider_ref = ?", enums.TransactionTypeTopUp, providerRef).
		First(&txn).Error
	return firstOrNil(&txn, err)
}

// ConsumeHold moves an active hold to its terminal state. Only one caller
// can observe true for a given hold.
func (r *repository) ConsumeHold(ctx context.Context, holdID uuid.UUID, to enums.HoldState, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Where("id = ? AND type = ? AND hold_state = ?", holdID, enums.TransactionTypeHold, enums.HoldStateActive).
		Updates(map[string]any{
			"hold_state": to,
			"settled_at": at,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) ListTransactions(ctx context.Context, walletID uuid.UUID, cursor *pagination.Cursor, limit int) ([]models.Transaction, error) {
	var rows []models.Transaction
	q := r.db.WithContext(ctx).Where("wallet_id = ?", walletID)
	err := pagination.Apply(q, cursor).Limit(limit).Find(&rows).Error
	return rows, err
}

func (r *repository) SumSucceeded(ctx context.Context, walletID uuid.UUID) (int64, error) {
	var sum int64
	err := r.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Select("COALESCE(SUM(CASE WHEN direction = ? THEN amount_cents ELSE -amount_cents END), 0)", enums.DirectionIn).
		Where("wallet_id = ? AND status = ?", walletID, enums.TransactionStatusSucceeded).
		Scan(&sum).Error
	return sum, err
}

func (r *repository) ListWalletIDsUpdatedSince(ctx context.Context, since time.Time, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).
		Model(&models.Wallet{}).
		Where("updated_at >= ?", since).
		Order("updated_at ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	return ids, err
}

func firstOrNil[T any](row *T, err error) (*T, error) {
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return row, nil
}
