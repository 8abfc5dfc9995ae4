package repository

import (
	"context"
	"errors"

	"dairyrun/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type WalletRepository struct {
	db *gorm.DB
}

func NewWalletRepository(db *gorm.DB) *WalletRepository {
	return &WalletRepository{db: db}
}

func (r *WalletRepository) GetByUserID(ctx context.Context, tx *gorm.DB, userID int64) (*model.Wallet, error) {
	var wallet model.Wallet
	err := conn(r.db, tx).WithContext(ctx).Where("user_id = ?", userID).First(&wallet).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWalletNotFound
		}
		return nil, storeErr(err)
	}
	return &wallet, nil
}

// GetByUserIDForUpdate locks the wallet row until tx ends.
func (r *WalletRepository) GetByUserIDForUpdate(ctx context.Context, tx *gorm.DB, userID int64) (*model.Wallet, error) {
	var wallet model.Wallet
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", userID).
		First(&wallet).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWalletNotFound
		}
		return nil, storeErr(err)
	}
	return &wallet, nil
}

// LockByUserIDs locks the wallets of several users in ascending user id
// order, so two transactions over overlapping sets cannot deadlock. Users
// without a wallet are simply absent from the result.
func (r *WalletRepository) LockByUserIDs(ctx context.Context, tx *gorm.DB, userIDs []int64) (map[int64]*model.Wallet, error) {
	wallets := make(map[int64]*model.Wallet, len(userIDs))
	if len(userIDs) == 0 {
		return wallets, nil
	}
	var rows []*model.Wallet
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id IN ?", userIDs).
		Order("user_id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, storeErr(err)
	}
	for _, w := range rows {
		wallets[w.UserID] = w
	}
	return wallets, nil
}

// UpdateBalance writes a new balance guarded by the wallet version. On
// success the passed wallet reflects the stored row.
func (r *WalletRepository) UpdateBalance(ctx context.Context, tx *gorm.DB, wallet *model.Wallet, balance decimal.Decimal) error {
	if balance.IsNegative() {
		return ErrInsufficientFunds
	}
	result := tx.WithContext(ctx).
		Model(&model.Wallet{}).
		Where("id = ? AND version = ?", wallet.ID, wallet.Version).
		Updates(map[string]interface{}{
			"balance": balance,
			"version": gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return storeErr(result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrOptimisticLock
	}
	wallet.Balance = balance
	wallet.Version++
	return nil
}

// GetOrCreate returns the user's wallet, creating an empty one on first use.
func (r *WalletRepository) GetOrCreate(ctx context.Context, tx *gorm.DB, userID int64) (*model.Wallet, error) {
	wallet, err := r.GetByUserID(ctx, tx, userID)
	if err == nil {
		return wallet, nil
	}
	if !errors.Is(err, ErrWalletNotFound) {
		return nil, err
	}

	newWallet := &model.Wallet{
		UserID:  userID,
		Balance: decimal.Zero,
	}
	err = conn(r.db, tx).WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoNothing: true,
		}).
		Create(newWallet).Error
	if err != nil {
		return nil, storeErr(err)
	}

	return r.GetByUserID(ctx, tx, userID)
}

// ListBelow returns wallets whose balance is under threshold.
func (r *WalletRepository) ListBelow(ctx context.Context, threshold decimal.Decimal, limit int) ([]*model.Wallet, error) {
	var wallets []*model.Wallet
	err := r.db.WithContext(ctx).
		Where("balance < ?", threshold).
		Order("user_id ASC").
		Limit(limit).
		Find(&wallets).Error
	return wallets, storeErr(err)
}
