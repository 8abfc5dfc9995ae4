package repository

import (
	"context"
	"errors"

	"dairyrun/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type TransactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

func (r *TransactionRepository) Create(ctx context.Context, tx *gorm.DB, trans *model.WalletTransaction) error {
	return storeErr(conn(r.db, tx).WithContext(ctx).Create(trans).Error)
}

// GetByRequestID returns nil, nil when no transaction carries requestID.
func (r *TransactionRepository) GetByRequestID(ctx context.Context, tx *gorm.DB, requestID string) (*model.WalletTransaction, error) {
	var trans model.WalletTransaction
	err := conn(r.db, tx).WithContext(ctx).Where("request_id = ?", requestID).First(&trans).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, storeErr(err)
	}
	return &trans, nil
}

func (r *TransactionRepository) ListByUserID(ctx context.Context, userID int64, page, pageSize int) ([]*model.WalletTransaction, int64, error) {
	var transactions []*model.WalletTransaction
	var total int64

	query := r.db.WithContext(ctx).Model(&model.WalletTransaction{}).Where("user_id = ?", userID)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, storeErr(err)
	}

	err := query.
		Order("id DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&transactions).Error

	return transactions, total, storeErr(err)
}

// KindTotal is one row of a SUM(amount) GROUP BY kind query.
type KindTotal struct {
	Kind  string
	Total decimal.Decimal
}

// SumByUser totals a user's ledger per kind.
func (r *TransactionRepository) SumByUser(ctx context.Context, tx *gorm.DB, userID int64) (credits, debits decimal.Decimal, err error) {
	var rows []KindTotal
	err = conn(r.db, tx).WithContext(ctx).
		Model(&model.WalletTransaction{}).
		Select("kind, COALESCE(SUM(amount), 0) AS total").
		Where("user_id = ?", userID).
		Group("kind").
		Scan(&rows).Error
	if err != nil {
		return decimal.Zero, decimal.Zero, storeErr(err)
	}
	return splitTotals(rows)
}

func splitTotals(rows []KindTotal) (credits, debits decimal.Decimal, err error) {
	credits, debits = decimal.Zero, decimal.Zero
	for _, row := range rows {
		switch row.Kind {
		case model.TransactionKindCredit:
			credits = credits.Add(row.Total)
		case model.TransactionKindDebit:
			debits = debits.Add(row.Total)
		}
	}
	return credits, debits, nil
}
