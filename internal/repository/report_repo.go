package repository

import (
	"context"
	"time"

	"dairyrun/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ReportRepository holds the read-only aggregate queries behind the admin
// dashboard.
type ReportRepository struct {
	db *gorm.DB
}

func NewReportRepository(db *gorm.DB) *ReportRepository {
	return &ReportRepository{db: db}
}

// StatusCount is one row of the subscription status breakdown.
type StatusCount struct {
	Status      string
	PauseReason string
	Total       int64
}

func (r *ReportRepository) CountSubscriptionsByStatus(ctx context.Context) ([]StatusCount, error) {
	var rows []StatusCount
	err := r.db.WithContext(ctx).
		Model(&model.Subscription{}).
		Select("status, pause_reason, COUNT(*) AS total").
		Group("status, pause_reason").
		Scan(&rows).Error
	return rows, storeErr(err)
}

// SumTransactionsBetween totals ledger amounts per kind for
// start <= created_at < end.
func (r *ReportRepository) SumTransactionsBetween(ctx context.Context, start, end time.Time) (credits, debits decimal.Decimal, err error) {
	var rows []KindTotal
	err = r.db.WithContext(ctx).
		Model(&model.WalletTransaction{}).
		Select("kind, COALESCE(SUM(amount), 0) AS total").
		Where("created_at >= ? AND created_at < ?", start, end).
		Group("kind").
		Scan(&rows).Error
	if err != nil {
		return decimal.Zero, decimal.Zero, storeErr(err)
	}
	return splitTotals(rows)
}

// OutcomeCount is one row of the per-day delivery breakdown.
type OutcomeCount struct {
	Outcome string
	Total   int64
}

func (r *ReportRepository) CountDeliveriesByOutcome(ctx context.Context, day string) ([]OutcomeCount, error) {
	var rows []OutcomeCount
	err := r.db.WithContext(ctx).
		Model(&model.SubscriptionDelivery{}).
		Select("outcome, COUNT(*) AS total").
		Where("day = ?", day).
		Group("outcome").
		Scan(&rows).Error
	return rows, storeErr(err)
}
