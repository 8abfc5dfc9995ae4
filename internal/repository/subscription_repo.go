package repository

import (
	"context"
	"errors"
	"time"

	"dairyrun/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type SubscriptionRepository struct {
	db *gorm.DB
}

func NewSubscriptionRepository(db *gorm.DB) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

func (r *SubscriptionRepository) Create(ctx context.Context, tx *gorm.DB, sub *model.Subscription) error {
	return storeErr(conn(r.db, tx).WithContext(ctx).Create(sub).Error)
}

func (r *SubscriptionRepository) GetByID(ctx context.Context, tx *gorm.DB, id int64) (*model.Subscription, error) {
	var sub model.Subscription
	err := conn(r.db, tx).WithContext(ctx).Where("id = ?", id).First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, storeErr(err)
	}
	return &sub, nil
}

func (r *SubscriptionRepository) GetByIDForUpdate(ctx context.Context, tx *gorm.DB, id int64) (*model.Subscription, error) {
	var sub model.Subscription
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, storeErr(err)
	}
	return &sub, nil
}

// ListActiveByUserIDs returns the active subscriptions of the given users
// ordered by id. With a transaction the rows are locked.
func (r *SubscriptionRepository) ListActiveByUserIDs(ctx context.Context, tx *gorm.DB, userIDs []int64) ([]*model.Subscription, error) {
	var subs []*model.Subscription
	if len(userIDs) == 0 {
		return subs, nil
	}
	query := conn(r.db, tx).WithContext(ctx)
	if tx != nil {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	err := query.
		Where("status = ? AND user_id IN ?", model.SubscriptionStatusActive, userIDs).
		Order("id ASC").
		Find(&subs).Error
	return subs, storeErr(err)
}

// ListActive returns every active subscription ordered by id. With a
// transaction the rows are locked.
func (r *SubscriptionRepository) ListActive(ctx context.Context, tx *gorm.DB) ([]*model.Subscription, error) {
	var subs []*model.Subscription
	query := conn(r.db, tx).WithContext(ctx)
	if tx != nil {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	err := query.
		Where("status = ?", model.SubscriptionStatusActive).
		Order("id ASC").
		Find(&subs).Error
	return subs, storeErr(err)
}

// ActiveOwnerIDs returns the distinct owners of active subscriptions.
func (r *SubscriptionRepository) ActiveOwnerIDs(ctx context.Context, tx *gorm.DB) ([]int64, error) {
	var ids []int64
	err := conn(r.db, tx).WithContext(ctx).
		Model(&model.Subscription{}).
		Where("status = ?", model.SubscriptionStatusActive).
		Distinct().
		Order("user_id ASC").
		Pluck("user_id", &ids).Error
	return ids, storeErr(err)
}

// DueUserIDs returns owners of active subscriptions whose next delivery is
// on or before day and that have not been delivered since dayStart.
func (r *SubscriptionRepository) DueUserIDs(ctx context.Context, day string, dayStart time.Time) ([]int64, error) {
	var ids []int64
	err := r.db.WithContext(ctx).
		Model(&model.Subscription{}).
		Where("status = ? AND next_delivery_date <= ?", model.SubscriptionStatusActive, day).
		Where("last_delivered IS NULL OR last_delivered < ?", dayStart).
		Where("NOT EXISTS (SELECT 1 FROM subscription_delivery d WHERE d.subscription_id = subscription.id AND d.day = ?)", day).
		Distinct().
		Order("user_id ASC").
		Pluck("user_id", &ids).Error
	return ids, storeErr(err)
}

func (r *SubscriptionRepository) ListByUserID(ctx context.Context, userID int64) ([]*model.Subscription, error) {
	var subs []*model.Subscription
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id DESC").
		Find(&subs).Error
	return subs, storeErr(err)
}

// ListPaused returns paused subscriptions, optionally filtered by reason.
func (r *SubscriptionRepository) ListPaused(ctx context.Context, reason string, limit int) ([]*model.Subscription, error) {
	var subs []*model.Subscription
	query := r.db.WithContext(ctx).Where("status = ?", model.SubscriptionStatusPaused)
	if reason != "" {
		query = query.Where("pause_reason = ?", reason)
	}
	err := query.Order("id ASC").Limit(limit).Find(&subs).Error
	return subs, storeErr(err)
}

// UpdateStatus moves sub from its loaded status to the target status. The
// write is guarded by the loaded status and version, so a concurrent change
// makes it fail with ErrOptimisticLock instead of overwriting. extra holds
// additional columns written in the same statement.
func (r *SubscriptionRepository) UpdateStatus(ctx context.Context, tx *gorm.DB, sub *model.Subscription, toStatus, pauseReason string, extra map[string]interface{}) error {
	if !model.CanTransitionTo(sub.Status, toStatus) {
		return ErrInvalidTransition
	}

	updates := map[string]interface{}{
		"status":       toStatus,
		"pause_reason": pauseReason,
		"version":      gorm.Expr("version + 1"),
	}
	for k, v := range extra {
		updates[k] = v
	}

	result := conn(r.db, tx).WithContext(ctx).
		Model(&model.Subscription{}).
		Where("id = ? AND status = ? AND version = ?", sub.ID, sub.Status, sub.Version).
		Updates(updates)
	if result.Error != nil {
		return storeErr(result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrOptimisticLock
	}

	sub.Status = toStatus
	sub.PauseReason = pauseReason
	sub.Version++
	return nil
}

// MarkDelivered records a successful delivery on the subscription row and
// moves its next delivery day forward.
func (r *SubscriptionRepository) MarkDelivered(ctx context.Context, tx *gorm.DB, sub *model.Subscription, deliveredAt time.Time, nextDeliveryDate string) error {
	result := tx.WithContext(ctx).
		Model(&model.Subscription{}).
		Where("id = ? AND version = ?", sub.ID, sub.Version).
		Updates(map[string]interface{}{
			"last_delivered":     deliveredAt,
			"next_delivery_date": nextDeliveryDate,
			"version":            gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return storeErr(result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrOptimisticLock
	}

	sub.LastDelivered = &deliveredAt
	sub.NextDeliveryDate = nextDeliveryDate
	sub.Version++
	return nil
}
