package repository

import (
	"context"

	"dairyrun/internal/model"

	"gorm.io/gorm"
)

type DeliveryRepository struct {
	db *gorm.DB
}

func NewDeliveryRepository(db *gorm.DB) *DeliveryRepository {
	return &DeliveryRepository{db: db}
}

func (r *DeliveryRepository) Create(ctx context.Context, tx *gorm.DB, delivery *model.SubscriptionDelivery) error {
	return storeErr(conn(r.db, tx).WithContext(ctx).Create(delivery).Error)
}

// ExistsForDay reports whether the subscription already has a history entry
// for day.
func (r *DeliveryRepository) ExistsForDay(ctx context.Context, tx *gorm.DB, subscriptionID int64, day string) (bool, error) {
	var count int64
	err := conn(r.db, tx).WithContext(ctx).
		Model(&model.SubscriptionDelivery{}).
		Where("subscription_id = ? AND day = ?", subscriptionID, day).
		Count(&count).Error
	return count > 0, storeErr(err)
}

// RecordedOn returns which of subscriptionIDs already have a history entry,
// delivered or missed, for day.
func (r *DeliveryRepository) RecordedOn(ctx context.Context, tx *gorm.DB, subscriptionIDs []int64, day string) (map[int64]bool, error) {
	recorded := make(map[int64]bool)
	if len(subscriptionIDs) == 0 {
		return recorded, nil
	}
	var ids []int64
	err := conn(r.db, tx).WithContext(ctx).
		Model(&model.SubscriptionDelivery{}).
		Where("subscription_id IN ? AND day = ?", subscriptionIDs, day).
		Pluck("subscription_id", &ids).Error
	if err != nil {
		return nil, storeErr(err)
	}
	for _, id := range ids {
		recorded[id] = true
	}
	return recorded, nil
}

func (r *DeliveryRepository) ListBySubscriptionID(ctx context.Context, tx *gorm.DB, subscriptionID int64) ([]*model.SubscriptionDelivery, error) {
	var deliveries []*model.SubscriptionDelivery
	err := conn(r.db, tx).WithContext(ctx).
		Where("subscription_id = ?", subscriptionID).
		Order("day ASC").
		Find(&deliveries).Error
	return deliveries, storeErr(err)
}
