package model

import "time"

const (
	DeliveryOutcomeDelivered = "delivered"
	DeliveryOutcomeMissed    = "missed"
)

// SubscriptionDelivery is one entry of a subscription's delivery history.
// A subscription has at most one entry per day.
type SubscriptionDelivery struct {
	ID             int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	SubscriptionID int64     `gorm:"uniqueIndex:uk_subscription_day;not null" json:"subscription_id"`
	UserID         int64     `gorm:"index;not null" json:"user_id"`
	Day            string    `gorm:"type:char(10);uniqueIndex:uk_subscription_day;index;not null" json:"day"`
	Outcome        string    `gorm:"type:varchar(16);not null" json:"outcome"`
	CycleID        string    `gorm:"type:varchar(64)" json:"cycle_id,omitempty"`
	CreatedAt      time.Time `gorm:"not null" json:"created_at"`
}

func (SubscriptionDelivery) TableName() string {
	return "subscription_delivery"
}
