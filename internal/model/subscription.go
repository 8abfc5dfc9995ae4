package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	SubscriptionStatusPendingPayment = "pending_payment"
	SubscriptionStatusActive         = "active"
	SubscriptionStatusPaused         = "paused"
	SubscriptionStatusCancelled      = "cancelled"
	SubscriptionStatusExpired        = "expired"
)

const (
	PauseReasonNone                = "none"
	PauseReasonInsufficientBalance = "insufficient_balance"
	PauseReasonUserPaused          = "user_paused"
)

// ValidStatusTransitions is the subscription state machine. Statuses missing
// from the map (cancelled, expired) are terminal.
var ValidStatusTransitions = map[string][]string{
	SubscriptionStatusPendingPayment: {SubscriptionStatusActive, SubscriptionStatusCancelled},
	SubscriptionStatusActive:         {SubscriptionStatusPaused, SubscriptionStatusCancelled, SubscriptionStatusExpired},
	SubscriptionStatusPaused:         {SubscriptionStatusActive, SubscriptionStatusCancelled},
}

func CanTransitionTo(currentStatus, targetStatus string) bool {
	allowedStatuses, exists := ValidStatusTransitions[currentStatus]
	if !exists {
		return false
	}
	for _, s := range allowedStatuses {
		if s == targetStatus {
			return true
		}
	}
	return false
}

// IsPauseReason reports whether reason may accompany a paused status.
func IsPauseReason(reason string) bool {
	return reason == PauseReasonInsufficientBalance || reason == PauseReasonUserPaused
}

const (
	FrequencyDaily     = "daily"
	FrequencyAlternate = "alternate"
	FrequencyWeekly    = "weekly"
)

// FrequencyStepDays is the gap between two deliveries.
var FrequencyStepDays = map[string]int{
	FrequencyDaily:     1,
	FrequencyAlternate: 2,
	FrequencyWeekly:    7,
}

// PlannedDeliveries is how many deliveries a plan of durationDays makes at
// the given step: one on the start day and one every step days while the
// day is still before the end date.
func PlannedDeliveries(durationDays, step int) int {
	if durationDays <= 0 || step <= 0 {
		return 0
	}
	return (durationDays + step - 1) / step
}

// PlanDurationDays maps a subscription plan to its length.
var PlanDurationDays = map[string]int{
	"15_days":  15,
	"1_month":  30,
	"2_months": 60,
	"3_months": 90,
	"6_months": 180,
	"1_year":   365,
}

const (
	PaymentMethodWallet = "wallet"
	PaymentMethodOnline = "online"
)

// Subscription is the billing state of one recurring delivery. It refers to
// its owner by UserID only. Subscriptions are never deleted; they move
// through the state machine and keep their delivery history.
//
// Calendar fields (StartDate, EndDate, NextDeliveryDate) hold store-local
// days formatted as YYYY-MM-DD.
type Subscription struct {
	ID                int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	SubscriptionNo    string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"subscription_no"`
	UserID            int64           `gorm:"index;not null" json:"user_id"`
	ProductID         int64           `gorm:"index;not null" json:"product_id"`
	ProductName       string          `gorm:"type:varchar(128);not null" json:"product_name"`
	Quantity          int             `gorm:"not null;default:1" json:"quantity"`
	PricePerDay       decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"price_per_day"`
	TotalCost         decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"total_cost"`
	Status            string          `gorm:"type:varchar(20);index;not null" json:"status"`
	PauseReason       string          `gorm:"type:varchar(32);not null;default:none" json:"pause_reason"`
	DeliveryFrequency string          `gorm:"type:varchar(16);not null" json:"delivery_frequency"`
	Plan              string          `gorm:"type:varchar(16);not null" json:"plan"`
	DurationDays      int             `gorm:"not null" json:"duration_days"`
	StartDate         string          `gorm:"type:char(10);not null" json:"start_date"`
	EndDate           string          `gorm:"type:char(10);not null" json:"end_date"`
	NextDeliveryDate  string          `gorm:"type:char(10);index;not null" json:"next_delivery_date"`
	LastDelivered     *time.Time      `json:"last_delivered"`
	PaymentMethod     string          `gorm:"type:varchar(16);not null" json:"payment_method"`
	PaymentID         string          `gorm:"type:varchar(64)" json:"payment_id,omitempty"`
	LastPaymentAt     *time.Time      `json:"last_payment_at,omitempty"`
	Address           string          `gorm:"type:varchar(512)" json:"address"`
	Version           int             `gorm:"not null;default:0" json:"version"`
	CreatedAt         time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Subscription) TableName() string {
	return "subscription"
}
