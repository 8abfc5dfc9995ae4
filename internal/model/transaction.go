package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	TransactionKindCredit = "credit"
	TransactionKindDebit  = "debit"
)

// WalletTransaction is one entry of the wallet ledger.
//
// Rows are append-only: never updated, never deleted. Amount is always
// positive, the direction lives in Kind. BalanceBefore/BalanceAfter let an
// auditor replay the ledger against the wallet row.
type WalletTransaction struct {
	ID             int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	TransactionNo  string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"transaction_no"`
	UserID         int64           `gorm:"index;not null" json:"user_id"`
	Amount         decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"amount"`
	Kind           string          `gorm:"type:varchar(10);not null" json:"kind"`
	Reason         string          `gorm:"type:varchar(256)" json:"reason"`
	RequestID      *string         `gorm:"type:varchar(64);uniqueIndex" json:"request_id,omitempty"`
	SubscriptionID *int64          `gorm:"index" json:"subscription_id,omitempty"`
	CycleID        string          `gorm:"type:varchar(64);index" json:"cycle_id,omitempty"`
	BalanceBefore  decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"balance_before"`
	BalanceAfter   decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"balance_after"`
	CreatedAt      time.Time       `gorm:"index;not null" json:"created_at"`
}

func (WalletTransaction) TableName() string {
	return "wallet_transaction"
}
