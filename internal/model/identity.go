package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// User and Product are owned by the identity and catalog service. This
// service only reads them.

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

type User struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Name      string    `gorm:"type:varchar(128);not null" json:"name"`
	Email     string    `gorm:"type:varchar(128);uniqueIndex;not null" json:"email"`
	Phone     string    `gorm:"type:varchar(32)" json:"phone"`
	Address   string    `gorm:"type:varchar(512)" json:"address"`
	Role      string    `gorm:"type:varchar(16);not null;default:user" json:"role"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (User) TableName() string {
	return "user"
}

type Product struct {
	ID           int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	Name         string          `gorm:"type:varchar(128);not null" json:"name"`
	Description  string          `gorm:"type:text" json:"description"`
	PricePerDay  decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"price_per_day"`
	Quantity     int             `gorm:"not null;default:0" json:"quantity"`
	Category     string          `gorm:"type:varchar(64)" json:"category"`
	Availability bool            `gorm:"not null" json:"availability"`
	CreatedAt    time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

func (Product) TableName() string {
	return "product"
}
