package service

import (
	"context"

	"dairyrun/internal/model"
	"dairyrun/internal/repository"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Identity is the identity service as billing sees it. GetUser fails with
// repository.ErrUserNotFound.
type Identity interface {
	GetUser(ctx context.Context, userID int64) (*UserRef, error)
}

// UserRef is the slice of a user record billing needs. WalletRef is the key
// of the user's wallet row (the wallet's user_id).
type UserRef struct {
	ID        int64
	WalletRef int64
	Name      string
	Address   string
}

// Catalog is the product catalog, read only when a subscription is created.
type Catalog interface {
	GetProduct(ctx context.Context, productID int64) (*ProductInfo, error)
}

type ProductInfo struct {
	ID           int64
	Name         string
	PricePerDay  decimal.Decimal
	Quantity     int
	Availability bool
}

// Directory serves Identity and Catalog from the tables the identity and
// catalog service shares with this database.
type Directory struct {
	userRepo    *repository.UserRepository
	productRepo *repository.ProductRepository
}

func NewDirectory(db *gorm.DB) *Directory {
	return &Directory{
		userRepo:    repository.NewUserRepository(db),
		productRepo: repository.NewProductRepository(db),
	}
}

var (
	_ Identity = (*Directory)(nil)
	_ Catalog  = (*Directory)(nil)
)

func (d *Directory) GetUser(ctx context.Context, userID int64) (*UserRef, error) {
	user, err := d.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return userRef(user), nil
}

func (d *Directory) GetProduct(ctx context.Context, productID int64) (*ProductInfo, error) {
	p, err := d.productRepo.GetByID(ctx, productID)
	if err != nil {
		return nil, err
	}
	return &ProductInfo{
		ID:           p.ID,
		Name:         p.Name,
		PricePerDay:  p.PricePerDay,
		Quantity:     p.Quantity,
		Availability: p.Availability,
	}, nil
}

func userRef(u *model.User) *UserRef {
	return &UserRef{ID: u.ID, WalletRef: u.ID, Name: u.Name, Address: u.Address}
}
