package repository

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// Error taxonomy shared by stores and services.
//
//	ErrInsufficientFunds   business outcome, triggers a pause
//	ErrInvalidTransition   programming or data error, aborts a cycle
//	ErrUserNotFound        data integrity violation, aborts a cycle
//	ErrSubscriptionNotFound
//	ErrWalletNotFound
//	ErrInvalidAmount       caller bug, rejected before any write
//	ErrStoreUnavailable    transient, the whole operation may be retried
var (
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrInvalidTransition    = errors.New("invalid subscription transition")
	ErrUserNotFound         = errors.New("user not found")
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrWalletNotFound       = errors.New("wallet not found")
	ErrProductNotFound      = errors.New("product not found")
	ErrProductUnavailable   = errors.New("product not available in requested quantity")
	ErrInvalidAmount        = errors.New("amount must be greater than zero")
	ErrInvalidArgument      = errors.New("invalid argument")
	ErrForbidden            = errors.New("forbidden")
	ErrOptimisticLock       = errors.New("concurrent modification, retry")
	ErrStoreUnavailable     = errors.New("store unavailable")
)

// storeErr classifies a gorm error. Sentinels pass through untouched,
// everything else (driver errors, context deadlines) is reported as
// ErrStoreUnavailable with the cause kept in the message.
func storeErr(err error) error {
	if err == nil {
		return nil
	}
	for _, known := range []error{
		ErrInsufficientFunds, ErrInvalidTransition, ErrUserNotFound, ErrSubscriptionNotFound,
		ErrWalletNotFound, ErrProductNotFound, ErrProductUnavailable, ErrInvalidAmount,
		ErrInvalidArgument, ErrForbidden, ErrOptimisticLock, ErrStoreUnavailable,
	} {
		if errors.Is(err, known) {
			return err
		}
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

// StoreErr is storeErr for callers outside the package, e.g. errors returned
// from db.Transaction itself (begin/commit failures).
func StoreErr(err error) error {
	return storeErr(err)
}

func conn(db, tx *gorm.DB) *gorm.DB {
	if tx == nil {
		return db
	}
	return tx
}
