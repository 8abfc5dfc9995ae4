package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dairyrun/internal/infrastructure/lock"
	"dairyrun/internal/metrics"
	"dairyrun/internal/model"
	"dairyrun/internal/repository"
	"dairyrun/pkg/bizday"
	"dairyrun/pkg/idgen"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const rechargeLockTTL = 10 * time.Second

// Locker serializes work on a key across goroutines or processes. The
// returned func releases the lock.
type Locker interface {
	Acquire(ctx context.Context, key, owner string, ttl time.Duration) (func(), error)
}

// LedgerEntry describes why a balance moves.
type LedgerEntry struct {
	Reason         string
	RequestID      string
	SubscriptionID int64
	CycleID        string
}

// LedgerService owns wallet balances. Every balance change goes through
// apply, which writes the new balance and its transaction row in the same
// database transaction.
type LedgerService struct {
	db              *gorm.DB
	walletRepo      *repository.WalletRepository
	transactionRepo *repository.TransactionRepository
	identity        Identity
	locker          Locker
	cal             *bizday.Calendar
	metrics         *metrics.Metrics
}

func NewLedgerService(db *gorm.DB, identity Identity, locker Locker, cal *bizday.Calendar, m *metrics.Metrics) *LedgerService {
	return &LedgerService{
		db:              db,
		walletRepo:      repository.NewWalletRepository(db),
		transactionRepo: repository.NewTransactionRepository(db),
		identity:        identity,
		locker:          locker,
		cal:             cal,
		metrics:         m,
	}
}

// Credit adds amount to the user's wallet and returns the new balance. A
// non-empty RequestID makes the call idempotent: replaying it returns the
// balance recorded by the first call and writes nothing.
func (s *LedgerService) Credit(ctx context.Context, actor Actor, userID int64, amount decimal.Decimal, entry LedgerEntry) (decimal.Decimal, error) {
	balance, err := s.credit(ctx, actor, userID, amount, entry)
	s.metrics.ObserveLedger(model.TransactionKindCredit, err)
	return balance, err
}

func (s *LedgerService) credit(ctx context.Context, actor Actor, userID int64, amount decimal.Decimal, entry LedgerEntry) (decimal.Decimal, error) {
	if !actor.CanAccess(userID) {
		return decimal.Zero, repository.ErrForbidden
	}
	if !amount.IsPositive() {
		return decimal.Zero, repository.ErrInvalidAmount
	}
	if _, err := s.identity.GetUser(ctx, userID); err != nil {
		return decimal.Zero, err
	}

	if entry.RequestID != "" {
		if prior, err := s.transactionRepo.GetByRequestID(ctx, nil, entry.RequestID); err != nil {
			return decimal.Zero, err
		} else if prior != nil {
			return replayed(prior, userID)
		}
	}

	if s.locker != nil {
		release, err := s.locker.Acquire(ctx, lock.RechargeLockKey(userID), uuid.NewString(), rechargeLockTTL)
		if err != nil {
			return decimal.Zero, fmt.Errorf("%w: %v", repository.ErrStoreUnavailable, err)
		}
		defer release()
	}

	if _, err := s.walletRepo.GetOrCreate(ctx, nil, userID); err != nil {
		return decimal.Zero, err
	}

	var balance decimal.Decimal
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if entry.RequestID != "" {
			prior, err := s.transactionRepo.GetByRequestID(ctx, tx, entry.RequestID)
			if err != nil {
				return err
			}
			if prior != nil {
				b, err := replayed(prior, userID)
				balance = b
				return err
			}
		}

		wallet, err := s.walletRepo.GetByUserIDForUpdate(ctx, tx, userID)
		if err != nil {
			return err
		}
		if _, err := s.CreditTx(ctx, tx, wallet, amount, entry); err != nil {
			return err
		}
		balance = wallet.Balance
		return nil
	})
	if err != nil {
		return decimal.Zero, repository.StoreErr(err)
	}

	logrus.WithFields(logrus.Fields{
		"user_id":    userID,
		"amount":     amount.StringFixed(2),
		"balance":    balance.StringFixed(2),
		"request_id": entry.RequestID,
	}).Info("wallet credited")
	return balance, nil
}

// replayed answers an idempotent retry from the transaction it already
// produced. A request id reused for another user is rejected.
func replayed(prior *model.WalletTransaction, userID int64) (decimal.Decimal, error) {
	if prior.UserID != userID || prior.Kind != model.TransactionKindCredit {
		return decimal.Zero, fmt.Errorf("%w: request id already used", repository.ErrInvalidArgument)
	}
	return prior.BalanceAfter, nil
}

// Debit removes amount from the user's wallet in its own transaction and
// returns the new balance. Only admins debit directly. The balance never
// goes negative: a debit larger than the balance fails with
// ErrInsufficientFunds and changes nothing. A user without a wallet has
// never been credited and holds 0.
func (s *LedgerService) Debit(ctx context.Context, actor Actor, userID int64, amount decimal.Decimal, entry LedgerEntry) (decimal.Decimal, error) {
	if !actor.IsAdmin() {
		return decimal.Zero, repository.ErrForbidden
	}
	if !amount.IsPositive() {
		return decimal.Zero, repository.ErrInvalidAmount
	}
	if _, err := s.identity.GetUser(ctx, userID); err != nil {
		return decimal.Zero, err
	}

	var balance decimal.Decimal
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		wallet, err := s.walletRepo.GetByUserIDForUpdate(ctx, tx, userID)
		if errors.Is(err, repository.ErrWalletNotFound) {
			return repository.ErrInsufficientFunds
		}
		if err != nil {
			return err
		}
		if _, err := s.DebitTx(ctx, tx, wallet, amount, entry); err != nil {
			return err
		}
		balance = wallet.Balance
		return nil
	})
	if err != nil {
		return decimal.Zero, repository.StoreErr(err)
	}
	return balance, nil
}

// DebitTx debits a wallet already locked by tx. On success wallet holds the
// new balance and version, so the caller can debit it again in the same
// transaction.
func (s *LedgerService) DebitTx(ctx context.Context, tx *gorm.DB, wallet *model.Wallet, amount decimal.Decimal, entry LedgerEntry) (*model.WalletTransaction, error) {
	trans, err := s.apply(ctx, tx, wallet, model.TransactionKindDebit, amount, entry)
	s.metrics.ObserveLedger(model.TransactionKindDebit, err)
	return trans, err
}

// CreditTx credits a wallet already locked by tx.
func (s *LedgerService) CreditTx(ctx context.Context, tx *gorm.DB, wallet *model.Wallet, amount decimal.Decimal, entry LedgerEntry) (*model.WalletTransaction, error) {
	return s.apply(ctx, tx, wallet, model.TransactionKindCredit, amount, entry)
}

func (s *LedgerService) apply(ctx context.Context, tx *gorm.DB, wallet *model.Wallet, kind string, amount decimal.Decimal, entry LedgerEntry) (*model.WalletTransaction, error) {
	if !amount.IsPositive() {
		return nil, repository.ErrInvalidAmount
	}

	before := wallet.Balance
	after := before.Add(amount)
	if kind == model.TransactionKindDebit {
		after = before.Sub(amount)
		if after.IsNegative() {
			return nil, repository.ErrInsufficientFunds
		}
	}

	if err := s.walletRepo.UpdateBalance(ctx, tx, wallet, after); err != nil {
		return nil, err
	}

	trans := &model.WalletTransaction{
		TransactionNo: idgen.GenerateTransactionNo(),
		UserID:        wallet.UserID,
		Amount:        amount,
		Kind:          kind,
		Reason:        entry.Reason,
		CycleID:       entry.CycleID,
		BalanceBefore: before,
		BalanceAfter:  after,
		CreatedAt:     s.cal.Now(),
	}
	if entry.RequestID != "" {
		requestID := entry.RequestID
		trans.RequestID = &requestID
	}
	if entry.SubscriptionID != 0 {
		subscriptionID := entry.SubscriptionID
		trans.SubscriptionID = &subscriptionID
	}
	if err := s.transactionRepo.Create(ctx, tx, trans); err != nil {
		return nil, err
	}
	return trans, nil
}

// Balance returns the user's wallet. A user who never topped up gets an
// empty wallet.
func (s *LedgerService) Balance(ctx context.Context, actor Actor, userID int64) (*model.Wallet, error) {
	if !actor.CanAccess(userID) {
		return nil, repository.ErrForbidden
	}
	wallet, err := s.walletRepo.GetByUserID(ctx, nil, userID)
	if errors.Is(err, repository.ErrWalletNotFound) {
		if _, err := s.identity.GetUser(ctx, userID); err != nil {
			return nil, err
		}
		return &model.Wallet{UserID: userID, Balance: decimal.Zero}, nil
	}
	return wallet, err
}

type TransactionPage struct {
	Items    []*model.WalletTransaction `json:"items"`
	Total    int64                      `json:"total"`
	Page     int                        `json:"page"`
	PageSize int                        `json:"page_size"`
}

func (s *LedgerService) Transactions(ctx context.Context, actor Actor, userID int64, page, pageSize int) (*TransactionPage, error) {
	if !actor.CanAccess(userID) {
		return nil, repository.ErrForbidden
	}
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	items, total, err := s.transactionRepo.ListByUserID(ctx, userID, page, pageSize)
	if err != nil {
		return nil, err
	}
	return &TransactionPage{Items: items, Total: total, Page: page, PageSize: pageSize}, nil
}

// AuditResult compares a wallet with the sum of its ledger.
type AuditResult struct {
	UserID   int64           `json:"user_id"`
	Balance  decimal.Decimal `json:"balance"`
	Credits  decimal.Decimal `json:"credits"`
	Debits   decimal.Decimal `json:"debits"`
	Expected decimal.Decimal `json:"expected"`
	Balanced bool            `json:"balanced"`
}

// Audit checks balance == sum(credits) - sum(debits) for one wallet. Both
// sides are read in one transaction with the wallet locked.
func (s *LedgerService) Audit(ctx context.Context, actor Actor, userID int64) (*AuditResult, error) {
	if !actor.IsAdmin() {
		return nil, repository.ErrForbidden
	}
	result := &AuditResult{UserID: userID}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		wallet, err := s.walletRepo.GetByUserIDForUpdate(ctx, tx, userID)
		if err != nil {
			return err
		}
		credits, debits, err := s.transactionRepo.SumByUser(ctx, tx, userID)
		if err != nil {
			return err
		}
		result.Balance = wallet.Balance
		result.Credits = credits
		result.Debits = debits
		return nil
	})
	if err != nil {
		return nil, repository.StoreErr(err)
	}
	result.Expected = result.Credits.Sub(result.Debits)
	result.Balanced = result.Expected.Equal(result.Balance)
	if !result.Balanced {
		logrus.WithFields(logrus.Fields{
			"user_id":  userID,
			"balance":  result.Balance.StringFixed(2),
			"expected": result.Expected.StringFixed(2),
		}).Error("wallet does not match its ledger")
	}
	return result, nil
}
