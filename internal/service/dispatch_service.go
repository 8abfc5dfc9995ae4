package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"dairyrun/internal/config"
	"dairyrun/internal/metrics"
	"dairyrun/internal/model"
	"dairyrun/internal/repository"
	"dairyrun/pkg/bizday"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	SkipAlreadyDelivered = "already_delivered"
	SkipAlreadyRecorded  = "already_recorded"
	SkipNotDue           = "not_due"
)

// CycleItem is the outcome of one subscription in a cycle.
type CycleItem struct {
	SubscriptionID int64           `json:"subscription_id"`
	UserID         int64           `json:"user_id"`
	ProductName    string          `json:"product_name"`
	Amount         decimal.Decimal `json:"amount"`
	BalanceAfter   decimal.Decimal `json:"balance_after"`
	Expired        bool            `json:"expired,omitempty"`
	SkipReason     string          `json:"skip_reason,omitempty"`
}

// CycleResult is the committed outcome of RunCycle.
type CycleResult struct {
	CycleID   string       `json:"cycle_id"`
	Day       string       `json:"day"`
	Delivered []*CycleItem `json:"delivered"`
	Paused    []*CycleItem `json:"paused"`
	Skipped   []*CycleItem `json:"skipped"`
}

// DispatchService runs delivery cycles: for a batch of users it charges
// every due active subscription or pauses it when the wallet cannot cover
// one delivery. A cycle commits as a whole or not at all.
type DispatchService struct {
	db               *gorm.DB
	cfg              *config.Config
	ledger           *LedgerService
	subscriptions    *SubscriptionService
	identity         Identity
	cal              *bizday.Calendar
	metrics          *metrics.Metrics
	subscriptionRepo *repository.SubscriptionRepository
	walletRepo       *repository.WalletRepository
	deliveryRepo     *repository.DeliveryRepository
}

func NewDispatchService(db *gorm.DB, cfg *config.Config, ledger *LedgerService, subscriptions *SubscriptionService, identity Identity, cal *bizday.Calendar, m *metrics.Metrics) *DispatchService {
	return &DispatchService{
		db:               db,
		cfg:              cfg,
		ledger:           ledger,
		subscriptions:    subscriptions,
		identity:         identity,
		cal:              cal,
		metrics:          m,
		subscriptionRepo: repository.NewSubscriptionRepository(db),
		walletRepo:       repository.NewWalletRepository(db),
		deliveryRepo:     repository.NewDeliveryRepository(db),
	}
}

// RunCycle dispatches today's deliveries for the active subscriptions
// owned by userIDs.
//
// Owners are checked against Identity before anything is written; an
// unknown owner aborts the cycle with ErrUserNotFound. The cycle then runs
// in one database transaction: wallets are locked in ascending user id
// order, subscriptions in ascending id order, and any error rolls back
// every charge and pause made so far. The error is returned unchanged.
//
// The cycle is detached from ctx cancellation so a dropped request cannot
// abort a half-written batch; it is bounded by business.cycle_timeout.
func (s *DispatchService) RunCycle(ctx context.Context, actor Actor, userIDs []int64) (*CycleResult, error) {
	if !actor.IsAdmin() {
		return nil, repository.ErrForbidden
	}

	started := time.Now()
	result := &CycleResult{
		CycleID:   uuid.NewString(),
		Day:       s.cal.Today(),
		Delivered: []*CycleItem{},
		Paused:    []*CycleItem{},
		Skipped:   []*CycleItem{},
	}
	log := logrus.WithFields(logrus.Fields{
		"cycle_id": result.CycleID,
		"day":      result.Day,
	})

	runCtx := context.WithoutCancel(ctx)
	if s.cfg.Business.CycleTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(runCtx, s.cfg.Business.CycleTimeout)
		defer cancel()
	}

	err := s.run(runCtx, normalizeUserIDs(userIDs), result)
	s.metrics.ObserveCycle(started, err, len(result.Delivered), len(result.Paused), len(result.Skipped))
	if err != nil {
		entry := log.WithError(err)
		if errors.Is(err, repository.ErrUserNotFound) || errors.Is(err, repository.ErrInvalidTransition) {
			entry.WithField("severity", "fatal").Error("dispatch cycle aborted on data integrity violation")
		} else {
			entry.Warn("dispatch cycle aborted")
		}
		return nil, err
	}

	log.WithFields(logrus.Fields{
		"users":     len(userIDs),
		"delivered": len(result.Delivered),
		"paused":    len(result.Paused),
		"skipped":   len(result.Skipped),
		"took":      time.Since(started).String(),
	}).Info("dispatch cycle committed")
	return result, nil
}

func (s *DispatchService) run(ctx context.Context, userIDs []int64, result *CycleResult) error {
	if len(userIDs) == 0 {
		return nil
	}

	if err := s.verifyOwners(ctx, userIDs); err != nil {
		return err
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		wallets, err := s.walletRepo.LockByUserIDs(ctx, tx, userIDs)
		if err != nil {
			return err
		}
		subs, err := s.subscriptionRepo.ListActiveByUserIDs(ctx, tx, userIDs)
		if err != nil {
			return err
		}
		subIDs := make([]int64, 0, len(subs))
		for _, sub := range subs {
			subIDs = append(subIDs, sub.ID)
		}
		recorded, err := s.deliveryRepo.RecordedOn(ctx, tx, subIDs, result.Day)
		if err != nil {
			return err
		}

		// items are only published to result after commit
		var delivered, paused, skipped []*CycleItem
		for _, sub := range subs {
			item := &CycleItem{
				SubscriptionID: sub.ID,
				UserID:         sub.UserID,
				ProductName:    sub.ProductName,
				Amount:         sub.PricePerDay,
			}

			if reason := s.skipReason(sub, result.Day, recorded[sub.ID]); reason != "" {
				item.SkipReason = reason
				skipped = append(skipped, item)
				continue
			}

			wallet := wallets[sub.UserID]
			if wallet == nil || wallet.Balance.LessThan(sub.PricePerDay) {
				if err := s.subscriptions.TransitionTx(ctx, tx, sub, model.SubscriptionStatusPaused,
					model.PauseReasonInsufficientBalance, result.CycleID); err != nil {
					return fmt.Errorf("pause subscription %d: %w", sub.ID, err)
				}
				if wallet != nil {
					item.BalanceAfter = wallet.Balance
				}
				paused = append(paused, item)
				continue
			}

			if _, err := s.ledger.DebitTx(ctx, tx, wallet, sub.PricePerDay, LedgerEntry{
				Reason:         "Delivery of " + sub.ProductName,
				SubscriptionID: sub.ID,
				CycleID:        result.CycleID,
			}); err != nil {
				return fmt.Errorf("charge subscription %d: %w", sub.ID, err)
			}
			if _, err := s.subscriptions.AppendDelivery(ctx, tx, sub, result.Day,
				model.DeliveryOutcomeDelivered, result.CycleID); err != nil {
				return fmt.Errorf("record delivery of subscription %d: %w", sub.ID, err)
			}
			if sub.NextDeliveryDate >= sub.EndDate {
				if err := s.subscriptions.TransitionTx(ctx, tx, sub, model.SubscriptionStatusExpired,
					model.PauseReasonNone, result.CycleID); err != nil {
					return fmt.Errorf("expire subscription %d: %w", sub.ID, err)
				}
				item.Expired = true
			}
			item.BalanceAfter = wallet.Balance
			delivered = append(delivered, item)
		}

		result.Delivered = append(result.Delivered, delivered...)
		result.Paused = append(result.Paused, paused...)
		result.Skipped = append(result.Skipped, skipped...)
		return nil
	})
	if err != nil {
		result.Delivered, result.Paused, result.Skipped = nil, nil, nil
		return repository.StoreErr(err)
	}
	return nil
}

// verifyOwners checks every owner of an active subscription in the batch
// against Identity. It runs before the transaction so no row is locked
// while a remote lookup is in flight.
func (s *DispatchService) verifyOwners(ctx context.Context, userIDs []int64) error {
	subs, err := s.subscriptionRepo.ListActiveByUserIDs(ctx, nil, userIDs)
	if err != nil {
		return err
	}
	seen := make(map[int64]bool, len(userIDs))
	for _, sub := range subs {
		if seen[sub.UserID] {
			continue
		}
		seen[sub.UserID] = true
		if _, err := s.identity.GetUser(ctx, sub.UserID); err != nil {
			if errors.Is(err, repository.ErrUserNotFound) {
				return fmt.Errorf("owner %d of subscription %d: %w", sub.UserID, sub.ID, err)
			}
			return repository.StoreErr(err)
		}
	}
	return nil
}

// skipReason reports why sub gets nothing today: it was already delivered
// on day, day already has a history entry (e.g. an operator marked it
// missed), or its next delivery is later.
func (s *DispatchService) skipReason(sub *model.Subscription, day string, recorded bool) string {
	if sub.LastDelivered != nil && s.cal.DayOf(*sub.LastDelivered) == day {
		return SkipAlreadyDelivered
	}
	if recorded {
		return SkipAlreadyRecorded
	}
	if sub.NextDeliveryDate > day {
		return SkipNotDue
	}
	return ""
}

// DueUserIDs returns the owners with at least one delivery due on day
// (today when empty) that has no history entry for day yet.
func (s *DispatchService) DueUserIDs(ctx context.Context, actor Actor, day string) ([]int64, error) {
	if !actor.IsAdmin() {
		return nil, repository.ErrForbidden
	}
	day, err := s.cal.Parse(day)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", repository.ErrInvalidArgument, err)
	}
	start, _, err := s.cal.Bounds(day)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", repository.ErrInvalidArgument, err)
	}
	return s.subscriptionRepo.DueUserIDs(ctx, day, start)
}

func normalizeUserIDs(userIDs []int64) []int64 {
	seen := make(map[int64]bool, len(userIDs))
	out := make([]int64, 0, len(userIDs))
	for _, id := range userIDs {
		if id <= 0 || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
