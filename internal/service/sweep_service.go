package service

import (
	"context"
	"fmt"
	"time"

	"dairyrun/internal/config"
	"dairyrun/internal/metrics"
	"dairyrun/internal/model"
	"dairyrun/internal/repository"
	"dairyrun/pkg/bizday"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// SweepService pauses active subscriptions whose owner can no longer pay
// for one delivery. It catches balance drift between dispatch cycles and
// never touches a wallet.
type SweepService struct {
	db               *gorm.DB
	cfg              *config.Config
	subscriptions    *SubscriptionService
	cal              *bizday.Calendar
	metrics          *metrics.Metrics
	subscriptionRepo *repository.SubscriptionRepository
	walletRepo       *repository.WalletRepository
}

func NewSweepService(db *gorm.DB, cfg *config.Config, subscriptions *SubscriptionService, cal *bizday.Calendar, m *metrics.Metrics) *SweepService {
	return &SweepService{
		db:               db,
		cfg:              cfg,
		subscriptions:    subscriptions,
		cal:              cal,
		metrics:          m,
		subscriptionRepo: repository.NewSubscriptionRepository(db),
		walletRepo:       repository.NewWalletRepository(db),
	}
}

// SweepInsufficientBalance returns the number of subscriptions it paused.
// Running it again, or next to a dispatch cycle, is safe: the scan only
// sees active rows and each pause is guarded by status and version.
func (s *SweepService) SweepInsufficientBalance(ctx context.Context, actor Actor) (int, error) {
	if !actor.IsAdmin() {
		return 0, repository.ErrForbidden
	}

	started := time.Now()
	sweepID := uuid.NewString()
	runCtx := context.WithoutCancel(ctx)
	if s.cfg.Business.CycleTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(runCtx, s.cfg.Business.CycleTimeout)
		defer cancel()
	}

	paused, err := s.sweep(runCtx, sweepID)
	s.metrics.ObserveSweep(paused, err)
	log := logrus.WithField("sweep_id", sweepID)
	if err != nil {
		log.WithError(err).Warn("balance sweep aborted")
		return 0, err
	}
	log.WithFields(logrus.Fields{
		"paused": paused,
		"took":   time.Since(started).String(),
	}).Info("balance sweep committed")
	return paused, nil
}

func (s *SweepService) sweep(ctx context.Context, sweepID string) (int, error) {
	paused := 0
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		paused = 0
		owners, err := s.subscriptionRepo.ActiveOwnerIDs(ctx, tx)
		if err != nil {
			return err
		}
		wallets, err := s.walletRepo.LockByUserIDs(ctx, tx, owners)
		if err != nil {
			return err
		}
		subs, err := s.subscriptionRepo.ListActive(ctx, tx)
		if err != nil {
			return err
		}

		locked := make(map[int64]bool, len(owners))
		for _, id := range owners {
			locked[id] = true
		}

		for _, sub := range subs {
			// an owner that turned active after the owner scan is left to the
			// next sweep, locking it now would break the user id lock order
			if !locked[sub.UserID] {
				continue
			}
			wallet := wallets[sub.UserID]
			if wallet != nil && wallet.Balance.GreaterThanOrEqual(sub.PricePerDay) {
				continue
			}
			if err := s.subscriptions.TransitionTx(ctx, tx, sub, model.SubscriptionStatusPaused,
				model.PauseReasonInsufficientBalance, sweepID); err != nil {
				return fmt.Errorf("pause subscription %d: %w", sub.ID, err)
			}
			paused++
		}
		return nil
	})
	if err != nil {
		return 0, repository.StoreErr(err)
	}
	return paused, nil
}
