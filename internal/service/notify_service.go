package service

import (
	"context"
	"strconv"
	"time"

	"dairyrun/internal/config"
	"dairyrun/internal/model"
	"dairyrun/internal/repository"
	"dairyrun/pkg/bizday"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const reminderBatchSize = 1000

// LowBalanceEvent asks the notification side to remind a user to top up.
type LowBalanceEvent struct {
	UserID     int64           `json:"user_id"`
	Balance    decimal.Decimal `json:"balance"`
	Threshold  decimal.Decimal `json:"threshold"`
	OccurredAt string          `json:"occurred_at"`
}

// NotifyService queues recharge reminders. Sending is left to whoever
// consumes the wallet event topic.
type NotifyService struct {
	db         *gorm.DB
	cfg        *config.Config
	cal        *bizday.Calendar
	walletRepo *repository.WalletRepository
	outboxRepo *repository.OutboxRepository
}

func NewNotifyService(db *gorm.DB, cfg *config.Config, cal *bizday.Calendar) *NotifyService {
	return &NotifyService{
		db:         db,
		cfg:        cfg,
		cal:        cal,
		walletRepo: repository.NewWalletRepository(db),
		outboxRepo: repository.NewOutboxRepository(db),
	}
}

// SendRechargeReminders queues one wallet.low_balance event per wallet
// below business.low_balance_threshold and returns how many were queued.
func (s *NotifyService) SendRechargeReminders(ctx context.Context, actor Actor) (int, error) {
	if !actor.IsAdmin() {
		return 0, repository.ErrForbidden
	}
	threshold := s.cfg.Business.LowBalance()
	wallets, err := s.walletRepo.ListBelow(ctx, threshold, reminderBatchSize)
	if err != nil {
		return 0, err
	}
	if len(wallets) == 0 {
		return 0, nil
	}

	now := s.cal.Now().Format(time.RFC3339)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, w := range wallets {
			event := LowBalanceEvent{
				UserID:     w.UserID,
				Balance:    w.Balance,
				Threshold:  threshold,
				OccurredAt: now,
			}
			if err := s.outboxRepo.Enqueue(ctx, tx, s.cfg.Kafka.Topic.WalletEvent, model.EventWalletLowBalance,
				strconv.FormatInt(w.UserID, 10), event); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, repository.StoreErr(err)
	}

	logrus.WithFields(logrus.Fields{
		"count":     len(wallets),
		"threshold": threshold.StringFixed(2),
	}).Info("recharge reminders queued")
	return len(wallets), nil
}
