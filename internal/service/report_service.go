package service

import (
	"context"
	"fmt"
	"time"

	"dairyrun/internal/config"
	"dairyrun/internal/model"
	"dairyrun/internal/repository"
	"dairyrun/pkg/bizday"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// StatsCache keeps computed dashboards for a short while. JSONCache
// implements it on Redis.
type StatsCache interface {
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// DashboardStats summarises one calendar day in the business timezone.
type DashboardStats struct {
	Date                    string          `json:"date"`
	Timezone                string          `json:"timezone"`
	ActiveSubscriptions     int64           `json:"active_subscriptions"`
	PausedByUser            int64           `json:"paused_by_user"`
	PausedInsufficientFunds int64           `json:"paused_insufficient_balance"`
	PendingPayment          int64           `json:"pending_payment"`
	CreditedAmount          decimal.Decimal `json:"credited_amount"`
	DebitedAmount           decimal.Decimal `json:"debited_amount"`
	DeliveriesCompleted     int64           `json:"deliveries_completed"`
	DeliveriesMissed        int64           `json:"deliveries_missed"`
}

// ReportService computes dashboards. It only reads.
type ReportService struct {
	cfg        *config.Config
	cache      StatsCache
	cal        *bizday.Calendar
	reportRepo *repository.ReportRepository
}

func NewReportService(db *gorm.DB, cfg *config.Config, cache StatsCache, cal *bizday.Calendar) *ReportService {
	return &ReportService{
		cfg:        cfg,
		cache:      cache,
		cal:        cal,
		reportRepo: repository.NewReportRepository(db),
	}
}

// DashboardStats reports subscription counts as of now, and money moved and
// deliveries made on day. day is YYYY-MM-DD in the business timezone, today
// when empty. No data yields zero values, never an error.
func (s *ReportService) DashboardStats(ctx context.Context, actor Actor, day string) (*DashboardStats, error) {
	if !actor.IsAdmin() {
		return nil, repository.ErrForbidden
	}
	day, err := s.cal.Parse(day)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", repository.ErrInvalidArgument, err)
	}

	key := "dashboard:stats:" + day
	if s.cache != nil {
		var cached DashboardStats
		hit, err := s.cache.Get(ctx, key, &cached)
		if err != nil {
			logrus.WithError(err).Warn("dashboard cache read failed")
		} else if hit {
			return &cached, nil
		}
	}

	stats, err := s.compute(ctx, day)
	if err != nil {
		return nil, err
	}

	if s.cache != nil && s.cfg.Business.StatsCacheTTL > 0 {
		if err := s.cache.Set(ctx, key, stats, s.cfg.Business.StatsCacheTTL); err != nil {
			logrus.WithError(err).Warn("dashboard cache write failed")
		}
	}
	return stats, nil
}

func (s *ReportService) compute(ctx context.Context, day string) (*DashboardStats, error) {
	start, end, err := s.cal.Bounds(day)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", repository.ErrInvalidArgument, err)
	}

	stats := &DashboardStats{
		Date:           day,
		Timezone:       s.cal.Location().String(),
		CreditedAmount: decimal.Zero,
		DebitedAmount:  decimal.Zero,
	}

	statuses, err := s.reportRepo.CountSubscriptionsByStatus(ctx)
	if err != nil {
		return nil, err
	}
	for _, row := range statuses {
		switch {
		case row.Status == model.SubscriptionStatusActive:
			stats.ActiveSubscriptions += row.Total
		case row.Status == model.SubscriptionStatusPendingPayment:
			stats.PendingPayment += row.Total
		case row.Status == model.SubscriptionStatusPaused && row.PauseReason == model.PauseReasonUserPaused:
			stats.PausedByUser += row.Total
		case row.Status == model.SubscriptionStatusPaused && row.PauseReason == model.PauseReasonInsufficientBalance:
			stats.PausedInsufficientFunds += row.Total
		}
	}

	stats.CreditedAmount, stats.DebitedAmount, err = s.reportRepo.SumTransactionsBetween(ctx, start, end)
	if err != nil {
		return nil, err
	}

	outcomes, err := s.reportRepo.CountDeliveriesByOutcome(ctx, day)
	if err != nil {
		return nil, err
	}
	for _, row := range outcomes {
		switch row.Outcome {
		case model.DeliveryOutcomeDelivered:
			stats.DeliveriesCompleted = row.Total
		case model.DeliveryOutcomeMissed:
			stats.DeliveriesMissed = row.Total
		}
	}
	return stats, nil
}
