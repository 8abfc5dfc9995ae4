package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"dairyrun/internal/config"
	"dairyrun/internal/infrastructure/database"
	"dairyrun/internal/infrastructure/lock"
	"dairyrun/internal/metrics"
	"dairyrun/internal/model"
	"dairyrun/pkg/bizday"
	"dairyrun/pkg/idgen"

	"github.com/glebarez/sqlite"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	ist = time.FixedZone("IST", 5*3600+1800)

	// 11:30 in Kolkata
	fixedNow = time.Date(2026, 10, 16, 6, 0, 0, 0, time.UTC)
)

const today = "2026-10-16"

var admin = SystemActor

type fixture struct {
	now      time.Time
	db       *gorm.DB
	cfg      *config.Config
	cal      *bizday.Calendar
	metrics  *metrics.Metrics
	ledger   *LedgerService
	subs     *SubscriptionService
	dispatch *DispatchService
	sweep    *SweepService
	reports  *ReportService
	notify   *NotifyService
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), database.GormConfig(logger.Silent))
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// one connection keeps every session on the same in-memory database
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := newTestDB(t)
	cfg := &config.Config{
		Kafka: config.KafkaConfig{
			Topic: config.KafkaTopicConfig{
				SubscriptionEvent: "subscription-event",
				WalletEvent:       "wallet-event",
			},
		},
		Business: config.BusinessConfig{
			Timezone:            "Asia/Kolkata",
			CycleTimeout:        30 * time.Second,
			LowBalanceThreshold: "50",
			StatsCacheTTL:       time.Minute,
		},
	}
	f := &fixture{now: fixedNow}
	cal := bizday.NewInLocation(ist, func() time.Time { return f.now })
	m := metrics.MustNew(prometheus.NewRegistry())
	dir := NewDirectory(db)

	ledger := NewLedgerService(db, dir, lock.NewLocalLocker(), cal, m)
	subs := NewSubscriptionService(db, cfg, ledger, dir, dir, cal)
	f.db = db
	f.cfg = cfg
	f.cal = cal
	f.metrics = m
	f.ledger = ledger
	f.subs = subs
	f.dispatch = NewDispatchService(db, cfg, ledger, subs, dir, cal, m)
	f.sweep = NewSweepService(db, cfg, subs, cal, m)
	f.reports = NewReportService(db, cfg, nil, cal)
	f.notify = NewNotifyService(db, cfg, cal)
	return f
}

// setDay moves the clock to 11:30 in the business zone on day. Only call
// it while no service call is in flight.
func (f *fixture) setDay(t *testing.T, day string) {
	t.Helper()
	d, err := time.ParseInLocation(bizday.Layout, day, ist)
	require.NoError(t, err)
	f.now = d.Add(11*time.Hour + 30*time.Minute)
}

func (f *fixture) seedUser(t *testing.T, id int64) {
	t.Helper()
	require.NoError(t, f.db.Create(&model.User{
		ID:      id,
		Name:    "user",
		Email:   fmt.Sprintf("user%d@example.com", id),
		Address: "12 Lake Road",
		Role:    model.RoleUser,
	}).Error)
}

// seedWallet credits through the ledger so every balance has a matching
// transaction.
func (f *fixture) seedWallet(t *testing.T, userID int64, balance string) {
	t.Helper()
	_, err := f.ledger.Credit(context.Background(), admin, userID, decimal.RequireFromString(balance), LedgerEntry{Reason: "seed"})
	require.NoError(t, err)
}

func (f *fixture) seedSubscription(t *testing.T, userID int64, price string, opts ...func(*model.Subscription)) *model.Subscription {
	t.Helper()
	p := decimal.RequireFromString(price)
	sub := &model.Subscription{
		SubscriptionNo:    idgen.GenerateSubscriptionNo(),
		UserID:            userID,
		ProductID:         1,
		ProductName:       "Milk",
		Quantity:          1,
		PricePerDay:       p,
		TotalCost:         p.Mul(decimal.NewFromInt(30)),
		Status:            model.SubscriptionStatusActive,
		PauseReason:       model.PauseReasonNone,
		DeliveryFrequency: model.FrequencyDaily,
		Plan:              "1_month",
		DurationDays:      30,
		StartDate:         today,
		EndDate:           "2026-11-15",
		NextDeliveryDate:  today,
		PaymentMethod:     model.PaymentMethodWallet,
		Address:           "12 Lake Road",
	}
	for _, opt := range opts {
		opt(sub)
	}
	require.NoError(t, f.db.Create(sub).Error)
	return sub
}

func (f *fixture) seedProduct(t *testing.T, price string, quantity int, available bool) *model.Product {
	t.Helper()
	p := &model.Product{
		Name:         "Milk",
		PricePerDay:  decimal.RequireFromString(price),
		Quantity:     quantity,
		Category:     "dairy",
		Availability: available,
	}
	require.NoError(t, f.db.Create(p).Error)
	return p
}

func (f *fixture) balance(t *testing.T, userID int64) decimal.Decimal {
	t.Helper()
	var w model.Wallet
	require.NoError(t, f.db.Where("user_id = ?", userID).First(&w).Error)
	return w.Balance
}

func (f *fixture) reload(t *testing.T, id int64) *model.Subscription {
	t.Helper()
	var sub model.Subscription
	require.NoError(t, f.db.First(&sub, id).Error)
	return &sub
}

func (f *fixture) count(t *testing.T, m interface{}, query string, args ...interface{}) int64 {
	t.Helper()
	var n int64
	q := f.db.Model(m)
	if query != "" {
		q = q.Where(query, args...)
	}
	require.NoError(t, q.Count(&n).Error)
	return n
}

func userActor(id int64) Actor {
	return Actor{UserID: id, Role: model.RoleUser}
}
