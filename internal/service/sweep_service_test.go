package service

import (
	"context"
	"testing"

	"dairyrun/internal/model"
	"dairyrun/internal/repository"
	"dairyrun/pkg/idgen"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

func TestSweep_PausesUnderfundedSubscriptions(t *testing.T) {
	f := newFixture(t)
	for _, id := range []int64{1, 2, 3} {
		f.seedUser(t, id)
	}
	f.seedWallet(t, 1, "10")
	f.seedWallet(t, 2, "100")
	broke := f.seedSubscription(t, 1, "30")
	funded := f.seedSubscription(t, 2, "30")
	noWallet := f.seedSubscription(t, 3, "30")
	userPaused := f.seedSubscription(t, 1, "30", func(s *model.Subscription) {
		s.Status = model.SubscriptionStatusPaused
		s.PauseReason = model.PauseReasonUserPaused
	})

	paused, err := f.sweep.SweepInsufficientBalance(context.Background(), admin)
	require.NoError(t, err)
	assert.Equal(t, 2, paused)

	for _, id := range []int64{broke.ID, noWallet.ID} {
		got := f.reload(t, id)
		assert.Equal(t, model.SubscriptionStatusPaused, got.Status)
		assert.Equal(t, model.PauseReasonInsufficientBalance, got.PauseReason)
	}
	assert.Equal(t, model.SubscriptionStatusActive, f.reload(t, funded.ID).Status)
	assert.Equal(t, model.PauseReasonUserPaused, f.reload(t, userPaused.ID).PauseReason)

	// wallets are read, never written
	assert.True(t, f.balance(t, 1).Equal(decimal.NewFromInt(10)))
	assert.True(t, f.balance(t, 2).Equal(decimal.NewFromInt(100)))
	assert.Zero(t, f.count(t, &model.WalletTransaction{}, "kind = ?", model.TransactionKindDebit))
	assert.Zero(t, f.count(t, &model.Wallet{}, "user_id = ?", 3))

	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.SweepPaused()))
}

func TestSweep_IsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, 1)
	f.seedWallet(t, 1, "10")
	sub := f.seedSubscription(t, 1, "30")

	first, err := f.sweep.SweepInsufficientBalance(context.Background(), admin)
	require.NoError(t, err)
	second, err := f.sweep.SweepInsufficientBalance(context.Background(), admin)
	require.NoError(t, err)

	assert.Equal(t, 1, first)
	assert.Equal(t, 0, second)
	assert.Equal(t, sub.Version+1, f.reload(t, sub.ID).Version)
	assert.Equal(t, int64(1), f.count(t, &model.OutboxMessage{}, "event_type = ?", model.EventSubscriptionPaused))
}

func TestSweep_LeavesOwnersActivatedMidSweepForNextRun(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, 1)
	f.seedUser(t, 2)
	f.seedWallet(t, 1, "100")
	funded := f.seedSubscription(t, 1, "30")

	// user 2 gains an active subscription right after the wallet lock,
	// inside the sweep's own transaction
	late := *funded
	late.ID = 0
	late.UserID = 2
	late.SubscriptionNo = idgen.GenerateSubscriptionNo()
	inserted := false
	require.NoError(t, f.db.Callback().Query().After("gorm:query").Register("test:late_owner", func(db *gorm.DB) {
		if inserted || db.Statement.Schema == nil || db.Statement.Schema.Table != "wallet" {
			return
		}
		inserted = true
		require.NoError(t, db.Session(&gorm.Session{NewDB: true}).Create(&late).Error)
	}))

	paused, err := f.sweep.SweepInsufficientBalance(context.Background(), admin)
	require.NoError(t, err)
	require.True(t, inserted)
	assert.Equal(t, 0, paused)
	assert.Equal(t, model.SubscriptionStatusActive, f.reload(t, late.ID).Status)

	paused, err = f.sweep.SweepInsufficientBalance(context.Background(), admin)
	require.NoError(t, err)
	assert.Equal(t, 1, paused)
	assert.Equal(t, model.SubscriptionStatusPaused, f.reload(t, late.ID).Status)
	assert.Equal(t, model.SubscriptionStatusActive, f.reload(t, funded.ID).Status)
}

func TestSweep_ConcurrentWithDispatch(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, 1)
	f.seedUser(t, 2)
	f.seedWallet(t, 1, "100")
	f.seedWallet(t, 2, "5")
	rich := f.seedSubscription(t, 1, "30")
	poor := f.seedSubscription(t, 2, "30")

	var g errgroup.Group
	g.Go(func() error {
		_, err := f.dispatch.RunCycle(context.Background(), admin, []int64{1, 2})
		return err
	})
	g.Go(func() error {
		_, err := f.sweep.SweepInsufficientBalance(context.Background(), admin)
		return err
	})
	require.NoError(t, g.Wait())

	assert.Equal(t, model.SubscriptionStatusActive, f.reload(t, rich.ID).Status)
	assert.Equal(t, model.SubscriptionStatusPaused, f.reload(t, poor.ID).Status)
	assert.True(t, f.balance(t, 1).Equal(decimal.NewFromInt(70)))
	assert.True(t, f.balance(t, 2).Equal(decimal.NewFromInt(5)))
	assert.Equal(t, int64(1), f.count(t, &model.OutboxMessage{}, "event_type = ?", model.EventSubscriptionPaused))
}

func TestSweep_RequiresAdmin(t *testing.T) {
	f := newFixture(t)
	_, err := f.sweep.SweepInsufficientBalance(context.Background(), userActor(1))
	assert.ErrorIs(t, err, repository.ErrForbidden)
}
