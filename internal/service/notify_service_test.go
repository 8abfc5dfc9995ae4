package service

import (
	"context"
	"testing"

	"dairyrun/internal/model"
	"dairyrun/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendRechargeReminders(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, 1)
	f.seedUser(t, 2)
	f.seedUser(t, 3)
	f.seedWallet(t, 1, "10")
	f.seedWallet(t, 2, "49.99")
	f.seedWallet(t, 3, "50")
	ctx := context.Background()

	n, err := f.notify.SendRechargeReminders(ctx, admin)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	events, err := repository.NewOutboxRepository(f.db).ListByEventType(ctx, model.EventWalletLowBalance)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "wallet-event", events[0].Topic)
	assert.Equal(t, "1", events[0].MessageKey)
	assert.Equal(t, model.OutboxStatusPending, events[0].Status)
	assert.Contains(t, events[1].Payload, `"user_id":2`)

	_, err = f.notify.SendRechargeReminders(ctx, userActor(1))
	assert.ErrorIs(t, err, repository.ErrForbidden)
}

func TestSendRechargeReminders_NothingToSend(t *testing.T) {
	f := newFixture(t)
	n, err := f.notify.SendRechargeReminders(context.Background(), admin)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, f.count(t, &model.OutboxMessage{}, ""))
}
