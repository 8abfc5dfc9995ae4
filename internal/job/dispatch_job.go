package job

import (
	"context"
	"time"

	"dairyrun/internal/config"
	"dairyrun/internal/infrastructure/lock"
	"dairyrun/internal/service"
	"dairyrun/pkg/bizday"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// TryLocker makes a single attempt at a lock. lock.RedisLocker and
// lock.LocalLocker implement it.
type TryLocker interface {
	TryAcquire(ctx context.Context, key, owner string, ttl time.Duration) (func(), bool, error)
}

// DispatchJob runs today's delivery cycle on a timer. Only the instance
// holding the day's dispatch lock works; the others skip the tick. Due users
// are dispatched in batches, one cycle per batch, so a failing batch does
// not hold back the rest.
type DispatchJob struct {
	dispatch  *service.DispatchService
	locker    TryLocker
	cal       *bizday.Calendar
	stopCh    chan struct{}
	interval  time.Duration
	lockTTL   time.Duration
	batchSize int
	owner     string
	log       *logrus.Entry
}

func NewDispatchJob(cfg *config.Config, dispatch *service.DispatchService, locker TryLocker, cal *bizday.Calendar) *DispatchJob {
	interval := cfg.Business.DispatchInterval
	if interval <= 0 {
		interval = time.Hour
	}
	lockTTL := cfg.Business.CycleTimeout * 2
	if lockTTL <= 0 {
		lockTTL = 5 * time.Minute
	}
	return &DispatchJob{
		dispatch:  dispatch,
		locker:    locker,
		cal:       cal,
		stopCh:    make(chan struct{}),
		interval:  interval,
		lockTTL:   lockTTL,
		batchSize: 200,
		owner:     uuid.NewString(),
		log:       logrus.WithField("job", "dispatch"),
	}
}

func (j *DispatchJob) Start(ctx context.Context) {
	j.log.WithField("interval", j.interval.String()).Info("started")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.log.Info("context done, exiting")
			return
		case <-j.stopCh:
			j.log.Info("stopped")
			return
		case <-ticker.C:
			j.runOnce(ctx)
		}
	}
}

func (j *DispatchJob) Stop() {
	close(j.stopCh)
}

// runOnce returns the number of subscriptions delivered.
func (j *DispatchJob) runOnce(ctx context.Context) int {
	day := j.cal.Today()
	release, ok, err := j.locker.TryAcquire(ctx, lock.DispatchLockKey(day), j.owner, j.lockTTL)
	if err != nil {
		j.log.WithError(err).Error("acquire dispatch lock")
		return 0
	}
	if !ok {
		j.log.WithField("day", day).Debug("dispatch lock held elsewhere, skipping")
		return 0
	}
	defer release()

	userIDs, err := j.dispatch.DueUserIDs(ctx, service.SystemActor, day)
	if err != nil {
		j.log.WithError(err).Error("load due users")
		return 0
	}

	delivered := 0
	for start := 0; start < len(userIDs); start += j.batchSize {
		end := start + j.batchSize
		if end > len(userIDs) {
			end = len(userIDs)
		}
		result, err := j.dispatch.RunCycle(ctx, service.SystemActor, userIDs[start:end])
		if err != nil {
			// RunCycle already logged the abort; the batch is retried next tick
			continue
		}
		delivered += len(result.Delivered)
	}
	return delivered
}
