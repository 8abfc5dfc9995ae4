package job

import (
	"context"
	"time"

	"dairyrun/internal/config"
	"dairyrun/internal/service"

	"github.com/sirupsen/logrus"
)

// SweepJob runs the insufficient-balance sweep on a timer.
type SweepJob struct {
	sweep    *service.SweepService
	stopCh   chan struct{}
	interval time.Duration
	log      *logrus.Entry
}

func NewSweepJob(cfg *config.Config, sweep *service.SweepService) *SweepJob {
	interval := cfg.Business.SweepInterval
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	return &SweepJob{
		sweep:    sweep,
		stopCh:   make(chan struct{}),
		interval: interval,
		log:      logrus.WithField("job", "sweep"),
	}
}

func (j *SweepJob) Start(ctx context.Context) {
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
			if _, err := j.sweep.SweepInsufficientBalance(ctx, service.SystemActor); err != nil {
				j.log.WithError(err).Error("sweep failed")
			}
		}
	}
}

func (j *SweepJob) Stop() {
	close(j.stopCh)
}
