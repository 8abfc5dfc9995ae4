package job

import (
	"context"
	"time"

	"dairyrun/internal/config"
	"dairyrun/internal/model"
	"dairyrun/internal/repository"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Publisher delivers one message to the broker. mq.KafkaPublisher
// implements it.
type Publisher interface {
	Publish(topic, key, value string, headers map[string]string) error
}

// OutboxSender relays pending outbox rows to the broker. A row is marked
// SENT after a successful publish; failures bump its retry count until
// business.max_retry_count, after which it is marked FAILED.
type OutboxSender struct {
	db         *gorm.DB
	outboxRepo *repository.OutboxRepository
	publisher  Publisher
	cfg        *config.Config
	stopCh     chan struct{}
	interval   time.Duration
	batchSize  int
	log        *logrus.Entry
}

func NewOutboxSender(db *gorm.DB, cfg *config.Config, publisher Publisher) *OutboxSender {
	interval := cfg.Business.OutboxInterval
	if interval <= 0 {
		interval = time.Second
	}
	return &OutboxSender{
		db:         db,
		outboxRepo: repository.NewOutboxRepository(db),
		publisher:  publisher,
		cfg:        cfg,
		stopCh:     make(chan struct{}),
		interval:   interval,
		batchSize:  100,
		log:        logrus.WithField("job", "outbox_sender"),
	}
}

func (s *OutboxSender) Start(ctx context.Context) {
	s.log.Info("started")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("context done, exiting")
			return
		case <-s.stopCh:
			s.log.Info("stopped")
			return
		case <-ticker.C:
			s.processPendingMessages(ctx)
		}
	}
}

func (s *OutboxSender) Stop() {
	close(s.stopCh)
}

// processPendingMessages returns how many messages were published.
func (s *OutboxSender) processPendingMessages(ctx context.Context) int {
	messages, err := s.outboxRepo.GetPendingMessages(ctx, s.batchSize)
	if err != nil {
		s.log.WithError(err).Error("load pending messages")
		return 0
	}

	sent := 0
	for _, msg := range messages {
		if s.sendMessage(ctx, msg) {
			sent++
		}
	}
	return sent
}

func (s *OutboxSender) sendMessage(ctx context.Context, msg *model.OutboxMessage) bool {
	log := s.log.WithFields(logrus.Fields{
		"id":         msg.ID,
		"topic":      msg.Topic,
		"key":        msg.MessageKey,
		"event_type": msg.EventType,
	})

	err := s.publisher.Publish(msg.Topic, msg.MessageKey, msg.Payload, map[string]string{
		"event_type": msg.EventType,
	})
	if err == nil {
		if updateErr := s.outboxRepo.UpdateStatus(ctx, msg.ID, model.OutboxStatusSent); updateErr != nil {
			log.WithError(updateErr).Error("mark message sent")
		} else {
			log.Debug("message sent")
		}
		return true
	}

	log.WithError(err).Warn("publish failed")

	if err := s.outboxRepo.IncrementRetryCount(ctx, msg.ID); err != nil {
		log.WithError(err).Error("increment retry count")
	}

	if msg.RetryCount+1 >= s.cfg.Business.MaxRetryCount {
		if err := s.outboxRepo.MarkAsFailed(ctx, msg.ID); err != nil {
			log.WithError(err).Error("mark message failed")
		} else {
			log.Error("message exceeded max retries, marked failed")
		}
	}
	return false
}
