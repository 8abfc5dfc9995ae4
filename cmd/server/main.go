package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dairyrun/internal/config"
	"dairyrun/internal/handler"
	"dairyrun/internal/infrastructure/cache"
	"dairyrun/internal/infrastructure/database"
	"dairyrun/internal/infrastructure/lock"
	"dairyrun/internal/infrastructure/mq"
	"dairyrun/internal/job"
	"dairyrun/internal/metrics"
	"dairyrun/internal/service"
	"dairyrun/pkg/bizday"
	"dairyrun/pkg/idgen"

	"github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the YAML config file")
	flag.Parse()

	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.WithError(err).Fatal("load config")
	}
	release := cfg.Server.Mode == "release"
	if release {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	}

	if err := idgen.Init(cfg.Server.NodeID); err != nil {
		logrus.WithError(err).Fatal("init id generator")
	}

	cal, err := bizday.New(cfg.Business.Timezone, nil)
	if err != nil {
		logrus.WithError(err).Fatal("init business calendar")
	}

	db, err := database.InitMySQL(&cfg.MySQL, release)
	if err != nil {
		logrus.WithError(err).Fatal("init mysql")
	}

	redisClient, err := cache.InitRedis(&cfg.Redis)
	if err != nil {
		logrus.WithError(err).Fatal("init redis")
	}
	defer redisClient.Close()

	publisher, err := mq.NewKafkaPublisher(&cfg.Kafka)
	if err != nil {
		logrus.WithError(err).Fatal("init kafka")
	}
	defer publisher.Close()

	m := metrics.Default()
	locker := lock.NewRedisLocker(redisClient)
	dir := service.NewDirectory(db)

	ledger := service.NewLedgerService(db, dir, locker, cal, m)
	subscriptions := service.NewSubscriptionService(db, cfg, ledger, dir, dir, cal)
	dispatch := service.NewDispatchService(db, cfg, ledger, subscriptions, dir, cal, m)
	sweep := service.NewSweepService(db, cfg, subscriptions, cal, m)
	svc := &handler.Services{
		Ledger:        ledger,
		Subscriptions: subscriptions,
		Dispatch:      dispatch,
		Sweep:         sweep,
		Reports:       service.NewReportService(db, cfg, cache.NewJSONCache(redisClient), cal),
		Notify:        service.NewNotifyService(db, cfg, cal),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	outboxSender := job.NewOutboxSender(db, cfg, publisher)
	go outboxSender.Start(ctx)

	dispatchJob := job.NewDispatchJob(cfg, dispatch, locker, cal)
	go dispatchJob.Start(ctx)

	sweepJob := job.NewSweepJob(cfg, sweep)
	go sweepJob.Start(ctx)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           handler.SetupRouter(svc, cfg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logrus.WithField("port", cfg.Server.Port).Info("http server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.WithError(err).Fatal("http server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("shutting down")

	// stop the jobs first so no cycle starts while requests drain; a cycle
	// already running finishes under its own timeout
	cancel()
	outboxSender.Stop()
	dispatchJob.Stop()
	sweepJob.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Warn("http server shutdown")
	}

	logrus.Info("server stopped")
}
