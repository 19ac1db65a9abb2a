package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/segyhp/tuition-engine/internal/config"
	"github.com/segyhp/tuition-engine/internal/idempotency"
	"github.com/segyhp/tuition-engine/internal/notifier"
	"github.com/segyhp/tuition-engine/internal/repository"
	"github.com/segyhp/tuition-engine/internal/service"
	"github.com/segyhp/tuition-engine/pkg/logger"
	"github.com/segyhp/tuition-engine/pkg/utils"
)

// cronLogger routes cron's own messages through zap.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}

func main() {
	boot := logger.Bootstrap()

	cfg, err := config.Load()
	if err != nil {
		boot.Fatal("failed to load configuration", zap.Error(err))
	}

	log, err := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		boot.Fatal("failed to build logger", zap.Error(err))
	}
	defer log.Sync()
	zap.ReplaceGlobals(log)

	log.Info("starting expiration scheduler")

	db, err := sqlx.Connect("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatal("failed to initialize database", zap.Error(err))
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	requests := service.NewPaymentRequestService(
		repository.NewPostgresStore(db),
		utils.SystemClock{},
		utils.SecureCodeSource{},
		idempotency.NewRedisStore(redisClient, cfg.GetIdempotencyLease(), cfg.GetIdempotencyTTL()),
		notifier.NewLogPublisher(log),
		log,
		service.PaymentRequestOptionsFromConfig(cfg),
	)
	sweeper := service.NewExpirationSweeper(requests, cfg.Scheduler.SweepBatchSize, log)

	loc, err := time.LoadLocation(cfg.Scheduler.Timezone)
	if err != nil {
		log.Warn("unknown scheduler timezone, using UTC", zap.String("timezone", cfg.Scheduler.Timezone), zap.Error(err))
		loc = time.UTC
	}

	cl := cronLogger{s: log.Sugar()}
	c := cron.New(
		cron.WithSeconds(),
		cron.WithLocation(loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	if err := setupCronJobs(c, cfg, sweeper, log); err != nil {
		log.Fatal("failed to schedule jobs", zap.Error(err))
	}

	c.Start()
	log.Info("scheduler started", zap.String("sweep", cfg.GetSweepSpec()))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down scheduler")
	<-c.Stop().Done()
	log.Info("scheduler stopped")
}

func setupCronJobs(c *cron.Cron, cfg *config.Config, sweeper *service.ExpirationSweeper, log *zap.Logger) error {
	_, err := c.AddFunc(cfg.GetSweepSpec(), func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		if _, err := sweeper.Sweep(ctx); err != nil {
			log.Error("expiration sweep failed", zap.Error(err))
		}
	})
	return err
}
