package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/segyhp/tuition-engine/internal/config"
	"github.com/segyhp/tuition-engine/internal/handler"
	"github.com/segyhp/tuition-engine/internal/idempotency"
	"github.com/segyhp/tuition-engine/internal/notifier"
	"github.com/segyhp/tuition-engine/internal/repository"
	"github.com/segyhp/tuition-engine/internal/service"
	"github.com/segyhp/tuition-engine/pkg/logger"
	"github.com/segyhp/tuition-engine/pkg/response"
	"github.com/segyhp/tuition-engine/pkg/utils"
)

func main() {
	boot := logger.Bootstrap()

	// Load configuration
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

	// Initialize database
	db, err := initDB(cfg)
	if err != nil {
		log.Fatal("failed to initialize database", zap.Error(err))
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		if err := repository.Migrate(context.Background(), db); err != nil {
			log.Fatal("failed to migrate database", zap.Error(err))
		}
	}

	// Initialize Redis
	redisClient := initRedis(cfg)
	defer redisClient.Close()

	store := repository.NewPostgresStore(db)
	clock := utils.SystemClock{}
	publisher := notifier.NewMulti(
		notifier.NewLogPublisher(log),
		notifier.NewRedisPublisher(redisClient, notifier.SettledChannel),
	)

	ledger := service.NewLedgerService(store, clock, publisher, log)
	scholarships := service.NewScholarshipService(store, clock, publisher, log)
	discounts := service.NewDiscountService(store, clock, publisher, log)
	requests := service.NewPaymentRequestService(
		store,
		clock,
		utils.SecureCodeSource{},
		idempotency.NewRedisStore(redisClient, cfg.GetIdempotencyLease(), cfg.GetIdempotencyTTL()),
		publisher,
		log,
		service.PaymentRequestOptionsFromConfig(cfg),
	)

	tuitionHandler := handler.NewTuitionHandler(ledger, scholarships, discounts, requests, log)
	healthHandler := handler.NewHealthHandler(cfg.GetHealthTimeout(), log).
		WithCheck("database", handler.DatabaseCheck(db)).
		WithCheck("redis", handler.RedisCheck(redisClient))

	router := setupRoutes(tuitionHandler, healthHandler, log)

	server := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info("server starting", zap.String("addr", server.Addr), zap.String("env", cfg.Server.Env))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
		return
	}

	log.Info("server exited")
}

func initDB(cfg *config.Config) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", cfg.Database.URL)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	return db, nil
}

func initRedis(cfg *config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
}

func setupRoutes(tuitionHandler *handler.TuitionHandler, healthHandler *handler.HealthHandler, log *zap.Logger) *mux.Router {
	router := mux.NewRouter()
	router.Use(response.LoggingMiddleware(log), response.CORSMiddleware)

	// Health check
	router.HandleFunc("/health", healthHandler.Health).Methods("GET")
	router.HandleFunc("/health/ready", healthHandler.Ready).Methods("GET")

	// API routes
	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(response.JSONMiddleware)
	tuitionHandler.RegisterRoutes(api)

	return router
}
