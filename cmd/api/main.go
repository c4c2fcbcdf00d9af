package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"database/sql"

	"github.com/akulagin/invest-card-service/internal/config"
	"github.com/akulagin/invest-card-service/internal/handler"
	"github.com/akulagin/invest-card-service/internal/integrations/cbr"
	"github.com/akulagin/invest-card-service/internal/middleware"
	"github.com/akulagin/invest-card-service/internal/remote"
	pgstore "github.com/akulagin/invest-card-service/internal/remote/pg"
	redisstore "github.com/akulagin/invest-card-service/internal/remote/redis"
	"github.com/akulagin/invest-card-service/internal/repository"
	"github.com/akulagin/invest-card-service/internal/service"
	"github.com/akulagin/invest-card-service/internal/syncer"
	"github.com/akulagin/invest-card-service/internal/utils/email"
	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

func main() {
	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logLevel, err := logrus.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	// Load configuration
	cfg, err := config.NewConfig()
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}

	// Initialize local store
	repo, err := repository.NewRepository(cfg.DataFile, cfg.ActivityMax, logger)
	if err != nil {
		logger.Fatalf("Failed to open local store: %v", err)
	}

	// Initialize remote store backend
	remoteStore, err := newRemoteStore(cfg, logger)
	if err != nil {
		logger.Fatalf("Failed to initialize remote store: %v", err)
	}

	// Initialize layers
	rates, err := cbr.NewClient(cfg, logger)
	if err != nil {
		logger.Fatalf("Failed to initialize rate client: %v", err)
	}
	var mailer service.Mailer
	if cfg.SMTPHost != "" {
		mailer = email.NewSender(cfg, logger)
	}
	svc := service.NewService(repo, logger, cfg, rates, mailer)
	sync := syncer.NewSynchronizer(repo, remoteStore, cfg.SyncTimeout, cfg.ActivityMax, logger)
	h := handler.NewHandler(svc, sync, logger)

	// Schedule background synchronization
	scheduler := cron.New()
	_, err = scheduler.AddFunc(fmt.Sprintf("@every %s", cfg.SyncInterval), func() {
		if err := sync.Sync(context.Background()); err != nil {
			logger.Warnf("Background sync failed, retrying next interval: %v", err)
		}
	})
	if err != nil {
		logger.Fatalf("Failed to schedule sync: %v", err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	// Setup router
	r := mux.NewRouter()
	// Public routes
	r.HandleFunc("/register", h.Register).Methods("POST")
	r.HandleFunc("/login", h.Login).Methods("POST")
	// Protected routes
	authRouter := r.PathPrefix("/").Subrouter()
	authRouter.Use(middleware.AuthMiddleware(cfg))
	authRouter.HandleFunc("/cards", h.CreateCard).Methods("POST")
	authRouter.HandleFunc("/cards", h.ListCards).Methods("GET")
	authRouter.HandleFunc("/cards/lookup", h.LookupCard).Methods("GET")
	authRouter.HandleFunc("/cards/{id}", h.GetCard).Methods("GET")
	authRouter.HandleFunc("/cards/{id}", h.DeleteCard).Methods("DELETE")
	authRouter.HandleFunc("/cards/{id}/suspend", h.SuspendCard).Methods("POST")
	authRouter.HandleFunc("/cards/{id}/activate", h.ActivateCard).Methods("POST")
	authRouter.HandleFunc("/cards/{id}/renew", h.RenewCard).Methods("POST")
	authRouter.HandleFunc("/cards/{id}/share", h.ShareCard).Methods("POST")
	authRouter.HandleFunc("/cards/{id}/refresh", h.RefreshFinancials).Methods("POST")
	authRouter.HandleFunc("/cards/{id}/activities", h.CardActivities).Methods("GET")
	authRouter.HandleFunc("/activities/recent", h.RecentActivities).Methods("GET")
	authRouter.HandleFunc("/summary", h.InvestorSummary).Methods("POST")
	authRouter.HandleFunc("/sync", h.SyncNow).Methods("POST")

	// Start server
	addr := fmt.Sprintf(":%s", cfg.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	logger.Infof("Starting server on %s", addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("Server failed: %v", err)
	}
}

// newRemoteStore selects the remote store backend. The memory backend
// keeps the service fully offline.
func newRemoteStore(cfg *config.Config, logger *logrus.Logger) (remote.Store, error) {
	switch cfg.RemoteBackend {
	case "postgres":
		db, err := sql.Open("postgres", cfg.DBConn)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to ping database: %w", err)
		}
		store := pgstore.NewStore(db)
		if err := store.EnsureSchema(context.Background()); err != nil {
			return nil, err
		}
		logger.Info("Using Postgres remote store")
		return store, nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		if err := client.Ping(context.Background()).Err(); err != nil {
			return nil, fmt.Errorf("failed to ping redis: %w", err)
		}
		logger.Info("Using Redis remote store")
		return redisstore.NewStore(client), nil
	default:
		logger.Info("Using in-memory remote store")
		return remote.NewMemory(), nil
	}
}
