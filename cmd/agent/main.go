package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"notifysync/internal/cache"
	"notifysync/internal/config"
	"notifysync/internal/httpserver"
	"notifysync/internal/lifecycle"
	"notifysync/internal/push"
	"notifysync/internal/realtime"
	"notifysync/internal/repository"
	"notifysync/internal/syncer"
	"notifysync/pkg/db"
	"notifysync/pkg/logger"
	"notifysync/pkg/redis"
	"notifysync/pkg/util"
)

func main() {
	cfg := config.Load()

	log := logger.NewLogger()
	defer log.Sync()

	log.Info("Starting notification sync agent...",
		zap.String("db_host", cfg.DB.Host),
		zap.Int("db_port", cfg.DB.Port),
		zap.String("mq_url", cfg.MQ.URL),
	)

	// DB
	dbConn, err := db.NewConnection(cfg.DB, log)
	if err != nil {
		log.Fatal("Failed to init DB", zap.Error(err))
	}
	defer dbConn.Close()

	// Redis (device-local store, dedup)
	rdb := redis.NewRedisClient(cfg.Redis)
	defer rdb.Close()

	store := cache.NewRedisStore(rdb)
	notifCache := cache.New(store, log)
	if cfg.Sync.CacheFreshnessSeconds > 0 {
		notifCache.SetFreshness(time.Duration(cfg.Sync.CacheFreshnessSeconds) * time.Second)
	}

	// Repositories
	notificationRepo := repository.NewNotificationRepository(dbConn, log)
	deviceTokenRepo := repository.NewDeviceTokenRepository(dbConn, log)

	// Push mirror (optional: the agent runs without it when FCM is not
	// configured)
	var notifier syncer.Notifier
	if cfg.Push.CredentialsPath != "" {
		sender, err := push.NewFCMSender(context.Background(), cfg.Push, deviceTokenRepo, log)
		if err != nil {
			log.Fatal("Failed to init FCM sender", zap.Error(err))
		}
		notifier = sender
	} else {
		log.Warn("FCM not configured, push mirroring disabled")
	}

	// Synchronizer
	sync := syncer.New(notificationRepo, notifCache, notifier, log)

	// Realtime channel
	dedupTTL := 24 * time.Hour
	if cfg.Sync.DedupTTLSeconds > 0 {
		dedupTTL = time.Duration(cfg.Sync.DedupTTLSeconds) * time.Second
	}
	deduper := util.NewDeduper(rdb, dedupTTL, log)
	rt := realtime.NewManager(cfg.MQ.URL, sync, deduper, log)

	// Push registration
	source := &push.StaticTokenSource{
		Physical:  cfg.Device.Physical,
		Granted:   cfg.Device.PermissionGranted,
		PushToken: cfg.Device.PushToken,
		Plat:      cfg.Device.Platform,
	}
	registrar := push.NewRegistrar(source, deviceTokenRepo, store, log)

	// Lifecycle
	controller := lifecycle.NewController(sync, rt, registrar, log)
	if cfg.Sync.StaleAfterSeconds > 0 {
		controller.SetStaleAfter(time.Duration(cfg.Sync.StaleAfterSeconds) * time.Second)
	}

	// HTTP server
	handler := httpserver.NewNotificationHandler(sync, controller, registrar, log)
	router := httpserver.NewRouter(handler, dbConn, cfg.JWT.Secret)

	port := cfg.Server.Port
	if port == "" {
		port = "8086"
	}
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: router.Engine,
	}

	go func() {
		log.Info("HTTP server starting", zap.String("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	log.Info("Notification sync agent is fully initialized and running")

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down notification sync agent gracefully...")

	rt.Disconnect()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	} else {
		log.Info("HTTP server stopped")
	}

	log.Info("Notification sync agent shutdown complete")
}
