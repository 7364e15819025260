package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bsm/redislock"
	"github.com/sirupsen/logrus"

	"cabangpos/backend/internal/cache"
	"cabangpos/backend/internal/config"
	"cabangpos/backend/internal/httpapi"
	"cabangpos/backend/internal/reconcile"
	"cabangpos/backend/internal/service"
	"cabangpos/backend/internal/store"
	"cabangpos/backend/internal/store/memory"
	pgstore "cabangpos/backend/internal/store/postgres"
)

func main() {
	cfg := config.Load()

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if err := validateSecurityConfig(cfg); err != nil {
		logger.Fatalf("invalid security configuration: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var (
		creds  store.CredentialStore
		mirror store.MirrorStore
		repo   store.Repository
	)
	closers := make([]func() error, 0, 3)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatalf("postgres unavailable (%v) and DATABASE_URL is set; refusing to start with in-memory fallback", err)
		}
		creds = pg
		repo = pg
		closers = append(closers, pg.Close)
		logger.Info("credential store: postgres")

		if cfg.BranchDatabaseURL != "" {
			branchPG, err := pgstore.New(ctx, cfg.BranchDatabaseURL)
			if err != nil {
				logger.Warnf("branch mirror database unavailable (%v), mirroring into the credential store database", err)
				mirror = pg
			} else {
				mirror = branchPG
				closers = append(closers, branchPG.Close)
				logger.Info("mirror store: postgres (branch)")
			}
		} else {
			mirror = pg
			logger.Warn("BRANCH_DATABASE_URL not set, mirroring into the credential store database")
		}
	} else {
		seeded := memory.NewSeeded(cfg.DefaultBranchCode)
		creds = seeded
		repo = seeded
		mirror = memory.New()
		logger.Info("stores: in-memory (seeded)")
	}

	var floorCache cache.FloorCache = cache.NoopFloorCache{}
	var locker *redislock.Client
	if cfg.RedisAddr != "" {
		redisCache, err := cache.NewRedisFloorCache(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			logger.Warnf("redis unavailable (%v), using noop floor cache", err)
		} else {
			floorCache = redisCache
			locker = redislock.New(redisCache.Client())
			closers = append(closers, redisCache.Close)
			logger.Info("floor cache: redis")
		}
	} else {
		logger.Info("floor cache: noop")
	}

	svc := service.New(creds, mirror, repo, floorCache, logger)

	if cfg.AdminPassword != "" {
		admin, err := svc.EnsureHeadOfficeAdmin(ctx, cfg.AdminUsername, cfg.AdminPassword)
		if err != nil {
			logger.Fatalf("head-office admin bootstrap failed: %v", err)
		}
		logger.Infof("head-office admin ready: %s", admin.Username)
	} else {
		logger.Warn("HO_ADMIN_PASSWORD not set, head-office admin not provisioned; branch provisioning endpoints need an admin token")
	}

	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, creds, mirror, logger)
	api := httpapi.New(svc, auth, cfg.AllowedOrigin, logger)

	reconcileCtx, stopReconcile := context.WithCancel(context.Background())
	defer stopReconcile()
	reconciler := reconcile.New(svc, time.Duration(cfg.ReconcileIntervalMinutes)*time.Minute, locker, logger)
	go reconciler.Run(reconcileCtx)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Infof("branch POS backend listening on %s", cfg.Address())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("server error: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	stopReconcile()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("shutdown error: %v", err)
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			logger.Warnf("close error: %v", err)
		}
	}

	logger.Info("server stopped")
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	return nil
}
