package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"supermarket-pos/backend/internal/cache"
	"supermarket-pos/backend/internal/config"
	"supermarket-pos/backend/internal/hardware"
	"supermarket-pos/backend/internal/httpapi"
	"supermarket-pos/backend/internal/lock"
	"supermarket-pos/backend/internal/logging"
	"supermarket-pos/backend/internal/service"
	"supermarket-pos/backend/internal/store"
	"supermarket-pos/backend/internal/store/memory"
	pgstore "supermarket-pos/backend/internal/store/postgres"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logrus.Warnf("could not read .env: %v", err)
	}
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel)

	if err := validateSecurityConfig(cfg); err != nil {
		logger.Fatalf("invalid security configuration: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 2)

	if cfg.DatabaseURL != "" {
		if cfg.AutoMigrate {
			if err := pgstore.Migrate(cfg.DatabaseURL); err != nil {
				logger.Fatalf("database migration failed: %v", err)
			}
			logger.Info("database migrations applied")
		}
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatalf("postgres unavailable (%v) and DATABASE_URL is set; refusing to start with in-memory fallback", err)
		}
		repo = pg
		closers = append(closers, pg.Close)
		logger.Info("repository: postgres")
	} else {
		repo = memory.NewSeeded()
		logger.Info("repository: in-memory")
	}

	opts, err := serviceOptions(cfg, logger)
	if err != nil {
		logger.Fatalf("invalid hardware configuration: %v", err)
	}

	if cfg.RedisAddr != "" {
		rdb := cache.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := useRedis(ctx, &opts, rdb); err != nil {
			logger.Warnf("redis unavailable (%v), using noop report cache and in-process locks", err)
			_ = rdb.Close()
		} else {
			closers = append(closers, rdb.Close)
			logger.Info("cache: redis, locks: redis")
		}
	} else {
		logger.Info("cache: noop, locks: in-process")
	}

	svc := service.New(repo, opts)
	auth := httpapi.NewAuthManager(cfg.AuthSecret, cfg.AccessTokenTTL(), repo, logger)
	if cfg.DatabaseURL != "" {
		if err := auth.EnsureAdmin(ctx, cfg.SeedAdminPassword); err != nil {
			logger.Fatalf("admin bootstrap failed: %v", err)
		}
	}
	api := httpapi.New(svc, auth, cfg.AllowedOrigin, logger)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		// Terminal and printer calls happen inside requests.
		WriteTimeout: 45 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Infof("POS backend listening on %s", cfg.Address())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("server error: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("shutdown error: %v", err)
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			logger.Errorf("close error: %v", err)
		}
	}

	logger.Info("server stopped")
}

// serviceOptions builds the hardware adapters and defaults that do not need
// a network round trip.
func serviceOptions(cfg config.Config, logger *logrus.Logger) (service.Options, error) {
	printer, err := hardware.NewPrinter(cfg.PrinterType, cfg.PrinterAddr, cfg.PrinterDevice)
	if err != nil {
		return service.Options{}, err
	}

	opts := service.Options{
		Cache:    cache.NoopReportCache{},
		CacheTTL: cfg.ReportCacheTTL(),
		Locker:   lock.NewLocalLocker(),
		Printer:  printer,
		Terminal: hardware.NewPineLabsTerminal(hardware.TerminalConfig{
			Host:         cfg.PineLabsHost,
			Port:         cfg.PineLabsPort,
			MerchantID:   cfg.PineLabsMerchantID,
			TerminalID:   cfg.PineLabsTerminalID,
			MerchantName: cfg.StoreName,
		}),
		StoreInfo: hardware.StoreInfo{
			Name:    cfg.StoreName,
			Address: cfg.StoreAddress,
			Phone:   cfg.StorePhone,
		},
		PhoneRegion: cfg.DefaultPhoneRegion,
		Logger:      logger,
	}
	if cfg.ScaleDevice != "" {
		opts.Scale = hardware.NewSerialScale(cfg.ScaleDevice, cfg.ScaleTimeout())
	}
	return opts, nil
}

// useRedis points the report cache and the terminal-payment lock at one
// shared client. opts is left alone when redis does not answer.
func useRedis(ctx context.Context, opts *service.Options, rdb *redis.Client) error {
	reportCache := cache.NewRedisReportCache(rdb)
	if err := reportCache.Ping(ctx); err != nil {
		return err
	}
	opts.Cache = reportCache
	opts.Locker = lock.NewRedisLocker(rdb)
	return nil
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	return nil
}
