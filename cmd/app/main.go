package main

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"satchat/internal/bitnob"
	"satchat/internal/cache"
	"satchat/internal/config"
	"satchat/internal/convo"
	"satchat/internal/httpserver"
	"satchat/internal/logging"
	"satchat/internal/metrics"
	"satchat/internal/otp"
	"satchat/internal/repo"
	"satchat/internal/twilio"
	"satchat/internal/txn"
	"satchat/migrations"

	"github.com/joho/godotenv"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.NewLogger(cfg.LogLevel)
	logger.Info("starting satchat", "env", cfg.AppEnv)

	if cfg.PublicBaseURL != "" {
		webhookURL := strings.TrimRight(cfg.PublicBaseURL, "/") + "/webhook/twilio"
		logger.Info("public base url configured", "base_url", cfg.PublicBaseURL, "webhook_url", webhookURL)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metricRegistry := metrics.Registry(cfg.MetricsNamespace)

	var store repo.Store
	var migrationFS fs.FS
	if cfg.DatabaseURL != "" {
		store, err = repo.NewPostgres(ctx, cfg.DatabaseURL, logger)
		migrationFS = migrations.Postgres()
	} else {
		store, err = repo.NewSQLite(ctx, cfg.SQLitePath, logger)
		migrationFS = migrations.SQLite()
	}
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer store.Close()

	if err := store.RunMigrations(ctx, migrationFS); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrated")

	redisClient := cache.New(cache.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		UseTLS:   cfg.RedisTLS,
	}, logger)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("failed closing redis", "error", err)
		}
	}()
	if err := redisClient.Ping(ctx); err != nil {
		logger.Warn("redis ping failed", "error", err)
	}

	bitnobClient := bitnob.New(bitnob.Config{
		BaseURL: cfg.BitnobBaseURL,
		APIKey:  cfg.BitnobAPIKey,
		Secret:  cfg.BitnobSecretKey,
		Timeout: cfg.BitnobTimeout,
	}, logger, metricRegistry)

	twilioClient := twilio.New(twilio.Config{
		AccountSID:     cfg.TwilioAccountSID,
		AuthToken:      cfg.TwilioAuthToken,
		WhatsAppNumber: cfg.TwilioWhatsAppNumber,
		SMSNumber:      cfg.TwilioSMSNumber,
		Timeout:        cfg.TwilioTimeout,
	}, logger, metricRegistry)

	otpService := otp.New(otp.Config{
		Length:        cfg.OTPLength,
		TTL:           cfg.OTPTTL,
		MaxAttempts:   cfg.OTPMaxAttempt,
		LockThreshold: cfg.LockThreshold,
		LockDuration:  cfg.LockDuration,
	}, store, logger, metricRegistry)

	manager := txn.New(store, bitnobClient, twilioClient, otpService, txn.Limits{
		MinSendSats: cfg.MinSendAmount,
		MaxSendSats: cfg.MaxSendAmount,
	}, logger, metricRegistry)

	limiter := cache.NewRateLimiter(redisClient, cfg.RateLimitPerMinute, time.Minute)
	engine := convo.New(store, bitnobClient, bitnobClient, manager, limiter, bitnobClient, redisClient, logger, metricRegistry)

	webhookHandler := bitnob.NewWebhookHandler(logger, metricRegistry, cfg.BitnobWebhookSecret, manager)

	httpSrv := httpserver.New(httpserver.Config{
		Addr:          cfg.HTTPListenAddr,
		BasePath:      cfg.PublicBasePath,
		PublicBaseURL: cfg.PublicBaseURL,
		AdminToken:    cfg.AdminToken,
	}, logger, metricRegistry, httpserver.Handlers{
		BitnobWebhook: webhookHandler,
	}, httpserver.Dependencies{
		Store:      store,
		Engine:     engine,
		Maintainer: manager,
		Validator:  twilio.NewRequestValidator(cfg.TwilioAuthToken),
	})

	errCh := make(chan error, 1)
	go func() {
		if err := httpSrv.Start(); err != nil {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}

	return nil
}
