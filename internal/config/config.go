package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all runtime configuration loaded from environment variables.
type Config struct {
	AppEnv           string
	LogLevel         string
	HTTPListenAddr   string
	PublicBaseURL    string
	PublicBasePath   string
	AdminToken       string
	MetricsNamespace string

	DatabaseURL string
	SQLitePath  string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisTLS      bool

	BitnobBaseURL       string
	BitnobAPIKey        string
	BitnobSecretKey     string
	BitnobWebhookSecret string
	BitnobTimeout       time.Duration

	TwilioAccountSID     string
	TwilioAuthToken      string
	TwilioWhatsAppNumber string
	TwilioSMSNumber      string
	TwilioTimeout        time.Duration

	OTPLength     int
	OTPTTL        time.Duration
	OTPMaxAttempt int

	LockThreshold int
	LockDuration  time.Duration

	MinSendAmount int64
	MaxSendAmount int64

	RateLimitPerMinute int
}

// Load builds the configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{
		AppEnv:           getEnv("APP_ENV", "development"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		HTTPListenAddr:   getEnv("HTTP_LISTEN_ADDR", ":8080"),
		PublicBaseURL:    os.Getenv("PUBLIC_BASE_URL"),
		PublicBasePath:   os.Getenv("PUBLIC_BASE_PATH"),
		AdminToken:       os.Getenv("ADMIN_TOKEN"),
		MetricsNamespace: getEnv("METRICS_NAMESPACE", "satchat"),

		DatabaseURL: os.Getenv("DATABASE_URL"),
		SQLitePath:  os.Getenv("SQLITE_PATH"),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),

		BitnobBaseURL:       getEnv("BITNOB_BASE_URL", "https://api.bitnob.co"),
		BitnobAPIKey:        os.Getenv("BITNOB_API_KEY"),
		BitnobSecretKey:     os.Getenv("BITNOB_SECRET_KEY"),
		BitnobWebhookSecret: os.Getenv("BITNOB_WEBHOOK_SECRET"),

		TwilioAccountSID:     os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:      os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioWhatsAppNumber: getEnv("TWILIO_WHATSAPP_NUMBER", "+14155238886"),
		TwilioSMSNumber:      os.Getenv("TWILIO_SMS_NUMBER"),
	}

	var err error
	if cfg.RedisDB, err = getEnvInt("REDIS_DB", 0); err != nil {
		return nil, err
	}
	if cfg.RedisTLS, err = getEnvBool("REDIS_TLS", false); err != nil {
		return nil, err
	}
	if cfg.BitnobTimeout, err = getEnvDuration("BITNOB_TIMEOUT", 15*time.Second); err != nil {
		return nil, err
	}
	if cfg.TwilioTimeout, err = getEnvDuration("TWILIO_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.OTPLength, err = getEnvInt("OTP_LENGTH", 6); err != nil {
		return nil, err
	}
	if cfg.OTPTTL, err = getEnvDuration("OTP_TTL", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.OTPMaxAttempt, err = getEnvInt("OTP_MAX_ATTEMPTS", 3); err != nil {
		return nil, err
	}
	if cfg.LockThreshold, err = getEnvInt("ACCOUNT_LOCK_THRESHOLD", 3); err != nil {
		return nil, err
	}
	if cfg.LockDuration, err = getEnvDuration("ACCOUNT_LOCK_DURATION", 30*time.Minute); err != nil {
		return nil, err
	}
	if cfg.MinSendAmount, err = getEnvInt64("MIN_SEND_SATS", 10_000); err != nil {
		return nil, err
	}
	if cfg.MaxSendAmount, err = getEnvInt64("MAX_SEND_SATS", 100_000_000); err != nil {
		return nil, err
	}
	if cfg.RateLimitPerMinute, err = getEnvInt("RATE_LIMIT_PER_MINUTE", 20); err != nil {
		return nil, err
	}

	if cfg.DatabaseURL == "" && cfg.SQLitePath == "" {
		return nil, fmt.Errorf("either DATABASE_URL or SQLITE_PATH must be set")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return parsed, nil
}

func getEnvInt64(key string, fallback int64) (int64, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return parsed, nil
}

func getEnvBool(key string, fallback bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return parsed, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return parsed, nil
}
