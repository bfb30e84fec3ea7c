package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database     DatabaseConfig
	Redis        RedisConfig
	JWT          JWTConfig
	CORS         CORSConfig
	Log          LogConfig
	Verification VerificationConfig
	Fees         FeesConfig
	Rules        RulesConfig
	Dispatch     DispatchConfig
	Storage      StorageConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// VerificationConfig tunes attendance submission checks.
type VerificationConfig struct {
	// GeoAccuracyToleranceM rejects geolocation check-ins whose reported
	// GPS accuracy is worse than this many meters.
	GeoAccuracyToleranceM float64
	// BiometricMinConfidence is the minimum match score accepted from the
	// external biometric verifier.
	BiometricMinConfidence float64
	// LateGraceWindow is how long after session start a check-in still
	// counts as present rather than late.
	LateGraceWindow time.Duration
	// SessionStart is the default session start time (HH:MM) used when a
	// tenant has no attendance schedule configured.
	SessionStart string
}

// FeesConfig governs ledger recomputation and late-fee accrual.
type FeesConfig struct {
	// LateFeeDailyRate is the fraction of the outstanding balance accrued
	// per grace-exceeded day.
	LateFeeDailyRate float64
	SweepInterval    time.Duration
}

// RulesConfig governs alert rule evaluation.
type RulesConfig struct {
	SweepInterval   time.Duration
	DefaultCooldown time.Duration
	// SweepLockTTL bounds how long a per-tenant sweep lock may be held.
	SweepLockTTL time.Duration
	// SweepWorkers bounds how many tenants the sweep loops process in
	// parallel.
	SweepWorkers int
}

// DispatchConfig controls notification delivery behaviour.
type DispatchConfig struct {
	MaxAttempts int
	BaseBackoff time.Duration
	SendTimeout time.Duration
	Workers     int
	DedupTTL    time.Duration
	SendgridKey string
	SenderName  string
	SenderEmail string
}

// StorageConfig locates the receipt archive and tunes its signed
// download links.
type StorageConfig struct {
	ReceiptDir string
	// ReceiptURLSecret signs download tokens; when empty the JWT secret
	// is used.
	ReceiptURLSecret string
	ReceiptURLTTL    time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{Secret: v.GetString("JWT_SECRET")}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Verification = VerificationConfig{
		GeoAccuracyToleranceM:  v.GetFloat64("GEO_ACCURACY_TOLERANCE_M"),
		BiometricMinConfidence: v.GetFloat64("BIOMETRIC_MIN_CONFIDENCE"),
		LateGraceWindow:        parseDuration(v.GetString("LATE_GRACE_WINDOW"), 15*time.Minute),
		SessionStart:           v.GetString("SESSION_START"),
	}

	cfg.Fees = FeesConfig{
		LateFeeDailyRate: v.GetFloat64("LATE_FEE_DAILY_RATE"),
		SweepInterval:    parseDuration(v.GetString("FEE_SWEEP_INTERVAL"), time.Hour),
	}

	cfg.Rules = RulesConfig{
		SweepInterval:   parseDuration(v.GetString("RULE_SWEEP_INTERVAL"), 15*time.Minute),
		DefaultCooldown: parseDuration(v.GetString("RULE_DEFAULT_COOLDOWN"), 24*time.Hour),
		SweepLockTTL:    parseDuration(v.GetString("RULE_SWEEP_LOCK_TTL"), 5*time.Minute),
		SweepWorkers:    v.GetInt("SWEEP_WORKERS"),
	}

	cfg.Dispatch = DispatchConfig{
		MaxAttempts: v.GetInt("DISPATCH_MAX_ATTEMPTS"),
		BaseBackoff: parseDuration(v.GetString("DISPATCH_BASE_BACKOFF"), 2*time.Second),
		SendTimeout: parseDuration(v.GetString("DISPATCH_SEND_TIMEOUT"), 10*time.Second),
		Workers:     v.GetInt("DISPATCH_WORKERS"),
		DedupTTL:    parseDuration(v.GetString("DISPATCH_DEDUP_TTL"), 7*24*time.Hour),
		SendgridKey: v.GetString("SENDGRID_API_KEY"),
		SenderName:  v.GetString("DISPATCH_SENDER_NAME"),
		SenderEmail: v.GetString("DISPATCH_SENDER_EMAIL"),
	}

	cfg.Storage = StorageConfig{
		ReceiptDir:       v.GetString("RECEIPT_DIR"),
		ReceiptURLSecret: v.GetString("RECEIPT_URL_SECRET"),
		ReceiptURLTTL:    parseDuration(v.GetString("RECEIPT_URL_TTL"), 24*time.Hour),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "campus_ops")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("GEO_ACCURACY_TOLERANCE_M", 50.0)
	v.SetDefault("BIOMETRIC_MIN_CONFIDENCE", 0.85)
	v.SetDefault("LATE_GRACE_WINDOW", "15m")
	v.SetDefault("SESSION_START", "08:00")

	v.SetDefault("LATE_FEE_DAILY_RATE", 0.0017)
	v.SetDefault("FEE_SWEEP_INTERVAL", "1h")

	v.SetDefault("RULE_SWEEP_INTERVAL", "15m")
	v.SetDefault("RULE_DEFAULT_COOLDOWN", "24h")
	v.SetDefault("RULE_SWEEP_LOCK_TTL", "5m")
	v.SetDefault("SWEEP_WORKERS", 4)

	v.SetDefault("DISPATCH_MAX_ATTEMPTS", 4)
	v.SetDefault("DISPATCH_BASE_BACKOFF", "2s")
	v.SetDefault("DISPATCH_SEND_TIMEOUT", "10s")
	v.SetDefault("DISPATCH_WORKERS", 4)
	v.SetDefault("DISPATCH_DEDUP_TTL", "168h")
	v.SetDefault("SENDGRID_API_KEY", "")
	v.SetDefault("DISPATCH_SENDER_NAME", "Campus Ops")
	v.SetDefault("DISPATCH_SENDER_EMAIL", "noreply@campus-ops.local")

	v.SetDefault("RECEIPT_DIR", "./receipts")
	v.SetDefault("RECEIPT_URL_SECRET", "")
	v.SetDefault("RECEIPT_URL_TTL", "24h")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
