package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gorm.io/gorm/logger"
)

// DBConfig holds database configuration
type DBConfig struct {
	Host            string
	Port            string
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	LogLevel        logger.LogLevel
}

// GetDSN returns the PostgreSQL connection string
func (c *DBConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port string
	Env  string
}

// JWTConfig holds the signing keys and lifetimes for the token pair. Access
// and refresh tokens are signed with separate keys so a leaked refresh key
// cannot mint access tokens and vice versa.
type JWTConfig struct {
	AccessKey  string
	RefreshKey string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// StripeConfig holds billing provider configuration
type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	PriceID       string
	SuccessURL    string
	CancelURL     string
}

// StorageConfig holds blob bucket configuration
type StorageConfig struct {
	Bucket        string
	PublicBaseURL string
}

// AnalyzerConfig holds vision model configuration
type AnalyzerConfig struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
}

// QuotaConfig holds per-tier submission quotas over a rolling hour, plus
// upload bounds enforced before any external call is made.
type QuotaConfig struct {
	FreePerHour    int
	PremiumPerHour int
	MaxUploadBytes int64
	MaxImageDim    int
}

// RetentionConfig holds GDPR retention parameters
type RetentionConfig struct {
	SubmissionTTL      time.Duration
	DeletionGrace      time.Duration
	ConfirmationPhrase string
	PolicyVersion      string
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level string
}

// MetricsConfig holds metrics configuration
type MetricsConfig struct {
	Prefix string
}

// Config holds all configuration. It is built once in main and passed by
// reference; nothing reads the environment after Load returns.
type Config struct {
	DB        DBConfig
	Server    ServerConfig
	JWT       JWTConfig
	Stripe    StripeConfig
	Storage   StorageConfig
	Analyzer  AnalyzerConfig
	Quota     QuotaConfig
	Retention RetentionConfig
	Log       LogConfig
	Metrics   MetricsConfig
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		// Not returning error as .env file is optional
		fmt.Printf("Warning: .env file not found, using environment variables\n")
	}

	config := &Config{
		DB: DBConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnv("DB_PORT", "5432"),
			User:            getEnv("DB_USER", "postgres"),
			Password:        getEnv("DB_PASSWORD", "password"),
			DBName:          getEnv("DB_NAME", "rederma"),
			SSLMode:         getEnv("DB_SSL_MODE", "disable"),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 10),
			MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 100),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 1*time.Hour),
			LogLevel:        getEnvAsLogLevel("DB_LOG_LEVEL", logger.Warn),
		},
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8080"),
			Env:  getEnv("APP_ENV", "development"),
		},
		JWT: JWTConfig{
			AccessKey:  getEnv("JWT_ACCESS_KEY", "redermaaccesskey"),
			RefreshKey: getEnv("JWT_REFRESH_KEY", "redermarefreshkey"),
			AccessTTL:  time.Duration(getEnvAsInt("JWT_ACCESS_TTL_MINUTES", 15)) * time.Minute,
			RefreshTTL: time.Duration(getEnvAsInt("JWT_REFRESH_TTL_DAYS", 7)) * 24 * time.Hour,
		},
		Stripe: StripeConfig{
			SecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
			WebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
			PriceID:       getEnv("STRIPE_PRICE_ID", ""),
			SuccessURL:    getEnv("CHECKOUT_SUCCESS_URL", "http://localhost:3000/subscription/success?session_id={CHECKOUT_SESSION_ID}"),
			CancelURL:     getEnv("CHECKOUT_CANCEL_URL", "http://localhost:3000/subscription/canceled"),
		},
		Storage: StorageConfig{
			Bucket:        getEnv("STORAGE_BUCKET", "rederma-uploads"),
			PublicBaseURL: getEnv("STORAGE_PUBLIC_BASE_URL", "https://storage.googleapis.com/rederma-uploads"),
		},
		Analyzer: AnalyzerConfig{
			APIKey:  getEnv("ANALYZER_API_KEY", ""),
			Model:   getEnv("ANALYZER_MODEL", "gpt-4o-mini"),
			BaseURL: getEnv("ANALYZER_BASE_URL", "https://api.openai.com/v1/chat/completions"),
			Timeout: getEnvAsDuration("ANALYZER_TIMEOUT", 60*time.Second),
		},
		Quota: QuotaConfig{
			FreePerHour:    getEnvAsInt("FREE_QUOTA_PER_HOUR", 5),
			PremiumPerHour: getEnvAsInt("PREMIUM_QUOTA_PER_HOUR", 50),
			MaxUploadBytes: int64(getEnvAsInt("MAX_UPLOAD_BYTES", 10<<20)),
			MaxImageDim:    getEnvAsInt("MAX_IMAGE_DIMENSION", 1024),
		},
		Retention: RetentionConfig{
			SubmissionTTL:      time.Duration(getEnvAsInt("SUBMISSION_RETENTION_DAYS", 365)) * 24 * time.Hour,
			DeletionGrace:      time.Duration(getEnvAsInt("DELETION_GRACE_DAYS", 30)) * 24 * time.Hour,
			ConfirmationPhrase: getEnv("DELETE_CONFIRMATION_PHRASE", "DELETE MY ACCOUNT"),
			PolicyVersion:      getEnv("PRIVACY_POLICY_VERSION", "2025-06"),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Metrics: MetricsConfig{
			Prefix: getEnv("METRICS_PREFIX", "rederma"),
		},
	}

	return config, nil
}

// IsProduction reports whether the server runs in production mode. Upstream
// error detail is only returned to clients outside of production.
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

// LogConfig returns the configuration as a zap logger-friendly format
func (c *Config) LogConfig() []zap.Field {
	return []zap.Field{
		zap.String("environment", c.Server.Env),
		zap.String("db_host", c.DB.Host),
		zap.String("db_port", c.DB.Port),
		zap.String("db_name", c.DB.DBName),
		zap.String("server_port", c.Server.Port),
		zap.String("storage_bucket", c.Storage.Bucket),
		zap.String("analyzer_model", c.Analyzer.Model),
	}
}

// Helper function to get environment variables with defaults
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// Helper function to get environment variables as integers
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// Helper function to get environment variables as durations
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// Helper function to get environment variables as log levels
func getEnvAsLogLevel(key string, defaultValue logger.LogLevel) logger.LogLevel {
	valueStr := getEnv(key, "")
	switch valueStr {
	case "silent":
		return logger.Silent
	case "error":
		return logger.Error
	case "warn":
		return logger.Warn
	case "info":
		return logger.Info
	default:
		return defaultValue
	}
}
