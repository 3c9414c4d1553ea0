// Package config provides application configuration loading and management.
package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds application configuration values loaded from file or environment variables.
type Config struct {
	JWTSecret      string `mapstructure:"JWT_SECRET"`
	JWTTTLHours    int    `mapstructure:"JWT_TTL_HOURS"`
	Port           string `mapstructure:"PORT"`
	Env            string `mapstructure:"APP_ENV"`
	AllowedOrigins string `mapstructure:"ALLOWED_ORIGINS"`
	FeatureFlags   string `mapstructure:"FEATURE_FLAGS"`
	SeedDemoData   bool   `mapstructure:"SEED_DEMO_DATA"`
	LogLevel       string `mapstructure:"LOG_LEVEL"`

	DBDriver                 string `mapstructure:"DB_DRIVER"`
	DBHost                   string `mapstructure:"DB_HOST"`
	DBPort                   string `mapstructure:"DB_PORT"`
	DBUser                   string `mapstructure:"DB_USER"`
	DBPassword               string `mapstructure:"DB_PASSWORD"`
	DBName                   string `mapstructure:"DB_NAME"`
	DBSSLMode                string `mapstructure:"DB_SSLMODE"`
	DBReadHosts              string `mapstructure:"DB_READ_HOSTS"`
	DBSQLitePath             string `mapstructure:"DB_SQLITE_PATH"`
	DBMaxOpenConns           int    `mapstructure:"DB_MAX_OPEN_CONNS"`
	DBMaxIdleConns           int    `mapstructure:"DB_MAX_IDLE_CONNS"`
	DBConnMaxLifetimeMinutes int    `mapstructure:"DB_CONN_MAX_LIFETIME_MINUTES"`

	RedisURL string `mapstructure:"REDIS_URL"`

	S3Bucket             string `mapstructure:"S3_BUCKET"`
	S3Region             string `mapstructure:"S3_REGION"`
	S3Endpoint           string `mapstructure:"S3_ENDPOINT"`
	S3AccessKeyID        string `mapstructure:"S3_ACCESS_KEY_ID"`
	S3SecretAccessKey    string `mapstructure:"S3_SECRET_ACCESS_KEY"`
	S3PathStyle          bool   `mapstructure:"S3_PATH_STYLE"`
	S3PresignTTLMinutes  int    `mapstructure:"S3_PRESIGN_TTL_MINUTES"`
	ImageMaxUploadSizeMB int    `mapstructure:"IMAGE_MAX_UPLOAD_SIZE_MB"`

	PlacesAPIKey          string `mapstructure:"PLACES_API_KEY"`
	PlacesBaseURL         string `mapstructure:"PLACES_BASE_URL"`
	PlacesTimeoutSeconds  int    `mapstructure:"PLACES_TIMEOUT_SECONDS"`
	PlacesCacheTTLMinutes int    `mapstructure:"PLACES_CACHE_TTL_MINUTES"`

	FeedRadiusKm          float64 `mapstructure:"FEED_RADIUS_KM"`
	FeedConcurrency       int     `mapstructure:"FEED_CONCURRENCY"`
	FeedMaxPosts          int     `mapstructure:"FEED_MAX_POSTS"`
	FeedCacheTTLSeconds   int     `mapstructure:"FEED_CACHE_TTL_SECONDS"`
	FeedInvalidateOnFocus bool    `mapstructure:"FEED_INVALIDATE_ON_FOCUS"`

	ReminderPollSeconds int    `mapstructure:"REMINDER_POLL_SECONDS"`
	ReminderMaxAttempts int    `mapstructure:"REMINDER_MAX_ATTEMPTS"`
	AMQPURL             string `mapstructure:"AMQP_URL"`
	AMQPExchange        string `mapstructure:"AMQP_EXCHANGE"`

	PasswordResetTTLMinutes int    `mapstructure:"PASSWORD_RESET_TTL_MINUTES"`
	PasswordResetURL        string `mapstructure:"PASSWORD_RESET_URL"`

	TracingEnabled     bool    `mapstructure:"TRACING_ENABLED"`
	TracingExporter    string  `mapstructure:"TRACING_EXPORTER"`
	OTLPEndpoint       string  `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	TracingSampleRatio float64 `mapstructure:"TRACING_SAMPLE_RATIO"`
}

// LoadConfig loads application configuration from file and environment variables.
func LoadConfig() (*Config, error) {
	// A local .env seeds the process environment; real env vars win.
	_ = godotenv.Load()

	viper.AddConfigPath(".")
	viper.AddConfigPath("..")
	viper.AddConfigPath("../..")
	viper.SetConfigName("config")
	viper.SetConfigType("yml")
	viper.AutomaticEnv()

	// The base file is optional; env vars and defaults are enough to boot.
	_ = viper.ReadInConfig()

	env := viper.GetString("APP_ENV")
	if env == "" {
		env = "development"
	}

	if env != "development" && env != "test" {
		viper.SetConfigName("config." + env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("required profile-specific config 'config.%s.yml' not found: %w", env, err)
		}
		log.Printf("Loaded profile-specific configuration: config.%s.yml", env)
	}

	SetDefaults(viper.GetViper())

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}
	config.normalize()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// SetDefaults registers development defaults on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("PORT", "8375")
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("JWT_SECRET", "your-secret-key-change-in-production")
	v.SetDefault("JWT_TTL_HOURS", 24*7)
	v.SetDefault("ALLOWED_ORIGINS", "http://localhost:8081,http://localhost:19006")
	v.SetDefault("FEATURE_FLAGS", "")
	v.SetDefault("SEED_DEMO_DATA", false)
	v.SetDefault("LOG_LEVEL", "info")

	v.SetDefault("DB_DRIVER", "postgres")
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_USER", "user")
	v.SetDefault("DB_PASSWORD", "password")
	v.SetDefault("DB_NAME", "cuisine")
	v.SetDefault("DB_SSLMODE", "disable")
	v.SetDefault("DB_READ_HOSTS", "")
	v.SetDefault("DB_SQLITE_PATH", "cuisine.db")
	v.SetDefault("DB_MAX_OPEN_CONNS", 25)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_CONN_MAX_LIFETIME_MINUTES", 5)

	v.SetDefault("REDIS_URL", "localhost:6379")

	v.SetDefault("S3_REGION", "us-east-1")
	v.SetDefault("S3_PATH_STYLE", false)
	v.SetDefault("S3_PRESIGN_TTL_MINUTES", 60)
	v.SetDefault("IMAGE_MAX_UPLOAD_SIZE_MB", 10)

	v.SetDefault("PLACES_BASE_URL", "https://maps.googleapis.com/maps/api/place")
	v.SetDefault("PLACES_TIMEOUT_SECONDS", 10)
	v.SetDefault("PLACES_CACHE_TTL_MINUTES", 60)

	v.SetDefault("FEED_RADIUS_KM", 40.0)
	v.SetDefault("FEED_CONCURRENCY", 8)
	v.SetDefault("FEED_MAX_POSTS", 200)
	v.SetDefault("FEED_CACHE_TTL_SECONDS", 60)
	v.SetDefault("FEED_INVALIDATE_ON_FOCUS", true)

	v.SetDefault("REMINDER_POLL_SECONDS", 15)
	v.SetDefault("REMINDER_MAX_ATTEMPTS", 5)
	v.SetDefault("AMQP_EXCHANGE", "reminders")

	v.SetDefault("PASSWORD_RESET_TTL_MINUTES", 30)
	v.SetDefault("PASSWORD_RESET_URL", "cuisine://reset-password")

	v.SetDefault("TRACING_ENABLED", false)
	v.SetDefault("TRACING_EXPORTER", "stdout")
	v.SetDefault("TRACING_SAMPLE_RATIO", 1.0)
}

func (c *Config) normalize() {
	c.Env = strings.ToLower(strings.TrimSpace(c.Env))
	c.DBDriver = strings.ToLower(strings.TrimSpace(c.DBDriver))
	c.DBSSLMode = strings.ToLower(strings.TrimSpace(c.DBSSLMode))
	c.TracingExporter = strings.ToLower(strings.TrimSpace(c.TracingExporter))
}

// IsProduction reports whether the config targets a production deployment.
func (c *Config) IsProduction() bool {
	return c.Env == "production" || c.Env == "prod"
}

// StorageEnabled reports whether an object store is configured.
func (c *Config) StorageEnabled() bool {
	return c.S3Bucket != ""
}

// PresignTTL returns the lifetime of presigned image URLs.
func (c *Config) PresignTTL() time.Duration {
	if c.S3PresignTTLMinutes <= 0 {
		return time.Hour
	}
	return time.Duration(c.S3PresignTTLMinutes) * time.Minute
}

// FeedCacheTTL returns how long an assembled feed snapshot stays fresh.
func (c *Config) FeedCacheTTL() time.Duration {
	return time.Duration(c.FeedCacheTTLSeconds) * time.Second
}

// JWTTTL returns the lifetime of issued access tokens.
func (c *Config) JWTTTL() time.Duration {
	if c.JWTTTLHours <= 0 {
		return 7 * 24 * time.Hour
	}
	return time.Duration(c.JWTTTLHours) * time.Hour
}

// Validate ensures that required configuration values are present and meet security standards.
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("PORT is required")
	}
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	switch c.DBDriver {
	case "", "postgres", "mysql", "sqlite":
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.DBDriver)
	}
	if c.FeedRadiusKm < 0 {
		return errors.New("FEED_RADIUS_KM must not be negative")
	}
	if c.ImageMaxUploadSizeMB < 0 {
		return errors.New("IMAGE_MAX_UPLOAD_SIZE_MB must not be negative")
	}
	if c.DBConnMaxLifetimeMinutes < 0 {
		return errors.New("DB_CONN_MAX_LIFETIME_MINUTES must not be negative")
	}
	if c.StorageEnabled() && (c.S3AccessKeyID == "") != (c.S3SecretAccessKey == "") {
		return errors.New("S3_ACCESS_KEY_ID and S3_SECRET_ACCESS_KEY must be set together")
	}

	// Strict checks for production
	if c.IsProduction() {
		if c.JWTSecret == "your-secret-key-change-in-production" {
			return errors.New("JWT_SECRET must be changed from the default value in production")
		}
		if len(c.JWTSecret) < 32 {
			return errors.New("JWT_SECRET must be at least 32 characters in production")
		}
		if c.DBDriver != "sqlite" && (c.DBPassword == "password" || c.DBPassword == "") {
			return errors.New("a strong DB_PASSWORD is required in production")
		}
		if c.DBDriver == "postgres" && (c.DBSSLMode == "disable" || c.DBSSLMode == "") {
			return errors.New("DB_SSLMODE must enable TLS in production")
		}
		if c.PlacesAPIKey == "" {
			return errors.New("PLACES_API_KEY is required in production")
		}
		if !c.StorageEnabled() {
			return errors.New("S3_BUCKET is required in production")
		}
		if c.AllowedOrigins == "*" {
			log.Println("WARNING: ALLOWED_ORIGINS is set to '*' in production. This is insecure.")
		}
	} else if len(c.JWTSecret) < 32 {
		log.Println("WARNING: JWT_SECRET is shorter than 32 characters. Consider using a stronger secret for production.")
	}

	return nil
}
