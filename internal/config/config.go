package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds process configuration loaded from the environment
type Config struct {
	Port        string
	Environment string
	LogLevel    string

	DatabaseURL    string
	DBUser         string
	DBPass         string
	DBName         string
	DBHost         string
	DBPort         string
	UseMemoryStore bool

	RedisURL       string
	RabbitMQURL    string
	EventsExchange string

	TwilioAccountSID         string
	TwilioAuthToken          string
	TwilioPhoneNumber        string
	TwilioStatusCallbackURL  string
	TwilioMaxRetries         int
	TwilioMaxSendsPerSecond  float64
	DisableWebhookValidation bool

	BusinessName       string
	SupportPhoneNumber string

	AIBaseURL string
	AIAPIKey  string
	AIModel   string
	AITimeout time.Duration

	DefaultQuietHoursStart string
	DefaultQuietHoursEnd   string

	AdminAPIKey string
	SeedSlots   bool
}

// Load reads .env (if present) and the process environment
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file found, using environment")
	}

	return &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENVIRONMENT", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "INFO"),

		DatabaseURL:    os.Getenv("DATABASE_URL"),
		DBUser:         getEnv("DB_USER", "postgres"),
		DBPass:         os.Getenv("DB_PASS"),
		DBName:         getEnv("DB_NAME", "smsbook"),
		DBHost:         getEnv("DB_HOST", "localhost"),
		DBPort:         getEnv("DB_PORT", "5432"),
		UseMemoryStore: getBool("USE_MEMORY_STORE", false),

		RedisURL:       os.Getenv("REDIS_URL"),
		RabbitMQURL:    os.Getenv("RABBITMQ_URL"),
		EventsExchange: getEnv("EVENTS_EXCHANGE", "scheduling.events"),

		TwilioAccountSID:         os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:          os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioPhoneNumber:        os.Getenv("TWILIO_PHONE_NUMBER"),
		TwilioStatusCallbackURL:  os.Getenv("TWILIO_STATUS_CALLBACK_URL"),
		TwilioMaxRetries:         getInt("TWILIO_MAX_RETRIES", 3),
		TwilioMaxSendsPerSecond:  getFloat("TWILIO_MAX_SENDS_PER_SECOND", 1),
		DisableWebhookValidation: getBool("DISABLE_WEBHOOK_VALIDATION", false),

		BusinessName:       getEnv("BUSINESS_NAME", "Our Office"),
		SupportPhoneNumber: getEnv("SUPPORT_PHONE_NUMBER", ""),

		AIBaseURL: getEnv("AI_BASE_URL", "https://openrouter.ai/api/v1"),
		AIAPIKey:  os.Getenv("AI_API_KEY"),
		AIModel:   getEnv("AI_MODEL", "anthropic/claude-3.5-haiku"),
		AITimeout: getDuration("AI_TIMEOUT", 10*time.Second),

		DefaultQuietHoursStart: getEnv("DEFAULT_QUIET_HOURS_START", "21:00"),
		DefaultQuietHoursEnd:   getEnv("DEFAULT_QUIET_HOURS_END", "09:00"),

		AdminAPIKey: os.Getenv("ADMIN_API_KEY"),
		SeedSlots:   getBool("SEED_SLOTS", false),
	}
}

// IsProduction reports whether the service runs in production
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

// DSN returns the postgres connection string
func (c *Config) DSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable",
		c.DBHost, c.DBUser, c.DBPass, c.DBName, c.DBPort)
}

// Validate rejects configurations that cannot run in production
func (c *Config) Validate() error {
	var errs []error
	if c.TwilioMaxRetries < 1 {
		errs = append(errs, errors.New("TWILIO_MAX_RETRIES must be at least 1"))
	}
	if c.TwilioMaxSendsPerSecond <= 0 {
		errs = append(errs, errors.New("TWILIO_MAX_SENDS_PER_SECOND must be positive"))
	}
	if c.IsProduction() {
		if c.TwilioAccountSID == "" || c.TwilioAuthToken == "" || c.TwilioPhoneNumber == "" {
			errs = append(errs, errors.New("twilio credentials are required in production"))
		}
		if c.AdminAPIKey == "" {
			errs = append(errs, errors.New("ADMIN_API_KEY is required in production"))
		}
		if c.DisableWebhookValidation {
			errs = append(errs, errors.New("webhook validation cannot be disabled in production"))
		}
	}
	return errors.Join(errs...)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		slog.Warn("invalid boolean in environment, using default", "key", key, "value", v)
		return fallback
	}
	return b
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("invalid integer in environment, using default", "key", key, "value", v)
		return fallback
	}
	return n
}

func getFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		slog.Warn("invalid number in environment, using default", "key", key, "value", v)
		return fallback
	}
	return f
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		slog.Warn("invalid duration in environment, using default", "key", key, "value", v)
		return fallback
	}
	return d
}
