// internal/infrastructure/config/config.go
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	// App
	AppVersion string
	AppBaseURL string
	LogLevel   string

	// Server
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Job triggers
	JobTriggerToken string

	// MongoDB
	MongoURI      string
	MongoDB       string
	MongoUser     string
	MongoPassword string

	// PostgreSQL
	PostgresURI string

	// Gmail OAuth
	GmailClientID     string
	GmailClientSecret string

	// Sync engine
	SyncInterval      time.Duration
	SyncMaxAccounts   int
	BackfillDays      int
	BackfillPageSize  int64
	BackfillMaxPages  int
	IncrementalWindow int64

	// Dispatch engine
	DispatchInterval   time.Duration
	CampaignThrottle   time.Duration
	CampaignMaxPerRun  int
	MaxSendRetries     int
	DailySendQuota     int
	FollowUpInterval   time.Duration
	FollowUpBatchSize  int
	ScheduledBatchSize int
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	// Load .env file if it exists
	godotenv.Load()

	// Set defaults and override with env vars
	config := &Config{
		AppVersion: getEnv("APP_VERSION", "1.0.0"),
		AppBaseURL: getEnv("APP_BASE_URL", "http://localhost:8080"),
		LogLevel:   getEnv("LOG_LEVEL", "info"),

		Port:         getEnv("PORT", "8080"),
		ReadTimeout:  time.Duration(getEnvAsInt("READ_TIMEOUT", 30)) * time.Second,
		WriteTimeout: time.Duration(getEnvAsInt("WRITE_TIMEOUT", 300)) * time.Second,

		JobTriggerToken: getEnv("JOB_TRIGGER_TOKEN", ""),

		MongoURI:      getEnv("MONGODB_DSN", "mongodb://localhost:27017"),
		MongoDB:       getEnv("MONGO_DB", "mailpilot"),
		MongoUser:     getEnv("MONGO_USER", ""),
		MongoPassword: getEnv("MONGO_PASSWORD", ""),

		PostgresURI: getEnv("POSTGRES_DSN", "postgres://localhost:5432/mailpilot"),

		GmailClientID:     getEnv("GMAIL_CLIENT_ID", ""),
		GmailClientSecret: getEnv("GMAIL_CLIENT_SECRET", ""),

		SyncInterval:      time.Duration(getEnvAsInt("SYNC_INTERVAL", 300)) * time.Second,
		SyncMaxAccounts:   getEnvAsInt("SYNC_MAX_ACCOUNTS", 10),
		BackfillDays:      getEnvAsInt("BACKFILL_DAYS", 20),
		BackfillPageSize:  int64(getEnvAsInt("BACKFILL_PAGE_SIZE", 500)),
		BackfillMaxPages:  getEnvAsInt("BACKFILL_MAX_PAGES", 2),
		IncrementalWindow: int64(getEnvAsInt("INCREMENTAL_WINDOW", 50)),

		DispatchInterval:   time.Duration(getEnvAsInt("DISPATCH_INTERVAL", 60)) * time.Second,
		CampaignThrottle:   time.Duration(getEnvAsInt("CAMPAIGN_THROTTLE_SECONDS", 25)) * time.Second,
		CampaignMaxPerRun:  getEnvAsInt("CAMPAIGN_MAX_PER_RUN", 2),
		MaxSendRetries:     getEnvAsInt("MAX_SEND_RETRIES", 3),
		DailySendQuota:     getEnvAsInt("DAILY_SEND_QUOTA", 500),
		FollowUpInterval:   time.Duration(getEnvAsInt("FOLLOWUP_INTERVAL", 3600)) * time.Second,
		FollowUpBatchSize:  getEnvAsInt("FOLLOWUP_BATCH_SIZE", 20),
		ScheduledBatchSize: getEnvAsInt("SCHEDULED_BATCH_SIZE", 10),
	}

	return config, nil
}

// Helper functions to get environment variables
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}
