package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
)

// Config holds all configuration for the application.
type Config struct {
	// Environment
	RunMode      string // Set via flag, not env
	MockServices bool
	LogEmailsTo  string

	// MongoDB
	MongoURI    string
	MongoDbName string

	// Redis
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// JWT
	JwtSecret string
	JwtTTL    time.Duration

	// Server
	ApiPort        string
	ServiceApiPort string

	// Outbound email
	SmtpHost        string
	SmtpPort        int
	SmtpUsername    string
	SmtpPassword    string
	SmtpFromAddress string
	SmtpFromName    string
	MessageIDDomain string

	// Inbound mailbox
	ImapHost              string
	ImapPort              int
	ImapUsername          string
	ImapPassword          string
	ImapTLS               bool
	ImapMailbox           string
	ImapAuthTimeout       time.Duration
	ImapReconnectDelay    time.Duration
	ImapMaxReconnectDelay time.Duration
	ImapFetchLimit        int

	// Object storage (S3 or MinIO)
	S3Endpoint        string
	S3PublicURL       string
	S3Region          string
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3Bucket          string

	// Offers
	OfferCron              string
	OfferCronTimezone      *time.Location
	OfferTemplateMaxSizeMB int

	// Worker
	WorkerConcurrency     int
	WorkerShutdownTimeout time.Duration

	// Rate Limiting
	RateLimitBucketSize int
	RateLimitRefillRate int // tokens per second
}

// Load configuration from environment variables.
// RunMode needs to be passed in as it comes from command-line flags.
func Load(runMode string) (*Config, error) {
	// Load .env file, ignoring errors if it doesn't exist
	godotenv.Load()

	cfg := &Config{
		RunMode: runMode,
	}

	var err error

	getEnv := func(key, defaultValue string) string {
		if value, exists := os.LookupEnv(key); exists {
			return value
		}
		return defaultValue
	}

	getRequiredEnv := func(key string) (string, error) {
		value, exists := os.LookupEnv(key)
		if !exists || value == "" {
			return "", fmt.Errorf("missing required environment variable: %s", key)
		}
		return value, nil
	}

	getSeconds := func(key, defaultValue string) (time.Duration, error) {
		n, err := strconv.ParseInt(getEnv(key, defaultValue), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", key, err)
		}
		return time.Duration(n) * time.Second, nil
	}

	cfg.MongoURI, err = getRequiredEnv("MONGO_URI")
	if err != nil {
		return nil, err
	}
	cfg.MongoDbName = getEnv("MONGO_DB_NAME", "offerdesk")
	cfg.RedisAddr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.RedisPassword = getEnv("REDIS_PASSWORD", "")
	cfg.JwtSecret, err = getRequiredEnv("JWT_SECRET")
	if err != nil {
		return nil, err
	}
	cfg.ApiPort = getEnv("API_PORT", "8080")
	cfg.ServiceApiPort = getEnv("SERVICE_API_PORT", "12345")
	cfg.MockServices = getEnv("MOCK_SERVICES", "") == "true"
	cfg.LogEmailsTo = getEnv("LOG_EMAILS", "")

	cfg.SmtpHost = getEnv("SMTP_HOST", "")
	cfg.SmtpUsername = getEnv("SMTP_USERNAME", "")
	cfg.SmtpPassword = getEnv("SMTP_PASSWORD", "")
	cfg.SmtpFromAddress = getEnv("SMTP_FROM_ADDRESS", "offers@offerdesk.example.com")
	cfg.SmtpFromName = getEnv("SMTP_FROM_NAME", "Offer Desk")
	cfg.MessageIDDomain = getEnv("MAIL_MESSAGE_ID_DOMAIN", "offerdesk.example.com")

	cfg.ImapHost = getEnv("IMAP_HOST", "")
	cfg.ImapUsername = getEnv("IMAP_USERNAME", "")
	cfg.ImapPassword = getEnv("IMAP_PASSWORD", "")
	cfg.ImapMailbox = getEnv("IMAP_MAILBOX", "INBOX")

	cfg.S3Endpoint = getEnv("S3_ENDPOINT", "http://localhost:9000")
	cfg.S3PublicURL = getEnv("S3_PUBLIC_URL", cfg.S3Endpoint)
	cfg.S3Region = getEnv("S3_REGION", "us-east-1")
	cfg.S3AccessKeyID = getEnv("S3_ACCESS_KEY_ID", "")
	cfg.S3SecretAccessKey = getEnv("S3_SECRET_ACCESS_KEY", "")
	cfg.S3Bucket = getEnv("S3_BUCKET", "offers")

	cfg.RedisDB, err = strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	cfg.JwtTTL, err = getSeconds("JWT_TTL_SECONDS", "3600")
	if err != nil {
		return nil, err
	}

	cfg.SmtpPort, err = strconv.Atoi(getEnv("SMTP_PORT", "587"))
	if err != nil {
		return nil, fmt.Errorf("invalid SMTP_PORT: %w", err)
	}

	cfg.ImapPort, err = strconv.Atoi(getEnv("IMAP_PORT", "993"))
	if err != nil {
		return nil, fmt.Errorf("invalid IMAP_PORT: %w", err)
	}
	cfg.ImapTLS, err = strconv.ParseBool(getEnv("IMAP_TLS", "true"))
	if err != nil {
		return nil, fmt.Errorf("invalid IMAP_TLS: %w", err)
	}
	cfg.ImapAuthTimeout, err = getSeconds("IMAP_AUTH_TIMEOUT_SECONDS", "3")
	if err != nil {
		return nil, err
	}
	cfg.ImapReconnectDelay, err = getSeconds("IMAP_RECONNECT_DELAY_SECONDS", "5")
	if err != nil {
		return nil, err
	}
	cfg.ImapMaxReconnectDelay, err = getSeconds("IMAP_MAX_RECONNECT_DELAY_SECONDS", "300")
	if err != nil {
		return nil, err
	}
	cfg.ImapFetchLimit, err = strconv.Atoi(getEnv("IMAP_FETCH_LIMIT", "10"))
	if err != nil {
		return nil, fmt.Errorf("invalid IMAP_FETCH_LIMIT: %w", err)
	}

	cfg.OfferCron = getEnv("OFFER_CRON", "0 0 * * *")
	if _, err := cron.ParseStandard(cfg.OfferCron); err != nil {
		return nil, fmt.Errorf("invalid OFFER_CRON: %w", err)
	}
	cfg.OfferCronTimezone, err = time.LoadLocation(getEnv("OFFER_CRON_TIMEZONE", "UTC"))
	if err != nil {
		return nil, fmt.Errorf("invalid OFFER_CRON_TIMEZONE: %w", err)
	}
	cfg.OfferTemplateMaxSizeMB, err = strconv.Atoi(getEnv("OFFER_TEMPLATE_MAX_SIZE_MB", "15"))
	if err != nil {
		return nil, fmt.Errorf("invalid OFFER_TEMPLATE_MAX_SIZE_MB: %w", err)
	}

	cfg.WorkerConcurrency, err = strconv.Atoi(getEnv("WORKER_CONCURRENCY", "4"))
	if err != nil {
		return nil, fmt.Errorf("invalid WORKER_CONCURRENCY: %w", err)
	}
	cfg.WorkerShutdownTimeout, err = getSeconds("WORKER_SHUTDOWN_TIMEOUT_SECONDS", "60")
	if err != nil {
		return nil, err
	}

	cfg.RateLimitBucketSize, err = strconv.Atoi(getEnv("RATE_LIMIT_BUCKET_SIZE", "8"))
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_BUCKET_SIZE: %w", err)
	}
	cfg.RateLimitRefillRate, err = strconv.Atoi(getEnv("RATE_LIMIT_REFILL_RATE", "4"))
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_REFILL_RATE: %w", err)
	}

	return cfg, nil
}

// TemplateMaxBytes is the upload cap for template PDFs.
func (c *Config) TemplateMaxBytes() int64 {
	return int64(c.OfferTemplateMaxSizeMB) << 20
}

// ImapAddr returns host:port for the inbound mailbox.
func (c *Config) ImapAddr() string {
	return fmt.Sprintf("%s:%d", c.ImapHost, c.ImapPort)
}

// SmtpAddr returns host:port for outbound mail.
func (c *Config) SmtpAddr() string {
	return fmt.Sprintf("%s:%d", c.SmtpHost, c.SmtpPort)
}
