package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Queue backends.
const (
	QueueBackendPostgres = "postgres"
	QueueBackendMemory   = "memory"
)

// Email transports.
const (
	EmailTransportLog     = "log"
	EmailTransportSMTP    = "smtp"
	EmailTransportWebhook = "webhook"
)

// Config holds all runtime configuration loaded from environment variables.
// Every field has a sensible default; only DATABASE_URL is required.
type Config struct {
	// Server
	HTTPPort               string
	ReadTimeout            time.Duration
	WriteTimeout           time.Duration
	ShutdownTimeout        time.Duration
	AdminRequestsPerMinute int

	// Database
	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32

	// Queue
	QueueBackend      string
	QueuePollInterval time.Duration
	QueueLease        time.Duration
	JanitorInterval   time.Duration

	// Recommendation scheduling
	RecommendationCron        string
	BatchSize                 int
	BatchDelay                time.Duration
	RecommendationConcurrency int
	RecommendationLimit       int
	UserDelay                 time.Duration

	// Email delivery
	EmailConcurrency   int
	EmailRateLimit     int
	EmailRateWindow    time.Duration
	EmailTransport     string
	AppName            string
	SMTPHost           string
	SMTPPort           int
	SMTPUser           string
	SMTPPassword       string
	EmailFrom          string
	EmailFromName      string
	EmailTimeout       time.Duration
	EmailWebhookURL    string
	EmailWebhookAPIKey string

	// Ranking
	GroqAPIKey     string
	GroqBaseURL    string
	GroqModel      string
	RankingTimeout time.Duration
	LLMMinInterval time.Duration

	// Ingestion
	ScrapingEnabled   bool
	ScrapingCron      string
	ScrapingLocations []string
	SourceTimeout     time.Duration
	MinItems          int
	SpoonacularAPIKey string
	EdamamAppID       string
	EdamamAppKey      string
	EdamamInterval    time.Duration
}

// Load reads configuration from the environment. A .env file in the working
// directory is loaded first when present; real environment variables win.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	cfg := &Config{
		HTTPPort:               getEnv("HTTP_PORT", "8080"),
		ReadTimeout:            getDuration("READ_TIMEOUT", 5*time.Second),
		WriteTimeout:           getDuration("WRITE_TIMEOUT", 2*time.Minute),
		ShutdownTimeout:        getDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
		AdminRequestsPerMinute: getInt("ADMIN_RATE_LIMIT", 30),

		DatabaseURL: dbURL,
		DBMaxConns:  int32(getInt("DB_MAX_CONNS", 25)),
		DBMinConns:  int32(getInt("DB_MIN_CONNS", 5)),

		QueueBackend:      strings.ToLower(getEnv("QUEUE_BACKEND", QueueBackendPostgres)),
		QueuePollInterval: getDuration("QUEUE_POLL_INTERVAL", 500*time.Millisecond),
		QueueLease:        getDuration("QUEUE_LEASE", 2*time.Minute),
		JanitorInterval:   getDuration("JANITOR_INTERVAL", 15*time.Second),

		RecommendationCron:        getEnv("RECOMMENDATION_CRON", "0 8 * * *"),
		BatchSize:                 getInt("BATCH_SIZE", 5),
		BatchDelay:                getDuration("BATCH_DELAY", time.Second),
		RecommendationConcurrency: getInt("RECOMMENDATION_CONCURRENCY", 2),
		RecommendationLimit:       getInt("RECOMMENDATION_LIMIT", 10),
		UserDelay:                 getDuration("USER_DELAY", 500*time.Millisecond),

		EmailConcurrency:   getInt("EMAIL_CONCURRENCY", 5),
		EmailRateLimit:     getInt("EMAIL_RATE_LIMIT_MAX", 50),
		EmailRateWindow:    getDuration("EMAIL_RATE_LIMIT_WINDOW", time.Minute),
		EmailTransport:     strings.ToLower(getEnv("EMAIL_TRANSPORT", EmailTransportLog)),
		AppName:            getEnv("APP_NAME", "PlatePulse"),
		SMTPHost:           getEnv("SMTP_HOST", ""),
		SMTPPort:           getInt("SMTP_PORT", 587),
		SMTPUser:           getEnv("SMTP_USER", ""),
		SMTPPassword:       getEnv("SMTP_PASSWORD", ""),
		EmailFrom:          getEnv("EMAIL_FROM", "noreply@platepulse.local"),
		EmailFromName:      getEnv("EMAIL_FROM_NAME", "PlatePulse"),
		EmailTimeout:       getDuration("EMAIL_TIMEOUT", 30*time.Second),
		EmailWebhookURL:    getEnv("EMAIL_WEBHOOK_URL", ""),
		EmailWebhookAPIKey: getEnv("EMAIL_WEBHOOK_API_KEY", ""),

		GroqAPIKey:     getEnv("GROQ_API_KEY", ""),
		GroqBaseURL:    getEnv("GROQ_BASE_URL", "https://api.groq.com/openai/v1"),
		GroqModel:      getEnv("GROQ_MODEL", "llama-3.1-8b-instant"),
		RankingTimeout: getDuration("RANKING_TIMEOUT", 30*time.Second),
		LLMMinInterval: getDuration("LLM_MIN_INTERVAL", 200*time.Millisecond),

		ScrapingEnabled:   getBool("SCRAPING_ENABLED", false),
		ScrapingCron:      getEnv("SCRAPING_CRON", "0 */4 * * *"),
		ScrapingLocations: getList("SCRAPING_LOCATIONS", []string{"Mumbai", "Delhi", "Bangalore", "Chennai", "Pune"}),
		SourceTimeout:     getDuration("SOURCE_TIMEOUT", 15*time.Second),
		MinItems:          getInt("SCRAPING_MIN_ITEMS", 10),
		SpoonacularAPIKey: getEnv("SPOONACULAR_API_KEY", ""),
		EdamamAppID:       getEnv("EDAMAM_APP_ID", ""),
		EdamamAppKey:      getEnv("EDAMAM_APP_KEY", ""),
		EdamamInterval:    getDuration("EDAMAM_INTERVAL", time.Second),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.QueueBackend {
	case QueueBackendPostgres, QueueBackendMemory:
	default:
		return fmt.Errorf("QUEUE_BACKEND must be %q or %q, got %q", QueueBackendPostgres, QueueBackendMemory, c.QueueBackend)
	}
	switch c.EmailTransport {
	case EmailTransportLog, EmailTransportWebhook:
	case EmailTransportSMTP:
		if c.SMTPHost == "" {
			return fmt.Errorf("SMTP_HOST is required when EMAIL_TRANSPORT=smtp")
		}
	default:
		return fmt.Errorf("unknown EMAIL_TRANSPORT %q", c.EmailTransport)
	}
	if c.EmailTransport == EmailTransportWebhook && c.EmailWebhookURL == "" {
		return fmt.Errorf("EMAIL_WEBHOOK_URL is required when EMAIL_TRANSPORT=webhook")
	}
	if c.QueueLease < time.Second {
		return fmt.Errorf("QUEUE_LEASE must be at least 1s, got %v", c.QueueLease)
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("BATCH_SIZE must be positive, got %d", c.BatchSize)
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}

func getBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

// getList reads a comma-separated list, dropping empty entries.
func getList(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}
