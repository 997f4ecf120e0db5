package config

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"leadflow_backend/internal/leads/domain"

	"github.com/joho/godotenv"
)

// Config carries all runtime settings for the service.
type Config struct {
	Env      string
	HTTPAddr string

	DatabaseURL   string
	MigrationsDir string
	RedisURL      string

	// Thresholds are the named qualification cut points. Every value is
	// overridable per deployment through the environment; each
	// QualificationResult records the values in force at evaluation time.
	Thresholds domain.Thresholds

	// Compliance
	OptOutKeywords  []string
	OptInKeywords   []string
	DailyMessageCap int
	MonthlyCap      int

	// Conversation
	SessionIdleTimeout   time.Duration
	StallRecoveryRetries int

	// Orchestration
	HandoffConfidenceFloor float64
	CascadeDepthLimit      int

	// CRM
	CRMBaseURL     string
	CRMAPIKey      string
	CRMRatePerSec  float64
	CRMRateBurst   int
	CRMMaxRetries  int
	CRMRetryBase   time.Duration
	SyncingWorkers int

	// Webhook ingress
	WebhookJWTSecret string
	RulesFile        string
	DedupTTL         time.Duration

	// CORS
	CORSAllowAll   bool
	CORSOrigins    []string
	CORSAllowCreds bool

	// Reply drafting
	GeminiAPIKey string

	// Operator notifications
	SMTPHost      string
	SMTPPort      int
	SMTPUser      string
	SMTPPassword  string
	AlertFrom     string
	AlertTo       []string
	AdminToken    string // bcrypt hash of the operator API token
	AsynqQueue    string
	AsynqWorkers  int
	IdleSweepTick time.Duration
}

// Baseline defaults: hot requires 4 substantive answers at 0.7 quality
// with an acceptable timeline, warm requires 3 at 0.5. Caps are 20/day
// and 200/month, sessions idle out after 30 minutes, and handoffs need
// 0.6 confidence.
func defaults() *Config {
	return &Config{
		Env:      "development",
		HTTPAddr: ":8080",
		Thresholds: domain.Thresholds{
			HotQuestionsRequired:  4,
			HotQualityThreshold:   0.7,
			WarmQuestionsRequired: 3,
			WarmQualityThreshold:  0.5,
			StallWindow:           3,
			StallQualityFloor:     0.25,
		},
		OptOutKeywords:         []string{"stop", "stopall", "unsubscribe", "cancel", "end", "quit", "optout", "remove"},
		OptInKeywords:          []string{"start", "unstop", "subscribe"},
		DailyMessageCap:        20,
		MonthlyCap:             200,
		SessionIdleTimeout:     30 * time.Minute,
		StallRecoveryRetries:   2,
		HandoffConfidenceFloor: 0.6,
		CascadeDepthLimit:      5,
		CRMRatePerSec:          10,
		CRMRateBurst:           10,
		CRMMaxRetries:          4,
		CRMRetryBase:           500 * time.Millisecond,
		SyncingWorkers:         8,
		AsynqQueue:             "default",
		AsynqWorkers:           10,
		IdleSweepTick:          time.Minute,
		DedupTTL:               48 * time.Hour,
		CORSOrigins:            []string{"http://localhost:4200"},
		CORSAllowCreds:         true,
	}
}

// Load reads configuration from the environment, applying baseline defaults.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := defaults()

	cfg.Env = getEnv("APP_ENV", cfg.Env)
	cfg.HTTPAddr = getEnv("HTTP_ADDR", cfg.HTTPAddr)
	cfg.DatabaseURL = getEnv("DATABASE_URL", "")
	cfg.MigrationsDir = getEnv("MIGRATIONS_DIR", "migrations")
	cfg.RedisURL = getEnv("REDIS_URL", "")

	cfg.Thresholds.HotQuestionsRequired = getInt("HOT_QUESTIONS_REQUIRED", cfg.Thresholds.HotQuestionsRequired)
	cfg.Thresholds.HotQualityThreshold = getFloat("HOT_QUALITY_THRESHOLD", cfg.Thresholds.HotQualityThreshold)
	cfg.Thresholds.WarmQuestionsRequired = getInt("WARM_QUESTIONS_REQUIRED", cfg.Thresholds.WarmQuestionsRequired)
	cfg.Thresholds.WarmQualityThreshold = getFloat("WARM_QUALITY_THRESHOLD", cfg.Thresholds.WarmQualityThreshold)
	cfg.Thresholds.StallWindow = getInt("STALL_WINDOW", cfg.Thresholds.StallWindow)
	cfg.Thresholds.StallQualityFloor = getFloat("STALL_QUALITY_FLOOR", cfg.Thresholds.StallQualityFloor)

	if raw := getEnv("OPTOUT_KEYWORDS", ""); raw != "" {
		cfg.OptOutKeywords = splitCSV(raw)
	}
	if raw := getEnv("OPTIN_KEYWORDS", ""); raw != "" {
		cfg.OptInKeywords = splitCSV(raw)
	}
	cfg.DailyMessageCap = getInt("DAILY_MESSAGE_CAP", cfg.DailyMessageCap)
	cfg.MonthlyCap = getInt("MONTHLY_MESSAGE_CAP", cfg.MonthlyCap)

	cfg.SessionIdleTimeout = getDuration("SESSION_IDLE_TIMEOUT", cfg.SessionIdleTimeout)
	cfg.StallRecoveryRetries = getInt("STALL_RECOVERY_RETRIES", cfg.StallRecoveryRetries)
	cfg.HandoffConfidenceFloor = getFloat("HANDOFF_CONFIDENCE_FLOOR", cfg.HandoffConfidenceFloor)
	cfg.CascadeDepthLimit = getInt("CASCADE_DEPTH_LIMIT", cfg.CascadeDepthLimit)

	cfg.CRMBaseURL = getEnv("CRM_BASE_URL", "")
	cfg.CRMAPIKey = getEnv("CRM_API_KEY", "")
	cfg.CRMRatePerSec = getFloat("CRM_RATE_PER_SEC", cfg.CRMRatePerSec)
	cfg.CRMRateBurst = getInt("CRM_RATE_BURST", cfg.CRMRateBurst)
	cfg.CRMMaxRetries = getInt("CRM_MAX_RETRIES", cfg.CRMMaxRetries)
	cfg.CRMRetryBase = getDuration("CRM_RETRY_BASE", cfg.CRMRetryBase)
	cfg.SyncingWorkers = getInt("CRM_SYNC_WORKERS", cfg.SyncingWorkers)

	cfg.WebhookJWTSecret = getEnv("WEBHOOK_JWT_SECRET", "")
	cfg.RulesFile = getEnv("RULES_FILE", "")
	cfg.DedupTTL = getDuration("INGEST_DEDUP_TTL", cfg.DedupTTL)

	cfg.CORSAllowAll = strings.EqualFold(getEnv("CORS_ALLOW_ALL", "false"), "true")
	if raw := getEnv("CORS_ORIGINS", ""); raw != "" {
		cfg.CORSOrigins = splitCSV(raw)
	}
	cfg.CORSAllowCreds = strings.EqualFold(getEnv("CORS_ALLOW_CREDENTIALS", "true"), "true")
	cfg.GeminiAPIKey = getEnv("GEMINI_API_KEY", "")

	cfg.SMTPHost = getEnv("SMTP_HOST", "")
	cfg.SMTPPort = getInt("SMTP_PORT", 587)
	cfg.SMTPUser = getEnv("SMTP_USER", "")
	cfg.SMTPPassword = getEnv("SMTP_PASSWORD", "")
	cfg.AlertFrom = getEnv("ALERT_FROM", "")
	cfg.AlertTo = splitCSV(getEnv("ALERT_TO", ""))
	cfg.AdminToken = getEnv("ADMIN_TOKEN_BCRYPT", "")
	cfg.AsynqQueue = getEnv("ASYNQ_QUEUE", cfg.AsynqQueue)
	cfg.AsynqWorkers = getInt("ASYNQ_WORKERS", cfg.AsynqWorkers)
	cfg.IdleSweepTick = getDuration("IDLE_SWEEP_TICK", cfg.IdleSweepTick)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	t := c.Thresholds
	if t.HotQuestionsRequired < t.WarmQuestionsRequired {
		return fmt.Errorf("HOT_QUESTIONS_REQUIRED must be >= WARM_QUESTIONS_REQUIRED")
	}
	for name, v := range map[string]float64{
		"HOT_QUALITY_THRESHOLD":    t.HotQualityThreshold,
		"WARM_QUALITY_THRESHOLD":   t.WarmQualityThreshold,
		"STALL_QUALITY_FLOOR":      t.StallQualityFloor,
		"HANDOFF_CONFIDENCE_FLOOR": c.HandoffConfidenceFloor,
	} {
		if math.IsNaN(v) || v < 0 || v > 1 {
			return fmt.Errorf("%s must be in [0,1]", name)
		}
	}
	if c.DailyMessageCap < 1 || c.MonthlyCap < 1 {
		return fmt.Errorf("message caps must be positive")
	}
	if c.CascadeDepthLimit < 1 {
		return fmt.Errorf("CASCADE_DEPTH_LIMIT must be positive")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func getInt(key string, fallback int) int {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

func getFloat(key string, fallback float64) float64 {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return f
}

func getDuration(key string, fallback time.Duration) time.Duration {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return d
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	results := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			results = append(results, trimmed)
		}
	}
	return results
}
