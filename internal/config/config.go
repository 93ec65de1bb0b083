package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// PlatformCredentials はソーシャルプラットフォーム1つ分のOAuthアプリ資格情報。
type PlatformCredentials struct {
	ClientID     string
	ClientSecret string
}

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Auth
	CronSecret   string
	ServiceToken string

	// OAuth（プラットフォーム別）
	Facebook  PlatformCredentials
	Twitter   PlatformCredentials
	LinkedIn  PlatformCredentials
	Instagram PlatformCredentials

	// Publish
	PublishInterval      time.Duration
	PublishTimeout       time.Duration
	PublishMaxConcurrent int
	PublishMaxPerRun     int
	TokenRefreshWindow   time.Duration

	// Engagement
	EngagementBatchInterval    time.Duration
	EngagementAPIInterval      time.Duration
	EngagementMaxCallsPerCycle int
	EngagementLookback         time.Duration

	// Maintenance
	ConnectionRetention time.Duration

	// Feed import
	FetchTimeout time.Duration
	FetchMaxSize int64

	// Rate Limit
	RateLimitGeneral int
	RateLimitConnect int

	// Events（未設定の場合はイベント発行を無効化）
	AMQPURL string

	// Server
	ServerPort string
	SiteURL    string

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.CronSecret = os.Getenv("CRON_SECRET")
	if cfg.CronSecret == "" {
		missing = append(missing, "CRON_SECRET")
	}

	cfg.ServiceToken = os.Getenv("SERVICE_TOKEN")
	if cfg.ServiceToken == "" {
		missing = append(missing, "SERVICE_TOKEN")
	}

	cfg.SiteURL = os.Getenv("SITE_URL")
	if cfg.SiteURL == "" {
		missing = append(missing, "SITE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}
	if !strings.HasPrefix(cfg.SiteURL, "http://") && !strings.HasPrefix(cfg.SiteURL, "https://") {
		return nil, fmt.Errorf("SITE_URL must start with http:// or https://: %s", cfg.SiteURL)
	}

	// OAuth資格情報は未設定を許容する。
	// 未設定プラットフォームへの接続要求は実行時にエラーとして扱う。
	cfg.Facebook = loadPlatformCredentials("FACEBOOK")
	cfg.Twitter = loadPlatformCredentials("TWITTER")
	cfg.LinkedIn = loadPlatformCredentials("LINKEDIN")
	cfg.Instagram = loadPlatformCredentials("INSTAGRAM")

	// Optional fields with defaults
	cfg.PublishInterval = getEnvDuration("PUBLISH_INTERVAL", 5*time.Minute)
	cfg.PublishTimeout = getEnvDuration("PUBLISH_TIMEOUT", 30*time.Second)
	cfg.PublishMaxConcurrent = getEnvInt("PUBLISH_MAX_CONCURRENT", 1)
	cfg.PublishMaxPerRun = getEnvInt("PUBLISH_MAX_ITEMS_PER_RUN", 50)
	cfg.TokenRefreshWindow = getEnvDuration("TOKEN_REFRESH_WINDOW", 5*time.Minute)
	cfg.EngagementBatchInterval = getEnvDuration("ENGAGEMENT_BATCH_INTERVAL", 30*time.Minute)
	cfg.EngagementAPIInterval = getEnvDuration("ENGAGEMENT_API_INTERVAL", 5*time.Second)
	cfg.EngagementMaxCallsPerCycle = getEnvInt("ENGAGEMENT_MAX_CALLS_PER_CYCLE", 100)
	cfg.EngagementLookback = getEnvDuration("ENGAGEMENT_LOOKBACK", 72*time.Hour)
	cfg.ConnectionRetention = getEnvDuration("CONNECTION_RETENTION", 30*24*time.Hour)
	cfg.FetchTimeout = getEnvDuration("FETCH_TIMEOUT", 10*time.Second)
	cfg.FetchMaxSize = getEnvInt64("FETCH_MAX_SIZE", 5242880)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitConnect = getEnvInt("RATE_LIMIT_CONNECT", 10)
	cfg.AMQPURL = getEnvString("AMQP_URL", "")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	return cfg, nil
}

// PlatformCredentialsFor はプラットフォーム名に対応する資格情報を返す。
func (c *Config) PlatformCredentialsFor(platform string) (PlatformCredentials, bool) {
	var creds PlatformCredentials
	switch platform {
	case "facebook":
		creds = c.Facebook
	case "twitter":
		creds = c.Twitter
	case "linkedin":
		creds = c.LinkedIn
	case "instagram":
		creds = c.Instagram
	default:
		return PlatformCredentials{}, false
	}
	if creds.ClientID == "" || creds.ClientSecret == "" {
		return PlatformCredentials{}, false
	}
	return creds, true
}

func loadPlatformCredentials(prefix string) PlatformCredentials {
	return PlatformCredentials{
		ClientID:     os.Getenv(prefix + "_CLIENT_ID"),
		ClientSecret: os.Getenv(prefix + "_CLIENT_SECRET"),
	}
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
