package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/adhocore/gronx"
	"github.com/joho/godotenv"
)

// DefaultEnrichCron はエンリッチメントのデフォルトスケジュール。
// 同期ティックと重ならないよう毎時7分と37分に実行する。
const DefaultEnrichCron = "7,37 * * * *"

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// App
	AppEnv   string
	LogLevel string

	// Server
	ServerPort string

	// Sync scheduler
	// SchedulerOverride はSCHEDULER_ENABLEDの値。未設定の場合はnilでAPP_ENVから判定する。
	SchedulerOverride *bool
	SyncTickInterval  time.Duration
	SyncMaxConcurrent int

	// Content fetch
	ContentFetchTimeout time.Duration
	FetchMaxSize        int64
	UserAgent           string

	// RSS connector
	RSSQueueDelay   time.Duration
	RSSQueueMaxSize int
	RSSMaxItems     int

	// Spotify connector
	SpotifyClientID     string
	SpotifyClientSecret string
	SpotifyQueueDelay   time.Duration
	SpotifyQueueMaxSize int
	SpotifyMaxItems     int

	// Enrichment
	EnrichCron         string
	EnrichBatchSize    int
	EnrichQueueDelay   time.Duration
	EnrichQueueMaxSize int

	// AI
	AIBaseURL       string
	AIAPIKey        string
	AITopicModel    string
	AICategoryModel string
	AITimeout       time.Duration

	// Image search
	GiphyAPIKey      string
	TenorAPIKey      string
	ImageSearchLimit int

	// Events
	NATSURL           string
	NATSSubjectPrefix string

	// Rate Limit
	RateLimitManual int
}

// SchedulerEnabled はバックグラウンドスケジュールを実行するかを返す。
// SCHEDULER_ENABLEDが設定されていればその値に従う。
// 未設定の場合、development/test環境では同期ティックとエンリッチメントのスケジュールを無効にする。
func (c *Config) SchedulerEnabled() bool {
	if c.SchedulerOverride != nil {
		return *c.SchedulerOverride
	}
	switch c.AppEnv {
	case "development", "test":
		return false
	default:
		return true
	}
}

// Load は環境変数からConfigを読み込む。
// カレントディレクトリに.envがあれば先に読み込む（設定済みの環境変数は上書きしない）。
// 必須環境変数が未設定の場合やENRICH_CRONが不正な場合はエラーを返す。
func Load() (*Config, error) {
	_ = godotenv.Load(".env")

	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.AppEnv = getEnvString("APP_ENV", "production")
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	if v := os.Getenv("SCHEDULER_ENABLED"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid SCHEDULER_ENABLED value: %q", v)
		}
		cfg.SchedulerOverride = &enabled
	}
	cfg.SyncTickInterval = getEnvDuration("SYNC_TICK_INTERVAL", time.Minute)
	cfg.SyncMaxConcurrent = getEnvInt("SYNC_MAX_CONCURRENT", 4)
	cfg.ContentFetchTimeout = getEnvDuration("CONTENT_FETCH_TIMEOUT", 30*time.Second)
	cfg.FetchMaxSize = getEnvInt64("FETCH_MAX_SIZE", 5242880)
	cfg.UserAgent = getEnvString("USER_AGENT", "feedsync/1.0 (+https://github.com/hitoshi/feedsync)")

	cfg.RSSQueueDelay = getEnvDuration("RSS_QUEUE_DELAY", 2*time.Second)
	cfg.RSSQueueMaxSize = getEnvInt("RSS_QUEUE_MAX_SIZE", 500)
	cfg.RSSMaxItems = getEnvInt("RSS_MAX_ITEMS", 20)

	cfg.SpotifyClientID = getEnvString("SPOTIFY_CLIENT_ID", "")
	cfg.SpotifyClientSecret = getEnvString("SPOTIFY_CLIENT_SECRET", "")
	cfg.SpotifyQueueDelay = getEnvDuration("SPOTIFY_QUEUE_DELAY", time.Second)
	cfg.SpotifyQueueMaxSize = getEnvInt("SPOTIFY_QUEUE_MAX_SIZE", 500)
	cfg.SpotifyMaxItems = getEnvInt("SPOTIFY_MAX_ITEMS", 20)

	cfg.EnrichCron = getEnvString("ENRICH_CRON", DefaultEnrichCron)
	cfg.EnrichBatchSize = getEnvInt("ENRICH_BATCH_SIZE", 20)
	cfg.EnrichQueueDelay = getEnvDuration("ENRICH_QUEUE_DELAY", 5*time.Second)
	cfg.EnrichQueueMaxSize = getEnvInt("ENRICH_QUEUE_MAX_SIZE", 200)

	cfg.AIBaseURL = getEnvString("AI_BASE_URL", "https://api.openai.com/v1")
	cfg.AIAPIKey = getEnvString("AI_API_KEY", "")
	cfg.AITopicModel = getEnvString("AI_TOPIC_MODEL", "gpt-4o-mini")
	cfg.AICategoryModel = getEnvString("AI_CATEGORY_MODEL", "gpt-4o-mini")
	cfg.AITimeout = getEnvDuration("AI_TIMEOUT", 60*time.Second)

	cfg.GiphyAPIKey = getEnvString("GIPHY_API_KEY", "")
	cfg.TenorAPIKey = getEnvString("TENOR_API_KEY", "")
	cfg.ImageSearchLimit = getEnvInt("IMAGE_SEARCH_LIMIT", 10)

	cfg.NATSURL = getEnvString("NATS_URL", "")
	cfg.NATSSubjectPrefix = getEnvString("NATS_SUBJECT_PREFIX", "feedsync")

	cfg.RateLimitManual = getEnvInt("RATE_LIMIT_MANUAL", 30)

	if !gronx.IsValid(cfg.EnrichCron) {
		return nil, fmt.Errorf("invalid ENRICH_CRON expression: %q", cfg.EnrichCron)
	}

	return cfg, nil
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
