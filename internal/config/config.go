package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server       ServerConfig
	Logger       LoggerConfig
	Store        StoreConfig
	Redis        RedisConfig
	Collector    CollectorConfig
	Classifier   ClassifierConfig
	Ranking      RankingConfig
	Notification NotificationConfig
	Scheduler    SchedulerConfig
}

type ServerConfig struct {
	Port string
}

type LoggerConfig struct {
	Level      string
	FilePath   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

type StoreConfig struct {
	DSN string
}

type RedisConfig struct {
	URL          string
	PoolSize     int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type CollectorConfig struct {
	APIBaseURL     string
	PortalURL      string
	RequestTimeout time.Duration
	RetryAttempts  int
	UseFixtures    bool
}

type ClassifierConfig struct {
	MaxTags             int
	SimilarityThreshold float64
}

// RankingConfig carries the scoring weights. They are tunable, not a fixed law;
// defaults favour category and region match over the remaining features.
type RankingConfig struct {
	CategoryWeight float64
	RegionWeight   float64
	AmountWeight   float64
	TRLWeight      float64
	TagWeight      float64
}

type NotificationConfig struct {
	SignificanceDelta float64
	LookaheadDays     int
	MinScore          float64
	WeeklyWeekday     time.Weekday
	WebhookURL        string
	RequestTimeout    time.Duration
	RetryAttempts     int
}

type SchedulerConfig struct {
	Enabled            bool
	TickInterval       time.Duration
	CollectionInterval time.Duration
	PipelineLag        time.Duration
}

func LoadConfig() *Config {
	// Missing .env is fine in production where everything comes from the
	// environment directly.
	_ = godotenv.Load()

	return &Config{
		Server: ServerConfig{
			Port: getEnv("PORT", "8080"),
		},
		Logger: LoggerConfig{
			Level:      getEnv("LOG_LEVEL", "info"),
			FilePath:   getEnv("LOG_FILE", ""),
			MaxSizeMB:  getEnvInt("LOG_MAX_SIZE_MB", 100),
			MaxBackups: getEnvInt("LOG_MAX_BACKUPS", 3),
			MaxAgeDays: getEnvInt("LOG_MAX_AGE_DAYS", 28),
		},
		Store: StoreConfig{
			DSN: getEnv("STORE_DSN", "fundingai.db"),
		},
		Redis: RedisConfig{
			URL:          getEnv("REDIS_URL", ""),
			PoolSize:     getEnvInt("REDIS_POOL_SIZE", 10),
			DialTimeout:  getEnvDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getEnvDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getEnvDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Collector: CollectorConfig{
			APIBaseURL:     getEnv("COLLECTOR_API_URL", ""),
			PortalURL:      getEnv("COLLECTOR_PORTAL_URL", ""),
			RequestTimeout: getEnvDuration("COLLECTOR_REQUEST_TIMEOUT", 30*time.Second),
			RetryAttempts:  getEnvInt("COLLECTOR_RETRY_ATTEMPTS", 3),
			UseFixtures:    getEnvBool("COLLECTOR_USE_FIXTURES", false),
		},
		Classifier: ClassifierConfig{
			MaxTags:             getEnvInt("CLASSIFIER_MAX_TAGS", 8),
			SimilarityThreshold: getEnvFloat("CLASSIFIER_SIMILARITY_THRESHOLD", 0.25),
		},
		Ranking: RankingConfig{
			CategoryWeight: getEnvFloat("RANKING_CATEGORY_WEIGHT", 0.35),
			RegionWeight:   getEnvFloat("RANKING_REGION_WEIGHT", 0.25),
			AmountWeight:   getEnvFloat("RANKING_AMOUNT_WEIGHT", 0.20),
			TRLWeight:      getEnvFloat("RANKING_TRL_WEIGHT", 0.10),
			TagWeight:      getEnvFloat("RANKING_TAG_WEIGHT", 0.10),
		},
		Notification: NotificationConfig{
			SignificanceDelta: getEnvFloat("NOTIFICATION_SIGNIFICANCE_DELTA", 5),
			LookaheadDays:     getEnvInt("NOTIFICATION_LOOKAHEAD_DAYS", 30),
			MinScore:          getEnvFloat("NOTIFICATION_MIN_SCORE", 60),
			WeeklyWeekday:     time.Weekday(getEnvInt("NOTIFICATION_WEEKLY_WEEKDAY", int(time.Monday))),
			WebhookURL:        getEnv("NOTIFIER_WEBHOOK_URL", ""),
			RequestTimeout:    getEnvDuration("NOTIFIER_REQUEST_TIMEOUT", 15*time.Second),
			RetryAttempts:     getEnvInt("NOTIFIER_RETRY_ATTEMPTS", 3),
		},
		Scheduler: SchedulerConfig{
			Enabled:            getEnvBool("SCHEDULER_ENABLED", true),
			TickInterval:       getEnvDuration("SCHEDULER_TICK_INTERVAL", time.Minute),
			CollectionInterval: getEnvDuration("SCHEDULER_COLLECTION_INTERVAL", 6*time.Hour),
			PipelineLag:        getEnvDuration("SCHEDULER_PIPELINE_LAG", 5*time.Minute),
		},
	}
}

func getEnv(key, fallback string) string {
	value := os.Getenv(key)
	if value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		log.Fatalf("Error parsing %s: %v", key, err)
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		log.Fatalf("Error parsing %s: %v", key, err)
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		log.Fatalf("Error parsing %s: %v", key, err)
	}
	return parsed
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		log.Fatalf("Error parsing %s: %v", key, err)
	}
	return parsed
}
