package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the process configuration, loaded from environment
// variables. Postgres and Redis are optional: without them the engine
// runs with the in-memory ledger and broadcaster only.
type Config struct {
	AppEnv      string
	Port        string
	DatabaseURL string
	RedisURL    string
	RedisEvents string

	StoragePath   string
	GeoIPDBPath   string
	DefaultLocale string

	GeminiAPIKey     string
	GeminiBaseURL    string
	GeminiPlanModel  string
	GeminiTTSModel   string
	GeminiImageModel string
	RunwayAPIKey     string
	RunwayBaseURL    string
	RunwayModel      string

	StartingCredits int64
	PlanCost        int64
	SpeechCost      int64
	ImageCost       int64
	VideoCost       int64
	CompositeCost   int64

	BatchConcurrency    int
	VideoPollInterval   time.Duration
	VideoPollMaxPolls   int
	InterCycleDelay     time.Duration
	ExportStagger       time.Duration
	MinSceneSeconds     int
	DefaultSceneSeconds int
	DefaultSceneCount   int

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int
	AllowedOrigins   []string

	OTLPEndpoint string
}

// LoadConfig reads the environment and applies defaults.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:      getEnv("APP_ENV", "development"),
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisURL:    os.Getenv("REDIS_URL"),
		RedisEvents: getEnv("REDIS_EVENTS_CHANNEL", "engine.events"),

		StoragePath:   getEnv("STORAGE_PATH", "./data"),
		GeoIPDBPath:   os.Getenv("GEOIP_DB_PATH"),
		DefaultLocale: getEnv("DEFAULT_LOCALE", "en-US"),

		GeminiAPIKey:     os.Getenv("GEMINI_API_KEY"),
		GeminiBaseURL:    getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),
		GeminiPlanModel:  getEnv("GEMINI_PLAN_MODEL", "gemini-2.5-flash"),
		GeminiTTSModel:   getEnv("GEMINI_TTS_MODEL", "gemini-2.5-flash-preview-tts"),
		GeminiImageModel: getEnv("GEMINI_IMAGE_MODEL", "gemini-2.5-flash-image"),
		RunwayAPIKey:     os.Getenv("RUNWAY_API_KEY"),
		RunwayBaseURL:    getEnv("RUNWAY_BASE_URL", "https://api.dev.runwayml.com"),
		RunwayModel:      getEnv("RUNWAY_MODEL", "gen4_turbo"),

		StartingCredits: getEnvInt64("STARTING_CREDITS", 2450),
		PlanCost:        getEnvInt64("PLAN_COST", 0),
		SpeechCost:      getEnvInt64("SPEECH_COST", 1),
		ImageCost:       getEnvInt64("IMAGE_COST", 5),
		VideoCost:       getEnvInt64("VIDEO_COST", 25),
		CompositeCost:   getEnvInt64("COMPOSITE_COST", 10),

		BatchConcurrency:    getEnvInt("BATCH_CONCURRENCY", 4),
		VideoPollInterval:   time.Second * time.Duration(getEnvInt("VIDEO_POLL_INTERVAL_SECONDS", 5)),
		VideoPollMaxPolls:   getEnvInt("VIDEO_POLL_MAX_ATTEMPTS", 60),
		InterCycleDelay:     time.Second * time.Duration(getEnvInt("LOOP_CYCLE_DELAY_SECONDS", 4)),
		ExportStagger:       time.Millisecond * time.Duration(getEnvInt("EXPORT_STAGGER_MILLIS", 800)),
		MinSceneSeconds:     getEnvInt("MIN_SCENE_SECONDS", 3),
		DefaultSceneSeconds: getEnvInt("DEFAULT_SCENE_SECONDS", 4),
		DefaultSceneCount:   getEnvInt("DEFAULT_SCENE_COUNT", 5),

		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 120)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 60),
		AllowedOrigins:   splitCSV(getEnv("ALLOWED_ORIGINS", "*")),

		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if cfg.BatchConcurrency < 1 {
		return nil, fmt.Errorf("BATCH_CONCURRENCY must be at least 1")
	}
	if cfg.StartingCredits < 0 {
		return nil, fmt.Errorf("STARTING_CREDITS must not be negative")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return i
		}
	}
	return fallback
}

func splitCSV(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
