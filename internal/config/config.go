package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	App     AppConfig
	Oracle  OracleConfig
	Labeler LabelerConfig
	Tracing TracingConfig
}

type AppConfig struct {
	Port               string
	Environment        string
	LogFilePath        string
	AuditLogFilePath   string
	CorsAllowedOrigins string
	NatsURL            string
	RedisURL           string
	BodyLimitMB        int
	SessionTTL         time.Duration
	AdminToken         string
}

type OracleConfig struct {
	Backend        string // "huggingface" or "clip"
	ModelID        string
	Timeout        time.Duration
	WarmupOnStart  bool
	HFBaseURL      string
	HFAPIKey       string
	OrtLibraryPath string
	OnnxModelPath  string
	TokenizerPath  string
	PromptTemplate string
}

type LabelerConfig struct {
	ConfidenceThreshold float64
	CacheBackend        string // "none", "memory" or "redis"
	CacheTTL            time.Duration
	MaxImagePixels      int
}

type TracingConfig struct {
	Enabled  bool
	Endpoint string
}

func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("Note: .env file not found, usage system environment")
	}

	return &Config{
		App: AppConfig{
			Port:               getEnv("APP_PORT", "3000"),
			Environment:        getEnv("GO_ENV", "development"),
			LogFilePath:        getEnv("LOG_FILE_PATH", "logs/app.log"),
			AuditLogFilePath:   getEnv("AUDIT_LOG_FILE_PATH", "logs/audit.log"),
			CorsAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000"),
			NatsURL:            getEnv("NATS_URL", ""),
			RedisURL:           getEnv("REDIS_URL", ""),
			BodyLimitMB:        getEnvAsInt("BODY_LIMIT_MB", 10),
			SessionTTL:         getEnvAsDuration("SESSION_TTL", time.Hour),
			AdminToken:         getEnv("ADMIN_TOKEN", ""),
		},
		Oracle: OracleConfig{
			Backend:        getEnv("ORACLE_BACKEND", "huggingface"),
			ModelID:        getEnv("ORACLE_MODEL", "openai/clip-vit-base-patch16"),
			Timeout:        getEnvAsDuration("ORACLE_TIMEOUT", 60*time.Second),
			WarmupOnStart:  getEnvAsBool("ORACLE_WARMUP", false),
			HFBaseURL:      getEnv("HUGGINGFACE_BASE_URL", ""),
			HFAPIKey:       getEnv("HUGGINGFACE_API_KEY", ""),
			OrtLibraryPath: getEnv("ONNXRUNTIME_LIB", ""),
			OnnxModelPath:  getEnv("CLIP_MODEL_PATH", "./models/clip-vit-base-patch16/model.onnx"),
			TokenizerPath:  getEnv("CLIP_TOKENIZER_PATH", "./models/clip-vit-base-patch16/tokenizer.json"),
			PromptTemplate: getEnv("CLIP_PROMPT_TEMPLATE", ""),
		},
		Labeler: LabelerConfig{
			ConfidenceThreshold: getEnvAsFloat("CONFIDENCE_THRESHOLD", 0.30),
			CacheBackend:        getEnv("LABELER_CACHE", "none"),
			CacheTTL:            getEnvAsDuration("LABELER_CACHE_TTL", 10*time.Minute),
			MaxImagePixels:      getEnvAsInt("MAX_IMAGE_PIXELS", 40_000_000),
		},
		Tracing: TracingConfig{
			Enabled:  getEnvAsBool("OTEL_ENABLED", false),
			Endpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4318"),
		},
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	strValue := getEnv(key, "")
	if value, err := strconv.Atoi(strValue); err == nil {
		return value
	}
	return fallback
}

func getEnvAsFloat(key string, fallback float64) float64 {
	strValue := getEnv(key, "")
	if value, err := strconv.ParseFloat(strValue, 64); err == nil {
		return value
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	strValue := getEnv(key, "")
	if value, err := strconv.ParseBool(strValue); err == nil {
		return value
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	strValue := getEnv(key, "")
	if value, err := time.ParseDuration(strValue); err == nil {
		return value
	}
	return fallback
}
