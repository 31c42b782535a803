package config

import "os"

// Config holds process configuration.
type Config struct {
	LogLevel          string
	DatabasePath      string // sqlite file, ":memory:" for tests
	ObjectStore       string // "fs", "s3", "gcs", "memory"
	ObjectStoreBucket string
	ObjectStorePath   string
	DropzonePath      string
	AckPath           string
	SMTPAddr          string
	SMTPDomain        string
	LLMAPIKey         string
	LLMBaseURL        string
	LLMModel          string
	EmbeddingModel    string
	EmbeddingDim      int
	EmbeddingDSN      string // Postgres with pgvector; empty disables the vector index
	RedisAddr         string
	ProfilesDir       string
	OTLPEndpoint      string
}

// Load loads configuration from environment variables.
func Load() *Config {
	return &Config{
		LogLevel:          envOr("LOG_LEVEL", "INFO"),
		DatabasePath:      envOr("DATABASE_PATH", "orderflow.db"),
		ObjectStore:       envOr("OBJECT_STORE", "fs"),
		ObjectStoreBucket: os.Getenv("OBJECT_STORE_BUCKET"),
		ObjectStorePath:   envOr("OBJECT_STORE_PATH", "data/objects"),
		DropzonePath:      envOr("DROPZONE_PATH", "data/dropzone"),
		AckPath:           os.Getenv("DROPZONE_ACK_PATH"),
		SMTPAddr:          envOr("SMTP_ADDR", ":2525"),
		SMTPDomain:        envOr("SMTP_DOMAIN", "orders.example.com"),
		LLMAPIKey:         os.Getenv("LLM_API_KEY"),
		LLMBaseURL:        envOr("LLM_BASE_URL", "https://api.openai.com/v1"),
		LLMModel:          envOr("LLM_MODEL", "gpt-4o-mini"),
		EmbeddingModel:    envOr("EMBEDDING_MODEL", "text-embedding-3-small"),
		EmbeddingDim:      1536,
		EmbeddingDSN:      os.Getenv("EMBEDDING_DSN"),
		RedisAddr:         os.Getenv("REDIS_ADDR"),
		ProfilesDir:       envOr("PROFILES_DIR", "profiles"),
		OTLPEndpoint:      os.Getenv("OTLP_ENDPOINT"),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
