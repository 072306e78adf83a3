package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	APIPort  string
	LogLevel string

	CorpusRoot       string
	AccessPolicyPath string

	PostgresDSN string

	NATSURL            string
	NATSReindexSubject string
	NATSIndexedSubject string

	LLMEnabled       bool
	OllamaURL        string
	OllamaGenModel   string
	OllamaEmbedModel string

	QdrantURL        string
	QdrantCollection string

	ChunkSize       int
	ChunkOverlap    int
	EmbedBatchSize  int
	RAGTopK         int
	CacheMaxEntries int

	RerankerEnabled bool
	RerankerTopN    int
	RerankerMode    string

	SQLEnabled  bool
	SQLRowLimit int
	SQLMaxRows  int

	APIRateLimitRPS       float64
	APIRateLimitBurst     int
	APIMaxInFlight        int
	APIBackpressureWaitMS int
	APIRequestTimeout     time.Duration

	ResilienceRetryMaxAttempts    int
	ResilienceRetryInitialBackoff time.Duration
	ResilienceRetryMaxBackoff     time.Duration
	ResilienceBreakerEnabled      bool
	ResilienceBreakerOpenTimeout  time.Duration

	WorkerMetricsPort   string
	CorpusWatchEnabled  bool
	CorpusWatchDebounce time.Duration

	MCPRole string
}

func Load() Config {
	return Config{
		APIPort:  mustEnv("API_PORT", "8080"),
		LogLevel: mustEnv("LOG_LEVEL", "info"),

		CorpusRoot:       mustEnv("CORPUS_ROOT", "./data"),
		AccessPolicyPath: mustEnv("ACCESS_POLICY_PATH", "./configs/access_policy.yaml"),

		PostgresDSN: strings.TrimSpace(os.Getenv("POSTGRES_DSN")),

		NATSURL:            mustEnv("NATS_URL", "nats://localhost:4222"),
		NATSReindexSubject: mustEnv("NATS_REINDEX_SUBJECT", "corpus.reindex"),
		NATSIndexedSubject: mustEnv("NATS_INDEXED_SUBJECT", "corpus.indexed"),

		LLMEnabled:       mustEnvBool("LLM_ENABLED", true),
		OllamaURL:        mustEnv("OLLAMA_URL", "http://localhost:11434"),
		OllamaGenModel:   mustEnv("OLLAMA_GEN_MODEL", "llama3.1:8b"),
		OllamaEmbedModel: mustEnv("OLLAMA_EMBED_MODEL", "nomic-embed-text"),

		QdrantURL:        mustEnv("QDRANT_URL", "http://localhost:6333"),
		QdrantCollection: mustEnv("QDRANT_COLLECTION", "company_docs"),

		ChunkSize:       mustEnvInt("CHUNK_SIZE", 800),
		ChunkOverlap:    mustEnvInt("CHUNK_OVERLAP", 150),
		EmbedBatchSize:  mustEnvInt("EMBED_BATCH_SIZE", 32),
		RAGTopK:         mustEnvInt("RAG_TOP_K", 4),
		CacheMaxEntries: mustEnvInt("CACHE_MAX_ENTRIES", 128),

		RerankerEnabled: mustEnvBool("RERANKER_ENABLED", true),
		RerankerTopN:    mustEnvInt("RERANKER_TOP_N", 4),
		RerankerMode:    strings.ToLower(mustEnv("RERANKER_MODE", "lexical")),

		SQLEnabled:  mustEnvBool("SQL_ENABLED", true),
		SQLRowLimit: mustEnvInt("SQL_ROW_LIMIT", 50),
		SQLMaxRows:  mustEnvInt("SQL_MAX_ROWS", 1000),

		APIRateLimitRPS:       mustEnvFloat("API_RATE_LIMIT_RPS", 0),
		APIRateLimitBurst:     mustEnvInt("API_RATE_LIMIT_BURST", 20),
		APIMaxInFlight:        mustEnvInt("API_MAX_IN_FLIGHT", 0),
		APIBackpressureWaitMS: mustEnvInt("API_BACKPRESSURE_WAIT_MS", 250),
		APIRequestTimeout:     mustEnvDuration("API_REQUEST_TIMEOUT", 60*time.Second),

		ResilienceRetryMaxAttempts:    mustEnvInt("RESILIENCE_RETRY_MAX_ATTEMPTS", 3),
		ResilienceRetryInitialBackoff: mustEnvDuration("RESILIENCE_RETRY_INITIAL_BACKOFF", 100*time.Millisecond),
		ResilienceRetryMaxBackoff:     mustEnvDuration("RESILIENCE_RETRY_MAX_BACKOFF", 400*time.Millisecond),
		ResilienceBreakerEnabled:      mustEnvBool("RESILIENCE_BREAKER_ENABLED", true),
		ResilienceBreakerOpenTimeout:  mustEnvDuration("RESILIENCE_BREAKER_OPEN_TIMEOUT", 30*time.Second),

		WorkerMetricsPort:   mustEnv("WORKER_METRICS_PORT", "9090"),
		CorpusWatchEnabled:  mustEnvBool("CORPUS_WATCH_ENABLED", true),
		CorpusWatchDebounce: mustEnvDuration("CORPUS_WATCH_DEBOUNCE", 2*time.Second),

		MCPRole: mustEnv("MCP_ROLE", "employee"),
	}
}

func mustEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func mustEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func mustEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func mustEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return parsed
}

func mustEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
