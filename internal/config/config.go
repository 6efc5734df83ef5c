package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Load reads the .env file specified by MNEMO_ENV (or .env by default),
// then loads the corresponding .secret file if it exists.
// All config is flat env vars read via os.Getenv after loading.
func Load() error {
	envFile := os.Getenv("MNEMO_ENV")
	if envFile == "" {
		envFile = ".env"
	}

	_ = godotenv.Load(envFile)
	_ = godotenv.Load(envFile + ".secret")

	return nil
}

func intEnv(key string, def int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return def
	}
	return v
}

func floatEnv(key string, def float64) float64 {
	v, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil {
		return def
	}
	return v
}

func durationEnv(key string, def time.Duration) time.Duration {
	v, err := time.ParseDuration(os.Getenv(key))
	if err != nil {
		return def
	}
	return v
}

func ServerPort() int {
	return intEnv("SERVER_PORT", 8080)
}

func ServerAddr() string {
	return fmt.Sprintf(":%d", ServerPort())
}

// RedisAddr is the hot tier backend address.
func RedisAddr() string {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		return "localhost:6379"
	}
	return addr
}

// DatabaseURL is the warm tier postgres DSN.
func DatabaseURL() string {
	return os.Getenv("DATABASE_URL")
}

// ColdDBPath is the cold tier sqlite file.
func ColdDBPath() string {
	p := os.Getenv("COLD_DB_PATH")
	if p == "" {
		return "data/cold.db"
	}
	return p
}

// OverflowLogPath is the durable ndjson log for writes that failed all tiers.
func OverflowLogPath() string {
	p := os.Getenv("OVERFLOW_LOG_PATH")
	if p == "" {
		return "data/overflow.ndjson"
	}
	return p
}

// EmbeddingDim is the fixed embedding dimension for this deployment.
func EmbeddingDim() int {
	return intEnv("EMBEDDING_DIM", 1536)
}

func EmbeddingProvider() string {
	p := os.Getenv("EMBEDDING_PROVIDER")
	if p == "" {
		return "mock"
	}
	return p
}

func OpenAIAPIKey() string {
	return os.Getenv("OPENAI_API_KEY")
}

// MaintenanceInterval is the orchestrator cycle period.
func MaintenanceInterval() time.Duration {
	return durationEnv("MAINTENANCE_INTERVAL", time.Hour)
}

// SearchDeadline bounds search fan-out when the caller supplies none.
func SearchDeadline() time.Duration {
	return durationEnv("SEARCH_DEADLINE", 800*time.Millisecond)
}

// HotTTL is the base residency window for hot records.
func HotTTL() time.Duration {
	return durationEnv("HOT_TTL", 6*time.Hour)
}

// HotTTLExtension is added per access, up to HotTTLMax.
func HotTTLExtension() time.Duration {
	return durationEnv("HOT_TTL_EXTENSION", 3*time.Hour)
}

func HotTTLMax() time.Duration {
	return durationEnv("HOT_TTL_MAX", 24*time.Hour)
}

// ConsolidationRecordThreshold triggers consolidation when total records
// exceed it.
func ConsolidationRecordThreshold() int {
	return intEnv("CONSOLIDATION_RECORD_THRESHOLD", 10000)
}

// ConsolidationMaxCandidates caps the warm sample per consolidation pass.
func ConsolidationMaxCandidates() int {
	return intEnv("CONSOLIDATION_MAX_CANDIDATES", 5000)
}

// StorageByteBudget is the hot+warm byte budget; consolidation triggers at
// 80% utilization.
func StorageByteBudget() int64 {
	v, err := strconv.ParseInt(os.Getenv("STORAGE_BYTE_BUDGET"), 10, 64)
	if err != nil || v <= 0 {
		return 512 * 1024 * 1024
	}
	return v
}

// TombstoneGrace is how long expired records stay retrievable by id.
func TombstoneGrace() time.Duration {
	return durationEnv("TOMBSTONE_GRACE", 7*24*time.Hour)
}

// DecayBatchSize bounds records per decay tick.
func DecayBatchSize() int {
	return intEnv("DECAY_BATCH_SIZE", 1000)
}

// PhaseBudget bounds each maintenance phase per cycle.
func PhaseBudget() time.Duration {
	return durationEnv("PHASE_BUDGET", 2*time.Minute)
}

// EmbedCacheBytes bounds the shared embedding LRU cache.
func EmbedCacheBytes() int64 {
	v, err := strconv.ParseInt(os.Getenv("EMBED_CACHE_BYTES"), 10, 64)
	if err != nil || v <= 0 {
		return 10 * 1024 * 1024
	}
	return v
}

// RateLimitRPS returns requests per second limit.
func RateLimitRPS() float64 {
	rps := floatEnv("RATE_LIMIT_RPS", 100)
	if rps <= 0 {
		return 100
	}
	return rps
}

// RateLimitBurst returns the burst size for rate limiting.
func RateLimitBurst() int {
	burst := intEnv("RATE_LIMIT_BURST", 20)
	if burst <= 0 {
		return 20
	}
	return burst
}

// LogLevel returns the log level (debug, info, warn, error).
func LogLevel() string {
	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		return "info"
	}
	return level
}
