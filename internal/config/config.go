package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

var ErrMissingRequired = errors.New("missing required configuration")

var ErrInvalidValue = errors.New("invalid configuration value")

const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
)

type Config struct {
	DBHost string `envconfig:"DB_HOST" default:"postgres"`
	DBPort int    `envconfig:"DB_PORT" default:"5432"`
	DBUser string `envconfig:"DB_USER" default:"recall"`
	DBPass string `envconfig:"DB_PASS" default:"password"`
	DBName string `envconfig:"DB_NAME" default:"recall"`

	WeaviateHost   string `envconfig:"WEAVIATE_HOST" default:"localhost:8080"`
	WeaviateScheme string `envconfig:"WEAVIATE_SCHEME" default:"http"`

	NSQLookupd string `envconfig:"NSQ_LOOKUPD" default:"nsqlookupd:4161"`
	NSQDHost   string `envconfig:"NSQD_HOST" default:"nsqd:4150"`
	NSQDHTTP   string `envconfig:"NSQD_HTTP" default:"nsqd:4151"`

	EnableAPI        bool   `envconfig:"ENABLE_API" default:"true"`
	EnableStepWorker bool   `envconfig:"ENABLE_STEP_WORKER" default:"true"`
	MigrationPath    string `envconfig:"MIGRATION_PATH" default:"file://migrations"`

	// Server
	ServerPort   int    `envconfig:"SERVER_PORT" default:"8081"`
	QueryLogPath string `envconfig:"QUERY_LOG_PATH" default:"data/logs/query.log"`
	LogLevel     string `envconfig:"LOG_LEVEL" default:"info"`
	LogFile      string `envconfig:"LOG_FILE"`

	// Queue
	StaleTaskSeconds   int    `envconfig:"STALE_TASK_SECONDS" default:"180"`
	MaxTaskAttempts    int    `envconfig:"MAX_TASK_ATTEMPTS" default:"3"`
	TaskTimeoutSeconds int    `envconfig:"TASK_TIMEOUT_SECONDS" default:"150"`
	FanoutWidth        int    `envconfig:"FANOUT_WIDTH" default:"3"`
	SweepSchedule      string `envconfig:"SWEEP_SCHEDULE" default:"@every 1m"`

	// Sources
	EmailPageSize      int `envconfig:"EMAIL_PAGE_SIZE" default:"30"`
	CalendarPageSize   int `envconfig:"CALENDAR_PAGE_SIZE" default:"80"`
	CalendarFlushEvery int `envconfig:"CALENDAR_FLUSH_EVERY" default:"25"`
	ChunkMaxChars      int `envconfig:"CHUNK_MAX_CHARS" default:"1200"`
	ChunkOverlapChars  int `envconfig:"CHUNK_OVERLAP_CHARS" default:"200"`

	// Embeddings
	EmbeddingProvider    string `envconfig:"EMBEDDING_PROVIDER" default:"gemini"`
	EmbeddingModel       string `envconfig:"EMBEDDING_MODEL"`
	EmbeddingBatchSize   int    `envconfig:"EMBEDDING_BATCH_SIZE" default:"64"`
	EmbeddingMaxTokens   int    `envconfig:"EMBEDDING_MAX_TOKENS" default:"2048"`
	EmbeddingConcurrency int    `envconfig:"EMBEDDING_CONCURRENCY" default:"2"`
	GeminiAPIKey         string `envconfig:"GEMINI_API_KEY"`
	OpenAIAPIKey         string `envconfig:"OPENAI_API_KEY"`
	OllamaHost           string `envconfig:"OLLAMA_HOST" default:"http://localhost:11434"`

	// Retrieval
	SearchLimit      int     `envconfig:"SEARCH_LIMIT" default:"30"`
	MinSemanticScore float64 `envconfig:"MIN_SEMANTIC_SCORE" default:"0.28"`
	RRFK             float64 `envconfig:"RRF_K" default:"60"`
	DecayRate        float64 `envconfig:"DECAY_RATE" default:"0.003"`
	QueryTimeoutMS   int     `envconfig:"QUERY_TIMEOUT_MS" default:"8000"`

	// Resilience
	BootstrapRetryAttempts     int `envconfig:"BOOTSTRAP_RETRY_ATTEMPTS" default:"10"`
	BootstrapRetryDelaySeconds int `envconfig:"BOOTSTRAP_RETRY_DELAY_SECONDS" default:"2"`
}

func Load() (*Config, error) {
	// Env vars set in the shell win over .env files.
	_ = godotenv.Load(".env")

	cwd, _ := os.Getwd()
	rootEnv := filepath.Join(cwd, "../../.env")
	_ = godotenv.Load(rootEnv)

	var cfg Config
	err := envconfig.Process("", &cfg)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.DBHost == "" {
		return fmt.Errorf("%w: DB_HOST", ErrMissingRequired)
	}
	if c.DBUser == "" {
		return fmt.Errorf("%w: DB_USER", ErrMissingRequired)
	}
	if c.DBName == "" {
		return fmt.Errorf("%w: DB_NAME", ErrMissingRequired)
	}

	switch c.EmbeddingProvider {
	case ProviderGemini, ProviderOllama:
	case ProviderOpenAI:
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("%w: OPENAI_API_KEY", ErrMissingRequired)
		}
	default:
		return fmt.Errorf("%w: EMBEDDING_PROVIDER=%q", ErrInvalidValue, c.EmbeddingProvider)
	}

	positive := map[string]int{
		"MAX_TASK_ATTEMPTS":    c.MaxTaskAttempts,
		"STALE_TASK_SECONDS":   c.StaleTaskSeconds,
		"FANOUT_WIDTH":         c.FanoutWidth,
		"EMAIL_PAGE_SIZE":      c.EmailPageSize,
		"CALENDAR_PAGE_SIZE":   c.CalendarPageSize,
		"CALENDAR_FLUSH_EVERY": c.CalendarFlushEvery,
		"EMBEDDING_BATCH_SIZE": c.EmbeddingBatchSize,
		"CHUNK_MAX_CHARS":      c.ChunkMaxChars,
	}
	for name, v := range positive {
		if v <= 0 {
			return fmt.Errorf("%w: %s must be positive", ErrInvalidValue, name)
		}
	}
	if c.ChunkOverlapChars < 0 || c.ChunkOverlapChars >= c.ChunkMaxChars {
		return fmt.Errorf("%w: CHUNK_OVERLAP_CHARS must be in [0, CHUNK_MAX_CHARS)", ErrInvalidValue)
	}
	if c.MinSemanticScore < 0 || c.MinSemanticScore > 1 {
		return fmt.Errorf("%w: MIN_SEMANTIC_SCORE must be in [0, 1]", ErrInvalidValue)
	}
	return nil
}

func (c *Config) StaleAfter() time.Duration {
	return time.Duration(c.StaleTaskSeconds) * time.Second
}

func (c *Config) TaskTimeout() time.Duration {
	return time.Duration(c.TaskTimeoutSeconds) * time.Second
}

func (c *Config) QueryTimeout() time.Duration {
	return time.Duration(c.QueryTimeoutMS) * time.Millisecond
}
