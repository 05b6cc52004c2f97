package config

import (
	"context"
	"encoding/json"
	"time"
)

// Config represents the complete configuration for the ragpipe system.
// It provides type-safe access to all configuration values with validation.
type Config struct {
	Ollama     OllamaConfig     `koanf:"ollama"`
	Embedding  EmbeddingConfig  `koanf:"embedding"`
	Vector     VectorConfig     `koanf:"vector"`
	Chunking   ChunkingConfig   `koanf:"chunking"`
	Retrieval  RetrievalConfig  `koanf:"retrieval"`
	Ingest     IngestConfig     `koanf:"ingest"`
	Uploads    UploadsConfig    `koanf:"uploads"`
	Redis      RedisConfig      `koanf:"redis"`
	OpenAI     OpenAIConfig     `koanf:"openai"`
	Server     ServerConfig     `koanf:"server"`
	Monitoring MonitoringConfig `koanf:"monitoring"`
	Log        LogConfig        `koanf:"log"`
}

// OllamaConfig contains the Ollama endpoint used for generation and primary embeddings.
type OllamaConfig struct {
	Host    string        `koanf:"host"    validate:"required,url" env:"OLLAMA_HOST"`
	Model   string        `koanf:"model"   validate:"required"     env:"OLLAMA_MODEL"`
	Timeout time.Duration `koanf:"timeout" validate:"min=0"        env:"OLLAMA_TIMEOUT"`
}

// EmbeddingConfig selects the primary and fallback embedding backends.
type EmbeddingConfig struct {
	Provider           string        `koanf:"provider"              validate:"oneof=ollama openai local"      env:"EMBEDDING_PROVIDER"`
	Model              string        `koanf:"model"                 validate:"required"                       env:"EMBEDDING_MODEL"`
	Dimension          int           `koanf:"dimension"             validate:"min=1"                          env:"EMBEDDING_DIMENSION"`
	BatchSize          int           `koanf:"batch_size"            validate:"min=1"                          env:"EMBEDDING_BATCH_SIZE"`
	Concurrency        int           `koanf:"concurrency"           validate:"min=1"                          env:"EMBEDDING_CONCURRENCY"`
	FallbackProvider   string        `koanf:"fallback_provider"     validate:"oneof=none ollama openai local" env:"EMBEDDING_FALLBACK_PROVIDER"`
	FallbackModel      string        `koanf:"fallback_model"                                                  env:"EMBEDDING_FALLBACK_MODEL"`
	FallbackOnAnyError bool          `koanf:"fallback_on_any_error"                                           env:"EMBEDDING_FALLBACK_ON_ANY_ERROR"`
	ModelsDir          string        `koanf:"models_dir"                                                      env:"EMBEDDING_MODELS_DIR"`
	CacheSize          int           `koanf:"cache_size"            validate:"min=0"                          env:"EMBEDDING_CACHE_SIZE"`
	Timeout            time.Duration `koanf:"timeout"               validate:"min=0"                          env:"EMBEDDING_TIMEOUT"`
}

// VectorConfig describes the vector engine holding indexed chunks.
type VectorConfig struct {
	Provider         string          `koanf:"provider"          validate:"oneof=memory filesystem sqlite pgvector qdrant redis" env:"VECTOR_PROVIDER"`
	PersistDirectory string          `koanf:"persist_directory"                                                          env:"CHROMA_PERSIST_DIRECTORY"`
	Collection       string          `koanf:"collection"        validate:"required,collection_name"                      env:"CHROMA_COLLECTION_NAME"`
	DSN              SensitiveString `koanf:"dsn"                                                                        env:"VECTOR_DSN"               sensitive:"true"`
	APIKey           SensitiveString `koanf:"api_key"                                                                    env:"VECTOR_API_KEY"           sensitive:"true"`
	EnsureIndex      bool            `koanf:"ensure_index"                                                               env:"VECTOR_ENSURE_INDEX"`
	MaxTopK          int             `koanf:"max_top_k"         validate:"min=0"                                         env:"VECTOR_MAX_TOP_K"`
	Timeout          time.Duration   `koanf:"timeout"           validate:"min=0"                                         env:"VECTOR_TIMEOUT"`
}

// ChunkingConfig controls token window sizes.
type ChunkingConfig struct {
	Size            int `koanf:"size"               validate:"min=1" env:"CHUNK_SIZE"`
	Overlap         int `koanf:"overlap"            validate:"min=0" env:"CHUNK_OVERLAP"`
	MaxChunksPerDoc int `koanf:"max_chunks_per_doc" validate:"min=0" env:"MAX_CHUNKS_PER_DOC"`
}

// DefaultPromptTemplate wraps retrieved context around the user's question.
const DefaultPromptTemplate = "Context: {{ .Context }}\n\nQuestion: {{ .Question }}\n\nAnswer:"

// RetrievalConfig controls query-time ranking and answer generation.
// PromptTemplate renders the answer prompt from .Context and .Question;
// ContextMaxTokens and CacheSize disable their feature at zero.
type RetrievalConfig struct {
	TopK                int           `koanf:"top_k"                validate:"min=1"       env:"TOP_K_RESULTS"`
	SimilarityThreshold float64       `koanf:"similarity_threshold" validate:"min=0,max=1" env:"SIMILARITY_THRESHOLD"`
	Temperature         float64       `koanf:"temperature"          validate:"min=0,max=2" env:"LLM_TEMPERATURE"`
	MaxTokens           int           `koanf:"max_tokens"           validate:"min=0"       env:"LLM_MAX_TOKENS"`
	PromptTemplate      string        `koanf:"prompt_template"      validate:"required"    env:"LLM_PROMPT_TEMPLATE"`
	ContextMaxTokens    int           `koanf:"context_max_tokens"   validate:"min=0"       env:"RETRIEVAL_CONTEXT_MAX_TOKENS"`
	CacheSize           int           `koanf:"cache_size"           validate:"min=0"       env:"RETRIEVAL_CACHE_SIZE"`
	CacheTTL            time.Duration `koanf:"cache_ttl"            validate:"min=0"       env:"RETRIEVAL_CACHE_TTL"`
}

// IngestConfig controls batch ingestion.
type IngestConfig struct {
	Concurrency    int           `koanf:"concurrency"     validate:"min=1"     env:"INGEST_CONCURRENCY"`
	RetryAttempts  int           `koanf:"retry_attempts"  validate:"min=0"     env:"INGEST_RETRY_ATTEMPTS"`
	RetryBackoff   time.Duration `koanf:"retry_backoff"   validate:"min=0"     env:"INGEST_RETRY_BACKOFF"`
	WatchDebounce  time.Duration `koanf:"watch_debounce"  validate:"min=0"     env:"INGEST_WATCH_DEBOUNCE"`
	RescanSchedule string        `koanf:"rescan_schedule" validate:"cron_spec" env:"INGEST_RESCAN_SCHEDULE"`
}

// UploadsConfig controls where uploaded documents are stored.
type UploadsConfig struct {
	Directory   string `koanf:"directory"     validate:"required" env:"UPLOAD_DIRECTORY"`
	MaxFileSize int64  `koanf:"max_file_size" validate:"min=1"    env:"MAX_FILE_SIZE"`
}

// RedisConfig enables cross-process ingestion locks when URL is set.
type RedisConfig struct {
	URL        SensitiveString `koanf:"url"         env:"REDIS_URL"         sensitive:"true"`
	LockTTL    time.Duration   `koanf:"lock_ttl"    env:"REDIS_LOCK_TTL"    validate:"min=0"`
	LockPrefix string          `koanf:"lock_prefix" env:"REDIS_LOCK_PREFIX"`
}

// OpenAIConfig contains OpenAI API configuration.
type OpenAIConfig struct {
	APIKey  SensitiveString `koanf:"api_key"  env:"OPENAI_API_KEY"  sensitive:"true"`
	BaseURL string          `koanf:"base_url" env:"OPENAI_BASE_URL"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Host      string          `koanf:"host"       validate:"required"        env:"SERVER_HOST"`
	Port      int             `koanf:"port"       validate:"min=1,max=65535" env:"SERVER_PORT"`
	Timeout   time.Duration   `koanf:"timeout"                               env:"SERVER_TIMEOUT"`
	CORS      CORSConfig      `koanf:"cors"`
	RateLimit RateLimitConfig `koanf:"rate_limit"`
}

// CORSConfig lists the origins allowed to call the API from a browser.
type CORSConfig struct {
	AllowedOrigins   []string `koanf:"allowed_origins"   env:"SERVER_CORS_ALLOWED_ORIGINS"`
	AllowCredentials bool     `koanf:"allow_credentials" env:"SERVER_CORS_ALLOW_CREDENTIALS"`
	MaxAge           int      `koanf:"max_age"           env:"SERVER_CORS_MAX_AGE"           validate:"min=0"`
}

// RateLimitConfig bounds requests per client IP. Counters live in redis when
// a redis URL is configured.
type RateLimitConfig struct {
	Enabled     bool          `koanf:"enabled"      env:"SERVER_RATE_LIMIT_ENABLED"`
	Limit       int64         `koanf:"limit"        env:"SERVER_RATE_LIMIT"        validate:"min=0"`
	Period      time.Duration `koanf:"period"       env:"SERVER_RATE_LIMIT_PERIOD" validate:"min=0"`
	AskLimit    int64         `koanf:"ask_limit"    env:"SERVER_RATE_LIMIT_ASK"    validate:"min=0"`
	UploadLimit int64         `koanf:"upload_limit" env:"SERVER_RATE_LIMIT_UPLOAD" validate:"min=0"`
}

// MonitoringConfig toggles the Prometheus endpoint.
type MonitoringConfig struct {
	Enabled bool   `koanf:"enabled" env:"MONITORING_ENABLED"`
	Path    string `koanf:"path"    env:"MONITORING_PATH"    validate:"startswith=/"`
}

type LogConfig struct {
	Level  string `koanf:"level"  validate:"log_level" env:"LOG_LEVEL"`
	File   string `koanf:"file"                        env:"LOG_FILE"`
	JSON   bool   `koanf:"json"                        env:"LOG_JSON"`
	Source bool   `koanf:"source"                      env:"LOG_SOURCE"`
}

// Service defines the configuration management service interface.
type Service interface {
	// Load loads configuration from the specified sources with precedence order.
	Load(ctx context.Context, sources ...Source) (*Config, error)
	// Validate checks if the configuration meets all validation requirements.
	Validate(config *Config) error
	// GetSource returns the source type that provided a configuration key.
	GetSource(key string) SourceType
}

// Source defines the interface for configuration sources.
type Source interface {
	Load() (map[string]any, error)
	Type() SourceType
	Close() error
}

// SourceType identifies the type of configuration source.
type SourceType string

const (
	SourceCLI     SourceType = "cli"
	SourceYAML    SourceType = "yaml"
	SourceEnv     SourceType = "env"
	SourceDefault SourceType = "default"
)

// Metadata contains metadata about configuration sources.
type Metadata struct {
	Sources  map[string]SourceType `json:"sources"`
	LoadedAt time.Time             `json:"loaded_at"`
}

// Default returns a Config with the defaults of a local single-node deployment.
func Default() *Config {
	return &Config{
		Ollama: OllamaConfig{
			Host:    "http://localhost:11434",
			Model:   "llama2:7b",
			Timeout: 120 * time.Second,
		},
		Embedding: EmbeddingConfig{
			Provider:         "ollama",
			Model:            "nomic-embed-text",
			Dimension:        768,
			BatchSize:        32,
			Concurrency:      1,
			FallbackProvider: "local",
			FallbackModel:    "sentence-transformers/all-MiniLM-L6-v2",
			ModelsDir:        "./data/models",
			CacheSize:        1024,
			Timeout:          60 * time.Second,
		},
		Vector: VectorConfig{
			Provider:         "filesystem",
			PersistDirectory: "./data/chroma_db",
			Collection:       "rag_documents",
			Timeout:          30 * time.Second,
		},
		Chunking: ChunkingConfig{
			Size:            1000,
			Overlap:         200,
			MaxChunksPerDoc: 1000,
		},
		Retrieval: RetrievalConfig{
			TopK:                5,
			SimilarityThreshold: 0.7,
			Temperature:         0.7,
			MaxTokens:           1000,
			PromptTemplate:      DefaultPromptTemplate,
			CacheSize:           1000,
			CacheTTL:            5 * time.Minute,
		},
		Ingest: IngestConfig{
			Concurrency:   2,
			RetryAttempts: 3,
			RetryBackoff:  200 * time.Millisecond,
			WatchDebounce: 500 * time.Millisecond,
		},
		Uploads: UploadsConfig{
			Directory:   "./data/documents",
			MaxFileSize: 50 * 1024 * 1024,
		},
		Redis: RedisConfig{
			LockTTL:    5 * time.Minute,
			LockPrefix: "ragpipe:ingest:",
		},
		Server: ServerConfig{
			Host:    "0.0.0.0",
			Port:    8080,
			Timeout: 60 * time.Second,
			CORS:    CORSConfig{MaxAge: 86400},
			RateLimit: RateLimitConfig{
				Enabled:     true,
				Limit:       120,
				Period:      time.Minute,
				AskLimit:    30,
				UploadLimit: 20,
			},
		},
		Monitoring: MonitoringConfig{
			Enabled: false,
			Path:    "/metrics",
		},
		Log: LogConfig{
			Level: "INFO",
			File:  "./logs/app.log",
		},
	}
}

// SensitiveString holds a secret that must never be printed or serialized in clear text.
type SensitiveString string

const redacted = "[REDACTED]"

// String redacts non-empty values.
func (s SensitiveString) String() string {
	if s == "" {
		return ""
	}
	return redacted
}

// Value returns the underlying secret.
func (s SensitiveString) Value() string {
	return string(s)
}

// MarshalJSON always emits the redacted form.
func (s SensitiveString) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// MarshalText always emits the redacted form.
func (s SensitiveString) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
