package config

import (
	_ "embed"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed vocabulary.yaml
var vocabularyYAML []byte

type Config struct {
	Database   DatabaseConfig
	Media      MediaConfig
	Inference  InferenceConfig
	OpenAI     OpenAIConfig
	Gemini     GeminiConfig
	Ollama     OllamaConfig
	Pipeline   PipelineConfig
	Identity   IdentityConfig
	Search     SearchConfig
	NATS       NATSConfig
	Web        WebConfig
	Log        LogConfig
	Vocabulary VocabularyConfig
}

type DatabaseConfig struct {
	URL          string // PostgreSQL connection URL
	MaxOpenConns int    // Maximum open connections (default 5)
	MaxIdleConns int    // Maximum idle connections (default 2)
	EmbeddingDim int    // Dimension of item embeddings (default 512)
}

// MediaConfig describes where the backing files of media items live.
type MediaConfig struct {
	Backend string // "local" (default) or "minio"
	Root    string // root directory for the local backend
	MinIO   MinIOConfig
}

type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type InferenceConfig struct {
	URL     string        // defaults to http://localhost:8000
	Timeout time.Duration // per request, defaults to 60s
}

type OpenAIConfig struct {
	Token string
}

type GeminiConfig struct {
	APIKey string
}

// OllamaConfig points at a local Ollama server. Empty values use its defaults.
type OllamaConfig struct {
	URL   string
	Model string
}

type PipelineConfig struct {
	Tagger           string // "zeroshot" (default), "openai", "gemini" or "ollama"
	TagThreshold     float64
	TagTopK          int
	DetectConfidence float64
	TagBatchSize     int
	DetectBatchSize  int
	FaceBatchSize    int
	LLMRatePerMinute int
}

type IdentityConfig struct {
	Threshold float64
	Index     string // "linear" (default) or "hnsw"
}

type SearchConfig struct {
	TTL   time.Duration
	Floor float64
}

type NATSConfig struct {
	URL     string // empty disables event publishing
	Subject string
}

type WebConfig struct {
	Host           string
	Port           int
	AllowedOrigins string // comma-separated CORS origins
}

type LogConfig struct {
	Level  string
	Format string // "text" or "json"
}

// VocabularyConfig is the label set used by zero-shot and LLM taggers.
type VocabularyConfig struct {
	Groups map[string][]string `yaml:"groups"`
	Order  []string            `yaml:"order"`
}

// Labels returns every vocabulary label, groups in Order, duplicates removed.
func (v VocabularyConfig) Labels() []string {
	seen := make(map[string]bool)
	var labels []string
	for _, group := range v.Order {
		for _, label := range v.Groups[group] {
			label = strings.TrimSpace(strings.ToLower(label))
			if label == "" || seen[label] {
				continue
			}
			seen[label] = true
			labels = append(labels, label)
		}
	}
	return labels
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat reads a float in (0, 1]. Out-of-range or invalid values fall back to the default.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f > 0 && f <= 1 {
		return f
	}
	return defaultVal
}

// envDuration accepts Go duration strings ("90s") or a plain number of seconds.
func envDuration(key string, defaultVal time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return time.Duration(n) * time.Second
	}
	return defaultVal
}

func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

func Load() *Config {
	var vocabulary VocabularyConfig
	if err := yaml.Unmarshal(vocabularyYAML, &vocabulary); err != nil {
		// This is an embedded file so this error should never happen in practice
		panic("failed to unmarshal embedded vocabulary.yaml: " + err.Error())
	}

	return &Config{
		Database: DatabaseConfig{
			URL:          os.Getenv("DATABASE_URL"),
			MaxOpenConns: envInt("DB_MAX_OPEN_CONNS", 5),
			MaxIdleConns: envInt("DB_MAX_IDLE_CONNS", 2),
			EmbeddingDim: envInt("EMBEDDING_DIM", 512),
		},
		Media: MediaConfig{
			Backend: envString("MEDIA_BACKEND", "local"),
			Root:    os.Getenv("MEDIA_ROOT"),
			MinIO: MinIOConfig{
				Endpoint:  os.Getenv("MINIO_ENDPOINT"),
				AccessKey: os.Getenv("MINIO_ACCESS_KEY"),
				SecretKey: os.Getenv("MINIO_SECRET_KEY"),
				Bucket:    envString("MINIO_BUCKET", "photos"),
				UseSSL:    os.Getenv("MINIO_USE_SSL") == "true",
			},
		},
		Inference: InferenceConfig{
			URL:     envString("INFERENCE_URL", "http://localhost:8000"),
			Timeout: envDuration("INFERENCE_TIMEOUT", 60*time.Second),
		},
		OpenAI: OpenAIConfig{
			Token: os.Getenv("OPENAI_TOKEN"),
		},
		Gemini: GeminiConfig{
			APIKey: os.Getenv("GEMINI_API_KEY"),
		},
		Ollama: OllamaConfig{
			URL:   os.Getenv("OLLAMA_URL"),
			Model: os.Getenv("OLLAMA_MODEL"),
		},
		Pipeline: PipelineConfig{
			Tagger:           envString("TAGGER", "zeroshot"),
			TagThreshold:     envFloat("TAG_THRESHOLD", 0.20),
			TagTopK:          envInt("TAG_TOP_K", 10),
			DetectConfidence: envFloat("DETECT_CONFIDENCE", 0.40),
			TagBatchSize:     envInt("TAG_BATCH_SIZE", 20),
			DetectBatchSize:  envInt("DETECT_BATCH_SIZE", 20),
			FaceBatchSize:    envInt("FACE_BATCH_SIZE", 10),
			LLMRatePerMinute: envInt("LLM_RATE_PER_MINUTE", 30),
		},
		Identity: IdentityConfig{
			Threshold: envFloat("FACE_THRESHOLD", 0.45),
			Index:     envString("IDENTITY_INDEX", "linear"),
		},
		Search: SearchConfig{
			TTL:   envDuration("SEARCH_TTL", 600*time.Second),
			Floor: envFloat("SEARCH_FLOOR", 0.15),
		},
		NATS: NATSConfig{
			URL:     os.Getenv("NATS_URL"),
			Subject: envString("NATS_SUBJECT", "annotator"),
		},
		Web: WebConfig{
			Host:           os.Getenv("WEB_HOST"),
			Port:           envInt("WEB_PORT", 8085),
			AllowedOrigins: os.Getenv("WEB_ALLOWED_ORIGINS"),
		},
		Log: LogConfig{
			Level:  envString("LOG_LEVEL", "info"),
			Format: envString("LOG_FORMAT", "text"),
		},
		Vocabulary: vocabulary,
	}
}
