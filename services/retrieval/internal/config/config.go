package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config file location, relative to the working
// directory of the service binary.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port                   string  `yaml:"port"`
	LogLevel               string  `yaml:"logLevel"`
	DatabaseURL            string  `yaml:"databaseURL"`
	ServiceTokenSecret     string  `yaml:"serviceTokenSecret"`
	ServiceTokenIssuers    string  `yaml:"serviceTokenIssuers"`
	RedisAddr              string  `yaml:"redisAddr"`
	RedisPassword          string  `yaml:"redisPassword"`
	QueueName              string  `yaml:"queueName"`
	QueueGroup             string  `yaml:"queueGroup"`
	QueueConcurrency       int     `yaml:"queueConcurrency"`
	QueueMaxRetries        int     `yaml:"queueMaxRetries"`
	QueueRetryDelaySeconds int     `yaml:"queueRetryDelaySeconds"`
	StorageBackend         string  `yaml:"storageBackend"`
	StorageDir             string  `yaml:"storageDir"`
	MinioEndpoint          string  `yaml:"minioEndpoint"`
	MinioAccessKey         string  `yaml:"minioAccessKey"`
	MinioSecretKey         string  `yaml:"minioSecretKey"`
	MinioBucket            string  `yaml:"minioBucket"`
	MinioUseSSL            bool    `yaml:"minioUseSSL"`
	EmbeddingProvider      string  `yaml:"embeddingProvider"`
	EmbeddingBaseURL       string  `yaml:"embeddingBaseURL"`
	EmbeddingAPIKey        string  `yaml:"embeddingAPIKey"`
	EmbeddingModel         string  `yaml:"embeddingModel"`
	EmbeddingDim           int     `yaml:"embeddingDim"`
	EmbeddingMaxRetries    int     `yaml:"embeddingMaxRetries"`
	EmbeddingRetryMillis   int     `yaml:"embeddingRetryMillis"`
	EmbeddingConcurrency   int     `yaml:"embeddingConcurrency"`
	ChunkSize              int     `yaml:"chunkSize"`
	ChunkOverlap           int     `yaml:"chunkOverlap"`
	PrimaryThreshold       float64 `yaml:"primaryThreshold"`
	SecondaryThreshold     float64 `yaml:"secondaryThreshold"`
	MatchCount             int     `yaml:"matchCount"`
	HistoryPageSize        int     `yaml:"historyPageSize"`
}

// Load reads config from path (defaults to config.yaml).
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	// Override with environment variables
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("DOCCHAT_SERVICE_TOKEN_SECRET"); v != "" {
		cfg.ServiceTokenSecret = v
	}
	if v := os.Getenv("DOCCHAT_SERVICE_TOKEN_ISSUERS"); v != "" {
		cfg.ServiceTokenIssuers = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("RETRIEVAL_QUEUE_NAME"); v != "" {
		cfg.QueueName = v
	}
	if v := os.Getenv("RETRIEVAL_QUEUE_GROUP"); v != "" {
		cfg.QueueGroup = v
	}
	if v := os.Getenv("RETRIEVAL_QUEUE_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.QueueConcurrency = n
		}
	}
	if v := os.Getenv("RETRIEVAL_QUEUE_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.QueueMaxRetries = n
		}
	}
	if v := os.Getenv("RETRIEVAL_QUEUE_RETRY_DELAY_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.QueueRetryDelaySeconds = n
		}
	}
	if v := os.Getenv("RETRIEVAL_STORAGE_BACKEND"); v != "" {
		cfg.StorageBackend = v
	}
	if v := os.Getenv("RETRIEVAL_STORAGE_DIR"); v != "" {
		cfg.StorageDir = v
	}
	if v := os.Getenv("MINIO_ENDPOINT"); v != "" {
		cfg.MinioEndpoint = v
	}
	if v := os.Getenv("MINIO_ACCESS_KEY"); v != "" {
		cfg.MinioAccessKey = v
	}
	if v := os.Getenv("MINIO_SECRET_KEY"); v != "" {
		cfg.MinioSecretKey = v
	}
	if v := os.Getenv("MINIO_BUCKET"); v != "" {
		cfg.MinioBucket = v
	}
	if v := os.Getenv("MINIO_USE_SSL"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.MinioUseSSL = b
		}
	}
	if v := os.Getenv("EMBEDDING_PROVIDER"); v != "" {
		cfg.EmbeddingProvider = v
	}
	if v := os.Getenv("EMBEDDING_BASE_URL"); v != "" {
		cfg.EmbeddingBaseURL = v
	}
	if v := os.Getenv("EMBEDDING_API_KEY"); v != "" {
		cfg.EmbeddingAPIKey = v
	}
	if v := os.Getenv("EMBEDDING_MODEL"); v != "" {
		cfg.EmbeddingModel = v
	}
	if v := os.Getenv("EMBEDDING_DIM"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.EmbeddingDim = n
		}
	}
	if v := os.Getenv("EMBEDDING_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.EmbeddingMaxRetries = n
		}
	}
	if v := os.Getenv("EMBEDDING_RETRY_MILLIS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.EmbeddingRetryMillis = n
		}
	}
	if v := os.Getenv("EMBEDDING_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.EmbeddingConcurrency = n
		}
	}
	if v := os.Getenv("RETRIEVAL_CHUNK_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ChunkSize = n
		}
	}
	if v := os.Getenv("RETRIEVAL_CHUNK_OVERLAP"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ChunkOverlap = n
		}
	}
	if v := os.Getenv("RETRIEVAL_PRIMARY_THRESHOLD"); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.PrimaryThreshold = n
		}
	}
	if v := os.Getenv("RETRIEVAL_SECONDARY_THRESHOLD"); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.SecondaryThreshold = n
		}
	}
	if v := os.Getenv("RETRIEVAL_MATCH_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MatchCount = n
		}
	}
	if v := os.Getenv("RETRIEVAL_HISTORY_PAGE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.HistoryPageSize = n
		}
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Issuers splits the configured issuer allowlist.
func (c FileConfig) Issuers() []string {
	var out []string
	for _, issuer := range strings.Split(c.ServiceTokenIssuers, ",") {
		issuer = strings.TrimSpace(issuer)
		if issuer != "" {
			out = append(out, issuer)
		}
	}
	return out
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if cfg.DatabaseURL == "" {
		return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
	}
	if strings.TrimSpace(cfg.ServiceTokenSecret) == "" {
		return errors.New("config: serviceTokenSecret is required (set in config.yaml or DOCCHAT_SERVICE_TOKEN_SECRET)")
	}
	if len(cfg.Issuers()) == 0 {
		return errors.New("config: serviceTokenIssuers is required (set in config.yaml or DOCCHAT_SERVICE_TOKEN_ISSUERS)")
	}
	if cfg.RedisAddr == "" {
		return errors.New("config: redisAddr is required (set in config.yaml or REDIS_ADDR)")
	}
	switch cfg.StorageBackend {
	case "", "minio":
		if cfg.MinioEndpoint == "" || cfg.MinioBucket == "" {
			return errors.New("config: minioEndpoint and minioBucket are required for the minio storage backend")
		}
	case "file":
		if strings.TrimSpace(cfg.StorageDir) == "" {
			return errors.New("config: storageDir is required for the file storage backend")
		}
	default:
		return fmt.Errorf("config: unknown storageBackend %q (want minio or file)", cfg.StorageBackend)
	}
	switch cfg.EmbeddingProvider {
	case "ollama", "openai":
		if cfg.EmbeddingModel == "" {
			return errors.New("config: embeddingModel is required (set in config.yaml or EMBEDDING_MODEL)")
		}
	case "fallback":
	default:
		return fmt.Errorf("config: unknown embeddingProvider %q (want ollama, openai or fallback)", cfg.EmbeddingProvider)
	}
	if cfg.EmbeddingProvider == "openai" && cfg.EmbeddingAPIKey == "" {
		return errors.New("config: embeddingAPIKey is required for the openai provider (set in config.yaml or EMBEDDING_API_KEY)")
	}
	if cfg.EmbeddingDim <= 0 {
		return errors.New("config: embeddingDim must be > 0 (set in config.yaml or EMBEDDING_DIM)")
	}
	if cfg.EmbeddingMaxRetries < 0 {
		return errors.New("config: embeddingMaxRetries must be >= 0")
	}
	if cfg.EmbeddingConcurrency < 0 {
		return errors.New("config: embeddingConcurrency must be >= 0")
	}
	if cfg.ChunkSize <= 0 {
		return errors.New("config: chunkSize must be > 0 (set in config.yaml or RETRIEVAL_CHUNK_SIZE)")
	}
	if cfg.ChunkOverlap < 0 {
		return errors.New("config: chunkOverlap must be >= 0 (set in config.yaml or RETRIEVAL_CHUNK_OVERLAP)")
	}
	if cfg.ChunkOverlap >= cfg.ChunkSize {
		return errors.New("config: chunkOverlap must be smaller than chunkSize")
	}
	if cfg.PrimaryThreshold < 0 || cfg.PrimaryThreshold > 1 {
		return errors.New("config: primaryThreshold must be between 0 and 1")
	}
	if cfg.SecondaryThreshold < 0 || cfg.SecondaryThreshold > 1 {
		return errors.New("config: secondaryThreshold must be between 0 and 1")
	}
	if cfg.PrimaryThreshold < cfg.SecondaryThreshold {
		return errors.New("config: primaryThreshold must be >= secondaryThreshold")
	}
	if cfg.MatchCount < 0 {
		return errors.New("config: matchCount must be >= 0")
	}
	if cfg.HistoryPageSize < 0 {
		return errors.New("config: historyPageSize must be >= 0")
	}
	return nil
}
