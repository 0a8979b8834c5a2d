package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Port string `yaml:"port"`

	// Retrieval service connection
	RetrievalURL    string `yaml:"retrieval_url"`
	RetrievalAPIKey string `yaml:"retrieval_api_key"`

	// Auth
	ServiceAPIKey string `yaml:"service_api_key"`

	// Reasoning service
	AnthropicAPIKey string  `yaml:"anthropic_api_key"`
	AnthropicModel  string  `yaml:"anthropic_model"`
	ReasoningRPS    float64 `yaml:"reasoning_rps"`

	// Worker pool
	WorkerCount  int `yaml:"worker_count"`
	MaxQueueSize int `yaml:"max_queue_size"`

	// Fan-out bounds
	MaxChunkConcurrency int `yaml:"max_chunk_concurrency"`
	MaxQueryConcurrency int `yaml:"max_query_concurrency"`

	// Upload limits
	MaxUploadBytes int64 `yaml:"max_upload_bytes"`

	// Chunking defaults (characters)
	DefaultChunkSize    int `yaml:"default_chunk_size"`
	DefaultChunkOverlap int `yaml:"default_chunk_overlap"`

	// Job state
	JobTTL     time.Duration `yaml:"job_ttl"`
	JobTimeout time.Duration `yaml:"job_timeout"`

	// Blob storage
	BlobDir string `yaml:"blob_dir"`

	// PDF
	PDFFallbackPdftotext bool `yaml:"pdf_fallback_pdftotext"`
}

func Load() Config {
	cfg := Config{
		Port: envOr("PORT", "8091"),

		RetrievalURL:    envOr("RETRIEVAL_URL", "http://localhost:8080"),
		RetrievalAPIKey: os.Getenv("RETRIEVAL_API_KEY"),

		ServiceAPIKey: os.Getenv("REDLINE_API_KEY"),

		AnthropicAPIKey: os.Getenv("ANTHROPIC_API_KEY"),
		AnthropicModel:  envOr("ANTHROPIC_MODEL", "claude-sonnet-4-5-20250929"),
		ReasoningRPS:    envFloat("REASONING_RPS", 2),

		WorkerCount:  envInt("WORKER_COUNT", 4),
		MaxQueueSize: envInt("MAX_QUEUE_SIZE", 100),

		MaxChunkConcurrency: envInt("MAX_CHUNK_CONCURRENCY", 10),
		MaxQueryConcurrency: envInt("MAX_QUERY_CONCURRENCY", 20),

		MaxUploadBytes: envInt64("MAX_UPLOAD_BYTES", 52428800), // 50MB

		DefaultChunkSize:    envInt("DEFAULT_CHUNK_SIZE", 100000),
		DefaultChunkOverlap: envInt("DEFAULT_CHUNK_OVERLAP", 5000),

		JobTTL:     envDuration("JOB_TTL", 24*time.Hour),
		JobTimeout: envDuration("JOB_TIMEOUT", 2*time.Hour),

		BlobDir: envOr("BLOB_DIR", "data/blobs"),

		PDFFallbackPdftotext: envBool("PDF_FALLBACK_PDFTOTEXT", true),
	}
	cfg.applyFloors()
	return cfg
}

// LoadFile overlays values from a YAML config file onto the env-derived
// config. File values win over env values; zero values in the file are
// ignored.
func LoadFile(path string) (Config, error) {
	cfg := Load()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config file: %w", err)
	}
	var file Config
	if err := yaml.Unmarshal(data, &file); err != nil {
		return cfg, fmt.Errorf("parse config file: %w", err)
	}
	cfg.overlay(file)
	cfg.applyFloors()
	return cfg, nil
}

func (c *Config) overlay(f Config) {
	if f.Port != "" {
		c.Port = f.Port
	}
	if f.RetrievalURL != "" {
		c.RetrievalURL = f.RetrievalURL
	}
	if f.RetrievalAPIKey != "" {
		c.RetrievalAPIKey = f.RetrievalAPIKey
	}
	if f.ServiceAPIKey != "" {
		c.ServiceAPIKey = f.ServiceAPIKey
	}
	if f.AnthropicAPIKey != "" {
		c.AnthropicAPIKey = f.AnthropicAPIKey
	}
	if f.AnthropicModel != "" {
		c.AnthropicModel = f.AnthropicModel
	}
	if f.ReasoningRPS > 0 {
		c.ReasoningRPS = f.ReasoningRPS
	}
	if f.WorkerCount > 0 {
		c.WorkerCount = f.WorkerCount
	}
	if f.MaxQueueSize > 0 {
		c.MaxQueueSize = f.MaxQueueSize
	}
	if f.MaxChunkConcurrency > 0 {
		c.MaxChunkConcurrency = f.MaxChunkConcurrency
	}
	if f.MaxQueryConcurrency > 0 {
		c.MaxQueryConcurrency = f.MaxQueryConcurrency
	}
	if f.MaxUploadBytes > 0 {
		c.MaxUploadBytes = f.MaxUploadBytes
	}
	if f.DefaultChunkSize > 0 {
		c.DefaultChunkSize = f.DefaultChunkSize
	}
	if f.DefaultChunkOverlap > 0 {
		c.DefaultChunkOverlap = f.DefaultChunkOverlap
	}
	if f.JobTTL > 0 {
		c.JobTTL = f.JobTTL
	}
	if f.JobTimeout > 0 {
		c.JobTimeout = f.JobTimeout
	}
	if f.BlobDir != "" {
		c.BlobDir = f.BlobDir
	}
}

func (c *Config) applyFloors() {
	if c.WorkerCount <= 0 {
		c.WorkerCount = 4
	}
	if c.MaxQueueSize <= 0 {
		c.MaxQueueSize = 100
	}
	if c.MaxChunkConcurrency <= 0 {
		c.MaxChunkConcurrency = 10
	}
	if c.MaxQueryConcurrency <= 0 {
		c.MaxQueryConcurrency = 20
	}
	if c.MaxUploadBytes <= 0 {
		c.MaxUploadBytes = 52428800
	}
	if c.DefaultChunkSize <= 0 {
		c.DefaultChunkSize = 100000
	}
	if c.DefaultChunkOverlap < 0 {
		c.DefaultChunkOverlap = 5000
	}
	if c.ReasoningRPS <= 0 {
		c.ReasoningRPS = 2
	}
	if c.JobTTL <= 0 {
		c.JobTTL = 24 * time.Hour
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = 2 * time.Hour
	}
	if c.BlobDir == "" {
		c.BlobDir = "data/blobs"
	}
}

func (c Config) Validate() error {
	if c.RetrievalAPIKey == "" {
		return fmt.Errorf("RETRIEVAL_API_KEY is required")
	}
	if c.ServiceAPIKey == "" {
		return fmt.Errorf("REDLINE_API_KEY is required")
	}
	if c.AnthropicAPIKey == "" {
		return fmt.Errorf("ANTHROPIC_API_KEY is required")
	}
	if c.DefaultChunkOverlap >= c.DefaultChunkSize {
		return fmt.Errorf("DEFAULT_CHUNK_OVERLAP (%d) must be smaller than DEFAULT_CHUNK_SIZE (%d)",
			c.DefaultChunkOverlap, c.DefaultChunkSize)
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
