// Package config provides configuration loading and structs for the tanya server.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug      bool             `yaml:"debug"`
	Server     ServerConfig     `yaml:"server"`
	Storage    StorageConfig    `yaml:"storage"`
	Ollama     OllamaConfig     `yaml:"ollama"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Generation GenerationConfig `yaml:"generation"`
	Retrieval  RetrievalConfig  `yaml:"retrieval"`
	Chunking   ChunkingConfig   `yaml:"chunking"`
	Ingest     IngestConfig     `yaml:"ingest"`
	History    HistoryConfig    `yaml:"history"`
	Citations  CitationsConfig  `yaml:"citations"`
	Watch      WatchConfig      `yaml:"watch"`
}

// WatchConfig holds directory watch settings.
type WatchConfig struct {
	Directories []string `yaml:"directories"`
	Extensions  []string `yaml:"extensions"`
	Recursive   *bool    `yaml:"recursive"`
}

// RecursiveOrDefault returns whether to watch recursively; defaults to true when unset.
func (w *WatchConfig) RecursiveOrDefault() bool {
	if w.Recursive != nil {
		return *w.Recursive
	}
	return true
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StorageConfig holds the database path.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// OllamaConfig holds the address of the local model server.
type OllamaConfig struct {
	BaseURL string `yaml:"base_url"`
}

// EmbeddingConfig selects and configures the embedder.
type EmbeddingConfig struct {
	Provider    string `yaml:"provider"` // ollama, onnx or mock
	Model       string `yaml:"model"`
	ModelPath   string `yaml:"model_path"`
	Dimensions  int    `yaml:"dimensions"`
	MaxTokens   int    `yaml:"max_tokens"`
	CacheSize   int    `yaml:"cache_size"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// GenerationConfig selects and configures the language model.
type GenerationConfig struct {
	Provider    string  `yaml:"provider"` // ollama or mock
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	TimeoutSecs int     `yaml:"timeout_secs"`
	Strict      bool    `yaml:"strict"`
}

// RetrievalConfig holds ranking settings. TopK and SimilarityFloor have no built-in
// default and must be supplied by the configuration file or environment.
type RetrievalConfig struct {
	TopK            int      `yaml:"top_k"`
	SimilarityFloor *float64 `yaml:"similarity_floor"`
	MaxQueryLength  int      `yaml:"max_query_length"`
}

// Floor returns the configured similarity floor, or 0 when unset.
func (r *RetrievalConfig) Floor() float64 {
	if r.SimilarityFloor == nil {
		return 0
	}
	return *r.SimilarityFloor
}

// ChunkingConfig holds segmenter settings (sizes in characters).
type ChunkingConfig struct {
	MaxSize      int `yaml:"max_size"`
	OverlapUnits int `yaml:"overlap_units"`
	MinLength    int `yaml:"min_length"`
}

// IngestConfig holds ingestion settings.
type IngestConfig struct {
	Workers int `yaml:"workers"`
}

// HistoryConfig selects where completed answers are kept.
type HistoryConfig struct {
	Backend   string `yaml:"backend"` // sqlite or redis
	RedisAddr string `yaml:"redis_addr"`
	RedisDB   int    `yaml:"redis_db"`
	TTLHours  int    `yaml:"ttl_hours"`
}

// CitationsConfig controls how citations are rendered.
type CitationsConfig struct {
	PreviewLength int    `yaml:"preview_length"`
	LinkBase      string `yaml:"link_base"`
}

// Load reads and parses the config file at path, applies defaults and environment
// overrides, expands paths, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	configDir := filepath.Dir(path)
	ApplyDefaults(&cfg)
	if err := LoadDotEnv(configDir); err != nil {
		return nil, err
	}
	if err := ApplyEnv(&cfg); err != nil {
		return nil, err
	}

	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	if cfg.Embedding.ModelPath != "" {
		cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	}
	for i := range cfg.Watch.Directories {
		cfg.Watch.Directories[i] = expandPath(cfg.Watch.Directories[i], configDir)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks required values and enumerations.
func (c *Config) Validate() error {
	var errs []error
	if c.Retrieval.TopK <= 0 {
		errs = append(errs, errors.New("retrieval.top_k is required and must be positive"))
	}
	if c.Retrieval.SimilarityFloor == nil {
		errs = append(errs, errors.New("retrieval.similarity_floor is required"))
	} else if f := *c.Retrieval.SimilarityFloor; f < -1 || f > 1 {
		errs = append(errs, errors.New("retrieval.similarity_floor must be within [-1, 1]"))
	}
	switch c.Embedding.Provider {
	case "ollama", "onnx", "mock":
	default:
		errs = append(errs, fmt.Errorf("embedding.provider %q is not one of ollama, onnx, mock", c.Embedding.Provider))
	}
	switch c.Generation.Provider {
	case "ollama", "mock":
	default:
		errs = append(errs, fmt.Errorf("generation.provider %q is not one of ollama, mock", c.Generation.Provider))
	}
	switch c.History.Backend {
	case "sqlite", "redis":
	default:
		errs = append(errs, fmt.Errorf("history.backend %q is not one of sqlite, redis", c.History.Backend))
	}
	if c.Chunking.OverlapUnits < 0 {
		errs = append(errs, errors.New("chunking.overlap_units cannot be negative"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// Save writes the config to path. Used for persisting watch directory add/remove.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
