package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Environment variables that override values from the config file.
const (
	EnvOllamaURL       = "TANYA_OLLAMA_URL"
	EnvEmbeddingModel  = "TANYA_EMBEDDING_MODEL"
	EnvGenerationModel = "TANYA_GENERATION_MODEL"
	EnvDatabasePath    = "TANYA_DATABASE_PATH"
	EnvTopK            = "TANYA_TOP_K"
	EnvSimilarityFloor = "TANYA_SIMILARITY_FLOOR"
	EnvRedisAddr       = "TANYA_REDIS_ADDR"
)

// LoadDotEnv loads a .env file from dir into the process environment. Variables that
// are already set win over the file. A missing file is not an error.
func LoadDotEnv(dir string) error {
	path := filepath.Join(dir, ".env")
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides cfg with any TANYA_* variables present in the environment.
func ApplyEnv(cfg *Config) error {
	if v := os.Getenv(EnvOllamaURL); v != "" {
		cfg.Ollama.BaseURL = v
	}
	if v := os.Getenv(EnvEmbeddingModel); v != "" {
		cfg.Embedding.Model = v
	}
	if v := os.Getenv(EnvGenerationModel); v != "" {
		cfg.Generation.Model = v
	}
	if v := os.Getenv(EnvDatabasePath); v != "" {
		cfg.Storage.DatabasePath = v
	}
	if v := os.Getenv(EnvRedisAddr); v != "" {
		cfg.History.RedisAddr = v
	}
	if v := os.Getenv(EnvTopK); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse %s: %w", EnvTopK, err)
		}
		cfg.Retrieval.TopK = n
	}
	if v := os.Getenv(EnvSimilarityFloor); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("parse %s: %w", EnvSimilarityFloor, err)
		}
		cfg.Retrieval.SimilarityFloor = &f
	}
	return nil
}
