package config

// ApplyDefaults sets default values for any zero values in cfg.
// Retrieval TopK and SimilarityFloor are deliberately left alone.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/tanya/data/db/fragments.db"
	}
	if cfg.Ollama.BaseURL == "" {
		cfg.Ollama.BaseURL = "http://localhost:11434"
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "ollama"
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = "nomic-embed-text"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 768
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 256
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if cfg.Embedding.TimeoutSecs == 0 {
		cfg.Embedding.TimeoutSecs = 30
	}
	if cfg.Generation.Provider == "" {
		cfg.Generation.Provider = "ollama"
	}
	if cfg.Generation.Model == "" {
		cfg.Generation.Model = "llama3.2"
	}
	if cfg.Generation.TimeoutSecs == 0 {
		cfg.Generation.TimeoutSecs = 120
	}
	if cfg.Retrieval.MaxQueryLength == 0 {
		cfg.Retrieval.MaxQueryLength = 1000
	}
	if cfg.Chunking.MaxSize == 0 {
		cfg.Chunking.MaxSize = 1000
	}
	if cfg.Chunking.MinLength == 0 {
		cfg.Chunking.MinLength = 10
	}
	if cfg.Ingest.Workers == 0 {
		cfg.Ingest.Workers = 4
	}
	if cfg.History.Backend == "" {
		cfg.History.Backend = "sqlite"
	}
	if cfg.History.RedisAddr == "" {
		cfg.History.RedisAddr = "localhost:6379"
	}
	if cfg.History.TTLHours == 0 {
		cfg.History.TTLHours = 24 * 30
	}
	if cfg.Citations.PreviewLength == 0 {
		cfg.Citations.PreviewLength = 160
	}
	if cfg.Citations.LinkBase == "" {
		cfg.Citations.LinkBase = "/api/v1/sources"
	}
	if cfg.Watch.Extensions == nil {
		cfg.Watch.Extensions = []string{".txt", ".md", ".rst", ".pdf", ".docx", ".xlsx", ".pptx", ".odp", ".ods", ".rtf"}
	}
	// Recursive defaults to true when unset (nil).
	if len(cfg.Watch.Directories) > 0 && cfg.Watch.Recursive == nil {
		t := true
		cfg.Watch.Recursive = &t
	}
}
