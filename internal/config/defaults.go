package config

// Storage backends.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// Embedding providers.
const (
	ProviderOpenAI = "openai"
	ProviderONNX   = "onnx"
	ProviderMock   = "mock"
)

// autoOverlap marks a chunk overlap that is derived from the chunk size.
const autoOverlap = -1

// presetDefaults fills the settings for which zero is a meaningful value.
// It runs before the config file is decoded, so an explicit 0 in the file
// overrides the default instead of being mistaken for "unset".
func presetDefaults(cfg *Config) {
	cfg.Embedding.MaxRetries = 3
	cfg.Embedding.CacheSize = 10000
	cfg.Generation.Temperature = 0.3
	cfg.Generation.MaxRetries = 3
	cfg.Retrieval.ChunkOverlap = autoOverlap
	cfg.Upload.MinTextLength = 10
	cfg.Watch.DebounceMillis = 400
}

// New returns a config holding every default. Paths are not expanded.
func New() *Config {
	cfg := &Config{}
	presetDefaults(cfg)
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults sets default values for unset fields in cfg. Fields where
// zero is a valid setting are left alone; they get their defaults from
// presetDefaults before decoding.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = BackendFile
	}
	if cfg.Storage.Path == "" {
		switch cfg.Storage.Backend {
		case BackendSQLite:
			cfg.Storage.Path = ".kotae/kotae.db"
		case BackendFile:
			cfg.Storage.Path = ".kotae/kotae.snap"
		}
	}
	if cfg.Storage.IndexType == "" {
		cfg.Storage.IndexType = "flat"
	}

	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = ProviderOpenAI
	}
	if cfg.Embedding.BaseURL == "" {
		cfg.Embedding.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Embedding.APIKeyEnv == "" {
		cfg.Embedding.APIKeyEnv = "OPENAI_API_KEY"
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = "text-embedding-3-small"
	}
	if cfg.Embedding.Dimensions == 0 {
		if cfg.Embedding.Provider == ProviderONNX {
			cfg.Embedding.Dimensions = 384
		} else {
			cfg.Embedding.Dimensions = 1536
		}
	}
	if cfg.Embedding.TimeoutSeconds == 0 {
		cfg.Embedding.TimeoutSeconds = 30
	}
	if cfg.Embedding.BatchSize == 0 {
		cfg.Embedding.BatchSize = 64
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 256
	}

	if cfg.Generation.BaseURL == "" {
		cfg.Generation.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Generation.APIKeyEnv == "" {
		cfg.Generation.APIKeyEnv = "OPENAI_API_KEY"
	}
	if cfg.Generation.Model == "" {
		cfg.Generation.Model = "gpt-4o-mini"
	}
	if cfg.Generation.MaxTokens == 0 {
		cfg.Generation.MaxTokens = 500
	}
	if cfg.Generation.TimeoutSeconds == 0 {
		cfg.Generation.TimeoutSeconds = 60
	}

	if cfg.Retrieval.TopK == 0 {
		cfg.Retrieval.TopK = 5
	}
	if cfg.Retrieval.ChunkSize == 0 {
		cfg.Retrieval.ChunkSize = 200
	}
	if cfg.Retrieval.ChunkOverlap < 0 {
		cfg.Retrieval.ChunkOverlap = min(40, cfg.Retrieval.ChunkSize/5)
	}
	if cfg.Retrieval.KeywordWeight == 0 && cfg.Retrieval.SemanticWeight == 0 {
		cfg.Retrieval.KeywordWeight = 0.5
		cfg.Retrieval.SemanticWeight = 0.5
	}

	if len(cfg.Upload.Extensions) == 0 {
		cfg.Upload.Extensions = []string{".txt", ".md", ".pdf", ".docx", ".xlsx", ".html", ".htm"}
	}
	if cfg.Upload.MaxFileSize == 0 {
		cfg.Upload.MaxFileSize = 10 << 20
	}

	if cfg.Watch.Extensions == nil {
		cfg.Watch.Extensions = cfg.Upload.Extensions
	}
	// Recursive defaults to true when unset (nil).
	if len(cfg.Watch.Directories) > 0 && cfg.Watch.Recursive == nil {
		t := true
		cfg.Watch.Recursive = &t
	}
}
