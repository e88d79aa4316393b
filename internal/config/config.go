// Package config provides configuration loading and structs for the Kotae server.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug      bool             `yaml:"debug"`
	Server     ServerConfig     `yaml:"server"`
	Storage    StorageConfig    `yaml:"storage"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Generation GenerationConfig `yaml:"generation"`
	Retrieval  RetrievalConfig  `yaml:"retrieval"`
	Upload     UploadConfig     `yaml:"upload"`
	Watch      WatchConfig      `yaml:"watch"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port" validate:"gte=1,lte=65535"`
	// URL is where CLI commands reach a running server. Empty means the CLI
	// opens the store directly.
	URL string `yaml:"url" validate:"omitempty,url"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// StorageConfig selects where the index and chunks are persisted.
type StorageConfig struct {
	// Backend is file, sqlite or memory. memory keeps nothing across restarts.
	Backend string `yaml:"backend" validate:"oneof=file sqlite memory"`
	// Path is the snapshot file or the SQLite database.
	Path      string `yaml:"path" validate:"required_unless=Backend memory"`
	IndexType string `yaml:"index_type" validate:"oneof=flat faiss"`
}

// EmbeddingConfig selects and configures the embedding provider.
type EmbeddingConfig struct {
	Provider       string `yaml:"provider" validate:"oneof=openai onnx mock"`
	BaseURL        string `yaml:"base_url" validate:"omitempty,url"`
	APIKeyEnv      string `yaml:"api_key_env"`
	Model          string `yaml:"model"`
	Dimensions     int    `yaml:"dimensions" validate:"gt=0"`
	TimeoutSeconds int    `yaml:"timeout_seconds" validate:"gt=0"`
	MaxRetries     int    `yaml:"max_retries" validate:"gte=0,lte=10"`
	BatchSize      int    `yaml:"batch_size" validate:"gt=0"`
	CacheSize      int    `yaml:"cache_size" validate:"gte=0"`
	ModelPath      string `yaml:"model_path" validate:"required_if=Provider onnx"`
	MaxTokens      int    `yaml:"max_tokens" validate:"gt=0"`
}

// APIKey reads the key from the environment variable named by APIKeyEnv.
func (e EmbeddingConfig) APIKey() string {
	return lookupKey(e.APIKeyEnv)
}

// Timeout returns the per-request timeout.
func (e EmbeddingConfig) Timeout() time.Duration {
	return time.Duration(e.TimeoutSeconds) * time.Second
}

// GenerationConfig configures the chat completions endpoint.
type GenerationConfig struct {
	BaseURL        string  `yaml:"base_url" validate:"omitempty,url"`
	APIKeyEnv      string  `yaml:"api_key_env"`
	Model          string  `yaml:"model"`
	MaxTokens      int     `yaml:"max_tokens" validate:"gt=0"`
	Temperature    float64 `yaml:"temperature" validate:"gte=0,lte=2"`
	TimeoutSeconds int     `yaml:"timeout_seconds" validate:"gt=0"`
	MaxRetries     int     `yaml:"max_retries" validate:"gte=0,lte=10"`
}

// APIKey reads the key from the environment variable named by APIKeyEnv.
func (g GenerationConfig) APIKey() string {
	return lookupKey(g.APIKeyEnv)
}

// Timeout returns the per-request timeout.
func (g GenerationConfig) Timeout() time.Duration {
	return time.Duration(g.TimeoutSeconds) * time.Second
}

// RetrievalConfig holds chunking and search settings.
type RetrievalConfig struct {
	TopK           int     `yaml:"top_k" validate:"gt=0,lte=100"`
	ChunkSize      int     `yaml:"chunk_size" validate:"gt=0"`
	ChunkOverlap   int     `yaml:"chunk_overlap" validate:"gte=0,ltfield=ChunkSize"`
	KeywordEnabled *bool   `yaml:"keyword_enabled"`
	KeywordWeight  float64 `yaml:"keyword_weight" validate:"gte=0"`
	SemanticWeight float64 `yaml:"semantic_weight" validate:"gte=0"`
}

// KeywordEnabledOrDefault reports whether the keyword index is built; defaults to true when unset.
func (r *RetrievalConfig) KeywordEnabledOrDefault() bool {
	if r.KeywordEnabled != nil {
		return *r.KeywordEnabled
	}
	return true
}

// UploadConfig holds upload validation limits.
type UploadConfig struct {
	Extensions    []string `yaml:"extensions" validate:"min=1,dive,required"`
	MaxFileSize   int64    `yaml:"max_file_size" validate:"gt=0"`
	MinTextLength int      `yaml:"min_text_length" validate:"gte=0"`
}

// WatchConfig holds inbox directory settings.
type WatchConfig struct {
	Directories    []string `yaml:"directories"`
	Extensions     []string `yaml:"extensions"`
	Recursive      *bool    `yaml:"recursive"`
	DebounceMillis int      `yaml:"debounce_ms" validate:"gte=0"`
}

// RecursiveOrDefault returns whether to watch recursively; defaults to true when unset.
func (w *WatchConfig) RecursiveOrDefault() bool {
	if w.Recursive != nil {
		return *w.Recursive
	}
	return true
}

// Debounce returns the quiet period before a changed file is ingested.
func (w *WatchConfig) Debounce() time.Duration {
	return time.Duration(w.DebounceMillis) * time.Millisecond
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads and parses the config file at path. A .env file next to the
// config (or in the working directory) is loaded first, then ${VAR}
// references in the file are expanded. Defaults are applied, paths are
// expanded and the result is validated.
func Load(path string) (*Config, error) {
	configDir := filepath.Dir(path)
	loadDotEnv(configDir)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	presetDefaults(&cfg)
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := finish(&cfg, configDir); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when no config file exists.
func Default() (*Config, error) {
	loadDotEnv(".")
	var cfg Config
	presetDefaults(&cfg)
	if err := finish(&cfg, "."); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Validate checks cfg against its field constraints.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, len(verrs))
			for i, fe := range verrs {
				msgs[i] = fmt.Sprintf("%s fails %q", fe.Namespace(), fe.Tag())
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func finish(cfg *Config, configDir string) error {
	ApplyDefaults(cfg)

	if cfg.Storage.Backend != BackendMemory {
		cfg.Storage.Path = expandPath(cfg.Storage.Path, configDir)
	}
	if cfg.Embedding.ModelPath != "" {
		cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	}
	for i := range cfg.Watch.Directories {
		cfg.Watch.Directories[i] = expandPath(cfg.Watch.Directories[i], configDir)
	}
	return Validate(cfg)
}

// loadDotEnv loads .env files without overriding variables already set.
func loadDotEnv(configDir string) {
	for _, p := range []string{filepath.Join(configDir, ".env"), ".env"} {
		if _, err := os.Stat(p); err == nil {
			_ = godotenv.Load(p)
		}
	}
}

func lookupKey(env string) string {
	if env == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(env))
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// "~/" and other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || strings.HasPrefix(path, "../") || path == "." {
		if abs, err := filepath.Abs(filepath.Join(configDir, path)); err == nil {
			return abs
		}
		return filepath.Join(configDir, path)
	}
	path = strings.TrimPrefix(path, "~/")
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
