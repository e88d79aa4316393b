package main

import (
	"bytes"
	"context"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/models"
)

func TestReorderArgs(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected []string
	}{
		{
			name:     "flags after query are moved first",
			args:     []string{"invoice from microsoft", "-limit", "3"},
			expected: []string{"-limit", "3", "invoice from microsoft"},
		},
		{
			name:     "flags first returns unchanged",
			args:     []string{"-mode", "keyword", "invoice"},
			expected: []string{"-mode", "keyword", "invoice"},
		},
		{
			name:     "query only returns unchanged",
			args:     []string{"invoice from microsoft"},
			expected: []string{"invoice from microsoft"},
		},
		{
			name:     "empty args returns unchanged",
			args:     []string{},
			expected: []string{},
		},
		{
			name:     "multiple positionals then flags",
			args:     []string{"one", "two", "-limit", "5"},
			expected: []string{"-limit", "5", "one", "two"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := reorderArgs(tt.args)
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("reorderArgs() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestBuildQuery(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected string
	}{
		{"single word", []string{"revenue"}, "revenue"},
		{"multiple words", []string{"revenue", "growth"}, "revenue growth"},
		{"single quoted phrase", []string{"revenue growth"}, "revenue growth"},
		{"empty args", []string{}, ""},
		{"blank args", []string{"  ", "  "}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := buildQuery(tt.args)
			if got != tt.expected {
				t.Errorf("buildQuery(%v) = %q, want %q", tt.args, got, tt.expected)
			}
		})
	}
}

func TestSearchEndpoint(t *testing.T) {
	got := searchEndpoint(models.SearchRequest{Query: "q&a terms", Mode: "hybrid", Limit: 7})
	if !strings.HasPrefix(got, "/api/search?") {
		t.Fatalf("endpoint = %q", got)
	}
	v, err := url.ParseQuery(strings.TrimPrefix(got, "/api/search?"))
	if err != nil {
		t.Fatal(err)
	}
	if v.Get("q") != "q&a terms" || v.Get("mode") != "hybrid" || v.Get("limit") != "7" {
		t.Errorf("query values = %v", v)
	}
}

func TestLoadConfig_prefersCwdConfigWhenDefaultPath(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	content := `
debug: true
server:
  host: "localhost"
  port: 8080
storage:
  backend: memory
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	t.Chdir(dir)

	cfg, resolved, err := loadConfig(defaultConfigPath)
	if err != nil {
		t.Fatal(err)
	}
	// On macOS, cwd can be /private/var/... while configPath from t.TempDir() is /var/...; compare canonical paths.
	resolvedCanon, _ := filepath.EvalSymlinks(resolved)
	configPathCanon, _ := filepath.EvalSymlinks(configPath)
	if resolvedCanon != configPathCanon {
		t.Errorf("resolved path = %s (canon %s), want %s (canon %s)", resolved, resolvedCanon, configPath, configPathCanon)
	}
	if !cfg.Debug {
		t.Error("debug should be true from cwd config.yaml")
	}
}

func TestLoadConfig_usesExplicitPath(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	content := `
server:
  host: "127.0.0.1"
  port: 9000
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		t.Fatal(err)
	}
	if resolved != configPath {
		t.Errorf("resolved path = %s, want %s", resolved, configPath)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9000 {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
}

func TestLoadConfig_missingExplicitPath(t *testing.T) {
	if _, _, err := loadConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing explicit config")
	}
}

func TestWriteDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	var out bytes.Buffer
	if err := writeDefaultConfig(path, false, &out); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), path) {
		t.Errorf("output = %q", out.String())
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("written config does not load: %v", err)
	}
	if cfg.Retrieval.TopK != 5 {
		t.Errorf("top_k = %d", cfg.Retrieval.TopK)
	}
	if err := writeDefaultConfig(path, false, &out); err == nil {
		t.Error("expected refusal to overwrite")
	}
	if err := writeDefaultConfig(path, true, &out); err != nil {
		t.Errorf("force overwrite: %v", err)
	}
}

func TestCollectFiles(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "sub")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	for _, p := range []string{filepath.Join(dir, "a.txt"), filepath.Join(sub, "b.md")} {
		if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	files, err := collectFiles(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 2 {
		t.Errorf("files = %v", files)
	}
	single, err := collectFiles(filepath.Join(dir, "a.txt"))
	if err != nil || len(single) != 1 {
		t.Errorf("single = %v, %v", single, err)
	}
	if _, err := collectFiles(filepath.Join(dir, "missing")); err == nil {
		t.Error("expected error for missing path")
	}
}

func mockConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Default()
	if err != nil {
		t.Fatal(err)
	}
	cfg.Storage.Backend = config.BackendMemory
	cfg.Storage.Path = ""
	cfg.Embedding.Provider = config.ProviderMock
	cfg.Embedding.Dimensions = 32
	cfg.Retrieval.ChunkSize = 20
	cfg.Retrieval.ChunkOverlap = 5
	return cfg
}

func TestInitializeComponents_localSearchAndStatus(t *testing.T) {
	ctx := context.Background()
	cfg := mockConfig(t)
	c, err := initializeComponents(ctx, cfg, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	path := filepath.Join(t.TempDir(), "report.txt")
	text := "Quarterly revenue grew in Europe while churn fell across every region we track."
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		t.Fatal(err)
	}
	resp, err := c.Indexer.IndexPath(ctx, path, "cli")
	if err != nil {
		t.Fatal(err)
	}
	if resp.Chunks == 0 {
		t.Fatal("expected chunks")
	}

	req := models.SearchRequest{Query: "revenue", Mode: models.SearchModeKeyword, Limit: 3}
	if err := req.Validate(); err != nil {
		t.Fatal(err)
	}
	sr, err := searchLocal(ctx, c, req)
	if err != nil {
		t.Fatal(err)
	}
	if len(sr.Results) == 0 {
		t.Fatal("keyword search found nothing")
	}

	st := localStatus(cfg, c)
	if st.Chunks != resp.Chunks || st.Files != 1 || st.StorageBackend != "memory" {
		t.Errorf("status = %+v", st)
	}
	if st.Config == nil || st.Config.ChunkSize != 20 {
		t.Errorf("status config = %+v", st.Config)
	}
}

func TestInitializeComponents_fileBackendReloads(t *testing.T) {
	ctx := context.Background()
	cfg := mockConfig(t)
	cfg.Storage.Backend = config.BackendFile
	cfg.Storage.Path = filepath.Join(t.TempDir(), "kotae.snap")

	c, err := initializeComponents(ctx, cfg, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Indexer.UploadText(ctx, "Some text that is long enough to index.", "a.txt", nil); err != nil {
		t.Fatal(err)
	}
	n := c.Retriever.Len()
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}

	c2, err := initializeComponents(ctx, cfg, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer c2.Close()
	if c2.Retriever.Len() != n {
		t.Errorf("reloaded %d chunks, want %d", c2.Retriever.Len(), n)
	}
}

func TestInitializeComponents_unknownIndexFallsBack(t *testing.T) {
	cfg := mockConfig(t)
	cfg.Storage.IndexType = "faiss"
	c, err := initializeComponents(context.Background(), cfg, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	if got := c.Retriever.Stats().IndexType; got == "" {
		t.Error("index type should be reported")
	}
}
