// Package main is the Kotae CLI entry point.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/cli"
	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/restclient"
	"github.com/hyperjump/kotae/internal/server"
	"github.com/hyperjump/kotae/internal/watcher"
	"github.com/hyperjump/kotae/pkg/utils"
)

var version = "dev"

const (
	defaultConfigPath = "/usr/local/etc/kotae/config.yaml"
	// remoteTimeout covers answer generation on the server side.
	remoteTimeout = 150 * time.Second
)

// loadConfig loads config from path. When path is the default, config.yaml in
// the current directory takes precedence if it exists; when neither exists the
// built-in defaults are used. Returns the config and the path it came from, or
// "" for defaults.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
		if _, statErr := os.Stat(path); errors.Is(statErr, os.ErrNotExist) {
			cfg, err := config.Default()
			if err != nil {
				return nil, "", err
			}
			return cfg, "", nil
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "upload":
		runUpload()
	case "ask":
		runAsk()
	case "summarize":
		runSummarize()
	case "search":
		runSearch()
	case "status":
		runStatus()
	case "watch":
		runWatch()
	case "init":
		runInit()
	case "version", "--version", "-v":
		fmt.Printf("kotae version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

// commonFlags are shared by the commands that can run locally or against a server.
type commonFlags struct {
	configPath *string
	serverURL  *string
	output     *string
	jsonOut    *bool
	debug      *bool
}

func addCommonFlags(fs *flag.FlagSet) commonFlags {
	return commonFlags{
		configPath: fs.String("config", defaultConfigPath, "config file path"),
		serverURL:  fs.String("server", os.Getenv("KOTAE_SERVER"), "server URL (empty = open the local store directly)"),
		output:     fs.String("output", "text", "output format: text, compact, or json"),
		jsonOut:    fs.Bool("json", false, "shorthand for --output json"),
		debug:      fs.Bool("debug", false, "enable debug logging"),
	}
}

func (f commonFlags) format() cli.OutputFormat {
	if *f.jsonOut {
		return cli.OutputJSON
	}
	format, err := cli.ParseFormat(*f.output)
	if err != nil {
		fatalf("%v", err)
	}
	return format
}

func (f commonFlags) remote() *restclient.RestClient {
	if *f.serverURL == "" {
		return nil
	}
	return restclient.NewRestClient(strings.TrimRight(*f.serverURL, "/"),
		restclient.WithTimeout(remoteTimeout),
		restclient.WithRetries(0),
	)
}

// openLocal loads config and initializes components for direct store access.
// The caller must call the returned cleanup.
func (f commonFlags) openLocal(ctx context.Context) (*config.Config, *Components, func()) {
	cfg, _, err := loadConfig(*f.configPath)
	if err != nil {
		fatalf("Failed to load config: %v", err)
	}
	// Local commands log only when debugging.
	logger := zap.NewNop()
	if cfg.Debug || *f.debug {
		if logger, err = utils.NewLogger(true); err != nil {
			fatalf("Failed to create logger: %v", err)
		}
	}
	components, err := initializeComponents(ctx, cfg, logger)
	if err != nil {
		fatalf("Failed to initialize: %v", err)
	}
	return cfg, components, func() {
		_ = components.Close()
		_ = logger.Sync()
	}
}

// commandContext is cancelled on interrupt.
func commandContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging (directory changes, file indexing, etc.)")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fatalf("Failed to load config: %v", err)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode),
	)

	ctx, stop := commandContext()
	defer stop()

	components, err := initializeComponents(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	idx := components.Indexer
	watchSvc := watcher.NewWatcher(
		cfg.Watch.Directories,
		cfg.Watch.Extensions,
		cfg.Watch.RecursiveOrDefault(),
		func(ctx context.Context, path string) {
			resp, err := idx.IndexPath(ctx, path, "watch")
			if err != nil {
				logger.Warn("watch index file failed", zap.String("path", path), zap.Error(err))
				return
			}
			if !resp.Skipped {
				logger.Info("watch indexed file",
					zap.String("path", path),
					zap.String("file_id", resp.FileID),
					zap.Int("chunks", resp.Chunks))
			}
		},
		watcher.WithLogger(logger),
		watcher.WithDebounce(cfg.Watch.Debounce()),
	)
	if err := watchSvc.Start(ctx); err != nil {
		logger.Fatal("Failed to start watcher", zap.Error(err))
	}
	defer watchSvc.Stop()
	go watchSvc.SyncExisting(ctx)

	// Only a loaded file is written back when watch directories change.
	srv := server.NewServer(
		components.Engine,
		components.Retriever,
		components.Indexer,
		cfg,
		logger,
		watchSvc,
		resolvedConfigPath,
	)
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()
	logger.Info("server listening", zap.String("addr", cfg.Server.Addr()))

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			logger.Error("Server failed", zap.Error(err))
		}
	}

	logger.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(shutdownCtx)
}

func runUpload() {
	fs := flag.NewFlagSet("upload", flag.ExitOnError)
	flags := addCommonFlags(fs)
	_ = fs.Parse(reorderArgs(os.Args[2:]))

	if fs.NArg() < 1 {
		fatalf("Usage: kotae upload [flags] <file-or-directory>...")
	}
	format := flags.format()
	ctx, stop := commandContext()
	defer stop()

	if client := flags.remote(); client != nil {
		for _, path := range fs.Args() {
			files, err := collectFiles(path)
			if err != nil {
				fatalf("Upload failed: %v", err)
			}
			for _, f := range files {
				resp, err := uploadViaHTTP(ctx, client, f)
				if err != nil {
					fatalf("Upload %s failed: %v", f, err)
				}
				_ = cli.WriteUpload(os.Stdout, resp, format)
			}
		}
		return
	}

	_, components, cleanup := flags.openLocal(ctx)
	defer cleanup()
	for _, path := range fs.Args() {
		info, err := os.Stat(path)
		if err != nil {
			fatalf("Failed to stat path: %v", err)
		}
		if info.IsDir() {
			n, err := components.Indexer.IndexDirectory(ctx, path, "cli")
			if err != nil {
				fatalf("Indexing directory failed: %v", err)
			}
			if format == cli.OutputJSON {
				_ = cli.WriteJSON(os.Stdout, map[string]any{"directory": path, "indexed": n})
				continue
			}
			fmt.Printf("Indexed %d file(s) from %s\n", n, path)
			continue
		}
		resp, err := components.Indexer.IndexPath(ctx, path, "cli")
		if err != nil {
			fatalf("Indexing failed: %v", err)
		}
		_ = cli.WriteUpload(os.Stdout, resp, format)
	}
}

// collectFiles returns path, or the regular files under it when it is a directory.
func collectFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{path}, nil
	}
	var files []string
	err = filepath.WalkDir(path, func(p string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.Type().IsRegular() {
			files = append(files, p)
		}
		return nil
	})
	return files, err
}

func uploadViaHTTP(ctx context.Context, client *restclient.RestClient, path string) (*models.UploadResponse, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	meta, err := json.Marshal(map[string]any{models.MetaSource: "cli"})
	if err != nil {
		return nil, err
	}
	var resp models.UploadResponse
	err = client.PostFile(ctx, "/api/upload", "file", filepath.Base(path), content,
		map[string]string{"metadata": string(meta)}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

func runAsk() {
	fs := flag.NewFlagSet("ask", flag.ExitOnError)
	flags := addCommonFlags(fs)
	_ = fs.Parse(reorderArgs(os.Args[2:]))

	question := buildQuery(fs.Args())
	if question == "" {
		fatalf("Usage: kotae ask [flags] <question>")
	}
	format := flags.format()
	ctx, stop := commandContext()
	defer stop()

	var resp *models.QueryResponse
	if client := flags.remote(); client != nil {
		var out models.QueryResponse
		if err := client.Post(ctx, "/api/query", models.QueryRequest{Query: question}, &out); err != nil {
			fatalf("Query failed: %v", err)
		}
		resp = &out
	} else {
		_, components, cleanup := flags.openLocal(ctx)
		defer cleanup()
		var err error
		if resp, err = components.Engine.Query(ctx, question); err != nil {
			fatalf("Query failed: %v", err)
		}
	}
	if err := cli.WriteAnswer(os.Stdout, resp, format); err != nil {
		fatalf("Output failed: %v", err)
	}
}

func runSummarize() {
	fs := flag.NewFlagSet("summarize", flag.ExitOnError)
	flags := addCommonFlags(fs)
	_ = fs.Parse(reorderArgs(os.Args[2:]))
	// Optional focus, e.g. kotae summarize "risks and deadlines".
	query := buildQuery(fs.Args())

	format := flags.format()
	ctx, stop := commandContext()
	defer stop()

	var resp *models.SummaryResponse
	if client := flags.remote(); client != nil {
		var out models.SummaryResponse
		if err := client.Post(ctx, "/api/summarize", models.SummaryRequest{Query: query}, &out); err != nil {
			fatalf("Summarize failed: %v", err)
		}
		resp = &out
	} else {
		_, components, cleanup := flags.openLocal(ctx)
		defer cleanup()
		var err error
		if resp, err = components.Engine.Summarize(ctx, query); err != nil {
			fatalf("Summarize failed: %v", err)
		}
	}
	if err := cli.WriteSummary(os.Stdout, resp, format); err != nil {
		fatalf("Output failed: %v", err)
	}
}

// printSearchUsage prints search subcommand usage.
func printSearchUsage(fs *flag.FlagSet) {
	fmt.Fprintf(fs.Output(), "Usage: kotae search [flags] <query>\n\n")
	fmt.Fprintf(fs.Output(), "Query is all remaining arguments joined by spaces. Multi-word queries work with or without quotes.\n\n")
	fs.PrintDefaults()
	fmt.Fprintf(fs.Output(), `
Examples:
  kotae search revenue growth
  kotae search --mode keyword "quarterly revenue"
  kotae search --mode hybrid --limit 10 churn
  kotae search --output json revenue
`)
}

// buildQuery joins all positional args with spaces so multi-word queries
// work the same with or without shell quoting.
func buildQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// reorderArgs moves any flags (and their values) that appear after the query
// to the front so that flag.Parse sees them. The flag package stops at the
// first non-flag argument.
func reorderArgs(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

func runSearch() {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	flags := addCommonFlags(fs)
	mode := fs.String("mode", models.SearchModeSemantic, "search mode: semantic, keyword, or hybrid")
	limit := fs.Int("limit", 5, "number of results (max 100)")
	fs.Usage = func() { printSearchUsage(fs) }
	_ = fs.Parse(reorderArgs(os.Args[2:]))

	req := models.SearchRequest{Query: buildQuery(fs.Args()), Mode: *mode, Limit: *limit}
	if err := req.Validate(); err != nil {
		printSearchUsage(fs)
		fatalf("\n%v", err)
	}
	format := flags.format()
	ctx, stop := commandContext()
	defer stop()

	var resp *models.SearchResponse
	if client := flags.remote(); client != nil {
		var out models.SearchResponse
		if err := client.Get(ctx, searchEndpoint(req), &out); err != nil {
			fatalf("Search failed: %v", err)
		}
		resp = &out
	} else {
		_, components, cleanup := flags.openLocal(ctx)
		defer cleanup()
		var err error
		if resp, err = searchLocal(ctx, components, req); err != nil {
			fatalf("Search failed: %v", err)
		}
	}
	if err := cli.WriteSearchResults(os.Stdout, resp, format); err != nil {
		fatalf("Output failed: %v", err)
	}
}

func searchEndpoint(req models.SearchRequest) string {
	v := url.Values{}
	v.Set("q", req.Query)
	v.Set("mode", req.Mode)
	v.Set("limit", strconv.Itoa(req.Limit))
	return "/api/search?" + v.Encode()
}

// searchLocal runs a validated search against the local retriever.
func searchLocal(ctx context.Context, c *Components, req models.SearchRequest) (*models.SearchResponse, error) {
	var (
		results []models.Chunk
		err     error
	)
	switch req.Mode {
	case models.SearchModeKeyword:
		results, err = c.Retriever.KeywordSearch(ctx, req.Query, req.Limit)
	case models.SearchModeHybrid:
		results, err = c.Retriever.HybridSearch(ctx, req.Query, req.Limit)
	default:
		results, err = c.Retriever.Search(ctx, req.Query, req.Limit)
	}
	if err != nil {
		return nil, err
	}
	resp := &models.SearchResponse{Query: req.Query, Mode: req.Mode, Results: results}
	if len(results) == 0 && req.Mode != models.SearchModeSemantic {
		resp.Suggestion = c.Retriever.Suggest(req.Query)
	}
	return resp, nil
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	flags := addCommonFlags(fs)
	_ = fs.Parse(os.Args[2:])

	format := flags.format()
	ctx, stop := commandContext()
	defer stop()

	var status *models.StatusResponse
	if client := flags.remote(); client != nil {
		var out models.StatusResponse
		if err := client.Get(ctx, "/api/status", &out); err != nil {
			fatalf("Status failed: %v", err)
		}
		status = &out
	} else {
		cfg, components, cleanup := flags.openLocal(ctx)
		defer cleanup()
		status = localStatus(cfg, components)
	}
	if err := cli.WriteStatus(os.Stdout, status, format); err != nil {
		fatalf("Output failed: %v", err)
	}
}

func localStatus(cfg *config.Config, c *Components) *models.StatusResponse {
	stats := c.Retriever.Stats()
	return &models.StatusResponse{
		Status:         "ok",
		Chunks:         stats.Chunks,
		Files:          stats.Files,
		Dimensions:     stats.Dimensions,
		IndexType:      stats.IndexType,
		StorageBackend: stats.Backend,
		EmbeddingModel: stats.EmbeddingModel,
		KeywordIndexed: stats.KeywordIndexed,
		DiskUsageBytes: stats.DiskUsageBytes,
		Config: &models.StatusConfig{
			TopK:             cfg.Retrieval.TopK,
			ChunkSize:        cfg.Retrieval.ChunkSize,
			ChunkOverlap:     cfg.Retrieval.ChunkOverlap,
			StoragePath:      cfg.Storage.Path,
			GenerationModel:  cfg.Generation.Model,
			WatchDirectories: cfg.Watch.Directories,
		},
	}
}

func runWatch() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: kotae watch <add|remove|list> [path]")
		fmt.Println("  kotae watch add <path>     Add directory to watch")
		fmt.Println("  kotae watch remove <path>  Remove directory from watch")
		fmt.Println("  kotae watch list           List watched directories")
		os.Exit(1)
	}
	sub := os.Args[2]
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	serverURL := fs.String("server", envOr("KOTAE_SERVER", "http://localhost:8080"), "server URL")
	noSync := fs.Bool("no-sync", false, "do not index files already in the directory")
	_ = fs.Parse(reorderArgs(os.Args[3:]))

	client := restclient.NewRestClient(strings.TrimRight(*serverURL, "/"), restclient.WithRetries(0))
	ctx, stop := commandContext()
	defer stop()

	switch sub {
	case "add":
		if fs.NArg() < 1 {
			fatalf("Usage: kotae watch add <path>")
		}
		path, _ := filepath.Abs(fs.Arg(0))
		body := map[string]any{"path": path, "sync": !*noSync}
		if err := client.Post(ctx, "/api/watch/directories", body, nil); err != nil {
			fatalf("Add failed: %v", err)
		}
		fmt.Printf("Added: %s\n", path)
	case "remove":
		if fs.NArg() < 1 {
			fatalf("Usage: kotae watch remove <path>")
		}
		path, _ := filepath.Abs(fs.Arg(0))
		if err := client.Delete(ctx, "/api/watch/directories?path="+url.QueryEscape(path), nil); err != nil {
			fatalf("Remove failed: %v", err)
		}
		fmt.Printf("Removed: %s\n", path)
	case "list":
		var out struct {
			Directories []string `json:"directories"`
		}
		if err := client.Get(ctx, "/api/watch/directories", &out); err != nil {
			fatalf("List failed: %v", err)
		}
		for _, d := range out.Directories {
			fmt.Println(d)
		}
	default:
		fatalf("Unknown watch subcommand: %s", sub)
	}
}

func runInit() {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	path := fs.String("config", "config.yaml", "where to write the config file")
	force := fs.Bool("force", false, "overwrite an existing file")
	_ = fs.Parse(os.Args[2:])

	if err := writeDefaultConfig(*path, *force, os.Stdout); err != nil {
		fatalf("Init failed: %v", err)
	}
}

func writeDefaultConfig(path string, force bool, w io.Writer) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	cfg, err := config.Default()
	if err != nil {
		return err
	}
	if err := config.Save(path, cfg); err != nil {
		return err
	}
	fmt.Fprintf(w, "Wrote default config to %s\n", path)
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func printUsage() {
	fmt.Println(`kotae - Ask questions about your documents

Usage:
  kotae server [flags]                  Start the HTTP server
  kotae upload [flags] <path>...        Index files or directories
  kotae ask [flags] <question>          Answer a question from the indexed documents
  kotae summarize [flags] [focus]       Summarize everything indexed, optionally focused
  kotae search [flags] <query>          Retrieve chunks without generating an answer
  kotae status [flags]                  Show index and storage status
  kotae watch <add|remove|list>         Manage watched inbox directories (server)
  kotae init [flags]                    Write a default config file
  kotae version                         Show version
  kotae help                            Show this help

Common Flags (upload, ask, summarize, search, status):
  --config string    Config file path (default: /usr/local/etc/kotae/config.yaml, then ./config.yaml)
  --server string    Server URL; when empty the local store is opened directly (default: $KOTAE_SERVER)
  --output string    Output format: text, compact, or json (default: text)
  --json             Shorthand for --output json
  --debug            Enable debug logging

Server Flags:
  --config string    Config file path
  --debug            Enable debug logging (directory changes, file indexing, etc.)

Search Flags:
  --mode string      semantic, keyword, or hybrid (default: semantic)
  --limit int        Number of results (default: 5, max 100)

Watch Flags:
  --server string    Server URL (default: $KOTAE_SERVER or http://localhost:8080)
  --no-sync          Do not index files already present when adding

Examples:
  kotae init
  kotae upload report.pdf notes/
  kotae ask "How did revenue change last quarter?"
  kotae search --mode hybrid revenue
  kotae status --server http://localhost:8080
  kotae server
  kotae watch add ~/inbox`)
}
