// Package main is the tanya CLI entry point.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/tanya/internal/cli"
	"github.com/hyperjump/tanya/internal/config"
	"github.com/hyperjump/tanya/internal/embedding"
	"github.com/hyperjump/tanya/internal/extract"
	"github.com/hyperjump/tanya/internal/history"
	"github.com/hyperjump/tanya/internal/indexer"
	"github.com/hyperjump/tanya/internal/llm"
	"github.com/hyperjump/tanya/internal/models"
	"github.com/hyperjump/tanya/internal/rag"
	"github.com/hyperjump/tanya/internal/server"
	"github.com/hyperjump/tanya/internal/storage"
	"github.com/hyperjump/tanya/internal/vector"
	"github.com/hyperjump/tanya/internal/watcher"
	"github.com/hyperjump/tanya/pkg/utils"
)

var version = "dev"

const (
	defaultConfigPath = "/usr/local/etc/tanya/config.yaml"
	defaultServerURL  = "http://localhost:8080"
)

// loadConfig loads config from path. When path is the default, config.yaml in the
// current directory wins if it exists, so "tanya server" from a project directory
// uses that project's config. Returns the path that was actually loaded.
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
	case "ingest":
		runIngest()
	case "ask":
		runAsk()
	case "delete":
		runDelete()
	case "stats":
		runStats()
	case "history":
		runHistory()
	case "watch":
		runWatch()
	case "version", "--version", "-v":
		fmt.Printf("tanya version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func exitf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

// setup loads config, creates the logger and opens every component.
func setup(configPath string, debug bool) (*config.Config, string, *zap.Logger, *Components) {
	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		exitf("Failed to load config: %v", err)
	}
	debugMode := cfg.Debug || debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		exitf("Failed to create logger: %v", err)
	}
	components, err := initializeComponents(cfg, logger, debugMode)
	if err != nil {
		_ = logger.Sync()
		exitf("Failed to initialize: %v", err)
	}
	return cfg, resolved, logger, components
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, logger, components := setup(*configPath, *debug)
	defer logger.Sync()
	defer components.Close()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", cfg.Debug || *debug),
		zap.Int("fragments", components.Store.Stats().TotalFragments),
	)

	watchSvc := watcher.NewWatcher(components.Indexer, cfg.Watch, watcher.WithLogger(logger))
	watchCtx, watchCancel := context.WithCancel(context.Background())
	defer watchCancel()
	if err := watchSvc.Start(watchCtx); err != nil {
		logger.Fatal("Failed to start watcher", zap.Error(err))
	}
	watchSvc.SyncExisting()

	srv := server.NewServer(
		components.Indexer,
		components.Answerer,
		components.Store,
		components.History,
		cfg,
		logger,
		server.WithWatch(watchSvc, resolvedConfigPath),
		server.WithFragmentCounter(components.Storage),
	)
	go func() {
		if err := srv.Start(); err != nil {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(ctx)
	watchCancel()
	watchSvc.Stop()
}

func runIngest() {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	sourceID := fs.String("id", "", "source id (default: derived from the file path)")
	_ = fs.Parse(cli.ReorderArgs(os.Args[2:]))

	if fs.NArg() < 1 {
		fmt.Println("Usage: tanya ingest [flags] <file-or-directory>")
		os.Exit(1)
	}
	path := fs.Arg(0)

	cfg, _, logger, components := setup(*configPath, false)
	defer logger.Sync()
	defer components.Close()

	ctx := context.Background()
	info, err := os.Stat(path)
	if err != nil {
		exitf("Failed to stat path: %v", err)
	}
	if info.IsDir() {
		if *sourceID != "" {
			exitf("-id cannot be used with a directory")
		}
		n, err := components.Indexer.IngestDirectory(ctx, path, cfg.Watch.Extensions)
		if err != nil {
			exitf("Ingesting directory failed: %v", err)
		}
		fmt.Printf("Ingested %d file(s) from %s\n", n, path)
		return
	}
	res, err := components.Indexer.IngestFile(ctx, path, *sourceID)
	if err != nil {
		exitf("Ingest failed: %v", err)
	}
	fmt.Printf("Source ingested: %s (%d fragments)\n", res.SourceID, res.FragmentCount)
}

// askFlags holds the parsed options of the ask command.
type askFlags struct {
	request   models.QueryRequest
	format    cli.OutputFormat
	serverURL string
	config    string
}

// parseAskArgs parses ask arguments. The question is every positional argument
// joined by spaces, and flags may follow it.
func parseAskArgs(args []string) (*askFlags, error) {
	fs := flag.NewFlagSet("ask", flag.ContinueOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "", "server URL (empty = answer directly from local storage)")
	strict := fs.Bool("strict", false, "answer only from the retrieved context")
	topK := fs.Int("top-k", 0, "number of fragments to retrieve (default from config)")
	floor := fs.Float64("floor", 0, "minimum similarity (default from config)")
	source := fs.String("source", "", "restrict retrieval to one source id")
	jsonOut := fs.Bool("json", false, "print the complete answer as JSON instead of streaming")
	output := fs.String("output", "text", "output format: text or json")
	if err := fs.Parse(cli.ReorderArgs(args)); err != nil {
		return nil, err
	}

	question := cli.JoinArgs(fs.Args())
	if question == "" {
		return nil, errors.New("a question is required")
	}
	format, err := cli.ParseOutputFormat(*output)
	if err != nil {
		return nil, err
	}
	if *jsonOut {
		format = cli.OutputJSON
	}

	af := &askFlags{
		request: models.QueryRequest{
			Query:    question,
			TopK:     *topK,
			SourceID: *source,
			Strict:   *strict,
		},
		format:    format,
		serverURL: *serverURL,
		config:    *configPath,
	}
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "floor" {
			v := *floor
			af.request.Floor = &v
		}
	})
	return af, nil
}

func runAsk() {
	af, err := parseAskArgs(os.Args[2:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n\n", err)
		fmt.Fprintln(os.Stderr, "Usage: tanya ask [flags] <question>")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if af.serverURL != "" {
		client := newClient(af.serverURL)
		if af.format == cli.OutputJSON {
			ans, err := client.Ask(ctx, af.request)
			if err != nil {
				exitf("Ask failed: %v", err)
			}
			_ = cli.WriteAnswer(os.Stdout, ans, cli.OutputJSON)
			return
		}
		citations, err := client.Stream(ctx, af.request, func(token string) {
			fmt.Print(token)
		})
		fmt.Println()
		if err != nil {
			exitf("Ask failed: %v", err)
		}
		cli.WriteCitations(os.Stdout, citations)
		return
	}

	_, _, logger, components := setup(af.config, false)
	defer logger.Sync()
	defer components.Close()

	if af.format == cli.OutputJSON {
		ans, err := components.Answerer.Ask(ctx, af.request)
		if err != nil {
			exitf("Ask failed: %v", err)
		}
		_ = cli.WriteAnswer(os.Stdout, ans, cli.OutputJSON)
		return
	}

	stream, err := components.Answerer.Stream(ctx, af.request)
	if err != nil {
		exitf("Ask failed: %v", err)
	}
	var citations []models.Citation
	var failure string
	for ev := range stream.Events() {
		switch ev.Type {
		case rag.EventCitations:
			citations = ev.Citations
		case rag.EventToken:
			fmt.Print(ev.Token)
		case rag.EventCompletion:
			if ev.Answer != nil && ev.Answer.NoGrounding {
				fmt.Print(ev.Answer.RawText)
			}
		case rag.EventError:
			failure = ev.Message
		}
	}
	fmt.Println()
	switch stream.State() {
	case rag.StateCancelled:
		exitf("Cancelled.")
	case rag.StateFailed:
		exitf("Ask failed: %s", failure)
	}
	cli.WriteCitations(os.Stdout, citations)
}

func runDelete() {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: tanya delete [flags] <source-id>")
		os.Exit(1)
	}
	sourceID := fs.Arg(0)

	_, _, logger, components := setup(*configPath, false)
	defer logger.Sync()
	defer components.Close()

	n, err := components.Indexer.RemoveSource(context.Background(), sourceID)
	if err != nil {
		exitf("Deletion failed: %v", err)
	}
	if n == 0 {
		fmt.Printf("No fragments found for source: %s\n", sourceID)
		return
	}
	fmt.Printf("Source deleted: %s (%d fragments)\n", sourceID, n)
}

func outputFormat(output string, jsonOut bool) cli.OutputFormat {
	if jsonOut {
		return cli.OutputJSON
	}
	format, err := cli.ParseOutputFormat(output)
	if err != nil {
		exitf("%v", err)
	}
	return format
}

func runStats() {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "", "server URL (empty = read local storage)")
	output := fs.String("output", "text", "output format: text or json")
	jsonOut := fs.Bool("json", false, "shorthand for -output json")
	_ = fs.Parse(os.Args[2:])
	format := outputFormat(*output, *jsonOut)

	var stats models.Stats
	if *serverURL != "" {
		s, err := newClient(*serverURL).Stats(context.Background())
		if err != nil {
			exitf("Stats failed: %v", err)
		}
		stats = *s
	} else {
		_, _, logger, components := setup(*configPath, false)
		defer logger.Sync()
		defer components.Close()
		stats = components.Store.Stats()
	}
	if err := cli.WriteStats(os.Stdout, stats, format); err != nil {
		exitf("Output failed: %v", err)
	}
}

func runHistory() {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "", "server URL (empty = read local storage)")
	limit := fs.Int("limit", history.DefaultListLimit, "number of answers to list")
	output := fs.String("output", "text", "output format: text or json")
	jsonOut := fs.Bool("json", false, "shorthand for -output json")
	_ = fs.Parse(cli.ReorderArgs(os.Args[2:]))
	format := outputFormat(*output, *jsonOut)
	ctx := context.Background()

	var hist historyReader
	if *serverURL != "" {
		hist = newClient(*serverURL)
	} else {
		_, _, logger, components := setup(*configPath, false)
		defer logger.Sync()
		defer components.Close()
		hist = components.History
	}

	if fs.NArg() > 0 {
		ans, err := hist.Get(ctx, fs.Arg(0))
		if err != nil {
			exitf("History failed: %v", err)
		}
		if format == cli.OutputText {
			fmt.Printf("Q: %s\n\n", ans.Query)
		}
		_ = cli.WriteAnswer(os.Stdout, ans, format)
		return
	}
	answers, err := hist.List(ctx, *limit)
	if err != nil {
		exitf("History failed: %v", err)
	}
	if err := cli.WriteHistory(os.Stdout, answers, format); err != nil {
		exitf("Output failed: %v", err)
	}
}

// historyReader is implemented by history.Store and the HTTP client.
type historyReader interface {
	List(ctx context.Context, limit int) ([]*models.Answer, error)
	Get(ctx context.Context, id string) (*models.Answer, error)
}

func runWatch() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: tanya watch <add|remove|list> [path]")
		fmt.Println("  tanya watch add <path>     Add directory to watch")
		fmt.Println("  tanya watch remove <path>  Remove directory from watch")
		fmt.Println("  tanya watch list           List watched directories")
		os.Exit(1)
	}
	sub := os.Args[2]
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	serverURL := fs.String("server", defaultServerURL, "server URL")
	_ = fs.Parse(cli.ReorderArgs(os.Args[3:]))
	client := newClient(*serverURL)
	ctx := context.Background()

	switch sub {
	case "add", "remove":
		if fs.NArg() < 1 {
			fmt.Printf("Usage: tanya watch %s <path>\n", sub)
			os.Exit(1)
		}
		path, err := filepath.Abs(fs.Arg(0))
		if err != nil {
			exitf("Invalid path: %v", err)
		}
		if sub == "add" {
			if err := client.AddWatchDirectory(ctx, path); err != nil {
				exitf("Add failed: %v", err)
			}
			fmt.Printf("Added: %s\n", path)
			return
		}
		if err := client.RemoveWatchDirectory(ctx, path); err != nil {
			exitf("Remove failed: %v", err)
		}
		fmt.Printf("Removed: %s\n", path)
	case "list":
		dirs, err := client.WatchDirectories(ctx)
		if err != nil {
			exitf("List failed: %v", err)
		}
		for _, d := range dirs {
			fmt.Println(d)
		}
	default:
		exitf("Unknown watch subcommand: %s", sub)
	}
}

// Components holds initialized services.
type Components struct {
	Storage   *storage.SQLiteStorage
	Store     *vector.Store
	Embedder  embedding.Embedder
	Generator llm.Generator
	Indexer   *indexer.Indexer
	History   history.Store
	Answerer  *rag.Answerer
}

// Close releases components in reverse order of creation.
func (c *Components) Close() {
	if c.History != nil {
		_ = c.History.Close()
	}
	if c.Indexer != nil {
		c.Indexer.Close()
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
	if c.Storage != nil {
		_ = c.Storage.Close()
	}
}

func initializeComponents(cfg *config.Config, logger *zap.Logger, debug bool) (*Components, error) {
	logger = utils.NopIfNil(logger)
	c := &Components{}
	ok := false
	defer func() {
		if !ok {
			c.Close()
		}
	}()

	repo, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	c.Storage = repo

	storeOpts := []vector.StoreOption{}
	if debug {
		storeOpts = append(storeOpts, vector.WithLogger(logger))
	}
	c.Store, err = vector.Open(context.Background(), repo, storeOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load fragments: %w", err)
	}

	c.Embedder, err = embedding.New(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}
	if dims := c.Store.Dimensions(); dims > 0 && c.Embedder.Dimensions() > 0 && dims != c.Embedder.Dimensions() {
		logger.Warn("stored fragments were embedded with different dimensions; re-ingest sources",
			zap.Int("stored", dims), zap.Int("embedder", c.Embedder.Dimensions()))
	}

	c.Generator, err = llm.New(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize generator: %w", err)
	}

	idxOpts := []indexer.IndexerOption{}
	if debug {
		idxOpts = append(idxOpts, indexer.WithLogger(logger))
	}
	c.Indexer, err = indexer.NewIndexer(c.Store, c.Embedder, cfg, extract.NewExtractor(), idxOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize indexer: %w", err)
	}

	c.History, err = history.New(cfg, repo, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize history: %w", err)
	}

	retriever := rag.NewRetriever(
		c.Embedder,
		c.Store,
		time.Duration(cfg.Embedding.TimeoutSecs)*time.Second,
		cfg.Retrieval.MaxQueryLength,
		logger,
	)
	c.Answerer = rag.NewAnswerer(retriever, c.Generator, cfg,
		rag.WithLogger(logger),
		rag.WithHistory(c.History),
	)
	ok = true
	return c, nil
}

func printUsage() {
	fmt.Println(`tanya - Grounded answers from your local documents

Usage:
  tanya server [flags]              Start the HTTP server and directory watcher
  tanya ingest [flags] <path>       Ingest a file or every document in a directory
  tanya ask [flags] <question>      Answer a question from the ingested documents
  tanya delete [flags] <source-id>  Delete a source and its fragments
  tanya stats [flags]               Show fragment counts per source
  tanya history [flags] [id]        List past answers, or show one
  tanya watch <add|remove|list>     Manage watched directories (server must be running)
  tanya version                     Show version
  tanya help                        Show this help

Common Flags:
  --config string    Config file path (default: /usr/local/etc/tanya/config.yaml)

Server Flags:
  --debug            Enable debug logging

Ingest Flags:
  --id string        Source id (default: derived from the file path)

Ask Flags:
  --strict           Answer only from the retrieved context
  --top-k int        Fragments to retrieve (default from config)
  --floor float      Minimum similarity (default from config)
  --source string    Restrict retrieval to one source id
  --json             Print the complete answer as JSON instead of streaming
  --server string    Ask a running server instead of local storage

Stats / History Flags:
  --server string    Read from a running server instead of local storage
  --output string    Output format: text or json (default: text)
  --json             Shorthand for --output json
  --limit int        Answers to list (history only, default: 20)

Watch Flags:
  --server string    Server URL (default: http://localhost:8080)

Examples:
  tanya server
  tanya ingest handbook.pdf
  tanya ingest --id handbook handbook.pdf
  tanya ask what is the refund policy
  tanya ask --strict --top-k 3 "how long is the warranty?"
  tanya ask --server http://localhost:8080 what is covered
  tanya delete handbook
  tanya history --limit 5
  tanya watch add ~/Documents/manuals`)
}
