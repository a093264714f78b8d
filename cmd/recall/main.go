package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/recall/internal/config"
	"github.com/kailas-cloud/recall/internal/domain"
	parser "github.com/kailas-cloud/recall/internal/ingest"
	logpkg "github.com/kailas-cloud/recall/internal/logger"
	"github.com/kailas-cloud/recall/internal/metrics"
	"github.com/kailas-cloud/recall/internal/store"
	"github.com/kailas-cloud/recall/internal/store/embcache"
	redisstore "github.com/kailas-cloud/recall/internal/store/redis"
	anthropicGen "github.com/kailas-cloud/recall/internal/transport/anthropic"
	"github.com/kailas-cloud/recall/internal/transport/httpapi"
	openaiTransport "github.com/kailas-cloud/recall/internal/transport/openai"
	embeddinguc "github.com/kailas-cloud/recall/internal/usecase/embedding"
	healthuc "github.com/kailas-cloud/recall/internal/usecase/health"
	ingestuc "github.com/kailas-cloud/recall/internal/usecase/ingest"
	queryuc "github.com/kailas-cloud/recall/internal/usecase/query"
	"github.com/kailas-cloud/recall/internal/version"
)

var cli struct {
	DB       string `help:"Directory holding the vector store (created if missing)." required:"" placeholder:"DIR"`
	File     string `help:"Chat export file to ingest." placeholder:"PATH"`
	Format   string `help:"Export format of --file: txt (iMessage) or signal." default:"txt"`
	Listen   int    `help:"Serve an OpenAI-compatible chat API on this port instead of the interactive prompt." placeholder:"PORT"`
	Excerpts bool   `help:"Print retrieved excerpts alongside answers."`
	TopK     int    `help:"Excerpts retrieved per question (overrides config)."`
	APIKey   string `help:"Hosted API key (overrides TINFOIL_API_KEY; \"none\" runs against a local endpoint)." placeholder:"KEY"`
	Config   string `help:"Optional YAML config file." placeholder:"PATH"`
	Version  bool   `help:"Print version and exit."`
}

func main() {
	kong.Parse(&cli,
		kong.Name("recall"),
		kong.Description("Ask questions about your chat history using retrieval-augmented generation."),
	)

	if cli.Version {
		fmt.Printf("recall %s (%s, %s)\n", version.Version, version.Commit, version.Date)
		return
	}

	env := os.Getenv("ENV")
	if env == "" {
		env = "local"
	}

	cfg, err := config.Load(cli.Config)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}
	if cli.APIKey != "" {
		cfg.Provider.APIKey = cli.APIKey
	}
	if cli.TopK > 0 {
		cfg.Retrieval.TopK = cli.TopK
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "recall:", err)
		os.Exit(1)
	}

	logger, err := logpkg.New(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting recall",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("db", cli.DB),
		zap.Bool("offline", cfg.Offline()),
		zap.String("base_url", cfg.EffectiveBaseURL()),
	)

	st, err := store.Open(cli.DB)
	if err != nil {
		logger.Fatal("Failed to open vector store", zap.Error(err))
	}
	defer st.Close()

	// Register embedding metrics explicitly (no init())
	metrics.RegisterEmbeddingMetrics()

	embedder, providerCheck, cleanup, err := buildEmbedder(&cfg, st, logger)
	if err != nil {
		logger.Fatal("Failed to create embedder", zap.Error(err))
	}
	defer cleanup()

	generator := buildGenerator(&cfg, logger)
	healthSvc := healthuc.New(st, providerCheck)

	ingestSvc := ingestuc.NewService(embedder, st, ingestuc.Options{
		ChunkSize:    cfg.Ingest.ChunkSize,
		ChunkOverlap: cfg.Ingest.ChunkOverlap,
		BatchSize:    cfg.Ingest.BatchSize,
	}, logger)
	querySvc := queryuc.NewService(embedder, st, generator, cfg.Retrieval.TopK, logger)

	ctx := context.Background()

	if cli.File != "" {
		if err := runIngest(ctx, ingestSvc, st); err != nil {
			logger.Fatal("Ingestion failed", zap.Error(err))
		}
		if cli.Listen == 0 {
			return
		}
	}

	if cli.Listen > 0 {
		runServe(&cfg, querySvc, healthSvc, logger)
		return
	}

	runREPL(ctx, querySvc, logger)
}

// buildEmbedder assembles the decorator chain: OpenAI -> Cached -> Retrying.
// The base provider is also returned as the health checker; the decorators
// do not forward HealthCheck.
func buildEmbedder(
	cfg *config.Config, st *store.SQLite, logger *zap.Logger,
) (domain.Embedder, domain.HealthChecker, func(), error) {
	base := openaiTransport.NewEmbedder(&openaiTransport.Config{
		APIKey:     cfg.EffectiveAPIKey(),
		BaseURL:    cfg.EffectiveBaseURL(),
		Model:      cfg.Embedding.Model,
		Dimensions: cfg.Embedding.Dimensions,
		Logger:     logger,
	})

	cleanup := func() {}
	var embedder domain.Embedder = base

	switch cfg.Cache.Driver {
	case "sqlite":
		embedder = embcache.New(base, st, metrics.EmbeddingCacheTotal, logger)
	case "redis":
		kv, err := redisstore.New(cfg.Cache.Addrs, cfg.Cache.Password)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("redis cache: %w", err)
		}
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = kv.Ping(pingCtx)
		cancel()
		if err != nil {
			kv.Close()
			return nil, nil, nil, fmt.Errorf("redis cache: %w", err)
		}
		cleanup = kv.Close
		embedder = embcache.New(base, kv, metrics.EmbeddingCacheTotal, logger)
	case "off":
		// no cache layer
	}

	embedder = embeddinguc.NewRetryingEmbedder(
		embedder,
		cfg.Provider.Retry.MaxAttempts,
		time.Duration(cfg.Provider.Retry.InitialBackoffMs)*time.Millisecond,
		logger,
	)
	return embedder, base, cleanup, nil
}

func buildGenerator(cfg *config.Config, logger *zap.Logger) domain.Generator {
	if cfg.Chat.Provider == "anthropic" {
		return anthropicGen.NewGenerator(&anthropicGen.Config{
			APIKey:    cfg.ChatAPIKey(),
			Model:     cfg.Chat.Model,
			MaxTokens: cfg.Chat.MaxTokens,
			Logger:    logger,
		})
	}
	return openaiTransport.NewGenerator(&openaiTransport.GeneratorConfig{
		APIKey:    cfg.ChatAPIKey(),
		BaseURL:   cfg.EffectiveBaseURL(),
		Model:     cfg.Chat.Model,
		MaxTokens: cfg.Chat.MaxTokens,
		Logger:    logger,
	})
}

func runIngest(ctx context.Context, svc *ingestuc.Service, st *store.SQLite) error {
	format, err := parser.ParseFormat(cli.Format)
	if err != nil {
		return err
	}

	stats, err := svc.IngestFile(ctx, cli.File, format)
	if err != nil {
		return err
	}

	total, err := st.Count(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Ingested %d messages as %d chunks in %s (%d chunks stored total)\n",
		stats.Messages, stats.Chunks, stats.Elapsed.Round(time.Millisecond), total)
	return nil
}

func runServe(
	cfg *config.Config, querySvc *queryuc.Service, healthSvc *healthuc.Service, logger *zap.Logger,
) {
	server := httpapi.NewServer(querySvc, healthSvc, cfg.Chat.Model, logger)

	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.Mount("/", server.Router(cfg.HTTP.APIKeys))

	addr := fmt.Sprintf(":%d", cli.Listen)
	srv := &http.Server{
		Addr:        addr,
		Handler:     r,
		ReadTimeout: time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		// No WriteTimeout: it would cut off long SSE responses.
		IdleTimeout: 120 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(
		context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}
	logger.Info("Server stopped gracefully")
}

func runREPL(ctx context.Context, querySvc *queryuc.Service, logger *zap.Logger) {
	fmt.Println("Ask questions about your messages. Type \"exit\" to quit.")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			fmt.Println()
			return
		}
		question := strings.TrimSpace(scanner.Text())
		if question == "" {
			continue
		}
		if question == "exit" || question == "quit" {
			return
		}

		if err := answerOne(ctx, querySvc, question); err != nil {
			logger.Debug("Query failed", zap.Error(err))
			fmt.Fprintln(os.Stderr, "error:", friendlyError(err))
		}
	}
}

func answerOne(ctx context.Context, querySvc *queryuc.Service, question string) error {
	stream, excerpts, err := querySvc.AnswerStream(ctx, question)
	if err != nil {
		return err
	}
	defer stream.Close()

	if cli.Excerpts && len(excerpts) > 0 {
		fmt.Println("--- excerpts ---")
		for _, ex := range excerpts {
			fmt.Printf("[%.3f] %s\n", ex.Score, describeRange(ex))
			fmt.Println(ex.Text)
		}
		fmt.Println("----------------")
	}

	for {
		token, err := stream.Recv()
		if err == io.EOF {
			fmt.Println()
			return nil
		}
		if err != nil {
			fmt.Println()
			return err
		}
		fmt.Print(token)
	}
}

func describeRange(ex queryuc.Excerpt) string {
	if ex.StartTime.IsZero() {
		return ex.Senders
	}
	const layout = "2006-01-02 15:04"
	return fmt.Sprintf("%s to %s (%s)",
		ex.StartTime.Format(layout), ex.EndTime.Format(layout), ex.Senders)
}

func friendlyError(err error) string {
	switch {
	case errors.Is(err, domain.ErrAuthentication):
		return "the provider rejected the API key; check TINFOIL_API_KEY"
	case errors.Is(err, domain.ErrRateLimited):
		return "the provider is rate limiting requests; try again shortly"
	case errors.Is(err, domain.ErrEmbeddingProvider), errors.Is(err, domain.ErrInferenceProvider):
		return "the provider is unavailable: " + err.Error()
	default:
		return err.Error()
	}
}
