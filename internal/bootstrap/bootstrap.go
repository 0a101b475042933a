package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kirillkom/agrirag/internal/config"
	"github.com/kirillkom/agrirag/internal/core/domain"
	"github.com/kirillkom/agrirag/internal/core/ports"
	"github.com/kirillkom/agrirag/internal/core/usecase"
	"github.com/kirillkom/agrirag/internal/infrastructure/chunking"
	"github.com/kirillkom/agrirag/internal/infrastructure/embedding/embcache"
	"github.com/kirillkom/agrirag/internal/infrastructure/embedding/ollama"
	"github.com/kirillkom/agrirag/internal/infrastructure/embedding/openai"
	"github.com/kirillkom/agrirag/internal/infrastructure/export/xlsx"
	"github.com/kirillkom/agrirag/internal/infrastructure/extractor/pdftext"
	"github.com/kirillkom/agrirag/internal/infrastructure/queue/nats"
	"github.com/kirillkom/agrirag/internal/infrastructure/reportfields"
	"github.com/kirillkom/agrirag/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/agrirag/internal/infrastructure/resilience"
	"github.com/kirillkom/agrirag/internal/infrastructure/storage/localfs"
	"github.com/kirillkom/agrirag/internal/infrastructure/vector/qdrant"
	"github.com/kirillkom/agrirag/internal/observability/logging"
	"github.com/kirillkom/agrirag/internal/observability/metrics"
)

type App struct {
	Config   config.Config
	Metrics  *metrics.HTTPServerMetrics
	Upstream *resilience.Executor

	Queue   *nats.Queue
	Uploads ports.UploadRepository

	SearchUC  ports.SearchService
	IngestUC  ports.ReportIngestor
	ProcessUC ports.ReportProcessor
	CatalogUC *usecase.ReportCatalogUseCase

	closers []func()
}

// searchStack is the part of the graph every process needs: the index, the
// encoders and the search orchestrator.
type searchStack struct {
	index    *qdrant.Client
	encoder  ports.Encoder
	sparse   *qdrant.SparseEncoder
	search   *usecase.SearchUseCase
	closeFns []func()
}

// New wires the full graph used by the api and worker processes.
func New(ctx context.Context, cfg config.Config, service string) (*App, error) {
	m := metrics.NewHTTPServerMetrics(service)
	upstream := newUpstreamExecutor(cfg, m)
	stack, err := newSearchStack(ctx, cfg, m, upstream)
	if err != nil {
		return nil, err
	}
	app := &App{Config: cfg, Metrics: m, Upstream: upstream, SearchUC: stack.search, closers: stack.closeFns}

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	app.closers = append(app.closers, func() { _ = db.Close() })
	repo := postgres.NewUploadRepository(db)
	if err := repo.EnsureSchema(ctx); err != nil {
		app.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	storage, err := localfs.New(cfg.StoragePath)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("init object storage: %w", err)
	}

	queue, err := nats.New(cfg.NATSURL, cfg.NATSSubject, nats.Options{
		ResilienceExecutor: upstream,
	})
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("init message queue: %w", err)
	}
	app.closers = append(app.closers, queue.Close)

	extractor := pdftext.NewExtractor(storage)
	parser := reportfields.NewParser()
	chunker := chunking.NewSplitter(cfg.ChunkSize, cfg.ChunkOverlap)

	app.Queue = queue
	app.Uploads = repo
	app.IngestUC = usecase.NewIngestReportUseCase(repo, storage, queue, cfg.MaxUploadBytes)
	app.ProcessUC = usecase.NewProcessReportUseCase(repo, extractor, parser, chunker, stack.encoder, stack.sparse, stack.index, cfg.QdrantCollection)
	app.CatalogUC = usecase.NewReportCatalogUseCase(stack.index, cfg.QdrantCollection, repo, storage, xlsx.NewExporter())
	return app, nil
}

// NewSearchOnly wires just the search path, for the MCP tool server.
func NewSearchOnly(ctx context.Context, cfg config.Config, service string) (*App, error) {
	m := metrics.NewHTTPServerMetrics(service)
	upstream := newUpstreamExecutor(cfg, m)
	stack, err := newSearchStack(ctx, cfg, m, upstream)
	if err != nil {
		return nil, err
	}
	return &App{Config: cfg, Metrics: m, Upstream: upstream, SearchUC: stack.search, closers: stack.closeFns}, nil
}

func newSearchStack(ctx context.Context, cfg config.Config, m *metrics.HTTPServerMetrics, upstream *resilience.Executor) (*searchStack, error) {
	index, err := qdrant.New(cfg.QdrantAddr, qdrant.Options{
		DenseVectorName:    cfg.QdrantDenseVector,
		SparseVectorName:   cfg.QdrantSparseVector,
		ResilienceExecutor: upstream,
	})
	if err != nil {
		return nil, fmt.Errorf("init qdrant: %w", err)
	}
	stack := &searchStack{index: index, closeFns: []func(){func() { _ = index.Close() }}}

	if cfg.QdrantVectorSize > 0 {
		if err := index.EnsureCollection(ctx, cfg.QdrantCollection, cfg.QdrantVectorSize); err != nil {
			stack.close()
			return nil, fmt.Errorf("ensure collection: %w", err)
		}
	}

	inner, namespace, err := newEncoder(cfg, upstream)
	if err != nil {
		stack.close()
		return nil, err
	}
	cacheOpts := embcache.Options{
		Capacity:   cfg.EmbedCacheSize,
		TTL:        cfg.EmbedCacheTTL,
		Namespace:  namespace,
		CacheTotal: m.EmbeddingCacheCounter(),
	}
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			slog.Warn("embedding_cache_redis_unreachable", "addr", cfg.RedisAddr, "error", err)
		}
		cancel()
		cacheOpts.Redis = rdb
		stack.closeFns = append(stack.closeFns, func() { _ = rdb.Close() })
	}
	stack.encoder = embcache.New(inner, cacheOpts)
	stack.sparse = qdrant.NewSparseEncoder(cfg.SparseMaxTerms)

	dense := usecase.NewDenseRetriever(stack.encoder, index, usecase.IndexTarget{
		Collection: cfg.QdrantCollection,
		VectorName: cfg.QdrantDenseVector,
		OverFetch:  cfg.SearchOverFetch,
	})

	searchExecutor := resilience.NewExecutorWithHooks(resilience.StepConfig(cfg.SearchRetryAttempts), retryHooks(m))

	opts := []usecase.SearchOption{
		usecase.WithStepRunner(searchExecutor.Bind(resilience.ClassifyDomainError)),
		usecase.WithSearchObserver(m),
		usecase.WithSearchObserver(logging.NewSearchLogger(slog.Default())),
	}
	if cfg.HybridEnabled {
		opts = append(opts, usecase.WithSparseRetriever(usecase.NewSparseRetriever(stack.sparse, index, usecase.IndexTarget{
			Collection: cfg.QdrantCollection,
			VectorName: cfg.QdrantSparseVector,
			OverFetch:  cfg.SearchOverFetch,
		})))
	}

	stack.search = usecase.NewSearchUseCase(dense, usecase.SearchConfig{
		DefaultTopK:   cfg.SearchDefaultTopK,
		MaxTopK:       cfg.SearchMaxTopK,
		QueryMaxChars: cfg.SearchQueryMaxChars,
		RRFK:          cfg.SearchRRFK,
		Timeout:       cfg.SearchTimeout,
		DefaultMode:   domain.SearchMode(strings.ToLower(cfg.SearchDefaultMode)),
		Refill:        cfg.SearchRefill,
		RefillFactor:  cfg.SearchRefillFactor,
		Relevance: usecase.RelevanceConfig{
			MinScore:        cfg.SearchMinScore,
			LenientMinScore: cfg.SearchMinScoreLenient,
		},
	}, opts...)
	return stack, nil
}

func newEncoder(cfg config.Config, executor *resilience.Executor) (ports.Encoder, string, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.EmbedderProvider)) {
	case "", "ollama":
		enc := ollama.New(cfg.OllamaURL, cfg.OllamaEmbedModel, ollama.Options{
			Timeout:            cfg.OllamaTimeout,
			ResilienceExecutor: executor,
		})
		return enc, "ollama/" + cfg.OllamaEmbedModel, nil
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			return nil, "", fmt.Errorf("OPENAI_API_KEY is required for the openai embedder")
		}
		enc := openai.NewEmbedder(openai.Config{
			APIKey:             cfg.OpenAIAPIKey,
			BaseURL:            cfg.OpenAIBaseURL,
			Model:              cfg.OpenAIEmbedModel,
			Dimensions:         cfg.OpenAIEmbedDimensions,
			ResilienceExecutor: executor,
		})
		return enc, fmt.Sprintf("openai/%s/%d", cfg.OpenAIEmbedModel, cfg.OpenAIEmbedDimensions), nil
	default:
		return nil, "", fmt.Errorf("unknown embedder provider %q", cfg.EmbedderProvider)
	}
}

func newUpstreamExecutor(cfg config.Config, m *metrics.HTTPServerMetrics) *resilience.Executor {
	rc := resilience.DefaultConfig()
	rc.RetryMaxAttempts = cfg.UpstreamRetryAttempts
	rc.BreakerEnabled = cfg.BreakerEnabled
	rc.BreakerOpenTimeout = cfg.BreakerOpenTimeout
	return resilience.NewExecutorWithHooks(rc, retryHooks(m))
}

func retryHooks(m *metrics.HTTPServerMetrics) resilience.Hooks {
	return resilience.Hooks{
		OnRetry:       m.RecordRetry,
		OnStateChange: m.RecordBreakerTransition,
	}
}

func (s *searchStack) close() {
	for i := len(s.closeFns) - 1; i >= 0; i-- {
		s.closeFns[i]()
	}
}

func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
