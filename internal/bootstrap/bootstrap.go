package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kirillkom/rbac-assistant/internal/config"
	"github.com/kirillkom/rbac-assistant/internal/core/ports"
	"github.com/kirillkom/rbac-assistant/internal/core/usecase"
	"github.com/kirillkom/rbac-assistant/internal/infrastructure/chunking"
	"github.com/kirillkom/rbac-assistant/internal/infrastructure/corpus"
	"github.com/kirillkom/rbac-assistant/internal/infrastructure/llm/extractive"
	"github.com/kirillkom/rbac-assistant/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/rbac-assistant/internal/infrastructure/queue/nats"
	"github.com/kirillkom/rbac-assistant/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/rbac-assistant/internal/infrastructure/resilience"
	"github.com/kirillkom/rbac-assistant/internal/infrastructure/sqlsandbox"
	"github.com/kirillkom/rbac-assistant/internal/infrastructure/vector/qdrant"
)

type App struct {
	Config config.Config
	Logger *slog.Logger

	Policy   config.AccessPolicy
	Access   *usecase.AccessResolver
	Sandbox  *sqlsandbox.Sandbox
	Reranker *usecase.ContextReranker
	Router   *usecase.HybridRouter
	Audit    *postgres.AuditRepository
	Corpus   *corpus.Reader
	Indexer  *usecase.IndexCorpusUseCase
	Bus      *nats.Bus

	executor *resilience.Executor
	closers  []func()
}

func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	app := &App{Config: cfg, Logger: logger}

	policy, err := config.LoadAccessPolicy(cfg.AccessPolicyPath, usecase.DefaultRoleDepartments())
	if err != nil {
		return nil, err
	}
	app.Policy = policy
	app.Access = usecase.NewAccessResolver(policy.Roles)

	app.executor = resilience.NewExecutor(resilienceConfig(cfg), logger)
	ollamaClient := ollama.New(cfg.OllamaURL, cfg.OllamaGenModel, cfg.OllamaEmbedModel, app.executor)
	embedder := ollama.NewEmbedder(ollamaClient)

	var primary ports.AnswerGenerator
	if cfg.LLMEnabled {
		primary = ollama.NewGenerator(ollamaClient)
	}
	generator := extractive.New(primary, logger)

	vectorClient := qdrant.New(cfg.QdrantURL, cfg.QdrantCollection, app.executor)
	retriever := qdrant.NewRetriever(embedder, vectorClient)

	if cfg.SQLEnabled {
		sandbox, err := sqlsandbox.New(sqlsandbox.Options{
			Root:     cfg.CorpusRoot,
			RowLimit: cfg.SQLRowLimit,
			MaxRows:  cfg.SQLMaxRows,
			Logger:   logger,
		})
		if err != nil {
			return nil, fmt.Errorf("init structured sandbox: %w", err)
		}
		app.Sandbox = sandbox
	}

	if cfg.RerankerEnabled {
		app.Reranker = usecase.NewContextReranker(scorerLoader(cfg, embedder), cfg.RerankerTopN, logger)
	}

	if cfg.PostgresDSN != "" {
		db, err := postgres.OpenDB(cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		audit := postgres.NewAuditRepository(db)
		if err := audit.EnsureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("ensure audit schema: %w", err)
		}
		app.Audit = audit
		app.closers = append(app.closers, func() { _ = db.Close() })
	}

	deps := usecase.RouterDeps{
		Access:     app.Access,
		Classifier: usecase.NewQueryClassifier(),
		Cache:      usecase.NewRetrievalCache(cfg.CacheMaxEntries),
		Retriever:  retriever,
		Reranker:   app.Reranker,
		Generator:  generator,
		Usage:      usecase.NewUsageTracker(),
		Logger:     logger,
	}
	if app.Sandbox != nil {
		deps.Sandbox = app.Sandbox
	}
	if app.Audit != nil {
		deps.Audit = app.Audit
	}
	app.Router = usecase.NewHybridRouter(deps)

	reader, err := corpus.NewReader(cfg.CorpusRoot, logger)
	if err != nil {
		return nil, fmt.Errorf("init corpus reader: %w", err)
	}
	app.Corpus = reader
	app.Indexer = usecase.NewIndexCorpusUseCase(
		reader,
		chunking.NewSplitter(cfg.ChunkSize, cfg.ChunkOverlap),
		embedder,
		vectorClient,
		cfg.EmbedBatchSize,
		logger,
	)

	return app, nil
}

// ConnectBus dials NATS for reindex requests and indexed events.
func (a *App) ConnectBus() (*nats.Bus, error) {
	if a.Bus != nil {
		return a.Bus, nil
	}
	bus, err := nats.NewWithOptions(a.Config.NATSURL, nats.Options{
		ReindexSubject:     a.Config.NATSReindexSubject,
		IndexedSubject:     a.Config.NATSIndexedSubject,
		ResilienceExecutor: a.executor,
		Logger:             a.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("init message bus: %w", err)
	}
	a.Bus = bus
	a.closers = append(a.closers, bus.Close)
	return bus, nil
}

// RefreshCorpus re-discovers structured tables and drops memoized retrievals.
func (a *App) RefreshCorpus() error {
	a.Router.ResetCache()
	if a.Sandbox == nil {
		return nil
	}
	return a.Sandbox.Refresh()
}

func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func scorerLoader(cfg config.Config, embedder ports.Embedder) ports.ScorerLoader {
	if cfg.RerankerMode == "embedding" {
		return ollama.ScorerLoader(embedder)
	}
	return usecase.LexicalScorerLoader
}

func resilienceConfig(cfg config.Config) resilience.Config {
	out := resilience.DefaultConfig()
	out.RetryMaxAttempts = cfg.ResilienceRetryMaxAttempts
	out.RetryInitialBackoff = cfg.ResilienceRetryInitialBackoff
	out.RetryMaxBackoff = cfg.ResilienceRetryMaxBackoff
	out.BreakerEnabled = cfg.ResilienceBreakerEnabled
	out.BreakerOpenTimeout = cfg.ResilienceBreakerOpenTimeout
	return out
}
