package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/firebase/genkit/go/plugins/ollama"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/recaphq/recap/db"
	"github.com/recaphq/recap/internal/api"
	"github.com/recaphq/recap/internal/config"
	"github.com/recaphq/recap/internal/conversation"
	"github.com/recaphq/recap/internal/expand"
	"github.com/recaphq/recap/internal/index"
	"github.com/recaphq/recap/internal/llm"
	"github.com/recaphq/recap/internal/log"
	"github.com/recaphq/recap/internal/mention"
	"github.com/recaphq/recap/internal/optimize"
	"github.com/recaphq/recap/internal/retrieval"
	"github.com/recaphq/recap/internal/turn"
)

// Setup creates and initializes the application.
// Returns an App with embedded cleanup; call Close() to release.
func Setup(ctx context.Context, cfg *config.Config, logger log.Logger) (_ *App, retErr error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &App{Config: cfg, Logger: logger}

	// On error, clean up everything already initialized.
	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				a.logger().Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	pool, dbCleanup, err := provideDBPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.dbCleanup = dbCleanup
	a.Pool = pool

	g, err := provideGenkit(ctx, cfg, a.logger())
	if err != nil {
		return nil, err
	}
	a.Genkit = g

	embedder := provideEmbedder(g, cfg)
	if embedder == nil {
		return nil, fmt.Errorf("embedder %q not found for provider %q", cfg.EmbedderModel, cfg.Provider)
	}
	a.Embedder = embedder

	if err := providePipeline(a); err != nil {
		return nil, err
	}

	server, err := api.NewServer(api.ServerConfig{
		Logger:       a.logger(),
		Coordinator:  a.Coordinator,
		History:      a.History,
		Ingestor:     a.Ingestor,
		Entities:     a.Entities,
		Pool:         pool,
		PollInterval: time.Duration(cfg.PollIntervalMs) * time.Millisecond,
		PollTimeout:  time.Duration(cfg.PollTimeoutMs) * time.Millisecond,
		TailLimit:    int32(cfg.HistoryTailLimit),
	})
	if err != nil {
		return nil, fmt.Errorf("creating api server: %w", err)
	}
	a.Server = server

	return a, nil
}

// provideDBPool runs migrations and creates a PostgreSQL connection pool.
func provideDBPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, func(), error) {
	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return nil, nil, fmt.Errorf("running migrations: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresConnectionString())
	if err != nil {
		return nil, nil, fmt.Errorf("parsing connection config: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("pinging database: %w", err)
	}

	return pool, pool.Close, nil
}

// provideGenkit initializes Genkit with the configured AI provider.
// Ollama requires explicit model and embedder registration; Gemini
// auto-discovers its models.
func provideGenkit(ctx context.Context, cfg *config.Config, logger log.Logger) (*genkit.Genkit, error) {
	switch cfg.Provider {
	case config.ProviderOllama:
		ollamaPlugin := &ollama.Ollama{ServerAddress: cfg.OllamaHost}
		g := genkit.Init(ctx, genkit.WithPlugins(ollamaPlugin))
		if g == nil {
			return nil, errors.New("initializing genkit with ollama provider")
		}
		ollamaPlugin.DefineModel(g, ollama.ModelDefinition{
			Name: cfg.ModelName,
			Type: "chat",
		}, nil)
		ollamaPlugin.DefineEmbedder(g, cfg.OllamaHost, cfg.EmbedderModel, nil)
		logger.Info("initialized genkit with ollama provider",
			"model", cfg.ModelName, "host", cfg.OllamaHost)
		return g, nil

	default: // gemini
		g := genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
		if g == nil {
			return nil, errors.New("initializing genkit with gemini provider")
		}
		logger.Info("initialized genkit with gemini provider", "model", cfg.ModelName)
		return g, nil
	}
}

// provideEmbedder looks up the embedder registered by the provider plugin.
func provideEmbedder(g *genkit.Genkit, cfg *config.Config) ai.Embedder {
	switch cfg.Provider {
	case config.ProviderOllama:
		// Keyed by server address (registered in provideGenkit).
		return ollama.Embedder(g, cfg.OllamaHost)
	default: // gemini
		return googlegenai.GoogleAIEmbedder(g, cfg.EmbedderModel)
	}
}

// qualifiedModelName returns the provider-prefixed model name Genkit
// resolves at generate time.
func qualifiedModelName(cfg *config.Config) string {
	switch cfg.Provider {
	case config.ProviderOllama:
		return "ollama/" + cfg.ModelName
	default:
		return "googleai/" + cfg.ModelName
	}
}

// providePipeline builds the retrieval pipeline and turn coordinator on top
// of the already initialized pool, Genkit, and embedder.
func providePipeline(a *App) error {
	cfg := a.Config
	logger := a.logger()

	client, err := llm.NewClient(llm.Config{
		Genkit:    a.Genkit,
		ModelName: qualifiedModelName(cfg),
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("creating llm client: %w", err)
	}
	a.LLM = client

	embedder, err := llm.NewEmbedder(a.Embedder, logger)
	if err != nil {
		return fmt.Errorf("creating embedder: %w", err)
	}

	store, err := index.NewStore(a.Pool, logger)
	if err != nil {
		return fmt.Errorf("creating index store: %w", err)
	}
	a.Index = store

	entities, err := index.NewEntitySource(a.Pool, logger)
	if err != nil {
		return fmt.Errorf("creating entity source: %w", err)
	}
	a.Entities = entities

	ingestor, err := index.NewIngestor(store, embedder, logger)
	if err != nil {
		return fmt.Errorf("creating ingestor: %w", err)
	}
	a.Ingestor = ingestor

	resolver, err := mention.NewResolver(entities, logger)
	if err != nil {
		return fmt.Errorf("creating mention resolver: %w", err)
	}

	retriever, err := retrieval.New(store, embedder, cfg.RetrievalTopK, logger)
	if err != nil {
		return fmt.Errorf("creating retriever: %w", err)
	}

	optimizer, err := optimize.New(optimize.Config{
		LLM:        client,
		MaxCount:   cfg.ContextMaxCount,
		CharBudget: cfg.ContextCharBudget,
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("creating optimizer: %w", err)
	}

	history, err := conversation.NewPostgresStore(a.Pool, logger)
	if err != nil {
		return fmt.Errorf("creating conversation store: %w", err)
	}
	a.History = history

	coordinator, err := turn.NewCoordinator(turn.Config{
		History:          history,
		Resolver:         resolver,
		Expander:         expand.New(client, logger),
		Retriever:        retriever,
		Optimizer:        optimizer,
		LLM:              client,
		ExpansionCount:   cfg.ExpansionCount,
		HistoryTailLimit: int32(cfg.HistoryTailLimit),
		Logger:           logger,
	})
	if err != nil {
		return fmt.Errorf("creating turn coordinator: %w", err)
	}
	a.Coordinator = coordinator

	return nil
}
