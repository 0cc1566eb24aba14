// Package app wires configuration into the running services shared by
// the HTTP server and the CLI.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/ashureev/tripmind/internal/agent"
	"github.com/ashureev/tripmind/internal/api"
	"github.com/ashureev/tripmind/internal/config"
	"github.com/ashureev/tripmind/internal/embedding"
	"github.com/ashureev/tripmind/internal/facts"
	"github.com/ashureev/tripmind/internal/llm"
	"github.com/ashureev/tripmind/internal/llm/provider"
	"github.com/ashureev/tripmind/internal/memory"
	"github.com/ashureev/tripmind/internal/prompt"
	"github.com/ashureev/tripmind/internal/retrieval"
	"github.com/ashureev/tripmind/internal/store"
	"github.com/ashureev/tripmind/internal/tool"
	"github.com/ashureev/tripmind/internal/vectorstore"
)

// Facts combines extraction with the fact store.
type Facts struct {
	*facts.Extractor
	*facts.Store
}

// App holds every wired service. Close releases them in reverse order.
type App struct {
	Config    *config.Config
	DB        *store.SQLiteStore
	Vectors   vectorstore.Store
	Memory    memory.Store
	Fallback  *llm.Fallback
	Prompts   *prompt.Renderer
	Tools     *tool.Registry
	Pipeline  *retrieval.Pipeline
	Indexer   *retrieval.Indexer
	Facts     Facts
	Planner   *agent.Planner
	Chat      *agent.Chat
	ConvLog   agent.ConversationLogger
	closeFunc []func() error
}

// New builds the application. Background workers stop when ctx is done.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg}
	ok := false
	defer func() {
		if !ok {
			_ = a.Close()
		}
	}()

	db, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	a.DB = db
	a.onClose(db.Close)
	if err := db.Ping(ctx); err != nil {
		return nil, fmt.Errorf("database health check: %w", err)
	}

	if a.Vectors, err = newVectorStore(cfg.VectorStore); err != nil {
		return nil, err
	}
	a.onClose(a.Vectors.Close)

	if a.Memory, err = newMemory(ctx, cfg.Memory); err != nil {
		return nil, err
	}
	a.onClose(a.Memory.Close)

	embedder := newEmbedder(cfg)

	if !cfg.HasProviderKey() {
		logger.Warn("No model provider key configured, model calls will fail")
	}
	router, err := provider.NewDefaultRouter(ctx, provider.Keys{
		Groq:      cfg.LLM.GroqAPIKey,
		GroqURL:   cfg.LLM.GroqBaseURL,
		OpenAI:    cfg.LLM.OpenAIAPIKey,
		Anthropic: cfg.LLM.AnthropicAPIKey,
		Gemini:    cfg.LLM.GeminiAPIKey,
	}, http.DefaultClient)
	if err != nil {
		return nil, fmt.Errorf("configure model providers: %w", err)
	}

	counter := llm.NewTokenCounter(llm.DefaultEncoding)
	clientOpts := []llm.ClientOption{
		llm.WithTimeout(cfg.LLM.RequestTimeout),
		llm.WithClientLogger(logger),
	}
	if cfg.LLM.MaxPromptTokens > 0 {
		clientOpts = append(clientOpts, llm.WithTokenBudget(cfg.LLM.MaxPromptTokens, counter))
	}
	if cfg.LLM.BreakerFailures > 0 {
		clientOpts = append(clientOpts, llm.WithBreaker(uint32(cfg.LLM.BreakerFailures), cfg.LLM.BreakerCooldown))
	}
	a.Fallback = llm.NewFallback(llm.NewClient(router, clientOpts...), cfg.LLM.Models, llm.RetryPolicy{
		MaxRetries:   cfg.LLM.MaxRetries,
		BackoffBase:  cfg.LLM.BackoffBase,
		JitterFactor: cfg.LLM.JitterFactor,
	}, llm.WithFallbackLogger(logger))

	if a.Prompts, err = prompt.NewRenderer(counter); err != nil {
		return nil, err
	}

	a.Pipeline = retrieval.NewPipeline(a.Vectors, embedder, a.Fallback, a.Prompts, a.Memory, retrieval.Config{
		HistoryTurns:    cfg.Retrieval.HistoryTurns,
		ScrollBatchSize: cfg.Retrieval.ScrollBatchSize,
		Temperature:     cfg.LLM.Temperature,
		MaxTokens:       cfg.LLM.MaxTokens,
	})
	a.Indexer = retrieval.NewIndexer(a.Vectors, embedder)

	factStore := facts.NewStore(db)
	a.Facts = Facts{
		Extractor: facts.NewExtractor(a.Pipeline, factStore, a.Fallback, a.Prompts, cfg.LLM.Temperature, cfg.LLM.MaxTokens),
		Store:     factStore,
	}

	a.Tools = tool.NewRegistry(cfg.Planner.ToolTimeout, logger)
	a.Tools.Register(tool.Retrieval{Searcher: a.Pipeline, Limit: retrieval.DefaultLimit})
	a.Tools.Register(tool.Weather{})
	a.Tools.Register(tool.UserFacts{Facts: factStore})

	plannerCfg := agent.PlannerConfig{Temperature: cfg.LLM.Temperature, MaxTokens: cfg.LLM.MaxTokens}
	a.Planner = agent.NewPlanner(a.Tools, a.Fallback, a.Prompts, plannerCfg)

	if a.ConvLog, err = agent.NewConversationLogger(agent.ConversationLogConfig{
		Enabled:       cfg.ConversationLog.Enabled,
		Dir:           cfg.ConversationLog.Dir,
		GlobalEnabled: cfg.ConversationLog.GlobalEnabled,
		GlobalPath:    cfg.ConversationLog.GlobalPath,
		QueueSize:     cfg.ConversationLog.QueueSize,
	}, logger); err != nil {
		return nil, fmt.Errorf("conversation logger: %w", err)
	}
	a.onClose(a.ConvLog.Close)

	a.Chat = agent.NewChat(a.Planner, a.Memory, a.Fallback, a.Prompts, a.ConvLog, agent.ChatConfig{
		Temperature:     cfg.LLM.Temperature,
		MaxTokens:       cfg.LLM.MaxTokens,
		PlannerMaxSteps: cfg.Planner.MaxSteps,
	})

	ok = true
	return a, nil
}

// Services returns the collaborators of the HTTP surface.
func (a *App) Services() api.Services {
	return api.Services{
		Journal: a.Pipeline,
		Indexer: a.Indexer,
		Planner: a.Planner,
		Facts:   a.Facts,
		Chat:    a.Chat,
		DB:      a.DB,
	}
}

// Close releases every resource opened by New.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closeFunc) - 1; i >= 0; i-- {
		if err := a.closeFunc[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closeFunc = nil
	return errors.Join(errs...)
}

func (a *App) onClose(f func() error) {
	a.closeFunc = append(a.closeFunc, f)
}

func newVectorStore(cfg config.VectorStoreConfig) (vectorstore.Store, error) {
	if cfg.Backend != "qdrant" {
		return vectorstore.NewMemory(), nil
	}
	q, err := vectorstore.NewQdrant(vectorstore.QdrantConfig{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("connect qdrant: %w", err)
	}
	return q, nil
}

func newMemory(ctx context.Context, cfg config.MemoryConfig) (memory.Store, error) {
	if cfg.Backend == "redis" {
		r, err := memory.NewRedis(ctx, memory.RedisConfig{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
			TTL:      cfg.TTL,
		})
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		return r, nil
	}
	m := memory.NewInMemory()
	if cfg.TTL > 0 {
		memory.StartTTLWorker(ctx, m, cfg.TTL)
	}
	return m, nil
}

func newEmbedder(cfg *config.Config) embedding.Embedder {
	if cfg.Embedding.Provider == "openai" {
		return embedding.NewOpenAI(embedding.OpenAIConfig{
			APIKey:    cfg.LLM.OpenAIAPIKey,
			Model:     cfg.Embedding.Model,
			Dimension: cfg.Embedding.Dimension,
		})
	}
	return embedding.NewHash(cfg.Embedding.Dimension)
}
