// Package engine is the process-lifecycle wiring object: it constructs
// every collaborator named in the package layout (embedding, llm,
// vectorstore, history, scoring, conflict, tiered, retrieval, ingest,
// router) from a config.Config and holds the resulting handles as fields,
// never as package globals (§9 "Global state").
package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/smileformylove/memscreen/config"
	"github.com/smileformylove/memscreen/conflict"
	"github.com/smileformylove/memscreen/embedding"
	embopenai "github.com/smileformylove/memscreen/embedding/openai"
	"github.com/smileformylove/memscreen/history"
	"github.com/smileformylove/memscreen/ingest"
	"github.com/smileformylove/memscreen/llm"
	llmopenai "github.com/smileformylove/memscreen/llm/openai"
	"github.com/smileformylove/memscreen/memory"
	"github.com/smileformylove/memscreen/retrieval"
	"github.com/smileformylove/memscreen/router"
	"github.com/smileformylove/memscreen/scoring"
	"github.com/smileformylove/memscreen/tiered"
	"github.com/smileformylove/memscreen/vectorstore"
	"github.com/smileformylove/memscreen/vectorstore/sqlitevec"

	embollama "github.com/smileformylove/memscreen/embedding/ollama"
	llmollama "github.com/smileformylove/memscreen/llm/ollama"
	"github.com/smileformylove/memscreen/vectorstore/qdrant"

	qc "github.com/qdrant/go-client/qdrant"
)

// Engine holds every long-lived collaborator for one running process.
// Construct one with New, use Ingest/Router for request handling, and
// call Close on shutdown.
type Engine struct {
	Config config.Config
	Logger *zap.Logger

	Store     vectorstore.MemoryStore
	Embed     *embedding.Client
	LLM       *llm.Client
	MLLM      *llm.Client
	History   *history.Log
	Conflicts *conflict.Resolver
	Tiered    *tiered.Manager
	Retrieval *retrieval.Retriever
	Ingest    *ingest.Pipeline
	Router    *router.Router

	stopSweep func()
}

// New constructs and wires an Engine from cfg. It opens the history log
// and vector store, warms the tiered manager from existing payloads, and
// starts the cron decay sweep. Callers must call Close when done.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	userID, err := cfg.LoadOrCreateUserID(uuidGenerator)
	if err != nil {
		return nil, fmt.Errorf("memscreen: engine: resolve user id: %w", err)
	}

	embedBackend, err := newEmbeddingBackend(ctx, cfg.Embedder)
	if err != nil {
		return nil, fmt.Errorf("memscreen: engine: embedding backend: %w", err)
	}
	embed := embedding.New(embedBackend, nil)

	llmBackend, err := newLLMBackend(cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("memscreen: engine: llm backend: %w", err)
	}
	llmClient := llm.New(llmBackend)

	var mllmClient *llm.Client
	if cfg.MLLM != nil {
		mllmBackend, err := newLLMBackend(*cfg.MLLM)
		if err != nil {
			return nil, fmt.Errorf("memscreen: engine: mllm backend: %w", err)
		}
		mllmClient = llm.New(mllmBackend)
	}

	store, err := newVectorStore(ctx, cfg.VectorStore, cfg.Embedder.EmbeddingDims)
	if err != nil {
		return nil, fmt.Errorf("memscreen: engine: vector store: %w", err)
	}

	histLog, err := history.New(ctx, history.Config{Path: cfg.HistoryDBPath})
	if err != nil {
		return nil, fmt.Errorf("memscreen: engine: history log: %w", err)
	}

	scorer := scoring.NewScorer(scoring.NewConfig())

	conflicts := conflict.New(llmClient, conflict.Config{EnableLLMCheck: true})

	tieredMgr := tiered.New(store, embed, llmClient, scorer, tiered.Config{
		AutoCompress: true,
	})
	if err := tieredMgr.Warm(ctx); err != nil {
		histLog.Close(ctx)
		return nil, fmt.Errorf("memscreen: engine: warm tiered manager: %w", err)
	}
	stopSweep, err := tieredMgr.StartSweeping(ctx)
	if err != nil {
		histLog.Close(ctx)
		return nil, fmt.Errorf("memscreen: engine: start decay sweep: %w", err)
	}

	multimodal := vectorstore.NewMultimodalStore(store, nil)
	retriever := retrieval.New(embed, nil, multimodal, retrieval.Config{
		EnableQueryRewriting: true,
	})

	ingestPipeline := ingest.New(store, embed, llmClient, histLog, conflicts, tieredMgr, retriever, ingest.NoopGraphExtractor{}, ingest.Config{
		GraphFanoutEnabled: cfg.EnableGraph,
	})

	scope := memory.ScopeKey{UserID: userID}
	modelRouter := newModelTierRouter(cfg)
	r := router.New(retriever, ingestPipeline, llmClient, modelRouter, scope, nil, router.Config{})

	logger.Info("engine wired",
		zap.String("vector_store_provider", cfg.VectorStore.Provider),
		zap.String("embedder_provider", cfg.Embedder.Provider),
		zap.String("llm_provider", cfg.LLM.Provider),
		zap.Bool("graph_enabled", cfg.EnableGraph),
		zap.String("user_id", userID),
	)

	return &Engine{
		Config:    cfg,
		Logger:    logger,
		Store:     store,
		Embed:     embed,
		LLM:       llmClient,
		MLLM:      mllmClient,
		History:   histLog,
		Conflicts: conflicts,
		Tiered:    tieredMgr,
		Retrieval: retriever,
		Ingest:    ingestPipeline,
		Router:    r,
		stopSweep: stopSweep,
	}, nil
}

// Close stops the decay sweep and releases the history log's database
// handle. The vector store backends manage their own connections and are
// closed by their own constructors' callers where applicable.
func (e *Engine) Close(ctx context.Context) error {
	if e.stopSweep != nil {
		e.stopSweep()
	}
	if e.History != nil {
		return e.History.Close(ctx)
	}
	return nil
}

func newEmbeddingBackend(ctx context.Context, cfg config.EmbedderConfig) (embedding.Backend, error) {
	switch cfg.Provider {
	case "ollama":
		return embollama.New(ctx, embollama.Config{
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			Dimension: cfg.EmbeddingDims,
		})
	case "openai":
		return embopenai.New(embopenai.Config{
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			Dimension: cfg.EmbeddingDims,
		})
	default:
		return nil, fmt.Errorf("memscreen: engine: unknown embedder provider %q", cfg.Provider)
	}
}

func newLLMBackend(cfg config.LLMConfig) (llm.Backend, error) {
	switch cfg.Provider {
	case "ollama":
		return llmollama.New(llmollama.Config{
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
		})
	case "openai":
		return llmopenai.New(llmopenai.Config{
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
		})
	default:
		return nil, fmt.Errorf("memscreen: engine: unknown llm provider %q", cfg.Provider)
	}
}

func newVectorStore(ctx context.Context, cfg config.VectorStoreConfig, dimension int) (vectorstore.MemoryStore, error) {
	switch cfg.Provider {
	case "sqlitevec":
		return sqlitevec.New(ctx, sqlitevec.Config{
			Path:      cfg.Path,
			Table:     cfg.CollectionName,
			Dimension: dimension,
		})
	case "qdrant":
		client, err := qc.NewClient(&qc.Config{Host: cfg.Host, Port: cfg.Port})
		if err != nil {
			return nil, fmt.Errorf("memscreen: engine: qdrant client: %w", err)
		}
		return qdrant.New(ctx, qdrant.Config{
			Client:           client,
			CollectionName:   cfg.CollectionName,
			Dimension:        dimension,
			InitializeSchema: true,
		})
	default:
		return nil, fmt.Errorf("memscreen: engine: unknown vector store provider %q", cfg.Provider)
	}
}

func uuidGenerator() string {
	return uuid.NewString()
}

// newModelTierRouter registers the single configured LLM as the available
// candidate in every tier; when a vision MLLM is configured it is added as a
// second TierLarge candidate only, with Quality 0.9 so the LLM still ranks
// first. With only one concrete model configured per deployment (§6), there
// is no real multi-model roster to rank — PickModel still resolves cleanly
// to the LLM, and the tier classification itself remains useful for the
// complexity-aware prompt budgeting C2 callers apply.
func newModelTierRouter(cfg config.Config) *router.ModelTierRouter {
	candidate := router.ModelCandidate{Name: cfg.LLM.Model, Quality: 1.0, Available: true}
	tiers := map[router.Tier][]router.ModelCandidate{
		router.TierTiny:   {candidate},
		router.TierSmall:  {candidate},
		router.TierMedium: {candidate},
		router.TierLarge:  {candidate},
	}
	if cfg.MLLM != nil {
		vision := router.ModelCandidate{Name: cfg.MLLM.Model, Quality: 0.9, Available: true}
		tiers[router.TierLarge] = append(tiers[router.TierLarge], vision)
	}
	return router.NewModelTierRouter(tiers)
}
