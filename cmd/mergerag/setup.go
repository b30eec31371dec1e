package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nevindra/mergerag"
	"github.com/nevindra/mergerag/ingest"
	"github.com/nevindra/mergerag/internal/config"
	"github.com/nevindra/mergerag/observer"
	"github.com/nevindra/mergerag/provider/gemini"
	"github.com/nevindra/mergerag/store/postgres"
	"github.com/nevindra/mergerag/store/sqlite"
)

// setup opens every configured corpus and returns a router over those that
// opened. The returned func releases the store and flushes telemetry.
func setup(ctx context.Context, cfg config.Config, log *slog.Logger) (*mergerag.Router, func(), error) {
	var closers []func()
	shutdown := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	for section, p := range map[string]string{"llm": cfg.LLM.Provider, "embedding": cfg.Embedding.Provider, "router": cfg.Router.Provider} {
		if p != "gemini" {
			return nil, shutdown, fmt.Errorf("%s.provider %q: only gemini is supported", section, p)
		}
	}

	// 1. Providers
	var llm mergerag.Provider = gemini.New(cfg.LLM.APIKey, cfg.LLM.Model,
		gemini.WithTemperature(cfg.LLM.Temperature),
		gemini.WithLogger(log),
	)
	var routerLLM mergerag.Provider = gemini.New(cfg.Router.APIKey, cfg.Router.Model,
		gemini.WithTemperature(0),
		gemini.WithLogger(log),
	)
	var emb mergerag.EmbeddingProvider = gemini.NewEmbedding(cfg.Embedding.APIKey, cfg.Embedding.Model, cfg.Embedding.Dimensions)

	// 2. Observer (opt-in via config)
	var inst *observer.Instruments
	if cfg.Observer.Enabled {
		pricing := make(map[string]observer.ModelPricing, len(cfg.Observer.Pricing))
		for model, p := range cfg.Observer.Pricing {
			pricing[model] = observer.ModelPricing{InputPerMillion: p.Input, OutputPerMillion: p.Output}
		}
		var flush func(context.Context) error
		var err error
		inst, flush, err = observer.Init(ctx, cfg.Observer.ServiceName, pricing)
		if err != nil {
			return nil, shutdown, fmt.Errorf("observer: %w", err)
		}
		closers = append(closers, func() {
			if err := flush(context.Background()); err != nil {
				log.Warn("observer shutdown", "error", err)
			}
		})

		llm = observer.WrapProvider(llm, cfg.LLM.Model, inst)
		routerLLM = observer.WrapProvider(routerLLM, cfg.Router.Model, inst)
		emb = observer.WrapEmbedding(emb, cfg.Embedding.Model, inst)
		log.Info("OTEL observability enabled", "service", cfg.Observer.ServiceName)
	}

	retryOpts := []mergerag.RetryOption{mergerag.RetryMaxAttempts(cfg.LLM.MaxAttempts), mergerag.RetryLogger(log)}
	llm = mergerag.WithRetry(llm, retryOpts...)
	routerLLM = mergerag.WithRetry(routerLLM, retryOpts...)
	emb = mergerag.WithEmbeddingRetry(emb, mergerag.RetryMaxAttempts(cfg.Embedding.MaxAttempts), mergerag.RetryLogger(log))
	if cfg.LLM.RPM > 0 || cfg.LLM.TPM > 0 {
		llm = mergerag.WithRateLimit(llm, mergerag.RPM(cfg.LLM.RPM), mergerag.TPM(cfg.LLM.TPM))
		routerLLM = mergerag.WithRateLimit(routerLLM, mergerag.RPM(cfg.LLM.RPM), mergerag.TPM(cfg.LLM.TPM))
	}
	if cfg.Embedding.RPM > 0 || cfg.Embedding.TPM > 0 {
		emb = mergerag.WithEmbeddingRateLimit(emb, mergerag.RPM(cfg.Embedding.RPM), mergerag.TPM(cfg.Embedding.TPM))
	}

	// 3. Index store
	store, closeStore, err := openStore(ctx, cfg.Storage, log)
	if err != nil {
		return nil, shutdown, err
	}
	closers = append(closers, closeStore)

	// 4. Open corpora
	tok := newTokenizer(cfg.Chunking.Tokenizer)
	src := ingest.NewDirectorySource(
		ingest.WithExtensions(cfg.Chunking.Extensions...),
		ingest.WithSourceLogger(log),
	)
	indexer := ingest.NewIndexer(store, emb, src,
		ingest.WithChunkerOptions(
			ingest.WithLevelSizes(cfg.Chunking.LevelSizes...),
			ingest.WithOverlap(cfg.Chunking.Overlap),
			ingest.WithTokenizer(tok),
		),
		ingest.WithBatchSize(cfg.Embedding.BatchSize),
		ingest.WithLogger(log),
	)
	corpora, failures, err := indexer.OpenAll(ctx, corpusSpecs(cfg.Corpora))
	if err != nil {
		return nil, shutdown, err
	}
	for _, f := range failures {
		log.Warn("corpus unavailable", "corpus", f.CorpusID, "error", f.Err)
	}

	// 5. Engines + router
	table := mergerag.NewRouterTable()
	post := postprocessors(cfg.Retrieval, tok)
	for _, c := range corpora {
		var r mergerag.Retriever = c.NewRetriever(emb,
			mergerag.WithMergeThreshold(cfg.Retrieval.MergeThreshold),
			mergerag.WithRetrieverLogger(log),
		)
		if inst != nil {
			r = observer.WrapRetriever(r, c.ID, inst)
		}
		var e mergerag.Engine = mergerag.NewQueryEngine(r, mergerag.NewLLMAnswerer(llm),
			mergerag.WithTopK(cfg.Retrieval.TopK),
			mergerag.WithPostprocessors(post...),
			mergerag.WithEngineLogger(log.With("corpus", c.ID)),
		)
		if inst != nil {
			e = observer.WrapEngine(e, c.ID, inst)
		}
		if err := table.Add(c, e); err != nil {
			return nil, shutdown, err
		}
		log.Info("corpus ready", "corpus", c.ID, "state", c.State, "nodes", c.Nodes.Len())
	}

	rt := mergerag.NewRouter(table,
		mergerag.NewLLMSelector(routerLLM, cfg.Router.MaxSelections),
		mergerag.NewLLMSynthesizer(llm),
		mergerag.WithCorpusTimeout(cfg.Router.CorpusTimeout),
		mergerag.WithMaxConcurrency(cfg.Router.MaxConcurrency),
		mergerag.WithRouterLogger(log),
	)
	return rt, shutdown, nil
}

func openStore(ctx context.Context, cfg config.StorageConfig, log *slog.Logger) (mergerag.IndexStore, func(), error) {
	switch cfg.Backend {
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres: %w", err)
		}
		store := postgres.New(pool, postgres.WithLogger(log))
		if err := store.Init(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("postgres init: %w", err)
		}
		return store, pool.Close, nil
	default:
		return sqlite.New(cfg.Root, sqlite.WithLogger(log)), func() {}, nil
	}
}

func corpusSpecs(corpora []config.CorpusConfig) []mergerag.CorpusSpec {
	specs := make([]mergerag.CorpusSpec, len(corpora))
	for i, c := range corpora {
		specs[i] = mergerag.CorpusSpec{
			ID:           c.ID,
			Dir:          c.Dir,
			Description:  c.Description,
			Hierarchical: !c.Flat,
		}
	}
	return specs
}

func newTokenizer(name string) mergerag.Tokenizer {
	if strings.EqualFold(name, "word") {
		return mergerag.WordTokenizer{}
	}
	return mergerag.ApproxTokenizer{}
}

// postprocessors returns the score filter (when set) followed by the token
// budget (when set).
func postprocessors(cfg config.RetrievalConfig, tok mergerag.Tokenizer) []mergerag.Postprocessor {
	var ps []mergerag.Postprocessor
	if cfg.MinScore > 0 {
		ps = append(ps, mergerag.MinScore{Threshold: float32(cfg.MinScore)})
	}
	if cfg.TokenBudget > 0 {
		ps = append(ps, mergerag.NewTokenBudget(cfg.TokenBudget, tok))
	}
	return ps
}
